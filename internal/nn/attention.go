package nn

import (
	"math"
	"math/rand"

	"github.com/23skdu/longbow-helix/internal/device"
)

// SelfAttention is bidirectional multi-head attention without positional
// encoding. Each sequence attends only to itself, so reversing the token
// order of a sequence reverses the output rows the same way.
type SelfAttention struct {
	Backend  device.Backend
	NumHeads int
	HeadSize int

	Query  *Linear
	Key    *Linear
	Value  *Linear
	Output *Linear
}

func NewSelfAttention(dim, numHeads int, backend device.Backend, rng *rand.Rand) *SelfAttention {
	if numHeads <= 0 || dim%numHeads != 0 {
		panic("nn: attention dim must be divisible by the number of heads")
	}
	return &SelfAttention{
		Backend:  backend,
		NumHeads: numHeads,
		HeadSize: dim / numHeads,
		Query:    NewLinearXavier(dim, dim, true, backend, rng),
		Key:      NewLinearXavier(dim, dim, true, backend, rng),
		Value:    NewLinearXavier(dim, dim, true, backend, rng),
		Output:   NewLinearXavier(dim, dim, true, backend, rng),
	}
}

func (s *SelfAttention) Forward(x device.Tensor, lengths []int) device.Tensor {
	r, _ := x.Dims()

	q := s.Query.Project(x)
	k := s.Key.Project(x)
	v := s.Value.Project(x)

	scale := float32(1.0 / math.Sqrt(float64(s.HeadSize)))

	var contextLayer device.Tensor
	for h := 0; h < s.NumHeads; h++ {
		lo, hi := h*s.HeadSize, (h+1)*s.HeadSize
		qh := q.Slice(0, r, lo, hi)
		kh := k.Slice(0, r, lo, hi)
		vh := v.Slice(0, r, lo, hi)

		head := qh.Attention(qh, kh, vh, lengths, scale)
		if contextLayer == nil {
			contextLayer = head
			continue
		}
		joined := contextLayer.ConcatCols(head)
		s.Backend.PutTensor(contextLayer)
		contextLayer = joined
	}

	s.Backend.PutTensor(q)
	s.Backend.PutTensor(k)
	s.Backend.PutTensor(v)

	out := s.Output.Project(contextLayer)
	s.Backend.PutTensor(contextLayer)
	return out
}
