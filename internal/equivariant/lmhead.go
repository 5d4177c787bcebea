package equivariant

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/nn"
)

// LMHead turns a 2*trueDim equivariant hidden tensor into vocabulary logits.
//
// One bias-free (vocab, trueDim) weight scores both halves: the forward
// half directly, the reverse half after reversing its channels. The reverse
// logits are reversed along the vocabulary axis and added to the forward
// logits, so RC input yields logits reversed along tokens and vocabulary.
// That reversal equals complementing only when ComplementMap.Mirrored holds.
type LMHead struct {
	Backend device.Backend
	weight  device.Tensor // (vocab, trueDim)
	tied    bool
}

// NewLMHead creates a head that owns its weight.
func NewLMHead(trueDim, vocabSize int, backend device.Backend, rng *rand.Rand) *LMHead {
	h := &LMHead{
		Backend: backend,
		weight:  backend.NewTensor(vocabSize, trueDim, nil),
	}
	nn.XavierInit(h.weight, rng)
	return h
}

// NewTiedLMHead creates a head that shares weight with another module,
// typically Embedding.Weight(). The tensor is referenced, not copied.
func NewTiedLMHead(weight device.Tensor, backend device.Backend) *LMHead {
	return &LMHead{Backend: backend, weight: weight, tied: true}
}

// Weight returns the (vocab, trueDim) weight.
func (h *LMHead) Weight() device.Tensor {
	return h.weight
}

// Tied reports whether the weight is shared with another module.
func (h *LMHead) Tied() bool {
	return h.tied
}

// VocabSize returns the number of logits per token.
func (h *LMHead) VocabSize() int {
	v, _ := h.weight.Dims()
	return v
}

// Forward maps (tokens, 2*trueDim) to (tokens, vocab).
func (h *LMHead) Forward(x device.Tensor) device.Tensor {
	defer observe("lm_head", h.Backend.Name(), time.Now())

	_, trueDim := h.weight.Dims()
	_, c := x.Dims()
	if c != 2*trueDim {
		panic(fmt.Sprintf("equivariant: lm head expects %d channels, got %d", 2*trueDim, c))
	}

	fwd, rev := splitHalves(x)
	revFlipped := rev.FlipCols()
	h.Backend.PutTensor(rev)

	wt := h.weight.T()
	fwdLogits := fwd.Linear(fwd, wt, nil)
	revLogits := revFlipped.Linear(revFlipped, wt, nil)
	h.Backend.PutTensor(fwd)
	h.Backend.PutTensor(revFlipped)

	back := revLogits.FlipCols()
	h.Backend.PutTensor(revLogits)
	fwdLogits.Add(back)
	h.Backend.PutTensor(back)

	return fwdLogits
}
