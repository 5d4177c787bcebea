package nn

import (
	"math/rand"

	"github.com/23skdu/longbow-helix/internal/device"
)

// Linear is a dense projection y = x * W + b.
// Weight is stored (in, out); Bias is a 1 x out row or nil.
type Linear struct {
	Backend device.Backend
	Weight  device.Tensor
	Bias    device.Tensor
}

// NewLinear allocates a zero-initialized projection.
func NewLinear(in, out int, bias bool, backend device.Backend) *Linear {
	l := &Linear{
		Backend: backend,
		Weight:  backend.NewTensor(in, out, nil),
	}
	if bias {
		l.Bias = backend.NewTensor(1, out, nil)
	}
	return l
}

// NewLinearXavier allocates a projection with Xavier weights and zero bias.
func NewLinearXavier(in, out int, bias bool, backend device.Backend, rng *rand.Rand) *Linear {
	l := NewLinear(in, out, bias, backend)
	XavierInit(l.Weight, rng)
	return l
}

// Dims returns (in, out).
func (l *Linear) Dims() (int, int) {
	return l.Weight.Dims()
}

// Project applies the projection to every row of x.
func (l *Linear) Project(x device.Tensor) device.Tensor {
	return x.Linear(x, l.Weight, l.Bias)
}

func (l *Linear) Forward(x device.Tensor, _ []int) device.Tensor {
	return l.Project(x)
}
