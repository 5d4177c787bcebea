package nn

import (
	"github.com/23skdu/longbow-helix/internal/device"
)

// LayerNorm implements Layer Normalization.
type LayerNorm struct {
	Gamma device.Tensor
	Beta  device.Tensor
	Eps   float32
}

func NewLayerNorm(size int, eps float32, backend device.Backend) *LayerNorm {
	ones := make([]float32, size)
	for i := range ones {
		ones[i] = 1.0
	}

	return &LayerNorm{
		Gamma: backend.NewTensor(1, size, ones),
		Beta:  backend.NewTensor(1, size, nil),
		Eps:   eps,
	}
}

// Forward performs LayerNorm in-place.
func (l *LayerNorm) Forward(input device.Tensor) device.Tensor {
	input.LayerNorm(l.Gamma, l.Beta, l.Eps)
	return input
}

func (l *LayerNorm) Dim() int {
	_, c := l.Gamma.Dims()
	return c
}

// RMSNorm scales each row by its root mean square. No bias.
type RMSNorm struct {
	Gamma device.Tensor
	Eps   float32
}

func NewRMSNorm(size int, eps float32, backend device.Backend) *RMSNorm {
	ones := make([]float32, size)
	for i := range ones {
		ones[i] = 1.0
	}
	return &RMSNorm{
		Gamma: backend.NewTensor(1, size, ones),
		Eps:   eps,
	}
}

// Forward performs RMSNorm in-place.
func (r *RMSNorm) Forward(input device.Tensor) device.Tensor {
	input.RMSNorm(r.Gamma, r.Eps)
	return input
}

func (r *RMSNorm) Dim() int {
	_, c := r.Gamma.Dims()
	return c
}
