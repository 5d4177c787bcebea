// Package nn provides the plain building blocks that the reverse-complement
// wrappers compose: dense projections, normalization layers and the
// per-position mixers that can be wrapped.
package nn

import (
	"github.com/23skdu/longbow-helix/internal/device"
)

// Module transforms a stacked batch of sequences (tokens, channels) into
// (tokens, channels'). Implementations are pure given their own parameters
// and must not modify x. Forward should return a fresh tensor owned by the
// caller, who may hand it back to the backend pool.
//
// lengths describes how the rows of x split into sequences.
type Module interface {
	Forward(x device.Tensor, lengths []int) device.Tensor
}

// Norm is a per-token normalization with its own learned parameters.
// Forward normalizes x in-place and returns it.
type Norm interface {
	Forward(x device.Tensor) device.Tensor
	Dim() int
}

// ModuleFunc adapts an ordinary function to the Module interface.
type ModuleFunc func(x device.Tensor, lengths []int) device.Tensor

func (f ModuleFunc) Forward(x device.Tensor, lengths []int) device.Tensor {
	return f(x, lengths)
}

// Identity returns a copy of its input.
type Identity struct{}

func (Identity) Forward(x device.Tensor, _ []int) device.Tensor {
	return device.Clone(x)
}
