package equivariant

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/nn"
)

// NormWrapper is the add-and-normalize step of a pre-norm residual stack,
// run on both strands with the same normalization parameters.
//
// Without a projection the normalized output and the residual are both
// twice the input width. With a projection (NewNormWrapperKeepDim) the
// summed residual of each strand is projected c -> c/2 (no bias) before
// normalizing, so the residual stream keeps width c across layers.
type NormWrapper struct {
	Backend device.Backend
	Norm    nn.Norm
	ResProj *nn.Linear // optional, no bias
}

// NewNormWrapper wraps norm, which must normalize rows of the input width.
func NewNormWrapper(norm nn.Norm, backend device.Backend) *NormWrapper {
	return &NormWrapper{Backend: backend, Norm: norm}
}

// NewNormWrapperKeepDim wraps norm for inputs of width dim. dim must be even
// and norm must normalize rows of width dim/2.
func NewNormWrapperKeepDim(norm nn.Norm, dim int, backend device.Backend, rng *rand.Rand) *NormWrapper {
	mustEven("dim", dim)
	if norm.Dim() != dim/2 {
		panic(fmt.Sprintf("equivariant: norm width %d does not match dim/2 = %d", norm.Dim(), dim/2))
	}
	return &NormWrapper{
		Backend: backend,
		Norm:    norm,
		ResProj: nn.NewLinearXavier(dim, dim/2, false, backend, rng),
	}
}

// Forward returns the normalized output and the residual to carry into the
// next layer. residual may be nil. Neither input is modified.
func (w *NormWrapper) Forward(x, residual device.Tensor, lengths []int) (device.Tensor, device.Tensor) {
	layer := "add_norm"
	if w.ResProj != nil {
		layer = "add_norm_keepdim"
	}
	defer observe(layer, w.Backend.Name(), time.Now())

	resFwd := device.Clone(x)
	if residual != nil {
		resFwd.Add(residual)
	}
	resFwd = w.project(resFwd)

	resRC := RC(w.Backend, x, lengths)
	if residual != nil {
		rcResidual := RC(w.Backend, residual, lengths)
		resRC.Add(rcResidual)
		w.Backend.PutTensor(rcResidual)
	}
	resRC = w.project(resRC)

	xFwd := w.Norm.Forward(device.Clone(resFwd))
	xRC := w.Norm.Forward(device.Clone(resRC))

	out := concatRC(w.Backend, xFwd, xRC, lengths)
	w.Backend.PutTensor(xFwd)

	newResidual := concatRC(w.Backend, resFwd, resRC, lengths)
	w.Backend.PutTensor(resFwd)

	return out, newResidual
}

func (w *NormWrapper) project(t device.Tensor) device.Tensor {
	if w.ResProj == nil {
		return t
	}
	out := w.ResProj.Project(t)
	w.Backend.PutTensor(t)
	return out
}
