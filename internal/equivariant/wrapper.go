package equivariant

import (
	"math/rand"
	"time"

	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/nn"
)

// Wrapper runs a submodule on the input and on its strand swap and
// concatenates both results, with the second swapped back.
//
// Without a projection the output is twice the submodule's output width.
// With a projection (NewWrapperKeepDim) each branch is first projected
// c -> c/2 by one shared linear map, so the output keeps width c.
type Wrapper struct {
	Backend   device.Backend
	Submodule nn.Module
	Proj      *nn.Linear // optional
}

var _ nn.Module = (*Wrapper)(nil)

// NewWrapper wraps submodule without a projection.
func NewWrapper(submodule nn.Module, backend device.Backend) *Wrapper {
	return &Wrapper{Backend: backend, Submodule: submodule}
}

// NewWrapperKeepDim wraps a submodule whose output width is dim and adds a
// shared dim -> dim/2 projection. dim must be even.
func NewWrapperKeepDim(submodule nn.Module, dim int, backend device.Backend, rng *rand.Rand) *Wrapper {
	mustEven("dim", dim)
	return &Wrapper{
		Backend:   backend,
		Submodule: submodule,
		Proj:      nn.NewLinearXavier(dim, dim/2, true, backend, rng),
	}
}

func (w *Wrapper) Forward(x device.Tensor, lengths []int) device.Tensor {
	layer := "wrapper"
	if w.Proj != nil {
		layer = "wrapper_keepdim"
	}
	defer observe(layer, w.Backend.Name(), time.Now())

	fwd := w.apply(x, lengths)

	swapped := RC(w.Backend, x, lengths)
	rev := w.apply(swapped, lengths)
	w.Backend.PutTensor(swapped)

	out := concatRC(w.Backend, fwd, rev, lengths)
	w.Backend.PutTensor(fwd)
	return out
}

// apply runs the submodule and projects its result. The returned tensor is
// always distinct from x, so it can be released without touching the input.
func (w *Wrapper) apply(x device.Tensor, lengths []int) device.Tensor {
	out := w.Submodule.Forward(x, lengths)
	if out == x {
		out = device.Clone(x)
	}
	return w.project(out)
}

func (w *Wrapper) project(t device.Tensor) device.Tensor {
	if w.Proj == nil {
		return t
	}
	out := w.Proj.Project(t)
	w.Backend.PutTensor(t)
	return out
}
