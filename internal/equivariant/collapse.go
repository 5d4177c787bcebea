package equivariant

import (
	"time"

	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/nn"
)

// Collapse reduces an equivariant tensor to half width by averaging the
// forward half with the strand-swapped reverse half. The result is
// identical for an input and its strand swap. No parameters.
type Collapse struct {
	Backend device.Backend
}

var _ nn.Module = (*Collapse)(nil)

func NewCollapse(backend device.Backend) *Collapse {
	return &Collapse{Backend: backend}
}

func (c *Collapse) Forward(x device.Tensor, lengths []int) device.Tensor {
	defer observe("collapse", c.Backend.Name(), time.Now())

	fwd, rev := splitHalves(x)
	swapped := RC(c.Backend, rev, lengths)
	c.Backend.PutTensor(rev)

	fwd.Add(swapped)
	c.Backend.PutTensor(swapped)
	fwd.Scale(0.5)
	return fwd
}
