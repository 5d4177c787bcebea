package equivariant

import (
	"fmt"

	"github.com/23skdu/longbow-helix/internal/device"
)

// RC applies the strand swap to an equivariant tensor: every sequence is
// reversed along its tokens and every row along its channels.
// The result is a new pooled tensor.
func RC(backend device.Backend, x device.Tensor, lengths []int) device.Tensor {
	rows := x.FlipRows(lengths)
	out := rows.FlipCols()
	backend.PutTensor(rows)
	return out
}

// concatRC returns [fwd | RC(rev)] and releases rev.
func concatRC(backend device.Backend, fwd, rev device.Tensor, lengths []int) device.Tensor {
	flipped := RC(backend, rev, lengths)
	backend.PutTensor(rev)
	out := fwd.ConcatCols(flipped)
	backend.PutTensor(flipped)
	return out
}

// splitHalves returns copies of the forward and reverse channel halves of x.
func splitHalves(x device.Tensor) (device.Tensor, device.Tensor) {
	r, c := x.Dims()
	if c%2 != 0 {
		panic(fmt.Sprintf("equivariant: channel count %d is not even", c))
	}
	half := c / 2
	return x.Slice(0, r, 0, half), x.Slice(0, r, half, c)
}

func mustEven(name string, dim int) {
	if dim <= 0 || dim%2 != 0 {
		panic(fmt.Sprintf("equivariant: %s must be even, got %d", name, dim))
	}
}
