package nn

import (
	"math/rand"

	"github.com/23skdu/longbow-helix/internal/device"
)

// MLP is a position-wise feed-forward block: Linear -> GELU -> Linear.
type MLP struct {
	Backend device.Backend
	Up      *Linear
	Down    *Linear
}

func NewMLP(in, hidden, out int, backend device.Backend, rng *rand.Rand) *MLP {
	return &MLP{
		Backend: backend,
		Up:      NewLinearXavier(in, hidden, true, backend, rng),
		Down:    NewLinearXavier(hidden, out, true, backend, rng),
	}
}

func (m *MLP) Forward(x device.Tensor, _ []int) device.Tensor {
	hidden := x.LinearActivation(x, m.Up.Weight, m.Up.Bias, device.ActivationGELU)
	out := m.Down.Project(hidden)
	m.Backend.PutTensor(hidden)
	return out
}
