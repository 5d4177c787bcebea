package nn

import (
	"math"
	"math/rand"

	"github.com/23skdu/longbow-helix/internal/device"
)

// XavierInit initializes a matrix with Xavier/Glorot uniform initialization.
func XavierInit(m device.Tensor, rng *rand.Rand) {
	r, c := m.Dims()
	limit := math.Sqrt(6.0 / float64(r+c))

	data := make([]float32, r*c)
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * limit)
	}

	m.CopyFromFloat32(data)
}

// NormalInit fills m with N(0, std^2) samples.
func NormalInit(m device.Tensor, std float64, rng *rand.Rand) {
	r, c := m.Dims()
	data := make([]float32, r*c)
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}
	m.CopyFromFloat32(data)
}
