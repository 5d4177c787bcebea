package simd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVecAdd(t *testing.T) {
	dst := []float32{1, 2, 3, 4, 5}
	src := []float32{10, 20, 30, 40, 50}

	VecAdd(dst, src)

	require.Equal(t, []float32{11, 22, 33, 44, 55}, dst)
}

func TestVecAddScaled(t *testing.T) {
	dst := []float32{1, 2, 3, 4, 5}
	src := []float32{10, 20, 30, 40, 50}

	VecAddScaled(dst, src, 0.5)

	require.Equal(t, []float32{6, 12, 18, 24, 30}, dst)
}

func TestVecScale(t *testing.T) {
	dst := []float32{2, -4, 6}
	VecScale(dst, 0.5)
	require.Equal(t, []float32{1, -2, 3}, dst)
}

func TestVecReverse(t *testing.T) {
	src := []float32{1, 2, 3, 4, 5}
	dst := make([]float32, len(src))
	VecReverse(dst, src)
	require.Equal(t, []float32{5, 4, 3, 2, 1}, dst)
}

func TestDotProduct(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5}
	b := []float32{2, 3, 4, 5, 6}
	// 2 + 6 + 12 + 20 + 30 = 70
	require.Equal(t, float32(70), DotProduct(a, b))
}

func TestSoftmaxFast(t *testing.T) {
	row := []float32{1, 2, 3, 4}
	SoftmaxFast(row)

	var sum float32
	for i, v := range row {
		sum += v
		if i > 0 {
			require.Greater(t, v, row[i-1])
		}
	}
	require.InDelta(t, 1.0, sum, 1e-5)
}

func TestFastMath(t *testing.T) {
	tests := []struct {
		name string
		fn   func(float32) float32
		std  func(float64) float64
		tol  float64
	}{
		{"ExpFast", ExpFast, math.Exp, 0.05},
		{"TanhFast", TanhFast, math.Tanh, 0.05},
	}

	inputs := []float32{-10, -5, -2, -1, -0.5, 0, 0.5, 1, 2, 5, 10}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, x := range inputs {
				got := float64(tt.fn(x))
				want := tt.std(float64(x))

				diff := math.Abs(got - want)
				avg := math.Abs(want)
				if avg == 0 {
					avg = 1
				}
				relErr := diff / avg

				if diff > 0.001 && relErr > tt.tol {
					t.Errorf("%s(%f) = %f, want %f (diff %f, rel %f)", tt.name, x, got, want, diff, relErr)
				}
			}
		})
	}
}

// Benchmarks

func BenchmarkDotProduct(b *testing.B) {
	size := 128
	v1 := make([]float32, size)
	v2 := make([]float32, size)
	for i := range v1 {
		v1[i] = float32(i)
		v2[i] = float32(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DotProduct(v1, v2)
	}
}

func BenchmarkVecAdd(b *testing.B) {
	size := 128
	v1 := make([]float32, size)
	v2 := make([]float32, size)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		VecAdd(v1, v2)
	}
}

func BenchmarkExpFast(b *testing.B) {
	x := float32(0.5)
	for i := 0; i < b.N; i++ {
		ExpFast(x)
	}
}

func BenchmarkTanhFast(b *testing.B) {
	x := float32(0.5)
	for i := 0; i < b.N; i++ {
		TanhFast(x)
	}
}
