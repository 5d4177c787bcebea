package device

import (
	"math"
)

// Float32ToFloat16 converts a float32 to float16 (IEEE 754 binary16) representation.
// Values outside the FP16 range are clamped and subnormals flush to zero.
func Float32ToFloat16(f float32) uint16 {
	if math.IsNaN(float64(f)) {
		return 0x7E00 // FP16 NaN
	}
	if math.IsInf(float64(f), 1) {
		return 0x7C00
	}
	if math.IsInf(float64(f), -1) {
		return 0xFC00
	}

	const maxFP16 = 65504.0
	const minNormalFP16 = 6.10351562e-5

	if f > maxFP16 {
		f = maxFP16
	} else if f < -maxFP16 {
		f = -maxFP16
	}

	absF := f
	if absF < 0 {
		absF = -absF
	}
	if absF < minNormalFP16 && absF > 0 {
		if f < 0 {
			return 0x8000 // -0
		}
		return 0x0000
	}

	bits := math.Float32bits(f)
	sign := (bits >> 16) & 0x8000
	exp := int((bits>>23)&0xFF) - 127 + 15
	frac := (bits >> 13) & 0x3FF

	if exp >= 0x1F {
		return uint16(sign | 0x7BFF)
	}
	if exp <= 0 {
		return uint16(sign)
	}

	return uint16(sign | (uint32(exp) << 10) | frac)
}

// Float16ToFloat32 converts a float16 (uint16 representation) to a float32
func Float16ToFloat32(h uint16) float32 {
	sign := (uint32(h) >> 15) & 1
	exp := (uint32(h) >> 10) & 0x1F
	frac := uint32(h) & 0x3FF

	if exp == 0 { // Zero/Denorm
		if sign != 0 {
			return float32(math.Copysign(0, -1))
		}
		return 0
	}
	if exp == 31 { // Inf/NaN
		return math.Float32frombits((sign << 31) | (0xFF << 23) | (frac << 13))
	}

	newExp := exp - 15 + 127
	return math.Float32frombits((sign << 31) | (newExp << 23) | (frac << 13))
}

// EncodeFloat16 converts a vector to its FP16 transport representation.
func EncodeFloat16(src []float32) []uint16 {
	out := make([]uint16, len(src))
	for i, v := range src {
		out[i] = Float32ToFloat16(v)
	}
	return out
}
