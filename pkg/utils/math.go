package utils

import "math"

// NormalizeL2 scales x in place to unit length and returns the original length. The sum of
// squares is accumulated in float64, so vectors whose float32 square would overflow still
// normalize. A zero or non-finite length leaves x untouched.
func NormalizeL2(x []float32) float64 {
	var sq float64
	for _, v := range x {
		f := float64(v)
		sq += f * f
	}
	length := math.Sqrt(sq)
	if length == 0 || math.IsInf(length, 0) || math.IsNaN(length) {
		return length
	}
	for i, v := range x {
		x[i] = float32(float64(v) / length)
	}
	return length
}
