package dewarp

import (
	"math"

	"page-dewarp/pkg/geometry"
)

// pixScale is the factor from pixels to normalized units for a w×h image:
// the longer side spans [-1, 1].
func pixScale(w, h int) float64 {
	return 2 / float64(max(w, h))
}

// pix2norm maps pixel coordinates to normalized, origin-centered coordinates.
func pix2norm(w, h int, p geometry.Point2D) geometry.Point2D {
	s := pixScale(w, h)
	return geometry.Point2D{
		X: (p.X - 0.5*float64(w)) * s,
		Y: (p.Y - 0.5*float64(h)) * s,
	}
}

// norm2pix is the inverse of pix2norm.
func norm2pix(w, h int, p geometry.Point2D) geometry.Point2D {
	s := 0.5 * float64(max(w, h))
	return geometry.Point2D{
		X: p.X*s + 0.5*float64(w),
		Y: p.Y*s + 0.5*float64(h),
	}
}

// roundMultiple truncates v to an integer and rounds it up to a multiple
// of m, never returning less than m.
func roundMultiple(v float64, m int) int {
	if !(v > 0) || math.IsInf(v, 0) {
		return m
	}
	i := int(v)
	if r := i % m; r != 0 {
		i += m - r
	}
	return max(i, m)
}

// linspace returns n evenly spaced values from a to b inclusive.
func linspace(a, b float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = a
		return out
	}
	step := (b - a) / float64(n-1)
	for i := range out {
		out[i] = a + step*float64(i)
	}
	return out
}
