package model

import (
	"fmt"
	"math"
)

// ShapeLimit bounds every shape parameter. Surfaces clamp on evaluation and
// fitted vectors are projected back with ParameterVector.ClampShape.
const ShapeLimit = 0.5

// Surface models the page height z over page coordinates (x, y).
type Surface interface {
	// Name identifies the surface in configuration.
	Name() string
	// NumParams is the number of shape parameters the surface reads.
	NumParams() int
	// Height evaluates z at (x, y) for the given shape parameters.
	Height(shape []float64, x, y float64) float64
}

// NewSurface returns the surface registered under name.
func NewSurface(name string) (Surface, error) {
	switch name {
	case "", CubicSheet{}.Name():
		return CubicSheet{}, nil
	case BicubicSurface{}.Name():
		return BicubicSurface{}, nil
	}
	return nil, fmt.Errorf("unknown surface %q", name)
}

func clampShape(v float64) float64 {
	return math.Max(-ShapeLimit, math.Min(ShapeLimit, v))
}

// CubicSheet bends the page along x only:
// z(x) = p0·x³ + p1·x² + p2·x with p0 = a+b, p1 = -2a-b, p2 = a.
// The cubic is zero at x = 0 and x = 1 with slopes a and b there.
type CubicSheet struct{}

func (CubicSheet) Name() string   { return "cubic" }
func (CubicSheet) NumParams() int { return 2 }

// Coefficients returns (p0, p1, p2) for the clamped shape parameters.
func (CubicSheet) Coefficients(shape []float64) (p0, p1, p2 float64) {
	a, b := clampShape(shape[0]), clampShape(shape[1])
	return a + b, -2*a - b, a
}

func (s CubicSheet) Height(shape []float64, x, _ float64) float64 {
	p0, p1, p2 := s.Coefficients(shape)
	return ((p0*x+p1)*x + p2) * x
}

// BicubicSurface is a full bivariate cubic z = Σ c[i*4+j]·x^i·y^j over
// 16 coefficients. The constant term is ignored so the page origin stays on
// the z = 0 plane the pose was estimated for.
type BicubicSurface struct{}

func (BicubicSurface) Name() string   { return "bicubic" }
func (BicubicSurface) NumParams() int { return 16 }

func (BicubicSurface) Height(shape []float64, x, y float64) float64 {
	var z float64
	xp := 1.0
	for i := 0; i < 4; i++ {
		yp := 1.0
		for j := 0; j < 4; j++ {
			if i != 0 || j != 0 {
				z += clampShape(shape[i*4+j]) * xp * yp
			}
			yp *= y
		}
		xp *= x
	}
	return z
}
