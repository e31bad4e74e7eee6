package model

import (
	"math"

	"page-dewarp/pkg/geometry"
)

// Mat3 is a row-major 3×3 matrix.
type Mat3 [3][3]float64

// MulVec returns m·v.
func (m Mat3) MulVec(v geometry.Vec3) geometry.Vec3 {
	return geometry.Vec3{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Col returns column j.
func (m Mat3) Col(j int) geometry.Vec3 {
	return geometry.Vec3{X: m[0][j], Y: m[1][j], Z: m[2][j]}
}

// Rodrigues expands an axis-angle vector into a rotation matrix.
func Rodrigues(r geometry.Vec3) Mat3 {
	theta := r.Norm()
	if theta < 1e-12 {
		// First order: I + [r]x
		return Mat3{
			{1, -r.Z, r.Y},
			{r.Z, 1, -r.X},
			{-r.Y, r.X, 1},
		}
	}
	k := r.Scale(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c
	return Mat3{
		{c + t*k.X*k.X, t*k.X*k.Y - s*k.Z, t*k.X*k.Z + s*k.Y},
		{t*k.Y*k.X + s*k.Z, c + t*k.Y*k.Y, t*k.Y*k.Z - s*k.X},
		{t*k.Z*k.X - s*k.Y, t*k.Z*k.Y + s*k.X, c + t*k.Z*k.Z},
	}
}

// RotationToRvec converts a rotation matrix to an axis-angle vector,
// handling the θ ≈ 0 and θ ≈ π cases separately.
func RotationToRvec(m Mat3) geometry.Vec3 {
	rx := m[2][1] - m[1][2]
	ry := m[0][2] - m[2][0]
	rz := m[1][0] - m[0][1]

	s := math.Sqrt((rx*rx + ry*ry + rz*rz) * 0.25)
	c := (m[0][0] + m[1][1] + m[2][2] - 1) * 0.5
	c = math.Max(-1, math.Min(1, c))
	theta := math.Acos(c)

	if s < 1e-5 {
		if c > 0 {
			return geometry.Vec3{}
		}
		x := math.Sqrt(math.Max((m[0][0]+1)*0.5, 0))
		y := math.Sqrt(math.Max((m[1][1]+1)*0.5, 0))
		z := math.Sqrt(math.Max((m[2][2]+1)*0.5, 0))
		if m[0][1] < 0 {
			y = -y
		}
		if m[0][2] < 0 {
			z = -z
		}
		if math.Abs(x) < math.Abs(y) && math.Abs(x) < math.Abs(z) && (m[1][2] > 0) != (y*z > 0) {
			z = -z
		}
		v := geometry.Vec3{X: x, Y: y, Z: z}
		return v.Scale(theta / v.Norm())
	}

	scale := theta / (2 * s)
	return geometry.Vec3{X: rx * scale, Y: ry * scale, Z: rz * scale}
}

// Projector maps page coordinates through the surface, the pose and a
// pinhole camera with focal length Focal and principal point at the origin.
// It is the single bridge between a parameter vector and image coordinates;
// the optimizer, the dimension solver and the remapper all go through it.
type Projector struct {
	Surface Surface
	Focal   float64
}

// Project maps page points to normalized image coordinates, appending to dst.
// Points behind or on the camera plane produce non-finite coordinates.
func (p Projector) Project(pv ParameterVector, pts []geometry.Point2D, dst []geometry.Point2D) []geometry.Point2D {
	rot := Rodrigues(pv.Rvec())
	t := pv.Tvec()
	shape := pv.Shape()

	dst = dst[:0]
	for _, pt := range pts {
		dst = append(dst, p.project(rot, t, shape, pt))
	}
	return dst
}

// ProjectPoint maps a single page point.
func (p Projector) ProjectPoint(pv ParameterVector, pt geometry.Point2D) geometry.Point2D {
	return p.project(Rodrigues(pv.Rvec()), pv.Tvec(), pv.Shape(), pt)
}

func (p Projector) project(rot Mat3, t geometry.Vec3, shape []float64, pt geometry.Point2D) geometry.Point2D {
	obj := geometry.Vec3{X: pt.X, Y: pt.Y, Z: p.Surface.Height(shape, pt.X, pt.Y)}
	cam := rot.MulVec(obj).Add(t)
	if !(cam.Z > 0) {
		return geometry.Point2D{X: math.NaN(), Y: math.NaN()}
	}
	return geometry.Point2D{
		X: p.Focal * cam.X / cam.Z,
		Y: p.Focal * cam.Y / cam.Z,
	}
}

// SquaredError returns Σ|observed[i] - projected[i]|². Non-finite
// projections make the result +Inf.
func SquaredError(observed, projected []geometry.Point2D) float64 {
	var sum float64
	for i := range observed {
		dx := observed[i].X - projected[i].X
		dy := observed[i].Y - projected[i].Y
		sum += dx*dx + dy*dy
	}
	if math.IsNaN(sum) {
		return math.Inf(1)
	}
	return sum
}
