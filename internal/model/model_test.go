package model

import (
	"math"
	"testing"

	"page-dewarp/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutLength(t *testing.T) {
	l := Layout{NumShape: 2, NumSpans: 4, NumKeypoints: 31}
	assert.Equal(t, 8+4+31, l.Len())
	assert.Equal(t, 8, l.SpanIndex(0))
	assert.Equal(t, 12, l.KeypointIndex(0))
	assert.Equal(t, l.Len()-1, l.KeypointIndex(30))
}

func TestViewPanicsOnLengthMismatch(t *testing.T) {
	l := Layout{NumShape: 2, NumSpans: 1, NumKeypoints: 2}
	assert.Panics(t, func() { View(l, make([]float64, 10)) })
	assert.NotPanics(t, func() { View(l, make([]float64, 11)) })
}

func TestClampShapeProjectsIntoBounds(t *testing.T) {
	l := Layout{NumShape: 2, NumSpans: 1, NumKeypoints: 1}
	pv := NewParameterVector(l)
	pv.Values[ShapeIndex] = 4.45
	pv.Values[ShapeIndex+1] = -0.3
	pv.Values[l.SpanIndex(0)] = 7

	before := CubicSheet{}.Height(pv.Shape(), 0.4, 0)
	assert.Equal(t, 1, pv.ClampShape())
	assert.Equal(t, []float64{ShapeLimit, -0.3}, pv.Shape())
	assert.Equal(t, 7.0, pv.Values[l.SpanIndex(0)])
	assert.Equal(t, before, CubicSheet{}.Height(pv.Shape(), 0.4, 0))
	assert.Equal(t, 0, pv.ClampShape())
}

func TestKeypointIndex(t *testing.T) {
	l := Layout{NumShape: 2, NumSpans: 2, NumKeypoints: 3}
	idx := NewKeypointIndex(l, []int{2, 1})
	require.Equal(t, 4, idx.Len())

	pv := NewParameterVector(l)
	pv.Values[l.SpanIndex(0)] = 0.1
	pv.Values[l.SpanIndex(1)] = 0.7
	pv.Values[l.KeypointIndex(0)] = 0.2
	pv.Values[l.KeypointIndex(1)] = 0.4
	pv.Values[l.KeypointIndex(2)] = 0.3

	pts := idx.PagePoints(pv.Values, nil)
	assert.Equal(t, []geometry.Point2D{{}, {X: 0.2, Y: 0.1}, {X: 0.4, Y: 0.1}, {X: 0.3, Y: 0.7}}, pts)
}

func TestCubicSheetEndpointsAndClamp(t *testing.T) {
	s := CubicSheet{}
	shape := []float64{0.3, -0.2}
	assert.InDelta(t, 0, s.Height(shape, 0, 0), 1e-15)
	assert.InDelta(t, 0, s.Height(shape, 1, 0), 1e-15)

	// Out-of-range parameters behave like the clamp limit.
	assert.Equal(t, s.Height([]float64{0.5, 0.5}, 0.3, 0), s.Height([]float64{4, 9}, 0.3, 0))
}

func TestBicubicIgnoresConstant(t *testing.T) {
	shape := make([]float64, 16)
	shape[0] = 0.4
	assert.Equal(t, 0.0, BicubicSurface{}.Height(shape, 0.3, 0.2))
	shape[1] = 0.5 // y term
	assert.InDelta(t, 0.1, BicubicSurface{}.Height(shape, 0.3, 0.2), 1e-12)
}

func TestRodriguesRoundTrip(t *testing.T) {
	cases := []geometry.Vec3{
		{},
		{X: 0.1, Y: -0.2, Z: 0.05},
		{X: 0, Y: 0, Z: 1.5},
		{X: math.Pi - 1e-9, Y: 0, Z: 0},
		{X: 0, Y: -math.Pi / math.Sqrt2, Z: math.Pi / math.Sqrt2},
	}
	for _, r := range cases {
		back := RotationToRvec(Rodrigues(r))
		// Compare rotations rather than vectors: r and -r are the same at θ = π.
		a, b := Rodrigues(r), Rodrigues(back)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				assert.InDelta(t, a[i][j], b[i][j], 1e-6, "rvec %+v", r)
			}
		}
	}
}

func TestRodriguesIsOrthonormal(t *testing.T) {
	m := Rodrigues(geometry.Vec3{X: 0.3, Y: 0.4, Z: -0.5})
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1, m.Col(i).Norm(), 1e-12)
	}
	assert.InDelta(t, 0, m.Col(0).Dot(m.Col(1)), 1e-12)
}

func TestProjectFlatPageIdentityPose(t *testing.T) {
	l := Layout{NumShape: 2}
	pv := NewParameterVector(l)
	pv.SetTvec(geometry.Vec3{X: -0.5, Y: -0.7, Z: 1.2})

	p := Projector{Surface: CubicSheet{}, Focal: 1.2}
	got := p.Project(*pv, []geometry.Point2D{{X: 0, Y: 0}, {X: 0.25, Y: 0.5}}, nil)
	assert.InDelta(t, -0.5, got[0].X, 1e-12)
	assert.InDelta(t, -0.7, got[0].Y, 1e-12)
	assert.InDelta(t, -0.25, got[1].X, 1e-12)
	assert.InDelta(t, -0.2, got[1].Y, 1e-12)
}

func TestProjectBehindCameraIsNotFinite(t *testing.T) {
	pv := NewParameterVector(Layout{NumShape: 2})
	p := Projector{Surface: CubicSheet{}, Focal: 1.2}
	pt := p.ProjectPoint(*pv, geometry.Point2D{X: 0.1})
	assert.False(t, pt.IsFinite())

	err := SquaredError([]geometry.Point2D{{}}, []geometry.Point2D{{X: math.NaN()}})
	assert.True(t, math.IsInf(err, 1))
}
