package pose

import (
	"testing"

	"page-dewarp/internal/model"
	"page-dewarp/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func project(t *testing.T, p Pose, focal float64, obj []geometry.Point2D) []geometry.Point2D {
	t.Helper()
	pv := model.NewParameterVector(model.Layout{NumShape: 2})
	pv.SetRvec(p.Rvec)
	pv.SetTvec(p.Tvec)
	proj := model.Projector{Surface: model.CubicSheet{}, Focal: focal}
	return proj.Project(*pv, obj, nil)
}

func pageCorners(w, h float64) []geometry.Point2D {
	return []geometry.Point2D{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
}

func TestEstimateRecoversPose(t *testing.T) {
	cases := []Pose{
		{Tvec: geometry.Vec3{X: -0.6, Y: -0.8, Z: 1.2}},
		{Rvec: geometry.Vec3{X: 0.1, Y: -0.15, Z: 0.05}, Tvec: geometry.Vec3{X: -0.5, Y: -0.7, Z: 1.4}},
		{Rvec: geometry.Vec3{X: -0.2, Y: 0.05, Z: -0.3}, Tvec: geometry.Vec3{X: -0.3, Y: -0.6, Z: 2}},
	}
	obj := pageCorners(1.1, 1.5)
	for _, want := range cases {
		img := project(t, want, 1.2, obj)
		got, err := Estimate(obj, img, 1.2)
		require.NoError(t, err)

		assert.InDelta(t, want.Rvec.X, got.Rvec.X, 1e-6)
		assert.InDelta(t, want.Rvec.Y, got.Rvec.Y, 1e-6)
		assert.InDelta(t, want.Rvec.Z, got.Rvec.Z, 1e-6)
		assert.InDelta(t, want.Tvec.X, got.Tvec.X, 1e-6)
		assert.InDelta(t, want.Tvec.Y, got.Tvec.Y, 1e-6)
		assert.InDelta(t, want.Tvec.Z, got.Tvec.Z, 1e-6)

		back := project(t, got, 1.2, obj)
		for i := range img {
			assert.InDelta(t, img[i].X, back[i].X, 1e-9)
			assert.InDelta(t, img[i].Y, back[i].Y, 1e-9)
		}
	}
}

func TestHomographyMapsCorners(t *testing.T) {
	obj := pageCorners(2, 1)
	img := []geometry.Point2D{{X: 10, Y: 12}, {X: 205, Y: 20}, {X: 198, Y: 118}, {X: 8, Y: 105}}
	h, err := Homography(obj, img)
	require.NoError(t, err)
	for i, p := range obj {
		v := h.MulVec(geometry.Vec3{X: p.X, Y: p.Y, Z: 1})
		assert.InDelta(t, img[i].X, v.X/v.Z, 1e-8)
		assert.InDelta(t, img[i].Y, v.Y/v.Z, 1e-8)
	}
}

func TestEstimateRejectsDegenerateCorners(t *testing.T) {
	obj := pageCorners(1, 1)

	collinear := []geometry.Point2D{{X: 0, Y: 0}, {X: 0.1, Y: 0.1}, {X: 0.2, Y: 0.2}, {X: 0.3, Y: 0.3}}
	_, err := Estimate(obj, collinear, 1.2)
	assert.ErrorIs(t, err, ErrDegenerate)

	coincident := []geometry.Point2D{{X: 0.2, Y: 0.2}, {X: 0.2, Y: 0.2}, {X: 0.2, Y: 0.2}, {X: 0.2, Y: 0.2}}
	_, err = Estimate(obj, coincident, 1.2)
	assert.ErrorIs(t, err, ErrDegenerate)

	_, err = Estimate(obj[:3], obj[:3], 1.2)
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestEstimateRejectsBadFocal(t *testing.T) {
	obj := pageCorners(1, 1)
	_, err := Estimate(obj, obj, 0)
	assert.Error(t, err)
}
