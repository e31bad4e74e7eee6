package dewarp

import (
	"image"
	"math"
	"testing"

	"page-dewarp/internal/imgbuf"
	"page-dewarp/internal/model"
	"page-dewarp/internal/vision"
	"page-dewarp/internal/vision/goops"
	"page-dewarp/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(x, y, w, h int) vision.Blob {
	m := imgbuf.NewGray(w, h)
	for i := range m.Pix {
		m.Pix[i] = 1
	}
	return vision.Blob{Rect: image.Rect(x, y, x+w, y+h), Mask: m}
}

func contour(t *testing.T, b vision.Blob) contourInfo {
	t.Helper()
	ci, ok := newContourInfo(b)
	require.True(t, ok)
	return ci
}

func TestPixNormRoundTrip(t *testing.T) {
	p := geometry.Point2D{X: 123.5, Y: 987.25}
	n := pix2norm(1000, 1400, p)
	back := norm2pix(1000, 1400, n)
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)

	// The longer side maps to [-1, 1].
	assert.InDelta(t, -1, pix2norm(1000, 1400, geometry.Point2D{X: 500, Y: 0}).Y, 1e-12)
	assert.InDelta(t, 1, pix2norm(1000, 1400, geometry.Point2D{X: 500, Y: 1400}).Y, 1e-12)
}

func TestRoundMultiple(t *testing.T) {
	assert.Equal(t, 1360, roundMultiple(1360, 16))
	assert.Equal(t, 1360, roundMultiple(1359.9999, 16))
	assert.Equal(t, 1360, roundMultiple(1360.0001, 16))
	assert.Equal(t, 912, roundMultiple(900, 16))
	assert.Equal(t, 16, roundMultiple(0.2, 16))
	assert.Equal(t, 16, roundMultiple(math.NaN(), 16))
}

func TestPrincipalAxis(t *testing.T) {
	assert.Equal(t, geometry.Point2D{X: 1}, principalAxis(4, 0, 1))
	assert.Equal(t, geometry.Point2D{Y: 1}, principalAxis(1, 0, 4))

	v := principalAxis(2, 1, 2) // eigenvector (1, 1)/√2
	assert.InDelta(t, math.Sqrt2/2, v.X, 1e-12)
	assert.InDelta(t, math.Sqrt2/2, v.Y, 1e-12)

	v = principalAxis(2, -1, 2)
	assert.Greater(t, v.X, 0.0)
	assert.InDelta(t, -math.Sqrt2/2, v.Y, 1e-12)
}

func TestContourInfoGeometry(t *testing.T) {
	ci := contour(t, bar(100, 50, 100, 6))
	assert.InDelta(t, 149.5, ci.center.X, 1e-9)
	assert.InDelta(t, 52.5, ci.center.Y, 1e-9)
	assert.InDelta(t, 0, ci.angle, 1e-12)
	assert.InDelta(t, 99, ci.width(), 1e-9)
	assert.InDelta(t, 100, ci.point0.X, 1e-9)
	assert.InDelta(t, 199, ci.point1.X, 1e-9)
	assert.Equal(t, -1, ci.pred)
	assert.Equal(t, -1, ci.succ)
}

func TestFindContoursFilters(t *testing.T) {
	mask := imgbuf.NewGray(300, 200)
	mask.FillRect(image.Rect(10, 10, 110, 16), 255) // text-like
	mask.FillRect(image.Rect(10, 40, 20, 46), 255)  // too narrow
	mask.FillRect(image.Rect(10, 80, 35, 100), 255) // aspect too low
	mask.FillRect(image.Rect(10, 150, 200, 170), 255)

	cs := findContours(goops.New(), mask, DefaultConfig())
	require.Len(t, cs, 1)
	assert.Equal(t, image.Rect(10, 10, 110, 16), cs[0].rect)
}

func TestPageMask(t *testing.T) {
	mask, outline := pageMask(100, 80, 10, 5)
	assert.Equal(t, 81*71, mask.CountNonZero())
	assert.Equal(t, []geometry.Point2D{{X: 10, Y: 5}, {X: 10, Y: 75}, {X: 90, Y: 75}, {X: 90, Y: 5}}, outline)
}

func TestPageMaskCrossedMarginsIsEmpty(t *testing.T) {
	mask, outline := pageMask(60, 700, 50, 10)
	assert.Equal(t, 0, mask.CountNonZero())
	bb := geometry.BoundingBox(outline)
	assert.Equal(t, 0.0, bb.Width)
	assert.GreaterOrEqual(t, bb.Height, 0.0)
}

func TestMaxColumnThickness(t *testing.T) {
	m := imgbuf.NewGray(4, 12)
	m.FillRect(image.Rect(0, 0, 4, 3), 1)
	m.FillRect(image.Rect(2, 0, 3, 11), 1)
	assert.Equal(t, 11, maxColumnThickness(m))
}

func TestAssembleSpansLinksCollinearContours(t *testing.T) {
	cfg := DefaultConfig()
	cs := []contourInfo{
		contour(t, bar(220, 50, 100, 6)),
		contour(t, bar(100, 150, 100, 6)),
		contour(t, bar(100, 50, 100, 6)),
	}
	spans := assembleSpans(cs, cfg)
	require.Len(t, spans, 2)

	// Sorted by top edge, then linked left to right.
	require.Len(t, spans[0], 2)
	assert.Equal(t, 100, cs[spans[0][0]].rect.Min.X)
	assert.Equal(t, 220, cs[spans[0][1]].rect.Min.X)
	assert.Equal(t, spans[0][1], cs[spans[0][0]].succ)
	assert.Equal(t, spans[0][0], cs[spans[0][1]].pred)

	require.Len(t, spans[1], 1)
	assert.Equal(t, 150, cs[spans[1][0]].rect.Min.Y)
}

func TestAssembleSpansRejectsDistantAndSkewedPairs(t *testing.T) {
	cfg := DefaultConfig()
	cs := []contourInfo{
		contour(t, bar(100, 50, 100, 6)),
		contour(t, bar(400, 50, 100, 6)), // gap of 201 px
		contour(t, bar(210, 80, 100, 6)), // 30 px below, angle too steep
	}
	spans := assembleSpans(cs, cfg)
	assert.Len(t, spans, 3)
}

func TestAssembleSpansDropsNarrowSpans(t *testing.T) {
	cfg := DefaultConfig()
	cs := []contourInfo{
		contour(t, bar(100, 50, 20, 4)),
		contour(t, bar(100, 150, 100, 6)),
	}
	spans := assembleSpans(cs, cfg)
	require.Len(t, spans, 1)
	assert.Equal(t, 150, cs[spans[0][0]].rect.Min.Y)
}

func TestAssembleSpansKeepsSpanAtMinimumWidth(t *testing.T) {
	cfg := DefaultConfig()
	cs := []contourInfo{
		contour(t, bar(100, 50, 31, 4)),  // projected width 30
		contour(t, bar(100, 150, 30, 4)), // projected width 29
	}
	require.InDelta(t, cfg.SpanMinWidth, cs[0].width(), 1e-9)
	spans := assembleSpans(cs, cfg)
	require.Len(t, spans, 1)
	assert.Equal(t, 50, cs[spans[0][0]].rect.Min.Y)
}

func TestAssembleSpansChainsAreDisjointAndAcyclic(t *testing.T) {
	cfg := DefaultConfig()
	var cs []contourInfo
	for row := 0; row < 4; row++ {
		for col := 0; col < 5; col++ {
			cs = append(cs, contour(t, bar(50+col*70, 40+row*40+col%2, 60, 5)))
		}
	}
	spans := assembleSpans(cs, cfg)

	seen := map[int]bool{}
	for _, s := range spans {
		for _, k := range s {
			assert.False(t, seen[k], "contour %d in two spans", k)
			seen[k] = true
		}
	}
	for i := range cs {
		steps := 0
		for k := i; k != -1; k = cs[k].succ {
			steps++
			require.LessOrEqual(t, steps, len(cs), "cycle from %d", i)
		}
	}
	assert.Len(t, spans, 4)
}

func TestSampleSpansDropsShortSpans(t *testing.T) {
	cs := []contourInfo{
		contour(t, bar(100, 50, 15, 4)),   // one sample column at stride 20
		contour(t, bar(100, 150, 101, 4)), // columns 0, 20, ..., 100
	}
	samples, dropped := sampleSpans(cs, []span{{0}, {1}}, 400, 300, 20)
	assert.Equal(t, 1, dropped)
	require.Len(t, samples, 1)
	assert.Len(t, samples[0], 6)

	want := pix2norm(400, 300, geometry.Point2D{X: 100, Y: 151.5})
	assert.InDelta(t, want.X, samples[0][0].X, 1e-12)
	assert.InDelta(t, want.Y, samples[0][0].Y, 1e-12)
}

func TestKeypointsFromSamplesAxisAligned(t *testing.T) {
	samples := [][]geometry.Point2D{
		{{X: -0.5, Y: -0.4}, {X: 0, Y: -0.4}, {X: 0.5, Y: -0.4}},
		{{X: -0.4, Y: 0.2}, {X: 0.4, Y: 0.2}},
	}
	outline := []geometry.Point2D{{X: -0.8, Y: -0.9}, {X: -0.8, Y: 0.9}, {X: 0.8, Y: 0.9}, {X: 0.8, Y: -0.9}}
	kp := keypointsFromSamples(samples, outline)

	assert.InDelta(t, 1, kp.xDir.X, 1e-12)
	assert.InDelta(t, 0, kp.xDir.Y, 1e-12)
	assert.InDelta(t, -0.8, kp.corners[0].X, 1e-12)
	assert.InDelta(t, -0.9, kp.corners[0].Y, 1e-12)
	assert.InDelta(t, 0.8, kp.corners[2].X, 1e-12)
	assert.InDelta(t, 0.9, kp.corners[2].Y, 1e-12)

	assert.InDelta(t, 0.5, kp.ycoords[0], 1e-12)
	assert.InDelta(t, 1.1, kp.ycoords[1], 1e-12)
	assert.InDelta(t, 0.3, kp.xcoords[0][0], 1e-12)
	assert.InDelta(t, 1.2, kp.xcoords[1][1], 1e-12)

	dims := kp.roughDims()
	assert.InDelta(t, 1.6, dims.Width, 1e-12)
	assert.InDelta(t, 1.8, dims.Height, 1e-12)

	layout, counts := layoutFor(samples, model.CubicSheet{})
	assert.Equal(t, []int{3, 2}, counts)
	assert.Equal(t, 8+2+5, layout.Len())
	assert.Len(t, observedPoints(kp, samples), 6)
}

func TestOutputSize(t *testing.T) {
	w, h, err := outputSize(geometry.Size{Width: 900.0 / 700, Height: 1360.0 / 700}, 1400, 1, 16)
	require.NoError(t, err)
	assert.Equal(t, 912, w)
	assert.Equal(t, 1360, h)

	w, h, err = outputSize(geometry.Size{Width: 900.0 / 700, Height: 1360.0 / 700}, 1400, 0.5, 16)
	require.NoError(t, err)
	assert.Equal(t, 464, w)
	assert.Equal(t, 688, h)

	_, _, err = outputSize(geometry.Size{Width: 1, Height: math.Inf(1)}, 1400, 1, 16)
	assert.Error(t, err)
}

func TestSolvePageDimsFallsBack(t *testing.T) {
	proj := model.Projector{Surface: model.CubicSheet{}, Focal: 1.2}
	pv := model.NewParameterVector(model.Layout{NumShape: 2})
	pv.SetTvec(geometry.Vec3{X: -0.5, Y: -0.7, Z: 1.2})
	rough := geometry.Size{Width: 1, Height: 1.4}

	// The target is reachable: (0.4, 0.6) is page point (0.9, 1.3).
	dr := solvePageDims(proj, *pv, geometry.Point2D{X: 0.4, Y: 0.6}, rough, 100, 1e-10)
	require.False(t, dr.fellBack)
	assert.InDelta(t, 0.9, dr.dims.Width, 1e-4)
	assert.InDelta(t, 1.3, dr.dims.Height, 1e-4)

	// Points above and left of the origin need negative dims.
	dr = solvePageDims(proj, *pv, geometry.Point2D{X: -0.9, Y: -0.9}, rough, 100, 1e-10)
	assert.True(t, dr.fellBack)
	assert.Equal(t, rough, dr.dims)
}

func TestDimsAgree(t *testing.T) {
	rough := geometry.Size{Width: 1.286, Height: 1.943}
	assert.True(t, dimsAgree(rough, rough))
	assert.True(t, dimsAgree(geometry.Size{Width: 1.5, Height: 2.1}, rough))
	// A saturated fit that turns a portrait page into a wide strip.
	assert.False(t, dimsAgree(geometry.Size{Width: 4.349, Height: 1.026}, rough))
	assert.False(t, dimsAgree(geometry.Size{Width: 1.286, Height: 0.9}, rough))
	assert.True(t, dimsAgree(geometry.Size{Width: 3, Height: 3}, geometry.Size{}))
}

func TestSolvePageDimsRejectsImplausibleFit(t *testing.T) {
	proj := model.Projector{Surface: model.CubicSheet{}, Focal: 1.2}
	pv := model.NewParameterVector(model.Layout{NumShape: 2})
	pv.SetTvec(geometry.Vec3{X: -0.5, Y: -0.7, Z: 1.2})

	// The target is reachable at (0.9, 1.3), far from a tiny rough guess.
	rough := geometry.Size{Width: 0.3, Height: 0.4}
	dr := solvePageDims(proj, *pv, geometry.Point2D{X: 0.4, Y: 0.6}, rough, 100, 1e-10)
	assert.True(t, dr.fellBack)
	assert.Equal(t, rough, dr.dims)
	require.Error(t, dr.err)
	assert.Contains(t, dr.err.Error(), "disagree")
}
