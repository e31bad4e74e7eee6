package dewarp

import (
	"errors"
	"math"
	"strings"
	"testing"

	"page-dewarp/internal/imgbuf"
	"page-dewarp/internal/model"
	"page-dewarp/internal/optimize"
	"page-dewarp/internal/synth"
	"page-dewarp/internal/vision"
	"page-dewarp/internal/vision/goops"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingOps records how often detection starts.
type countingOps struct {
	vision.Ops
	grayscale int
}

func (c *countingOps) Grayscale(src imgbuf.Buffer) *imgbuf.Gray {
	c.grayscale++
	return c.Ops.Grayscale(src)
}

// maskBlindOps reports text-like bars wherever they are, ignoring the page
// mask, so spans survive a collapsed page outline.
type maskBlindOps struct {
	vision.Ops
	bars []vision.Blob
}

func (m maskBlindOps) FindBlobs(*imgbuf.Gray) []vision.Blob { return m.bars }

// scriptedMinimizer returns whatever result reports for the start point.
type scriptedMinimizer struct {
	result func(x0 []float64) (optimize.Result, error)
}

func (scriptedMinimizer) Name() string { return "scripted" }

func (s scriptedMinimizer) Minimize(_ optimize.Objective, x0 []float64) (optimize.Result, error) {
	return s.result(x0)
}

// fullResConfig detects on the full-resolution image so synthetic bars stay
// crisp.
func fullResConfig() Config {
	return DefaultConfig().WithScreenMax(0, 0)
}

func TestFlatPageScenario(t *testing.T) {
	img := synth.DefaultPage().Render()
	res, err := NewEngine(goops.New()).Dewarp(img, fullResConfig(), Options{})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, OK, res.Status)
	assert.Equal(t, modeText, res.Diagnostics.Mode)
	assert.Equal(t, 10, res.Diagnostics.Spans)
	assert.Equal(t, 360, res.Diagnostics.Keypoints)
	assert.Equal(t, 0, res.Diagnostics.DroppedSpans)

	require.NotNil(t, res.Params)
	assert.Equal(t, 8+res.Diagnostics.Spans+res.Diagnostics.Keypoints, res.Params.Len())
	for _, s := range res.Params.Shape() {
		assert.InDelta(t, 0, s, 1e-6)
	}

	assert.True(t, res.Diagnostics.OptimizerConverged)
	assert.LessOrEqual(t, res.Diagnostics.OptimizerIterations, 100)
	assert.LessOrEqual(t, res.Diagnostics.DimsIterations, 100)
	assert.Less(t, res.FinalError, 1e-6)
	assert.LessOrEqual(t, res.FinalError, res.InitialError)

	assert.InDelta(t, 900.0/700, res.PageDims.Width, 1e-6)
	assert.InDelta(t, 1360.0/700, res.PageDims.Height, 1e-6)
	assert.Equal(t, 912, res.Image.W)
	assert.Equal(t, 1360, res.Image.H)
	assert.Equal(t, 3, res.Image.C)
	assert.Equal(t, 0, res.Diagnostics.ClampedSamples)
}

func TestFlatPageOutputIsBilevelWithStraightLines(t *testing.T) {
	img := synth.DefaultPage().Render()
	res, err := NewEngine(goops.New()).Dewarp(img, fullResConfig(), Options{})
	require.NoError(t, err)

	out := res.Image
	for _, v := range out.Pix {
		require.True(t, v == 0 || v == 255)
	}

	// Rows cross the page horizontally: two columns well inside the bars
	// agree on every row, and the bars show up as dark rows.
	agree, dark := 0, 0
	for y := 0; y < out.H; y++ {
		if out.At(200, y, 0) == out.At(700, y, 0) {
			agree++
		}
		if out.At(450, y, 0) == 0 {
			dark++
		}
	}
	assert.GreaterOrEqual(t, agree, out.H*99/100)
	assert.Greater(t, dark, 40)
	assert.Less(t, dark, 150)
}

func TestContinuousToneOutput(t *testing.T) {
	img := synth.DefaultPage().Render()
	res, err := NewEngine(goops.New()).Dewarp(img, fullResConfig().WithBinary(false).WithZoom(0.5), Options{})
	require.NoError(t, err)
	assert.Equal(t, OK, res.Status)
	assert.Equal(t, 464, res.Image.W)
	assert.Equal(t, 688, res.Image.H)
}

func TestDeterministicParameters(t *testing.T) {
	page := synth.Page{
		Width: 800, Height: 1000,
		Lines: 8, Top: 150, LineSpacing: 90, LineHeight: 8,
		Left: 120, Right: 680,
		Bow:       12,
		WordWidth: 60, Gap: 12,
	}
	img := page.Render()
	cfg := fullResConfig()
	cfg.OptimizerMaxIterations = 3

	e := NewEngine(goops.New())
	a, err := e.Dewarp(img, cfg, Options{})
	require.NoError(t, err)
	b, err := e.Dewarp(img, cfg, Options{})
	require.NoError(t, err)

	require.NotNil(t, a.Params)
	assert.Equal(t, a.Params.Values, b.Params.Values)
	assert.Equal(t, a.Image.Pix, b.Image.Pix)
	assert.NotEqual(t, a.Diagnostics.RunID, b.Diagnostics.RunID)
}

func TestCurvedPageReducesError(t *testing.T) {
	page := synth.DefaultPage()
	page.Bow = 15
	page.WordWidth, page.Gap = 80, 12
	cfg := fullResConfig()
	cfg.OptimizerMaxIterations = 5

	res, err := NewEngine(goops.New()).Dewarp(page.Render(), cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, OK, res.Status)
	assert.Equal(t, 10, res.Diagnostics.Spans)
	assert.Greater(t, res.InitialError, 0.0)
	assert.Less(t, res.FinalError, res.InitialError)
}

func TestStronglyBowedPageKeepsOutlineAspect(t *testing.T) {
	page := synth.DefaultPage()
	page.Bow = 25

	res, err := NewEngine(goops.New()).Dewarp(page.Render(), fullResConfig(), Options{})
	require.NoError(t, err)
	require.Contains(t, []Kind{OK, NumericalDegenerate}, res.Status)
	require.NotNil(t, res.Params)

	for _, s := range res.Params.Shape() {
		assert.LessOrEqual(t, math.Abs(s), model.ShapeLimit)
	}
	assert.True(t, dimsAgree(res.PageDims, res.RoughDims), "dims %v rough %v", res.PageDims, res.RoughDims)

	roughAspect := res.RoughDims.Width / res.RoughDims.Height
	outAspect := float64(res.Image.W) / float64(res.Image.H)
	// Rounding to the decimation multiple moves the aspect slightly.
	assert.GreaterOrEqual(t, outAspect/roughAspect, 0.95/maxDimsRatio)
	assert.LessOrEqual(t, outAspect/roughAspect, 1.05*maxDimsRatio)
}

func TestPoseFailureReturnsOriginal(t *testing.T) {
	var bars []vision.Blob
	for i := 0; i < 5; i++ {
		bars = append(bars, bar(100, 200+i*100, 300, 8))
	}
	ops := maskBlindOps{Ops: goops.New(), bars: bars}
	img := synth.DefaultPage().Render()

	// Margins meeting in the middle collapse the outline to a vertical line.
	cfg := fullResConfig().WithMargins(img.W/2, 20)
	res, err := NewEngine(ops).Dewarp(img, cfg, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoseEstimationFailed)
	assert.Equal(t, PoseEstimationFailed, KindOf(err))

	require.NotNil(t, res)
	assert.Equal(t, PoseEstimationFailed, res.Status)
	assert.Nil(t, res.Params)
	assert.Equal(t, img.Pix, res.Image.Pix)
	assert.InDelta(t, 0, res.RoughDims.Width, 1e-9)
	assert.Equal(t, 5, res.Diagnostics.Spans)
}

func TestOptimizerFailureKeepsInitialParameters(t *testing.T) {
	failures := map[string]func(x0 []float64) (optimize.Result, error){
		"error": func(x0 []float64) (optimize.Result, error) {
			return optimize.Result{X: x0}, errors.New("diverged")
		},
		"nan": func(x0 []float64) (optimize.Result, error) {
			x := make([]float64, len(x0))
			for i := range x {
				x[i] = math.NaN()
			}
			return optimize.Result{X: x, F: math.NaN()}, nil
		},
	}
	for name, result := range failures {
		t.Run(name, func(t *testing.T) {
			e := NewEngine(goops.New())
			e.Minimizer = scriptedMinimizer{result: result}
			res, err := e.Dewarp(synth.DefaultPage().Render(), fullResConfig(), Options{})
			require.NoError(t, err)

			assert.Equal(t, NumericalDegenerate, res.Status)
			require.NotNil(t, res.Params)
			assert.True(t, finiteAll(res.Params.Values))
			assert.Equal(t, res.InitialError, res.FinalError)
			// The flat page is already fitted by its initial pose.
			assert.Equal(t, 912, res.Image.W)
			assert.Equal(t, 1360, res.Image.H)
		})
	}
}

func TestImplausibleDimsFallBackToRough(t *testing.T) {
	e := NewEngine(goops.New())
	// Pushing the page five times farther away makes the corner solve
	// roughly triple the page size.
	e.Minimizer = scriptedMinimizer{result: func(x0 []float64) (optimize.Result, error) {
		x := append([]float64(nil), x0...)
		x[model.TvecIndex+2] *= 5
		return optimize.Result{X: x, Converged: true}, nil
	}}
	res, err := e.Dewarp(synth.DefaultPage().Render(), fullResConfig(), Options{})
	require.NoError(t, err)

	assert.Equal(t, NumericalDegenerate, res.Status)
	assert.Equal(t, res.RoughDims, res.PageDims)
	w, h, err := outputSize(res.RoughDims, 1400, 1, DefaultConfig().RemapDecimationFactor)
	require.NoError(t, err)
	assert.Equal(t, w, res.Image.W)
	assert.Equal(t, h, res.Image.H)
}

func TestMarginsWiderThanPage(t *testing.T) {
	page := synth.DefaultPage()
	page.Width, page.Left, page.Right = 120, 10, 110
	img := page.Render()

	// Detection runs at 60 px wide, inside the default 50 px margins.
	res, err := NewEngine(goops.New()).Dewarp(img, DefaultConfig(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Diagnostics.DetectionScale)
	assert.Equal(t, StructureNotFound, res.Status)
	assert.Equal(t, 0, res.Diagnostics.Spans)
	assert.Equal(t, img.Pix, res.Image.Pix)
}

func TestBlankImageReturnsOriginal(t *testing.T) {
	img := synth.Blank(640, 480)
	res, err := NewEngine(goops.New()).Dewarp(img, DefaultConfig(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StructureNotFound, res.Status)
	assert.Nil(t, res.Params)
	assert.Equal(t, img.Pix, res.Image.Pix)
	assert.Equal(t, 0, res.Diagnostics.Spans)
}

func TestInvalidConfigRejectedBeforeDetection(t *testing.T) {
	ops := &countingOps{Ops: goops.New()}
	cfg := DefaultConfig()
	cfg.XMargin = -5

	res, err := NewEngine(ops).Dewarp(synth.DefaultPage().Render(), cfg, Options{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrConfigValidation)
	assert.Equal(t, 0, ops.grayscale)
}

func TestLineModeFallback(t *testing.T) {
	page := synth.DefaultPage()
	page.Lines = 2
	ops := &countingOps{Ops: goops.New()}

	// Continuous-tone output keeps the only Grayscale call in detection.
	cfg := fullResConfig().WithBinary(false)
	res, err := NewEngine(ops).Dewarp(page.Render(), cfg, Options{Debug: true})
	require.NoError(t, err)
	assert.Equal(t, OK, res.Status)

	detects := 0
	for _, pt := range res.Diagnostics.Timings {
		if pt.Phase == PhaseDetect {
			detects++
		}
	}
	assert.Equal(t, 2, detects, "text mode then line mode")
	assert.Equal(t, 1, ops.grayscale, "both modes share one grayscale conversion")

	require.NotNil(t, res.Debug)
	var masks []string
	for _, di := range res.Debug.Images {
		if strings.HasPrefix(di.Name, "mask-") {
			masks = append(masks, di.Name)
		}
	}
	assert.Equal(t, []string{"mask-text", "mask-line"}, masks)

	// Line mode found no more spans than text mode, so text mode is kept.
	assert.Equal(t, modeText, res.Diagnostics.Mode)
	assert.Equal(t, 2, res.Diagnostics.Spans)
}

func TestTextModeSkipsLineMode(t *testing.T) {
	ops := &countingOps{Ops: goops.New()}
	res, err := NewEngine(ops).Dewarp(synth.DefaultPage().Render(), fullResConfig(), Options{})
	require.NoError(t, err)

	detects := 0
	for _, pt := range res.Diagnostics.Timings {
		if pt.Phase == PhaseDetect {
			detects++
		}
	}
	assert.Equal(t, 1, detects)
	// Detection plus the bilevel output.
	assert.Equal(t, 2, ops.grayscale)
}

func TestProgressAndDebugBundle(t *testing.T) {
	type update struct {
		phase   string
		percent int
	}
	var updates []update
	opts := Options{
		Debug: true,
		Progress: func(phase string, percent int, _ string) {
			updates = append(updates, update{phase, percent})
		},
	}

	res, err := NewEngine(goops.New()).Dewarp(synth.DefaultPage().Render(), fullResConfig(), opts)
	require.NoError(t, err)

	require.NotEmpty(t, updates)
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].percent, updates[i-1].percent)
	}
	assert.Equal(t, update{PhaseDone, 100}, updates[len(updates)-1])

	require.NotNil(t, res.Debug)
	assert.Equal(t, res.Diagnostics.RunID, res.Debug.RunID)
	var names []string
	for _, di := range res.Debug.Images {
		names = append(names, di.Name)
		assert.Equal(t, 3, di.Image.C)
	}
	assert.Equal(t, []string{"mask-text", "spans", "keypoints"}, names)
}

func TestAlternativeModel(t *testing.T) {
	cfg := fullResConfig().WithModel("bicubic", "powell")
	cfg.OptimizerMaxIterations = 2

	res, err := NewEngine(goops.New()).Dewarp(synth.DefaultPage().Render(), cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, OK, res.Status)
	assert.Equal(t, 6+16+res.Diagnostics.Spans+res.Diagnostics.Keypoints, res.Params.Len())
	assert.Less(t, res.FinalError, 1e-6)
}

func TestDetectionDownscale(t *testing.T) {
	res, err := NewEngine(goops.New()).Dewarp(synth.DefaultPage().Render(), DefaultConfig(), Options{})
	require.NoError(t, err)
	assert.Equal(t, OK, res.Status)
	assert.Equal(t, 2, res.Diagnostics.DetectionScale)
	assert.Equal(t, 10, res.Diagnostics.Spans)
}
