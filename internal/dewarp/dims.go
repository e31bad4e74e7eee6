package dewarp

import (
	"fmt"
	"math"

	"page-dewarp/internal/model"
	"page-dewarp/internal/optimize"
	"page-dewarp/pkg/geometry"
)

// dimsResult is the outcome of the page-dimension solve.
type dimsResult struct {
	dims       geometry.Size
	iterations int
	fellBack   bool
	err        error
}

// maxDimsRatio bounds how far the fitted page may stray from the outline's
// rough size, per side and in aspect ratio.
const maxDimsRatio = 2.0

// solvePageDims fits the page width and height so the model's bottom-right
// corner projects onto the detected one. Non-finite, non-positive or
// implausible results fall back to rough.
func solvePageDims(proj model.Projector, pv model.ParameterVector, target geometry.Point2D,
	rough geometry.Size, maxIter int, tol float64) dimsResult {
	objective := func(d []float64) float64 {
		p := proj.ProjectPoint(pv, geometry.Point2D{X: d[0], Y: d[1]})
		dx, dy := p.X-target.X, p.Y-target.Y
		return dx*dx + dy*dy
	}

	pw := &optimize.Powell{MaxIterations: maxIter, Tolerance: tol}
	res, err := pw.Minimize(objective, []float64{rough.Width, rough.Height})
	if err != nil {
		return dimsResult{dims: rough, iterations: res.Iterations, fellBack: true, err: err}
	}
	w, h := res.X[0], res.X[1]
	if !(w > 0) || !(h > 0) || math.IsInf(w, 0) || math.IsInf(h, 0) {
		return dimsResult{
			dims:       rough,
			iterations: res.Iterations,
			fellBack:   true,
			err:        fmt.Errorf("page dims %gx%g", w, h),
		}
	}
	fit := geometry.Size{Width: w, Height: h}
	if !dimsAgree(fit, rough) {
		return dimsResult{
			dims:       rough,
			iterations: res.Iterations,
			fellBack:   true,
			err:        fmt.Errorf("page dims %gx%g disagree with outline %gx%g", w, h, rough.Width, rough.Height),
		}
	}
	return dimsResult{dims: fit, iterations: res.Iterations}
}

// dimsAgree reports whether fit is within maxDimsRatio of rough in width,
// height and aspect ratio. A degenerate rough size accepts any fit.
func dimsAgree(fit, rough geometry.Size) bool {
	if !(rough.Width > 0) || !(rough.Height > 0) {
		return true
	}
	within := func(r float64) bool {
		return r <= maxDimsRatio && r >= 1/maxDimsRatio
	}
	return within(fit.Width/rough.Width) &&
		within(fit.Height/rough.Height) &&
		within((fit.Width/fit.Height)/(rough.Width/rough.Height))
}
