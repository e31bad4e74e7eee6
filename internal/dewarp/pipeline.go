// Package dewarp flattens photographs of curled or tilted printed pages.
//
// A run detects text lines, chains them into spans, samples keypoints along
// them, estimates an initial camera pose from the page corners and then fits
// a cubic page surface by minimizing reprojection error. The fitted model
// drives a remap of the original image into a flat, axis-aligned page.
package dewarp

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"page-dewarp/internal/imgbuf"
	"page-dewarp/internal/model"
	"page-dewarp/internal/optimize"
	"page-dewarp/internal/pose"
	"page-dewarp/internal/vision"
	"page-dewarp/pkg/geometry"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

// Pipeline phases, in order.
const (
	PhaseDetect   = "detect"
	PhaseAssemble = "assemble"
	PhaseSample   = "sample"
	PhasePose     = "pose"
	PhaseOptimize = "optimize"
	PhaseDims     = "dims"
	PhaseRemap    = "remap"
	PhaseDone     = "done"
)

// ProgressFunc receives advisory progress updates. It must not block for
// long and cannot influence the run.
type ProgressFunc func(phase string, percent int, message string)

// Observer receives run-level measurements, typically for metrics.
type Observer interface {
	RunStarted()
	PhaseFinished(phase string, elapsed time.Duration)
	OptimizerFinished(name string, iterations int)
	RunFinished(status Kind, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) RunStarted()                         {}
func (nopObserver) PhaseFinished(string, time.Duration) {}
func (nopObserver) OptimizerFinished(string, int)       {}
func (nopObserver) RunFinished(Kind, time.Duration)     {}

// Options controls per-call behaviour that is not part of the model.
type Options struct {
	Progress ProgressFunc
	// Debug collects intermediate images in Result.Debug.
	Debug bool
}

// Result is the outcome of a run.
type Result struct {
	// Image is the flattened page, or a copy of the input when Status is
	// StructureNotFound or PoseEstimationFailed.
	Image  *imgbuf.Image
	Status Kind

	// Params is the fitted model; nil when no model was fitted.
	Params    *model.ParameterVector
	PageDims  geometry.Size
	RoughDims geometry.Size

	InitialError float64
	FinalError   float64

	Diagnostics Diagnostics
	Debug       *DebugBundle
}

// Engine runs the dewarping pipeline against a vision backend. An Engine
// holds no per-run state and may be shared by concurrent callers.
type Engine struct {
	Ops      vision.Ops
	Logger   zerolog.Logger
	Observer Observer
	// Minimizer, when set, replaces the optimizer named by Config.Optimizer.
	Minimizer optimize.Minimizer
}

// NewEngine returns an engine with logging and observation disabled.
func NewEngine(ops vision.Ops) *Engine {
	return &Engine{Ops: ops, Logger: zerolog.Nop(), Observer: nopObserver{}}
}

// run carries the state of one Dewarp call.
type run struct {
	e      *Engine
	cfg    Config
	opts   Options
	log    zerolog.Logger
	obs    Observer
	diag   *Diagnostics
	debug  *DebugBundle
	phaseT time.Time
}

func (r *run) progress(phase string, percent int, msg string) {
	if r.opts.Progress != nil {
		r.opts.Progress(phase, percent, msg)
	}
	runtime.Gosched()
}

// finishPhase records the elapsed time since the previous phase boundary.
func (r *run) finishPhase(phase string) {
	now := time.Now()
	d := now.Sub(r.phaseT)
	r.phaseT = now
	r.diag.Timings = append(r.diag.Timings, PhaseTiming{Phase: phase, Duration: d})
	r.obs.PhaseFinished(phase, d)
}

// Dewarp flattens src. Configuration errors are returned before any image
// processing. A missing text structure is not an error: the result carries
// an unchanged copy of src and Status StructureNotFound. Pose failures return
// both a result holding the unchanged copy and an error.
func (e *Engine) Dewarp(src imgbuf.Buffer, cfg Config, opts Options) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil || src.Width() == 0 || src.Height() == 0 {
		return nil, &Error{Kind: ConfigValidationError, Op: "dewarp", Err: errors.New("empty input image")}
	}
	surface, err := model.NewSurface(cfg.Surface)
	if err != nil {
		return nil, &Error{Kind: ConfigValidationError, Op: "dewarp", Err: err}
	}
	minimizer, err := optimize.New(cfg.Optimizer, cfg.OptimizerMaxIterations, cfg.OptimizerTolerance)
	if err != nil {
		return nil, &Error{Kind: ConfigValidationError, Op: "dewarp", Err: err}
	}
	if e.Minimizer != nil {
		minimizer = e.Minimizer
	}

	obs := e.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	start := time.Now()
	obs.RunStarted()

	runID := ksuid.New().String()
	r := &run{
		e:      e,
		cfg:    cfg,
		opts:   opts,
		log:    e.Logger.With().Str("run", runID).Logger(),
		obs:    obs,
		diag:   &Diagnostics{RunID: runID, Backend: e.Ops.Name()},
		phaseT: start,
	}
	if opts.Debug {
		r.debug = &DebugBundle{RunID: runID}
	}

	res, err := r.execute(imgbuf.Copy(src), surface, minimizer)
	res.Diagnostics = *r.diag
	res.Debug = r.debug

	elapsed := time.Since(start)
	obs.RunFinished(res.Status, elapsed)
	r.log.Info().Str("status", res.Status.String()).Dur("elapsed", elapsed).
		Int("width", res.Image.W).Int("height", res.Image.H).Msg("dewarp finished")
	return res, err
}

func (r *run) execute(src *imgbuf.Image, surface model.Surface, minimizer optimize.Minimizer) (*Result, error) {
	cfg, ops := r.cfg, r.e.Ops
	unchanged := func(status Kind) *Result {
		r.progress(PhaseDone, 100, status.String())
		return &Result{Image: src.Clone(), Status: status}
	}

	// Detect and assemble, retrying once in line mode.
	r.progress(PhaseDetect, 10, "detecting text lines")
	small := r.detectionImage(src)
	gray := ops.Grayscale(small)
	page, outline := pageMask(small.W, small.H, cfg.XMargin, cfg.YMargin)

	best := r.detect(gray, page, modeText)
	if len(best.spans) < cfg.MinSpansForText {
		r.log.Debug().Int("spans", len(best.spans)).Msg("few spans in text mode, retrying in line mode")
		if alt := r.detect(gray, page, modeLine); len(alt.spans) > len(best.spans) {
			best = alt
		}
	}
	r.diag.Mode = best.mode
	r.diag.Contours = len(best.contours)
	r.diag.Spans = len(best.spans)
	r.progress(PhaseAssemble, 25, fmt.Sprintf("%d spans", len(best.spans)))

	if len(best.spans) == 0 {
		r.log.Warn().Msg("no spans found, returning original image")
		return unchanged(StructureNotFound), nil
	}

	// Sample.
	samples, dropped := sampleSpans(best.contours, best.spans, small.W, small.H, cfg.SpanPxPerStep)
	r.diag.DroppedSpans = dropped
	if len(samples) == 0 {
		r.log.Warn().Int("dropped", dropped).Msg("no span yielded enough samples, returning original image")
		return unchanged(StructureNotFound), nil
	}
	normOutline := make([]geometry.Point2D, len(outline))
	for i, p := range outline {
		normOutline[i] = pix2norm(small.W, small.H, p)
	}
	kp := keypointsFromSamples(samples, normOutline)
	layout, counts := layoutFor(samples, surface)
	r.diag.Keypoints = layout.NumKeypoints
	r.diag.Parameters = layout.Len()
	r.finishPhase(PhaseSample)
	r.progress(PhaseSample, 35, fmt.Sprintf("%d keypoints", layout.NumKeypoints))
	if r.debug != nil {
		r.debug.add("spans", spanOverlay(small, best.contours, best.spans))
		r.debug.add("keypoints", keypointOverlay(small, samples, kp.corners))
	}

	// Pose.
	rough := kp.roughDims()
	ps, err := pose.Estimate(objectCorners(rough), kp.corners, cfg.FocalLength)
	if err != nil {
		r.log.Error().Err(err).Msg("pose estimation failed")
		res := unchanged(PoseEstimationFailed)
		res.RoughDims = rough
		return res, &Error{Kind: PoseEstimationFailed, Op: "pose", Err: err}
	}
	initial := initialParams(layout, ps.Rvec, ps.Tvec, kp)
	initial.MustValidate()
	r.finishPhase(PhasePose)
	r.progress(PhasePose, 45, "initial pose estimated")

	// Optimize.
	proj := model.Projector{Surface: surface, Focal: cfg.FocalLength}
	objective := reprojectionObjective(proj, layout, model.NewKeypointIndex(layout, counts), observedPoints(kp, samples))

	status := OK
	params := initial.Clone()
	res := &Result{RoughDims: rough, InitialError: objective(initial.Values)}
	r.progress(PhaseOptimize, 50, fmt.Sprintf("optimizing %d parameters", layout.Len()))
	opt, err := minimizer.Minimize(objective, initial.Values)
	r.diag.OptimizerIterations = opt.Iterations
	r.diag.OptimizerEvaluations = opt.Evaluations
	r.diag.OptimizerConverged = opt.Converged
	r.obs.OptimizerFinished(minimizer.Name(), opt.Iterations)
	switch {
	case err != nil:
		status = NumericalDegenerate
		r.log.Warn().Err(err).Msg("optimizer failed, keeping initial parameters")
	case !finiteAll(opt.X) || !(opt.F <= res.InitialError):
		status = NumericalDegenerate
		r.log.Warn().Float64("error", opt.F).Msg("optimizer result unusable, keeping initial parameters")
	default:
		copy(params.Values, opt.X)
		if n := params.ClampShape(); n > 0 {
			r.log.Debug().Int("clamped", n).Msg("shape parameters projected into bounds")
		}
	}
	res.FinalError = objective(params.Values)
	r.log.Debug().Str("optimizer", minimizer.Name()).Int("iterations", opt.Iterations).
		Int("evaluations", opt.Evaluations).Float64("initial", res.InitialError).
		Float64("final", res.FinalError).Msg("model fitted")
	r.finishPhase(PhaseOptimize)
	r.progress(PhaseOptimize, 80, fmt.Sprintf("reprojection error %.3g", res.FinalError))

	// Refine page dimensions.
	dr := solvePageDims(proj, *params, kp.corners[2], rough, cfg.DimsMaxIterations, cfg.OptimizerTolerance)
	r.diag.DimsIterations = dr.iterations
	if dr.fellBack {
		status = NumericalDegenerate
		r.log.Warn().Err(dr.err).Float64("width", rough.Width).Float64("height", rough.Height).
			Msg("page dimension solve failed, using rough dimensions")
	}
	r.finishPhase(PhaseDims)
	r.progress(PhaseDims, 85, fmt.Sprintf("page %.3fx%.3f", dr.dims.Width, dr.dims.Height))

	// Remap.
	dims := dr.dims
	w, h, err := outputSize(dims, src.H, cfg.OutputZoom, cfg.RemapDecimationFactor)
	if err != nil && !dr.fellBack {
		status = NumericalDegenerate
		r.log.Warn().Err(err).Msg("fitted page size unusable, using rough dimensions")
		dims = rough
		w, h, err = outputSize(dims, src.H, cfg.OutputZoom, cfg.RemapDecimationFactor)
	}
	if err != nil {
		r.log.Error().Err(err).Msg("no usable output size")
		out := unchanged(NumericalDegenerate)
		out.Params, out.RoughDims = params, rough
		out.InitialError, out.FinalError = res.InitialError, res.FinalError
		return out, nil
	}
	r.progress(PhaseRemap, 90, fmt.Sprintf("remapping to %dx%d", w, h))
	mapX, mapY, st := buildMaps(ops, proj, *params, dims, src.W, src.H, w, h, cfg.RemapDecimationFactor)
	r.diag.RemapGrid = geometry.Size{Width: float64(st.gridW), Height: float64(st.gridH)}
	r.diag.ClampedSamples = st.clamped
	if st.clamped > 0 {
		r.log.Warn().Int("clamped", st.clamped).Msg("non-finite remap samples clamped")
	}
	res.Image = remapPage(ops, src, mapX, mapY, cfg)
	r.finishPhase(PhaseRemap)

	res.Status = status
	res.Params = params
	res.PageDims = dims
	r.progress(PhaseDone, 100, "done")
	return res, nil
}

// detection holds the outcome of one detection mode.
type detection struct {
	mode     string
	contours []contourInfo
	spans    []span
}

func (r *run) detect(gray, page *imgbuf.Gray, mode string) detection {
	mask := detectionMask(r.e.Ops, gray, page, r.cfg, mode)
	cs := findContours(r.e.Ops, mask, r.cfg)
	if r.debug != nil {
		r.debug.add("mask-"+mode, imgbuf.GrayToChannels(mask, 3))
	}
	r.finishPhase(PhaseDetect)

	spans := assembleSpans(cs, r.cfg)
	r.log.Debug().Str("mode", mode).Int("contours", len(cs)).Int("spans", len(spans)).Msg("detected")
	r.finishPhase(PhaseAssemble)
	return detection{mode: mode, contours: cs, spans: spans}
}

// detectionImage shrinks src by an integer factor until it fits the screen
// bounds.
func (r *run) detectionImage(src *imgbuf.Image) *imgbuf.Image {
	mw, mh := r.cfg.ScreenMaxWidth, r.cfg.ScreenMaxHeight
	if mw == 0 && mh == 0 {
		return src
	}
	scl := 1
	if mw > 0 {
		scl = max(scl, (src.W+mw-1)/mw)
	}
	if mh > 0 {
		scl = max(scl, (src.H+mh-1)/mh)
	}
	if scl <= 1 {
		return src
	}
	w, h := src.W/scl, src.H/scl
	r.diag.DetectionScale = scl
	r.log.Debug().Int("scale", scl).Int("width", w).Int("height", h).Msg("downscaling for detection")
	return r.e.Ops.ResizeArea(src, w, h)
}

// reprojectionObjective returns Σ|observed - projected|² over the keypoints
// as a function of the flat parameter vector. Scratch buffers are reused,
// so the objective must not be called concurrently.
func reprojectionObjective(proj model.Projector, layout model.Layout, idx model.KeypointIndex,
	observed []geometry.Point2D) optimize.Objective {
	pagePts := make([]geometry.Point2D, 0, idx.Len())
	projected := make([]geometry.Point2D, 0, idx.Len())
	return func(x []float64) float64 {
		pv := model.View(layout, x)
		pagePts = idx.PagePoints(x, pagePts)
		projected = proj.Project(pv, pagePts, projected)
		return model.SquaredError(observed, projected)
	}
}

func finiteAll(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
