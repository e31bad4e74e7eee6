package dewarp

import (
	"image/color"
	"time"

	"page-dewarp/internal/imgbuf"
	"page-dewarp/pkg/colorutil"
	"page-dewarp/pkg/geometry"
)

// PhaseTiming is the wall time spent in one phase. Phases may repeat when
// detection falls back to line mode.
type PhaseTiming struct {
	Phase    string        `json:"phase"`
	Duration time.Duration `json:"duration"`
}

// Diagnostics are numeric facts about a run. They are returned to the
// caller and never read by the pipeline.
type Diagnostics struct {
	RunID          string `json:"run_id"`
	Backend        string `json:"backend"`
	Mode           string `json:"mode"`
	DetectionScale int    `json:"detection_scale,omitempty"`

	Contours     int `json:"contours"`
	Spans        int `json:"spans"`
	DroppedSpans int `json:"dropped_spans"`
	Keypoints    int `json:"keypoints"`
	Parameters   int `json:"parameters"`

	OptimizerIterations  int  `json:"optimizer_iterations"`
	OptimizerEvaluations int  `json:"optimizer_evaluations"`
	OptimizerConverged   bool `json:"optimizer_converged"`
	DimsIterations       int  `json:"dims_iterations"`

	RemapGrid      geometry.Size `json:"remap_grid"`
	ClampedSamples int           `json:"clamped_samples"`

	Timings []PhaseTiming `json:"timings"`
}

// DebugImage is one named intermediate visualization.
type DebugImage struct {
	Name  string
	Image *imgbuf.Image
}

// DebugBundle collects intermediate images of a run when Options.Debug is set.
type DebugBundle struct {
	RunID  string
	Images []DebugImage
}

func (d *DebugBundle) add(name string, img *imgbuf.Image) {
	d.Images = append(d.Images, DebugImage{Name: name, Image: img})
}

// dimmed returns an RGB copy of src at half brightness so overlays stand out.
func dimmed(src *imgbuf.Image) *imgbuf.Image {
	out := imgbuf.New(src.W, src.H, 3)
	for y := 0; y < src.H; y++ {
		for x := 0; x < src.W; x++ {
			for c := 0; c < 3; c++ {
				sc := min(c, src.C-1)
				out.Set(x, y, c, src.At(x, y, sc)/2)
			}
		}
	}
	return out
}

func paint(img *imgbuf.Image, x, y int, col color.RGBA) {
	if x < 0 || y < 0 || x >= img.W || y >= img.H {
		return
	}
	img.Set(x, y, 0, col.R)
	img.Set(x, y, 1, col.G)
	img.Set(x, y, 2, col.B)
}

// spanOverlay colors the contours of each span with its own hue.
func spanOverlay(small *imgbuf.Image, cs []contourInfo, spans []span) *imgbuf.Image {
	out := dimmed(small)
	for i, s := range spans {
		col := colorutil.Palette(i, len(spans))
		for _, k := range s {
			c := &cs[k]
			for y := 0; y < c.mask.H; y++ {
				for x := 0; x < c.mask.W; x++ {
					if c.mask.Get(x, y) != 0 {
						paint(out, x+c.rect.Min.X, y+c.rect.Min.Y, col)
					}
				}
			}
		}
	}
	return out
}

// keypointOverlay marks every sample and the page corners.
func keypointOverlay(small *imgbuf.Image, samples [][]geometry.Point2D, corners []geometry.Point2D) *imgbuf.Image {
	out := dimmed(small)
	mark := func(p geometry.Point2D, r int, col color.RGBA) {
		px := norm2pix(small.W, small.H, p)
		cx, cy := int(px.X+0.5), int(px.Y+0.5)
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				paint(out, cx+dx, cy+dy, col)
			}
		}
	}
	for i, pts := range samples {
		col := colorutil.Palette(i, len(samples))
		for _, p := range pts {
			mark(p, 1, col)
		}
	}
	for _, c := range corners {
		mark(c, 3, colorutil.Red)
	}
	return out
}
