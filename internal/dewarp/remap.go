package dewarp

import (
	"fmt"
	"math"

	"page-dewarp/internal/imgbuf"
	"page-dewarp/internal/model"
	"page-dewarp/internal/vision"
	"page-dewarp/pkg/geometry"
)

// maxOutputSide bounds either output dimension.
const maxOutputSide = 1 << 15

// outputSize computes the flattened image size for a page of dims taken
// from a source srcH pixels tall.
func outputSize(dims geometry.Size, srcH int, zoom float64, decimate int) (w, h int, err error) {
	height := 0.5 * dims.Height * zoom * float64(srcH)
	if !(height > 0) || height > maxOutputSide {
		return 0, 0, fmt.Errorf("output height %g out of range", height)
	}
	h = roundMultiple(height, decimate)
	width := float64(h) * dims.Width / dims.Height
	if !(width > 0) || width > maxOutputSide {
		return 0, 0, fmt.Errorf("output width %g out of range", width)
	}
	w = roundMultiple(width, decimate)
	return w, h, nil
}

// remapStats reports on the coordinate map.
type remapStats struct {
	gridW, gridH int
	clamped      int
}

// buildMaps evaluates the model on a (w/decimate)×(h/decimate) grid spanning
// the page and returns full-resolution source pixel maps for a srcW×srcH
// image. Non-finite samples are replaced by the source center and counted.
func buildMaps(ops vision.Ops, proj model.Projector, pv model.ParameterVector, dims geometry.Size,
	srcW, srcH, w, h, decimate int) (mapX, mapY *imgbuf.Grid, st remapStats) {
	gw, gh := w/decimate, h/decimate
	xs := linspace(0, dims.Width, gw)
	ys := linspace(0, dims.Height, gh)

	smallX := imgbuf.NewGrid(gw, gh)
	smallY := imgbuf.NewGrid(gw, gh)
	page := make([]geometry.Point2D, 0, gw)
	img := make([]geometry.Point2D, 0, gw)
	for j, y := range ys {
		page = page[:0]
		for _, x := range xs {
			page = append(page, geometry.Point2D{X: x, Y: y})
		}
		img = proj.Project(pv, page, img)
		for i, p := range img {
			px := norm2pix(srcW, srcH, p)
			if !px.IsFinite() || math.Abs(px.X) > 4*float64(srcW+srcH) || math.Abs(px.Y) > 4*float64(srcW+srcH) {
				px = geometry.Point2D{X: 0.5 * float64(srcW), Y: 0.5 * float64(srcH)}
				st.clamped++
			}
			smallX.SetAt(i, j, float32(px.X))
			smallY.SetAt(i, j, float32(px.Y))
		}
	}

	st.gridW, st.gridH = gw, gh
	return ops.ResizeGridCubic(smallX, w, h), ops.ResizeGridCubic(smallY, w, h), st
}

// remapPage resamples src through the maps, optionally thresholding the
// result to bilevel text in src's channel layout.
func remapPage(ops vision.Ops, src *imgbuf.Image, mapX, mapY *imgbuf.Grid, cfg Config) *imgbuf.Image {
	out := ops.RemapCubic(src, mapX, mapY)
	if cfg.NoBinary {
		return out
	}
	gray := ops.Grayscale(out)
	bw := ops.AdaptiveThresholdMean(gray, cfg.AdaptiveThresholdBlockSize, cfg.OutputThresholdC, false)
	return imgbuf.GrayToChannels(bw, src.C)
}
