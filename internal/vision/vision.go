// Package vision defines the primitive raster operations the dewarping
// engine needs from a vision backend.
//
// Two backends implement Ops: goops (pure Go, used by tests and by hosts
// without OpenCV) and cvops (gocv). Every operation returns freshly owned
// buffers; backends never retain inputs or outputs between calls.
package vision

import (
	"image"

	"page-dewarp/internal/imgbuf"
)

// Blob is one external contour extracted from a binary mask.
type Blob struct {
	// Rect is the bounding rectangle in mask coordinates.
	Rect image.Rectangle
	// Mask is the filled contour, Rect-sized, with 1 for inside and 0 outside.
	Mask *imgbuf.Gray
}

// Ops is the set of primitive operations the engine is written against.
type Ops interface {
	// Name identifies the backend in logs and diagnostics.
	Name() string

	// Grayscale converts an RGB(A) or single-channel image to luma.
	Grayscale(src imgbuf.Buffer) *imgbuf.Gray

	// ResizeArea shrinks an image with area averaging.
	ResizeArea(src *imgbuf.Image, w, h int) *imgbuf.Image

	// AdaptiveThresholdMean thresholds against the blockSize×blockSize box
	// mean minus c. With invert set, pixels at or below the threshold become
	// 255 and others 0; otherwise pixels above it become 255.
	AdaptiveThresholdMean(src *imgbuf.Gray, blockSize int, c float64, invert bool) *imgbuf.Gray

	// Dilate applies a kw×kh rectangular max filter iterations times.
	Dilate(src *imgbuf.Gray, kw, kh, iterations int) *imgbuf.Gray

	// Erode applies a kw×kh rectangular min filter iterations times.
	Erode(src *imgbuf.Gray, kw, kh, iterations int) *imgbuf.Gray

	// FindBlobs extracts the external contours of a binary mask in a
	// deterministic order.
	FindBlobs(mask *imgbuf.Gray) []Blob

	// ResizeGridCubic upsamples a float grid with bicubic interpolation.
	ResizeGridCubic(src *imgbuf.Grid, w, h int) *imgbuf.Grid

	// RemapCubic samples src at (mapX[i], mapY[i]) for every output pixel with
	// bicubic interpolation and replicated borders.
	RemapCubic(src *imgbuf.Image, mapX, mapY *imgbuf.Grid) *imgbuf.Image
}
