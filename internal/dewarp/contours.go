package dewarp

import (
	"image"
	"math"

	"page-dewarp/internal/imgbuf"
	"page-dewarp/internal/vision"
	"page-dewarp/pkg/geometry"
)

// Detection modes.
const (
	modeText = "text"
	modeLine = "line"
)

// contourInfo is one text-like blob. Contours live in a flat slice and link
// to their neighbours by index; -1 means no link.
type contourInfo struct {
	rect image.Rectangle
	mask *imgbuf.Gray // rect-sized, 1 inside

	center  geometry.Point2D
	tangent geometry.Point2D // unit principal axis, oriented to +x
	angle   float64

	// xMin and xMax bound the mask projected onto the tangent, relative to
	// center. point0 and point1 are the corresponding end points.
	xMin, xMax     float64
	point0, point1 geometry.Point2D

	pred, succ int
}

// projX projects p onto the contour's tangent, relative to its center.
func (c *contourInfo) projX(p geometry.Point2D) float64 {
	return c.tangent.Dot(p.Sub(c.center))
}

// localOverlap is the length shared by this contour's projected interval and
// other's, measured along this contour's tangent. Disjoint intervals give a
// negative value.
func (c *contourInfo) localOverlap(other *contourInfo) float64 {
	lo := c.projX(other.point0)
	hi := c.projX(other.point1)
	return math.Min(c.xMax, hi) - math.Max(c.xMin, lo)
}

// width is the projected extent along the tangent.
func (c *contourInfo) width() float64 {
	return c.xMax - c.xMin
}

// pageMask fills the margin-inset interior of a w×h image and returns it
// together with its outline ordered TL, BL, BR, TR (pixels, inclusive).
// Margins that cross leave the mask empty and collapse the outline.
func pageMask(w, h, xMargin, yMargin int) (*imgbuf.Gray, []geometry.Point2D) {
	mask := imgbuf.NewGray(w, h)
	xmin, ymin := xMargin, yMargin
	xmax, ymax := w-xMargin, h-yMargin
	if xmax < xmin || ymax < ymin {
		xmax, ymax = max(xmax, xmin), max(ymax, ymin)
	} else {
		mask.FillRect(image.Rect(xmin, ymin, xmax+1, ymax+1), 255)
	}

	outline := geometry.Rect{
		X: float64(xmin), Y: float64(ymin),
		Width: float64(xmax - xmin), Height: float64(ymax - ymin),
	}.Corners()
	return mask, outline
}

// detectionMask binarizes gray so text lines become solid horizontal blobs,
// restricted to the page interior.
func detectionMask(ops vision.Ops, gray, page *imgbuf.Gray, cfg Config, mode string) *imgbuf.Gray {
	var mask *imgbuf.Gray
	switch mode {
	case modeLine:
		mask = ops.AdaptiveThresholdMean(gray, cfg.AdaptiveThresholdBlockSize, cfg.LineThresholdC, true)
		mask = ops.Erode(mask, 3, 1, 3)
		mask = ops.Dilate(mask, 8, 2, 1)
	default:
		mask = ops.AdaptiveThresholdMean(gray, cfg.AdaptiveThresholdBlockSize, cfg.TextThresholdC, true)
		mask = ops.Dilate(mask, 9, 1, 1)
		mask = ops.Erode(mask, 1, 3, 1)
	}
	mask.MinInPlace(page)
	return mask
}

// findContours extracts the blobs of mask that look like text and computes
// their geometry. The order follows the backend's blob order.
func findContours(ops vision.Ops, mask *imgbuf.Gray, cfg Config) []contourInfo {
	var out []contourInfo
	for _, b := range ops.FindBlobs(mask) {
		w, h := b.Rect.Dx(), b.Rect.Dy()
		if w < cfg.TextMinWidth || h < cfg.TextMinHeight || float64(w) < cfg.TextMinAspect*float64(h) {
			continue
		}
		if maxColumnThickness(b.Mask) > cfg.TextMaxThickness {
			continue
		}
		ci, ok := newContourInfo(b)
		if !ok {
			continue
		}
		out = append(out, ci)
	}
	return out
}

// maxColumnThickness returns the largest number of set pixels in any column.
func maxColumnThickness(m *imgbuf.Gray) int {
	best := 0
	for x := 0; x < m.W; x++ {
		n := 0
		for y := 0; y < m.H; y++ {
			if m.Pix[y*m.W+x] != 0 {
				n++
			}
		}
		best = max(best, n)
	}
	return best
}

// newContourInfo derives center, principal axis and projected extent from
// the blob's pixel moments.
func newContourInfo(b vision.Blob) (contourInfo, bool) {
	ox, oy := float64(b.Rect.Min.X), float64(b.Rect.Min.Y)
	m := b.Mask

	var n, sx, sy float64
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if m.Pix[y*m.W+x] != 0 {
				n++
				sx += float64(x)
				sy += float64(y)
			}
		}
	}
	if n == 0 {
		return contourInfo{}, false
	}
	mx, my := sx/n, sy/n

	var cxx, cxy, cyy float64
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if m.Pix[y*m.W+x] != 0 {
				dx, dy := float64(x)-mx, float64(y)-my
				cxx += dx * dx
				cxy += dx * dy
				cyy += dy * dy
			}
		}
	}
	tangent := principalAxis(cxx/n, cxy/n, cyy/n)

	center := geometry.Point2D{X: mx + ox, Y: my + oy}
	ci := contourInfo{
		rect:    b.Rect,
		mask:    m,
		center:  center,
		tangent: tangent,
		angle:   tangent.Angle(),
		xMin:    math.Inf(1),
		xMax:    math.Inf(-1),
		pred:    -1,
		succ:    -1,
	}
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if m.Pix[y*m.W+x] != 0 {
				t := ci.projX(geometry.Point2D{X: float64(x) + ox, Y: float64(y) + oy})
				ci.xMin = math.Min(ci.xMin, t)
				ci.xMax = math.Max(ci.xMax, t)
			}
		}
	}
	ci.point0 = center.Add(tangent.Scale(ci.xMin))
	ci.point1 = center.Add(tangent.Scale(ci.xMax))
	return ci, true
}

// principalAxis returns the unit eigenvector of the larger eigenvalue of the
// symmetric matrix [[a, b], [b, c]], with a non-negative x component.
func principalAxis(a, b, c float64) geometry.Point2D {
	var v geometry.Point2D
	if b == 0 {
		if a >= c {
			v = geometry.Point2D{X: 1}
		} else {
			v = geometry.Point2D{Y: 1}
		}
	} else {
		half := 0.5 * (a - c)
		lambda := 0.5*(a+c) + math.Sqrt(half*half+b*b)
		v = geometry.Point2D{X: lambda - c, Y: b}.Normalized()
	}
	if v.X < 0 || (v.X == 0 && v.Y < 0) {
		v = v.Scale(-1)
	}
	return v
}
