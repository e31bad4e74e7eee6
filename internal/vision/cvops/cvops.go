// Package cvops implements vision.Ops on top of OpenCV via gocv.
//
// Buffers cross the boundary as copies: every Mat created here is closed
// before the call returns, so no native memory outlives a single operation.
package cvops

import (
	"fmt"
	"image"
	"image/color"

	"page-dewarp/internal/imgbuf"
	"page-dewarp/internal/vision"

	"gocv.io/x/gocv"
)

// Ops is the gocv backend.
type Ops struct{}

// New returns the gocv backend.
func New() *Ops {
	return &Ops{}
}

var _ vision.Ops = (*Ops)(nil)

// Name implements vision.Ops.
func (*Ops) Name() string { return "opencv" }

func matType(channels int) gocv.MatType {
	switch channels {
	case 1:
		return gocv.MatTypeCV8UC1
	case 4:
		return gocv.MatTypeCV8UC4
	default:
		return gocv.MatTypeCV8UC3
	}
}

// toMat copies an Image into a new Mat. The caller owns the Mat.
func toMat(img *imgbuf.Image) gocv.Mat {
	m, err := gocv.NewMatFromBytes(img.H, img.W, matType(img.C), img.Pix)
	if err != nil {
		panic(fmt.Sprintf("cvops: wrap %dx%dx%d image: %v", img.W, img.H, img.C, err))
	}
	// NewMatFromBytes aliases the Go slice; clone so OpenCV owns its memory.
	owned := m.Clone()
	m.Close()
	return owned
}

func grayToMat(g *imgbuf.Gray) gocv.Mat {
	return toMat(&imgbuf.Image{W: g.W, H: g.H, C: 1, Pix: g.Pix})
}

func matToGray(m gocv.Mat) *imgbuf.Gray {
	out := imgbuf.NewGray(m.Cols(), m.Rows())
	copy(out.Pix, m.ToBytes())
	return out
}

func matToImage(m gocv.Mat, channels int) *imgbuf.Image {
	out := imgbuf.New(m.Cols(), m.Rows(), channels)
	copy(out.Pix, m.ToBytes())
	return out
}

func gridToMat(g *imgbuf.Grid) gocv.Mat {
	m := gocv.NewMatWithSize(g.H, g.W, gocv.MatTypeCV32F)
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			m.SetFloatAt(y, x, g.Get(x, y))
		}
	}
	return m
}

func matToGrid(m gocv.Mat) *imgbuf.Grid {
	out := imgbuf.NewGrid(m.Cols(), m.Rows())
	for y := 0; y < out.H; y++ {
		for x := 0; x < out.W; x++ {
			out.SetAt(x, y, m.GetFloatAt(y, x))
		}
	}
	return out
}

// Grayscale implements vision.Ops.
func (*Ops) Grayscale(src imgbuf.Buffer) *imgbuf.Gray {
	img := imgbuf.Copy(src)
	if img.C == 1 {
		return &imgbuf.Gray{W: img.W, H: img.H, Pix: img.Pix}
	}

	m := toMat(img)
	defer m.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	code := gocv.ColorRGBToGray
	if img.C == 4 {
		code = gocv.ColorRGBAToGray
	}
	gocv.CvtColor(m, &gray, code)
	return matToGray(gray)
}

// ResizeArea implements vision.Ops.
func (*Ops) ResizeArea(src *imgbuf.Image, w, h int) *imgbuf.Image {
	m := toMat(src)
	defer m.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(m, &dst, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationArea)
	return matToImage(dst, src.C)
}

// AdaptiveThresholdMean implements vision.Ops.
func (*Ops) AdaptiveThresholdMean(src *imgbuf.Gray, blockSize int, c float64, invert bool) *imgbuf.Gray {
	m := grayToMat(src)
	defer m.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	kind := gocv.ThresholdBinary
	if invert {
		kind = gocv.ThresholdBinaryInv
	}
	gocv.AdaptiveThreshold(m, &dst, 255, gocv.AdaptiveThresholdMean, kind, blockSize, float32(c))
	return matToGray(dst)
}

// Dilate implements vision.Ops.
func (*Ops) Dilate(src *imgbuf.Gray, kw, kh, iterations int) *imgbuf.Gray {
	return morph(src, kw, kh, iterations, gocv.Dilate)
}

// Erode implements vision.Ops.
func (*Ops) Erode(src *imgbuf.Gray, kw, kh, iterations int) *imgbuf.Gray {
	return morph(src, kw, kh, iterations, gocv.Erode)
}

func morph(src *imgbuf.Gray, kw, kh, iterations int, op func(gocv.Mat, *gocv.Mat, gocv.Mat)) *imgbuf.Gray {
	cur := grayToMat(src)
	defer cur.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: kw, Y: kh})
	defer kernel.Close()

	tmp := gocv.NewMat()
	defer tmp.Close()
	for i := 0; i < iterations; i++ {
		op(cur, &tmp, kernel)
		tmp.CopyTo(&cur)
	}
	return matToGray(cur)
}

// FindBlobs implements vision.Ops. Contours are filled one at a time into a
// scratch canvas so each tight mask holds exactly its own contour.
func (*Ops) FindBlobs(mask *imgbuf.Gray) []vision.Blob {
	m := grayToMat(mask)
	defer m.Close()

	contours := gocv.FindContours(m, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()

	canvas := gocv.NewMatWithSize(mask.H, mask.W, gocv.MatTypeCV8U)
	defer canvas.Close()

	on := color.RGBA{R: 1, G: 1, B: 1, A: 1}
	off := color.RGBA{}

	blobs := make([]vision.Blob, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		rect := gocv.BoundingRect(contours.At(i))
		if rect.Empty() {
			continue
		}
		gocv.DrawContours(&canvas, contours, i, on, -1)

		tight := imgbuf.NewGray(rect.Dx(), rect.Dy())
		for y := 0; y < rect.Dy(); y++ {
			for x := 0; x < rect.Dx(); x++ {
				tight.SetAt(x, y, canvas.GetUCharAt(rect.Min.Y+y, rect.Min.X+x))
			}
		}
		gocv.DrawContours(&canvas, contours, i, off, -1)

		blobs = append(blobs, vision.Blob{Rect: rect, Mask: tight})
	}
	return blobs
}

// ResizeGridCubic implements vision.Ops.
func (*Ops) ResizeGridCubic(src *imgbuf.Grid, w, h int) *imgbuf.Grid {
	m := gridToMat(src)
	defer m.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(m, &dst, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationCubic)
	return matToGrid(dst)
}

// RemapCubic implements vision.Ops.
func (*Ops) RemapCubic(src *imgbuf.Image, mapX, mapY *imgbuf.Grid) *imgbuf.Image {
	m := toMat(src)
	defer m.Close()

	mx := gridToMat(mapX)
	defer mx.Close()
	my := gridToMat(mapY)
	defer my.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Remap(m, &dst, &mx, &my, gocv.InterpolationCubic, gocv.BorderReplicate, color.RGBA{})
	return matToImage(dst, src.C)
}
