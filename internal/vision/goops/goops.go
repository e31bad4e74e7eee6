// Package goops is a pure-Go implementation of vision.Ops.
//
// It mirrors the OpenCV semantics the engine was tuned against (box-mean
// adaptive threshold with replicated borders, rectangular morphology that
// ignores out-of-range pixels, external contours filled solid, bicubic
// interpolation with a = -0.75) closely enough that both backends find the
// same structure on the same page.
package goops

import (
	"image"
	"math"

	"page-dewarp/internal/imgbuf"
	"page-dewarp/internal/vision"

	"golang.org/x/image/draw"
)

// Ops is the pure-Go backend. The zero value is ready to use.
type Ops struct{}

// New returns the pure-Go backend.
func New() *Ops {
	return &Ops{}
}

var _ vision.Ops = (*Ops)(nil)

// Name implements vision.Ops.
func (*Ops) Name() string { return "go" }

// Grayscale implements vision.Ops using Rec. 601 luma weights.
func (*Ops) Grayscale(src imgbuf.Buffer) *imgbuf.Gray {
	w, h, c := src.Width(), src.Height(), src.Channels()
	out := imgbuf.NewGray(w, h)

	if img, ok := src.(*imgbuf.Image); ok && c >= 3 {
		for i := 0; i < w*h; i++ {
			p := img.Pix[i*c : i*c+3]
			out.Pix[i] = luma(p[0], p[1], p[2])
		}
		return out
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if c == 1 {
				out.Pix[y*w+x] = src.At(x, y, 0)
			} else {
				out.Pix[y*w+x] = luma(src.At(x, y, 0), src.At(x, y, 1), src.At(x, y, 2))
			}
		}
	}
	return out
}

func luma(r, g, b uint8) uint8 {
	v := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	return uint8(math.Min(255, math.Round(v)))
}

// ResizeArea implements vision.Ops. The bilinear kernel in x/image/draw
// widens with the scale factor when shrinking, which averages over the
// covered source area.
func (*Ops) ResizeArea(src *imgbuf.Image, w, h int) *imgbuf.Image {
	if w == src.W && h == src.H {
		return src.Clone()
	}

	var srcImg image.Image
	if src.C == 1 {
		g := image.NewGray(image.Rect(0, 0, src.W, src.H))
		copy(g.Pix, src.Pix)
		srcImg = g
	} else {
		srcImg = src.ToImage()
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), srcImg, srcImg.Bounds(), draw.Src, nil)

	out := imgbuf.New(w, h, src.C)
	for i := 0; i < w*h; i++ {
		p := dst.Pix[i*4 : i*4+4]
		switch src.C {
		case 1:
			out.Pix[i] = p[0]
		case 3:
			copy(out.Pix[i*3:i*3+3], p[:3])
		case 4:
			copy(out.Pix[i*4:i*4+4], p)
		}
	}
	return out
}

// AdaptiveThresholdMean implements vision.Ops with an integral image over a
// replicate-padded copy of src.
func (*Ops) AdaptiveThresholdMean(src *imgbuf.Gray, blockSize int, c float64, invert bool) *imgbuf.Gray {
	w, h := src.W, src.H
	out := imgbuf.NewGray(w, h)
	if w == 0 || h == 0 {
		return out
	}

	r := blockSize / 2
	pw, ph := w+2*r, h+2*r
	integral := make([]int64, (pw+1)*(ph+1))
	stride := pw + 1
	for py := 0; py < ph; py++ {
		sy := clampInt(py-r, 0, h-1)
		var rowSum int64
		for px := 0; px < pw; px++ {
			sx := clampInt(px-r, 0, w-1)
			rowSum += int64(src.Pix[sy*w+sx])
			integral[(py+1)*stride+px+1] = integral[py*stride+px+1] + rowSum
		}
	}

	area := float64(blockSize * blockSize)
	// OpenCV compares integer differences against ceil(c) for the binary
	// variant and floor(c) for the inverted one.
	delta := int(math.Ceil(c))
	if invert {
		delta = int(math.Floor(c))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Box [x, x+blockSize) in padded coordinates is centered on x.
			x0, y0 := x, y
			x1, y1 := x+blockSize, y+blockSize
			sum := integral[y1*stride+x1] - integral[y0*stride+x1] - integral[y1*stride+x0] + integral[y0*stride+x0]
			mean := int(math.Round(float64(sum) / area))
			diff := int(src.Pix[y*w+x]) - mean

			var on bool
			if invert {
				on = diff <= -delta
			} else {
				on = diff > -delta
			}
			if on {
				out.Pix[y*w+x] = 255
			}
		}
	}
	return out
}

// Dilate implements vision.Ops.
func (*Ops) Dilate(src *imgbuf.Gray, kw, kh, iterations int) *imgbuf.Gray {
	out := src.Clone()
	for i := 0; i < iterations; i++ {
		out = morph(out, kw, kh, true)
	}
	return out
}

// Erode implements vision.Ops.
func (*Ops) Erode(src *imgbuf.Gray, kw, kh, iterations int) *imgbuf.Gray {
	out := src.Clone()
	for i := 0; i < iterations; i++ {
		out = morph(out, kw, kh, false)
	}
	return out
}

// morph runs a separable rectangular max (dilate) or min (erode) filter with
// the anchor at the kernel center. Pixels outside the raster do not take part.
func morph(src *imgbuf.Gray, kw, kh int, dilate bool) *imgbuf.Gray {
	w, h := src.W, src.H
	pick := func(a, b uint8) uint8 {
		if dilate == (b > a) {
			return b
		}
		return a
	}

	tmp := imgbuf.NewGray(w, h)
	ax := kw / 2
	for y := 0; y < h; y++ {
		row := src.Pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			lo := max(0, x-ax)
			hi := min(w-1, x-ax+kw-1)
			v := row[lo]
			for k := lo + 1; k <= hi; k++ {
				v = pick(v, row[k])
			}
			tmp.Pix[y*w+x] = v
		}
	}

	out := imgbuf.NewGray(w, h)
	ay := kh / 2
	for y := 0; y < h; y++ {
		lo := max(0, y-ay)
		hi := min(h-1, y-ay+kh-1)
		for x := 0; x < w; x++ {
			v := tmp.Pix[lo*w+x]
			for k := lo + 1; k <= hi; k++ {
				v = pick(v, tmp.Pix[k*w+x])
			}
			out.Pix[y*w+x] = v
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
