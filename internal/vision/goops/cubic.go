package goops

import (
	"math"

	"page-dewarp/internal/imgbuf"
)

// cubicA is the Keys kernel parameter OpenCV uses for INTER_CUBIC.
const cubicA = -0.75

// cubicWeights returns the kernel weights for the four taps at offsets
// -1, 0, 1, 2 around a sample with fractional position t in [0, 1).
func cubicWeights(t float64) [4]float64 {
	const a = cubicA
	x := t + 1
	w0 := ((a*x-5*a)*x+8*a)*x - 4*a
	w1 := ((a+2)*t-(a+3))*t*t + 1
	u := 1 - t
	w2 := ((a+2)*u-(a+3))*u*u + 1
	return [4]float64{w0, w1, w2, 1 - w0 - w1 - w2}
}

// ResizeGridCubic implements vision.Ops. Sample centers are aligned the way
// OpenCV aligns them (half-pixel offsets) and borders replicate.
func (*Ops) ResizeGridCubic(src *imgbuf.Grid, w, h int) *imgbuf.Grid {
	out := imgbuf.NewGrid(w, h)
	if src.W == 0 || src.H == 0 || w == 0 || h == 0 {
		return out
	}
	sx := float64(src.W) / float64(w)
	sy := float64(src.H) / float64(h)

	type tap struct {
		idx [4]int
		wt  [4]float64
	}
	taps := func(n, size int, scale float64) []tap {
		res := make([]tap, n)
		for i := range res {
			f := (float64(i)+0.5)*scale - 0.5
			base := math.Floor(f)
			res[i].wt = cubicWeights(f - base)
			for k := 0; k < 4; k++ {
				res[i].idx[k] = clampInt(int(base)-1+k, 0, size-1)
			}
		}
		return res
	}
	xt := taps(w, src.W, sx)
	yt := taps(h, src.H, sy)

	for y := 0; y < h; y++ {
		ty := yt[y]
		for x := 0; x < w; x++ {
			tx := xt[x]
			var acc float64
			for j := 0; j < 4; j++ {
				row := src.Data[ty.idx[j]*src.W:]
				var racc float64
				for i := 0; i < 4; i++ {
					racc += tx.wt[i] * float64(row[tx.idx[i]])
				}
				acc += ty.wt[j] * racc
			}
			out.Data[y*w+x] = float32(acc)
		}
	}
	return out
}

// RemapCubic implements vision.Ops with replicated borders.
func (*Ops) RemapCubic(src *imgbuf.Image, mapX, mapY *imgbuf.Grid) *imgbuf.Image {
	w, h, c := mapX.W, mapX.H, src.C
	out := imgbuf.New(w, h, c)
	if src.W == 0 || src.H == 0 {
		return out
	}

	var acc [4]float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx := float64(mapX.Data[y*w+x])
			fy := float64(mapY.Data[y*w+x])
			if math.IsNaN(fx) || math.IsNaN(fy) {
				fx, fy = 0, 0
			}
			fx = math.Max(-1, math.Min(float64(src.W), fx))
			fy = math.Max(-1, math.Min(float64(src.H), fy))

			bx, by := math.Floor(fx), math.Floor(fy)
			wx := cubicWeights(fx - bx)
			wy := cubicWeights(fy - by)
			ix, iy := int(bx), int(by)

			for k := 0; k < c; k++ {
				acc[k] = 0
			}
			for j := 0; j < 4; j++ {
				sy := clampInt(iy-1+j, 0, src.H-1)
				for i := 0; i < 4; i++ {
					sxi := clampInt(ix-1+i, 0, src.W-1)
					wt := wy[j] * wx[i]
					base := (sy*src.W + sxi) * c
					for k := 0; k < c; k++ {
						acc[k] += wt * float64(src.Pix[base+k])
					}
				}
			}
			o := (y*w + x) * c
			for k := 0; k < c; k++ {
				out.Pix[o+k] = clampByte(acc[k])
			}
		}
	}
	return out
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
