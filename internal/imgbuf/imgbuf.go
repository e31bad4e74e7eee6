// Package imgbuf provides the raster buffers the dewarping engine works on.
//
// The engine is written against the small Buffer capability (dimensions,
// channel count, pixel access) rather than a particular vision library, so
// hosts may hand in any decoded image and backends may keep their own native
// representations internally.
package imgbuf

import (
	"fmt"
	"image"
	"image/color"
)

// Buffer is a read-only multi-channel 8-bit raster.
type Buffer interface {
	Width() int
	Height() int
	Channels() int
	At(x, y, c int) uint8
}

// Image is an interleaved 8-bit raster with 1, 3 (RGB) or 4 (RGBA) channels.
type Image struct {
	W, H, C int
	Pix     []uint8
}

// New allocates a zeroed image.
func New(w, h, c int) *Image {
	if w < 0 || h < 0 {
		panic(fmt.Sprintf("imgbuf: negative size %dx%d", w, h))
	}
	if c != 1 && c != 3 && c != 4 {
		panic(fmt.Sprintf("imgbuf: unsupported channel count %d", c))
	}
	return &Image{W: w, H: h, C: c, Pix: make([]uint8, w*h*c)}
}

func (m *Image) Width() int    { return m.W }
func (m *Image) Height() int   { return m.H }
func (m *Image) Channels() int { return m.C }

// At returns channel c of the pixel at (x, y).
func (m *Image) At(x, y, c int) uint8 {
	return m.Pix[(y*m.W+x)*m.C+c]
}

// Set writes channel c of the pixel at (x, y).
func (m *Image) Set(x, y, c int, v uint8) {
	m.Pix[(y*m.W+x)*m.C+c] = v
}

// Empty reports whether the image has no pixels.
func (m *Image) Empty() bool {
	return m == nil || m.W == 0 || m.H == 0
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	out := &Image{W: m.W, H: m.H, C: m.C, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// Copy materializes any Buffer as an Image.
func Copy(b Buffer) *Image {
	if img, ok := b.(*Image); ok {
		return img.Clone()
	}
	w, h, c := b.Width(), b.Height(), b.Channels()
	out := New(w, h, c)
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for k := 0; k < c; k++ {
				out.Pix[i] = b.At(x, y, k)
				i++
			}
		}
	}
	return out
}

// Gray is a single-channel 8-bit raster. Masks use 0 and 255.
type Gray struct {
	W, H int
	Pix  []uint8
}

// NewGray allocates a zeroed single-channel raster.
func NewGray(w, h int) *Gray {
	return &Gray{W: w, H: h, Pix: make([]uint8, w*h)}
}

func (g *Gray) Width() int           { return g.W }
func (g *Gray) Height() int          { return g.H }
func (g *Gray) Channels() int        { return 1 }
func (g *Gray) At(x, y, _ int) uint8 { return g.Pix[y*g.W+x] }

// Get returns the value at (x, y).
func (g *Gray) Get(x, y int) uint8 {
	return g.Pix[y*g.W+x]
}

// SetAt writes the value at (x, y).
func (g *Gray) SetAt(x, y int, v uint8) {
	g.Pix[y*g.W+x] = v
}

// Clone returns a deep copy.
func (g *Gray) Clone() *Gray {
	out := NewGray(g.W, g.H)
	copy(out.Pix, g.Pix)
	return out
}

// FillRect sets every pixel of r (clipped to the raster) to v.
func (g *Gray) FillRect(r image.Rectangle, v uint8) {
	r = r.Intersect(image.Rect(0, 0, g.W, g.H))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := g.Pix[y*g.W : (y+1)*g.W]
		for x := r.Min.X; x < r.Max.X; x++ {
			row[x] = v
		}
	}
}

// MinInPlace replaces every pixel with min(g, other). Both rasters must match in size.
func (g *Gray) MinInPlace(other *Gray) {
	if g.W != other.W || g.H != other.H {
		panic(fmt.Sprintf("imgbuf: size mismatch %dx%d vs %dx%d", g.W, g.H, other.W, other.H))
	}
	for i, v := range other.Pix {
		if v < g.Pix[i] {
			g.Pix[i] = v
		}
	}
}

// CountNonZero returns the number of non-zero pixels.
func (g *Gray) CountNonZero() int {
	n := 0
	for _, v := range g.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// ToImage converts to a standard library image.
func (g *Gray) ToImage() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, g.W, g.H))
	copy(out.Pix, g.Pix)
	return out
}

// Grid is a single-channel float32 raster, used for remap coordinate maps.
type Grid struct {
	W, H int
	Data []float32
}

// NewGrid allocates a zeroed grid.
func NewGrid(w, h int) *Grid {
	return &Grid{W: w, H: h, Data: make([]float32, w*h)}
}

// Get returns the value at (x, y).
func (g *Grid) Get(x, y int) float32 {
	return g.Data[y*g.W+x]
}

// SetAt writes the value at (x, y).
func (g *Grid) SetAt(x, y int, v float32) {
	g.Data[y*g.W+x] = v
}

// FromImage converts a decoded image to an RGB or RGBA Image. Images that
// carry an alpha channel (NRGBA, RGBA and their 64-bit variants) become
// 4-channel, everything else 3-channel.
func FromImage(img image.Image) *Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.NRGBA:
		out := New(w, h, 4)
		for y := 0; y < h; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*w*4:(y+1)*w*4], src.Pix[off:off+w*4])
		}
		return out
	case *image.RGBA, *image.RGBA64, *image.NRGBA64:
		out := New(w, h, 4)
		i := 0
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				out.Pix[i+0] = c.R
				out.Pix[i+1] = c.G
				out.Pix[i+2] = c.B
				out.Pix[i+3] = c.A
				i += 4
			}
		}
		return out
	}

	out := New(w, h, 3)
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.Pix[i+0] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(bb >> 8)
			i += 3
		}
	}
	return out
}

// ToImage converts back to a standard library image in the same channel
// convention: 1 channel becomes *image.Gray, 3 and 4 become *image.NRGBA.
func (m *Image) ToImage() image.Image {
	r := image.Rect(0, 0, m.W, m.H)
	switch m.C {
	case 1:
		out := image.NewGray(r)
		copy(out.Pix, m.Pix)
		return out
	case 4:
		out := image.NewNRGBA(r)
		copy(out.Pix, m.Pix)
		return out
	}
	out := image.NewNRGBA(r)
	for i, j := 0, 0; i < len(m.Pix); i, j = i+3, j+4 {
		out.Pix[j+0] = m.Pix[i+0]
		out.Pix[j+1] = m.Pix[i+1]
		out.Pix[j+2] = m.Pix[i+2]
		out.Pix[j+3] = 255
	}
	return out
}

// GrayToChannels expands a single-channel raster into an Image with c channels.
// The alpha channel of a 4-channel result is opaque.
func GrayToChannels(g *Gray, c int) *Image {
	out := New(g.W, g.H, c)
	for i, v := range g.Pix {
		base := i * c
		switch c {
		case 1:
			out.Pix[base] = v
		case 3:
			out.Pix[base], out.Pix[base+1], out.Pix[base+2] = v, v, v
		case 4:
			out.Pix[base], out.Pix[base+1], out.Pix[base+2], out.Pix[base+3] = v, v, v, 255
		}
	}
	return out
}
