// Package synth renders synthetic page photographs with known geometry, for
// tests and for exercising the pipeline without real scans.
package synth

import (
	"math"

	"page-dewarp/internal/imgbuf"
)

// Page describes a white page with black text-like bars.
type Page struct {
	Width, Height int

	// Lines is the number of bars, spaced LineSpacing apart starting at Top.
	Lines       int
	Top         int
	LineSpacing int
	LineHeight  int

	// Left and Right bound every bar horizontally.
	Left, Right int

	// Bow displaces bar rows by Bow·sin(π·t) across the bar, t in [0, 1],
	// to imitate a curled page. Zero gives straight bars.
	Bow float64

	// Gaps splits each bar into words separated by Gap pixels every WordWidth
	// pixels. Zero WordWidth draws solid bars.
	WordWidth int
	Gap       int
}

// DefaultPage is a 1000×1400 portrait page with ten straight bars.
func DefaultPage() Page {
	return Page{
		Width:       1000,
		Height:      1400,
		Lines:       10,
		Top:         200,
		LineSpacing: 100,
		LineHeight:  8,
		Left:        150,
		Right:       850,
	}
}

// LineTop returns the top row of bar i at column x.
func (p Page) LineTop(i, x int) int {
	y := p.Top + i*p.LineSpacing
	if p.Bow != 0 && p.Right > p.Left {
		t := float64(x-p.Left) / float64(p.Right-p.Left)
		y += int(math.Round(p.Bow * math.Sin(math.Pi*t)))
	}
	return y
}

// Render draws the page as a 3-channel image.
func (p Page) Render() *imgbuf.Image {
	img := imgbuf.New(p.Width, p.Height, 3)
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for i := 0; i < p.Lines; i++ {
		for x := p.Left; x < p.Right && x < p.Width; x++ {
			if x < 0 || p.inGap(x) {
				continue
			}
			top := p.LineTop(i, x)
			for y := top; y < top+p.LineHeight; y++ {
				if y < 0 || y >= p.Height {
					continue
				}
				img.Set(x, y, 0, 0)
				img.Set(x, y, 1, 0)
				img.Set(x, y, 2, 0)
			}
		}
	}
	return img
}

func (p Page) inGap(x int) bool {
	if p.WordWidth <= 0 || p.Gap <= 0 {
		return false
	}
	return (x-p.Left)%(p.WordWidth+p.Gap) >= p.WordWidth
}

// Blank returns a uniformly white w×h image.
func Blank(w, h int) *imgbuf.Image {
	img := imgbuf.New(w, h, 3)
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}
