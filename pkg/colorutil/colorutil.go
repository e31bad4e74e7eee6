// Package colorutil provides shared color utilities for debug overlays.
package colorutil

import (
	"image/color"
	"math"
)

// Overlay colors.
var (
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Red   = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// HSVToRGB converts HSV (OpenCV convention: H 0-180, S 0-255, V 0-255) to RGB (0-255).
func HSVToRGB(h, s, v float64) (r, g, b float64) {
	h = math.Mod(h*2, 360)
	if h < 0 {
		h += 360
	}
	s /= 255.0
	v /= 255.0

	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return (r + m) * 255, (g + m) * 255, (b + m) * 255
}

// Palette returns the i-th of n evenly spaced, fully saturated hues.
// Used to give neighbouring spans distinguishable colors.
func Palette(i, n int) color.RGBA {
	if n <= 0 {
		return White
	}
	h := 180 * float64(i%n) / float64(n)
	r, g, b := HSVToRGB(h, 255, 255)
	return color.RGBA{R: uint8(math.Round(r)), G: uint8(math.Round(g)), B: uint8(math.Round(b)), A: 255}
}
