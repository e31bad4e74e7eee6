package goops

import (
	"image"

	"page-dewarp/internal/imgbuf"
	"page-dewarp/internal/vision"
)

// FindBlobs implements vision.Ops with 8-connected component labeling.
// Components are emitted in raster order of their first pixel, and each
// mask has interior holes filled so it matches a filled external contour.
func (*Ops) FindBlobs(mask *imgbuf.Gray) []vision.Blob {
	w, h := mask.W, mask.H
	labels := make([]int32, w*h)
	var blobs []vision.Blob
	var stack []int

	next := int32(0)
	for start := 0; start < w*h; start++ {
		if mask.Pix[start] == 0 || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next

		minX, minY := start%w, start/w
		maxX, maxY := minX, minY
		pixels := []int{start}

		stack = append(stack[:0], start)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			px, py := p%w, p/w
			for dy := -1; dy <= 1; dy++ {
				ny := py + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := px + dx
					if (dx == 0 && dy == 0) || nx < 0 || nx >= w {
						continue
					}
					q := ny*w + nx
					if mask.Pix[q] == 0 || labels[q] != 0 {
						continue
					}
					labels[q] = next
					pixels = append(pixels, q)
					stack = append(stack, q)
					minX, maxX = min(minX, nx), max(maxX, nx)
					minY, maxY = min(minY, ny), max(maxY, ny)
				}
			}
		}

		rect := image.Rect(minX, minY, maxX+1, maxY+1)
		local := imgbuf.NewGray(rect.Dx(), rect.Dy())
		for _, p := range pixels {
			local.SetAt(p%w-minX, p/w-minY, 1)
		}
		fillHoles(local)
		blobs = append(blobs, vision.Blob{Rect: rect, Mask: local})
	}
	return blobs
}

// fillHoles sets every background pixel that is not 4-connected to the
// border of m.
func fillHoles(m *imgbuf.Gray) {
	w, h := m.W, m.H
	outside := make([]bool, w*h)
	var stack []int
	push := func(x, y int) {
		i := y*w + x
		if m.Pix[i] == 0 && !outside[i] {
			outside[i] = true
			stack = append(stack, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}
	for i, v := range m.Pix {
		if v == 0 && !outside[i] {
			m.Pix[i] = 1
		}
	}
}
