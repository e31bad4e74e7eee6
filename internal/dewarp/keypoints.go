package dewarp

import (
	"page-dewarp/internal/model"
	"page-dewarp/pkg/geometry"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// sampleSpans samples each span along its contours every spanPxPerStep
// columns. Each sample is the mask-weighted mean row of its column, which
// tracks the middle of the text line. Points are returned in normalized
// coordinates of the w×h detection image. Spans yielding fewer than two
// points are dropped; the second return value counts them.
func sampleSpans(cs []contourInfo, spans []span, w, h, step int) ([][]geometry.Point2D, int) {
	var out [][]geometry.Point2D
	dropped := 0
	rows, weights := []float64{}, []float64{}

	for _, s := range spans {
		var pts []geometry.Point2D
		for _, k := range s {
			c := &cs[k]
			m := c.mask
			start := ((m.W - 1) % step) / 2
			for x := start; x < m.W; x += step {
				rows, weights = rows[:0], weights[:0]
				for y := 0; y < m.H; y++ {
					if m.Pix[y*m.W+x] != 0 {
						rows = append(rows, float64(y))
						weights = append(weights, float64(m.Pix[y*m.W+x]))
					}
				}
				if len(rows) == 0 {
					continue
				}
				mean := stat.Mean(rows, weights)
				px := geometry.Point2D{
					X: float64(x + c.rect.Min.X),
					Y: mean + float64(c.rect.Min.Y),
				}
				pts = append(pts, pix2norm(w, h, px))
			}
		}
		if len(pts) < 2 {
			dropped++
			continue
		}
		out = append(out, pts)
	}
	return out, dropped
}

// pageKeypoints is the observed geometry the model is fitted to.
type pageKeypoints struct {
	xDir, yDir geometry.Point2D
	// corners of the page in normalized image coordinates: p00, p10, p11, p01.
	corners []geometry.Point2D
	// ycoords[i] is span i's mean offset from the page top along yDir.
	ycoords []float64
	// xcoords[i][j] is point j of span i's offset from the page left along xDir.
	xcoords [][]float64
}

// spanAxis is the first principal component of pts, oriented to +x.
func spanAxis(pts []geometry.Point2D) geometry.Point2D {
	data := make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		data = append(data, p.X, p.Y)
	}
	var pc stat.PC
	if !pc.PrincipalComponents(mat.NewDense(len(pts), 2, data), nil) {
		return pts[len(pts)-1].Sub(pts[0]).Normalized()
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	v := geometry.Point2D{X: vecs.At(0, 0), Y: vecs.At(1, 0)}
	if v.X < 0 {
		v = v.Scale(-1)
	}
	return v
}

// keypointsFromSamples derives page axes from the spans, projects the page
// outline onto them to find the corners, and expresses every sample as page
// offsets. outline is in normalized coordinates.
func keypointsFromSamples(samples [][]geometry.Point2D, outline []geometry.Point2D) pageKeypoints {
	var acc geometry.Point2D
	var total float64
	for _, pts := range samples {
		weight := pts[len(pts)-1].Distance(pts[0])
		acc = acc.Add(spanAxis(pts).Scale(weight))
		total += weight
	}
	xDir := geometry.Point2D{X: 1}
	if total > 0 && acc.Norm() > 0 {
		xDir = acc.Normalized()
	}
	if xDir.X < 0 {
		xDir = xDir.Scale(-1)
	}
	yDir := xDir.Perp()

	hull := geometry.ConvexHull(outline)
	px0, px1 := xDir.Dot(hull[0]), xDir.Dot(hull[0])
	py0, py1 := yDir.Dot(hull[0]), yDir.Dot(hull[0])
	for _, p := range hull[1:] {
		px, py := xDir.Dot(p), yDir.Dot(p)
		px0, px1 = min(px0, px), max(px1, px)
		py0, py1 = min(py0, py), max(py1, py)
	}

	corner := func(x, y float64) geometry.Point2D {
		return xDir.Scale(x).Add(yDir.Scale(y))
	}
	kp := pageKeypoints{
		xDir:    xDir,
		yDir:    yDir,
		corners: []geometry.Point2D{corner(px0, py0), corner(px1, py0), corner(px1, py1), corner(px0, py1)},
		ycoords: make([]float64, len(samples)),
		xcoords: make([][]float64, len(samples)),
	}

	ys := []float64{}
	for i, pts := range samples {
		ys = ys[:0]
		xs := make([]float64, len(pts))
		for j, p := range pts {
			xs[j] = xDir.Dot(p) - px0
			ys = append(ys, yDir.Dot(p))
		}
		kp.ycoords[i] = stat.Mean(ys, nil) - py0
		kp.xcoords[i] = xs
	}
	return kp
}

// roughDims estimates the page size from the corner spacing.
func (kp pageKeypoints) roughDims() geometry.Size {
	return geometry.Size{
		Width:  kp.corners[1].Distance(kp.corners[0]),
		Height: kp.corners[3].Distance(kp.corners[0]),
	}
}

// objectCorners is the page rectangle of the given size on the z = 0 plane.
func objectCorners(dims geometry.Size) []geometry.Point2D {
	return []geometry.Point2D{
		{X: 0, Y: 0},
		{X: dims.Width, Y: 0},
		{X: dims.Width, Y: dims.Height},
		{X: 0, Y: dims.Height},
	}
}

// observedPoints is the page origin corner followed by every span sample.
func observedPoints(kp pageKeypoints, samples [][]geometry.Point2D) []geometry.Point2D {
	out := []geometry.Point2D{kp.corners[0]}
	for _, pts := range samples {
		out = append(out, pts...)
	}
	return out
}

// layoutFor sizes the parameter vector for the samples and surface.
func layoutFor(samples [][]geometry.Point2D, surface model.Surface) (model.Layout, []int) {
	counts := make([]int, len(samples))
	total := 0
	for i, pts := range samples {
		counts[i] = len(pts)
		total += len(pts)
	}
	return model.Layout{NumShape: surface.NumParams(), NumSpans: len(samples), NumKeypoints: total}, counts
}

// initialParams packs the pose, a flat surface and the keypoint offsets.
func initialParams(layout model.Layout, rvec, tvec geometry.Vec3, kp pageKeypoints) *model.ParameterVector {
	pv := model.NewParameterVector(layout)
	pv.SetRvec(rvec)
	pv.SetTvec(tvec)
	for i, y := range kp.ycoords {
		pv.Values[layout.SpanIndex(i)] = y
	}
	k := 0
	for _, xs := range kp.xcoords {
		for _, x := range xs {
			pv.Values[layout.KeypointIndex(k)] = x
			k++
		}
	}
	return pv
}
