// Package model holds the page model the optimizer fits: the parameter
// vector layout, the surface shape, and the camera projection that maps
// page coordinates to normalized image coordinates.
package model

import (
	"fmt"

	"page-dewarp/pkg/geometry"
)

// Fixed offsets into the parameter vector.
const (
	RvecIndex  = 0
	TvecIndex  = 3
	ShapeIndex = 6
)

// Layout describes the parameter vector
// [rvec(3), tvec(3), shape(NumShape), spanY(NumSpans), keypointX(NumKeypoints)].
type Layout struct {
	NumShape     int
	NumSpans     int
	NumKeypoints int
}

// Len returns the required vector length.
func (l Layout) Len() int {
	return ShapeIndex + l.NumShape + l.NumSpans + l.NumKeypoints
}

// SpanIndex returns the index of span i's y offset.
func (l Layout) SpanIndex(i int) int {
	return ShapeIndex + l.NumShape + i
}

// KeypointIndex returns the index of keypoint k's x offset.
func (l Layout) KeypointIndex(k int) int {
	return ShapeIndex + l.NumShape + l.NumSpans + k
}

// ParameterVector is a view of a flat parameter slice through a Layout.
// The slice is shared, not copied, so the optimizer can hand its working
// point straight to the projection.
type ParameterVector struct {
	Layout Layout
	Values []float64
}

// NewParameterVector allocates a zeroed vector for layout.
func NewParameterVector(layout Layout) *ParameterVector {
	return &ParameterVector{Layout: layout, Values: make([]float64, layout.Len())}
}

// View wraps values without copying. It panics if the length does not match
// the layout; a mismatch is a programming error.
func View(layout Layout, values []float64) ParameterVector {
	pv := ParameterVector{Layout: layout, Values: values}
	pv.MustValidate()
	return pv
}

// MustValidate panics when len(Values) != Layout.Len().
func (p ParameterVector) MustValidate() {
	if len(p.Values) != p.Layout.Len() {
		panic(fmt.Sprintf("model: parameter vector length %d, layout requires %d", len(p.Values), p.Layout.Len()))
	}
}

// Len returns the vector length.
func (p ParameterVector) Len() int {
	return len(p.Values)
}

// Rvec returns the axis-angle rotation.
func (p ParameterVector) Rvec() geometry.Vec3 {
	v := p.Values[RvecIndex : RvecIndex+3]
	return geometry.Vec3{X: v[0], Y: v[1], Z: v[2]}
}

// SetRvec stores the axis-angle rotation.
func (p ParameterVector) SetRvec(r geometry.Vec3) {
	p.Values[RvecIndex], p.Values[RvecIndex+1], p.Values[RvecIndex+2] = r.X, r.Y, r.Z
}

// Tvec returns the translation.
func (p ParameterVector) Tvec() geometry.Vec3 {
	v := p.Values[TvecIndex : TvecIndex+3]
	return geometry.Vec3{X: v[0], Y: v[1], Z: v[2]}
}

// SetTvec stores the translation.
func (p ParameterVector) SetTvec(t geometry.Vec3) {
	p.Values[TvecIndex], p.Values[TvecIndex+1], p.Values[TvecIndex+2] = t.X, t.Y, t.Z
}

// Shape returns the surface shape parameters (aliasing Values).
func (p ParameterVector) Shape() []float64 {
	return p.Values[ShapeIndex : ShapeIndex+p.Layout.NumShape]
}

// ClampShape projects the shape parameters into [-ShapeLimit, ShapeLimit]
// and returns how many were moved. The surfaces clamp on evaluation, so the
// projection leaves the modeled page unchanged.
func (p ParameterVector) ClampShape() int {
	moved := 0
	for i, v := range p.Shape() {
		if c := clampShape(v); c != v {
			p.Values[ShapeIndex+i] = c
			moved++
		}
	}
	return moved
}

// Clone returns a deep copy.
func (p ParameterVector) Clone() *ParameterVector {
	vals := make([]float64, len(p.Values))
	copy(vals, p.Values)
	return &ParameterVector{Layout: p.Layout, Values: vals}
}

// KeypointIndex maps each observed point to the parameters holding its page
// coordinates. Entry 0 is the page origin, pinned to (0, 0); entry i > 0 is
// keypoint i-1, whose x comes from its own slot and whose y comes from its
// span's slot.
type KeypointIndex struct {
	XIdx []int
	YIdx []int
}

// NewKeypointIndex builds the index for spans with the given sample counts.
func NewKeypointIndex(layout Layout, spanCounts []int) KeypointIndex {
	total := 0
	for _, c := range spanCounts {
		total += c
	}
	if total != layout.NumKeypoints || len(spanCounts) != layout.NumSpans {
		panic(fmt.Sprintf("model: span counts (%d spans, %d points) do not match layout (%d, %d)",
			len(spanCounts), total, layout.NumSpans, layout.NumKeypoints))
	}

	idx := KeypointIndex{
		XIdx: make([]int, total+1),
		YIdx: make([]int, total+1),
	}
	idx.XIdx[0], idx.YIdx[0] = -1, -1
	k := 0
	for span, count := range spanCounts {
		for j := 0; j < count; j++ {
			idx.XIdx[k+1] = layout.KeypointIndex(k)
			idx.YIdx[k+1] = layout.SpanIndex(span)
			k++
		}
	}
	return idx
}

// Len returns the number of observed points, including the origin.
func (k KeypointIndex) Len() int {
	return len(k.XIdx)
}

// PagePoints fills dst with the page coordinates the index selects from values.
func (k KeypointIndex) PagePoints(values []float64, dst []geometry.Point2D) []geometry.Point2D {
	dst = dst[:0]
	for i := range k.XIdx {
		if k.XIdx[i] < 0 {
			dst = append(dst, geometry.Point2D{})
			continue
		}
		dst = append(dst, geometry.Point2D{X: values[k.XIdx[i]], Y: values[k.YIdx[i]]})
	}
	return dst
}
