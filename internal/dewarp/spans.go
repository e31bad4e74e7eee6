package dewarp

import (
	"math"
	"sort"

	"page-dewarp/pkg/geometry"
)

// span is an ordered chain of contour indices, left to right.
type span []int

// candidateEdge is a possible link from contour a (left) to contour b.
type candidateEdge struct {
	score float64
	a, b  int
}

// scoreEdge scores linking contours i and j, ordering them so the left
// one comes first. It reports false when the pair exceeds any edge limit.
func scoreEdge(cs []contourInfo, i, j int, cfg Config) (candidateEdge, bool) {
	a, b := &cs[i], &cs[j]
	if a.point0.X > b.point1.X {
		a, b = b, a
		i, j = j, i
	}

	overlap := math.Max(a.localOverlap(b), b.localOverlap(a))
	overall := b.center.Sub(a.center).Angle()
	deltaAngle := math.Max(
		geometry.AngleDist(a.angle, overall),
		geometry.AngleDist(b.angle, overall),
	) * 180 / math.Pi
	dist := b.point0.Distance(a.point1)

	if dist > cfg.EdgeMaxLength || overlap > cfg.EdgeMaxOverlap || deltaAngle > cfg.EdgeMaxAngle {
		return candidateEdge{}, false
	}
	return candidateEdge{score: dist + deltaAngle*cfg.EdgeAngleCost, a: i, b: j}, true
}

// assembleSpans sorts contours by the top of their bounding box, links them
// greedily into chains by edge score, and returns every chain whose
// projected width exceeds the configured minimum. cs is reordered and its
// link fields are overwritten.
func assembleSpans(cs []contourInfo, cfg Config) []span {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].rect.Min.Y < cs[j].rect.Min.Y
	})
	for i := range cs {
		cs[i].pred, cs[i].succ = -1, -1
	}

	var edges []candidateEdge
	for i := range cs {
		for j := 0; j < i; j++ {
			if e, ok := scoreEdge(cs, i, j, cfg); ok {
				edges = append(edges, e)
			}
		}
	}
	// Stable, so equal scores keep generation order.
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].score < edges[j].score
	})

	for _, e := range edges {
		if cs[e.a].succ != -1 || cs[e.b].pred != -1 {
			continue
		}
		if chainHead(cs, e.a) == e.b {
			continue // would close a cycle
		}
		cs[e.a].succ = e.b
		cs[e.b].pred = e.a
	}

	visited := make([]bool, len(cs))
	var spans []span
	for i := range cs {
		if visited[i] {
			continue
		}
		var s span
		var width float64
		for k := chainHead(cs, i); k != -1; k = cs[k].succ {
			visited[k] = true
			s = append(s, k)
			width += cs[k].width()
		}
		if width >= cfg.SpanMinWidth {
			spans = append(spans, s)
		}
	}
	return spans
}

// chainHead follows pred links from i to the start of its chain.
func chainHead(cs []contourInfo, i int) int {
	for cs[i].pred != -1 {
		i = cs[i].pred
	}
	return i
}
