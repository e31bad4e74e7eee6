// Package pose recovers the camera pose of a planar page from four corner
// correspondences.
package pose

import (
	"errors"
	"fmt"
	"math"

	"page-dewarp/internal/model"
	"page-dewarp/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerate is returned when the correspondences cannot determine a
// homography, e.g. collinear or coincident corners.
var ErrDegenerate = errors.New("degenerate corner configuration")

// minConditioning is the smallest accepted ratio between the last and first
// significant singular values of the DLT system.
const minConditioning = 1e-10

// Pose is a rigid transform from page coordinates (z = 0 plane) to camera
// coordinates.
type Pose struct {
	Rvec geometry.Vec3
	Tvec geometry.Vec3
}

// Homography computes H with img ~ H·obj using the direct linear transform.
// Both point sets need at least four entries and must span a proper
// quadrilateral.
func Homography(obj, img []geometry.Point2D) (model.Mat3, error) {
	if len(obj) != len(img) {
		return model.Mat3{}, fmt.Errorf("point count mismatch: %d vs %d", len(obj), len(img))
	}
	if len(obj) < 4 {
		return model.Mat3{}, fmt.Errorf("need at least 4 points, got %d: %w", len(obj), ErrDegenerate)
	}
	if !spansArea(obj) || !spansArea(img) {
		return model.Mat3{}, ErrDegenerate
	}

	// Condition both sets so the system is well scaled whatever units arrive.
	tObj, nObj := normalize(obj)
	tImg, nImg := normalize(img)

	rows := 2 * len(obj)
	if rows < 9 {
		rows = 9 // pad with a zero row so the null vector is in V
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range nObj {
		x, y := nObj[i].X, nObj[i].Y
		u, v := nImg[i].X, nImg[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return model.Mat3{}, fmt.Errorf("homography SVD did not converge: %w", ErrDegenerate)
	}
	vals := svd.Values(nil)
	if vals[0] == 0 || vals[7]/vals[0] < minConditioning {
		return model.Mat3{}, fmt.Errorf("rank-deficient correspondence system: %w", ErrDegenerate)
	}
	var v mat.Dense
	svd.VTo(&v)

	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	// Undo conditioning: H = Timg⁻¹ · Hn · Tobj.
	var tImgInv mat.Dense
	if err := tImgInv.Inverse(tImg); err != nil {
		return model.Mat3{}, fmt.Errorf("image conditioning: %w", ErrDegenerate)
	}
	var h mat.Dense
	h.Product(&tImgInv, hn, tObj)

	if math.Abs(mat.Det(&h)) < 1e-14*mat.Norm(&h, 2)*mat.Norm(&h, 2)*mat.Norm(&h, 2) {
		return model.Mat3{}, fmt.Errorf("singular homography: %w", ErrDegenerate)
	}

	var out model.Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = h.At(i, j)
		}
	}
	return out, nil
}

// Estimate solves the pose of a planar object with corners obj (page units)
// imaged at img (normalized image coordinates) by a pinhole camera with the
// given focal length and principal point at the origin.
func Estimate(obj, img []geometry.Point2D, focal float64) (Pose, error) {
	if !(focal > 0) {
		return Pose{}, fmt.Errorf("focal length %v must be positive", focal)
	}
	h, err := Homography(obj, img)
	if err != nil {
		return Pose{}, err
	}
	return Decompose(h, focal)
}

// Decompose splits a plane-to-image homography into rotation and translation
// for the camera K = diag(focal, focal, 1).
func Decompose(h model.Mat3, focal float64) (Pose, error) {
	// M = K⁻¹·H
	m := h
	for j := 0; j < 3; j++ {
		m[0][j] /= focal
		m[1][j] /= focal
	}
	h1, h2, h3 := m.Col(0), m.Col(1), m.Col(2)

	n1, n2 := h1.Norm(), h2.Norm()
	if n1 == 0 || n2 == 0 || math.IsNaN(n1+n2) {
		return Pose{}, fmt.Errorf("zero homography column: %w", ErrDegenerate)
	}
	lambda := 2 / (n1 + n2)
	if h3.Z < 0 {
		// The page must lie in front of the camera.
		lambda = -lambda
	}

	r1 := h1.Scale(lambda)
	r2 := h2.Scale(lambda)
	r3 := r1.Cross(r2)
	t := h3.Scale(lambda)

	rot, err := orthonormalize(model.Mat3{
		{r1.X, r2.X, r3.X},
		{r1.Y, r2.Y, r3.Y},
		{r1.Z, r2.Z, r3.Z},
	})
	if err != nil {
		return Pose{}, err
	}
	return Pose{Rvec: model.RotationToRvec(rot), Tvec: t}, nil
}

// orthonormalize returns the rotation closest to r in the Frobenius norm.
func orthonormalize(r model.Mat3) (model.Mat3, error) {
	d := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d.Set(i, j, r[i][j])
		}
	}
	var svd mat.SVD
	if !svd.Factorize(d, mat.SVDFull) {
		return model.Mat3{}, fmt.Errorf("rotation SVD did not converge: %w", ErrDegenerate)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var q mat.Dense
	q.Mul(&u, v.T())
	if mat.Det(&q) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		q.Mul(&u, v.T())
	}

	var out model.Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = q.At(i, j)
		}
	}
	return out, nil
}

// normalize translates pts to their centroid and scales them to mean
// distance √2, returning the applied similarity.
func normalize(pts []geometry.Point2D) (*mat.Dense, []geometry.Point2D) {
	c := geometry.Centroid(pts)
	var mean float64
	for _, p := range pts {
		mean += p.Distance(c)
	}
	mean /= float64(len(pts))
	s := math.Sqrt2 / mean

	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		out[i] = p.Sub(c).Scale(s)
	}
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	})
	return t, out
}

// spansArea reports whether the convex hull of pts has non-negligible area
// relative to the squared extent of the set.
func spansArea(pts []geometry.Point2D) bool {
	bb := geometry.BoundingBox(pts)
	extent := math.Max(bb.Width, bb.Height)
	if !(extent > 0) || math.IsInf(extent, 0) {
		return false
	}
	hull := geometry.ConvexHull(pts)
	return geometry.PolygonArea(hull) > 1e-6*extent*extent
}
