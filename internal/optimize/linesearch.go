package optimize

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	goldRatio    = 1.618034
	cGold        = 0.3819660
	growLimit    = 110.0
	bracketIters = 1000
	brentIters   = 500
	tiny         = 1e-21
	zeps         = 1e-11
)

// lineSearcher minimizes the objective along a ray using a bracketing step
// followed by Brent's method.
type lineSearcher struct {
	obj *counted
	tol float64
	buf []float64
}

func newLineSearcher(obj *counted, n int, tol float64) *lineSearcher {
	return &lineSearcher{obj: obj, tol: tol, buf: make([]float64, n)}
}

// search moves x to the minimum of f along d and returns the new value and
// the step taken. f0 is the objective at x. x is left unchanged when no step
// improves on f0.
func (ls *lineSearcher) search(x, d []float64, f0 float64) (float64, float64) {
	if floats.Norm(d, 2) == 0 {
		return f0, 0
	}
	phi := func(a float64) float64 {
		if a == 0 {
			return f0
		}
		floats.AddScaledTo(ls.buf, x, a, d)
		return ls.obj.eval(ls.buf)
	}

	ax, bx, cx, fa, fb, fc := bracket(phi, 0, 1, f0)
	alpha, fmin := brent(phi, ax, bx, cx, fa, fb, fc, ls.tol)
	if !(fmin < f0) {
		return f0, 0
	}
	floats.AddScaled(x, alpha, d)
	return fmin, alpha
}

// bracket finds a < b < c (or c < b < a) with f(b) below f(a) and f(c),
// starting from the two points ax and bx. Non-finite values compare as +Inf,
// so the search walks back from regions where the model breaks down.
func bracket(f func(float64) float64, ax, bx, fa float64) (a, b, c, fa2, fb, fc float64) {
	fb = f(bx)
	if fb > fa {
		ax, bx = bx, ax
		fa, fb = fb, fa
	}
	cx := bx + goldRatio*(bx-ax)
	fc = f(cx)

	for i := 0; fb > fc && i < bracketIters; i++ {
		r := (bx - ax) * (fb - fc)
		q := (bx - cx) * (fb - fa)
		val := q - r
		denom := 2 * math.Max(math.Abs(val), tiny)
		if val < 0 {
			denom = -denom
		}
		u := bx - ((bx-cx)*q-(bx-ax)*r)/denom
		ulim := bx + growLimit*(cx-bx)

		var fu float64
		switch {
		case (bx-u)*(u-cx) > 0:
			fu = f(u)
			if fu < fc {
				ax, bx = bx, u
				fa, fb = fb, fu
				return ax, bx, cx, fa, fb, fc
			} else if fu > fb {
				cx, fc = u, fu
				return ax, bx, cx, fa, fb, fc
			}
			u = cx + goldRatio*(cx-bx)
			fu = f(u)
		case (cx-u)*(u-ulim) > 0:
			fu = f(u)
			if fu < fc {
				bx, cx = cx, u
				u = cx + goldRatio*(cx-bx)
				fb, fc = fc, fu
				fu = f(u)
			}
		case (u-ulim)*(ulim-cx) >= 0:
			u = ulim
			fu = f(u)
		default:
			u = cx + goldRatio*(cx-bx)
			fu = f(u)
		}
		ax, bx, cx = bx, cx, u
		fa, fb, fc = fb, fc, fu
	}
	return ax, bx, cx, fa, fb, fc
}

// brent refines a bracket (ax, bx, cx) with parabolic interpolation falling
// back to golden-section steps. It returns the best abscissa and its value.
func brent(f func(float64) float64, ax, bx, cx, fa, fb, fc, tol float64) (float64, float64) {
	a, b := math.Min(ax, cx), math.Max(ax, cx)
	x, w, v := bx, bx, bx
	fx, fw, fv := fb, fb, fb

	// The bracket ends may already beat bx when bracketing gave up early.
	if fa < fx {
		x, fx = ax, fa
	}
	if fc < fx {
		x, fx = cx, fc
	}
	w, v, fw, fv = x, x, fx, fx

	var d, e float64
	for i := 0; i < brentIters; i++ {
		xm := 0.5 * (a + b)
		tol1 := tol*math.Abs(x) + zeps
		tol2 := 2 * tol1
		if math.Abs(x-xm) <= tol2-0.5*(b-a) {
			break
		}

		golden := true
		if math.Abs(e) > tol1 {
			r := (x - w) * (fx - fv)
			q := (x - v) * (fx - fw)
			p := (x-v)*q - (x-w)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			etemp := e
			e = d
			if isFinite(p) && isFinite(q) &&
				math.Abs(p) < math.Abs(0.5*q*etemp) && p > q*(a-x) && p < q*(b-x) {
				d = p / q
				u := x + d
				if u-a < tol2 || b-u < tol2 {
					d = math.Copysign(tol1, xm-x)
				}
				golden = false
			}
		}
		if golden {
			if x >= xm {
				e = a - x
			} else {
				e = b - x
			}
			d = cGold * e
		}

		var u float64
		if math.Abs(d) >= tol1 {
			u = x + d
		} else {
			u = x + math.Copysign(tol1, d)
		}
		fu := f(u)

		if fu <= fx {
			if u >= x {
				a = x
			} else {
				b = x
			}
			v, w, x = w, x, u
			fv, fw, fx = fw, fx, fu
		} else {
			if u < x {
				a = u
			} else {
				b = u
			}
			if fu <= fw || w == x {
				v, w = w, u
				fv, fw = fw, fu
			} else if fu <= fv || v == x || v == w {
				v, fv = u, fu
			}
		}
	}
	return x, fx
}
