package optimize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Powell is Powell's conjugate direction method with Brent line searches.
//
// Directions start as the coordinate axes. After each sweep the net
// displacement is tried as a new direction; it replaces the direction that
// gave the largest single decrease only when the quadratic test says the set
// will not become linearly dependent.
type Powell struct {
	// MaxIterations caps the number of outer sweeps. Zero means 100.
	MaxIterations int
	// Tolerance is the relative function-value change that ends the search.
	// Zero means 1e-8.
	Tolerance float64
	// LineTolerance is the relative step tolerance of each line search.
	// Zero means 1e-3.
	LineTolerance float64
}

// Name implements Minimizer.
func (*Powell) Name() string { return "powell" }

// Minimize implements Minimizer.
func (pw *Powell) Minimize(f Objective, x0 []float64) (Result, error) {
	n := len(x0)
	if n == 0 {
		return Result{}, fmt.Errorf("powell: empty starting point")
	}
	maxIter := pw.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}
	ftol := pw.Tolerance
	if ftol <= 0 {
		ftol = 1e-8
	}
	ltol := pw.LineTolerance
	if ltol <= 0 {
		ltol = 1e-3
	}

	obj := &counted{f: f}
	x := make([]float64, n)
	copy(x, x0)
	fval := obj.eval(x)
	if !isFinite(fval) {
		return Result{X: x, F: fval, Evaluations: obj.evals}, ErrNonFiniteStart
	}

	dirs := make([][]float64, n)
	for i := range dirs {
		dirs[i] = make([]float64, n)
		dirs[i][i] = 1
	}

	ls := newLineSearcher(obj, n, ltol)
	x1 := make([]float64, n)
	copy(x1, x)
	x2 := make([]float64, n)
	net := make([]float64, n)

	res := Result{}
	for iter := 1; ; iter++ {
		res.Iterations = iter
		fx := fval
		bigind := 0
		delta := 0.0

		for i, d := range dirs {
			before := fval
			fval, _ = ls.search(x, d, fval)
			if before-fval > delta {
				delta = before - fval
				bigind = i
			}
		}

		if 2*(fx-fval) <= ftol*(math.Abs(fx)+math.Abs(fval))+1e-20 {
			res.Converged = true
			break
		}
		if iter >= maxIter {
			break
		}

		// Extrapolate along the net displacement of this sweep.
		floats.SubTo(net, x, x1)
		floats.AddScaledTo(x2, x, 1, net)
		copy(x1, x)
		fx2 := obj.eval(x2)

		if fx > fx2 {
			t := 2 * (fx + fx2 - 2*fval)
			tmp := fx - fval - delta
			t *= tmp * tmp
			tmp = fx - fx2
			t -= delta * tmp * tmp
			if t < 0 {
				var step float64
				fval, step = ls.search(x, net, fval)
				if step != 0 && floats.Norm(net, 2) > 0 {
					newDir := make([]float64, n)
					floats.ScaleTo(newDir, step, net)
					dirs[bigind] = dirs[n-1]
					dirs[n-1] = newDir
				}
			}
		}
	}

	res.X = x
	res.F = fval
	res.Evaluations = obj.evals
	return res, nil
}
