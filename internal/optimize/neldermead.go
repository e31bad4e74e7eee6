package optimize

import (
	"fmt"

	gopt "gonum.org/v1/gonum/optimize"
)

// NelderMead runs gonum's downhill simplex. It needs far more evaluations
// than Powell on the full page model and is kept as a cross-check.
type NelderMead struct {
	// MaxIterations caps the major iterations. Zero means 100 per parameter.
	MaxIterations int
	// Tolerance is the relative function-value change that ends the search.
	// Zero means 1e-8.
	Tolerance float64
}

// Name implements Minimizer.
func (*NelderMead) Name() string { return "nelder-mead" }

// Minimize implements Minimizer.
func (nm *NelderMead) Minimize(f Objective, x0 []float64) (Result, error) {
	n := len(x0)
	if n == 0 {
		return Result{}, fmt.Errorf("nelder-mead: empty starting point")
	}
	maxIter := nm.MaxIterations
	if maxIter <= 0 {
		maxIter = 100 * n
	}
	tol := nm.Tolerance
	if tol <= 0 {
		tol = 1e-8
	}

	obj := &counted{f: f}
	start := make([]float64, n)
	copy(start, x0)
	if f0 := obj.eval(start); !isFinite(f0) {
		return Result{X: start, F: f0, Evaluations: obj.evals}, ErrNonFiniteStart
	}

	// The simplex often keeps its best vertex through many reflections and
	// contractions, so the stall window must be long compared to n.
	stall := 10 * n
	if stall < 100 {
		stall = 100
	}
	problem := gopt.Problem{Func: obj.eval}
	settings := &gopt.Settings{
		MajorIterations: maxIter,
		FuncEvaluations: 200 * maxIter,
		Converger: &gopt.FunctionConverge{
			Absolute:   1e-12,
			Relative:   tol,
			Iterations: stall,
		},
	}

	res, err := gopt.Minimize(problem, start, settings, &gopt.NelderMead{})
	if res == nil {
		return Result{X: start, Evaluations: obj.evals}, fmt.Errorf("nelder-mead: %w", err)
	}
	out := Result{
		X:           res.X,
		F:           res.F,
		Iterations:  res.Stats.MajorIterations,
		Evaluations: obj.evals,
		Converged:   res.Status == gopt.FunctionConvergence,
	}
	if err != nil {
		return out, fmt.Errorf("nelder-mead: %w", err)
	}
	return out, nil
}
