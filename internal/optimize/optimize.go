// Package optimize provides derivative-free minimizers for the page model.
package optimize

import (
	"errors"
	"fmt"
	"math"
)

// Objective is a scalar function of a parameter vector. Implementations must
// not retain x.
type Objective func(x []float64) float64

// Result is the outcome of a minimization.
type Result struct {
	X           []float64
	F           float64
	Iterations  int
	Evaluations int
	Converged   bool
}

// Minimizer minimizes an objective starting from x0. x0 is not modified.
type Minimizer interface {
	Name() string
	Minimize(f Objective, x0 []float64) (Result, error)
}

// ErrNonFiniteStart is returned when the objective is not finite at x0.
var ErrNonFiniteStart = errors.New("objective is not finite at the starting point")

// New returns the minimizer registered under name.
func New(name string, maxIterations int, tolerance float64) (Minimizer, error) {
	switch name {
	case "", "powell":
		return &Powell{MaxIterations: maxIterations, Tolerance: tolerance}, nil
	case "nelder-mead":
		return &NelderMead{MaxIterations: maxIterations, Tolerance: tolerance}, nil
	}
	return nil, fmt.Errorf("unknown optimizer %q", name)
}

// counted wraps f so NaN reads as +Inf and evaluations are counted.
type counted struct {
	f     Objective
	evals int
}

func (c *counted) eval(x []float64) float64 {
	c.evals++
	v := c.f(x)
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
