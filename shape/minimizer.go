package shape

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// DefaultLineSearchTolerance is the curvature condition of the line search
const DefaultLineSearchTolerance = 0.1

// MinimizeStatus reports why a minimization run stopped
type MinimizeStatus = optimize.Status

// Minimizer is an unconstrained quasi-Newton minimizer over a fixed
// value/gradient callback pair
type Minimizer interface {
	// Minimize starts at x and writes the best iterate found back into x.
	// maxIters == 0 means no iteration limit.
	Minimize(x []float64, maxIters int, stopGradNorm float64) (MinimizeStatus, error)
	FunctionValue() float64
	GradientNorm() float64
	NumIterations() int
}

// MinimizerFactory creates a Minimizer for the given callbacks
type MinimizerFactory func(value func(x []float64) float64, grad func(grad, x []float64)) Minimizer

// BFGSMinimizer minimizes with gonum's BFGS and a More-Thuente line search
type BFGSMinimizer struct {
	Tolerance float64 // line search curvature factor in (0, 1)

	problem  optimize.Problem
	value    float64
	gradNorm float64
	iters    int
}

// NewBFGSMinimizer creates a BFGS minimizer over the given callbacks
func NewBFGSMinimizer(value func(x []float64) float64, grad func(grad, x []float64), tolerance float64) *BFGSMinimizer {
	return &BFGSMinimizer{
		Tolerance: tolerance,
		problem:   optimize.Problem{Func: value, Grad: grad},
		value:     math.NaN(),
		gradNorm:  math.NaN(),
	}
}

// BFGSFactory returns a MinimizerFactory producing BFGS minimizers
func BFGSFactory(tolerance float64) MinimizerFactory {
	return func(value func(x []float64) float64, grad func(grad, x []float64)) Minimizer {
		return NewBFGSMinimizer(value, grad, tolerance)
	}
}

// Minimize implements Minimizer. Hitting the iteration limit is not an error;
// the best location reached is kept.
func (m *BFGSMinimizer) Minimize(x []float64, maxIters int, stopGradNorm float64) (MinimizeStatus, error) {
	tol := m.Tolerance
	if tol <= 0 || tol >= 1 {
		tol = DefaultLineSearchTolerance
	}
	method := &optimize.BFGS{
		Linesearcher:      &optimize.MoreThuente{CurvatureFactor: tol},
		GradStopThreshold: stopGradNorm,
	}
	settings := &optimize.Settings{
		MajorIterations:   maxIters,
		GradientThreshold: stopGradNorm,
	}

	result, err := optimize.Minimize(m.problem, x, settings, method)
	if result == nil {
		m.value, m.gradNorm, m.iters = math.NaN(), math.NaN(), 0
		return optimize.Failure, err
	}

	m.value = result.F
	m.iters = result.MajorIterations
	if len(result.Gradient) == len(x) {
		m.gradNorm = floats.Norm(result.Gradient, 2)
	} else {
		m.gradNorm = math.NaN()
	}
	if len(result.X) == len(x) {
		copy(x, result.X)
	}
	if err != nil && result.Status == optimize.IterationLimit {
		err = nil
	}
	return result.Status, err
}

// FunctionValue implements Minimizer
func (m *BFGSMinimizer) FunctionValue() float64 { return m.value }

// GradientNorm implements Minimizer
func (m *BFGSMinimizer) GradientNorm() float64 { return m.gradNorm }

// NumIterations implements Minimizer
func (m *BFGSMinimizer) NumIterations() int { return m.iters }
