// Package lsq solves nonlinear least-squares problems with the Levenberg-Marquardt method.
package lsq

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNotFinite is returned when the residuals at the starting point are not finite.
var ErrNotFinite = errors.New("residuals are not finite")

// Problem is a least-squares objective: minimize the sum of squares of the M residuals
// Func writes into dst for the parameters x.
type Problem struct {
	M    int
	Func func(dst, x []float64)
	// Jacobian optionally fills the M x len(x) jacobian at x. Central differences are used
	// when it is nil.
	Jacobian func(dst *mat.Dense, x []float64)
}

// Settings controls termination.
type Settings struct {
	MaxIterations int
	// GradientTolerance stops when the infinity norm of the gradient drops below it.
	GradientTolerance float64
	// StepTolerance stops when a step is small relative to the parameters.
	StepTolerance float64
	// FunctionTolerance stops when an accepted step reduces the cost by less than this fraction.
	FunctionTolerance float64
	// InitialDamping scales the first damping term relative to the largest curvature.
	InitialDamping float64
	// Concurrent evaluates finite differences in parallel. Func must then be safe to call
	// concurrently.
	Concurrent bool
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() *Settings {
	return &Settings{
		MaxIterations:     100,
		GradientTolerance: 1e-12,
		StepTolerance:     1e-12,
		FunctionTolerance: 1e-12,
		InitialDamping:    1e-3,
	}
}

// Status says why the solver stopped.
type Status int

// The reasons the solver stops.
const (
	IterationLimit Status = iota
	GradientConvergence
	StepConvergence
	FunctionConvergence
	DampingLimit
)

func (s Status) String() string {
	switch s {
	case GradientConvergence:
		return "gradient convergence"
	case StepConvergence:
		return "step convergence"
	case FunctionConvergence:
		return "function convergence"
	case DampingLimit:
		return "damping limit"
	case IterationLimit:
		return "iteration limit"
	default:
		return "unknown"
	}
}

// Result is the outcome of a minimization.
type Result struct {
	X          []float64
	Residuals  []float64
	Cost       float64 // sum of squared residuals
	Iterations int
	Status     Status
}

// LevenbergMarquardt minimizes the problem starting from x0, which is not modified.
func LevenbergMarquardt(p Problem, x0 []float64, settings *Settings) (*Result, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	n := len(x0)
	if n == 0 {
		return nil, errors.New("no parameters to optimize")
	}
	if p.M < n {
		return nil, errors.Errorf("underdetermined problem: %d residuals for %d parameters", p.M, n)
	}

	x := append([]float64(nil), x0...)
	r := make([]float64, p.M)
	p.Func(r, x)
	cost := floats.Dot(r, r)
	if !isFinite(cost) {
		return nil, ErrNotFinite
	}

	jac := mat.NewDense(p.M, n, nil)
	jacobian := p.Jacobian
	if jacobian == nil {
		fdSettings := &fd.JacobianSettings{Formula: fd.Central, Concurrent: settings.Concurrent}
		jacobian = func(dst *mat.Dense, x []float64) {
			fd.Jacobian(dst, p.Func, x, fdSettings)
		}
	}

	var (
		jtj      mat.SymDense
		grad     = mat.NewVecDense(n, nil)
		step     = mat.NewVecDense(n, nil)
		damped   = mat.NewSymDense(n, nil)
		chol     mat.Cholesky
		xNew     = make([]float64, n)
		rNew     = make([]float64, p.M)
		mu       float64
		nu       = 2.
		status   = IterationLimit
		iter     int
		diagJtJ  = make([]float64, n)
		maxScale float64
	)

	for iter = 0; iter < settings.MaxIterations; iter++ {
		jacobian(jac, x)
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(p.M, r))
		if mat.Norm(grad, math.Inf(1)) < settings.GradientTolerance {
			status = GradientConvergence
			break
		}
		for i := 0; i < n; i++ {
			diagJtJ[i] = jtj.At(i, i)
			maxScale = math.Max(maxScale, diagJtJ[i])
		}
		if iter == 0 {
			mu = settings.InitialDamping
		}
		// parameters the residuals ignore still get a small damping so the system stays definite
		floor := 1e-12 * math.Max(maxScale, 1)

		accepted := false
		for !accepted {
			damped.CopySym(&jtj)
			for i := 0; i < n; i++ {
				damped.SetSym(i, i, jtj.At(i, i)+mu*math.Max(diagJtJ[i], floor))
			}
			if ok := chol.Factorize(damped); !ok {
				mu *= nu
				nu *= 2
				if mu > 1e32 {
					status = DampingLimit
					break
				}
				continue
			}
			if err := chol.SolveVecTo(step, grad); err != nil {
				mu *= nu
				nu *= 2
				if mu > 1e32 {
					status = DampingLimit
					break
				}
				continue
			}
			step.ScaleVec(-1, step)

			stepNorm := mat.Norm(step, 2)
			if stepNorm <= settings.StepTolerance*(floats.Norm(x, 2)+settings.StepTolerance) {
				status = StepConvergence
				break
			}

			floats.AddTo(xNew, x, step.RawVector().Data)
			p.Func(rNew, xNew)
			costNew := floats.Dot(rNew, rNew)

			// predicted reduction of the linear model: -stepᵀg + mu*stepᵀDstep
			predicted := -mat.Dot(step, grad)
			for i := 0; i < n; i++ {
				s := step.AtVec(i)
				predicted += mu * math.Max(diagJtJ[i], floor) * s * s
			}
			rho := -1.
			if isFinite(costNew) && predicted > 0 {
				rho = (cost - costNew) / predicted
			}
			if rho > 0 {
				accepted = true
				reduction := cost - costNew
				copy(x, xNew)
				copy(r, rNew)
				cost = costNew
				mu *= math.Max(1./3, 1-math.Pow(2*rho-1, 3))
				nu = 2
				if reduction <= settings.FunctionTolerance*cost {
					status = FunctionConvergence
				}
				continue
			}
			mu *= nu
			nu *= 2
			if mu > 1e32 {
				status = DampingLimit
				break
			}
		}
		if status != IterationLimit {
			break
		}
	}

	return &Result{
		X:          x,
		Residuals:  r,
		Cost:       cost,
		Iterations: iter,
		Status:     status,
	}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
