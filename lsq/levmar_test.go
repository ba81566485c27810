package lsq

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestLevenbergMarquardtExponentialFit(t *testing.T) {
	const a, b = 2.5, -1.3
	xs := []float64{0, 0.25, 0.5, 0.75, 1, 1.5, 2, 2.5, 3}
	p := Problem{
		M: len(xs),
		Func: func(dst, params []float64) {
			for i, x := range xs {
				dst[i] = params[0]*math.Exp(params[1]*x) - a*math.Exp(b*x)
			}
		},
	}
	res, err := LevenbergMarquardt(p, []float64{1, 0}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.X[0], test.ShouldAlmostEqual, a, 1e-6)
	test.That(t, res.X[1], test.ShouldAlmostEqual, b, 1e-6)
	test.That(t, res.Cost, test.ShouldBeLessThan, 1e-12)
	test.That(t, res.Status, test.ShouldNotEqual, DampingLimit)
}

func TestLevenbergMarquardtRosenbrock(t *testing.T) {
	// Rosenbrock written as residuals: 10(y - x²), 1 - x
	p := Problem{
		M: 2,
		Func: func(dst, x []float64) {
			dst[0] = 10 * (x[1] - x[0]*x[0])
			dst[1] = 1 - x[0]
		},
	}
	x0 := []float64{-1.2, 1}
	res, err := LevenbergMarquardt(p, x0, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, res.X[1], test.ShouldAlmostEqual, 1, 1e-6)
	// the starting point is left alone
	test.That(t, x0, test.ShouldResemble, []float64{-1.2, 1})
}

func TestLevenbergMarquardtAnalyticJacobian(t *testing.T) {
	// straight line through noisy-free points
	xs := []float64{-2, -1, 0, 1, 2, 3}
	var calls int
	p := Problem{
		M: len(xs),
		Func: func(dst, params []float64) {
			for i, x := range xs {
				dst[i] = params[0]*x + params[1] - (0.5*x - 4)
			}
		},
		Jacobian: func(dst *mat.Dense, params []float64) {
			calls++
			for i, x := range xs {
				dst.Set(i, 0, x)
				dst.Set(i, 1, 1)
			}
		},
	}
	settings := DefaultSettings()
	settings.Concurrent = true
	res, err := LevenbergMarquardt(p, []float64{0, 0}, settings)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, calls, test.ShouldBeGreaterThan, 0)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 0.5, 1e-9)
	test.That(t, res.X[1], test.ShouldAlmostEqual, -4, 1e-9)
}

func TestLevenbergMarquardtErrors(t *testing.T) {
	_, err := LevenbergMarquardt(Problem{M: 1, Func: func(dst, x []float64) {}}, []float64{1, 2}, nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = LevenbergMarquardt(Problem{M: 1, Func: func(dst, x []float64) {}}, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)

	nan := Problem{M: 2, Func: func(dst, x []float64) {
		dst[0] = math.NaN()
		dst[1] = x[0]
	}}
	_, err = LevenbergMarquardt(nan, []float64{1}, nil)
	test.That(t, errors.Is(err, ErrNotFinite), test.ShouldBeTrue)
}

func TestStatusString(t *testing.T) {
	test.That(t, StepConvergence.String(), test.ShouldEqual, "step convergence")
	test.That(t, Status(42).String(), test.ShouldEqual, "unknown")
}
