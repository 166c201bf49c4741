package integrators

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/kitesim/internal/dynamo"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// BackwardEuler solves the implicit residual of the model at the end of the
// step. The unknown is the derivative yd' with y' = y + dt*yd'; each Newton
// iteration rebuilds a forward-difference Jacobian of the residual with
// respect to yd' and solves it by LU decomposition.
type BackwardEuler struct {
	Tol     float64
	MaxIter int

	// Iterations of the last step.
	Iterations int

	jac   *mat.Dense
	res   dynamo.State
	ynext dynamo.State
	x     dynamo.State
}

func NewBackwardEuler(tol float64, maxIter int) *BackwardEuler {
	if tol <= 0 {
		tol = 1e-6
	}
	if maxIter <= 0 {
		maxIter = 8
	}
	return &BackwardEuler{Tol: tol, MaxIter: maxIter}
}

func (b *BackwardEuler) ensureScratch(n int) {
	if len(b.res) != n {
		b.jac = mat.NewDense(n, n, nil)
		b.res = make(dynamo.State, n)
		b.ynext = make(dynamo.State, n)
		b.x = make(dynamo.State, n)
	}
}

// Step starts Newton from yd, or from zero when yd is nil.
func (b *BackwardEuler) Step(m dynamo.Model, y, yd dynamo.State, t, dt float64) (dynamo.State, dynamo.State, error) {
	n := len(y)
	b.ensureScratch(n)
	if yd != nil && len(yd) != n {
		return nil, nil, dynamo.ErrDimensionMismatch
	}

	tn := t + dt
	residual := func(dst, x dynamo.State) error {
		for i := range y {
			b.ynext[i] = y[i] + dt*x[i]
		}
		if err := m.Residual(dst, x, b.ynext, tn); err != nil {
			return err
		}
		if !dst.IsValid() {
			return dynamo.ErrNonFiniteResidual
		}
		return nil
	}

	if yd != nil {
		copy(b.x, yd)
	} else {
		clear(b.x)
	}
	if err := residual(b.res, b.x); err != nil {
		return nil, nil, err
	}

	var evalErr error
	jacFn := func(dst, x []float64) {
		if evalErr != nil {
			return
		}
		evalErr = residual(dst, x)
	}
	var (
		lu    mat.LU
		delta mat.VecDense
	)
	b.Iterations = 0
	for b.Iterations < b.MaxIter {
		scale := 1 + b.x.MaxAbs()
		if b.res.MaxAbs() <= b.Tol*scale {
			return b.finish(y, dt)
		}
		b.Iterations++

		fd.Jacobian(b.jac, jacFn, b.x, &fd.JacobianSettings{
			Formula:     fd.Forward,
			OriginValue: b.res,
		})
		if evalErr != nil {
			return nil, nil, fmt.Errorf("implicit jacobian: %w", evalErr)
		}
		lu.Factorize(b.jac)
		if err := lu.SolveVecTo(&delta, false, mat.NewVecDense(n, b.res)); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
				return nil, nil, fmt.Errorf("implicit jacobian singular at t=%g: %w", tn, dynamo.ErrNoConvergence)
			}
		}
		step := 0.0
		for i := range b.x {
			d := delta.AtVec(i)
			b.x[i] -= d
			step = math.Max(step, math.Abs(d))
		}
		if err := residual(b.res, b.x); err != nil {
			return nil, nil, err
		}
		if step <= b.Tol*scale {
			return b.finish(y, dt)
		}
	}
	return nil, nil, fmt.Errorf("newton residual %g after %d iterations at t=%g: %w",
		b.res.MaxAbs(), b.Iterations, tn, dynamo.ErrNoConvergence)
}

func (b *BackwardEuler) finish(y dynamo.State, dt float64) (dynamo.State, dynamo.State, error) {
	next := make(dynamo.State, len(y))
	for i := range y {
		next[i] = y[i] + dt*b.x[i]
	}
	return next, b.x.Clone(), nil
}
