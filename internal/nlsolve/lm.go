// Package nlsolve finds roots of small nonlinear systems.
package nlsolve

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Func writes f(x) into dst. An error marks x as unusable; the solver then
// treats the point as infinitely bad instead of failing.
type Func func(dst, x []float64) error

type Settings struct {
	MaxIter int
	XTol    float64
	FTol    float64
	// Initial damping. Zero picks 1e-3.
	Lambda float64
	// Central difference step. Zero uses the fd default.
	Step float64
}

func DefaultSettings() Settings {
	return Settings{MaxIter: 200, XTol: 2e-7, FTol: 2e-7, Lambda: 1e-3}
}

type Result struct {
	X           []float64
	F           []float64
	Norm        float64
	Iterations  int
	Evaluations int
	Converged   bool
}

var ErrNoStart = errors.New("nlsolve: objective failed at the initial point")

const (
	lambdaMin = 1e-12
	lambdaMax = 1e16
)

// LevenbergMarquardt minimises |f(x)|² starting from x0 with m residuals.
// It stops when both |f|∞ <= FTol and the last accepted step |dx|∞ <= XTol,
// or after MaxIter iterations. Running out of iterations is not an error;
// Result.Converged tells the two apart and Result.X holds the best point.
func LevenbergMarquardt(ctx context.Context, f Func, x0 []float64, m int, s Settings) (Result, error) {
	n := len(x0)
	if n == 0 || m == 0 {
		return Result{}, fmt.Errorf("nlsolve: empty problem (%d unknowns, %d residuals)", n, m)
	}
	if s.MaxIter <= 0 {
		s.MaxIter = DefaultSettings().MaxIter
	}
	lambda := s.Lambda
	if lambda <= 0 {
		lambda = 1e-3
	}

	res := Result{X: append([]float64(nil), x0...), F: make([]float64, m)}
	eval := func(dst, x []float64) float64 {
		res.Evaluations++
		if err := f(dst, x); err != nil {
			return math.Inf(1)
		}
		c := 0.0
		for _, v := range dst {
			c += v * v
		}
		if math.IsNaN(c) {
			return math.Inf(1)
		}
		return c
	}

	cost := eval(res.F, res.X)
	if math.IsInf(cost, 1) {
		return res, ErrNoStart
	}

	jac := mat.NewDense(m, n, nil)
	jacFn := func(y, x []float64) {
		if eval(y, x) == math.Inf(1) {
			copy(y, res.F)
		}
	}
	var (
		a     mat.Dense
		g     mat.VecDense
		delta mat.VecDense
	)
	trialX := make([]float64, n)
	trialF := make([]float64, m)
	lastStep := math.Inf(1)

	for res.Iterations < s.MaxIter {
		if maxAbs(res.F) <= s.FTol && lastStep <= s.XTol {
			res.Converged = true
			break
		}
		if err := ctx.Err(); err != nil {
			res.Norm = maxAbs(res.F)
			return res, err
		}
		res.Iterations++

		fd.Jacobian(jac, jacFn, res.X, &fd.JacobianSettings{
			Formula: fd.Central,
			Step:    s.Step,
		})
		a.Mul(jac.T(), jac)
		g.MulVec(jac.T(), mat.NewVecDense(m, res.F))
		g.ScaleVec(-1, &g)

		accepted := false
		for lambda < lambdaMax {
			damped := mat.DenseCopyOf(&a)
			for i := 0; i < n; i++ {
				damped.Set(i, i, damped.At(i, i)+lambda)
			}
			if err := delta.SolveVec(damped, &g); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					lambda *= 4
					continue
				}
			}
			step := maxAbs(delta.RawVector().Data)
			if step <= s.XTol && maxAbs(res.F) <= s.FTol {
				lastStep = step
				break
			}
			for i := range trialX {
				trialX[i] = res.X[i] + delta.AtVec(i)
			}
			if c := eval(trialF, trialX); c < cost {
				cost = c
				copy(res.X, trialX)
				copy(res.F, trialF)
				lastStep = step
				lambda = math.Max(lambda/3, lambdaMin)
				accepted = true
				break
			}
			lambda *= 4
		}
		if !accepted {
			// no downhill step left: either converged within tolerance or stuck
			break
		}
	}
	if !res.Converged && maxAbs(res.F) <= s.FTol && lastStep <= s.XTol {
		res.Converged = true
	}
	res.Norm = maxAbs(res.F)
	return res, nil
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}
