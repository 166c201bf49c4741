// Package steady searches the resting shape of the tether and kite for the
// current wind and reel-out speed.
package steady

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/logging"
	"github.com/san-kum/kitesim/internal/nlsolve"
	"gonum.org/v1/gonum/spatial/r3"
)

// Model is what the search needs from the kite model. *physics.KPS4
// implements it.
type Model interface {
	Init(X []float64) (dynamo.State, dynamo.State, error)
	AccelerationsAt(y dynamo.State) ([]r3.Vec, error)
	Derive(yd, y dynamo.State, t float64) error
	StiffnessFactor() float64
	SetStiffnessFactor(f float64)
	Downwind() r3.Vec
	Masses() []float64
	Left() int
	Right() int
	StateDim() int
}

// Recorder receives the outcome of a search.
type Recorder interface {
	SteadyState(iterations int, norm float64)
}

type Result struct {
	Y dynamo.State
	// YD is the derivative of Y at the model's own stiffness.
	YD dynamo.State
	// X holds the point offsets along the wind and vertically, followed by
	// the outward shift of the left and right tips across the wind.
	X           []float64
	Norm        float64
	InitialNorm float64
	// Tolerance is the acceleration bound Norm was tested against.
	Tolerance   float64
	Iterations  int
	Evaluations int
	Converged   bool
	Elapsed     time.Duration
}

type Finder struct {
	Solver   config.SolverConfig
	Log      logging.Logger
	Recorder Recorder
}

func NewFinder(cfg config.SolverConfig, log logging.Logger) *Finder {
	if log == nil {
		log = logging.Noop()
	}
	return &Finder{Solver: cfg, Log: log}
}

// problem maps the unknowns onto a model state.
type problem struct {
	m           Model
	n           int
	left, right int
	down, side  r3.Vec
	mass        []float64
}

func newProblem(m Model) *problem {
	down := m.Downwind()
	return &problem{
		m:     m,
		n:     (m.StateDim() - 2) / 6,
		left:  m.Left(),
		right: m.Right(),
		down:  down,
		side:  r3.Unit(r3.Cross(r3.Vec{Z: 1}, down)),
		mass:  m.Masses(),
	}
}

func (p *problem) unknowns() int { return 2*p.n + 2 }

func (p *problem) state(X []float64) (dynamo.State, dynamo.State, error) {
	y, yd, err := p.m.Init(X[:2*p.n])
	if err != nil {
		return nil, nil, err
	}
	p.shift(y, p.left, X[2*p.n])
	p.shift(y, p.right, -X[2*p.n+1])
	return y, yd, nil
}

func (p *problem) shift(y dynamo.State, point int, d float64) {
	j := 3 * (point - 1)
	y[j] += d * p.side.X
	y[j+1] += d * p.side.Y
	y[j+2] += d * p.side.Z
}

// residual writes the in-plane accelerations of every moving point and the
// lateral accelerations of the tips, scaled by the point mass when
// weighted.
func (p *problem) residual(dst, X []float64, weighted bool) error {
	y, _, err := p.state(X)
	if err != nil {
		return err
	}
	acc, err := p.m.AccelerationsAt(y)
	if err != nil {
		return err
	}
	w := func(i int) float64 {
		if weighted {
			return p.mass[i]
		}
		return 1
	}
	for i := 1; i <= p.n; i++ {
		dst[2*(i-1)] = w(i) * r3.Dot(acc[i], p.down)
		dst[2*(i-1)+1] = w(i) * acc[i].Z
	}
	dst[2*p.n] = w(p.left) * r3.Dot(acc[p.left], p.side)
	dst[2*p.n+1] = -w(p.right) * r3.Dot(acc[p.right], p.side)
	return nil
}

func (p *problem) forces(dst, X []float64) error        { return p.residual(dst, X, true) }
func (p *problem) accelerations(dst, X []float64) error { return p.residual(dst, X, false) }

type stage struct {
	name      string
	stiffness float64
	objective nlsolve.Func
}

// Find moves every non-anchor point in the vertical plane along the wind,
// and the kite tips across it, until the accelerations vanish.
//
// The search runs in stages from the straight tether: a force balance at
// the reduced steady-state stiffness, the same balance at the model's own
// stiffness, then a polish on the accelerations. Convergence is judged on
// the last stage against FTol scaled by the accelerations of the straight
// tether. The model gets its own stiffness back afterwards.
//
// Hitting the iteration limit is not an error; Result.Converged is false and
// Result holds the best state found.
func (f *Finder) Find(ctx context.Context, m Model) (Result, error) {
	start := time.Now()
	p := newProblem(m)

	own := m.StiffnessFactor()
	defer m.SetStiffnessFactor(own)
	eased := f.Solver.StiffnessSteady
	m.SetStiffnessFactor(eased)

	x := make([]float64, p.unknowns())
	f0 := make([]float64, len(x))
	if err := p.accelerations(f0, x); err != nil {
		return Result{}, fmt.Errorf("steady state: initial guess: %w", err)
	}
	initial := maxAbs(f0)
	tol := f.Solver.FTol * math.Max(1, initial)

	f.Log.Debug(ctx, "steady state search started",
		logging.Int("unknowns", len(x)),
		logging.Float("initial_norm", initial),
		logging.Float("tolerance", tol),
		logging.Float("stiffness", eased))

	var stages []stage
	if eased != own {
		stages = append(stages, stage{"eased", eased, p.forces})
	}
	stages = append(stages,
		stage{"stiff", own, p.forces},
		stage{"polish", own, p.accelerations})

	settings := nlsolve.Settings{
		MaxIter: f.Solver.MaxIter,
		XTol:    f.Solver.XTol,
		FTol:    tol,
	}
	res := Result{InitialNorm: initial, Tolerance: tol}
	var sol nlsolve.Result
	for _, st := range stages {
		m.SetStiffnessFactor(st.stiffness)
		var err error
		sol, err = nlsolve.LevenbergMarquardt(ctx, st.objective, x, len(x), settings)
		if err != nil {
			return Result{}, fmt.Errorf("steady state: %s stage: %w", st.name, err)
		}
		x = sol.X
		res.Iterations += sol.Iterations
		res.Evaluations += sol.Evaluations
		f.Log.Debug(ctx, "steady state stage done",
			logging.String("stage", st.name),
			logging.Float("stiffness", st.stiffness),
			logging.Int("iterations", sol.Iterations),
			logging.Float("norm", sol.Norm))
	}

	y, yd, err := p.state(x)
	if err != nil {
		return Result{}, err
	}
	if err := m.Derive(yd, y, 0); err != nil {
		return Result{}, fmt.Errorf("steady state: %w", err)
	}
	res.Y, res.YD, res.X = y, yd, x
	res.Norm = sol.Norm
	res.Converged = sol.Converged
	res.Elapsed = time.Since(start)
	if f.Recorder != nil {
		f.Recorder.SteadyState(res.Iterations, res.Norm)
	}

	fields := []logging.Field{
		logging.Int("iterations", res.Iterations),
		logging.Int("evaluations", res.Evaluations),
		logging.Float("norm", res.Norm),
		logging.Float("tolerance", res.Tolerance),
		logging.Duration("elapsed", res.Elapsed),
	}
	if res.Converged {
		f.Log.Info(ctx, "steady state found", fields...)
	} else {
		f.Log.Warn(ctx, "steady state search stopped without convergence", fields...)
	}
	return res, nil
}

// Find runs a search with default logging disabled.
func Find(ctx context.Context, m Model, cfg config.SolverConfig) (Result, error) {
	return NewFinder(cfg, nil).Find(ctx, m)
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if x < 0 {
			x = -x
		}
		if x > m {
			m = x
		}
	}
	return m
}
