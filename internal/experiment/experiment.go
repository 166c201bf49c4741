// Package experiment wires settings, registry choices and observability
// into a ready simulator, and runs steady-state sweeps.
package experiment

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/control"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/logging"
	"github.com/san-kum/kitesim/internal/metrics"
	"github.com/san-kum/kitesim/internal/observability"
	"github.com/san-kum/kitesim/internal/physics"
	"github.com/san-kum/kitesim/internal/sim"
	"github.com/san-kum/kitesim/internal/steady"
)

type Config struct {
	Settings   *config.Settings
	Controller string
	Params     map[string]float64
	// Schedule is a YAML set-point schedule; it replaces Controller.
	Schedule string
	// Wind names a registry wind profile; empty uses the settings.
	Wind string
	// Steady starts from the steady state instead of the straight tether.
	Steady    bool
	Log       logging.Logger
	Collector *observability.Collector
}

// Experiment is one fully wired simulation.
type Experiment struct {
	cfg        Config
	Model      *physics.KPS4
	Sim        *sim.Simulator
	Controller control.Controller
	Y0, YD0    dynamo.State
	// Steady is set when the run starts from a steady state.
	Steady *steady.Result
}

// Model builds a KPS4 for set with the registry's winch and wind profile.
func (r *Registry) Model(set *config.Settings, wind string, collector *observability.Collector) (*physics.KPS4, error) {
	atm, err := r.Atmosphere(wind, set.Environment)
	if err != nil {
		return nil, err
	}
	wm, err := r.Winch(set.Winch)
	if err != nil {
		return nil, err
	}
	var opts []physics.Option
	if collector != nil {
		opts = append(opts, physics.WithEvalCounter(collector.EvalCounter()))
	}
	return physics.NewKPS4(set, atm, wm, opts...)
}

// Build wires cfg into a simulator with the standard metrics attached and
// computes the initial state.
func Build(ctx context.Context, r *Registry, cfg Config) (*Experiment, error) {
	if cfg.Settings == nil {
		cfg.Settings = config.DefaultSettings()
	}
	if cfg.Log == nil {
		cfg.Log = logging.Noop()
	}
	set := cfg.Settings

	m, err := r.Model(set, cfg.Wind, cfg.Collector)
	if err != nil {
		return nil, err
	}
	stepper, err := r.Stepper(set.Solver)
	if err != nil {
		return nil, err
	}
	var ctrl control.Controller
	if cfg.Schedule != "" {
		ctrl, err = control.LoadSchedule(cfg.Schedule, control.FromSettings(set).Setpoint)
	} else {
		ctrl, err = r.Controller(cfg.Controller, set, cfg.Params)
	}
	if err != nil {
		return nil, err
	}

	opts := []sim.Option{sim.WithLogger(cfg.Log)}
	if cfg.Collector != nil {
		opts = append(opts, sim.WithRecorder(cfg.Collector))
	}
	s := sim.New(m, stepper, ctrl, opts...)
	for _, metric := range metrics.Standard() {
		s.AddMetric(metric)
	}

	e := &Experiment{cfg: cfg, Model: m, Sim: s, Controller: ctrl}
	if cfg.Steady {
		f := steady.NewFinder(set.Solver, cfg.Log)
		if cfg.Collector != nil {
			f.Recorder = cfg.Collector
		}
		res, err := f.Find(ctx, m)
		if err != nil {
			return nil, err
		}
		e.Steady = &res
		e.Y0, e.YD0 = res.Y, res.YD
	} else if e.Y0, e.YD0, err = m.Init(nil); err != nil {
		return nil, err
	}
	return e, nil
}

// RunConfig is the stepping configuration taken from the solver settings.
func (e *Experiment) RunConfig() dynamo.Config {
	sc := e.cfg.Settings.Solver
	cfg := dynamo.DefaultConfig()
	cfg.Dt = sc.Dt
	cfg.Duration = sc.Duration
	cfg.MinDt = sc.MinDt
	cfg.MaxDt = sc.Dt
	if sc.SaveEvery > 0 {
		cfg.SaveEvery = sc.SaveEvery
	}
	return cfg
}

func (e *Experiment) Run(ctx context.Context) (*dynamo.Result, error) {
	return e.Sim.Run(ctx, e.Y0, e.YD0, e.RunConfig())
}

// Job packages the experiment for sim.RunAll.
func (e *Experiment) Job(name string) sim.Job {
	return sim.Job{Name: name, Sim: e.Sim, Y0: e.Y0, YD0: e.YD0, Cfg: e.RunConfig()}
}

// Springs returns the spring end points for drawing.
func (e *Experiment) Springs() [][2]int {
	springs := e.Model.Springs()
	pairs := make([][2]int, len(springs))
	for i, s := range springs {
		pairs[i] = [2]int{s.P1, s.P2}
	}
	return pairs
}

// KitePoints returns the indices of the KCU and the four kite points.
func (e *Experiment) KitePoints() []int {
	m := e.Model
	return []int{m.KCU(), m.Nose(), m.Top(), m.Left(), m.Right()}
}

// SweepPoint is the steady state at one ground wind speed.
type SweepPoint struct {
	WindSpeed  float64
	WinchForce float64
	Height     float64
	// Elevation of the kite seen from the anchor, in degrees.
	Elevation  float64
	Norm       float64
	Iterations int
	Converged  bool
	Err        error
}

// Sweep finds the steady state for each wind speed. Points are spread over
// workers with one model per chunk; a failed point carries its error and
// does not stop the others. The returned error is only set on cancellation.
func Sweep(ctx context.Context, r *Registry, set *config.Settings, wind string, speeds []float64, log logging.Logger) ([]SweepPoint, error) {
	if log == nil {
		log = logging.Noop()
	}
	out := make([]SweepPoint, len(speeds))
	dynamo.ParallelFor(len(speeds), 1, func(start, end int) {
		for i := start; i < end; i++ {
			out[i] = sweepOne(ctx, r, set, wind, speeds[i])
		}
	})
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("%w: %w", dynamo.ErrContextCanceled, err)
	}
	for _, p := range out {
		if p.Err != nil {
			log.Warn(ctx, "sweep point failed", logging.Float("v_wind", p.WindSpeed), logging.Err(p.Err))
		}
	}
	return out, nil
}

func sweepOne(ctx context.Context, r *Registry, base *config.Settings, wind string, speed float64) SweepPoint {
	p := SweepPoint{WindSpeed: speed}
	if err := ctx.Err(); err != nil {
		p.Err = err
		return p
	}
	set := base.Clone()
	set.Environment.WindSpeed = speed
	m, err := r.Model(set, wind, nil)
	if err != nil {
		p.Err = err
		return p
	}
	res, err := steady.Find(ctx, m, set.Solver)
	if err != nil {
		p.Err = err
		return p
	}
	// Evaluate once more so the telemetry describes the steady state.
	yd := make(dynamo.State, m.StateDim())
	if err := m.Derive(yd, res.Y, 0); err != nil {
		p.Err = err
		return p
	}
	kite := m.KitePosition()
	p.WinchForce = m.WinchForce()
	p.Height = kite.Z
	p.Elevation = math.Atan2(kite.Z, math.Hypot(kite.X, kite.Y)) * 180 / math.Pi
	p.Norm = res.Norm
	p.Iterations = res.Iterations
	p.Converged = res.Converged
	return p
}

// Speeds returns n evenly spaced wind speeds from lo to hi.
func Speeds(lo, hi float64, n int) []float64 {
	if n < 1 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}
