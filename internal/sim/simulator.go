package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/kitesim/internal/control"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/logging"
)

type Simulator struct {
	plant      Plant
	stepper    dynamo.Stepper
	controller control.Controller
	metrics    []dynamo.Metric
	observers  []dynamo.Observer
	log        logging.Logger
	recorder   Recorder
}

func New(plant Plant, stepper dynamo.Stepper, controller control.Controller, opts ...Option) *Simulator {
	s := &Simulator{
		plant:      plant,
		stepper:    stepper,
		controller: controller,
		metrics:    make([]dynamo.Metric, 0),
		observers:  make([]dynamo.Observer, 0),
		log:        logging.Noop(),
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	return s
}

func (s *Simulator) AddMetric(m dynamo.Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o dynamo.Observer) { s.observers = append(s.observers, o) }

func (s *Simulator) Plant() Plant { return s.plant }

// Run integrates from (y0, yd0) for cfg.Duration. On cancellation or a
// failed step the partial result is returned along with the error.
func (s *Simulator) Run(ctx context.Context, y0, yd0 dynamo.State, cfg dynamo.Config) (*dynamo.Result, error) {
	ss, err := s.NewSession(y0, yd0, cfg)
	if err != nil {
		return nil, err
	}
	for _, m := range s.metrics {
		m.Reset()
	}

	ctx, log, _ := logging.WithRun(ctx, s.log)
	log.Info(ctx, "simulation started",
		logging.Float("duration", cfg.Duration),
		logging.Float("dt", cfg.Dt),
		logging.Int("state_dim", len(y0)))
	start := time.Now()

	for !ss.Done() {
		if err := ss.Step(ctx); err != nil {
			log.Error(ctx, "simulation stopped", logging.Err(err), logging.Float("t", ss.Time()))
			return ss.Result(), err
		}
	}

	res := ss.Result()
	log.Info(ctx, "simulation finished",
		logging.Int("steps", res.StepsTaken),
		logging.Int("rejected", res.Rejected),
		logging.Int("overloads", res.Overloads),
		logging.Duration("elapsed", time.Since(start)))
	return res, nil
}

// RunWithCallback steps until the duration is reached or callback returns
// false. The callback sees every accepted step.
func (s *Simulator) RunWithCallback(ctx context.Context, y0, yd0 dynamo.State, cfg dynamo.Config, callback func(y dynamo.State, t float64) bool) error {
	ss, err := s.NewSession(y0, yd0, cfg)
	if err != nil {
		return err
	}
	for !ss.Done() {
		if !callback(ss.State(), ss.Time()) {
			return nil
		}
		if err := ss.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func validateConfig(cfg dynamo.Config) error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %f", cfg.Dt)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", cfg.Duration)
	}
	if cfg.MinDt <= 0 || cfg.MinDt > cfg.Dt {
		return fmt.Errorf("min_dt must be in (0, dt], got %g", cfg.MinDt)
	}
	return nil
}

// Session advances a simulation one output step at a time. It is used
// directly by the live view and by Run.
type Session struct {
	sim *Simulator
	cfg dynamo.Config

	y, yd dynamo.State
	t     float64
	// h is the sub-step size; it halves on recoverable failures and grows
	// back after successes.
	h float64

	steps      int
	rejected   int
	overloads  int
	overloaded bool
	records    []dynamo.Record
	errors     []error
}

func (s *Simulator) NewSession(y0, yd0 dynamo.State, cfg dynamo.Config) (*Session, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	n := s.plant.StateDim()
	if len(y0) != n || (yd0 != nil && len(yd0) != n) {
		return nil, fmt.Errorf("initial state: %w", dynamo.ErrDimensionMismatch)
	}
	if cfg.SaveEvery < 1 {
		cfg.SaveEvery = 1
	}
	if cfg.MaxDt <= 0 {
		cfg.MaxDt = cfg.Dt
	}
	ss := &Session{
		sim:     s,
		cfg:     cfg,
		y:       y0.Clone(),
		h:       math.Min(cfg.Dt, cfg.MaxDt),
		records: make([]dynamo.Record, 0, int(cfg.Duration/cfg.Dt)/cfg.SaveEvery+2),
	}
	if yd0 != nil {
		ss.yd = yd0.Clone()
	}

	// Evaluate once so telemetry and the first record describe y0.
	s.apply(s.controller.Compute(s.plant, 0))
	d := make(dynamo.State, n)
	if err := s.plant.Derive(d, ss.y, 0); err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}
	if ss.yd == nil {
		ss.yd = d
	}
	ss.record()
	return ss, nil
}

func (s *Simulator) apply(sp control.Setpoint) {
	s.plant.SetControl(sp.Winch())
	s.plant.SetDepower(sp.Depower)
	s.plant.SetSteering(sp.Steering)
}

func (ss *Session) Time() float64            { return ss.t }
func (ss *Session) State() dynamo.State      { return ss.y }
func (ss *Session) Derivative() dynamo.State { return ss.yd }
func (ss *Session) Records() []dynamo.Record { return ss.records }

// Done reports whether the configured duration has been reached.
func (ss *Session) Done() bool {
	return ss.t >= ss.cfg.Duration-1e-9*ss.cfg.Dt
}

// Step advances by one output step of cfg.Dt, shortened at the end of the
// run. Recoverable failures halve the sub-step; below MinDt the step fails
// with ErrStepTooSmall.
func (ss *Session) Step(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", dynamo.ErrContextCanceled, ctx.Err())
	default:
	}

	s := ss.sim
	target := math.Min(ss.t+ss.cfg.Dt, ss.cfg.Duration)
	s.apply(s.controller.Compute(s.plant, ss.t))

	for target-ss.t > 1e-12*ss.cfg.Dt {
		h := math.Min(ss.h, target-ss.t)
		start := time.Now()
		y, yd, err := s.stepper.Step(s.plant, ss.y, ss.yd, ss.t, h)
		if err == nil && ss.cfg.ValidateState && (!y.IsValid() || !yd.IsValid()) {
			err = &dynamo.EvalError{Op: "state", Index: -1, Err: dynamo.ErrInvalidState}
		}
		if err != nil {
			s.recorder.StepRejected(err)
			ss.rejected++
			if !dynamo.IsRecoverable(err) {
				return ss.fail(err)
			}
			ss.h = h / 2
			if ss.h < ss.cfg.MinDt {
				return ss.fail(fmt.Errorf("%w: %g < %g: %w", dynamo.ErrStepTooSmall, ss.h, ss.cfg.MinDt, err))
			}
			s.log.Debug(ctx, "step rejected",
				logging.Float("t", ss.t),
				logging.Float("h", h),
				logging.Err(err))
			continue
		}

		s.recorder.StepAccepted(time.Since(start))
		ss.y, ss.yd = y, yd
		ss.t += h
		if h == ss.h {
			ss.h = math.Min(2*ss.h, math.Min(ss.cfg.Dt, ss.cfg.MaxDt))
		}
	}
	ss.t = target
	ss.steps++

	ss.checkOverload(ctx)
	for _, m := range s.metrics {
		m.Observe(s.plant, ss.t)
	}
	for _, o := range s.observers {
		o.OnStep(ss.y, ss.t)
	}
	if ss.steps%ss.cfg.SaveEvery == 0 || ss.Done() {
		ss.record()
	}
	return nil
}

func (ss *Session) checkOverload(ctx context.Context) {
	s := ss.sim
	over := s.plant.Overloaded()
	if over && !ss.overloaded {
		ss.overloads++
		s.recorder.Overload()
		s.log.Warn(ctx, "tether overloaded",
			logging.Float("t", ss.t),
			logging.Float("max_tension", s.plant.MaxTension()))
	}
	ss.overloaded = over
}

func (ss *Session) fail(err error) error {
	wrapped := &dynamo.SimulationError{Step: ss.steps, Time: ss.t, State: ss.y.Clone(), Wrapped: err}
	ss.errors = append(ss.errors, wrapped)
	return wrapped
}

func (ss *Session) record() {
	p := ss.sim.plant
	ss.records = append(ss.records, dynamo.Record{
		Time:       ss.t,
		Kite:       p.KitePosition(),
		WinchForce: p.WinchForce(),
		Length:     p.TetherLength(),
		VReelOut:   p.ReelOutSpeed(),
		Lift:       p.Lift(),
		Drag:       p.Drag(),
		Alpha:      p.AnglesOfAttack(),
	})
}

// Result snapshots the session so far.
func (ss *Session) Result() *dynamo.Result {
	res := &dynamo.Result{
		Records:    append([]dynamo.Record(nil), ss.records...),
		Final:      ss.y.Clone(),
		FinalDeriv: ss.yd.Clone(),
		Metrics:    make(map[string]float64, len(ss.sim.metrics)),
		StepsTaken: ss.steps,
		Rejected:   ss.rejected,
		Overloads:  ss.overloads,
		Errors:     append([]error(nil), ss.errors...),
	}
	for _, m := range ss.sim.metrics {
		res.Metrics[m.Name()] = m.Value()
	}
	return res
}

// IsCanceled reports whether err ended a run through its context.
func IsCanceled(err error) bool {
	return errors.Is(err, dynamo.ErrContextCanceled) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
