package dynamo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// MaxAbs returns the infinity norm of s.
func (s State) MaxAbs() float64 {
	m := 0.0
	for _, v := range s {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// Model is a differential-algebraic system in implicit form.
//
// Residual writes F(t, y, yd) into res; a zero residual means yd is
// consistent with y. Derive writes the explicit derivative of y into yd.
// Both recompute everything from their inputs.
type Model interface {
	Residual(res, yd, y State, t float64) error
	Derive(yd, y State, t float64) error
	StateDim() int
}

// Stepper advances a model by one step of size dt, returning the new state
// and its derivative. The last model evaluation of a successful step is at
// the returned state, so telemetry read afterwards describes it. yd may be
// nil.
type Stepper interface {
	Step(m Model, y, yd State, t, dt float64) (State, State, error)
}

// Telemetry exposes the last evaluated values of a model for metrics and
// recording.
type Telemetry interface {
	WinchForce() float64
	ReelOutSpeed() float64
	TetherLength() float64
	KitePosition() r3.Vec
	MaxTension() float64
	Overloaded() bool
}

type Metric interface {
	Name() string
	Observe(tel Telemetry, t float64)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(y State, t float64)
}

type Config struct {
	Dt            float64
	Duration      float64
	MinDt         float64
	MaxDt         float64
	SaveEvery     int
	ValidateState bool
}

func DefaultConfig() Config {
	return Config{
		Dt:            0.05,
		Duration:      10.0,
		MinDt:         1e-6,
		MaxDt:         0.1,
		SaveEvery:     1,
		ValidateState: true,
	}
}

// Record is one row of recorded telemetry.
type Record struct {
	Time       float64
	Kite       r3.Vec
	WinchForce float64
	Length     float64
	VReelOut   float64
	Lift       float64
	Drag       float64
	Alpha      [3]float64
}

type Result struct {
	Records    []Record
	Final      State
	FinalDeriv State
	Metrics    map[string]float64
	StepsTaken int
	Rejected   int
	Overloads  int
	Errors     []error
}

type SimError struct {
	Time    float64
	Step    int
	Message string
}

func (e SimError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %s", e.Step, e.Time, e.Message)
}
