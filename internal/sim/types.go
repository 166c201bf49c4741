package sim

import (
	"time"

	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/logging"
	"github.com/san-kum/kitesim/internal/winch"
)

// Plant is the model driven by the simulator. *physics.KPS4 implements it.
type Plant interface {
	dynamo.Model
	dynamo.Telemetry
	Lift() float64
	Drag() float64
	AnglesOfAttack() [3]float64
	SetControl(ctl winch.Control)
	SetDepower(d float64)
	SetSteering(s float64)
}

// Recorder is notified of step outcomes. *observability.Collector
// implements it.
type Recorder interface {
	StepAccepted(d time.Duration)
	StepRejected(err error)
	Overload()
}

type Option func(*Simulator)

func WithLogger(l logging.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Simulator) { s.recorder = r }
}

type nopRecorder struct{}

func (nopRecorder) StepAccepted(time.Duration) {}
func (nopRecorder) StepRejected(error)         {}
func (nopRecorder) Overload()                  {}
