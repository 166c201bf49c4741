package control

import (
	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/winch"
)

// Setpoint is what the simulator applies to the model before a step. The
// winch fields follow winch.Control: both nil leaves the drum free and a
// sync speed of zero holds it.
type Setpoint struct {
	SyncSpeed *float64
	SetTorque *float64
	Depower   float64
	Steering  float64
}

func (s Setpoint) Winch() winch.Control {
	return winch.Control{SyncSpeed: s.SyncSpeed, SetTorque: s.SetTorque}
}

type Controller interface {
	Compute(tel dynamo.Telemetry, t float64) Setpoint
}

type Tunable interface {
	Params() map[string]float64
	SetParam(name string, value float64) bool
}

// Constant returns the same set point forever.
type Constant struct {
	Setpoint Setpoint
}

func NewConstant(sp Setpoint) *Constant {
	return &Constant{Setpoint: sp}
}

// FromSettings holds the winch control, depower and steering of set.
func FromSettings(set *config.Settings) *Constant {
	ctl := winch.ControlFrom(set.Winch)
	return NewConstant(Setpoint{
		SyncSpeed: ctl.SyncSpeed,
		SetTorque: ctl.SetTorque,
		Depower:   set.Depower,
		Steering:  set.Steering,
	})
}

func (c *Constant) Compute(tel dynamo.Telemetry, t float64) Setpoint {
	return c.Setpoint
}

func ptr(v float64) *float64 { return &v }
