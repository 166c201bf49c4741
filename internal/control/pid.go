package control

import (
	"math"

	"github.com/san-kum/kitesim/internal/dynamo"
)

// ForcePID drives the winch in speed mode so that the tether force at the
// ground follows Target. A force above the target reels out faster.
type ForcePID struct {
	Kp       float64
	Ki       float64
	Kd       float64
	Target   float64
	MinSpeed float64
	MaxSpeed float64
	Depower  float64
	Steering float64

	integral float64
	prevErr  float64
	prevT    float64
	first    bool
}

func NewForcePID(kp, ki, kd, target float64) *ForcePID {
	return &ForcePID{
		Kp:       kp,
		Ki:       ki,
		Kd:       kd,
		Target:   target,
		MinSpeed: -8,
		MaxSpeed: 8,
		first:    true,
	}
}

func (p *ForcePID) Compute(tel dynamo.Telemetry, t float64) Setpoint {
	err := tel.WinchForce() - p.Target

	var u float64
	if p.first {
		p.prevErr = err
		p.prevT = t
		p.first = false
		u = p.Kp * err
	} else if dt := t - p.prevT; dt > 0 {
		p.integral += err * dt
		derivative := (err - p.prevErr) / dt
		u = p.Kp*err + p.Ki*p.integral + p.Kd*derivative
		p.prevErr = err
		p.prevT = t
	} else {
		u = p.Kp*err + p.Ki*p.integral
	}

	speed := math.Max(p.MinSpeed, math.Min(p.MaxSpeed, u))
	// A zero sync speed would engage the brake.
	if speed == 0 {
		speed = math.SmallestNonzeroFloat64
	}
	return Setpoint{SyncSpeed: ptr(speed), Depower: p.Depower, Steering: p.Steering}
}

// Reset clears integral and derivative state
func (p *ForcePID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.first = true
}

// Params returns tunable parameters for live adjustment
func (p *ForcePID) Params() map[string]float64 {
	return map[string]float64{
		"Kp":     p.Kp,
		"Ki":     p.Ki,
		"Kd":     p.Kd,
		"Target": p.Target,
	}
}

func (p *ForcePID) SetParam(name string, value float64) bool {
	switch name {
	case "Kp":
		p.Kp = value
	case "Ki":
		p.Ki = value
	case "Kd":
		p.Kd = value
	case "Target":
		p.Target = value
	default:
		return false
	}
	return true
}
