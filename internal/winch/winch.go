// Package winch models the ground station drum and its electric machine.
//
// A Machine turns the tether force and the current reel-out speed into the
// reel-out acceleration. Two variants exist: an asynchronous machine
// regulated around a synchronous speed and a torque-controlled machine.
package winch

import (
	"fmt"
	"math"

	"github.com/san-kum/kitesim/internal/config"
)

type Mode int

const (
	// ModeFree covers both a free-spinning drum and a braked drum.
	ModeFree Mode = iota
	ModeSpeed
	ModeTorque
)

func (m Mode) String() string {
	switch m {
	case ModeSpeed:
		return "speed"
	case ModeTorque:
		return "torque"
	}
	return "free"
}

// Control selects the operating mode by which input is set. A set torque
// wins over a sync speed; a sync speed of exactly zero engages the brake.
type Control struct {
	SyncSpeed *float64
	SetTorque *float64
}

func SpeedControl(v float64) Control  { return Control{SyncSpeed: &v} }
func TorqueControl(t float64) Control { return Control{SetTorque: &t} }

func (c Control) Mode() Mode {
	switch {
	case c.SetTorque != nil:
		return ModeTorque
	case c.SyncSpeed != nil && *c.SyncSpeed != 0:
		return ModeSpeed
	}
	return ModeFree
}

// Brake reports whether the drum is held by the brake.
func (c Control) Brake() bool {
	return c.SetTorque == nil && c.SyncSpeed != nil && *c.SyncSpeed == 0
}

// Machine computes the reel-out acceleration in m/s² for a given reel-out
// speed in m/s and tether force in N.
type Machine interface {
	Acceleration(speed, force float64, ctl Control) float64
	Name() string
}

// drum holds what both machines share: geometry, inertia and friction.
type drum struct {
	radius       float64
	gearRatio    float64
	inertia      float64
	fCoulomb     float64
	cVf          float64
	frictionBand float64
	brakeGain    float64
	maxTorque    float64
}

func newDrum(cfg config.WinchConfig) drum {
	band := cfg.FrictionBand
	if band <= 0 {
		band = 0.05
	}
	return drum{
		radius:       cfg.DrumRadius,
		gearRatio:    cfg.GearRatio,
		inertia:      cfg.Inertia,
		fCoulomb:     cfg.FCoulomb,
		cVf:          cfg.CVf,
		frictionBand: band,
		brakeGain:    cfg.BrakeGain,
		maxTorque:    cfg.MaxTorque,
	}
}

// omega converts a reel-out speed to the motor angular velocity.
func (d drum) omega(speed float64) float64 { return d.gearRatio / d.radius * speed }

func (d drum) friction(speed float64) float64 {
	return d.fCoulomb*math.Tanh(speed/d.frictionBand) + d.cVf*speed
}

// acceleration applies Newton's law on the drum with the motor torque
// positive in the reel-out direction.
func (d drum) acceleration(speed, force, motorTorque float64) float64 {
	k := d.gearRatio / d.radius
	effMass := d.inertia * k * k
	return (force - d.friction(speed) + motorTorque*k) / effMass
}

func (d drum) clampTorque(t float64) float64 {
	if d.maxTorque <= 0 {
		return t
	}
	return math.Max(-d.maxTorque, math.Min(d.maxTorque, t))
}

// AsyncMachine is an induction machine fed at a synchronous speed. Its
// torque follows the Kloss curve of the slip.
type AsyncMachine struct {
	drum
	peakTorque float64
	peakSlip   float64
}

func NewAsyncMachine(cfg config.WinchConfig) *AsyncMachine {
	return &AsyncMachine{drum: newDrum(cfg), peakTorque: cfg.PeakTorque, peakSlip: cfg.PeakSlip}
}

func (a *AsyncMachine) Name() string { return "async" }

func (a *AsyncMachine) Torque(speed, syncSpeed float64) float64 {
	x := (a.omega(syncSpeed) - a.omega(speed)) / a.peakSlip
	return 2 * a.peakTorque * x / (1 + x*x)
}

func (a *AsyncMachine) Acceleration(speed, force float64, ctl Control) float64 {
	if ctl.Brake() {
		return -a.brakeGain * speed
	}
	var torque float64
	switch ctl.Mode() {
	case ModeSpeed:
		torque = a.Torque(speed, *ctl.SyncSpeed)
	case ModeTorque:
		torque = a.clampTorque(*ctl.SetTorque)
	}
	return a.acceleration(speed, force, torque)
}

// TorqueControlledMachine applies the requested torque directly. Asked for
// a speed, it closes a proportional loop on it.
type TorqueControlledMachine struct {
	drum
	speedGain float64
}

func NewTorqueControlledMachine(cfg config.WinchConfig) *TorqueControlledMachine {
	return &TorqueControlledMachine{drum: newDrum(cfg), speedGain: cfg.SpeedGain}
}

func (m *TorqueControlledMachine) Name() string { return "torque" }

func (m *TorqueControlledMachine) Acceleration(speed, force float64, ctl Control) float64 {
	if ctl.Brake() {
		return -m.brakeGain * speed
	}
	var torque float64
	switch ctl.Mode() {
	case ModeTorque:
		torque = *ctl.SetTorque
	case ModeSpeed:
		torque = m.speedGain * (*ctl.SyncSpeed - speed)
	}
	return m.acceleration(speed, force, m.clampTorque(torque))
}

// New builds the machine named in the settings.
func New(cfg config.WinchConfig) (Machine, error) {
	switch cfg.Model {
	case "", "async":
		return NewAsyncMachine(cfg), nil
	case "torque":
		return NewTorqueControlledMachine(cfg), nil
	}
	return nil, fmt.Errorf("unknown winch model: %s", cfg.Model)
}

// ControlFrom builds the control input from the settings.
func ControlFrom(cfg config.WinchConfig) Control {
	return Control{SyncSpeed: cfg.SyncSpeed, SetTorque: cfg.SetTorque}
}
