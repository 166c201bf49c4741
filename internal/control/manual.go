package control

import (
	"math"
	"sync"

	"github.com/san-kum/kitesim/internal/dynamo"
)

// Manual passes set points changed interactively, e.g. from key presses in
// the live view. It is safe for concurrent use.
type Manual struct {
	mu          sync.Mutex
	sp          Setpoint
	maxSteering float64
}

func NewManual(initial Setpoint, maxSteering float64) *Manual {
	return &Manual{sp: initial, maxSteering: maxSteering}
}

func (c *Manual) Compute(tel dynamo.Telemetry, t float64) Setpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sp
}

// Steer adds delta to the steering, clamped to the allowed range.
func (c *Manual) Steer(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sp.Steering + delta
	if c.maxSteering > 0 {
		s = math.Max(-c.maxSteering, math.Min(c.maxSteering, s))
	}
	c.sp.Steering = s
}

// Depower adds delta to the depower setting, clamped to [0, 1].
func (c *Manual) Depower(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sp.Depower = math.Max(0, math.Min(1, c.sp.Depower+delta))
}

// SetSyncSpeed switches the winch to speed mode.
func (c *Manual) SetSyncSpeed(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sp.SyncSpeed = ptr(v)
	c.sp.SetTorque = nil
}

// Release leaves the winch free.
func (c *Manual) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sp.SyncSpeed = nil
	c.sp.SetTorque = nil
}

func (c *Manual) Setpoint() Setpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sp
}

func (c *Manual) Params() map[string]float64 {
	sp := c.Setpoint()
	p := map[string]float64{"Depower": sp.Depower, "Steering": sp.Steering}
	if sp.SyncSpeed != nil {
		p["SyncSpeed"] = *sp.SyncSpeed
	}
	return p
}

func (c *Manual) SetParam(name string, value float64) bool {
	switch name {
	case "Depower":
		c.Depower(value - c.Setpoint().Depower)
	case "Steering":
		c.Steer(value - c.Setpoint().Steering)
	case "SyncSpeed":
		c.SetSyncSpeed(value)
	default:
		return false
	}
	return true
}
