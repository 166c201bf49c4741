package metrics

import "github.com/san-kum/kitesim/internal/dynamo"

// MeanPower averages the mechanical power at the winch, force times
// reel-out speed, over the observed steps.
type MeanPower struct {
	name    string
	samples int
	total   float64
}

func NewMeanPower() *MeanPower {
	return &MeanPower{name: "mean_power"}
}

func (p *MeanPower) Name() string { return p.name }

func (p *MeanPower) Observe(tel dynamo.Telemetry, t float64) {
	p.total += tel.WinchForce() * tel.ReelOutSpeed()
	p.samples++
}

func (p *MeanPower) Value() float64 {
	if p.samples == 0 {
		return 0
	}
	return p.total / float64(p.samples)
}

func (p *MeanPower) Reset() {
	p.total = 0
	p.samples = 0
}

// Energy integrates the winch power over time with the trapezoidal rule.
// Reeling in counts negative.
type Energy struct {
	name      string
	energy    float64
	lastPower float64
	lastT     float64
	samples   int
}

func NewEnergy() *Energy {
	return &Energy{name: "energy"}
}

func (e *Energy) Name() string { return e.name }

func (e *Energy) Observe(tel dynamo.Telemetry, t float64) {
	power := tel.WinchForce() * tel.ReelOutSpeed()
	if e.samples > 0 {
		e.energy += 0.5 * (power + e.lastPower) * (t - e.lastT)
	}
	e.lastPower = power
	e.lastT = t
	e.samples++
}

func (e *Energy) Value() float64 {
	return e.energy
}

func (e *Energy) Reset() {
	e.energy = 0
	e.lastPower = 0
	e.lastT = 0
	e.samples = 0
}
