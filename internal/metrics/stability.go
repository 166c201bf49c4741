package metrics

import (
	"math"

	"github.com/san-kum/kitesim/internal/dynamo"
)

type MaxTension struct {
	name string
	max  float64
}

func NewMaxTension() *MaxTension {
	return &MaxTension{name: "max_tension"}
}

func (m *MaxTension) Name() string { return m.name }

func (m *MaxTension) Observe(tel dynamo.Telemetry, t float64) {
	m.max = math.Max(m.max, tel.MaxTension())
}

func (m *MaxTension) Value() float64 { return m.max }
func (m *MaxTension) Reset()         { m.max = 0 }

// OverloadCount counts the steps that ended with a spring above the
// maximum force.
type OverloadCount struct {
	name       string
	violations int
	samples    int
}

func NewOverloadCount() *OverloadCount {
	return &OverloadCount{name: "overload_steps"}
}

func (o *OverloadCount) Name() string { return o.name }

func (o *OverloadCount) Observe(tel dynamo.Telemetry, t float64) {
	o.samples++
	if tel.Overloaded() {
		o.violations++
	}
}

func (o *OverloadCount) Value() float64 { return float64(o.violations) }

// Fraction returns the share of observed steps that were overloaded.
func (o *OverloadCount) Fraction() float64 {
	if o.samples == 0 {
		return 0
	}
	return float64(o.violations) / float64(o.samples)
}

func (o *OverloadCount) Reset() {
	o.violations = 0
	o.samples = 0
}

type MaxHeight struct {
	name string
	max  float64
	seen bool
}

func NewMaxHeight() *MaxHeight {
	return &MaxHeight{name: "max_height"}
}

func (h *MaxHeight) Name() string { return h.name }

func (h *MaxHeight) Observe(tel dynamo.Telemetry, t float64) {
	z := tel.KitePosition().Z
	if !h.seen || z > h.max {
		h.max = z
		h.seen = true
	}
}

func (h *MaxHeight) Value() float64 { return h.max }

func (h *MaxHeight) Reset() {
	h.max = 0
	h.seen = false
}

// Standard returns the metrics every run records.
func Standard() []dynamo.Metric {
	return []dynamo.Metric{
		NewMaxTension(),
		NewMeanPower(),
		NewEnergy(),
		NewMaxHeight(),
		NewOverloadCount(),
	}
}

// ForceError is the RMS deviation of the winch force from a target force.
type ForceError struct {
	name    string
	target  float64
	sumSq   float64
	samples int
}

func NewForceError(target float64) *ForceError {
	return &ForceError{name: "force_rms_error", target: target}
}

func (f *ForceError) Name() string { return f.name }

func (f *ForceError) Observe(tel dynamo.Telemetry, t float64) {
	d := tel.WinchForce() - f.target
	f.sumSq += d * d
	f.samples++
}

func (f *ForceError) Value() float64 {
	if f.samples == 0 {
		return 0
	}
	return math.Sqrt(f.sumSq / float64(f.samples))
}

func (f *ForceError) Reset() {
	f.sumSq = 0
	f.samples = 0
}
