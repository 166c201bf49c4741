package control

import (
	"fmt"
	"os"

	"github.com/san-kum/kitesim/internal/dynamo"
	"gonum.org/v1/gonum/interp"
	"gopkg.in/yaml.v3"
)

// ScheduleFile is the YAML form of a schedule. Every channel present must
// have one value per entry of Times.
type ScheduleFile struct {
	Times     []float64 `yaml:"times"`
	SyncSpeed []float64 `yaml:"sync_speed"`
	SetTorque []float64 `yaml:"set_torque"`
	Depower   []float64 `yaml:"depower"`
	Steering  []float64 `yaml:"steering"`
}

// Schedule interpolates set points linearly in time and holds the first and
// last values outside the covered range. Channels left out keep the value of
// Base.
type Schedule struct {
	Base Setpoint

	start, end float64
	syncSpeed  *channel
	setTorque  *channel
	depower    *channel
	steering   *channel
}

type channel struct {
	pl     interp.PiecewiseLinear
	first  float64
	last   float64
	t0, t1 float64
}

func newChannel(name string, times, values []float64) (*channel, error) {
	if values == nil {
		return nil, nil
	}
	if len(values) != len(times) {
		return nil, fmt.Errorf("schedule: %s has %d values for %d times", name, len(values), len(times))
	}
	c := &channel{first: values[0], last: values[len(values)-1], t0: times[0], t1: times[len(times)-1]}
	if len(times) > 1 {
		if err := c.pl.Fit(times, values); err != nil {
			return nil, fmt.Errorf("schedule: %s: %w", name, err)
		}
	}
	return c, nil
}

func (c *channel) at(t float64) float64 {
	switch {
	case t <= c.t0:
		return c.first
	case t >= c.t1:
		return c.last
	}
	return c.pl.Predict(t)
}

func NewSchedule(f ScheduleFile, base Setpoint) (*Schedule, error) {
	if len(f.Times) == 0 {
		return nil, fmt.Errorf("schedule: no times")
	}
	for i := 1; i < len(f.Times); i++ {
		if f.Times[i] <= f.Times[i-1] {
			return nil, fmt.Errorf("schedule: times must increase strictly (index %d)", i)
		}
	}
	if f.SyncSpeed != nil && f.SetTorque != nil {
		return nil, fmt.Errorf("schedule: sync_speed and set_torque are exclusive")
	}

	s := &Schedule{Base: base, start: f.Times[0], end: f.Times[len(f.Times)-1]}
	var err error
	if s.syncSpeed, err = newChannel("sync_speed", f.Times, f.SyncSpeed); err != nil {
		return nil, err
	}
	if s.setTorque, err = newChannel("set_torque", f.Times, f.SetTorque); err != nil {
		return nil, err
	}
	if s.depower, err = newChannel("depower", f.Times, f.Depower); err != nil {
		return nil, err
	}
	if s.steering, err = newChannel("steering", f.Times, f.Steering); err != nil {
		return nil, err
	}
	return s, nil
}

func LoadSchedule(path string, base Setpoint) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	var f ScheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schedule %s: %w", path, err)
	}
	return NewSchedule(f, base)
}

// Span returns the first and last scheduled times.
func (s *Schedule) Span() (float64, float64) { return s.start, s.end }

func (s *Schedule) Compute(tel dynamo.Telemetry, t float64) Setpoint {
	sp := s.Base
	if s.syncSpeed != nil {
		sp.SyncSpeed = ptr(s.syncSpeed.at(t))
		sp.SetTorque = nil
	}
	if s.setTorque != nil {
		sp.SetTorque = ptr(s.setTorque.at(t))
		sp.SyncSpeed = nil
	}
	if s.depower != nil {
		sp.Depower = s.depower.at(t)
	}
	if s.steering != nil {
		sp.Steering = s.steering.at(t)
	}
	return sp
}
