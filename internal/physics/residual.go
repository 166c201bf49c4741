package physics

import (
	"math"

	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

// movingPoints is the number of points carried in the state vector.
func (m *KPS4) movingPoints() int { return m.segments + config.KiteParticles }

// unpack copies positions, velocities, tether length and reel-out speed
// out of y. The anchor stays at the origin.
func (m *KPS4) unpack(y dynamo.State) {
	n := m.movingPoints()
	m.pos[0], m.vel[0] = r3.Vec{}, r3.Vec{}
	for i := 1; i <= n; i++ {
		j := 3 * (i - 1)
		m.pos[i] = r3.Vec{X: y[j], Y: y[j+1], Z: y[j+2]}
		j += 3 * n
		m.vel[i] = r3.Vec{X: y[j], Y: y[j+1], Z: y[j+2]}
	}
	m.length = y[6*n]
	m.vReelOut = y[6*n+1]
}

// evaluate computes every force and acceleration for state y.
func (m *KPS4) evaluate(y dynamo.State) error {
	if !y.IsValid() {
		return &dynamo.EvalError{Op: "state", Index: -1, Err: dynamo.ErrInvalidState}
	}
	m.evals++
	if m.counter != nil {
		m.counter.Inc()
	}
	m.unpack(y)
	if err := m.RebuildGeometry(m.length); err != nil {
		return &dynamo.EvalError{Op: "geometry", Index: -1, Err: err}
	}
	if err := m.RebuildMasses(m.length); err != nil {
		return &dynamo.EvalError{Op: "masses", Index: -1, Err: err}
	}

	net := m.net
	net.Reset()
	tether := m.set.Tether
	for i, sp := range net.Springs {
		in := net.Input(i, m.pos, m.vel)
		h := 0.5 * (in.Pos1.Z + in.Pos2.Z)
		in.Rho = m.atm.Density(h)
		in.Wind = r3.Scale(m.atm.WindFactor(h), m.windGround)
		in.Cd = tether.Cd
		in.Diameter = tether.Diameter
		if sp.Kite {
			in.Diameter = m.set.Kite.LineDiameter
		}

		out, err := SegmentForce(in)
		if err != nil {
			return &dynamo.EvalError{Op: "spring", Index: i, Err: err}
		}
		net.Apply(i, out)

		if i == 0 {
			m.winchForce = r3.Add(out.Force, r3.Scale(0.5, out.Drag))
		}
		if i == m.segments-1 {
			net.AddForce(m.KCU(), m.kcuDrag())
		}
	}

	if err := m.kiteForces(); err != nil {
		return err
	}
	net.Accelerate(m.acc, m.gravity)
	m.winchAcc = m.wm.Acceleration(m.vReelOut, r3.Norm(m.winchForce), m.ctl)
	return nil
}

func (m *KPS4) kcuDrag() r3.Vec {
	p := m.KCU()
	h := m.pos[p].Z
	va := r3.Sub(r3.Scale(m.atm.WindFactor(h), m.windGround), m.vel[p])
	d := m.set.KCU.Diameter
	return BluffDrag(m.atm.Density(h), m.set.KCU.Cd, math.Pi/4*d*d, va)
}

func (m *KPS4) checkDims(states ...dynamo.State) error {
	dim := m.StateDim()
	for _, s := range states {
		if len(s) != dim {
			return &dynamo.EvalError{Op: "residual", Index: -1, Err: dynamo.ErrDimensionMismatch}
		}
	}
	return nil
}

// Residual writes the implicit model equations into res. The first 3M
// entries are velocity consistency, the next 3M force balance, then the
// tether length and the winch.
func (m *KPS4) Residual(res, yd, y dynamo.State, t float64) error {
	if err := m.checkDims(res, yd, y); err != nil {
		return err
	}
	if err := m.evaluate(y); err != nil {
		return err
	}

	n := m.movingPoints()
	for i := 1; i <= n; i++ {
		j := 3 * (i - 1)
		v, a := m.vel[i], m.acc[i]
		res[j] = v.X - yd[j]
		res[j+1] = v.Y - yd[j+1]
		res[j+2] = v.Z - yd[j+2]
		k := j + 3*n
		res[k] = yd[k] - a.X
		res[k+1] = yd[k+1] - a.Y
		res[k+2] = yd[k+2] - a.Z
	}
	res[6*n] = yd[6*n] - m.vReelOut
	res[6*n+1] = yd[6*n+1] - m.winchAcc

	for i, v := range res {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &dynamo.EvalError{Op: "residual", Index: i, Err: dynamo.ErrNonFiniteResidual}
		}
	}
	return nil
}

// Derive writes the explicit time derivative of y into yd.
func (m *KPS4) Derive(yd, y dynamo.State, t float64) error {
	if err := m.checkDims(yd, y); err != nil {
		return err
	}
	if err := m.evaluate(y); err != nil {
		return err
	}

	n := m.movingPoints()
	for i := 1; i <= n; i++ {
		j := 3 * (i - 1)
		v, a := m.vel[i], m.acc[i]
		yd[j], yd[j+1], yd[j+2] = v.X, v.Y, v.Z
		k := j + 3*n
		yd[k], yd[k+1], yd[k+2] = a.X, a.Y, a.Z
	}
	yd[6*n] = m.vReelOut
	yd[6*n+1] = m.winchAcc

	if !yd.IsValid() {
		return &dynamo.EvalError{Op: "derive", Index: -1, Err: dynamo.ErrNonFiniteResidual}
	}
	return nil
}
