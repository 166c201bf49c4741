package physics

import (
	"math"

	"github.com/san-kum/kitesim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

// Frame is the kite reference frame: X towards the nose, Y towards the
// left tip, Z from the top particle down to the tip midpoint.
type Frame struct {
	X, Y, Z r3.Vec
}

// KiteFrame builds the kite frame from the top and tip particles.
func KiteFrame(top, left, right r3.Vec) (Frame, error) {
	centre := r3.Scale(0.5, r3.Add(left, right))
	up := r3.Sub(top, centre)
	span := r3.Sub(left, right)
	if r3.Norm(up) < minSegmentLength || r3.Norm(span) < minSegmentLength {
		return Frame{}, dynamo.ErrDegenerateGeometry
	}
	z := r3.Scale(-1/r3.Norm(up), up)
	span = r3.Sub(span, r3.Scale(r3.Dot(span, z), z))
	if r3.Norm(span) < minSegmentLength {
		return Frame{}, dynamo.ErrDegenerateGeometry
	}
	y := r3.Unit(span)
	return Frame{X: r3.Cross(y, z), Y: y, Z: z}, nil
}

// surfaceWind returns the apparent wind at point p, its part normal to
// axis n and the air density there.
func (m *KPS4) surfaceWind(p int, n r3.Vec) (va, vaPerp r3.Vec, rho float64, err error) {
	h := m.pos[p].Z
	rho = m.atm.Density(h)
	va = r3.Sub(r3.Scale(m.atm.WindFactor(h), m.windGround), m.vel[p])
	vaPerp = r3.Sub(va, r3.Scale(r3.Dot(va, n), n))
	if r3.Norm(va) == 0 || r3.Norm(vaPerp) == 0 {
		return va, vaPerp, rho, &dynamo.EvalError{Op: "aero", Index: p, Err: dynamo.ErrDegenerateWind}
	}
	return va, vaPerp, rho, nil
}

// angleOfAttack returns the angle in degrees between the projected wind
// and the kite chord, offset by delta radians.
func angleOfAttack(vaPerp, x r3.Vec, delta float64) float64 {
	cos := r3.Dot(r3.Unit(vaPerp), x)
	cos = math.Max(-1, math.Min(1, cos))
	return (math.Pi - math.Acos(cos) - delta) * 180 / math.Pi
}

// kiteForces adds lift, drag, pitch damping and the steering side force
// of the three surface particles to the network forces.
func (m *KPS4) kiteForces() error {
	a, b, c, d := m.Nose(), m.Top(), m.Left(), m.Right()
	fr, err := KiteFrame(m.pos[b], m.pos[c], m.pos[d])
	if err != nil {
		return &dynamo.EvalError{Op: "kite frame", Index: -1, Err: err}
	}

	k := m.set.Kite
	area := k.Area
	side := k.Area * k.RelSideArea
	ks := k.MaxSteering * math.Pi / 180

	vaB, perpB, rhoB, err := m.surfaceWind(b, fr.Y)
	if err != nil {
		return err
	}
	vaC, perpC, rhoC, err := m.surfaceWind(c, fr.Z)
	if err != nil {
		return err
	}
	vaD, perpD, rhoD, err := m.surfaceWind(d, fr.Z)
	if err != nil {
		return err
	}

	m.alpha[0] = angleOfAttack(perpB, fr.X, m.alphaDP) + m.coeffs.AlphaZero
	m.alpha[1] = angleOfAttack(perpC, fr.X, m.steering*ks) + m.coeffs.AlphaZeroTip
	m.alpha[2] = angleOfAttack(perpD, fr.X, -m.steering*ks) + m.coeffs.AlphaZeroTip

	qB := 0.5 * rhoB * r3.Norm2(perpB)
	qC := 0.5 * rhoC * r3.Norm2(perpC)
	qD := 0.5 * rhoD * r3.Norm2(perpD)

	m.lift[0] = r3.Scale(qB*area*m.polars.CL(m.alpha[0]), r3.Unit(r3.Cross(vaB, fr.Y)))
	m.lift[1] = r3.Scale(-qC*side*m.polars.CL(m.alpha[1]), r3.Unit(r3.Cross(vaC, fr.Z)))
	m.lift[2] = r3.Scale(-qD*side*m.polars.CL(m.alpha[2]), r3.Unit(r3.Cross(fr.Z, vaD)))

	m.drag[0] = BluffDrag(rhoB, m.polars.CD(m.alpha[0]), area, vaB)
	m.drag[1] = BluffDrag(rhoC, m.polars.CD(m.alpha[1]), side, vaC)
	m.drag[2] = BluffDrag(rhoD, m.polars.CD(m.alpha[2]), side, vaD)

	for i, p := range [3]int{b, c, d} {
		m.net.AddForce(p, r3.Add(m.lift[i], m.drag[i]))
	}

	rate := r3.Dot(r3.Sub(m.vel[b], r3.Scale(0.5, r3.Add(m.vel[c], m.vel[d]))), fr.X)
	damp := r3.Scale(k.PitchDamping*rate, fr.X)
	m.net.AddForce(b, r3.Scale(-1, damp))
	m.net.AddForce(c, r3.Scale(0.5, damp))
	m.net.AddForce(d, r3.Scale(0.5, damp))

	m.net.AddForce(a, r3.Scale(k.SideForceCoeff*m.steering*qB*area, fr.Y))
	return nil
}
