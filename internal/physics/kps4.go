package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/kitesim/internal/aero"
	"github.com/san-kum/kitesim/internal/atmosphere"
	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/winch"
	"gonum.org/v1/gonum/spatial/r3"
)

// PreStress shortens the kite springs against the nominal geometry so the
// kite body is slightly tensioned at rest.
const PreStress = 0.9998

// Counter is incremented once per model evaluation.
// prometheus.Counter satisfies it.
type Counter interface {
	Inc()
}

type Option func(*KPS4)

func WithEvalCounter(c Counter) Option {
	return func(m *KPS4) { m.counter = c }
}

// KPS4 is a tether of point masses ending in a kite built from four point
// masses. It is built once from settings and evaluated through Residual or
// Derive; every working array is recomputed from the state on each call.
type KPS4 struct {
	set    *config.Settings
	coeffs config.Coefficients
	atm    atmosphere.Model
	wm     winch.Machine
	polars *aero.Polars
	net    *SpringNetwork

	segments   int
	ctl        winch.Control
	steering   float64
	depower    float64
	alphaDP    float64
	windGround r3.Vec
	downwind   r3.Vec
	gravity    r3.Vec
	segLength  float64

	length     float64
	vReelOut   float64
	pos        []r3.Vec
	vel        []r3.Vec
	acc        []r3.Vec
	winchForce r3.Vec
	winchAcc   float64
	lift       [3]r3.Vec
	drag       [3]r3.Vec
	alpha      [3]float64

	evals   int64
	counter Counter
}

func NewKPS4(set *config.Settings, atm atmosphere.Model, wm winch.Machine, opts ...Option) (*KPS4, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if atm == nil || wm == nil {
		return nil, fmt.Errorf("%w: atmosphere and winch are required", dynamo.ErrInvalidSettings)
	}
	coeffs := set.Coefficients()
	polars, err := aero.NewPolars(set.Aero, coeffs.DragCorrection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dynamo.ErrInvalidSettings, err)
	}

	dir := set.Environment.WindDirection * math.Pi / 180
	downwind := r3.Vec{X: math.Cos(dir), Y: math.Sin(dir)}

	m := &KPS4{
		set:        set,
		coeffs:     coeffs,
		atm:        atm,
		wm:         wm,
		polars:     polars,
		segments:   set.Segments,
		ctl:        winch.ControlFrom(set.Winch),
		downwind:   downwind,
		windGround: r3.Scale(set.Environment.WindSpeed, downwind),
		gravity:    r3.Vec{Z: -set.Environment.Gravity},
	}
	for _, opt := range opts {
		opt(m)
	}

	n := set.Points()
	m.pos = make([]r3.Vec, n)
	m.vel = make([]r3.Vec, n)
	m.acc = make([]r3.Vec, n)

	springs := make([]Spring, set.Segments+9)
	for i := 0; i < set.Segments; i++ {
		springs[i] = Spring{P1: i, P2: i + 1}
	}
	m.buildKiteSprings(springs[set.Segments:])

	masses := make([]float64, n)
	m.net = &SpringNetwork{
		Springs:         springs,
		Masses:          masses,
		Forces:          make([]r3.Vec, n),
		Tensions:        make([]float64, len(springs)),
		StiffnessFactor: 1,
		Coeffs:          coeffs,
	}
	if err := m.RebuildGeometry(set.TetherLength); err != nil {
		return nil, err
	}
	if err := m.RebuildMasses(set.TetherLength); err != nil {
		return nil, err
	}
	m.length = set.TetherLength
	m.vReelOut = set.VReelOut
	m.SetSteering(set.Steering)
	m.SetDepower(set.Depower)
	return m, nil
}

// Point indices of the KCU and the kite particles.
func (m *KPS4) KCU() int   { return m.segments }
func (m *KPS4) Nose() int  { return m.segments + 1 }
func (m *KPS4) Top() int   { return m.segments + 2 }
func (m *KPS4) Left() int  { return m.segments + 3 }
func (m *KPS4) Right() int { return m.segments + 4 }

// kiteOffsets returns the nominal positions of A, B, C and D relative to
// the KCU for a tether pointing along t.
func kiteOffsets(k config.KiteConfig, t, side r3.Vec) [4]r3.Vec {
	f := r3.Cross(t, side)
	hb, hk, w := k.BridleHeight, k.Height, k.Width
	base := r3.Scale(hb, t)
	return [4]r3.Vec{
		r3.Add(base, r3.Scale(w*k.NoseDistance, f)),
		r3.Scale(hb+hk, t),
		r3.Add(base, r3.Scale(w/2, side)),
		r3.Sub(base, r3.Scale(w/2, side)),
	}
}

func (m *KPS4) buildKiteSprings(dst []Spring) {
	s := m.segments
	kcu, a, b, c, d := s, s+1, s+2, s+3, s+4
	pairs := [9][2]int{{kcu, a}, {c, a}, {c, d}, {b, c}, {d, kcu}, {c, kcu}, {b, d}, {d, a}, {a, b}}

	t, side := m.tetherAxes()
	off := kiteOffsets(m.set.Kite, t, side)
	at := func(p int) r3.Vec {
		if p == kcu {
			return r3.Vec{}
		}
		return off[p-a]
	}

	ratio := m.set.Kite.LineDiameter / m.set.Tether.Diameter
	ratio *= ratio
	for i, pr := range pairs {
		rest := r3.Norm(r3.Sub(at(pr[0]), at(pr[1]))) * PreStress
		dst[i] = Spring{
			P1:        pr[0],
			P2:        pr[1],
			Length:    rest,
			Stiffness: m.set.Tether.CSpring * ratio / rest,
			Damping:   m.set.Tether.Damping * ratio / rest,
			Kite:      true,
		}
	}
}

// tetherAxes returns the unit vector from the anchor to the KCU of the
// initial straight tether and the horizontal axis across the wind.
func (m *KPS4) tetherAxes() (r3.Vec, r3.Vec) {
	el := m.set.Elevation * math.Pi / 180
	t := r3.Add(r3.Scale(math.Cos(el), m.downwind), r3.Vec{Z: math.Sin(el)})
	side := r3.Cross(r3.Vec{Z: 1}, m.downwind)
	return t, side
}

// RebuildGeometry sets the tether spring rest lengths and constants for a
// tether of the given length. Kite springs are left unchanged.
func (m *KPS4) RebuildGeometry(length float64) error {
	if !(length > 0) || math.IsInf(length, 0) {
		return fmt.Errorf("%w: tether length %g", dynamo.ErrInvalidSettings, length)
	}
	l0 := length / float64(m.segments)
	m.segLength = l0
	for i := 0; i < m.segments; i++ {
		sp := &m.net.Springs[i]
		sp.Length = l0
		sp.Stiffness = m.set.Tether.CSpring / l0
		sp.Damping = m.set.Tether.Damping / l0
	}
	return nil
}

// RebuildMasses distributes the tether mass over the tether particles and
// the kite mass over the kite particles.
func (m *KPS4) RebuildMasses(length float64) error {
	if !(length > 0) || math.IsInf(length, 0) {
		return fmt.Errorf("%w: tether length %g", dynamo.ErrInvalidSettings, length)
	}
	d := m.set.Tether.Diameter
	seg := m.set.Tether.Density * math.Pi * d * d / 4 * length / float64(m.segments)
	masses := m.net.Masses
	masses[0] = 0
	for i := 1; i <= m.segments; i++ {
		masses[i] = seg
	}
	masses[m.KCU()] += m.set.KCU.Mass

	k := m.set.Kite
	masses[m.Nose()] = k.RelNoseMass * k.Mass
	masses[m.Top()] = k.RelTopMass * (1 - k.RelNoseMass) * k.Mass
	tip := 0.5 * (1 - k.RelTopMass) * (1 - k.RelNoseMass) * k.Mass
	masses[m.Left()] = tip
	masses[m.Right()] = tip

	for i := 1; i < len(masses); i++ {
		if !(masses[i] > 0) {
			return fmt.Errorf("%w: point %d has mass %g", dynamo.ErrInvalidSettings, i, masses[i])
		}
	}
	return nil
}

func (m *KPS4) SetControl(ctl winch.Control) { m.ctl = ctl }

func (m *KPS4) Control() winch.Control { return m.ctl }

// SetSteering sets the steering input, clamped to [-1, 1].
func (m *KPS4) SetSteering(s float64) {
	m.steering = math.Max(-1, math.Min(1, s))
}

func (m *KPS4) Steering() float64 { return m.steering }

// SetDepower sets the depower input, clamped to [0, 1], and updates the
// depower angle.
func (m *KPS4) SetDepower(d float64) {
	m.depower = math.Max(0, math.Min(1, d))
	m.alphaDP = DepowerAngle(m.set, m.depower)
}

func (m *KPS4) Depower() float64 { return m.depower }

// DepowerAngle returns the current depower angle in radians.
func (m *KPS4) DepowerAngle() float64 { return m.alphaDP }

func (m *KPS4) SetStiffnessFactor(f float64) { m.net.StiffnessFactor = f }

func (m *KPS4) StiffnessFactor() float64 { return m.net.StiffnessFactor }

// DepowerAngle computes the change of the kite's pitch caused by
// lengthening the depower line, from the triangle formed by the power
// line, the steering lines and the depower line.
func DepowerAngle(set *config.Settings, depower float64) float64 {
	a := set.KCU.Power2SteerDist
	b0 := set.Kite.BridleHeight + 0.5*set.Kite.Height
	b := b0 + set.KCU.DepowerLineLength*depower
	c := math.Sqrt(a*a + b0*b0)
	cos := (a*a + b*b - c*c) / (2 * a * b)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Pi/2 - math.Acos(cos)
}

func (m *KPS4) StateDim() int { return m.set.StateDim() }

func (m *KPS4) Settings() *config.Settings { return m.set }

// Positions returns the positions of all points of the last evaluation,
// the anchor included.
func (m *KPS4) Positions() []r3.Vec { return append([]r3.Vec(nil), m.pos...) }

func (m *KPS4) Velocities() []r3.Vec { return append([]r3.Vec(nil), m.vel...) }

func (m *KPS4) Accelerations() []r3.Vec { return append([]r3.Vec(nil), m.acc...) }

// WinchForce returns the magnitude of the force on the ground anchor.
func (m *KPS4) WinchForce() float64 { return r3.Norm(m.winchForce) }

// Lift returns the magnitude of the summed lift of the three surfaces.
func (m *KPS4) Lift() float64 {
	return r3.Norm(r3.Add(m.lift[0], r3.Add(m.lift[1], m.lift[2])))
}

func (m *KPS4) Drag() float64 {
	return r3.Norm(r3.Add(m.drag[0], r3.Add(m.drag[1], m.drag[2])))
}

// AnglesOfAttack returns the angles of attack of the centre, left and
// right surfaces in degrees.
func (m *KPS4) AnglesOfAttack() [3]float64 { return m.alpha }

func (m *KPS4) SpringTensions() []float64 { return append([]float64(nil), m.net.Tensions...) }

func (m *KPS4) MaxTension() float64 { return m.net.MaxTension() }

// Overloaded reports whether any spring tension of the last evaluation
// exceeds the configured maximum force.
func (m *KPS4) Overloaded() bool { return m.MaxTension() > m.set.MaxForce }

func (m *KPS4) Masses() []float64 { return append([]float64(nil), m.net.Masses...) }

func (m *KPS4) Springs() []Spring { return append([]Spring(nil), m.net.Springs...) }

func (m *KPS4) SegmentLength() float64 { return m.segLength }
func (m *KPS4) TetherLength() float64  { return m.length }
func (m *KPS4) ReelOutSpeed() float64  { return m.vReelOut }

// KitePosition returns the position of the top particle.
func (m *KPS4) KitePosition() r3.Vec { return m.pos[m.Top()] }

// Evaluations returns how many times the model has been evaluated.
func (m *KPS4) Evaluations() int64 { return m.evals }
