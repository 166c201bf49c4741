package physics

import (
	"fmt"

	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

// Spring joins points P1 and P2. Stiffness and Damping are the absolute
// constants of this spring (N/m and Ns/m) at rest length Length.
type Spring struct {
	P1, P2    int
	Length    float64
	Stiffness float64
	Damping   float64
	Kite      bool
}

// SpringNetwork is a set of point masses joined by springs. Point 0 is
// fixed; every other point moves under the accumulated forces.
type SpringNetwork struct {
	Springs  []Spring
	Masses   []float64
	Forces   []r3.Vec
	Tensions []float64

	StiffnessFactor float64
	Coeffs          config.Coefficients
}

func NewSpringNetwork(masses []float64, springs []Spring, coeffs config.Coefficients) (*SpringNetwork, error) {
	n := len(masses)
	if n < 2 {
		return nil, fmt.Errorf("%w: network needs at least 2 points, got %d", dynamo.ErrInvalidSettings, n)
	}
	for i, s := range springs {
		if s.P1 < 0 || s.P1 >= n || s.P2 < 0 || s.P2 >= n || s.P1 == s.P2 {
			return nil, fmt.Errorf("%w: spring %d joins invalid points %d and %d", dynamo.ErrInvalidSettings, i, s.P1, s.P2)
		}
	}
	for i := 1; i < n; i++ {
		if !(masses[i] > 0) {
			return nil, fmt.Errorf("%w: point %d has mass %g", dynamo.ErrInvalidSettings, i, masses[i])
		}
	}
	return &SpringNetwork{
		Springs:         springs,
		Masses:          masses,
		Forces:          make([]r3.Vec, n),
		Tensions:        make([]float64, len(springs)),
		StiffnessFactor: 1,
		Coeffs:          coeffs,
	}, nil
}

func (n *SpringNetwork) Points() int { return len(n.Masses) }

func (n *SpringNetwork) Reset() {
	for i := range n.Forces {
		n.Forces[i] = r3.Vec{}
	}
	for i := range n.Tensions {
		n.Tensions[i] = 0
	}
}

// Input builds the segment input for spring i without any drag.
func (n *SpringNetwork) Input(i int, pos, vel []r3.Vec) SegmentInput {
	s := n.Springs[i]
	comp := n.Coeffs.TetherCompression
	if s.Kite {
		comp = n.Coeffs.KiteCompression
	}
	return SegmentInput{
		Pos1:             pos[s.P1],
		Pos2:             pos[s.P2],
		Vel1:             vel[s.P1],
		Vel2:             vel[s.P2],
		Spring:           s,
		StiffnessFactor:  n.StiffnessFactor,
		Compression:      comp,
		KiteDampingRatio: n.Coeffs.KiteDampingRatio,
	}
}

// Apply adds a segment result to the forces of its two end points, half
// of the drag going to each.
func (n *SpringNetwork) Apply(i int, out SegmentOutput) {
	s := n.Springs[i]
	half := r3.Scale(0.5, out.Drag)
	n.Forces[s.P1] = r3.Add(n.Forces[s.P1], r3.Add(out.Force, half))
	n.Forces[s.P2] = r3.Add(n.Forces[s.P2], r3.Sub(half, out.Force))
	n.Tensions[i] = out.Tension
}

// AddForce adds f to the force on point p.
func (n *SpringNetwork) AddForce(p int, f r3.Vec) {
	n.Forces[p] = r3.Add(n.Forces[p], f)
}

// Accelerate writes g + F/m for every free point into acc. The fixed point
// gets zero.
func (n *SpringNetwork) Accelerate(acc []r3.Vec, g r3.Vec) {
	acc[0] = r3.Vec{}
	for i := 1; i < len(n.Masses); i++ {
		acc[i] = r3.Add(g, r3.Scale(1/n.Masses[i], n.Forces[i]))
	}
}

// Accelerations evaluates the bare spring network, without aerodynamics,
// at the given positions and velocities.
func (n *SpringNetwork) Accelerations(acc, pos, vel []r3.Vec, g r3.Vec) error {
	if len(pos) != n.Points() || len(vel) != n.Points() || len(acc) != n.Points() {
		return &dynamo.EvalError{Op: "network", Index: -1, Err: dynamo.ErrDimensionMismatch}
	}
	n.Reset()
	for i := range n.Springs {
		out, err := SegmentForce(n.Input(i, pos, vel))
		if err != nil {
			return &dynamo.EvalError{Op: "spring", Index: i, Err: err}
		}
		n.Apply(i, out)
	}
	n.Accelerate(acc, g)
	return nil
}

// MaxTension returns the largest spring tension of the last evaluation.
func (n *SpringNetwork) MaxTension() float64 {
	m := 0.0
	for _, t := range n.Tensions {
		if t > m {
			m = t
		}
	}
	return m
}
