package physics

import (
	"math"

	"github.com/san-kum/kitesim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

// minSegmentLength is the length below which a spring direction is
// undefined.
const minSegmentLength = 1e-9

// SegmentInput is everything one spring-damper segment needs to compute
// its force. Wind is the wind velocity at the segment height.
type SegmentInput struct {
	Pos1, Pos2 r3.Vec
	Vel1, Vel2 r3.Vec
	Spring     Spring

	StiffnessFactor  float64
	Compression      float64
	KiteDampingRatio float64

	Rho      float64
	Wind     r3.Vec
	Cd       float64
	Diameter float64
}

// SegmentOutput holds the spring force acting on P1 (P2 gets the
// opposite), the total aerodynamic drag on the segment and the signed
// tension, positive when stretched.
type SegmentOutput struct {
	Force   r3.Vec
	Drag    r3.Vec
	Tension float64
	Length  float64
}

// SegmentForce evaluates the spring-damper law and the cross-flow drag of
// one segment. The spring is stiffer in tension than in compression.
func SegmentForce(in SegmentInput) (SegmentOutput, error) {
	delta := r3.Sub(in.Pos1, in.Pos2)
	length := r3.Norm(delta)
	if length < minSegmentLength || math.IsNaN(length) {
		return SegmentOutput{}, dynamo.ErrDegenerateGeometry
	}
	unit := r3.Scale(1/length, delta)

	sp := in.Spring
	k := sp.Stiffness * in.StiffnessFactor
	c := sp.Damping
	elong := length - sp.Length
	vs := r3.Dot(unit, r3.Sub(in.Vel1, in.Vel2))

	var tension float64
	if elong > 0 {
		if sp.Kite {
			c *= in.KiteDampingRatio
		}
		tension = k*elong + c*vs
	} else {
		tension = in.Compression*k*elong + c*vs
	}

	out := SegmentOutput{
		Force:   r3.Scale(-tension, unit),
		Tension: tension,
		Length:  length,
	}

	if in.Rho == 0 || in.Cd == 0 {
		return out, nil
	}
	va := r3.Sub(in.Wind, r3.Scale(0.5, r3.Add(in.Vel1, in.Vel2)))
	vaPerp := r3.Sub(va, r3.Scale(r3.Dot(va, unit), unit))
	area := length * in.Diameter
	out.Drag = r3.Scale(0.5*in.Rho*in.Cd*area*r3.Norm(vaPerp), vaPerp)
	return out, nil
}

// BluffDrag is the drag of a compact body of frontal area area and drag
// coefficient cd in the apparent wind va.
func BluffDrag(rho, cd, area float64, va r3.Vec) r3.Vec {
	return r3.Scale(0.5*rho*cd*area*r3.Norm(va), va)
}
