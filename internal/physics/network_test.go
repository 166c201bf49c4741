package physics

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

var testCoeffs = config.Coefficients{
	KiteCompression:   0.25,
	TetherCompression: 0.1,
	KiteDampingRatio:  6.0,
	DragCorrection:    0.93,
}

func segment(p1, p2 r3.Vec, sp Spring) SegmentInput {
	return SegmentInput{
		Pos1:             p1,
		Pos2:             p2,
		Spring:           sp,
		StiffnessFactor:  1,
		Compression:      testCoeffs.TetherCompression,
		KiteDampingRatio: testCoeffs.KiteDampingRatio,
	}
}

func TestSegmentForce_UnitStretch(t *testing.T) {
	sp := Spring{P1: 0, P2: 1, Length: 5, Stiffness: 1000, Damping: 10}
	out, err := SegmentForce(segment(r3.Vec{}, r3.Vec{Z: -6}, sp))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(out.Tension-1000) > 1e-9 {
		t.Errorf("tension = %f, want %f", out.Tension, 1000.0)
	}
	// stretched: P1 is pulled towards P2
	if out.Force.Z >= 0 || out.Force.X != 0 || out.Force.Y != 0 {
		t.Errorf("force on P1 = %v, want along -Z", out.Force)
	}
}

func TestSegmentForce_Branches(t *testing.T) {
	sp := Spring{P1: 0, P2: 1, Length: 5, Stiffness: 100}
	tests := []struct {
		name    string
		ratio   float64
		kite    bool
		compare float64
	}{
		{"tether", 0.1, false, 0.1},
		{"kite", 0.25, true, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp.Kite = tt.kite
			in := segment(r3.Vec{}, r3.Vec{X: 6}, sp)
			in.Compression = tt.ratio
			stretched, err := SegmentForce(in)
			if err != nil {
				t.Fatal(err)
			}
			in.Pos2 = r3.Vec{X: 4}
			compressed, err := SegmentForce(in)
			if err != nil {
				t.Fatal(err)
			}

			if stretched.Force.X <= 0 {
				t.Errorf("stretched spring should pull P1 towards P2, got %v", stretched.Force)
			}
			if compressed.Force.X >= 0 {
				t.Errorf("compressed spring should push P1 away from P2, got %v", compressed.Force)
			}
			got := r3.Norm(compressed.Force) / r3.Norm(stretched.Force)
			if math.Abs(got-tt.compare) > 1e-12 {
				t.Errorf("compression ratio = %f, want %f", got, tt.compare)
			}
		})
	}
}

func TestSegmentForce_KiteDamping(t *testing.T) {
	sp := Spring{P1: 0, P2: 1, Length: 1, Stiffness: 100, Damping: 2, Kite: true}
	in := segment(r3.Vec{}, r3.Vec{X: 2}, sp)
	in.Vel2 = r3.Vec{X: 1}

	out, err := SegmentForce(in)
	if err != nil {
		t.Fatal(err)
	}
	// separating at 1 m/s, damping scaled by the kite ratio
	want := 100*1.0 + 2*6.0*1.0
	if math.Abs(out.Tension-want) > 1e-12 {
		t.Errorf("tension = %f, want %f", out.Tension, want)
	}
}

func TestSegmentForce_Drag(t *testing.T) {
	sp := Spring{P1: 0, P2: 1, Length: 10, Stiffness: 1}
	in := segment(r3.Vec{}, r3.Vec{Z: 10}, sp)
	in.Rho, in.Cd, in.Diameter = 1.2, 1.0, 0.01

	in.Wind = r3.Vec{Z: 5}
	out, err := SegmentForce(in)
	if err != nil {
		t.Fatal(err)
	}
	if r3.Norm(out.Drag) != 0 {
		t.Errorf("wind along the segment should give no drag, got %v", out.Drag)
	}

	in.Wind = r3.Vec{X: 5}
	out, err = SegmentForce(in)
	if err != nil {
		t.Fatal(err)
	}
	want := 0.5 * 1.2 * 1.0 * 10 * 0.01 * 5 * 5
	if math.Abs(out.Drag.X-want) > 1e-12 || out.Drag.Z != 0 {
		t.Errorf("drag = %v, want (%f, 0, 0)", out.Drag, want)
	}
}

func TestSegmentForce_Degenerate(t *testing.T) {
	sp := Spring{P1: 0, P2: 1, Length: 1, Stiffness: 1}
	_, err := SegmentForce(segment(r3.Vec{X: 1}, r3.Vec{X: 1}, sp))
	if !errors.Is(err, dynamo.ErrDegenerateGeometry) {
		t.Errorf("expected ErrDegenerateGeometry, got %v", err)
	}
}

func TestNetwork_StretchedSegmentAxis(t *testing.T) {
	net, err := NewSpringNetwork(
		[]float64{0, 2},
		[]Spring{{P1: 0, P2: 1, Length: 4, Stiffness: 100, Damping: 3}},
		testCoeffs,
	)
	if err != nil {
		t.Fatal(err)
	}
	pos := []r3.Vec{{}, {X: 3, Z: 4}}
	vel := make([]r3.Vec, 2)
	acc := make([]r3.Vec, 2)

	if err := net.Accelerations(acc, pos, vel, r3.Vec{}); err != nil {
		t.Fatal(err)
	}
	axis := r3.Unit(pos[1])
	if c := r3.Norm(r3.Cross(acc[1], axis)); c > 1e-12 {
		t.Errorf("acceleration %v not along the segment axis", acc[1])
	}
	if r3.Dot(acc[1], axis) >= 0 {
		t.Errorf("acceleration %v should point to the anchor", acc[1])
	}
	if want := 100.0 / 2; math.Abs(r3.Norm(acc[1])-want) > 1e-12 {
		t.Errorf("|acc| = %f, want %f", r3.Norm(acc[1]), want)
	}
}

func TestNetwork_ChainAtRest(t *testing.T) {
	net, err := NewSpringNetwork(
		[]float64{0, 1, 1},
		[]Spring{
			{P1: 0, P2: 1, Length: 2, Stiffness: 50, Damping: 1},
			{P1: 1, P2: 2, Length: 3, Stiffness: 80, Damping: 1},
		},
		testCoeffs,
	)
	if err != nil {
		t.Fatal(err)
	}
	pos := []r3.Vec{{}, {X: 2}, {X: 2, Y: 3}}
	vel := make([]r3.Vec, 3)
	acc := make([]r3.Vec, 3)

	if err := net.Accelerations(acc, pos, vel, r3.Vec{}); err != nil {
		t.Fatal(err)
	}
	for i, a := range acc {
		if r3.Norm(a) > 1e-12 {
			t.Errorf("point %d: acceleration %v, want zero", i, a)
		}
	}
	if net.MaxTension() != 0 {
		t.Errorf("max tension = %f, want 0", net.MaxTension())
	}
}

func TestNetwork_StiffnessFactor(t *testing.T) {
	net, err := NewSpringNetwork(
		[]float64{0, 1},
		[]Spring{{P1: 0, P2: 1, Length: 1, Stiffness: 100}},
		testCoeffs,
	)
	if err != nil {
		t.Fatal(err)
	}
	pos := []r3.Vec{{}, {X: 2}}
	vel := make([]r3.Vec, 2)
	acc := make([]r3.Vec, 2)

	net.StiffnessFactor = 0.035
	if err := net.Accelerations(acc, pos, vel, r3.Vec{}); err != nil {
		t.Fatal(err)
	}
	if math.Abs(net.Tensions[0]-3.5) > 1e-12 {
		t.Errorf("tension = %f, want 3.5", net.Tensions[0])
	}
}

func TestNewSpringNetwork_Errors(t *testing.T) {
	tests := []struct {
		name    string
		masses  []float64
		springs []Spring
	}{
		{"single point", []float64{0}, nil},
		{"zero mass", []float64{0, 0}, []Spring{{P1: 0, P2: 1}}},
		{"bad index", []float64{0, 1}, []Spring{{P1: 0, P2: 5}}},
		{"self loop", []float64{0, 1}, []Spring{{P1: 1, P2: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpringNetwork(tt.masses, tt.springs, testCoeffs)
			if !errors.Is(err, dynamo.ErrInvalidSettings) {
				t.Errorf("expected ErrInvalidSettings, got %v", err)
			}
		})
	}
}

func TestDepowerAngle(t *testing.T) {
	set := config.DefaultSettings()
	if got := DepowerAngle(set, 0); math.Abs(got) > 1e-12 {
		t.Errorf("depower angle at zero depower = %f, want 0", got)
	}
	prev := 0.0
	for _, d := range []float64{0.1, 0.25, 0.5, 1} {
		a := DepowerAngle(set, d)
		if a <= prev {
			t.Errorf("depower angle should grow with depower: %f <= %f at %f", a, prev, d)
		}
		prev = a
	}
}

func TestKiteFrame(t *testing.T) {
	fr, err := KiteFrame(r3.Vec{Z: 2}, r3.Vec{Y: 1}, r3.Vec{Y: -1})
	if err != nil {
		t.Fatal(err)
	}
	want := Frame{X: r3.Vec{X: -1}, Y: r3.Vec{Y: 1}, Z: r3.Vec{Z: -1}}
	if r3.Norm(r3.Sub(fr.X, want.X)) > 1e-12 || r3.Norm(r3.Sub(fr.Y, want.Y)) > 1e-12 || r3.Norm(r3.Sub(fr.Z, want.Z)) > 1e-12 {
		t.Errorf("frame = %+v, want %+v", fr, want)
	}

	if _, err := KiteFrame(r3.Vec{}, r3.Vec{Y: 1}, r3.Vec{Y: 1}); !errors.Is(err, dynamo.ErrDegenerateGeometry) {
		t.Errorf("expected ErrDegenerateGeometry, got %v", err)
	}
}
