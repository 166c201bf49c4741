package physics

import (
	"fmt"

	"github.com/san-kum/kitesim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

// Init returns a consistent initial state and derivative: a straight
// tether at the configured elevation, the kite in its nominal shape at the
// tether end and every point moving with the reel-out speed.
//
// X optionally displaces the moving points: X[2i] along the downwind
// direction and X[2i+1] vertically for point i+1. A nil X means no
// displacement.
func (m *KPS4) Init(X []float64) (dynamo.State, dynamo.State, error) {
	n := m.movingPoints()
	if X != nil && len(X) != 2*n {
		return nil, nil, fmt.Errorf("%w: %d offsets for %d points", dynamo.ErrDimensionMismatch, len(X), n)
	}

	length := m.set.TetherLength
	v := m.set.VReelOut
	l0 := length / float64(m.segments)
	t, side := m.tetherAxes()
	off := kiteOffsets(m.set.Kite, t, side)

	pos := make([]r3.Vec, n+1)
	vel := make([]r3.Vec, n+1)
	for i := 1; i <= m.segments; i++ {
		pos[i] = r3.Scale(float64(i)*l0, t)
		vel[i] = r3.Scale(v*float64(i)/float64(m.segments), t)
	}
	kcu := pos[m.KCU()]
	for i, o := range off {
		p := m.Nose() + i
		pos[p] = r3.Add(kcu, o)
		vel[p] = r3.Scale(v, t)
	}
	if X != nil {
		for i := 1; i <= n; i++ {
			pos[i] = r3.Add(pos[i], r3.Scale(X[2*(i-1)], m.downwind))
			pos[i].Z += X[2*(i-1)+1]
		}
	}

	y := make(dynamo.State, m.StateDim())
	yd := make(dynamo.State, m.StateDim())
	for i := 1; i <= n; i++ {
		j := 3 * (i - 1)
		p, u := pos[i], vel[i]
		y[j], y[j+1], y[j+2] = p.X, p.Y, p.Z
		y[j+3*n], y[j+3*n+1], y[j+3*n+2] = u.X, u.Y, u.Z
		yd[j], yd[j+1], yd[j+2] = u.X, u.Y, u.Z
	}
	y[6*n] = length
	y[6*n+1] = v
	yd[6*n] = v
	return y, yd, nil
}

// Downwind returns the horizontal unit vector along the ground wind.
func (m *KPS4) Downwind() r3.Vec { return m.downwind }

// AccelerationsAt evaluates the model at y and returns the acceleration of
// every point, the anchor included.
func (m *KPS4) AccelerationsAt(y dynamo.State) ([]r3.Vec, error) {
	if err := m.checkDims(y); err != nil {
		return nil, err
	}
	if err := m.evaluate(y); err != nil {
		return nil, err
	}
	return append([]r3.Vec(nil), m.acc...), nil
}
