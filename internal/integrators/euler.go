package integrators

import "github.com/san-kum/kitesim/internal/dynamo"

// Euler is the explicit forward Euler method. It is only stable for very
// small steps on the tether model and exists mostly for comparison.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(m dynamo.Model, y, yd dynamo.State, t, dt float64) (dynamo.State, dynamo.State, error) {
	n := len(y)
	d := make(dynamo.State, n)
	if err := m.Derive(d, y, t); err != nil {
		return nil, nil, err
	}
	next := make(dynamo.State, n)
	for i := range y {
		next[i] = y[i] + dt*d[i]
	}
	nd := make(dynamo.State, n)
	if err := m.Derive(nd, next, t+dt); err != nil {
		return nil, nil, err
	}
	return next, nd, nil
}
