package integrators

import "github.com/san-kum/kitesim/internal/dynamo"

type RK4 struct {
	k1, k2, k3, k4 dynamo.State
	scratch        dynamo.State
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) ensureScratch(n int) {
	if len(r.k1) != n {
		r.k1 = make(dynamo.State, n)
		r.k2 = make(dynamo.State, n)
		r.k3 = make(dynamo.State, n)
		r.k4 = make(dynamo.State, n)
		r.scratch = make(dynamo.State, n)
	}
}

// Step ignores the incoming derivative and evaluates all four stages, so a
// control change between steps is picked up immediately.
func (r *RK4) Step(m dynamo.Model, y, yd dynamo.State, t, dt float64) (dynamo.State, dynamo.State, error) {
	n := len(y)
	r.ensureScratch(n)

	if err := m.Derive(r.k1, y, t); err != nil {
		return nil, nil, err
	}

	for i := 0; i < n; i++ {
		r.scratch[i] = y[i] + dt*0.5*r.k1[i]
	}
	if err := m.Derive(r.k2, r.scratch, t+dt*0.5); err != nil {
		return nil, nil, err
	}

	for i := 0; i < n; i++ {
		r.scratch[i] = y[i] + dt*0.5*r.k2[i]
	}
	if err := m.Derive(r.k3, r.scratch, t+dt*0.5); err != nil {
		return nil, nil, err
	}

	for i := 0; i < n; i++ {
		r.scratch[i] = y[i] + dt*r.k3[i]
	}
	if err := m.Derive(r.k4, r.scratch, t+dt); err != nil {
		return nil, nil, err
	}

	next := make(dynamo.State, n)
	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		next[i] = y[i] + dt6*(r.k1[i]+2*r.k2[i]+2*r.k3[i]+r.k4[i])
	}

	nd := make(dynamo.State, n)
	if err := m.Derive(nd, next, t+dt); err != nil {
		return nil, nil, err
	}
	return next, nd, nil
}
