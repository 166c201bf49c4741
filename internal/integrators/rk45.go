package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/kitesim/internal/dynamo"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// RK45 integrates each outer step with embedded Dormand-Prince sub-steps,
// shrinking and growing the sub-step to keep the local error below Tol.
// The last accepted sub-step carries over to the next call.
type RK45 struct {
	Tol         float64
	MaxSubsteps int

	safety   float64
	minScale float64
	maxScale float64
	h        float64
	k        [7]dynamo.State
	stage    dynamo.State
}

func NewRK45() *RK45 {
	return &RK45{
		Tol:         1e-6,
		MaxSubsteps: 100000,
		safety:      0.9,
		minScale:    0.2,
		maxScale:    10.0,
	}
}

func (r *RK45) ensureScratch(n int) {
	if len(r.stage) != n {
		for i := range r.k {
			r.k[i] = make(dynamo.State, n)
		}
		r.stage = make(dynamo.State, n)
	}
}

func (r *RK45) Step(m dynamo.Model, y, yd dynamo.State, t, dt float64) (dynamo.State, dynamo.State, error) {
	n := len(y)
	r.ensureScratch(n)
	if r.h <= 0 || r.h > dt {
		r.h = dt
	}

	cur := y.Clone()
	done := 0.0
	for i := 0; dt-done > 1e-12*dt; i++ {
		if i >= r.MaxSubsteps {
			return nil, nil, fmt.Errorf("rk45: %d sub-steps at t=%g: %w", i, t+done, dynamo.ErrStepTooSmall)
		}
		h := math.Min(r.h, dt-done)
		next, hNew, errRatio, err := r.StepAdaptive(m, cur, t+done, h, r.Tol)
		if err != nil {
			return nil, nil, err
		}
		if errRatio <= 1 {
			cur = next
			done += h
		}
		if hNew < dt*1e-12 {
			return nil, nil, fmt.Errorf("rk45: sub-step %g at t=%g: %w", hNew, t+done, dynamo.ErrStepTooSmall)
		}
		r.h = math.Min(hNew, dt)
	}

	nd := make(dynamo.State, n)
	if err := m.Derive(nd, cur, t+dt); err != nil {
		return nil, nil, err
	}
	return cur, nd, nil
}

func (r *RK45) stageAt(y dynamo.State, dt float64, coef ...float64) dynamo.State {
	for i := range y {
		s := 0.0
		for j, c := range coef {
			s += c * r.k[j][i]
		}
		r.stage[i] = y[i] + dt*s
	}
	return r.stage
}

// StepAdaptive takes one Dormand-Prince step of size dt and returns the
// fifth-order solution, the proposed next step size and the error ratio.
// The step should be rejected when the ratio exceeds one.
func (r *RK45) StepAdaptive(m dynamo.Model, y dynamo.State, t, dt, tol float64) (dynamo.State, float64, float64, error) {
	n := len(y)
	r.ensureScratch(n)
	k := r.k

	if err := m.Derive(k[0], y, t); err != nil {
		return nil, 0, 0, err
	}
	if err := m.Derive(k[1], r.stageAt(y, dt, b21), t+a2*dt); err != nil {
		return nil, 0, 0, err
	}
	if err := m.Derive(k[2], r.stageAt(y, dt, b31, b32), t+a3*dt); err != nil {
		return nil, 0, 0, err
	}
	if err := m.Derive(k[3], r.stageAt(y, dt, b41, b42, b43), t+a4*dt); err != nil {
		return nil, 0, 0, err
	}
	if err := m.Derive(k[4], r.stageAt(y, dt, b51, b52, b53, b54), t+a5*dt); err != nil {
		return nil, 0, 0, err
	}
	if err := m.Derive(k[5], r.stageAt(y, dt, b61, b62, b63, b64, b65), t+dt); err != nil {
		return nil, 0, 0, err
	}

	next := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		next[i] = y[i] + dt*(c1*k[0][i]+c3*k[2][i]+c4*k[3][i]+c5*k[4][i]+c6*k[5][i])
	}

	if err := m.Derive(k[6], next, t+dt); err != nil {
		return nil, 0, 0, err
	}

	errMax := 0.0
	for i := 0; i < n; i++ {
		errEst := dt * (dc1*k[0][i] + dc3*k[2][i] + dc4*k[3][i] + dc5*k[4][i] + dc6*k[5][i] + dc7*k[6][i])
		scale := math.Abs(y[i]) + math.Abs(dt*k[0][i]) + 1e-10
		errMax = math.Max(errMax, math.Abs(errEst)/scale)
	}
	if math.IsNaN(errMax) {
		return nil, 0, 0, dynamo.ErrNonFiniteResidual
	}

	errRatio := errMax / tol

	var dtNew float64
	if errRatio > 1 {
		scale := math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
		dtNew = dt * scale
	} else {
		if errRatio > 0 {
			scale := math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2))
			dtNew = dt * scale
		} else {
			dtNew = dt * r.maxScale
		}
	}

	return next, dtNew, errRatio, nil
}
