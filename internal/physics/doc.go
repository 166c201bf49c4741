// Package physics implements the four-point kite power system model.
//
// A [KPS4] is a tether of point masses joined by spring-dampers and a kite
// made of four more point masses braced by nine bridle and body springs.
// Points are numbered from the ground anchor (0) along the tether to the
// kite control unit, followed by the nose, top, left and right particles.
//
// The model implements [dynamo.Model]:
//
//	m, err := physics.NewKPS4(set, atm, machine)
//	y, yd, err := m.Init(nil)
//	err = m.Residual(res, yd, y, 0)
//
// # Forces
//
// Each segment force comes from [SegmentForce]: a spring that is stiffer in
// tension than in compression, a damper along the segment axis and drag of
// the cross flow. The three surface particles carry lift and drag from the
// configured polars, evaluated in the kite frame returned by [KiteFrame].
//
// [SpringNetwork] holds the springs, masses and force accumulators and can
// be used on its own for small networks without aerodynamics.
package physics
