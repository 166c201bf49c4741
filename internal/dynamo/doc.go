// Package dynamo provides core simulation primitives for the kite power
// system model.
//
// The package defines the fundamental interfaces and types shared by the
// model, the integrators and the simulator:
//
//   - [State]: flat vector holding positions, velocities, tether length and
//     reel-out speed
//   - [Model]: a DAE in residual form F(t, y, y') = 0 that can also produce
//     its explicit derivative
//   - [Stepper]: advances a [Model] by one time step
//   - [Metric] and [Observer]: hooks called by the simulator after each
//     accepted step
//
// # Errors
//
// Evaluation failures (degenerate geometry, zero apparent wind, non-finite
// residual) are reported as [*EvalError] values wrapping one of the sentinel
// errors, so callers can use errors.Is to decide whether to retry a step with
// a smaller time step.
//
// # Thread Safety
//
// Models keep per-evaluation working arrays and are NOT safe for concurrent
// use. Run parallel work with one model per goroutine, see [ParallelFor].
package dynamo
