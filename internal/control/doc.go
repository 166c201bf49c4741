// Package control computes the set points of the kite and the winch.
//
// A [Controller] is asked once per simulator step for a [Setpoint]:
//
//   - [Constant]: fixed set points, usually taken from the settings
//   - [Schedule]: piecewise-linear time series per channel
//   - [ForcePID]: adjusts the winch speed to hold a tether force
//   - [Manual]: set points changed from the live view
//
// Controllers implementing [Tunable] can be adjusted while running.
package control
