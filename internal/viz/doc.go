// Package viz draws the tether and kite in the terminal.
//
// [Canvas] is a braille pixel buffer. A [PlaneView] projects the points
// onto a vertical plane, either along the wind ([NewSideView]) or across
// it ([NewFrontView]). [Model] is the interactive Bubble Tea view
// that steps a simulation session and feeds key presses to a manual
// controller.
//
// # Key Bindings
//
//	Space - Pause/Resume
//	R     - Reset to the initial state
//	←/→   - Steer
//	↑/↓   - Depower
//	+/-   - Winch set speed
//	F     - Free winch
//	V     - Side or front view
//	G     - Toggle GIF recording
//	[/]   - Step through the history
//
// GIF recordings are written to LiveConfig.GIFPath when recording stops.
package viz
