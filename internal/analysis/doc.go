// Package analysis characterizes recorded runs.
//
//   - [Summarize]: mean, spread and range of a channel
//   - [Resample]: linear interpolation onto a uniform time grid
//   - [NewSpectrum]: one-sided amplitude spectrum of a uniformly sampled signal
//
// Tether force oscillations show up as peaks of the spectrum:
//
//	x, dt, err := analysis.Sampled(records, func(r dynamo.Record) float64 { return r.WinchForce })
//	s, err := analysis.NewSpectrum(x, dt)
//	for _, p := range s.Peaks(3) {
//	    fmt.Printf("%.3f Hz: %.1f N\n", p.Freq, p.Amp)
//	}
package analysis
