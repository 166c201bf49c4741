package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"github.com/san-kum/kitesim/internal/dynamo"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrTooShort = errors.New("analysis: need at least two samples")

type Summary struct {
	Mean, Std float64
	Min, Max  float64
}

func Summarize(x []float64) Summary {
	if len(x) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) == 1 {
		std = 0
	}
	return Summary{Mean: mean, Std: std, Min: floats.Min(x), Max: floats.Max(x)}
}

// Resample interpolates (t, x) linearly onto a grid starting at t[0] with
// spacing dt. t must be increasing.
func Resample(t, x []float64, dt float64) ([]float64, error) {
	if len(t) != len(x) {
		return nil, fmt.Errorf("analysis: %d times for %d values", len(t), len(x))
	}
	if len(t) < 2 {
		return nil, ErrTooShort
	}
	if dt <= 0 {
		return nil, fmt.Errorf("analysis: sample spacing must be positive, got %g", dt)
	}
	n := int(math.Floor((t[len(t)-1]-t[0])/dt+1e-9)) + 1
	out := make([]float64, n)
	j := 0
	for i := range out {
		ti := t[0] + float64(i)*dt
		for j < len(t)-2 && t[j+1] < ti {
			j++
		}
		span := t[j+1] - t[j]
		if span <= 0 {
			return nil, fmt.Errorf("analysis: times not increasing at index %d", j+1)
		}
		w := (ti - t[j]) / span
		out[i] = x[j] + w*(x[j+1]-x[j])
	}
	return out, nil
}

// Sampled extracts one channel from the records on a uniform grid. The
// spacing is the median spacing of the records, so a short final record
// does not distort the grid.
func Sampled(records []dynamo.Record, value func(dynamo.Record) float64) ([]float64, float64, error) {
	if len(records) < 2 {
		return nil, 0, ErrTooShort
	}
	t := make([]float64, len(records))
	x := make([]float64, len(records))
	gaps := make([]float64, 0, len(records)-1)
	for i, r := range records {
		t[i] = r.Time
		x[i] = value(r)
		if i > 0 {
			gaps = append(gaps, t[i]-t[i-1])
		}
	}
	sort.Float64s(gaps)
	dt := gaps[len(gaps)/2]
	out, err := Resample(t, x, dt)
	return out, dt, err
}

type Peak struct {
	Freq float64 // Hz
	Amp  float64
}

// Spectrum is the one-sided amplitude spectrum of a signal with its mean
// removed. Amp[i] is the amplitude of a sine at Freq[i].
type Spectrum struct {
	Freq []float64
	Amp  []float64

	floor float64
}

func NewSpectrum(x []float64, dt float64) (Spectrum, error) {
	n := len(x)
	if n < 2 {
		return Spectrum{}, ErrTooShort
	}
	if dt <= 0 {
		return Spectrum{}, fmt.Errorf("analysis: sample spacing must be positive, got %g", dt)
	}
	mean := stat.Mean(x, nil)
	centered := make([]float64, n)
	for i, v := range x {
		centered[i] = v - mean
	}

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, centered)
	s := Spectrum{
		Freq:  make([]float64, len(coeff)),
		Amp:   make([]float64, len(coeff)),
		floor: 1e-12 * math.Max(math.Abs(floats.Max(x)), math.Abs(floats.Min(x))),
	}
	for i, c := range coeff {
		s.Freq[i] = fft.Freq(i) / dt
		a := cmplx.Abs(c) / float64(n)
		// DC and, for even n, the Nyquist bin have no mirror image.
		if i != 0 && !(n%2 == 0 && i == len(coeff)-1) {
			a *= 2
		}
		s.Amp[i] = a
	}
	return s, nil
}

// Peaks returns up to k local maxima above DC, largest first.
func (s Spectrum) Peaks(k int) []Peak {
	var peaks []Peak
	for i := 1; i < len(s.Amp); i++ {
		left := s.Amp[i-1]
		right := 0.0
		if i+1 < len(s.Amp) {
			right = s.Amp[i+1]
		}
		if s.Amp[i] > s.floor && s.Amp[i] >= left && s.Amp[i] > right {
			peaks = append(peaks, Peak{Freq: s.Freq[i], Amp: s.Amp[i]})
		}
	}
	sort.Slice(peaks, func(a, b int) bool { return peaks[a].Amp > peaks[b].Amp })
	if len(peaks) > k {
		peaks = peaks[:k]
	}
	return peaks
}

// Dominant is the largest peak; ok is false for a constant signal.
func (s Spectrum) Dominant() (Peak, bool) {
	p := s.Peaks(1)
	if len(p) == 0 {
		return Peak{}, false
	}
	return p[0], true
}
