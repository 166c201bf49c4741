package automation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/san-kum/kitesim/internal/analysis"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/experiment"
	"github.com/san-kum/kitesim/internal/sim"
	"gonum.org/v1/gonum/stat/distuv"
)

// MonteCarloConfig perturbs the ground wind speed and the initial
// elevation with independent normal draws.
type MonteCarloConfig struct {
	Trials         int
	Seed           uint64
	WindSigma      float64 // m/s
	ElevationSigma float64 // deg
	// Workers bounds the parallel runs; GOMAXPROCS when < 1.
	Workers int
}

type Trial struct {
	ID        int
	WindSpeed float64
	Elevation float64
	Result    *dynamo.Result
	Err       error
}

// Stable reports whether the trial ran to the end.
func (t Trial) Stable() bool { return t.Err == nil && t.Result != nil }

// MonteCarlo runs mc.Trials copies of base with perturbed settings. Trials
// that fail to build keep their error and are not run.
func (r *Runner) MonteCarlo(ctx context.Context, base experiment.Config, mc MonteCarloConfig) ([]Trial, error) {
	if mc.Trials < 1 {
		return nil, fmt.Errorf("monte carlo needs at least one trial, got %d", mc.Trials)
	}
	if base.Settings == nil {
		return nil, fmt.Errorf("monte carlo needs base settings")
	}
	if base.Log == nil {
		base.Log = r.log()
	}
	src := rand.NewPCG(mc.Seed, mc.Seed^0x9e3779b97f4a7c15)
	windDist := distuv.Normal{Mu: base.Settings.Environment.WindSpeed, Sigma: mc.WindSigma, Src: src}
	elevDist := distuv.Normal{Mu: base.Settings.Elevation, Sigma: mc.ElevationSigma, Src: src}

	trials := make([]Trial, mc.Trials)
	jobs := make([]sim.Job, 0, mc.Trials)
	index := make([]int, 0, mc.Trials)
	for i := range trials {
		t := &trials[i]
		t.ID = i
		t.WindSpeed = base.Settings.Environment.WindSpeed
		t.Elevation = base.Settings.Elevation
		if mc.WindSigma > 0 {
			t.WindSpeed = math.Max(0.1, windDist.Rand())
		}
		if mc.ElevationSigma > 0 {
			t.Elevation = math.Min(89, math.Max(1, elevDist.Rand()))
		}

		cfg := base
		cfg.Settings = base.Settings.Clone()
		cfg.Settings.Environment.WindSpeed = t.WindSpeed
		cfg.Settings.Elevation = t.Elevation
		e, err := experiment.Build(ctx, r.registry(), cfg)
		if err != nil {
			t.Err = err
			continue
		}
		jobs = append(jobs, e.Job(fmt.Sprint(i)))
		index = append(index, i)
	}

	results, err := sim.RunAll(ctx, jobs, mc.Workers)
	for j, res := range results {
		trials[index[j]].Result = res.Result
		trials[index[j]].Err = res.Err
	}
	return trials, err
}

// MonteCarloStats counts the stable trials and summarizes their peak
// tether tension.
func MonteCarloStats(trials []Trial) (stable, unstable int, tension analysis.Summary) {
	peaks := make([]float64, 0, len(trials))
	for _, t := range trials {
		if !t.Stable() {
			unstable++
			continue
		}
		stable++
		if v, ok := t.Result.Metrics["max_tension"]; ok {
			peaks = append(peaks, v)
		}
	}
	return stable, unstable, analysis.Summarize(peaks)
}
