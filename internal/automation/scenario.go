// Package automation runs scripted sequences of simulations and Monte
// Carlo studies over perturbed wind conditions.
package automation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/experiment"
	"github.com/san-kum/kitesim/internal/logging"
	"github.com/san-kum/kitesim/internal/observability"
	"github.com/san-kum/kitesim/internal/sim"
	"github.com/san-kum/kitesim/internal/storage"
	"gopkg.in/yaml.v3"
)

// Scenario is a named list of runs.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step is one run. Zero values keep the preset's settings.
type Step struct {
	Name       string             `yaml:"name"`
	Preset     string             `yaml:"preset"`
	Config     string             `yaml:"config"`
	Integrator string             `yaml:"integrator"`
	Controller string             `yaml:"controller"`
	Schedule   string             `yaml:"schedule"`
	Wind       string             `yaml:"wind"`
	WindSpeed  float64            `yaml:"v_wind"`
	Duration   float64            `yaml:"duration"`
	Dt         float64            `yaml:"dt"`
	Steady     bool               `yaml:"steady"`
	Params     map[string]float64 `yaml:"params"`
	Save       bool               `yaml:"save"`
}

// LoadScenario reads a scenario file. Relative config and schedule paths
// are resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s has no steps", path)
	}
	dir := filepath.Dir(path)
	for i := range sc.Steps {
		st := &sc.Steps[i]
		if st.Name == "" {
			st.Name = fmt.Sprintf("step %d", i+1)
		}
		st.Config = resolve(dir, st.Config)
		st.Schedule = resolve(dir, st.Schedule)
	}
	return &sc, nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Settings builds the step's settings: preset, then config file, then the
// step's own overrides.
func (st Step) Settings() (*config.Settings, error) {
	set := config.DefaultSettings()
	if st.Preset != "" {
		if set = config.GetPreset(st.Preset); set == nil {
			return nil, fmt.Errorf("unknown preset: %s", st.Preset)
		}
	}
	if st.Config != "" {
		var err error
		if set, err = config.LoadOver(set, st.Config); err != nil {
			return nil, err
		}
	}
	if st.Integrator != "" {
		set.Solver.Integrator = st.Integrator
	}
	if st.WindSpeed > 0 {
		set.Environment.WindSpeed = st.WindSpeed
	}
	if st.Duration > 0 {
		set.Solver.Duration = st.Duration
	}
	if st.Dt > 0 {
		set.Solver.Dt = st.Dt
	}
	return set, set.Validate()
}

// Runner carries what every step shares.
type Runner struct {
	Registry *experiment.Registry
	// Store receives the steps marked save; nil disables saving.
	Store     *storage.Store
	Log       logging.Logger
	Collector *observability.Collector
}

type StepResult struct {
	Name   string
	RunID  string
	Result *dynamo.Result
	Err    error
}

func (r *Runner) registry() *experiment.Registry {
	if r.Registry == nil {
		return experiment.NewRegistry()
	}
	return r.Registry
}

func (r *Runner) log() logging.Logger {
	if r.Log == nil {
		return logging.Noop()
	}
	return r.Log
}

// Run executes the steps in order. A failing step keeps its error and the
// scenario goes on; only cancellation stops it early.
func (r *Runner) Run(ctx context.Context, sc *Scenario) ([]StepResult, error) {
	log := r.log().With(logging.String("scenario", sc.Name))
	results := make([]StepResult, 0, len(sc.Steps))
	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("%w: %w", dynamo.ErrContextCanceled, err)
		}
		log.Info(ctx, "scenario step", logging.Int("step", i+1), logging.String("name", st.Name))
		res := r.runStep(ctx, st)
		if res.Err != nil {
			log.Warn(ctx, "scenario step failed", logging.String("name", st.Name), logging.Err(res.Err))
			if sim.IsCanceled(res.Err) {
				results = append(results, res)
				return results, res.Err
			}
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) runStep(ctx context.Context, st Step) StepResult {
	out := StepResult{Name: st.Name}
	set, err := st.Settings()
	if err != nil {
		out.Err = err
		return out
	}
	e, err := experiment.Build(ctx, r.registry(), experiment.Config{
		Settings:   set,
		Controller: st.Controller,
		Params:     st.Params,
		Schedule:   st.Schedule,
		Wind:       st.Wind,
		Steady:     st.Steady,
		Log:        r.log(),
		Collector:  r.Collector,
	})
	if err != nil {
		out.Err = err
		return out
	}
	out.Result, out.Err = e.Run(ctx)
	if st.Save && r.Store != nil && out.Result != nil {
		ctrl := st.Controller
		if st.Schedule != "" {
			ctrl = "schedule:" + filepath.Base(st.Schedule)
		}
		id, err := r.Store.Save(storage.NewMetadata(st.Preset, ctrl, set, out.Result), out.Result.Records)
		if err != nil && out.Err == nil {
			out.Err = err
		}
		out.RunID = id
	}
	return out
}
