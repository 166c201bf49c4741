package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/kitesim/internal/atmosphere"
	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/control"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/integrators"
	"github.com/san-kum/kitesim/internal/winch"
)

// Registry maps the names accepted on the command line and in settings
// files to constructors.
type Registry struct {
	integrators map[string]func(config.SolverConfig) dynamo.Stepper
	winches     map[string]func(config.WinchConfig) winch.Machine
	winds       map[string]func(config.EnvironmentConfig) (atmosphere.Model, error)
	controllers map[string]func(*config.Settings, map[string]float64) control.Controller
}

func NewRegistry() *Registry {
	r := &Registry{
		integrators: make(map[string]func(config.SolverConfig) dynamo.Stepper),
		winches:     make(map[string]func(config.WinchConfig) winch.Machine),
		winds:       make(map[string]func(config.EnvironmentConfig) (atmosphere.Model, error)),
		controllers: make(map[string]func(*config.Settings, map[string]float64) control.Controller),
	}

	r.integrators["implicit"] = func(c config.SolverConfig) dynamo.Stepper {
		return integrators.NewBackwardEuler(c.NewtonTol, c.NewtonMaxIter)
	}
	r.integrators["rk45"] = func(config.SolverConfig) dynamo.Stepper { return integrators.NewRK45() }
	r.integrators["rk4"] = func(config.SolverConfig) dynamo.Stepper { return integrators.NewRK4() }
	r.integrators["euler"] = func(config.SolverConfig) dynamo.Stepper { return integrators.NewEuler() }

	r.winches["async"] = func(c config.WinchConfig) winch.Machine { return winch.NewAsyncMachine(c) }
	r.winches["torque"] = func(c config.WinchConfig) winch.Machine { return winch.NewTorqueControlledMachine(c) }

	standard := func(law string) func(config.EnvironmentConfig) (atmosphere.Model, error) {
		return func(env config.EnvironmentConfig) (atmosphere.Model, error) {
			env.ProfileLaw = law
			return atmosphere.NewStandard(env)
		}
	}
	r.winds["log"] = standard("log")
	r.winds["power"] = standard("power")
	r.winds["uniform"] = func(env config.EnvironmentConfig) (atmosphere.Model, error) {
		return atmosphere.Uniform{Rho: env.Rho0, Factor: 1}, nil
	}

	r.controllers["constant"] = func(set *config.Settings, _ map[string]float64) control.Controller {
		return control.FromSettings(set)
	}
	r.controllers["pid"] = func(set *config.Settings, params map[string]float64) control.Controller {
		target, ok := params["target"]
		if !ok {
			target = 0.5 * set.MaxForce
		}
		p := control.NewForcePID(params["kp"], params["ki"], params["kd"], target)
		p.Depower, p.Steering = set.Depower, set.Steering
		return p
	}
	r.controllers["manual"] = func(set *config.Settings, _ map[string]float64) control.Controller {
		return control.NewManual(control.FromSettings(set).Setpoint, set.Kite.MaxSteering)
	}

	return r
}

func (r *Registry) Stepper(cfg config.SolverConfig) (dynamo.Stepper, error) {
	name := cfg.Integrator
	if name == "" {
		name = "implicit"
	}
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
	return fn(cfg), nil
}

func (r *Registry) Winch(cfg config.WinchConfig) (winch.Machine, error) {
	name := cfg.Model
	if name == "" {
		name = "async"
	}
	fn, ok := r.winches[name]
	if !ok {
		return nil, fmt.Errorf("unknown winch model: %s", name)
	}
	return fn(cfg), nil
}

// Atmosphere builds the named wind profile; an empty name uses the
// profile law of env.
func (r *Registry) Atmosphere(name string, env config.EnvironmentConfig) (atmosphere.Model, error) {
	if name == "" {
		law, err := atmosphere.ParseProfileLaw(env.ProfileLaw)
		if err != nil {
			return nil, err
		}
		name = law.String()
	}
	fn, ok := r.winds[name]
	if !ok {
		return nil, fmt.Errorf("unknown wind profile: %s", name)
	}
	return fn(env)
}

func (r *Registry) Controller(name string, set *config.Settings, params map[string]float64) (control.Controller, error) {
	if name == "" {
		name = "constant"
	}
	fn, ok := r.controllers[name]
	if !ok {
		return nil, fmt.Errorf("unknown controller: %s", name)
	}
	return fn(set, params), nil
}

func keys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) ListIntegrators() []string { return keys(r.integrators) }
func (r *Registry) ListWinches() []string     { return keys(r.winches) }
func (r *Registry) ListWinds() []string       { return keys(r.winds) }
func (r *Registry) ListControllers() []string { return keys(r.controllers) }
