// Package integrators advances a dynamo.Model in time.
package integrators

import (
	"fmt"
	"strings"

	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/dynamo"
)

// Names lists the accepted values of the integrator setting.
func Names() []string {
	return []string{"implicit", "rk45", "rk4", "euler"}
}

// New builds the stepper named in cfg.
func New(cfg config.SolverConfig) (dynamo.Stepper, error) {
	switch strings.ToLower(cfg.Integrator) {
	case "", "implicit", "backward-euler":
		return NewBackwardEuler(cfg.NewtonTol, cfg.NewtonMaxIter), nil
	case "rk45", "dopri":
		return NewRK45(), nil
	case "rk4":
		return NewRK4(), nil
	case "euler":
		return NewEuler(), nil
	}
	return nil, fmt.Errorf("unknown integrator %q (want one of %s)",
		cfg.Integrator, strings.Join(Names(), ", "))
}
