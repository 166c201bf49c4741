package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for model construction and evaluation.
var (
	// ErrInvalidState indicates a state vector with invalid dimensions or values.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrInvalidSettings indicates a configuration that cannot produce a model:
	// non-positive masses or lengths, malformed spring topology.
	ErrInvalidSettings = errors.New("dynamo: invalid settings")

	// ErrDegenerateGeometry indicates a spring whose end points coincide.
	ErrDegenerateGeometry = errors.New("dynamo: degenerate geometry (zero-length segment)")

	// ErrDegenerateWind indicates a zero apparent wind at a kite surface.
	ErrDegenerateWind = errors.New("dynamo: degenerate apparent wind (zero speed)")

	// ErrNonFiniteResidual indicates NaN or Inf in an evaluated residual.
	ErrNonFiniteResidual = errors.New("dynamo: non-finite residual")

	// ErrContextCanceled indicates the simulation was interrupted.
	ErrContextCanceled = errors.New("dynamo: simulation canceled by context")

	// ErrStepTooSmall indicates step rejection drove the time step below minimum.
	ErrStepTooSmall = errors.New("dynamo: timestep below minimum")

	// ErrDimensionMismatch indicates mismatched state dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")

	// ErrNoConvergence indicates an implicit step whose Newton iteration
	// stalled or diverged.
	ErrNoConvergence = errors.New("dynamo: implicit step did not converge")
)

// EvalError wraps an evaluation failure with the operation and the point or
// spring index where it happened. Index is -1 when not applicable.
type EvalError struct {
	Op    string
	Index int
	Err   error
}

func (e *EvalError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s[%d]: %v", e.Op, e.Index, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}

// IsRecoverable reports whether err is an evaluation failure a stepper may
// retry with a smaller step.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDegenerateGeometry) ||
		errors.Is(err, ErrDegenerateWind) ||
		errors.Is(err, ErrNonFiniteResidual) ||
		errors.Is(err, ErrNoConvergence)
}
