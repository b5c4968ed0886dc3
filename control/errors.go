package control

import (
	"fmt"
)

// ConvergenceTimeoutError is returned when the loop reaches its iteration limit without the error
// norm falling below the threshold.
type ConvergenceTimeoutError struct {
	Iterations int
	ErrorNorm  float64
}

func (e *ConvergenceTimeoutError) Error() string {
	return fmt.Sprintf("did not converge after %d iterations, error norm %g", e.Iterations, e.ErrorNorm)
}

// PersistentSaturationError is returned when the velocity command stays clamped for more
// consecutive cycles than allowed.
type PersistentSaturationError struct {
	Cycles int
	Limit  int
}

func (e *PersistentSaturationError) Error() string {
	return fmt.Sprintf("velocity saturated for %d consecutive cycles (limit %d)", e.Cycles, e.Limit)
}

// InvalidTransitionError is returned when a session operation is not allowed in its current state.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot go from %s to %s", e.From, e.To)
}
