// Package arm defines the actuator capability set the servo loop drives. Concrete drivers live in
// subpackages; the control code only ever sees the Actuator interface.
package arm

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Actuator is a manipulator that can be positioned in joint space and driven by bounded velocity
// commands. All methods block until the operation is complete or ctx is done.
type Actuator interface {
	// MoveToJointPositions moves to an absolute joint configuration, in radians.
	MoveToJointPositions(ctx context.Context, positions []float64) error
	// CommandVelocity applies velocity v for duration d. The velocity space is driver specific;
	// arms driven in tool space take [vx vy vz wx wy wz].
	CommandVelocity(ctx context.Context, v []float64, d time.Duration) error
	// JointPositions returns the current joint configuration, in radians.
	JointPositions(ctx context.Context) ([]float64, error)
	// DOF returns the number of joints, which is also the velocity command length.
	DOF() int
}

// Operation names used in ActuatorError.
const (
	OpMove     = "move"
	OpVelocity = "velocity"
	OpRead     = "read"
)

// ActuatorError wraps a failed actuator call.
type ActuatorError struct {
	Op  string
	Err error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("actuator %s failed: %v", e.Op, e.Err)
}

func (e *ActuatorError) Unwrap() error {
	return e.Err
}

// CheckDOF returns an error if values does not have one entry per degree of freedom of a.
func CheckDOF(a Actuator, values []float64) error {
	if len(values) != a.DOF() {
		return errors.Errorf("expected %d values, one per degree of freedom, got %d", a.DOF(), len(values))
	}
	return nil
}
