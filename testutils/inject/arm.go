package inject

import (
	"context"
	"time"

	"go.viam.com/handeye/arm"
)

// Arm is an injected arm.
type Arm struct {
	arm.Actuator
	MoveToJointPositionsFunc func(ctx context.Context, positions []float64) error
	CommandVelocityFunc      func(ctx context.Context, v []float64, d time.Duration) error
	JointPositionsFunc       func(ctx context.Context) ([]float64, error)
	DOFFunc                  func() int
}

// MoveToJointPositions calls the injected MoveToJointPositions or the real version.
func (a *Arm) MoveToJointPositions(ctx context.Context, positions []float64) error {
	if a.MoveToJointPositionsFunc == nil {
		return a.Actuator.MoveToJointPositions(ctx, positions)
	}
	return a.MoveToJointPositionsFunc(ctx, positions)
}

// CommandVelocity calls the injected CommandVelocity or the real version.
func (a *Arm) CommandVelocity(ctx context.Context, v []float64, d time.Duration) error {
	if a.CommandVelocityFunc == nil {
		return a.Actuator.CommandVelocity(ctx, v, d)
	}
	return a.CommandVelocityFunc(ctx, v, d)
}

// JointPositions calls the injected JointPositions or the real version.
func (a *Arm) JointPositions(ctx context.Context) ([]float64, error) {
	if a.JointPositionsFunc == nil {
		return a.Actuator.JointPositions(ctx)
	}
	return a.JointPositionsFunc(ctx)
}

// DOF calls the injected DOF or the real version.
func (a *Arm) DOF() int {
	if a.DOFFunc == nil {
		return a.Actuator.DOF()
	}
	return a.DOFFunc()
}
