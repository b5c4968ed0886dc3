// Package fake implements a fake arm.
package fake

import (
	"context"
	"sync"
	"time"

	"go.viam.com/handeye/arm"
	"go.viam.com/handeye/logging"
)

// VelocityCommand is one recorded CommandVelocity call.
type VelocityCommand struct {
	Velocity []float64
	Duration time.Duration
}

// Arm is a fake arm that integrates velocity commands directly into its joint state:
// joints += v·d. It never moves on its own.
type Arm struct {
	logger logging.Logger

	mu       sync.RWMutex
	joints   []float64
	moves    [][]float64
	commands []VelocityCommand
}

// NewArm returns a fake arm at the given joint configuration, whose length is its DOF.
func NewArm(initial []float64, logger logging.Logger) *Arm {
	return &Arm{logger: logger, joints: append([]float64(nil), initial...)}
}

// DOF implements arm.Actuator.
func (a *Arm) DOF() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.joints)
}

// MoveToJointPositions sets the joints.
func (a *Arm) MoveToJointPositions(ctx context.Context, positions []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := arm.CheckDOF(a, positions); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joints = append([]float64(nil), positions...)
	a.moves = append(a.moves, append([]float64(nil), positions...))
	a.logger.Debugw("fake arm moved", "joints", a.joints)
	return nil
}

// CommandVelocity integrates v over d.
func (a *Arm) CommandVelocity(ctx context.Context, v []float64, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := arm.CheckDOF(a, v); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.joints {
		a.joints[i] += v[i] * d.Seconds()
	}
	a.commands = append(a.commands, VelocityCommand{Velocity: append([]float64(nil), v...), Duration: d})
	a.logger.Debugw("fake arm velocity", "velocity", v, "duration", d, "joints", a.joints)
	return nil
}

// JointPositions returns the joints.
func (a *Arm) JointPositions(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]float64(nil), a.joints...), nil
}

// Moves returns every MoveToJointPositions target so far.
func (a *Arm) Moves() [][]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([][]float64(nil), a.moves...)
}

// Commands returns every velocity command so far.
func (a *Arm) Commands() []VelocityCommand {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]VelocityCommand(nil), a.commands...)
}
