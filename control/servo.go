package control

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/time/rate"

	"go.viam.com/handeye/arm"
	"go.viam.com/handeye/logging"
	"go.viam.com/handeye/spatialmath"
	"go.viam.com/handeye/visualservo"
)

const (
	maxFrequencyHz = 200
	// finalReadTimeout bounds the closing joint read when CallTimeout is zero.
	finalReadTimeout = time.Second
)

// ServoConfig configures a servo run.
type ServoConfig struct {
	Gain float64
	// The loop converges once the error norm drops below ConvergenceThreshold.
	ConvergenceThreshold float64
	MaxIterations        int
	MaxVelocity          float64
	// MaxSaturatedCycles is how many consecutive clamped commands are tolerated. Zero disables the
	// check.
	MaxSaturatedCycles int
	// CommandDuration is how long each velocity command is applied.
	CommandDuration time.Duration
	// CallTimeout bounds every acquisition and dispatch. A call that times out fails the run
	// without retries. Zero means no per-call timeout.
	CallTimeout time.Duration
	// Retries is how many times a failed acquisition or dispatch is repeated, RetryInterval apart.
	Retries       int
	RetryInterval time.Duration
	// FrequencyHz caps the cycle rate. Zero runs cycles back to back.
	FrequencyHz float64
	// Mapping defaults to truncating the error to the actuator's DOF.
	Mapping visualservo.VelocityMapping
	// ReadyPose, if set, is moved to in joint space before the first cycle.
	ReadyPose []float64
	// TransformToGripper re-expresses the camera twist in the gripper frame using the session's
	// calibration before dispatch. It requires a 6 DOF mapping.
	TransformToGripper bool
	// Trace logs every cycle of this run at debug level, whatever the logger's level.
	Trace bool
}

// DefaultServoConfig returns the defaults used by the CLI.
func DefaultServoConfig() ServoConfig {
	return ServoConfig{
		Gain:                 0.1,
		ConvergenceThreshold: 1.0,
		MaxIterations:        10,
		MaxVelocity:          0.25,
		MaxSaturatedCycles:   5,
		CommandDuration:      100 * time.Millisecond,
	}
}

// Validate returns every problem with cfg.
func (cfg ServoConfig) Validate() error {
	var err error
	if !(cfg.Gain > 0) || math.IsInf(cfg.Gain, 0) {
		err = multierr.Append(err, errors.Errorf("gain must be positive and finite, got %v", cfg.Gain))
	}
	if !(cfg.ConvergenceThreshold > 0) {
		err = multierr.Append(err, errors.Errorf("convergence threshold must be positive, got %v", cfg.ConvergenceThreshold))
	}
	if cfg.MaxIterations <= 0 {
		err = multierr.Append(err, errors.Errorf("max iterations must be positive, got %d", cfg.MaxIterations))
	}
	if !(cfg.MaxVelocity > 0) {
		err = multierr.Append(err, errors.Errorf("max velocity must be positive, got %v", cfg.MaxVelocity))
	}
	if cfg.MaxSaturatedCycles < 0 {
		err = multierr.Append(err, errors.Errorf("max saturated cycles cannot be negative, got %d", cfg.MaxSaturatedCycles))
	}
	if cfg.CommandDuration <= 0 {
		err = multierr.Append(err, errors.Errorf("command duration must be positive, got %v", cfg.CommandDuration))
	}
	if cfg.CallTimeout < 0 || cfg.RetryInterval < 0 || cfg.Retries < 0 {
		err = multierr.Append(err, errors.New("call timeout, retries and retry interval cannot be negative"))
	}
	if cfg.FrequencyHz < 0 || cfg.FrequencyHz > maxFrequencyHz {
		err = multierr.Append(err, errors.Errorf("loop frequency shouldn't be negative or above %dHz", maxFrequencyHz))
	}
	if cfg.TransformToGripper && cfg.Mapping != nil && cfg.Mapping.DOF() != visualservo.DefaultDOF {
		err = multierr.Append(err, errors.Errorf("transforming to the gripper frame needs a %d DOF mapping, got %d",
			visualservo.DefaultDOF, cfg.Mapping.DOF()))
	}
	return err
}

// Report is the outcome of a servo run.
type Report struct {
	SessionID string
	// State is Converged or Failed.
	State State
	// FinalError is the error vector of the last completed computation, nil if none completed.
	FinalError visualservo.ErrorVector
	ErrorNorm  float64
	// History holds the error norm of every completed computation, in cycle order.
	History []float64
	// Iterations is the 0-based cycle in which the run ended.
	Iterations       int
	SaturationEvents int
	// FinalJoints is the actuator state after the run, when it could be read.
	FinalJoints []float64
	Elapsed     time.Duration
	Err         error
}

// Servo drives actuator until the points seen by source match target, the iteration limit is hit,
// or a call fails. The returned error is also Report.Err; the report is nil only when the inputs
// are invalid.
func Servo(
	ctx context.Context,
	logger logging.Logger,
	source visualservo.PointSource,
	actuator arm.Actuator,
	target visualservo.ImagePointSet,
	cfg ServoConfig,
) (*Report, error) {
	if cfg.TransformToGripper {
		return nil, errors.New("transforming to the gripper frame needs a calibration, run the servo from a session")
	}
	loop, err := newServoLoop(uuid.NewString(), logger, clock.New(), source, actuator, cfg, nil)
	if err != nil {
		return nil, err
	}
	report := loop.run(ctx, target)
	return report, report.Err
}

type servoLoop struct {
	id         string
	logger     logging.Logger
	clock      clock.Clock
	source     visualservo.PointSource
	actuator   arm.Actuator
	cfg        ServoConfig
	controller *visualservo.Controller
	toGripper  *spatialmath.RigidTransform
}

func newServoLoop(
	id string,
	logger logging.Logger,
	clk clock.Clock,
	source visualservo.PointSource,
	actuator arm.Actuator,
	cfg ServoConfig,
	toGripper *spatialmath.RigidTransform,
) (*servoLoop, error) {
	if source == nil || actuator == nil {
		return nil, errors.New("servo needs a point source and an actuator")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mapping := cfg.Mapping
	if mapping == nil {
		var err error
		if mapping, err = visualservo.NewTruncateMapping(actuator.DOF()); err != nil {
			return nil, err
		}
	}
	if mapping.DOF() != actuator.DOF() {
		return nil, errors.Errorf("mapping produces %d values but the actuator has %d degrees of freedom",
			mapping.DOF(), actuator.DOF())
	}
	if toGripper != nil && mapping.DOF() != visualservo.DefaultDOF {
		return nil, errors.Errorf("transforming to the gripper frame needs a %d DOF mapping, got %d",
			visualservo.DefaultDOF, mapping.DOF())
	}
	if len(cfg.ReadyPose) > 0 {
		if err := arm.CheckDOF(actuator, cfg.ReadyPose); err != nil {
			return nil, errors.Wrap(err, "ready pose")
		}
	}
	controller, err := visualservo.NewController(visualservo.ControllerConfig{
		Gain:        cfg.Gain,
		MaxVelocity: cfg.MaxVelocity,
		Mapping:     mapping,
	})
	if err != nil {
		return nil, err
	}
	return &servoLoop{
		id:         id,
		logger:     logger.Sublogger("servo"),
		clock:      clk,
		source:     source,
		actuator:   actuator,
		cfg:        cfg,
		controller: controller,
		toGripper:  toGripper,
	}, nil
}

// call runs fn under the per-call timeout, repeating it on failure up to cfg.Retries times.
func (l *servoLoop) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= l.cfg.Retries; attempt++ {
		if attempt > 0 {
			l.logger.CWarnw(ctx, "retrying", "session", l.id, "call", name, "attempt", attempt, "error", err)
			if !goutils.SelectContextOrWait(ctx, l.cfg.RetryInterval) {
				return multierr.Combine(err, ctx.Err())
			}
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if l.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, l.cfg.CallTimeout)
		}
		err = fn(callCtx)
		timedOut := ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if timedOut {
			return errors.Wrapf(err, "%s timed out after %v", name, l.cfg.CallTimeout)
		}
	}
	return err
}

func (l *servoLoop) moveToReadyPose(ctx context.Context) error {
	var joints []float64
	err := l.call(ctx, "read joints", func(ctx context.Context) error {
		var err error
		joints, err = l.actuator.JointPositions(ctx)
		return err
	})
	if err != nil {
		return &arm.ActuatorError{Op: arm.OpRead, Err: err}
	}
	l.logger.CInfow(ctx, "moving to ready pose", "session", l.id, "from", joints, "to", l.cfg.ReadyPose)
	err = l.call(ctx, "move", func(ctx context.Context) error {
		return l.actuator.MoveToJointPositions(ctx, l.cfg.ReadyPose)
	})
	if err != nil {
		return &arm.ActuatorError{Op: arm.OpMove, Err: err}
	}
	return nil
}

func (l *servoLoop) acquire(ctx context.Context, cycle int) (visualservo.ImagePointSet, error) {
	var points visualservo.ImagePointSet
	err := l.call(ctx, "acquire", func(ctx context.Context) error {
		var err error
		if points, err = l.source.AcquireCurrentPoints(ctx); err != nil {
			return err
		}
		return points.CheckFinite()
	})
	if err != nil {
		var acqErr *visualservo.AcquisitionError
		if errors.As(err, &acqErr) {
			err = acqErr.Err
		}
		return nil, &visualservo.AcquisitionError{Cycle: cycle, Err: err}
	}
	return points, nil
}

func (l *servoLoop) compute(current, target visualservo.ImagePointSet) (*visualservo.Output, error) {
	out, err := l.controller.Compute(current, target)
	if err != nil || l.toGripper == nil {
		return out, err
	}
	raw := visualservo.VelocityCommand(spatialmath.TwistSliceToFrame(l.toGripper, out.Raw))
	velocity, axes := visualservo.Clamp(raw, l.cfg.MaxVelocity)
	out.Raw = raw
	out.Velocity = velocity
	out.SaturatedAxes = axes
	out.Saturated = len(axes) > 0
	return out, nil
}

func (l *servoLoop) finish(ctx context.Context, report *Report, start time.Time, state State, cycle int, err error) *Report {
	report.State = state
	report.Iterations = cycle
	report.Err = err
	report.Elapsed = l.clock.Since(start)
	if ctx.Err() == nil {
		// A wedged actuator must not hold the report back.
		readTimeout := l.cfg.CallTimeout
		if readTimeout == 0 {
			readTimeout = finalReadTimeout
		}
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		joints, jointsErr := l.actuator.JointPositions(readCtx)
		cancel()
		if jointsErr != nil {
			l.logger.CDebugw(ctx, "could not read final joints", "session", l.id, "error", jointsErr)
		} else {
			report.FinalJoints = joints
		}
	}
	if err != nil {
		l.logger.CWarnw(ctx, "servo failed", "session", l.id, "cycle", cycle, "error_norm", report.ErrorNorm, "error", err)
	} else {
		l.logger.CInfow(ctx, "servo converged", "session", l.id, "iterations", cycle, "error_norm", report.ErrorNorm)
	}
	return report
}

// run executes the loop. Each cycle uses only the points acquired in that cycle.
func (l *servoLoop) run(ctx context.Context, target visualservo.ImagePointSet) *Report {
	start := l.clock.Now()
	report := &Report{SessionID: l.id, State: Servoing}
	if l.cfg.Trace {
		ctx = logging.EnableDebugMode(ctx, l.id)
	}
	if err := target.CheckFinite(); err != nil {
		return l.finish(ctx, report, start, Failed, 0, errors.Wrap(err, "target points"))
	}

	if len(l.cfg.ReadyPose) > 0 {
		if err := l.moveToReadyPose(ctx); err != nil {
			return l.finish(ctx, report, start, Failed, 0, err)
		}
	}

	var limiter *rate.Limiter
	if l.cfg.FrequencyHz > 0 {
		limiter = rate.NewLimiter(rate.Limit(l.cfg.FrequencyHz), 1)
	}

	consecutiveSaturated := 0
	for cycle := 0; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return l.finish(ctx, report, start, Failed, cycle, errors.Wrapf(err, "servo cancelled before cycle %d", cycle))
		}
		if cycle >= l.cfg.MaxIterations {
			return l.finish(ctx, report, start, Failed, cycle,
				&ConvergenceTimeoutError{Iterations: cycle, ErrorNorm: report.ErrorNorm})
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return l.finish(ctx, report, start, Failed, cycle, errors.Wrapf(err, "servo cancelled before cycle %d", cycle))
			}
		}

		current, err := l.acquire(ctx, cycle)
		if err != nil {
			return l.finish(ctx, report, start, Failed, cycle, err)
		}

		out, err := l.compute(current, target)
		if err != nil {
			return l.finish(ctx, report, start, Failed, cycle, err)
		}
		report.FinalError = out.Error
		report.ErrorNorm = out.Error.Norm()
		report.History = append(report.History, report.ErrorNorm)
		l.logger.CDebugw(ctx, "servo cycle", "session", l.id, "cycle", cycle, "error_norm", report.ErrorNorm, "velocity", out.Velocity)

		if out.Saturated {
			consecutiveSaturated++
			report.SaturationEvents++
			l.logger.CWarnw(ctx, "velocity saturated",
				"session", l.id,
				"cycle", cycle,
				"axes", out.SaturatedAxes,
				"raw", out.Raw,
				"consecutive", consecutiveSaturated)
			if l.cfg.MaxSaturatedCycles > 0 && consecutiveSaturated > l.cfg.MaxSaturatedCycles {
				return l.finish(ctx, report, start, Failed, cycle,
					&PersistentSaturationError{Cycles: consecutiveSaturated, Limit: l.cfg.MaxSaturatedCycles})
			}
		} else {
			consecutiveSaturated = 0
		}

		err = l.call(ctx, "dispatch", func(ctx context.Context) error {
			return l.actuator.CommandVelocity(ctx, out.Velocity, l.cfg.CommandDuration)
		})
		if err != nil {
			return l.finish(ctx, report, start, Failed, cycle, &arm.ActuatorError{Op: arm.OpVelocity, Err: err})
		}

		if report.ErrorNorm < l.cfg.ConvergenceThreshold {
			return l.finish(ctx, report, start, Converged, cycle, nil)
		}
	}
}
