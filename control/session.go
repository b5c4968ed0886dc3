package control

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/handeye/arm"
	"go.viam.com/handeye/handeye"
	"go.viam.com/handeye/logging"
	"go.viam.com/handeye/visualservo"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock sets the clock used to time servo runs.
func WithClock(clk clock.Clock) SessionOption {
	return func(s *Session) {
		s.clock = clk
	}
}

// WithSolverConfig sets the hand-eye solver configuration.
func WithSolverConfig(cfg handeye.SolverConfig) SessionOption {
	return func(s *Session) {
		s.solverConfig = cfg
	}
}

// Session owns one calibrate-then-servo sequence:
//
//	Idle → Calibrating → Calibrated → Servoing → Converged | Failed
//
// Calibrating can also end in Failed. Terminal sessions must be Reset before reuse, which
// discards the calibration. Operations are serialized; State may be read concurrently.
type Session struct {
	logger       logging.Logger
	source       visualservo.PointSource
	actuator     arm.Actuator
	clock        clock.Clock
	solverConfig handeye.SolverConfig

	state atomic.Int32

	mu          sync.Mutex
	id          string
	calibration *handeye.CalibrationResult
}

// NewSession returns an idle session.
func NewSession(
	logger logging.Logger,
	source visualservo.PointSource,
	actuator arm.Actuator,
	opts ...SessionOption,
) *Session {
	s := &Session{
		logger:       logger,
		source:       source,
		actuator:     actuator,
		clock:        clock.New(),
		solverConfig: handeye.DefaultSolverConfig(),
		id:           uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id, which changes on Reset.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(to State) {
	from := s.State()
	s.state.Store(int32(to))
	s.logger.Debugw("session state", "session", s.id, "from", from, "to", to)
}

// transition must be called with mu held.
func (s *Session) transition(from, to State) error {
	if current := s.State(); current != from {
		return &InvalidTransitionError{From: current, To: to}
	}
	s.setState(to)
	return nil
}

// Calibration returns the calibration, or nil before a successful Calibrate.
func (s *Session) Calibration() *handeye.CalibrationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibration
}

// Calibrate solves the hand-eye calibration of ds. A degenerate dataset still calibrates the
// session; the result is returned together with the *handeye.DegenerateMotionError.
func (s *Session) Calibrate(ctx context.Context, ds *handeye.PoseDataset) (*handeye.CalibrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(Idle, Calibrating); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.setState(Failed)
		return nil, err
	}
	solver, err := handeye.NewSolver(s.solverConfig, s.logger.Sublogger("handeye"))
	if err != nil {
		s.setState(Failed)
		return nil, err
	}
	result, err := solver.Solve(ds)
	if result == nil {
		s.setState(Failed)
		return nil, err
	}
	s.calibration = result
	s.setState(Calibrated)
	s.logger.Infow("calibrated",
		"session", s.id,
		"camera_to_gripper", result.CameraToGripper.String(),
		"rotation_rms", result.Quality.RotationRMS,
		"translation_rms", result.Quality.TranslationRMS,
		"degenerate", result.Quality.Degenerate)
	return result, err
}

// StartServo runs the servo loop toward target. The session must be Calibrated. An invalid cfg is
// rejected without changing state; otherwise the session ends Converged or Failed.
func (s *Session) StartServo(ctx context.Context, target visualservo.ImagePointSet, cfg ServoConfig) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.State(); current != Calibrated {
		return nil, &InvalidTransitionError{From: current, To: Servoing}
	}
	toGripper := s.calibration.CameraToGripper
	if !cfg.TransformToGripper {
		toGripper = nil
	}
	cfg.TransformToGripper = false
	loop, err := newServoLoop(s.id, s.logger, s.clock, s.source, s.actuator, cfg, toGripper)
	if err != nil {
		return nil, errors.Wrap(err, "invalid servo configuration")
	}
	if err := s.transition(Calibrated, Servoing); err != nil {
		return nil, err
	}
	report := loop.run(ctx, target)
	s.setState(report.State)
	return report, report.Err
}

// Reset returns a terminal session to Idle with a new id and no calibration.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.State(); !current.Terminal() {
		return &InvalidTransitionError{From: current, To: Idle}
	}
	s.calibration = nil
	s.id = uuid.NewString()
	s.setState(Idle)
	return nil
}
