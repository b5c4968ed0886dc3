package control

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	fakearm "go.viam.com/handeye/arm/fake"
	"go.viam.com/handeye/handeye"
	"go.viam.com/handeye/logging"
	"go.viam.com/handeye/spatialmath"
	"go.viam.com/handeye/testutils/inject"
	"go.viam.com/handeye/visualservo"
)

var cameraToGripper = spatialmath.NewRigidTransformFromAxisAngle(
	&spatialmath.R4AA{Theta: 0.5, RX: 0.2, RY: -0.4, RZ: 1}, r3.Vector{X: 0.03, Y: 0.01, Z: 0.08})

func calibrationDataset(t *testing.T, singleAxis bool) *handeye.PoseDataset {
	t.Helper()
	targetInBase := spatialmath.NewRigidTransformFromAxisAngle(&spatialmath.R4AA{Theta: 0.3, RZ: 1}, r3.Vector{X: 0.5, Y: -0.1})
	var hand, camera []*handeye.PoseSample
	for i := 0; i < 5; i++ {
		angle := 0.15 * float64(i+1)
		axis := &spatialmath.R4AA{Theta: angle, RX: float64(i % 2), RY: float64((i + 1) % 3), RZ: 1}
		if singleAxis {
			axis = &spatialmath.R4AA{Theta: angle, RZ: 1}
		}
		g := spatialmath.NewRigidTransformFromAxisAngle(axis, r3.Vector{X: 0.3 + 0.05*float64(i), Y: 0.02 * float64(i), Z: 0.4})
		c := spatialmath.Compose(spatialmath.Compose(cameraToGripper.Inverse(), g.Inverse()), targetInBase)
		hand = append(hand, handeye.NewPoseSample(handeye.GripperToBase, g, ""))
		camera = append(camera, handeye.NewPoseSample(handeye.TargetToCamera, c, ""))
	}
	ds, err := handeye.NewPoseDataset(hand, camera)
	test.That(t, err, test.ShouldBeNil)
	return ds
}

func TestStateString(t *testing.T) {
	test.That(t, Idle.String(), test.ShouldEqual, "idle")
	test.That(t, Servoing.String(), test.ShouldEqual, "servoing")
	test.That(t, State(42).String(), test.ShouldEqual, "unknown")
	test.That(t, Converged.Terminal(), test.ShouldBeTrue)
	test.That(t, Failed.Terminal(), test.ShouldBeTrue)
	test.That(t, Calibrated.Terminal(), test.ShouldBeFalse)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	mockClock := clock.NewMock()
	a := fakearm.NewArm(make([]float64, 6), logger)
	source := &inject.PointSource{PointSource: &scriptedSource{target: targetPoints(), offset: halving}}
	var mu sync.Mutex
	acquired := 0
	source.AcquireCurrentPointsFunc = func(ctx context.Context) (visualservo.ImagePointSet, error) {
		mu.Lock()
		acquired++
		mu.Unlock()
		mockClock.Add(time.Second)
		return source.PointSource.AcquireCurrentPoints(ctx)
	}

	s := NewSession(logger, source, a, WithClock(mockClock))
	test.That(t, s.State(), test.ShouldEqual, Idle)
	test.That(t, s.Calibration(), test.ShouldBeNil)
	firstID := s.ID()

	_, err := s.StartServo(ctx, targetPoints(), testServoConfig())
	var transErr *InvalidTransitionError
	test.That(t, errors.As(err, &transErr), test.ShouldBeTrue)
	test.That(t, transErr.From, test.ShouldEqual, Idle)
	test.That(t, transErr.To, test.ShouldEqual, Servoing)
	test.That(t, err.Error(), test.ShouldEqual, "cannot go from idle to servoing")
	test.That(t, s.Reset(), test.ShouldNotBeNil)

	result, err := s.Calibrate(ctx, calibrationDataset(t, false))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, Calibrated)
	test.That(t, s.Calibration(), test.ShouldEqual, result)
	test.That(t, spatialmath.TransformAlmostEqual(result.CameraToGripper, cameraToGripper, 1e-6, 1e-6), test.ShouldBeTrue)

	_, err = s.Calibrate(ctx, calibrationDataset(t, false))
	test.That(t, errors.As(err, &transErr), test.ShouldBeTrue)
	test.That(t, transErr.From, test.ShouldEqual, Calibrated)

	// an invalid configuration leaves the session calibrated
	_, err = s.StartServo(ctx, targetPoints(), ServoConfig{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid servo configuration")
	test.That(t, s.State(), test.ShouldEqual, Calibrated)

	report, err := s.StartServo(ctx, targetPoints(), testServoConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, Converged)
	test.That(t, report.State, test.ShouldEqual, Converged)
	test.That(t, report.Iterations, test.ShouldEqual, 7)
	test.That(t, report.SessionID, test.ShouldEqual, firstID)
	test.That(t, report.Elapsed, test.ShouldEqual, 8*time.Second)
	test.That(t, acquired, test.ShouldEqual, 8)

	_, err = s.StartServo(ctx, targetPoints(), testServoConfig())
	test.That(t, errors.As(err, &transErr), test.ShouldBeTrue)
	test.That(t, transErr.From, test.ShouldEqual, Converged)

	test.That(t, s.Reset(), test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, Idle)
	test.That(t, s.Calibration(), test.ShouldBeNil)
	test.That(t, s.ID(), test.ShouldNotEqual, firstID)
}

func TestSessionCalibrationFailure(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	s := NewSession(logger, &inject.PointSource{}, fakearm.NewArm(make([]float64, 6), logger))

	_, err := s.Calibrate(ctx, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, s.State(), test.ShouldEqual, Failed)
	test.That(t, s.Calibration(), test.ShouldBeNil)

	test.That(t, s.Reset(), test.ShouldBeNil)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Calibrate(cancelled, calibrationDataset(t, false))
	test.That(t, err, test.ShouldEqual, context.Canceled)
	test.That(t, s.State(), test.ShouldEqual, Failed)

	test.That(t, s.Reset(), test.ShouldBeNil)
	s = NewSession(logger, &inject.PointSource{}, fakearm.NewArm(make([]float64, 6), logger),
		WithSolverConfig(handeye.SolverConfig{Method: "daniilidis"}))
	_, err = s.Calibrate(ctx, calibrationDataset(t, false))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, s.State(), test.ShouldEqual, Failed)
}

func TestSessionDegenerateCalibration(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	s := NewSession(logger, &inject.PointSource{}, fakearm.NewArm(make([]float64, 6), logger))

	result, err := s.Calibrate(ctx, calibrationDataset(t, true))
	var degErr *handeye.DegenerateMotionError
	test.That(t, errors.As(err, &degErr), test.ShouldBeTrue)
	test.That(t, result, test.ShouldNotBeNil)
	test.That(t, result.Quality.Degenerate, test.ShouldBeTrue)
	test.That(t, s.State(), test.ShouldEqual, Calibrated)
}

func TestSessionServoFailure(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	source := &scriptedSource{target: targetPoints(), offset: func(int) float64 { return 100 }}
	s := NewSession(logger, source, fakearm.NewArm(make([]float64, 6), logger))
	_, err := s.Calibrate(ctx, calibrationDataset(t, false))
	test.That(t, err, test.ShouldBeNil)

	cfg := testServoConfig()
	cfg.MaxIterations = 3
	report, err := s.StartServo(ctx, targetPoints(), cfg)
	var timeoutErr *ConvergenceTimeoutError
	test.That(t, errors.As(err, &timeoutErr), test.ShouldBeTrue)
	test.That(t, report.State, test.ShouldEqual, Failed)
	test.That(t, s.State(), test.ShouldEqual, Failed)
	test.That(t, s.Reset(), test.ShouldBeNil)
}

func TestSessionTransformToGripper(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	var commands [][]float64
	a := &inject.Arm{Actuator: fakearm.NewArm(make([]float64, 6), logger)}
	a.CommandVelocityFunc = func(ctx context.Context, v []float64, d time.Duration) error {
		commands = append(commands, v)
		return nil
	}
	source := &scriptedSource{target: targetPoints(), offset: func(int) float64 { return 0.5 }}
	s := NewSession(logger, source, a)
	result, err := s.Calibrate(ctx, calibrationDataset(t, false))
	test.That(t, err, test.ShouldBeNil)

	cfg := testServoConfig()
	cfg.Gain = 0.1
	cfg.TransformToGripper = true
	report, err := s.StartServo(ctx, targetPoints(), cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Iterations, test.ShouldEqual, 0)
	test.That(t, commands, test.ShouldHaveLength, 1)

	// the camera twist is [-0.05 0 0 0 0 0]
	expected := spatialmath.TwistSliceToFrame(result.CameraToGripper, []float64{-0.05, 0, 0, 0, 0, 0})
	for i := range expected {
		test.That(t, commands[0][i], test.ShouldAlmostEqual, expected[i])
	}
	test.That(t, math.Abs(commands[0][0]+0.05), test.ShouldBeGreaterThan, 1e-3)
}
