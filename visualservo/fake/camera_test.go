package fake

import (
	"context"
	"testing"
	"time"

	"go.viam.com/test"

	fakearm "go.viam.com/handeye/arm/fake"
	"go.viam.com/handeye/logging"
	"go.viam.com/handeye/visualservo"
)

func TestCamera(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	target := visualservo.ImagePointSet{{X: 10, Y: 20}, {X: 30, Y: 40}}
	a := fakearm.NewArm([]float64{1, 1, 1}, logger)

	_, err := NewCamera(a, target, DiagonalJacobian(2, 2, 1), []float64{0, 0, 0})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewCamera(a, target, DiagonalJacobian(2, 3, 1), []float64{0, 0})
	test.That(t, err, test.ShouldNotBeNil)

	cam, err := NewCamera(a, target, DiagonalJacobian(2, 3, 2), []float64{0, 0, 0})
	test.That(t, err, test.ShouldBeNil)
	var _ visualservo.PointSource = cam

	points, err := cam.AcquireCurrentPoints(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points, test.ShouldResemble, visualservo.ImagePointSet{{X: 12, Y: 22}, {X: 32, Y: 40}})

	// Driving the joints back to zero recovers the target exactly.
	test.That(t, a.CommandVelocity(ctx, []float64{-1, -1, -1}, time.Second), test.ShouldBeNil)
	points, err = cam.AcquireCurrentPoints(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points, test.ShouldResemble, target)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = cam.AcquireCurrentPoints(cancelled)
	test.That(t, err, test.ShouldEqual, context.Canceled)
}
