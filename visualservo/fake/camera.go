// Package fake implements a fake point source that observes a fake or injected arm.
package fake

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/handeye/arm"
	"go.viam.com/handeye/visualservo"
)

// Camera sees the target points exactly when the arm is at the target joints, and otherwise
// sees them displaced linearly: points = target + J·(q − qTarget).
type Camera struct {
	actuator     arm.Actuator
	target       []float64
	jacobian     *mat.Dense
	targetJoints []float64
}

// NewCamera returns a camera watching actuator. jacobian is 2N x DOF for N target points.
func NewCamera(
	actuator arm.Actuator,
	target visualservo.ImagePointSet,
	jacobian *mat.Dense,
	targetJoints []float64,
) (*Camera, error) {
	if err := arm.CheckDOF(actuator, targetJoints); err != nil {
		return nil, err
	}
	r, c := jacobian.Dims()
	if r != 2*len(target) || c != actuator.DOF() {
		return nil, errors.Errorf("jacobian must be %dx%d, got %dx%d", 2*len(target), actuator.DOF(), r, c)
	}
	return &Camera{
		actuator:     actuator,
		target:       target.Flatten(),
		jacobian:     jacobian,
		targetJoints: append([]float64(nil), targetJoints...),
	}, nil
}

// DiagonalJacobian returns a 2N x dof jacobian where joint i moves coordinate i by scale and every
// other coordinate is unaffected. Error components past dof cannot be driven.
func DiagonalJacobian(points, dof int, scale float64) *mat.Dense {
	j := mat.NewDense(2*points, dof, nil)
	for i := 0; i < dof && i < 2*points; i++ {
		j.Set(i, i, scale)
	}
	return j
}

// AcquireCurrentPoints implements visualservo.PointSource.
func (c *Camera) AcquireCurrentPoints(ctx context.Context) (visualservo.ImagePointSet, error) {
	joints, err := c.actuator.JointPositions(ctx)
	if err != nil {
		return nil, err
	}
	delta := make([]float64, len(joints))
	for i := range joints {
		delta[i] = joints[i] - c.targetJoints[i]
	}
	var flat mat.VecDense
	flat.MulVec(c.jacobian, mat.NewVecDense(len(delta), delta))
	flat.AddVec(&flat, mat.NewVecDense(len(c.target), append([]float64(nil), c.target...)))
	return visualservo.PointsFromFlat(flat.RawVector().Data), nil
}
