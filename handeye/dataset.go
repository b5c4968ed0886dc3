// Package handeye recovers the fixed camera-to-gripper transform from paired robot and camera
// poses, the AX = XB problem.
package handeye

import (
	"github.com/pkg/errors"

	"go.viam.com/handeye/spatialmath"
)

// MinSamples is the fewest pose pairs a solve accepts. Two pairs give one motion, which leaves the
// rotation about that motion's axis unconstrained.
const MinSamples = 3

// Role tags what a pose sample measures.
type Role int

const (
	// GripperToBase is the pose of the gripper in the robot base frame.
	GripperToBase Role = iota
	// TargetToCamera is the pose of the calibration target in the camera frame.
	TargetToCamera
)

func (r Role) String() string {
	switch r {
	case GripperToBase:
		return "gripper-to-base"
	case TargetToCamera:
		return "target-to-camera"
	default:
		return "unknown"
	}
}

// PoseSample is one observed transform tagged with its role. It is not modified after construction.
type PoseSample struct {
	role      Role
	transform *spatialmath.RigidTransform
	source    string
}

// NewPoseSample returns a sample. source names where it came from, usually a file path, and may be empty.
func NewPoseSample(role Role, transform *spatialmath.RigidTransform, source string) *PoseSample {
	return &PoseSample{role: role, transform: transform, source: source}
}

// Role returns the sample's role.
func (s *PoseSample) Role() Role {
	return s.role
}

// Transform returns the observed transform.
func (s *PoseSample) Transform() *spatialmath.RigidTransform {
	return s.transform
}

// Source returns where the sample came from.
func (s *PoseSample) Source() string {
	return s.source
}

// PoseDataset holds index-aligned gripper-to-base and target-to-camera samples: entry i of both
// sequences was recorded at the same robot configuration.
type PoseDataset struct {
	gripperToBase  []*PoseSample
	targetToCamera []*PoseSample
}

// NewPoseDataset validates and copies the two sequences.
func NewPoseDataset(gripperToBase, targetToCamera []*PoseSample) (*PoseDataset, error) {
	if len(gripperToBase) != len(targetToCamera) {
		return nil, &DatasetMismatchError{CameraCount: len(targetToCamera), HandCount: len(gripperToBase)}
	}
	if len(gripperToBase) < MinSamples {
		return nil, &InsufficientDataError{Got: len(gripperToBase), Need: MinSamples}
	}
	if err := checkSamples(gripperToBase, GripperToBase); err != nil {
		return nil, err
	}
	if err := checkSamples(targetToCamera, TargetToCamera); err != nil {
		return nil, err
	}
	return &PoseDataset{
		gripperToBase:  append([]*PoseSample(nil), gripperToBase...),
		targetToCamera: append([]*PoseSample(nil), targetToCamera...),
	}, nil
}

func checkSamples(samples []*PoseSample, role Role) error {
	for i, s := range samples {
		if s == nil || s.transform == nil {
			return errors.Errorf("%s sample %d has no transform", role, i)
		}
		if s.role != role {
			return errors.Errorf("sample %d (%s) has role %s, expected %s", i, s.source, s.role, role)
		}
	}
	return nil
}

// Len returns the number of pose pairs.
func (ds *PoseDataset) Len() int {
	return len(ds.gripperToBase)
}

// Pair returns the gripper-to-base and target-to-camera transforms of pair i.
func (ds *PoseDataset) Pair(i int) (*spatialmath.RigidTransform, *spatialmath.RigidTransform) {
	return ds.gripperToBase[i].transform, ds.targetToCamera[i].transform
}

// Samples returns the samples of pair i.
func (ds *PoseDataset) Samples(i int) (*PoseSample, *PoseSample) {
	return ds.gripperToBase[i], ds.targetToCamera[i]
}
