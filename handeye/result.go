package handeye

import (
	"go.viam.com/handeye/spatialmath"
)

// Quality summarizes how well a calibration fits its data. Residuals are taken per motion pair as
// the gap between A·X and X·B.
type Quality struct {
	// RotationRMS and RotationMax are in radians.
	RotationRMS float64
	RotationMax float64
	// TranslationRMS and TranslationMax are in the units of the pose files.
	TranslationRMS float64
	TranslationMax float64

	// RotationConditionNumber measures how many distinct axes the gripper motions turn about,
	// independent of X. TranslationConditionNumber is that of the stacked (R_A − I) blocks.
	RotationConditionNumber    float64
	TranslationConditionNumber float64
	MotionPairs                int
	Degenerate                 bool
}

// CalibrationResult is the outcome of a solve. The caller owns it; nothing in this package
// modifies it after Solve returns.
type CalibrationResult struct {
	// CameraToGripper maps points in the camera frame into the gripper frame.
	CameraToGripper *spatialmath.RigidTransform
	Quality         Quality
	// Method is the rotation method that produced the estimate. A Tsai solve falls back to Park
	// when X turns by close to π.
	Method  Method
	Pairing Pairing
}
