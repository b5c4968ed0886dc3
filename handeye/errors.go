package handeye

import (
	"fmt"
)

// DatasetMismatchError is returned when the camera and hand pose sequences differ in length.
type DatasetMismatchError struct {
	CameraCount int
	HandCount   int
}

func (e *DatasetMismatchError) Error() string {
	return fmt.Sprintf("pose dataset mismatch: %d camera poses but %d hand poses", e.CameraCount, e.HandCount)
}

// InsufficientDataError is returned when a dataset has fewer pose pairs than a solve needs.
type InsufficientDataError struct {
	Got  int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient pose data: got %d pose pairs, need at least %d", e.Got, e.Need)
}

// DegenerateMotionError flags a solve whose linear system is ill-conditioned, typically because
// the recorded rotations share one axis. It is a warning: Solve returns it together with a result.
type DegenerateMotionError struct {
	// System is "rotation" or "translation".
	System          string
	ConditionNumber float64
	Threshold       float64
}

func (e *DegenerateMotionError) Error() string {
	return fmt.Sprintf("degenerate motion: %s system condition number %.3g exceeds %.3g; "+
		"record poses rotating about more than one axis", e.System, e.ConditionNumber, e.Threshold)
}
