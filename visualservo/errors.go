package visualservo

import (
	"fmt"
)

// DimensionMismatchError is returned when current and target point sets differ in size.
type DimensionMismatchError struct {
	Current int
	Target  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: %d current points but %d target points", e.Current, e.Target)
}

// AcquisitionError wraps a failure to acquire the current feature points. Cycle is the 0-based
// control cycle, or -1 outside of a servo loop.
type AcquisitionError struct {
	Cycle int
	Err   error
}

func (e *AcquisitionError) Error() string {
	if e.Cycle < 0 {
		return fmt.Sprintf("point acquisition failed: %v", e.Err)
	}
	return fmt.Sprintf("point acquisition failed in cycle %d: %v", e.Cycle, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}
