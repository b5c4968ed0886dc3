package spatialmath

import (
	"fmt"
)

// OrthonormalityTolerance is the largest accepted ‖RᵀR − I‖_F for a rotation read from outside.
const OrthonormalityTolerance = 1e-3

// MalformedTransformError is returned when a homogeneous transform has the wrong shape, a
// non-orthonormal rotation block, or cannot be parsed. File and Line are set when the transform
// came from a file; Line is 1-based and zero when the problem is not tied to a line.
type MalformedTransformError struct {
	File   string
	Line   int
	Reason string
}

func (e *MalformedTransformError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("malformed transform %q line %d: %s", e.File, e.Line, e.Reason)
	case e.File != "":
		return fmt.Sprintf("malformed transform %q: %s", e.File, e.Reason)
	default:
		return "malformed transform: " + e.Reason
	}
}

// NewMalformedTransformError returns a MalformedTransformError not tied to a file.
func NewMalformedTransformError(format string, args ...interface{}) error {
	return &MalformedTransformError{Reason: fmt.Sprintf(format, args...)}
}
