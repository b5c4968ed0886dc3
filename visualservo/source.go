package visualservo

import (
	"context"
)

// PointSource acquires the current feature points, blocking until they are available.
type PointSource interface {
	AcquireCurrentPoints(ctx context.Context) (ImagePointSet, error)
}

// FilePointSource reads the current points from a file on every call, for vision pipelines that
// publish detected corners to disk.
type FilePointSource struct {
	path     string
	expected int
}

// NewFilePointSource returns a source reading path, which must hold expected points.
func NewFilePointSource(path string, expected int) *FilePointSource {
	return &FilePointSource{path: path, expected: expected}
}

// AcquireCurrentPoints implements PointSource.
func (s *FilePointSource) AcquireCurrentPoints(ctx context.Context) (ImagePointSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	points, err := ReadPointFile(s.path, s.expected)
	if err != nil {
		return nil, &AcquisitionError{Cycle: -1, Err: err}
	}
	return points, nil
}
