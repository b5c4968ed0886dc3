package inject

import (
	"context"

	"go.viam.com/handeye/visualservo"
)

// PointSource is an injected point source.
type PointSource struct {
	visualservo.PointSource
	AcquireCurrentPointsFunc func(ctx context.Context) (visualservo.ImagePointSet, error)
}

// AcquireCurrentPoints calls the injected AcquireCurrentPoints or the real version.
func (s *PointSource) AcquireCurrentPoints(ctx context.Context) (visualservo.ImagePointSet, error) {
	if s.AcquireCurrentPointsFunc == nil {
		return s.PointSource.AcquireCurrentPoints(ctx)
	}
	return s.AcquireCurrentPointsFunc(ctx)
}
