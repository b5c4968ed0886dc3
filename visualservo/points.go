package visualservo

import (
	"bufio"
	"io"
	"math"
	"os"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/handeye/utils"
)

// ImagePointSet is an ordered set of 2D feature points in pixel or normalized coordinates. The
// order is significant: point i of a current set corresponds to point i of the target set.
type ImagePointSet []r2.Point

// Flatten returns [x0 y0 x1 y1 ...].
func (s ImagePointSet) Flatten() []float64 {
	out := make([]float64, 0, 2*len(s))
	for _, p := range s {
		out = append(out, p.X, p.Y)
	}
	return out
}

// CheckFinite returns an error naming the first point with a NaN or infinite coordinate.
func (s ImagePointSet) CheckFinite() error {
	for i, p := range s {
		if !isFinite(p.X) || !isFinite(p.Y) {
			return errors.Errorf("point %d (%v, %v) is not finite", i, p.X, p.Y)
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// PointsFromFlat is the inverse of Flatten. It panics on an odd length.
func PointsFromFlat(flat []float64) ImagePointSet {
	if len(flat)%2 != 0 {
		panic("odd number of coordinates")
	}
	out := make(ImagePointSet, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		out = append(out, r2.Point{X: flat[i], Y: flat[i+1]})
	}
	return out
}

// ErrorVector is the flattened current minus target point difference, length 2N.
type ErrorVector []float64

// Norm returns the euclidean norm.
func (e ErrorVector) Norm() float64 {
	if len(e) == 0 {
		return 0
	}
	return floats.Norm(e, 2)
}

// VelocityCommand is an actuator velocity, one entry per degree of freedom.
type VelocityCommand []float64

// ParsePoints reads one "x y" point per non-blank line. If expected is positive the file must hold
// exactly that many points. name is used in errors.
func ParsePoints(r io.Reader, name string, expected int) (ImagePointSet, error) {
	var points ImagePointSet
	lineNum := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		values, err := utils.ParseFloatFields(line)
		if err != nil {
			return nil, errors.Wrapf(err, "%q line %d", name, lineNum)
		}
		if len(values) != 2 {
			return nil, errors.Errorf("%q line %d: expected 2 values, got %d", name, lineNum, len(values))
		}
		if !isFinite(values[0]) || !isFinite(values[1]) {
			return nil, errors.Errorf("%q line %d: coordinates must be finite, got %v", name, lineNum, values)
		}
		points = append(points, r2.Point{X: values[0], Y: values[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %q", name)
	}
	if expected > 0 && len(points) != expected {
		return nil, errors.Errorf("%q: expected %d points, got %d", name, expected, len(points))
	}
	return points, nil
}

// ReadPointFile reads a point file from disk, see ParsePoints.
func ReadPointFile(path string, expected int) (points ImagePointSet, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ParsePoints(f, path, expected)
}

// WritePointFile writes points in the point file format.
func WritePointFile(path string, points ImagePointSet) error {
	var sb strings.Builder
	for _, p := range points {
		sb.WriteString(utils.FormatFloatFields(p.X, p.Y))
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0o600)
}
