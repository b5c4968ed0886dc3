package handeye

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/handeye/spatialmath"
	"go.viam.com/handeye/utils"
)

// Default file name patterns of a recorded dataset directory.
const (
	DefaultCameraGlob = "camera_*.txt"
	DefaultHandGlob   = "hand_*.txt"
)

// ParsePose reads a 4x4 homogeneous transform written as 4 lines of 4 whitespace separated numbers.
// Blank lines are skipped. name is used in errors; every format problem is a
// *spatialmath.MalformedTransformError carrying name and the 1-based line number.
func ParsePose(r io.Reader, name string) (*spatialmath.RigidTransform, error) {
	data := make([]float64, 0, 16)
	rows := 0
	lineNum := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rows == 4 {
			return nil, &spatialmath.MalformedTransformError{File: name, Line: lineNum, Reason: "more than 4 rows"}
		}
		values, err := utils.ParseFloatFields(line)
		if err != nil {
			return nil, &spatialmath.MalformedTransformError{File: name, Line: lineNum, Reason: err.Error()}
		}
		if len(values) != 4 {
			return nil, &spatialmath.MalformedTransformError{
				File: name, Line: lineNum, Reason: fmt.Sprintf("expected 4 values, got %d", len(values)),
			}
		}
		data = append(data, values...)
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %q", name)
	}
	if rows != 4 {
		return nil, &spatialmath.MalformedTransformError{
			File: name, Line: lineNum + 1, Reason: fmt.Sprintf("expected 4 rows, got %d", rows),
		}
	}

	tf, err := spatialmath.NewRigidTransformFromHomogeneous(mat.NewDense(4, 4, data))
	if err != nil {
		var malformed *spatialmath.MalformedTransformError
		if errors.As(err, &malformed) {
			malformed.File = name
		}
		return nil, err
	}
	return tf, nil
}

// ReadPoseFile reads a pose file from disk, see ParsePose.
func ReadPoseFile(path string) (tf *spatialmath.RigidTransform, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ParsePose(f, path)
}

// FormatPose renders a transform in the pose file format.
func FormatPose(tf *spatialmath.RigidTransform) string {
	h := tf.Homogeneous()
	var sb strings.Builder
	for r := 0; r < 4; r++ {
		sb.WriteString(utils.FormatFloatFields(mat.Row(nil, r, h)...))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// WritePoseFile writes a transform in the pose file format; ReadPoseFile reads it back exactly.
func WritePoseFile(path string, tf *spatialmath.RigidTransform) error {
	return os.WriteFile(path, []byte(FormatPose(tf)), 0o600)
}

// LoadOptions controls how LoadDataset finds and interprets pose files.
type LoadOptions struct {
	// CameraGlob and HandGlob select files within the dataset directory. Empty means the default.
	CameraGlob string
	HandGlob   string
	// By default camera files hold the camera pose in the target frame and are inverted to get
	// target-to-camera. Set TargetToCameraFiles when they already hold target-to-camera.
	TargetToCameraFiles bool
}

// LoadDataset reads the camera and hand pose files of dir, pairs them by sorted file name and
// builds a dataset. Hand files hold gripper-to-base poses.
func LoadDataset(dir string, opts LoadOptions) (*PoseDataset, error) {
	if opts.CameraGlob == "" {
		opts.CameraGlob = DefaultCameraGlob
	}
	if opts.HandGlob == "" {
		opts.HandGlob = DefaultHandGlob
	}
	cameraFiles, err := filepath.Glob(filepath.Join(dir, opts.CameraGlob))
	if err != nil {
		return nil, errors.Wrap(err, "bad camera file pattern")
	}
	handFiles, err := filepath.Glob(filepath.Join(dir, opts.HandGlob))
	if err != nil {
		return nil, errors.Wrap(err, "bad hand file pattern")
	}
	sort.Strings(cameraFiles)
	sort.Strings(handFiles)
	if len(cameraFiles) != len(handFiles) {
		return nil, &DatasetMismatchError{CameraCount: len(cameraFiles), HandCount: len(handFiles)}
	}

	hand := make([]*PoseSample, 0, len(handFiles))
	for _, path := range handFiles {
		tf, err := ReadPoseFile(path)
		if err != nil {
			return nil, err
		}
		hand = append(hand, NewPoseSample(GripperToBase, tf, path))
	}
	camera := make([]*PoseSample, 0, len(cameraFiles))
	for _, path := range cameraFiles {
		tf, err := ReadPoseFile(path)
		if err != nil {
			return nil, err
		}
		if !opts.TargetToCameraFiles {
			tf = tf.Inverse()
		}
		camera = append(camera, NewPoseSample(TargetToCamera, tf, path))
	}
	return NewPoseDataset(hand, camera)
}

// WriteDataset writes a dataset into dir using the default file names, the inverse of LoadDataset
// with default options.
func WriteDataset(dir string, ds *PoseDataset) error {
	width := len(strconv.Itoa(ds.Len()))
	for i := 0; i < ds.Len(); i++ {
		g, c := ds.Pair(i)
		idx := fmt.Sprintf("%0*d", width, i)
		if err := WritePoseFile(filepath.Join(dir, "hand_"+idx+".txt"), g); err != nil {
			return err
		}
		if err := WritePoseFile(filepath.Join(dir, "camera_"+idx+".txt"), c.Inverse()); err != nil {
			return err
		}
	}
	return nil
}
