package handeye

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/handeye/spatialmath"
)

func TestPoseFileRoundTrip(t *testing.T) {
	tf := spatialmath.NewRigidTransformFromAxisAngle(
		&spatialmath.R4AA{Theta: 2.1, RX: -0.2, RY: 0.7, RZ: 0.4}, r3.Vector{X: 0.123456789, Y: -4.5, Z: 1e-3})
	path := filepath.Join(t.TempDir(), "pose.txt")
	test.That(t, WritePoseFile(path, tf), test.ShouldBeNil)

	read, err := ReadPoseFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Translation(), test.ShouldResemble, tf.Translation())
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			test.That(t, read.Rotation().At(r, c), test.ShouldEqual, tf.Rotation().At(r, c))
		}
	}
}

func TestParsePose(t *testing.T) {
	t.Run("blank lines and padding", func(t *testing.T) {
		text := "\n1 0 0 0.5\n\n  0 1 0 -0.25  \n0 0 1 2\n0 0 0 1\n\n"
		tf, err := ParsePose(strings.NewReader(text), "padded")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, tf.Translation(), test.ShouldResemble, r3.Vector{X: 0.5, Y: -0.25, Z: 2})
	})

	for _, tc := range []struct {
		name   string
		text   string
		line   int
		reason string
	}{
		{"three rows", "1 0 0 0\n0 1 0 0\n0 0 1 0\n", 4, "expected 4 rows, got 3"},
		{"five rows", "1 0 0 0\n0 1 0 0\n0 0 1 0\n0 0 0 1\n0 0 0 1\n", 5, "more than 4 rows"},
		{"short row", "1 0 0 0\n0 1 0\n0 0 1 0\n0 0 0 1\n", 2, "expected 4 values, got 3"},
		{"long row", "1 0 0 0\n0 1 0 0\n0 0 1 0 9\n0 0 0 1\n", 3, "expected 4 values, got 5"},
		{"bad token", "1 0 0 0\n0 1 0 0\n0 0 1 0\n0 0 zero 1\n", 4, "token 3"},
		{"not a rotation", "2 0 0 0\n0 1 0 0\n0 0 1 0\n0 0 0 1\n", 0, "orthonormal"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePose(strings.NewReader(tc.text), "bad.txt")
			var malformed *spatialmath.MalformedTransformError
			test.That(t, errors.As(err, &malformed), test.ShouldBeTrue)
			test.That(t, malformed.File, test.ShouldEqual, "bad.txt")
			test.That(t, malformed.Line, test.ShouldEqual, tc.line)
			test.That(t, malformed.Reason, test.ShouldContainSubstring, tc.reason)
			test.That(t, err.Error(), test.ShouldContainSubstring, "bad.txt")
		})
	}
}

func TestReadPoseFileThreeLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hand_0.txt")
	test.That(t, os.WriteFile(path, []byte("1 0 0 0\n0 1 0 0\n0 0 1 0\n"), 0o600), test.ShouldBeNil)

	_, err := ReadPoseFile(path)
	var malformed *spatialmath.MalformedTransformError
	test.That(t, errors.As(err, &malformed), test.ShouldBeTrue)
	test.That(t, malformed.File, test.ShouldEqual, path)

	_, err = ReadPoseFile(filepath.Join(t.TempDir(), "missing.txt"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.As(err, &malformed), test.ShouldBeFalse)
}

func writeIdentityPoses(t *testing.T, dir, prefix string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.txt", prefix, i))
		test.That(t, WritePoseFile(path, spatialmath.NewIdentityTransform()), test.ShouldBeNil)
	}
}

func TestLoadDatasetMismatch(t *testing.T) {
	dir := t.TempDir()
	writeIdentityPoses(t, dir, "camera", 5)
	writeIdentityPoses(t, dir, "hand", 4)

	_, err := LoadDataset(dir, LoadOptions{})
	var mismatch *DatasetMismatchError
	test.That(t, errors.As(err, &mismatch), test.ShouldBeTrue)
	test.That(t, mismatch.CameraCount, test.ShouldEqual, 5)
	test.That(t, mismatch.HandCount, test.ShouldEqual, 4)
}

func TestLoadDatasetErrors(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		_, err := LoadDataset(t.TempDir(), LoadOptions{})
		var insufficient *InsufficientDataError
		test.That(t, errors.As(err, &insufficient), test.ShouldBeTrue)
		test.That(t, insufficient.Got, test.ShouldEqual, 0)
	})

	t.Run("malformed member", func(t *testing.T) {
		dir := t.TempDir()
		writeIdentityPoses(t, dir, "camera", 3)
		writeIdentityPoses(t, dir, "hand", 3)
		bad := filepath.Join(dir, "hand_1.txt")
		test.That(t, os.WriteFile(bad, []byte("1 0 0 0\n0 1 0 0\n0 0 1 0\n"), 0o600), test.ShouldBeNil)

		_, err := LoadDataset(dir, LoadOptions{})
		var malformed *spatialmath.MalformedTransformError
		test.That(t, errors.As(err, &malformed), test.ShouldBeTrue)
		test.That(t, malformed.File, test.ShouldEqual, bad)
	})

	t.Run("bad pattern", func(t *testing.T) {
		_, err := LoadDataset(t.TempDir(), LoadOptions{CameraGlob: "[", HandGlob: "hand_*.txt"})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestLoadDatasetCalibrates(t *testing.T) {
	ds := syntheticDataset(t, trueCameraToGripper, variedGripperPoses())
	dir := t.TempDir()
	test.That(t, WriteDataset(dir, ds), test.ShouldBeNil)

	loaded, err := LoadDataset(dir, LoadOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Len(), test.ShouldEqual, 5)

	hand, camera := loaded.Samples(0)
	test.That(t, hand.Role(), test.ShouldEqual, GripperToBase)
	test.That(t, camera.Role(), test.ShouldEqual, TargetToCamera)
	test.That(t, hand.Source(), test.ShouldEqual, filepath.Join(dir, "hand_0.txt"))
	for i := 0; i < ds.Len(); i++ {
		g, c := ds.Pair(i)
		lg, lc := loaded.Pair(i)
		test.That(t, spatialmath.TransformAlmostEqual(g, lg, 1e-9, 1e-9), test.ShouldBeTrue)
		test.That(t, spatialmath.TransformAlmostEqual(c, lc, 1e-9, 1e-9), test.ShouldBeTrue)
	}

	result, err := Calibrate(loaded)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.TransformAlmostEqual(result.CameraToGripper, trueCameraToGripper, 1e-6, 1e-6), test.ShouldBeTrue)

	// Camera files read as target-to-camera without inversion no longer describe a fixed target.
	raw, err := LoadDataset(dir, LoadOptions{TargetToCameraFiles: true})
	test.That(t, err, test.ShouldBeNil)
	wrong, _ := Calibrate(raw)
	test.That(t, wrong.Quality.TranslationRMS, test.ShouldBeGreaterThan, 1e-3)
}

func TestNewPoseDataset(t *testing.T) {
	g := spatialmath.NewIdentityTransform()
	hand := []*PoseSample{
		NewPoseSample(GripperToBase, g, "h0"), NewPoseSample(GripperToBase, g, "h1"), NewPoseSample(GripperToBase, g, "h2"),
	}
	camera := []*PoseSample{
		NewPoseSample(TargetToCamera, g, "c0"), NewPoseSample(TargetToCamera, g, "c1"), NewPoseSample(TargetToCamera, g, "c2"),
	}

	ds, err := NewPoseDataset(hand, camera)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ds.Len(), test.ShouldEqual, 3)

	// The dataset keeps its own copy of the sequences.
	hand[0] = nil
	h0, _ := ds.Samples(0)
	test.That(t, h0.Source(), test.ShouldEqual, "h0")
	hand[0] = NewPoseSample(GripperToBase, g, "h0")

	_, err = NewPoseDataset(hand, camera[:2])
	var mismatch *DatasetMismatchError
	test.That(t, errors.As(err, &mismatch), test.ShouldBeTrue)

	_, err = NewPoseDataset(camera, camera)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected gripper-to-base")

	_, err = NewPoseDataset(hand, []*PoseSample{camera[0], camera[1], NewPoseSample(TargetToCamera, nil, "c2")})
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, GripperToBase.String(), test.ShouldEqual, "gripper-to-base")
	test.That(t, TargetToCamera.String(), test.ShouldEqual, "target-to-camera")
	test.That(t, Role(7).String(), test.ShouldEqual, "unknown")
}
