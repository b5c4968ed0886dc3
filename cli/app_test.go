package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/handeye/handeye"
	"go.viam.com/handeye/spatialmath"
	"go.viam.com/handeye/visualservo"
)

var cameraToGripper = spatialmath.NewRigidTransformFromAxisAngle(
	&spatialmath.R4AA{Theta: 0.4, RX: -0.3, RY: 0.5, RZ: 1}, r3.Vector{X: 0.02, Y: -0.01, Z: 0.1})

func writeDataset(t *testing.T, singleAxis bool) string {
	t.Helper()
	targetInBase := spatialmath.NewRigidTransformFromAxisAngle(&spatialmath.R4AA{Theta: 0.2, RZ: 1}, r3.Vector{X: 0.6, Z: 0.05})
	var hand, camera []*handeye.PoseSample
	for i := 0; i < 6; i++ {
		axis := &spatialmath.R4AA{Theta: 0.1 * float64(i+1), RX: float64((i + 1) % 2), RY: float64(i % 3), RZ: 1}
		if singleAxis {
			axis = &spatialmath.R4AA{Theta: 0.1 * float64(i+1), RZ: 1}
		}
		g := spatialmath.NewRigidTransformFromAxisAngle(axis, r3.Vector{X: 0.3 + 0.04*float64(i), Y: -0.03 * float64(i), Z: 0.45})
		c := spatialmath.Compose(spatialmath.Compose(cameraToGripper.Inverse(), g.Inverse()), targetInBase)
		hand = append(hand, handeye.NewPoseSample(handeye.GripperToBase, g, ""))
		camera = append(camera, handeye.NewPoseSample(handeye.TargetToCamera, c, ""))
	}
	ds, err := handeye.NewPoseDataset(hand, camera)
	test.That(t, err, test.ShouldBeNil)

	dir := t.TempDir()
	test.That(t, handeye.WriteDataset(dir, ds), test.ShouldBeNil)
	return dir
}

func writePoints(t *testing.T, dir, name string, points visualservo.ImagePointSet) string {
	t.Helper()
	path := filepath.Join(dir, name)
	test.That(t, visualservo.WritePointFile(path, points), test.ShouldBeNil)
	return path
}

func checkerboard() visualservo.ImagePointSet {
	var points visualservo.ImagePointSet
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			points = append(points, r2.Point{X: 200 + 32*float64(c), Y: 150 + 32*float64(r)})
		}
	}
	return points
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).RunContext(context.Background(), append([]string{"handeye"}, args...))
	return out.String(), errOut.String(), err
}

func TestCalibrateCommand(t *testing.T) {
	dir := writeDataset(t, false)
	posePath := filepath.Join(t.TempDir(), "camera_to_gripper.txt")

	out, errOut, err := runApp(t, "calibrate", "--dataset", dir, "--method", "park", "--out", posePath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errOut, test.ShouldBeEmpty)
	test.That(t, out, test.ShouldContainSubstring, "Motion pairs")
	test.That(t, out, test.ShouldContainSubstring, "park, all pairs")
	test.That(t, out, test.ShouldContainSubstring, "wrote "+posePath)

	tf, err := handeye.ReadPoseFile(posePath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.TransformAlmostEqual(tf, cameraToGripper, 1e-6, 1e-6), test.ShouldBeTrue)
}

func TestCalibrateCommandDegenerate(t *testing.T) {
	out, errOut, err := runApp(t, "calibrate", "--dataset", writeDataset(t, true))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errOut, test.ShouldContainSubstring, "Warning")
	test.That(t, errOut, test.ShouldContainSubstring, "rotate about several axes")
	test.That(t, out, test.ShouldContainSubstring, "Degenerate")
}

func TestCalibrateCommandErrors(t *testing.T) {
	_, _, err := runApp(t, "calibrate", "--dataset", writeDataset(t, false), "--method", "daniilidis")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "daniilidis")

	dir := writeDataset(t, false)
	test.That(t, os.Remove(filepath.Join(dir, "hand_0.txt")), test.ShouldBeNil)
	_, _, err = runApp(t, "calibrate", "--dataset", dir)
	var mismatch *handeye.DatasetMismatchError
	test.That(t, err, test.ShouldHaveSameTypeAs, mismatch)
}

func TestErrorCommand(t *testing.T) {
	dir := t.TempDir()
	target := checkerboard()
	current := append(visualservo.ImagePointSet(nil), target...)
	current[0].X += 3
	current[0].Y -= 4

	out, _, err := runApp(t, "error",
		"--current", writePoints(t, dir, "current.txt", current),
		"--target", writePoints(t, dir, "target.txt", target),
		"--gain", "0.1",
		"--max-velocity", "0.35",
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Error norm")
	test.That(t, out, test.ShouldContainSubstring, "[3 -4 0 0")
	test.That(t, out, test.ShouldContainSubstring, "[-0.3 0.35 ")

	_, _, err = runApp(t, "error",
		"--current", writePoints(t, dir, "short.txt", current[:4]),
		"--target", filepath.Join(dir, "target.txt"),
	)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected 12 points")
}

func writeServoConfig(t *testing.T, datasetDir, extra string) string {
	t.Helper()
	dir := t.TempDir()
	target := checkerboard()
	current := append(visualservo.ImagePointSet(nil), target...)
	current[0].X += 64
	cfg := fmt.Sprintf(`{
		"calibration": {"dataset_dir": %q},
		"servo": {
			"target_points_file": %q,
			"current_points_file": %q,
			"gain": 5,
			"max_velocity": 1000,
			"command_duration": "100ms"
		}%s
	}`, datasetDir, writePoints(t, dir, "target.txt", target), writePoints(t, dir, "current.txt", current), extra)
	path := filepath.Join(dir, "handeye.json")
	test.That(t, os.WriteFile(path, []byte(cfg), 0o600), test.ShouldBeNil)
	return path
}

func TestServoCommandFake(t *testing.T) {
	path := writeServoConfig(t, writeDataset(t, false), "")

	out, _, err := runApp(t, "servo", "--config", path, "--fake")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Motion pairs")
	test.That(t, out, test.ShouldContainSubstring, "converged")
	test.That(t, out, test.ShouldContainSubstring, "[-63.75 0 0 0 0 0]")
}

func TestServoCommandErrors(t *testing.T) {
	_, _, err := runApp(t, "servo", "--config", filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	path := writeServoConfig(t, writeDataset(t, false), "")
	_, _, err = runApp(t, "servo", "--config", path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no arm section")

	path = writeServoConfig(t, t.TempDir(), "")
	_, _, err = runApp(t, "servo", "--config", path, "--fake")
	var insufficient *handeye.InsufficientDataError
	test.That(t, err, test.ShouldHaveSameTypeAs, insufficient)

	path = writeServoConfig(t, writeDataset(t, false), `, "arm": {"host": "127.0.0.1", "port": 1, "speed_degs_per_sec": 20}`)
	_, _, err = runApp(t, "servo", "--config", path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "can't connect to ur arm")
}

func TestServoCommandOutputs(t *testing.T) {
	dir := t.TempDir()
	plotPath := filepath.Join(dir, "convergence.png")
	logPath := filepath.Join(dir, "handeye.log")
	path := writeServoConfig(t, writeDataset(t, false), "")

	out, _, err := runApp(t, "--log-file", logPath, "servo", "--config", path, "--fake", "--plot", plotPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "wrote "+plotPath)

	info, err := os.Stat(plotPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)

	logs, err := os.ReadFile(logPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(logs), test.ShouldContainSubstring, "servo converged")
}
