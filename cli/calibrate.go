package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/handeye/handeye"
	"go.viam.com/handeye/utils"
	"go.viam.com/handeye/visualservo"
)

// CalibrateAction is the corresponding action for 'calibrate'.
func CalibrateAction(c *cli.Context) error {
	logger, closeLog := newLogger(c)
	defer closeLog()
	ds, err := handeye.LoadDataset(c.Path(calibrateFlagDataset), handeye.LoadOptions{
		CameraGlob:          c.String(calibrateFlagCameraGlob),
		HandGlob:            c.String(calibrateFlagHandGlob),
		TargetToCameraFiles: c.Bool(calibrateFlagTargetToCamera),
	})
	if err != nil {
		return err
	}
	solver, err := handeye.NewSolver(handeye.SolverConfig{
		Method:             handeye.Method(c.String(calibrateFlagMethod)),
		Pairing:            handeye.Pairing(c.String(calibrateFlagPairing)),
		MaxConditionNumber: c.Float64(calibrateFlagMaxCondition),
	}, logger.Sublogger("solver"))
	if err != nil {
		return err
	}
	result, err := solver.Solve(ds)
	var degErr *handeye.DegenerateMotionError
	switch {
	case errors.As(err, &degErr):
		warningf(c.App.ErrWriter, "%v; collect poses that rotate about several axes", err)
	case err != nil:
		return err
	}

	printf(c.App.Writer, "%s", calibrationTable(result))
	printf(c.App.Writer, "\ncamera to gripper:\n%s", handeye.FormatPose(result.CameraToGripper))

	if out := c.Path(calibrateFlagOut); out != "" {
		if err := handeye.WritePoseFile(out, result.CameraToGripper); err != nil {
			return err
		}
		printf(c.App.Writer, "wrote %s", out)
	}
	return nil
}

func calibrationTable(result *handeye.CalibrationResult) string {
	tra := result.CameraToGripper.Translation()
	aa := result.CameraToGripper.Rotation().AxisAngles()
	q := result.Quality

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Quantity", "Value"})
	t.AppendRows([]table.Row{
		{"Method", fmt.Sprintf("%s, %s pairs", result.Method, result.Pairing)},
		{"Motion pairs", q.MotionPairs},
		{"Translation", fmt.Sprintf("X:%.5f, Y:%.5f, Z:%.5f", tra.X, tra.Y, tra.Z)},
		{"Rotation", fmt.Sprintf("%.4f° about (%.4f, %.4f, %.4f)", utils.RadToDeg(aa.Theta), aa.RX, aa.RY, aa.RZ)},
		{"Rotation residual", fmt.Sprintf("rms %.5f°, max %.5f°", utils.RadToDeg(q.RotationRMS), utils.RadToDeg(q.RotationMax))},
		{"Translation residual", fmt.Sprintf("rms %.6f, max %.6f", q.TranslationRMS, q.TranslationMax)},
		{"Condition", fmt.Sprintf("rotation %.3g, translation %.3g", q.RotationConditionNumber, q.TranslationConditionNumber)},
		{"Degenerate", q.Degenerate},
	})
	return t.Render()
}

// ErrorAction is the corresponding action for 'error'.
func ErrorAction(c *cli.Context) error {
	expected := c.Int(errorFlagPoints)
	current, err := visualservo.ReadPointFile(c.Path(errorFlagCurrent), expected)
	if err != nil {
		return err
	}
	target, err := visualservo.ReadPointFile(c.Path(errorFlagTarget), expected)
	if err != nil {
		return err
	}
	mapping, err := visualservo.NewTruncateMapping(c.Int(errorFlagDOF))
	if err != nil {
		return err
	}
	controller, err := visualservo.NewController(visualservo.ControllerConfig{
		Gain:        c.Float64(errorFlagGain),
		MaxVelocity: c.Float64(errorFlagMaxVelocity),
		Mapping:     mapping,
	})
	if err != nil {
		return err
	}
	out, err := controller.Compute(current, target)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Quantity", "Value"})
	t.AppendRows([]table.Row{
		{"Error", formatVector(out.Error)},
		{"Error norm", fmt.Sprintf("%.6g", out.Error.Norm())},
		{"Raw velocity", formatVector(out.Raw)},
		{"Velocity", formatVector(out.Velocity)},
		{"Saturated axes", formatAxes(out.SaturatedAxes)},
	})
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

func formatVector(v []float64) string {
	return "[" + strings.Join(lo.Map(v, func(x float64, _ int) string {
		return strconv.FormatFloat(x, 'g', 6, 64)
	}), " ") + "]"
}

func formatAxes(axes []int) string {
	if len(axes) == 0 {
		return "none"
	}
	return strings.Join(lo.Map(axes, func(i, _ int) string { return strconv.Itoa(i) }), ", ")
}
