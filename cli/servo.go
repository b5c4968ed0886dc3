package cli

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/handeye/arm"
	fakearm "go.viam.com/handeye/arm/fake"
	"go.viam.com/handeye/arm/universalrobots"
	"go.viam.com/handeye/config"
	"go.viam.com/handeye/control"
	"go.viam.com/handeye/handeye"
	"go.viam.com/handeye/logging"
	"go.viam.com/handeye/visualservo"
	fakecamera "go.viam.com/handeye/visualservo/fake"
)

// ServoAction is the corresponding action for 'servo'.
func ServoAction(c *cli.Context) (err error) {
	ctx := c.Context
	logger, closeLog := newLogger(c)
	defer closeLog()
	cfg, err := config.Read(ctx, c.Path(servoFlagConfig), logger)
	if err != nil {
		return err
	}
	if cfg.Servo == nil {
		return errors.New("the config has no servo section")
	}

	ds, err := handeye.LoadDataset(cfg.Calibration.DatasetDir, cfg.Calibration.LoadOptions())
	if err != nil {
		return err
	}
	target, err := visualservo.ReadPointFile(cfg.Servo.TargetPointsFile, cfg.Servo.Points())
	if err != nil {
		return err
	}
	loopCfg, err := cfg.Servo.ControlConfig(target)
	if err != nil {
		return err
	}

	var actuator arm.Actuator
	var source visualservo.PointSource
	if c.Bool(servoFlagFake) {
		actuator, source, err = newSimulation(cfg.Servo, target, loopCfg, logger)
		if err != nil {
			return err
		}
	} else {
		if cfg.Arm == nil {
			return errors.New("the config has no arm section, pass --fake to simulate one")
		}
		var ur *universalrobots.URArm
		ur, err = universalrobots.Connect(ctx, cfg.Arm, logger.Sublogger("ur"))
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, ur.Close(context.Background()))
		}()
		actuator = ur
		source = visualservo.NewFilePointSource(cfg.Servo.CurrentPointsFile, cfg.Servo.Points())
	}

	session := control.NewSession(logger, source, actuator, control.WithSolverConfig(cfg.Calibration.SolverConfig()))
	result, err := session.Calibrate(ctx, ds)
	var degErr *handeye.DegenerateMotionError
	switch {
	case errors.As(err, &degErr):
		warningf(c.App.ErrWriter, "%v", err)
	case err != nil:
		return err
	}
	printf(c.App.Writer, "%s", calibrationTable(result))

	report, err := session.StartServo(ctx, target, loopCfg)
	if report == nil {
		return err
	}
	printf(c.App.Writer, "%s", reportTable(report))
	if path := c.Path(servoFlagPlot); path != "" {
		if plotErr := writeConvergencePlot(path, report, loopCfg.ConvergenceThreshold); plotErr != nil {
			return multierr.Combine(err, plotErr)
		}
		printf(c.App.Writer, "wrote %s", path)
	}
	return err
}

// newSimulation returns a fake arm at zero joints and a camera whose first DOF error components
// match the recorded current points there. Each joint drives one error component.
func newSimulation(
	servoCfg *config.ServoConfig,
	target visualservo.ImagePointSet,
	loopCfg control.ServoConfig,
	logger logging.Logger,
) (arm.Actuator, visualservo.PointSource, error) {
	current, err := visualservo.ReadPointFile(servoCfg.CurrentPointsFile, servoCfg.Points())
	if err != nil {
		return nil, nil, err
	}
	e, err := visualservo.ComputeError(current, target)
	if err != nil {
		return nil, nil, err
	}
	dof := visualservo.DefaultDOF
	if loopCfg.Mapping != nil {
		dof = loopCfg.Mapping.DOF()
	}
	if len(e) < dof {
		return nil, nil, errors.Errorf("%d points cannot drive %d simulated joints", len(target), dof)
	}
	targetJoints := make([]float64, dof)
	for i := range targetJoints {
		targetJoints[i] = -e[i]
	}
	fake := fakearm.NewArm(make([]float64, dof), logger.Sublogger("fake_arm"))
	camera, err := fakecamera.NewCamera(fake, target, fakecamera.DiagonalJacobian(len(target), dof, 1), targetJoints)
	if err != nil {
		return nil, nil, err
	}
	return fake, camera, nil
}

func reportTable(report *control.Report) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Quantity", "Value"})
	t.AppendRows([]table.Row{
		{"Session", report.SessionID},
		{"State", report.State},
		{"Iterations", report.Iterations},
		{"Error norm", fmt.Sprintf("%.6g", report.ErrorNorm)},
		{"Saturation events", report.SaturationEvents},
		{"Final joints", formatVector(report.FinalJoints)},
		{"Elapsed", report.Elapsed},
	})
	if report.Err != nil {
		t.AppendRow(table.Row{"Error", report.Err.Error()})
	}
	return t.Render()
}
