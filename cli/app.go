// Package cli contains the handeye command line: offline hand-eye calibration, one-shot
// controller evaluation and calibrate-then-servo runs.
package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"go.viam.com/handeye/logging"
)

// Flags.
const (
	debugFlag   = "debug"
	logFileFlag = "log-file"

	calibrateFlagDataset        = "dataset"
	calibrateFlagMethod         = "method"
	calibrateFlagPairing        = "pairing"
	calibrateFlagMaxCondition   = "max-condition"
	calibrateFlagCameraGlob     = "camera-glob"
	calibrateFlagHandGlob       = "hand-glob"
	calibrateFlagTargetToCamera = "target-to-camera"
	calibrateFlagOut            = "out"

	errorFlagCurrent     = "current"
	errorFlagTarget      = "target"
	errorFlagPoints      = "points"
	errorFlagGain        = "gain"
	errorFlagDOF         = "dof"
	errorFlagMaxVelocity = "max-velocity"

	servoFlagConfig = "config"
	servoFlagFake   = "fake"
	servoFlagPlot   = "plot"
)

var app = &cli.App{
	Name:            "handeye",
	Usage:           "calibrate a wrist camera and servo an arm toward image targets",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.PathFlag{
			Name:  logFileFlag,
			Usage: "also write logs to `FILE`, rotated by size",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "calibrate",
			Usage:     "solve the camera-to-gripper transform from recorded pose pairs",
			UsageText: "handeye calibrate --dataset <dir> [other options]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     calibrateFlagDataset,
					Required: true,
					Usage:    "directory holding camera_*.txt and hand_*.txt pose files",
				},
				&cli.StringFlag{
					Name:  calibrateFlagMethod,
					Value: "tsai",
					Usage: "rotation estimator: tsai or park",
				},
				&cli.StringFlag{
					Name:  calibrateFlagPairing,
					Value: "all",
					Usage: "motion pairs: all or consecutive",
				},
				&cli.Float64Flag{
					Name:  calibrateFlagMaxCondition,
					Value: 1e3,
					Usage: "condition number above which the result is flagged degenerate",
				},
				&cli.StringFlag{
					Name:  calibrateFlagCameraGlob,
					Usage: "camera pose file pattern",
				},
				&cli.StringFlag{
					Name:  calibrateFlagHandGlob,
					Usage: "hand pose file pattern",
				},
				&cli.BoolFlag{
					Name:  calibrateFlagTargetToCamera,
					Usage: "camera files already hold target-to-camera poses and are not inverted",
				},
				&cli.PathFlag{
					Name:  calibrateFlagOut,
					Usage: "write the camera-to-gripper transform as a 4x4 pose file",
				},
			},
			Action: CalibrateAction,
		},
		{
			Name:      "error",
			Usage:     "evaluate the servo control law once for a pair of point files",
			UsageText: "handeye error --current <file> --target <file> [other options]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     errorFlagCurrent,
					Required: true,
					Usage:    "current feature points, one \"x y\" per line",
				},
				&cli.PathFlag{
					Name:     errorFlagTarget,
					Required: true,
					Usage:    "target feature points, one \"x y\" per line",
				},
				&cli.IntFlag{
					Name:  errorFlagPoints,
					Value: 12,
					Usage: "expected number of points in each file",
				},
				&cli.Float64Flag{
					Name:  errorFlagGain,
					Value: 0.1,
					Usage: "controller gain",
				},
				&cli.IntFlag{
					Name:  errorFlagDOF,
					Value: 6,
					Usage: "velocity command length",
				},
				&cli.Float64Flag{
					Name:  errorFlagMaxVelocity,
					Value: 0.25,
					Usage: "per-axis velocity limit",
				},
			},
			Action: ErrorAction,
		},
		{
			Name:      "servo",
			Usage:     "calibrate, then servo the arm until the current points match the target",
			UsageText: "handeye servo --config <file> [--fake]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     servoFlagConfig,
					Aliases:  []string{"c"},
					Required: true,
					Usage:    "load configuration from `FILE`",
				},
				&cli.BoolFlag{
					Name:  servoFlagFake,
					Usage: "drive a simulated arm and camera instead of the configured arm",
				},
				&cli.PathFlag{
					Name:  servoFlagPlot,
					Usage: "plot the error norm of every cycle to `FILE` (.png, .svg or .pdf)",
				},
			},
			Action: ServoAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

// newLogger returns the command logger and a func that closes its log file, if any.
func newLogger(c *cli.Context) (logging.Logger, func()) {
	var logger logging.Logger
	if c.Bool(debugFlag) {
		logger = logging.NewDebugLogger("handeye")
	} else {
		logger = logging.NewLogger("handeye")
	}
	logging.ReplaceGlobal(logger)

	path := c.Path(logFileFlag)
	if path == "" {
		return logger, func() {}
	}
	appender := logging.NewFileAppender(path)
	logger.AddAppender(appender)
	return logger, func() {
		if err := appender.Close(); err != nil {
			warningf(c.App.ErrWriter, "failed to close log file: %v", err)
		}
	}
}

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

var warningPrefix = color.New(color.FgYellow, color.Bold).Sprint("Warning")

// warningf prints a message prefixed with a yellow "Warning".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, warningPrefix+": "+format+"\n", a...)
}
