// Package config reads the JSON configuration of the handeye tool. Environment variables in the
// file are expanded before decoding, and durations may be written as strings such as "100ms".
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/handeye/arm/universalrobots"
	"go.viam.com/handeye/control"
	"go.viam.com/handeye/handeye"
	"go.viam.com/handeye/logging"
	"go.viam.com/handeye/visualservo"
)

// DefaultFeaturePoints is the inner corner count of a 3x4 checkerboard.
const DefaultFeaturePoints = 12

// Mapping names.
const (
	MappingTruncate    = "truncate"
	MappingInteraction = "interaction"
)

// Config describes a calibration and an optional servo run.
type Config struct {
	ConfigFilePath string `json:"-"`

	Calibration CalibrationConfig       `json:"calibration"`
	Servo       *ServoConfig            `json:"servo,omitempty"`
	Arm         *universalrobots.Config `json:"arm,omitempty"`
}

// CalibrationConfig locates a pose dataset and selects the solver.
type CalibrationConfig struct {
	DatasetDir          string  `json:"dataset_dir"`
	CameraGlob          string  `json:"camera_glob,omitempty"`
	HandGlob            string  `json:"hand_glob,omitempty"`
	TargetToCameraFiles bool    `json:"target_to_camera_files,omitempty"`
	Method              string  `json:"method,omitempty"`
	Pairing             string  `json:"pairing,omitempty"`
	MaxConditionNumber  float64 `json:"max_condition_number,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *CalibrationConfig) Validate(path string) error {
	if cfg.DatasetDir == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "dataset_dir")
	}
	if err := cfg.SolverConfig().Validate(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

// SolverConfig returns the solver settings.
func (cfg *CalibrationConfig) SolverConfig() handeye.SolverConfig {
	return handeye.SolverConfig{
		Method:             handeye.Method(cfg.Method),
		Pairing:            handeye.Pairing(cfg.Pairing),
		MaxConditionNumber: cfg.MaxConditionNumber,
	}
}

// LoadOptions returns the dataset loading settings.
func (cfg *CalibrationConfig) LoadOptions() handeye.LoadOptions {
	return handeye.LoadOptions{
		CameraGlob:          cfg.CameraGlob,
		HandGlob:            cfg.HandGlob,
		TargetToCameraFiles: cfg.TargetToCameraFiles,
	}
}

// ServoConfig describes a servo run. Zero values select the defaults of control.DefaultServoConfig.
type ServoConfig struct {
	TargetPointsFile  string `json:"target_points_file"`
	CurrentPointsFile string `json:"current_points_file"`
	FeaturePoints     int    `json:"feature_points,omitempty"`

	Gain                 float64       `json:"gain,omitempty"`
	ConvergenceThreshold float64       `json:"convergence_threshold,omitempty"`
	MaxIterations        int           `json:"max_iterations,omitempty"`
	MaxVelocity          float64       `json:"max_velocity,omitempty"`
	MaxSaturatedCycles   *int          `json:"max_saturated_cycles,omitempty"`
	CommandDuration      time.Duration `json:"command_duration,omitempty"`
	CallTimeout          time.Duration `json:"call_timeout,omitempty"`
	Retries              int           `json:"retries,omitempty"`
	RetryInterval        time.Duration `json:"retry_interval,omitempty"`
	FrequencyHz          float64       `json:"frequency_hz,omitempty"`

	// Mapping is "truncate" (default) or "interaction". The interaction mapping treats the target
	// points as normalized image coordinates at Depth and inverts their interaction matrix.
	Mapping string  `json:"mapping,omitempty"`
	DOF     int     `json:"dof,omitempty"`
	Depth   float64 `json:"depth,omitempty"`

	ReadyPose          []float64 `json:"ready_pose,omitempty"`
	TransformToGripper bool      `json:"transform_to_gripper,omitempty"`

	// Trace logs every servo cycle at debug level.
	Trace bool `json:"trace,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *ServoConfig) Validate(path string) error {
	if cfg.TargetPointsFile == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "target_points_file")
	}
	if cfg.CurrentPointsFile == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "current_points_file")
	}
	if cfg.FeaturePoints < 0 || cfg.DOF < 0 {
		return goutils.NewConfigValidationError(path, errors.New("feature_points and dof cannot be negative"))
	}
	switch cfg.Mapping {
	case "", MappingTruncate:
	case MappingInteraction:
		if !(cfg.Depth > 0) {
			return goutils.NewConfigValidationError(path, errors.New("the interaction mapping needs a positive depth"))
		}
		if cfg.DOF != 0 && cfg.DOF != visualservo.DefaultDOF {
			return goutils.NewConfigValidationError(path,
				errors.Errorf("the interaction mapping drives %d degrees of freedom", visualservo.DefaultDOF))
		}
	default:
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown mapping %q", cfg.Mapping))
	}
	loopCfg, err := cfg.ControlConfig(nil)
	if err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if err := loopCfg.Validate(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

// Points returns the expected feature point count.
func (cfg *ServoConfig) Points() int {
	if cfg.FeaturePoints == 0 {
		return DefaultFeaturePoints
	}
	return cfg.FeaturePoints
}

// ControlConfig converts cfg into the loop configuration. target is needed by the interaction
// mapping only; without it the mapping is left unset.
func (cfg *ServoConfig) ControlConfig(target visualservo.ImagePointSet) (control.ServoConfig, error) {
	out := control.DefaultServoConfig()
	if cfg.Gain != 0 {
		out.Gain = cfg.Gain
	}
	if cfg.ConvergenceThreshold != 0 {
		out.ConvergenceThreshold = cfg.ConvergenceThreshold
	}
	if cfg.MaxIterations != 0 {
		out.MaxIterations = cfg.MaxIterations
	}
	if cfg.MaxVelocity != 0 {
		out.MaxVelocity = cfg.MaxVelocity
	}
	if cfg.MaxSaturatedCycles != nil {
		out.MaxSaturatedCycles = *cfg.MaxSaturatedCycles
	}
	if cfg.CommandDuration != 0 {
		out.CommandDuration = cfg.CommandDuration
	}
	out.CallTimeout = cfg.CallTimeout
	out.Retries = cfg.Retries
	out.RetryInterval = cfg.RetryInterval
	out.FrequencyHz = cfg.FrequencyHz
	out.ReadyPose = cfg.ReadyPose
	out.TransformToGripper = cfg.TransformToGripper
	out.Trace = cfg.Trace

	switch cfg.Mapping {
	case MappingInteraction:
		if target == nil {
			break
		}
		depths := make([]float64, len(target))
		for i := range depths {
			depths[i] = cfg.Depth
		}
		l, err := visualservo.PointInteractionMatrix(target, depths)
		if err != nil {
			return out, err
		}
		if out.Mapping, err = visualservo.NewPseudoInverseMapping(l); err != nil {
			return out, err
		}
	default:
		if cfg.DOF != 0 {
			mapping, err := visualservo.NewTruncateMapping(cfg.DOF)
			if err != nil {
				return out, err
			}
			out.Mapping = mapping
		}
	}
	return out, nil
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate() error {
	err := cfg.Calibration.Validate("calibration")
	if cfg.Servo != nil {
		err = multierr.Combine(err, cfg.Servo.Validate("servo"))
	}
	if cfg.Arm != nil {
		err = multierr.Combine(err, cfg.Arm.Validate("arm"))
	}
	return err
}

// Read reads a config from the given file.
func Read(ctx context.Context, filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(ctx context.Context, originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var attributes map[string]interface{}
	if err := json.NewDecoder(r).Decode(&attributes); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}

	cfg := &Config{ConfigFilePath: originalPath}
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     cfg,
		Metadata:   &md,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "failed to process Config")
	}
	if len(md.Unused) > 0 {
		logger.Warnw("ignoring unknown config keys", "path", originalPath, "keys", md.Unused)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
