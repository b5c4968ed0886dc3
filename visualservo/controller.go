// Package visualservo implements the image-based visual servoing control law: the image error
// between current and target feature points is mapped to an actuator velocity, scaled by a gain,
// and clamped to a safety bound.
package visualservo

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Gain is λ in v = −λ·Map(e). It must be positive.
	Gain float64
	// MaxVelocity bounds each command component in absolute value. It must be positive.
	MaxVelocity float64
	// Mapping defaults to a TruncateMapping with DefaultDOF outputs.
	Mapping VelocityMapping
}

// Controller is a proportional image-based controller. It is stateless: every Compute depends
// only on its arguments.
type Controller struct {
	gain        float64
	maxVelocity float64
	mapping     VelocityMapping
}

// Output is the result of one controller evaluation.
type Output struct {
	Error ErrorVector
	// Raw is the command before clamping.
	Raw VelocityCommand
	// Velocity is the clamped command to dispatch.
	Velocity VelocityCommand
	// Saturated is set when any component of Raw was clamped; SaturatedAxes lists them.
	Saturated     bool
	SaturatedAxes []int
}

// NewController validates cfg and returns a controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if !(cfg.Gain > 0) || math.IsInf(cfg.Gain, 0) {
		return nil, errors.Errorf("gain must be positive and finite, got %v", cfg.Gain)
	}
	if !(cfg.MaxVelocity > 0) {
		return nil, errors.Errorf("max velocity must be positive, got %v", cfg.MaxVelocity)
	}
	mapping := cfg.Mapping
	if mapping == nil {
		var err error
		if mapping, err = NewTruncateMapping(DefaultDOF); err != nil {
			return nil, err
		}
	}
	return &Controller{gain: cfg.Gain, maxVelocity: cfg.MaxVelocity, mapping: mapping}, nil
}

// Gain returns λ.
func (c *Controller) Gain() float64 {
	return c.gain
}

// DOF returns the command length.
func (c *Controller) DOF() int {
	return c.mapping.DOF()
}

// Compute evaluates the control law for one pair of point sets.
func (c *Controller) Compute(current, target ImagePointSet) (*Output, error) {
	e, err := ComputeError(current, target)
	if err != nil {
		return nil, err
	}
	mapped, err := c.mapping.Map(e)
	if err != nil {
		return nil, err
	}
	raw := make(VelocityCommand, len(mapped))
	floats.ScaleTo(raw, -c.gain, mapped)

	velocity, axes := Clamp(raw, c.maxVelocity)
	return &Output{
		Error:         e,
		Raw:           raw,
		Velocity:      velocity,
		Saturated:     len(axes) > 0,
		SaturatedAxes: axes,
	}, nil
}

// ComputeError returns flatten(current − target), preserving point order. Both sets must be
// finite.
func ComputeError(current, target ImagePointSet) (ErrorVector, error) {
	if len(current) != len(target) {
		return nil, &DimensionMismatchError{Current: len(current), Target: len(target)}
	}
	if err := current.CheckFinite(); err != nil {
		return nil, errors.Wrap(err, "current points")
	}
	if err := target.CheckFinite(); err != nil {
		return nil, errors.Wrap(err, "target points")
	}
	e := make(ErrorVector, 2*len(current))
	floats.SubTo(e, current.Flatten(), target.Flatten())
	return e, nil
}

// Clamp returns v with every component limited to [−limit, limit], and the indices that were
// limited. A NaN component becomes 0 and counts as limited. v is not modified.
func Clamp(v VelocityCommand, limit float64) (VelocityCommand, []int) {
	out := make(VelocityCommand, len(v))
	var axes []int
	for i, x := range v {
		switch {
		case math.IsNaN(x):
			out[i] = 0
			axes = append(axes, i)
		case x > limit:
			out[i] = limit
			axes = append(axes, i)
		case x < -limit:
			out[i] = -limit
			axes = append(axes, i)
		default:
			out[i] = x
		}
	}
	return out, axes
}
