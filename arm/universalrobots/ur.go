// Package universalrobots drives a Universal Robots arm over its realtime interface: URScript
// commands are written to the socket and joint state is read from the packets it streams back.
package universalrobots

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/handeye/arm"
	"go.viam.com/handeye/logging"
	"go.viam.com/handeye/utils"
)

// DefaultPort is the realtime interface port.
const DefaultPort = 30003

const (
	numJoints = 6
	// q_actual starts after the size header, the timestamp and five 6-double target/current blocks.
	qActualOffset = 4 + 8 + 5*numJoints*8
	minPacketSize = qActualOffset + numJoints*8
	maxPacketSize = 10000
)

var (
	errorPollDuration = 10 * time.Millisecond
	defaultTimeout    = 10 * time.Second
	respondTimeout    = 2 * time.Second
	staleStateAge     = time.Second
)

// Config is used for converting config attributes.
type Config struct {
	Host            string  `json:"host"`
	Port            int     `json:"port,omitempty"`
	SpeedDegsPerSec float64 `json:"speed_degs_per_sec"`
	// Acceleration is the tool acceleration passed to speedl, in m/s².
	Acceleration float64 `json:"acceleration,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Host == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "host")
	}
	if cfg.SpeedDegsPerSec > 180 || cfg.SpeedDegsPerSec < 3 {
		return goutils.NewConfigValidationError(path,
			errors.New("speed for universalrobots has to be between 3 and 180 degrees per second"))
	}
	if cfg.Acceleration < 0 {
		return goutils.NewConfigValidationError(path, errors.New("acceleration cannot be negative"))
	}
	return nil
}

func (cfg *Config) address() string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

type robotState struct {
	joints       []float64
	creationTime time.Time
}

// URArm is a connected arm. It implements arm.Actuator.
type URArm struct {
	logger                  logging.Logger
	conn                    net.Conn
	speedRadPerSec          float64
	acceleration            float64
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
	haveData                atomic.Bool

	muMove sync.Mutex

	mu           sync.Mutex
	state        robotState
	runtimeError error
}

// Connect dials the arm and waits for its first state packet.
func Connect(ctx context.Context, cfg *Config, logger logging.Logger) (*URArm, error) {
	if err := cfg.Validate("arm"); err != nil {
		return nil, err
	}
	// this is to speed up failure if the UR arm is not reachable
	dialCtx, cancelDial := context.WithTimeout(ctx, 5*time.Second)
	defer cancelDial()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", cfg.address())
	if err != nil {
		return nil, errors.Wrapf(err, "can't connect to ur arm (%s)", cfg.address())
	}

	acceleration := cfg.Acceleration
	if acceleration == 0 {
		acceleration = 0.1
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	ua := &URArm{
		logger:         logger,
		conn:           conn,
		speedRadPerSec: utils.DegToRad(cfg.SpeedDegsPerSec),
		acceleration:   acceleration,
		cancel:         cancel,
	}

	onData := make(chan struct{})
	var onDataOnce sync.Once
	ua.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		err := ua.reader(cancelCtx, func() {
			onDataOnce.Do(func() {
				close(onData)
			})
		})
		if err != nil && cancelCtx.Err() == nil {
			logger.Errorw("reader failed", "error", err)
			ua.setRuntimeError(err)
		}
	}, ua.activeBackgroundWorkers.Done)

	timer := time.NewTimer(respondTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, multierr.Combine(ctx.Err(), ua.Close(ctx))
	case <-timer.C:
		return nil, multierr.Combine(errors.Errorf("arm failed to respond in time (%s)", respondTimeout), ua.Close(ctx))
	case <-onData:
		return ua, nil
	}
}

// Close stops the reader and closes the connection.
func (ua *URArm) Close(ctx context.Context) error {
	ua.cancel()
	err := ua.conn.Close()
	ua.activeBackgroundWorkers.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// DOF implements arm.Actuator.
func (ua *URArm) DOF() int {
	return numJoints
}

func (ua *URArm) setState(state robotState) {
	ua.mu.Lock()
	ua.state = state
	ua.mu.Unlock()
	ua.haveData.Store(true)
}

func (ua *URArm) getState() (robotState, error) {
	ua.mu.Lock()
	defer ua.mu.Unlock()
	if !ua.haveData.Load() {
		return ua.state, errors.New("no state received from ur arm yet")
	}
	age := time.Since(ua.state.creationTime)
	if age > staleStateAge {
		return ua.state, fmt.Errorf("ur status is too old %v from: %v", age, ua.state.creationTime)
	}
	return ua.state, nil
}

func (ua *URArm) setRuntimeError(re error) {
	ua.mu.Lock()
	ua.runtimeError = re
	ua.mu.Unlock()
}

func (ua *URArm) getAndResetRuntimeError() error {
	ua.mu.Lock()
	defer ua.mu.Unlock()
	re := ua.runtimeError
	ua.runtimeError = nil
	return re
}

// JointPositions gets the current joint positions of the UR arm, in radians.
func (ua *URArm) JointPositions(ctx context.Context) ([]float64, error) {
	if err := ua.getAndResetRuntimeError(); err != nil {
		return nil, err
	}
	state, err := ua.getState()
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), state.joints...), nil
}

func (ua *URArm) send(cmd string) error {
	_, err := ua.conn.Write([]byte(cmd))
	return err
}

func formatVector(values []float64) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// MoveToJointPositions moves the UR arm to the specified joint positions and waits until the
// reported joints match.
func (ua *URArm) MoveToJointPositions(ctx context.Context, radians []float64) error {
	if err := arm.CheckDOF(ua, radians); err != nil {
		return err
	}
	ua.muMove.Lock()
	defer ua.muMove.Unlock()

	state, err := ua.getState()
	if err != nil {
		return err
	}

	cmd := fmt.Sprintf("movej(%s, a=%1.2f, v=%1.2f, r=0)\r\n",
		formatVector(radians), 0.8*ua.speedRadPerSec, ua.speedRadPerSec)

	// calculate a timeout that corresponds to how fast the arm will move
	maxAngle := 0.
	for i := 0; i < numJoints; i++ {
		if diff := math.Abs(state.joints[i] - radians[i]); diff > maxAngle {
			maxAngle = diff
		}
	}

	// make the timeout the max between the default and time calculated by slapping a 20% factor on the estimated time to complete
	timeout := defaultTimeout
	if estTime := time.Duration(1.2 * maxAngle / ua.speedRadPerSec * float64(time.Second)); estTime > timeout {
		timeout = estTime
	}

	if err := ua.send(cmd); err != nil {
		return err
	}

	now := time.Now()
	for {
		state, err := ua.getState()
		if err != nil {
			return err
		}

		if utils.Float64SliceAlmostEqual(radians, state.joints, 1e-2) {
			return nil
		}

		if err := ua.getAndResetRuntimeError(); err != nil {
			return err
		}

		if time.Since(now) > timeout {
			return errors.Errorf("can't reach joint position.\n want: %v\n   at: %v", radians, state.joints)
		}

		if !goutils.SelectContextOrWait(ctx, errorPollDuration) {
			return ctx.Err()
		}
	}
}

// CommandVelocity sends a tool space speedl for duration d and blocks for that long.
// v is [vx vy vz wx wy wz] in m/s and rad/s.
func (ua *URArm) CommandVelocity(ctx context.Context, v []float64, d time.Duration) error {
	if err := arm.CheckDOF(ua, v); err != nil {
		return err
	}
	if err := ua.getAndResetRuntimeError(); err != nil {
		return err
	}
	ua.muMove.Lock()
	defer ua.muMove.Unlock()

	cmd := fmt.Sprintf("speedl(%s, a=%1.2f, t=%1.3f)\r\n", formatVector(v), ua.acceleration, d.Seconds())
	if err := ua.send(cmd); err != nil {
		return err
	}
	if !goutils.SelectContextOrWait(ctx, d) {
		return multierr.Combine(ctx.Err(), ua.send(fmt.Sprintf("stopl(%1.2f)\r\n", ua.acceleration)))
	}
	return nil
}

// reader consumes realtime packets until ctx is done or the connection fails.
func (ua *URArm) reader(ctx context.Context, onHaveData func()) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := ua.conn.SetReadDeadline(time.Now().Add(time.Millisecond * 1000)); err != nil {
			return err
		}

		sizeBuf, err := goutils.ReadBytes(ctx, ua.conn, 4)
		if err != nil {
			return err
		}
		msgSize := binary.BigEndian.Uint32(sizeBuf)
		if msgSize < minPacketSize || msgSize > maxPacketSize {
			return errors.Errorf("invalid msg size: %d", msgSize)
		}

		buf, err := goutils.ReadBytes(ctx, ua.conn, int(msgSize-4))
		if err != nil {
			return err
		}
		ua.setState(robotState{joints: parseJoints(buf), creationTime: time.Now()})
		onHaveData()
	}
}

// parseJoints reads q_actual from a realtime packet with its size header removed.
func parseJoints(buf []byte) []float64 {
	joints := make([]float64, numJoints)
	for i := range joints {
		off := qActualOffset - 4 + 8*i
		joints[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[off : off+8]))
	}
	return joints
}
