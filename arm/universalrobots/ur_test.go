package universalrobots

import (
	"bufio"
	"context"
	"encoding/binary"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/handeye/arm"
	"go.viam.com/handeye/logging"
)

// encodePacket builds a realtime packet carrying q_actual, the inverse of parseJoints.
func encodePacket(joints []float64, size int) []byte {
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf, uint32(size))
	for i, q := range joints {
		binary.BigEndian.PutUint64(buf[qActualOffset+8*i:], math.Float64bits(q))
	}
	return buf
}

// fakeController streams realtime packets and applies movej commands instantly.
type fakeController struct {
	listener net.Listener

	mu       sync.Mutex
	joints   []float64
	commands []string
}

func newFakeController(t *testing.T, joints []float64) *fakeController {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	fc := &fakeController{listener: listener, joints: joints}
	go fc.serve()
	t.Cleanup(func() { listener.Close() })
	return fc
}

func (fc *fakeController) port() int {
	return fc.listener.Addr().(*net.TCPAddr).Port
}

func (fc *fakeController) serve() {
	conn, err := fc.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fc.handle(strings.TrimSpace(scanner.Text()))
		}
	}()
	ticker := time.NewTicker(8 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		fc.mu.Lock()
		packet := encodePacket(fc.joints, minPacketSize+16)
		fc.mu.Unlock()
		if _, err := conn.Write(packet); err != nil {
			return
		}
	}
}

func (fc *fakeController) handle(cmd string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.commands = append(fc.commands, cmd)
	if !strings.HasPrefix(cmd, "movej([") {
		return
	}
	list := cmd[len("movej(["):strings.Index(cmd, "]")]
	joints := make([]float64, 0, numJoints)
	for _, tok := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return
		}
		joints = append(joints, v)
	}
	fc.joints = joints
}

func (fc *fakeController) received() []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]string(nil), fc.commands...)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate("arm")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "host")

	cfg = &Config{Host: "10.0.0.2", SpeedDegsPerSec: 1}
	err = cfg.Validate("arm")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "between 3 and 180")

	cfg = &Config{Host: "10.0.0.2", SpeedDegsPerSec: 30, Acceleration: -1}
	test.That(t, cfg.Validate("arm"), test.ShouldNotBeNil)

	cfg = &Config{Host: "10.0.0.2", SpeedDegsPerSec: 30}
	test.That(t, cfg.Validate("arm"), test.ShouldBeNil)
	test.That(t, cfg.address(), test.ShouldEqual, "10.0.0.2:30003")
}

func TestPacketJoints(t *testing.T) {
	joints := []float64{0.1, -0.2, 0.3, -1.5, 2.5, 3.1}
	packet := encodePacket(joints, minPacketSize)
	test.That(t, len(packet), test.ShouldEqual, 300)
	test.That(t, parseJoints(packet[4:]), test.ShouldResemble, joints)
}

func TestURArm(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	fc := newFakeController(t, []float64{0, 0, 0, 0, 0, 0})

	ua, err := Connect(ctx, &Config{Host: "127.0.0.1", Port: fc.port(), SpeedDegsPerSec: 60}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, ua.Close(ctx), test.ShouldBeNil)
	}()
	var _ arm.Actuator = ua
	test.That(t, ua.DOF(), test.ShouldEqual, 6)

	joints, err := ua.JointPositions(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, joints, test.ShouldResemble, []float64{0, 0, 0, 0, 0, 0})

	target := []float64{0.5, -0.25, 0.125, 0, 1, -1}
	test.That(t, ua.MoveToJointPositions(ctx, target), test.ShouldBeNil)
	joints, err = ua.JointPositions(ctx)
	test.That(t, err, test.ShouldBeNil)
	for i := range target {
		test.That(t, joints[i], test.ShouldAlmostEqual, target[i])
	}

	test.That(t, ua.CommandVelocity(ctx, []float64{0.01, 0, 0, 0, 0, -0.02}, 20*time.Millisecond), test.ShouldBeNil)

	err = ua.MoveToJointPositions(ctx, []float64{1, 2})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected 6 values")

	var cmds []string
	for i := 0; i < 100; i++ {
		cmds = fc.received()
		if len(cmds) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	test.That(t, cmds, test.ShouldHaveLength, 2)
	test.That(t, cmds[0], test.ShouldStartWith, "movej([0.500000,-0.250000,0.125000,0.000000,1.000000,-1.000000]")
	test.That(t, cmds[1], test.ShouldEqual, "speedl([0.010000,0.000000,0.000000,0.000000,0.000000,-0.020000], a=0.10, t=0.020)")
}

func TestConnectUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	port := listener.Addr().(*net.TCPAddr).Port
	test.That(t, listener.Close(), test.ShouldBeNil)

	_, err = Connect(context.Background(), &Config{Host: "127.0.0.1", Port: port, SpeedDegsPerSec: 60}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "can't connect to ur arm")
}
