package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	control "mpc-path-follow/closed_loop/path_control"
	"mpc-path-follow/nlp"
	"mpc-path-follow/utils"
)

// stubSolver answers instantly. It either fails every solve, returns err,
// or returns a horizon whose first steering value is steer and everything
// else zero.
type stubSolver struct {
	mu    sync.Mutex
	calls int
	fail  bool
	err   error
	steer float64
}

func (s *stubSolver) Solve(_ context.Context, p nlp.Problem, _ nlp.Options) (nlp.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nlp.Result{}, s.err
	}
	if s.fail {
		return nlp.Result{Status: nlp.NotConverged}, nil
	}
	x := make([]float64, len(p.X0))
	// Vars = 6N + 2(N-1)
	l := control.Layout{N: (len(x) + 2) / 8}
	x[l.SteerIndex(0)] = s.steer
	return nlp.Result{Status: nlp.Success, X: x, Elapsed: time.Millisecond}, nil
}

func (s *stubSolver) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *stubSolver) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubSolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordSink keeps every published command.
type recordSink struct {
	mu     sync.Mutex
	cmds   []control.Command
	oks    []bool
	closed bool
}

func (s *recordSink) Publish(_ context.Context, cmd control.Command, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	s.oks = append(s.oks, ok)
	return nil
}

func (s *recordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordSink) published() ([]control.Command, []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]control.Command(nil), s.cmds...), append([]bool(nil), s.oks...)
}

func testControlConfig() control.Config {
	cfg := control.DefaultConfig()
	cfg.Horizon = 10
	cfg.SolveBudget = 5 * time.Second
	return cfg
}

func testServerConfig(policy FallbackPolicy) ServerConfig {
	return ServerConfig{
		Control:  testControlConfig(),
		Fallback: policy,
		PID:      DefaultSpeedPIDConfig(),
	}
}

func testLogger() *utils.Logger { return utils.NewNopLogger() }

// telemetryPayload describes a vehicle at (x, 0) heading along +x with n
// waypoints ahead on the x axis.
func telemetryPayload(t *testing.T, x, speed float64, n int) json.RawMessage {
	t.Helper()
	msg := map[string]any{
		"x":              x,
		"y":              0.0,
		"psi":            0.0,
		"speed":          speed,
		"steering_angle": 0.0,
		"throttle":       0.0,
	}
	ptsx, ptsy := make([]float64, n), make([]float64, n)
	for i := range n {
		ptsx[i] = x + 5*float64(i)
	}
	msg["ptsx"], msg["ptsy"] = ptsx, ptsy
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return b
}

// telemetryEvent wraps a payload into a socket.io frame.
func telemetryEvent(t *testing.T, payload json.RawMessage) []byte {
	t.Helper()
	b, err := utils.FormatSocketIO(eventTelemetry, payload)
	require.NoError(t, err)
	return b
}

// decodeSteer parses a steer reply.
func decodeSteer(t *testing.T, reply []byte) steerMessage {
	t.Helper()
	ev, err := utils.ParseSocketIO(reply)
	require.NoError(t, err)
	require.Equal(t, eventSteer, ev.Name)
	var m steerMessage
	require.NoError(t, json.Unmarshal(ev.Payload, &m))
	return m
}
