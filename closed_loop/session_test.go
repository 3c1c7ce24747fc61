package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	control "mpc-path-follow/closed_loop/path_control"
	"mpc-path-follow/utils"
)

func newTestSession(t *testing.T, cfg ServerConfig, solver *stubSolver, sink CommandSink) *Session {
	t.Helper()
	s, err := NewSession(cfg, solver, sink, testLogger())
	require.NoError(t, err)
	return s
}

func TestSessionIgnoresNonTelemetry(t *testing.T) {
	t.Parallel()

	stub := &stubSolver{}
	s := newTestSession(t, testServerConfig(FallbackHold), stub, nil)
	ctx := context.Background()

	for _, msg := range []string{"2", "3probe", `42[`, `42["heartbeat",{"n":1}]`} {
		reply, err := s.Handle(ctx, []byte(msg))
		require.NoError(t, err, msg)
		assert.Nil(t, reply, msg)
	}
	assert.Zero(t, stub.callCount())
	assert.Zero(t, s.Status().Diagnostics.Cycles)
}

func TestSessionManualReply(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, testServerConfig(FallbackHold), &stubSolver{}, nil)
	for _, msg := range []string{`42["telemetry"]`, `42["telemetry",null]`} {
		reply, err := s.Handle(context.Background(), []byte(msg))
		require.NoError(t, err)
		assert.Equal(t, utils.ManualReply(), reply)
	}
}

func TestSessionSteerReply(t *testing.T) {
	t.Parallel()

	cfg := testServerConfig(FallbackHold)
	stub := &stubSolver{steer: 0.2}
	sink := &recordSink{}
	s := newTestSession(t, cfg, stub, sink)

	reply, err := s.Handle(context.Background(), telemetryEvent(t, telemetryPayload(t, 100, 12, 6)))
	require.NoError(t, err)
	m := decodeSteer(t, reply)
	assert.InDelta(t, 0.2/cfg.Control.SteerLimit, m.SteeringAngle, 1e-12)
	assert.Equal(t, 0.0, m.Throttle)
	assert.Len(t, m.MpcX, cfg.Control.Horizon)
	assert.Len(t, m.MpcY, cfg.Control.Horizon)
	require.Len(t, m.NextX, 6)
	assert.InDelta(t, 25, m.NextX[5], 1e-9, "waypoints are sent back in the vehicle frame")

	cmds, oks := sink.published()
	require.Len(t, cmds, 1)
	assert.Equal(t, []bool{true}, oks)
	assert.Equal(t, m.SteeringAngle, cmds[0].Steering)

	st := s.Status()
	assert.Equal(t, s.ID, st.ID)
	assert.Equal(t, uint64(1), st.Diagnostics.Cycles)
	assert.Zero(t, st.Fallbacks)
}

func TestSessionMalformedTelemetry(t *testing.T) {
	t.Parallel()

	stub := &stubSolver{}
	sink := &recordSink{}
	s := newTestSession(t, testServerConfig(FallbackHold), stub, sink)
	ctx := context.Background()

	// undecodable payload
	reply, err := s.Handle(ctx, []byte(`42["telemetry",{"x":1}]`))
	require.NoError(t, err)
	assert.Nil(t, reply)

	// decodes, but too few waypoints for a fit
	reply, err = s.Handle(ctx, telemetryEvent(t, telemetryPayload(t, 0, 5, 3)))
	require.NoError(t, err)
	assert.Nil(t, reply)

	assert.Zero(t, stub.callCount())
	cmds, _ := sink.published()
	assert.Empty(t, cmds)

	st := s.Status()
	assert.Equal(t, uint64(2), st.Diagnostics.Malformed)
	assert.Equal(t, uint64(1), st.Diagnostics.Cycles)
	assert.Zero(t, st.Fallbacks)
}

func TestSessionFallback(t *testing.T) {
	t.Parallel()

	cases := map[FallbackPolicy]func(t *testing.T, good, fallback steerMessage){
		FallbackHold: func(t *testing.T, good, fallback steerMessage) {
			assert.Equal(t, good.SteeringAngle, fallback.SteeringAngle)
			assert.Equal(t, good.Throttle, fallback.Throttle)
		},
		FallbackZero: func(t *testing.T, _, fallback steerMessage) {
			assert.Equal(t, 0.0, fallback.SteeringAngle)
			assert.Equal(t, 0.0, fallback.Throttle)
		},
		FallbackPID: func(t *testing.T, good, fallback steerMessage) {
			assert.Equal(t, good.SteeringAngle, fallback.SteeringAngle)
			assert.Greater(t, fallback.Throttle, 0.0, "speed 12 is below the reference")
		},
	}
	for policy, check := range cases {
		t.Run(string(policy), func(t *testing.T) {
			t.Parallel()
			stub := &stubSolver{steer: -0.1}
			sink := &recordSink{}
			s := newTestSession(t, testServerConfig(policy), stub, sink)
			ctx := context.Background()
			event := telemetryEvent(t, telemetryPayload(t, 0, 12, 6))

			reply, err := s.Handle(ctx, event)
			require.NoError(t, err)
			good := decodeSteer(t, reply)

			stub.setFail(true)
			reply, err = s.Handle(ctx, event)
			require.NoError(t, err)
			fallback := decodeSteer(t, reply)
			assert.Empty(t, fallback.MpcX)
			check(t, good, fallback)

			_, oks := sink.published()
			assert.Equal(t, []bool{true, false}, oks)
			st := s.Status()
			assert.Equal(t, uint64(1), st.Fallbacks)
			assert.Equal(t, uint64(1), st.Diagnostics.SolveFailures)
		})
	}
}

func TestSessionSolverErrorKeepsSession(t *testing.T) {
	t.Parallel()

	stub := &stubSolver{steer: 0.1}
	sink := &recordSink{}
	s := newTestSession(t, testServerConfig(FallbackHold), stub, sink)
	ctx := context.Background()
	event := telemetryEvent(t, telemetryPayload(t, 0, 12, 6))

	reply, err := s.Handle(ctx, event)
	require.NoError(t, err)
	good := decodeSteer(t, reply)

	stub.setErr(errors.New("solve horizon: bad problem"))
	reply, err = s.Handle(ctx, event)
	require.NoError(t, err)
	held := decodeSteer(t, reply)
	assert.Equal(t, good.SteeringAngle, held.SteeringAngle)
	assert.Equal(t, good.Throttle, held.Throttle)

	stub.setErr(nil)
	reply, err = s.Handle(ctx, event)
	require.NoError(t, err)
	assert.NotEmpty(t, decodeSteer(t, reply).MpcX)

	_, oks := sink.published()
	assert.Equal(t, []bool{true, false, true}, oks)
	st := s.Status()
	assert.Equal(t, uint64(1), st.Fallbacks)
	assert.Equal(t, uint64(3), st.Diagnostics.Cycles)
}

func TestSessionDelayHonoursContext(t *testing.T) {
	t.Parallel()

	cfg := testServerConfig(FallbackHold)
	cfg.ActuationDelay = time.Hour
	s := newTestSession(t, cfg, &stubSolver{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	reply, err := s.Handle(ctx, telemetryEvent(t, telemetryPayload(t, 0, 5, 6)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, reply)
}

func TestNewSessionInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testServerConfig(FallbackHold)
	cfg.Control.Horizon = 0
	_, err := NewSession(cfg, &stubSolver{}, nil, testLogger())
	assert.ErrorIs(t, err, control.ErrInvalidConfig)
}
