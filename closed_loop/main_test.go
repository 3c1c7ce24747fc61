package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	control "mpc-path-follow/closed_loop/path_control"
)

func TestParseOptionsDefaults(t *testing.T) {
	o, err := parseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, control.DefaultConfig(), o.control)
	assert.Equal(t, DefaultSpeedPIDConfig(), o.pid)
	assert.Equal(t, ":4567", o.listen)
	assert.Equal(t, 100*time.Millisecond, o.delay)
	assert.Equal(t, "hold", o.fallback)
	assert.Empty(t, o.scenario)
	assert.Empty(t, o.canIface)
	assert.Equal(t, "MPC_CMD_1", o.canFrame)
	assert.Equal(t, "closed_loop.log", o.logFile)
}

func TestParseOptionsFlags(t *testing.T) {
	o, err := parseOptions([]string{
		"-horizon", "12",
		"-dt", "0.1",
		"-w-steer-rate", "500",
		"-solve-budget", "250ms",
		"-pid-kp", "0.3",
		"-fallback", "pid",
		"-scenario", "run.json",
		"-can-iface", "mem",
		"-log-file", "",
	})
	require.NoError(t, err)
	assert.Equal(t, 12, o.control.Horizon)
	assert.Equal(t, 0.1, o.control.TimeStep)
	assert.Equal(t, 500.0, o.control.Weights.SteerRate)
	assert.Equal(t, 1.0, o.control.Weights.Cte, "other weights keep their defaults")
	assert.Equal(t, 250*time.Millisecond, o.control.SolveBudget)
	assert.Equal(t, 0.3, o.pid.Kp)
	assert.Equal(t, "pid", o.fallback)
	assert.Equal(t, "run.json", o.scenario)
	assert.Equal(t, "mem", o.canIface)
	assert.Empty(t, o.logFile)
}

func TestParseOptionsEnvAndConfigFile(t *testing.T) {
	t.Setenv("MPC_REF_SPEED", "35")
	t.Setenv("MPC_LISTEN", ":9001")

	path := filepath.Join(t.TempDir(), "mpc.conf")
	require.NoError(t, os.WriteFile(path, []byte("horizon 15\nlatency 0.2\nlisten :9000\n"), 0o644))

	o, err := parseOptions([]string{"-config", path, "-latency", "0.05"})
	require.NoError(t, err)
	assert.Equal(t, 35.0, o.control.RefSpeed)
	assert.Equal(t, 15, o.control.Horizon)
	assert.Equal(t, 0.05, o.control.Latency, "flags win over the config file")
	assert.Equal(t, ":9001", o.listen, "environment wins over the config file")
}

func TestParseOptionsErrors(t *testing.T) {
	_, err := parseOptions([]string{"-horizon", "2"})
	assert.ErrorIs(t, err, control.ErrInvalidConfig)

	_, err = parseOptions([]string{"-no-such-flag"})
	assert.Error(t, err)

	_, err = parseOptions([]string{"-h"})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestOpenSink(t *testing.T) {
	t.Parallel()

	sink, err := openSink(context.Background(), options{})
	require.NoError(t, err)
	assert.Equal(t, nopSink{}, sink)

	sink, err = openSink(context.Background(), options{canIface: "mem", canMap: "../config/can/can_map.csv", canFrame: "MPC_CMD_1"})
	require.NoError(t, err)
	assert.IsType(t, &CANSink{}, sink)
	assert.NoError(t, sink.Publish(context.Background(), control.Command{Steering: 0.5}, true))
	assert.NoError(t, sink.Close())

	_, err = openSink(context.Background(), options{canIface: "mem", canMap: "../config/can/can_map.csv", canFrame: "NOPE"})
	assert.ErrorContains(t, err, "unknown frame")

	_, err = openSink(context.Background(), options{canIface: "mem", canMap: "missing.csv"})
	assert.ErrorContains(t, err, "load can map")
}

func TestRunScenario(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scenario := filepath.Join(dir, "short.json")
	require.NoError(t, os.WriteFile(scenario, []byte(`{
  "meta": {"name": "short"},
  "timing": {"dt_s": 0.1, "duration_s": 0.3},
  "track": {"shape": "line", "length": 100},
  "initial": {"speed": 5},
  "fallback": "zero"
}`), 0o644))

	o := options{
		control:  testControlConfig(),
		pid:      DefaultSpeedPIDConfig(),
		fallback: "hold",
		scenario: scenario,
		canIface: "mem",
		canMap:   "../config/can/can_map.csv",
		canFrame: "MPC_CMD_1",
	}
	require.NoError(t, run(context.Background(), o, testLogger()))

	o.fallback = "coast"
	assert.ErrorContains(t, run(context.Background(), o, testLogger()), "unknown fallback policy")

	o.fallback = "hold"
	o.scenario = filepath.Join(dir, "missing.json")
	assert.ErrorContains(t, run(context.Background(), o, testLogger()), "startup")
}
