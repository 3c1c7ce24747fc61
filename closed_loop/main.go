package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"

	control "mpc-path-follow/closed_loop/path_control"
	"mpc-path-follow/utils"
)

// options collects everything the command line can set.
type options struct {
	control control.Config
	pid     SpeedPIDConfig

	listen   string
	delay    time.Duration
	fallback string

	scenario string
	plot     string

	canIface string
	canMap   string
	canFrame string

	logLevel string
	logFile  string
}

func parseOptions(args []string) (options, error) {
	fs := flag.NewFlagSet("closed_loop", flag.ContinueOnError)
	o := options{control: control.DefaultConfig(), pid: DefaultSpeedPIDConfig()}
	c := &o.control

	fs.IntVar(&c.Horizon, "horizon", c.Horizon, "number of timesteps in the horizon")
	fs.Float64Var(&c.TimeStep, "dt", c.TimeStep, "timestep length (s)")
	fs.Float64Var(&c.Lf, "lf", c.Lf, "distance from centre of gravity to front axle (m)")
	fs.Float64Var(&c.RefSpeed, "ref-speed", c.RefSpeed, "reference speed")
	fs.Float64Var(&c.Latency, "latency", c.Latency, "actuation latency compensated before solving (s)")
	fs.Float64Var(&c.SteerLimit, "steer-limit", c.SteerLimit, "steering limit (rad)")
	fs.Float64Var(&c.ThrottleLimit, "throttle-limit", c.ThrottleLimit, "throttle limit")
	fs.DurationVar(&c.SolveBudget, "solve-budget", c.SolveBudget, "wall-clock budget of one solve")

	w := &c.Weights
	fs.Float64Var(&w.Cte, "w-cte", w.Cte, "cross-track error weight")
	fs.Float64Var(&w.Epsi, "w-epsi", w.Epsi, "heading error weight")
	fs.Float64Var(&w.Speed, "w-speed", w.Speed, "speed error weight")
	fs.Float64Var(&w.Steer, "w-steer", w.Steer, "steering magnitude weight")
	fs.Float64Var(&w.Throttle, "w-throttle", w.Throttle, "throttle magnitude weight")
	fs.Float64Var(&w.SteerRate, "w-steer-rate", w.SteerRate, "steering change weight")
	fs.Float64Var(&w.ThrottleRate, "w-throttle-rate", w.ThrottleRate, "throttle change weight")

	fs.Float64Var(&o.pid.Kp, "pid-kp", o.pid.Kp, "fallback speed PID proportional gain")
	fs.Float64Var(&o.pid.Ki, "pid-ki", o.pid.Ki, "fallback speed PID integral gain")
	fs.Float64Var(&o.pid.Kd, "pid-kd", o.pid.Kd, "fallback speed PID derivative gain")

	fs.StringVar(&o.listen, "listen", ":4567", "simulator websocket listen address")
	fs.DurationVar(&o.delay, "actuation-delay", 100*time.Millisecond, "delay before each reply to the simulator")
	fs.StringVar(&o.fallback, "fallback", string(FallbackHold), "command on a failed cycle: hold|zero|pid")

	fs.StringVar(&o.scenario, "scenario", "", "run this scenario JSON offline instead of serving the simulator")
	fs.StringVar(&o.plot, "plot", "", "PNG written after an offline run")

	fs.StringVar(&o.canIface, "can-iface", "", "SocketCAN interface to mirror commands on (empty: off, mem: in-memory)")
	fs.StringVar(&o.canMap, "can-map", "config/can/can_map.csv", "path to can_map.csv")
	fs.StringVar(&o.canFrame, "can-frame", "MPC_CMD_1", "frame name to transmit")

	fs.StringVar(&o.logLevel, "log", "info", "trace|debug|info|warn|error|critical")
	fs.StringVar(&o.logFile, "log-file", "closed_loop.log", "log file (empty: stdout only)")
	_ = fs.String("config", "", "config file (flag value pairs, one per line)")

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("MPC"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	if err != nil {
		return options{}, err
	}
	if err := o.control.Validate(); err != nil {
		return options{}, err
	}
	return o, nil
}

func main() {
	o, err := parseOptions(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: " + err.Error() + "\n")
		os.Exit(2)
	}

	level := utils.ParseLevel(o.logLevel)
	var log *utils.Logger
	if o.logFile == "" {
		log = utils.NewLogger(os.Stdout, level)
	} else if log, err = utils.NewFileLogger(o.logFile, level, true); err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + o.logFile + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, log *utils.Logger) error {
	policy, err := ParseFallbackPolicy(o.fallback)
	if err != nil {
		return err
	}
	sink, err := openSink(ctx, o)
	if err != nil {
		return err
	}

	if o.scenario != "" {
		runner, err := NewRunner(RunnerConfig{
			ScenarioPath: o.scenario,
			Control:      o.control,
			Fallback:     policy,
			PID:          o.pid,
			PlotPath:     o.plot,
			Sink:         sink,
		}, log)
		if err != nil {
			_ = sink.Close()
			return fmt.Errorf("startup: %w", err)
		}
		defer runner.Close()
		_, err = runner.Run(ctx)
		return err
	}

	defer sink.Close()
	srv, err := NewServer(ServerConfig{
		Addr:           o.listen,
		Control:        o.control,
		Fallback:       policy,
		PID:            o.pid,
		ActuationDelay: o.delay,
	}, sink, log)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	return srv.ListenAndServe(ctx)
}

func openSink(ctx context.Context, o options) (CommandSink, error) {
	if o.canIface == "" {
		return nopSink{}, nil
	}
	cmap, err := utils.LoadCANMap(o.canMap)
	if err != nil {
		return nil, fmt.Errorf("load can map: %w", err)
	}

	var writer utils.CANWriter
	if o.canIface == "mem" {
		writer = &utils.MemoryCANWriter{}
	} else if writer, err = utils.NewSocketCANWriter(ctx, o.canIface); err != nil {
		return nil, err
	}

	sink, err := NewCANSink(cmap, o.canFrame, writer)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	return sink, nil
}
