package main

import (
	"fmt"
	"strings"

	control "mpc-path-follow/closed_loop/path_control"
)

// FallbackPolicy decides what is sent when a cycle produces no command.
type FallbackPolicy string

const (
	FallbackHold FallbackPolicy = "hold" // repeat the previous command
	FallbackZero FallbackPolicy = "zero" // zero steering and throttle
	FallbackPID  FallbackPolicy = "pid"  // hold steering, throttle from a speed PID
)

func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch p := FallbackPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case FallbackHold, FallbackZero, FallbackPID:
		return p, nil
	case "":
		return FallbackHold, nil
	default:
		return "", fmt.Errorf("unknown fallback policy %q (hold|zero|pid)", s)
	}
}

// SpeedPIDConfig holds the speed governor gains.
type SpeedPIDConfig struct {
	Kp            float64 `json:"kp"`
	Ki            float64 `json:"ki"`
	Kd            float64 `json:"kd"`
	IntegralLimit float64 `json:"integral_limit"`
}

func DefaultSpeedPIDConfig() SpeedPIDConfig {
	return SpeedPIDConfig{Kp: 0.1, Ki: 0.02, Kd: 0, IntegralLimit: 25}
}

// speedPID is a discrete PID on speed error with a symmetric throttle limit.
type speedPID struct {
	cfg    SpeedPIDConfig
	target float64
	limit  float64

	integral    float64
	prevError   float64
	initialized bool
}

func newSpeedPID(cfg SpeedPIDConfig, target, limit float64) *speedPID {
	return &speedPID{cfg: cfg, target: target, limit: limit}
}

func (pid *speedPID) Reset() {
	pid.integral = 0
	pid.prevError = 0
	pid.initialized = false
}

// Update returns the throttle for the measured speed.
func (pid *speedPID) Update(speed, dt float64) float64 {
	err := pid.target - speed
	if !pid.initialized {
		pid.prevError = err
		pid.initialized = true
	}

	p := pid.cfg.Kp * err

	pid.integral += err * dt
	pid.integral = max(-pid.cfg.IntegralLimit, min(pid.cfg.IntegralLimit, pid.integral))
	i := pid.cfg.Ki * pid.integral

	var d float64
	if dt > 0 {
		d = pid.cfg.Kd * (err - pid.prevError) / dt
	}
	pid.prevError = err

	out := p + i + d
	if out > pid.limit || out < -pid.limit {
		out = max(-pid.limit, min(pid.limit, out))
		// back-calculate so the integral does not wind up while saturated
		if pid.cfg.Ki != 0 {
			pid.integral = (out - p - d) / pid.cfg.Ki
			pid.integral = max(-pid.cfg.IntegralLimit, min(pid.cfg.IntegralLimit, pid.integral))
		}
	}
	return out
}

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Error    float64
	Integral float64
	P        float64
	I        float64
}

func (pid *speedPID) GetDiagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Error:    pid.prevError,
		Integral: pid.integral,
		P:        pid.cfg.Kp * pid.prevError,
		I:        pid.cfg.Ki * pid.integral,
	}
}

// Fallback remembers the last good command and produces a substitute when a
// cycle fails.
type Fallback struct {
	policy FallbackPolicy
	pid    *speedPID

	last control.Command
}

func NewFallback(policy FallbackPolicy, cfg control.Config, pidCfg SpeedPIDConfig) *Fallback {
	return &Fallback{
		policy: policy,
		pid:    newSpeedPID(pidCfg, cfg.RefSpeed, cfg.ThrottleLimit),
	}
}

func (f *Fallback) Policy() FallbackPolicy { return f.policy }

// PIDDiagnostics returns the speed PID state when the policy is pid.
func (f *Fallback) PIDDiagnostics() (PIDDiagnostics, bool) {
	if f.policy != FallbackPID {
		return PIDDiagnostics{}, false
	}
	return f.pid.GetDiagnostics(), true
}

// Remember records a successful command.
func (f *Fallback) Remember(cmd control.Command) {
	f.last = control.Command{Steering: cmd.Steering, Throttle: cmd.Throttle}
	f.pid.Reset()
}

// Command returns the substitute command for a failed cycle. Before any
// success, hold sends zeros.
func (f *Fallback) Command(speed, dt float64) control.Command {
	switch f.policy {
	case FallbackZero:
		return control.Command{}
	case FallbackPID:
		return control.Command{Steering: f.last.Steering, Throttle: f.pid.Update(speed, dt)}
	default:
		return f.last
	}
}
