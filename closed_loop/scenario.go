package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	control "mpc-path-follow/closed_loop/path_control"
)

// Scenario defines an offline closed-loop run against a simulated vehicle.
type Scenario struct {
	Meta    ScenarioMeta   `json:"meta"`
	Timing  ScenarioTiming `json:"timing"`
	Track   TrackSpec      `json:"track"`
	Initial InitialState   `json:"initial"`

	// MPCConfig overrides fields of the controller configuration.
	MPCConfig json.RawMessage `json:"mpc_config,omitempty"`
	Fallback  string          `json:"fallback,omitempty"`
}

// ScenarioMeta contains scenario metadata
type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// ScenarioTiming defines timing parameters
type ScenarioTiming struct {
	DtS          float64 `json:"dt_s"`       // control period
	DurationS    float64 `json:"duration_s"` // simulated time
	SimStepS     float64 `json:"sim_step_s"` // integration step of the vehicle
	LogHz        float64 `json:"log_hz"`
	RealTimeMode bool    `json:"real_time_mode"`

	// ActuationLatencyS is the delay of the simulated actuators. Unset means
	// the latency the controller compensates for.
	ActuationLatencyS *float64 `json:"actuation_latency_s,omitempty"`
}

// TrackSpec holds either explicit waypoints or a generated shape.
type TrackSpec struct {
	Waypoints []control.Point `json:"waypoints,omitempty"`
	Shape     string          `json:"shape,omitempty"` // line | circle | sine
	Length    float64         `json:"length,omitempty"`
	Radius    float64         `json:"radius,omitempty"`
	Amplitude float64         `json:"amplitude,omitempty"`
	Period    float64         `json:"period,omitempty"`
	Spacing   float64         `json:"spacing,omitempty"`
	Closed    bool            `json:"closed,omitempty"`
	Lookahead int             `json:"lookahead,omitempty"` // waypoints per telemetry message
}

type InitialState struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Psi   float64 `json:"psi"`
	Speed float64 `json:"speed"`
}

const (
	defaultSpacing   = 5.0
	defaultLookahead = 6
)

// LoadScenario loads a scenario from JSON file
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (Scenario, error) {
	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}

	if scen.Timing.DurationS <= 0 {
		return Scenario{}, fmt.Errorf("invalid duration_s: %f", scen.Timing.DurationS)
	}
	if scen.Timing.DtS <= 0 {
		return Scenario{}, fmt.Errorf("invalid dt_s: %f", scen.Timing.DtS)
	}
	if scen.Timing.SimStepS <= 0 || scen.Timing.SimStepS > scen.Timing.DtS {
		scen.Timing.SimStepS = min(0.01, scen.Timing.DtS)
	}
	if scen.Track.Spacing <= 0 {
		scen.Track.Spacing = defaultSpacing
	}
	if scen.Track.Lookahead <= 0 {
		scen.Track.Lookahead = defaultLookahead
	}
	if scen.Track.Lookahead < control.ReferenceDegree+1 {
		return Scenario{}, fmt.Errorf("lookahead %d is below the %d points a fit needs",
			scen.Track.Lookahead, control.ReferenceDegree+1)
	}
	if _, err := ParseFallbackPolicy(scen.Fallback); err != nil {
		return Scenario{}, err
	}
	if _, err := scen.Track.Build(); err != nil {
		return Scenario{}, err
	}
	return scen, nil
}

// ControlConfig applies the scenario overrides to base.
func (s *Scenario) ControlConfig(base control.Config) (control.Config, error) {
	cfg := base
	if len(s.MPCConfig) > 0 {
		if err := json.Unmarshal(s.MPCConfig, &cfg); err != nil {
			return control.Config{}, fmt.Errorf("mpc_config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return control.Config{}, fmt.Errorf("mpc_config: %w", err)
	}
	return cfg, nil
}

// Build generates the waypoints of t. A non-positive spacing means the
// default spacing.
func (t TrackSpec) Build() (*Track, error) {
	if t.Spacing <= 0 {
		t.Spacing = defaultSpacing
	}
	var pts []control.Point
	switch {
	case len(t.Waypoints) > 0:
		pts = append(pts, t.Waypoints...)
	case t.Shape == "line":
		if t.Length <= 0 {
			return nil, fmt.Errorf("line track needs a positive length")
		}
		for x := 0.0; x <= t.Length; x += t.Spacing {
			pts = append(pts, control.Point{X: x})
		}
	case t.Shape == "sine":
		if t.Length <= 0 || t.Period <= 0 {
			return nil, fmt.Errorf("sine track needs a positive length and period")
		}
		for x := 0.0; x <= t.Length; x += t.Spacing {
			pts = append(pts, control.Point{X: x, Y: t.Amplitude * math.Sin(2*math.Pi*x/t.Period)})
		}
	case t.Shape == "circle":
		if t.Radius <= 0 {
			return nil, fmt.Errorf("circle track needs a positive radius")
		}
		// counter-clockwise from the origin, centred on (0, R)
		n := max(int(math.Ceil(2*math.Pi*t.Radius/t.Spacing)), 8)
		for i := range n {
			a := 2 * math.Pi * float64(i) / float64(n)
			pts = append(pts, control.Point{X: t.Radius * math.Sin(a), Y: t.Radius * (1 - math.Cos(a))})
		}
		t.Closed = true
	default:
		return nil, fmt.Errorf("track needs waypoints or a shape (line|circle|sine), got %q", t.Shape)
	}
	return NewTrack(pts, t.Closed)
}
