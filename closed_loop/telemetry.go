package main

import (
	"encoding/json"
	"fmt"

	control "mpc-path-follow/closed_loop/path_control"
)

const (
	eventTelemetry = "telemetry"
	eventSteer     = "steer"
)

// telemetryMessage mirrors the simulator payload. Pointers tell a missing
// field from a zero one.
type telemetryMessage struct {
	PtsX          *[]float64 `json:"ptsx"`
	PtsY          *[]float64 `json:"ptsy"`
	X             *float64   `json:"x"`
	Y             *float64   `json:"y"`
	Psi           *float64   `json:"psi"`
	Speed         *float64   `json:"speed"`
	SteeringAngle *float64   `json:"steering_angle"`
	Throttle      *float64   `json:"throttle"`
}

// decodeTelemetry parses a telemetry payload. Every field is required.
func decodeTelemetry(payload json.RawMessage) (control.Telemetry, error) {
	var m telemetryMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return control.Telemetry{}, fmt.Errorf("%w: %v", control.ErrMalformedTelemetry, err)
	}

	missing := func(name string) error {
		return fmt.Errorf("%w: missing field %q", control.ErrMalformedTelemetry, name)
	}
	switch {
	case m.PtsX == nil:
		return control.Telemetry{}, missing("ptsx")
	case m.PtsY == nil:
		return control.Telemetry{}, missing("ptsy")
	case m.X == nil:
		return control.Telemetry{}, missing("x")
	case m.Y == nil:
		return control.Telemetry{}, missing("y")
	case m.Psi == nil:
		return control.Telemetry{}, missing("psi")
	case m.Speed == nil:
		return control.Telemetry{}, missing("speed")
	case m.SteeringAngle == nil:
		return control.Telemetry{}, missing("steering_angle")
	case m.Throttle == nil:
		return control.Telemetry{}, missing("throttle")
	}

	return control.Telemetry{
		PtsX:          *m.PtsX,
		PtsY:          *m.PtsY,
		X:             *m.X,
		Y:             *m.Y,
		Psi:           *m.Psi,
		Speed:         *m.Speed,
		SteeringAngle: *m.SteeringAngle,
		Throttle:      *m.Throttle,
	}, nil
}

// steerMessage is the reply sent back to the simulator.
type steerMessage struct {
	SteeringAngle float64   `json:"steering_angle"`
	Throttle      float64   `json:"throttle"`
	MpcX          []float64 `json:"mpc_x"`
	MpcY          []float64 `json:"mpc_y"`
	NextX         []float64 `json:"next_x"`
	NextY         []float64 `json:"next_y"`
}

func newSteerMessage(cmd control.Command) steerMessage {
	return steerMessage{
		SteeringAngle: cmd.Steering,
		Throttle:      cmd.Throttle,
		MpcX:          nonNil(cmd.PredictedX),
		MpcY:          nonNil(cmd.PredictedY),
		NextX:         nonNil(cmd.ReferenceX),
		NextY:         nonNil(cmd.ReferenceY),
	}
}

// nonNil keeps empty sequences as [] rather than null on the wire.
func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
