package main

import (
	"context"
	"fmt"
	"sync"

	control "mpc-path-follow/closed_loop/path_control"
	"mpc-path-follow/utils"
)

// CommandSink receives every command sent to the vehicle. ok is false for
// fallback commands.
type CommandSink interface {
	Publish(ctx context.Context, cmd control.Command, ok bool) error
	Close() error
}

type nopSink struct{}

func (nopSink) Publish(context.Context, control.Command, bool) error { return nil }
func (nopSink) Close() error                                         { return nil }

// CANSink mirrors commands onto a CAN bus.
type CANSink struct {
	cmap   *utils.CANMap
	fd     *utils.FrameDef
	writer utils.CANWriter

	mu      sync.Mutex
	counter uint64
}

// Frame signals
const (
	sigSteer    = "steer_cmd_norm"
	sigThrottle = "throttle_cmd"
	sigSolveOK  = "solve_ok"
	sigCounter  = "cycle_counter"
)

func NewCANSink(cmap *utils.CANMap, frameName string, writer utils.CANWriter) (*CANSink, error) {
	fd, err := cmap.FrameByName(frameName)
	if err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	for _, name := range []string{sigSteer, sigThrottle, sigSolveOK, sigCounter} {
		if _, ok := fd.Signal(name); !ok {
			return nil, fmt.Errorf("frame %s lacks signal %s", fd.Name, name)
		}
	}
	return &CANSink{cmap: cmap, fd: fd, writer: writer}, nil
}

func (s *CANSink) Publish(ctx context.Context, cmd control.Command, ok bool) error {
	s.mu.Lock()
	counter := s.counter
	s.counter++
	s.mu.Unlock()

	if cs, _ := s.fd.Signal(sigCounter); cs.BitLength < 64 {
		counter &= (uint64(1) << cs.BitLength) - 1
	}
	values := map[string]float64{
		sigSteer:    cmd.Steering,
		sigThrottle: cmd.Throttle,
		sigSolveOK:  boolToFloat(ok),
		sigCounter:  float64(counter),
	}
	frame, err := s.cmap.EncodeFrame(s.fd.Name, values)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.fd.Name, err)
	}
	if err := s.writer.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("transmit %s: %w", s.fd.Name, err)
	}
	return nil
}

func (s *CANSink) Close() error { return s.writer.Close() }

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
