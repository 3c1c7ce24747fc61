package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	control "mpc-path-follow/closed_loop/path_control"
	"mpc-path-follow/nlp"
	"mpc-path-follow/utils"
)

// maxFallbackDt caps the time step handed to the speed PID after long gaps.
const maxFallbackDt = 0.5

// SessionStatus is the externally visible state of a session.
type SessionStatus struct {
	ID          uuid.UUID               `json:"id"`
	Remote      string                  `json:"remote"`
	Started     time.Time               `json:"started"`
	Fallbacks   uint64                  `json:"fallbacks"`
	Diagnostics control.LoopDiagnostics `json:"diagnostics"`
}

// Session runs the control loop for one simulator connection. Messages are
// handled one at a time in arrival order.
type Session struct {
	ID uuid.UUID

	loop     *control.Loop
	fallback *Fallback
	sink     CommandSink
	delay    time.Duration
	log      *utils.Logger

	remote  string
	started time.Time
	lastAt  time.Time

	mu        sync.Mutex
	diag      control.LoopDiagnostics
	undecoded uint64 // telemetry payloads that never reached the loop
	fallbacks uint64
}

func NewSession(cfg ServerConfig, solver nlp.Solver, sink CommandSink, log *utils.Logger) (*Session, error) {
	loop, err := control.NewLoop(cfg.Control, solver, log)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Session{
		ID:       uuid.New(),
		loop:     loop,
		fallback: NewFallback(cfg.Fallback, cfg.Control, cfg.PID),
		sink:     sink,
		delay:    cfg.ActuationDelay,
		log:      log,
		started:  time.Now(),
	}, nil
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	diag := s.diag
	diag.Malformed += s.undecoded
	return SessionStatus{
		ID:          s.ID,
		Remote:      s.remote,
		Started:     s.started,
		Fallbacks:   s.fallbacks,
		Diagnostics: diag,
	}
}

// Serve reads messages from conn until it closes or ctx ends.
func (s *Session) Serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.CloseNow()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		reply, err := s.Handle(ctx, data)
		if err != nil {
			return err
		}
		if reply == nil {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
}

// Handle processes one websocket message and returns the reply to send, or
// nil when the message gets no reply. A failed cycle is answered with the
// fallback command; only context and delivery errors end the session.
func (s *Session) Handle(ctx context.Context, data []byte) ([]byte, error) {
	ev, err := utils.ParseSocketIO(data)
	if errors.Is(err, utils.ErrNotEvent) {
		return nil, nil
	}
	if err != nil {
		s.log.Warn("session %s: %v", s.ID, err)
		return nil, nil
	}
	if ev.Manual() {
		return utils.ManualReply(), nil
	}
	if ev.Name != eventTelemetry {
		s.log.Trace("session %s: ignoring event %q", s.ID, ev.Name)
		return nil, nil
	}

	now := time.Now()
	dt := maxFallbackDt
	if !s.lastAt.IsZero() {
		dt = min(now.Sub(s.lastAt).Seconds(), maxFallbackDt)
	}
	s.lastAt = now

	t, err := decodeTelemetry(ev.Payload)
	if err != nil {
		s.recordMalformed()
		s.log.Warn("session %s: %v", s.ID, err)
		return nil, nil
	}

	cmd, err := s.loop.Step(ctx, t)
	ok := err == nil
	switch {
	case ok:
		s.fallback.Remember(cmd)
	case errors.Is(err, control.ErrMalformedTelemetry):
		s.syncDiagnostics(false)
		s.log.Warn("session %s: %v", s.ID, err)
		return nil, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		cmd = s.fallback.Command(t.Speed, dt)
		logf := s.log.Warn
		if !errors.Is(err, control.ErrDegenerateFit) && !errors.Is(err, control.ErrSolveFailed) {
			logf = s.log.Error
		}
		logf("session %s: %v; sending %s fallback steer=%.3f throttle=%.3f",
			s.ID, err, s.fallback.Policy(), cmd.Steering, cmd.Throttle)
		if d, ok := s.fallback.PIDDiagnostics(); ok {
			s.log.Debug("session %s: speed pid error=%.3f integral=%.3f p=%.4f i=%.4f",
				s.ID, d.Error, d.Integral, d.P, d.I)
		}
	}
	s.syncDiagnostics(!ok)

	if err := s.sink.Publish(ctx, cmd, ok); err != nil {
		s.log.Error("session %s: sink: %v", s.ID, err)
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return utils.FormatSocketIO(eventSteer, newSteerMessage(cmd))
}

func (s *Session) recordMalformed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undecoded++
}

func (s *Session) syncDiagnostics(fellBack bool) {
	d := s.loop.GetDiagnostics()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diag = d
	if fellBack {
		s.fallbacks++
	}
}
