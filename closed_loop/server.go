package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	control "mpc-path-follow/closed_loop/path_control"
	"mpc-path-follow/nlp"
	"mpc-path-follow/utils"
)

type ServerConfig struct {
	Addr    string
	Control control.Config

	Fallback FallbackPolicy
	PID      SpeedPIDConfig

	// ActuationDelay is slept before every reply to mimic real actuators.
	ActuationDelay time.Duration
	ReadLimit      int64
}

// Server accepts simulator connections and runs one control session per
// websocket.
type Server struct {
	cfg       ServerConfig
	log       *utils.Logger
	sink      CommandSink
	newSolver func() nlp.Solver

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewServer(cfg ServerConfig, sink CommandSink, log *utils.Logger) (*Server, error) {
	if err := cfg.Control.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = nopSink{}
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	return &Server{
		cfg:       cfg,
		log:       log,
		sink:      sink,
		newSolver: func() nlp.Solver { return nlp.AugmentedLagrangian{} },
		sessions:  map[uuid.UUID]*Session{},
	}, nil
}

// Router returns the HTTP handler of the server: websocket upgrades on any
// path, a hello page on / and session status on /sessions.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.MatcherFunc(isWebSocketUpgrade).HandlerFunc(s.serveWebSocket)
	router.HandleFunc("/", s.hello).Methods(http.MethodGet)
	router.HandleFunc("/sessions", s.sessionStatus).Methods(http.MethodGet)
	router.HandleFunc("/-/healthz", s.healthz).Methods(http.MethodGet)

	var h http.Handler = router
	h = handlers.LoggingHandler(s.log.Writer(utils.DEBUG), h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLog{s.log}), handlers.PrintRecoveryStack(true))(h)
	return h
}

// ListenAndServe serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("Listening on %s", s.cfg.Addr)

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func isWebSocketUpgrade(r *http.Request, _ *mux.RouteMatch) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (s *Server) hello(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<h1>Hello world!</h1>"))
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	type health struct {
		Status string `json:"status"`
	}
	writeJSON(w, health{Status: "Ok"})
}

func (s *Server) sessionStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]SessionStatus, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Status())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	writeJSON(w, out)
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn("websocket accept from %s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	sess, err := NewSession(s.cfg, s.newSolver(), s.sink, s.log)
	if err != nil {
		s.log.Error("new session: %v", err)
		_ = conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	sess.remote = r.RemoteAddr

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
	}()

	s.log.Info("Connected: session=%s remote=%s", sess.ID, r.RemoteAddr)
	err = sess.Serve(r.Context(), conn)
	diag := sess.Status().Diagnostics
	s.log.Info("Disconnected: session=%s cycles=%d failures=%d malformed=%d err=%v",
		sess.ID, diag.Cycles, diag.SolveFailures, diag.Malformed, err)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// recoveryLog adapts the logger to handlers.RecoveryHandlerLogger.
type recoveryLog struct {
	l *utils.Logger
}

func (r recoveryLog) Println(v ...any) {
	r.l.Error("%s", strings.TrimSpace(fmt.Sprintln(v...)))
}
