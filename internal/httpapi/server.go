// Package httpapi wires the §6 RPC surface onto net/http: the streaming
// POST /chat endpoint plus the one-shot control-plane calls (abort,
// approve, approval-mode, run-config, thinking, undo, actions). It is a
// thin transport skin: every decision of substance (guarding, journaling,
// streaming) already lives in chatloop/guard/undo/journal, this package
// only decodes requests, dispatches, and maps errors onto HTTP status
// codes and the §7 error-code taxonomy.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/relaycore/chatengine/internal/chatloop"
	"github.com/relaycore/chatengine/internal/config"
	"github.com/relaycore/chatengine/internal/guard"
	"github.com/relaycore/chatengine/internal/journal"
	"github.com/relaycore/chatengine/internal/metrics"
	"github.com/relaycore/chatengine/internal/runsupervisor"
	"github.com/relaycore/chatengine/internal/undo"
)

// Config bundles every dependency the RPC surface dispatches into. Loops is
// keyed by agent id; DefaultAgent names the entry POST /chat and the
// process-wide control endpoints (run-config, thinking) fall back to when
// the request names no agent — the control endpoints have no agentId
// parameter in §6, so they operate on a single process-wide runtime
// configuration the way spec.md's design notes describe it, even though
// this build supports routing /chat itself across several agents.
type Config struct {
	Loops        map[string]*chatloop.Loop
	DefaultAgent string

	Supervisor *runsupervisor.Supervisor
	Approval   *guard.ApprovalGate
	SpendGuard *guard.SpendGuard
	Undo       *undo.Service
	Journal    journal.Journal

	OperationMode func() config.OperationMode

	// Metrics, if set, is mounted at /metrics and used to refresh the
	// journal-size gauge on reads. Left nil in tests that don't care.
	Metrics *metrics.Registry

	Logger *slog.Logger
}

// Server serves the chat engine's HTTP control surface.
type Server struct {
	cfg    Config
	logger *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// New constructs a Server from cfg. Panics on a missing DefaultAgent entry,
// since every handler assumes it resolves.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if _, ok := cfg.Loops[cfg.DefaultAgent]; !ok {
		panic(fmt.Sprintf("httpapi: default agent %q has no registered loop", cfg.DefaultAgent))
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

func (s *Server) loop(agentID string) (*chatloop.Loop, bool) {
	if agentID == "" {
		agentID = s.cfg.DefaultAgent
	}
	l, ok := s.cfg.Loops[agentID]
	return l, ok
}

func (s *Server) primary() *chatloop.Loop {
	return s.cfg.Loops[s.cfg.DefaultAgent]
}

// Mux builds the request router. Exposed separately from Start so tests can
// exercise handlers with httptest without binding a socket.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/abort", s.handleAbort)
	mux.HandleFunc("POST /chat/approve", s.handleApprove)
	mux.HandleFunc("GET /chat/approval-mode", s.handleGetApprovalMode)
	mux.HandleFunc("POST /chat/approval-mode", s.handleSetApprovalMode)
	mux.HandleFunc("GET /chat/run-config", s.handleGetRunConfig)
	mux.HandleFunc("POST /chat/run-config", s.handleSetRunConfig)
	mux.HandleFunc("GET /chat/thinking", s.handleGetThinking)
	mux.HandleFunc("POST /chat/thinking", s.handleSetThinking)
	mux.HandleFunc("POST /chat/undo", s.handleUndo)
	mux.HandleFunc("GET /chat/actions", s.handleActions)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	if s.cfg.Metrics != nil {
		mux.Handle("/metrics", s.cfg.Metrics.Handler())
	}

	return mux
}

// Start binds addr and serves in the background, matching the teacher's
// listen-then-goroutine-Serve shape so callers can observe a bind failure
// synchronously instead of only finding out from a background log line.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", addr, err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("httpapi: listening", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down, defaulting to a 5s timeout when
// ctx is nil; a non-nil ctx is used as given.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("httpapi: shutdown error", "error", err)
	}
	s.httpServer = nil
	s.listener = nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	mode := config.ModeNormal
	if s.cfg.OperationMode != nil {
		mode = s.cfg.OperationMode()
	}
	if mode != config.ModeNormal {
		status = string(mode)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"operationMode": mode,
		"activeRuns":    s.cfg.Supervisor.ActiveCount(),
	})
}
