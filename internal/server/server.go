// Package server exposes the assistant over a JSON HTTP API: chat, feedback,
// session reset, history replay, health/readiness probes, and Prometheus
// metrics. The server is started by the `policychat serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edupolicy/policychat-go/internal/conversation"
	"github.com/edupolicy/policychat-go/internal/logging"
	"github.com/edupolicy/policychat-go/internal/rag"
	"github.com/edupolicy/policychat-go/internal/store"
)

// New constructs a Server from the provided runner, history store, and config.
// history may be nil; sessions are then in-memory only.
func New(runner conversation.Runner, history store.HistoryStore, cfg *Config) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("server: runner must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// A turn can take several model round trips.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.HistoryDepth == 0 {
		cfg.HistoryDepth = 20
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		runner:  runner,
		history: history,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(registry),
	}
	s.sessions, s.stopSessions = newSessionRegistry(s.buildMachine, func(n int) {
		s.metrics.activeSessions.Set(float64(n))
	})

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		log.Warn("server: POLICYCHAT_API_KEY not set - API authentication disabled")
	}

	mux := http.NewServeMux()
	protect := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(cfg.APIKey, rl.middleware(h)))
	}
	protect("POST /api/chat", s.handleChat)
	protect("POST /api/feedback", s.handleFeedback)
	protect("POST /api/reset", s.handleReset)
	protect("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, s.instrument(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// buildMachine constructs a conversation machine, resuming sessionID when
// one is supplied.
func (s *Server) buildMachine(sessionID string) *conversation.Machine {
	opts := []conversation.Option{conversation.WithHistoryDepth(s.cfg.HistoryDepth)}
	if sessionID != "" {
		opts = append(opts, conversation.WithSessionID(sessionID))
	}
	return conversation.New(s.runner, s.history, opts...)
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	defer s.stopSessions()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("policychat server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat: runs one question through the session's
// machine and returns the grounded answer with its citations.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	machine := s.sessions.get(req.SessionID)

	start := time.Now()
	turn, err := machine.Submit(r.Context(), req.Message)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, conversation.ErrEmptyInput):
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, conversation.ErrInvalidState):
		s.metrics.chatRequestsTotal.WithLabelValues("conflict").Inc()
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		s.metrics.chatDurationSeconds.WithLabelValues("error").Observe(elapsed.Seconds())
		logging.FromContext(r.Context()).Error("chat turn failed", slog.Any("error", err))
		writeJSONError(w, http.StatusBadGateway, "failed to answer the question")
		return
	}

	s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.chatDurationSeconds.WithLabelValues("ok").Observe(elapsed.Seconds())
	s.metrics.retrievalDocuments.Observe(float64(len(turn.Citations)))

	citations := turn.Citations
	if citations == nil {
		citations = []rag.Document{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: machine.SessionID(),
		Answer:    turn.Answer,
		Citations: citations,
		State:     string(machine.State()),
	})
}

// handleFeedback handles POST /api/feedback: records a 1-5 rating for the
// most recent answer in the session.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	machine, ok := s.sessions.lookup(req.SessionID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown session")
		return
	}

	fb, err := machine.SubmitFeedback(r.Context(), req.Rating, req.Comment)
	switch {
	case errors.Is(err, conversation.ErrInvalidState):
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.metrics.feedbackTotal.WithLabelValues(fmt.Sprint(fb.Rating)).Inc()
	writeJSON(w, http.StatusOK, feedbackResponse{
		SessionID: machine.SessionID(),
		Rating:    fb.Rating,
		State:     string(machine.State()),
	})
}

// handleReset handles POST /api/reset: rotates the session to a fresh ID
// with an empty transcript. Rejected while an answer or feedback prompt is
// pending.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	machine, ok := s.sessions.lookup(req.SessionID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown session")
		return
	}

	oldID := machine.SessionID()
	newID, err := machine.Reset()
	if errors.Is(err, conversation.ErrInvalidState) {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sessions.rekey(oldID, newID)

	writeJSON(w, http.StatusOK, resetResponse{
		SessionID: newID,
		State:     string(machine.State()),
	})
}

// handleHistory handles GET /api/history?sessionId=: returns the persisted
// transcript and feedback for the session. Falls back to in-memory turns
// when no history store is configured.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	resp := historyResponse{SessionID: sessionID, Turns: []conversation.Turn{}}

	if s.history != nil {
		turns, err := conversation.ReplayTranscript(r.Context(), s.history, sessionID)
		if err != nil {
			logging.FromContext(r.Context()).Error("history replay failed", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "failed to load history")
			return
		}
		if turns != nil {
			resp.Turns = turns
		}
		if fbs, err := s.history.FeedbackFor(r.Context(), sessionID); err == nil {
			resp.Feedback = fbs
		}
	} else if machine, ok := s.sessions.lookup(sessionID); ok {
		resp.Turns = machine.Turns()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error envelope with the given status.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
