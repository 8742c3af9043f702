package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edupolicy/policychat-go/internal/conversation"
	"github.com/edupolicy/policychat-go/internal/rag"
	"github.com/edupolicy/policychat-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Must be
	// long enough to cover a full agent turn (model + retrieval round trips).
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives all Prometheus metrics and backs GET /metrics.
	// If nil a private registry is created; tests inject their own.
	Registry *prometheus.Registry
	// HistoryDepth is the number of persisted messages replayed into the
	// model context per question. Defaults to 20 if zero.
	HistoryDepth int
}

// Server exposes the conversation machine over a JSON HTTP API.
type Server struct {
	// runner answers questions; *agent.Agent in production, fakes in tests.
	runner conversation.Runner
	// history is the optional persistent history store shared by all sessions.
	history store.HistoryStore
	// sessions maps session IDs to their live state machines.
	sessions *sessionRegistry
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds all Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// stopSessions stops the session registry's eviction goroutine on shutdown.
	stopSessions func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// SessionID continues an existing session; empty starts a new one.
	SessionID string `json:"sessionId,omitempty"`
	// Message is the user's question.
	Message string `json:"message"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	SessionID string         `json:"sessionId"`
	Answer    string         `json:"answer"`
	Citations []rag.Document `json:"citations"`
	State     string         `json:"state"`
}

// feedbackRequest is the JSON body for POST /api/feedback.
type feedbackRequest struct {
	SessionID string `json:"sessionId"`
	// Rating is the 1-5 score; 0 records the default rating.
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// feedbackResponse is the JSON response for POST /api/feedback.
type feedbackResponse struct {
	SessionID string `json:"sessionId"`
	Rating    int    `json:"rating"`
	State     string `json:"state"`
}

// resetRequest is the JSON body for POST /api/reset.
type resetRequest struct {
	SessionID string `json:"sessionId"`
}

// resetResponse is the JSON response for POST /api/reset. The session ID
// rotates on reset; clients must adopt the new one.
type resetResponse struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	SessionID string              `json:"sessionId"`
	Turns     []conversation.Turn `json:"turns"`
	Feedback  []store.Feedback    `json:"feedback,omitempty"`
}
