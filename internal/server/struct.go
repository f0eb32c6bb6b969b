package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragcore/engine/internal/search"
	"github.com/ragcore/engine/internal/streaming"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
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
	// ChatTimeout is a per-turn limit for /api/chat. New and handleChat do
	// not read it.
	ChatTimeout time.Duration
	// MetricsRegistry is a registry for server metrics. New does not read it
	// and registers no metrics.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is a gatherer for a metrics endpoint. New does not read
	// it, and the mux has no GET /metrics route.
	MetricsGatherer prometheus.Gatherer
}

// querier is the interface handleChat calls to run one retrieval+generation
// turn. *orchestrator.Orchestrator satisfies it; tests inject a fake.
type querier interface {
	// Query streams the response for userMessage under sessionKey, applying
	// constraint to the retrieval step.
	Query(ctx context.Context, sessionKey, userMessage string, constraint search.Constraint) (<-chan streaming.StreamChunk, error)
}

// Server is the HTTP server that wraps the retrieval+generation orchestrator.
type Server struct {
	// querier runs each chat turn; set to an *orchestrator.Orchestrator in
	// production, overridden by a fake in tests.
	querier querier
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus metrics owned by this server instance.
	metrics *serverMetrics
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's natural language query.
	Message string `json:"message"`
	// SessionID scopes conversation history. Clients should generate one
	// per conversation thread and reuse it across turns.
	SessionID string `json:"sessionId"`
	// DocVersion, SourceKind, DocType and SourceName optionally constrain
	// retrieval to a specific documentation slice (search.Constraint).
	DocVersion string `json:"docVersion,omitempty"`
	SourceKind string `json:"sourceKind,omitempty"`
	DocType    string `json:"docType,omitempty"`
	SourceName string `json:"sourceName,omitempty"`
}
