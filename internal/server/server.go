// Package server implements the HTTP server that exposes the retrieval and
// generation engine via a REST/SSE API.
// The server is started by the `ragcore serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/ragcore/engine/internal/logging"
	"github.com/ragcore/engine/internal/search"
	"github.com/ragcore/engine/internal/streaming"
)

// New constructs a Server from the provided querier and config.
// If cfg.Logger is nil, [logging.New] is used.
func New(q querier, cfg *Config) (*Server, error) {
	if q == nil {
		return nil, fmt.Errorf("server: querier must not be nil")
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
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	s := &Server{querier: q, cfg: cfg, log: cfg.Logger, pingers: cfg.Pingers}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	// Resolve ui/static against the process's working directory at startup.
	// The UI is found only when the server is started from the directory
	// that contains ui/static.
	uiDir, err := filepath.Abs("ui/static")
	if err != nil {
		return nil, fmt.Errorf("server: failed to resolve ui/static path: %w", err)
	}
	mux.Handle("/", http.FileServer(http.Dir(uiDir)))

	rps := cfg.RateLimit
	if rps == 0 {
		rps = defaultRateLimit
	}
	burst := cfg.RateBurst
	if burst == 0 {
		burst = defaultRateBurst
	}
	rl, stopRL := newRateLimiter(rps, burst, s.log)
	s.stopRL = stopRL

	var handler http.Handler = mux
	handler = rl.middleware(handler)
	handler = authMiddleware(cfg.APIKey, handler)
	handler = requestLogger(s.log, handler)

	if cfg.APIKey == "" {
		s.log.Warn("server: APIKey not set — /api/* routes are unauthenticated")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if s.stopRL != nil {
			s.stopRL()
		}
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// maxChatBodyBytes is the maximum allowed size for a /api/chat request body.
// Prevents unbounded memory allocation from oversized requests.
const maxChatBodyBytes = 1 << 20 // 1 MiB

// handleChat handles POST /api/chat requests. It streams the response using
// Server-Sent Events (SSE) so the UI can render tokens, failover notices,
// and completion as they arrive.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Restrict CORS to the configured localhost origin only — this server is local-only.
	origin := r.Header.Get("Origin")
	allowedOrigin127 := fmt.Sprintf("http://127.0.0.1:%d", s.cfg.Port)
	allowedOriginLocal := fmt.Sprintf("http://localhost:%d", s.cfg.Port)
	if origin == allowedOrigin127 || origin == allowedOriginLocal || origin == "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	log := logging.FromContext(r.Context()).With(slog.String("session_id", sessionID))
	log.Info("chat start", slog.String("message", req.Message))

	constraint := search.Constraint{
		DocVersion: req.DocVersion,
		SourceKind: req.SourceKind,
		DocType:    req.DocType,
		SourceName: req.SourceName,
	}

	chunks, err := s.querier.Query(r.Context(), sessionID, req.Message, constraint)
	if err != nil {
		log.Error("chat query error", slog.Any("error", err))
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
		flusher.Flush()
		return
	}

	for chunk := range chunks {
		switch chunk.Kind {
		case streaming.ChunkText:
			fmt.Fprintf(w, "data: %s\n\n", sseEscape(chunk.Text))
		case streaming.ChunkNotice:
			payload, _ := json.Marshal(chunk.Notice)
			fmt.Fprintf(w, "event: notice\ndata: %s\n\n", payload)
		case streaming.ChunkEnd:
			fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
		case streaming.ChunkError:
			log.Error("chat stream error", slog.Any("error", chunk.Err))
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", chunk.Err.Error())
		}
		flusher.Flush()
	}
}

// sseEscape collapses newlines in a text delta so it round-trips as a single
// SSE data field; the web UI reconstitutes line breaks client-side.
func sseEscape(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logging.FromContext(r.Context()).Error("health encode error", slog.Any("error", err))
	}
}
