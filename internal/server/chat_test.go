package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ragcore/engine/internal/search"
	"github.com/ragcore/engine/internal/streaming"
)

// fakeQuerier implements the querier interface for tests. It replays a
// fixed sequence of chunks on a buffered channel.
type fakeQuerier struct {
	chunks []streaming.StreamChunk
	err    error
}

func (f *fakeQuerier) Query(_ context.Context, _, _ string, _ search.Constraint) (<-chan streaming.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan streaming.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

// newChatTestServer builds a *Server wired with the given querier fake.
func newChatTestServer(q querier) *Server {
	return &Server{
		querier: q,
		cfg:     &Config{Port: 8080},
		log:     slog.Default(),
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat — validation error paths (no querier needed)
// ---------------------------------------------------------------------------

func TestHandleChat_MissingMessage(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"sessionId":"abc"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`not-json`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat — happy path (fake querier, SSE response)
// ---------------------------------------------------------------------------

// TestHandleChat_Success verifies that a valid request produces an SSE
// stream with text deltas and a "done" event. httptest.ResponseRecorder
// implements http.Flusher so the handler's flusher check passes without a
// real connection.
func TestHandleChat_Success(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{chunks: []streaming.StreamChunk{
		{Kind: streaming.ChunkText, Text: "aws_s3_bucket"},
		{Kind: streaming.ChunkEnd},
	}}
	s := newChatTestServer(q)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"describe an S3 bucket"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "aws_s3_bucket") {
		t.Errorf("expected text delta in body, got: %s", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("expected SSE done event in body, got: %s", body)
	}
	if !strings.Contains(body, "[DONE]") {
		t.Errorf("expected [DONE] sentinel in body, got: %s", body)
	}
}

// TestHandleChat_Notice verifies that a failover notice chunk is forwarded
// as a structured SSE "notice" event.
func TestHandleChat_Notice(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{chunks: []streaming.StreamChunk{
		{Kind: streaming.ChunkNotice, Notice: streaming.Notice{Code: "provider_switch", Summary: "switching providers"}},
		{Kind: streaming.ChunkEnd},
	}}
	s := newChatTestServer(q)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"generate"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: notice") {
		t.Errorf("expected notice event in body, got: %s", body)
	}
	if !strings.Contains(body, "provider_switch") {
		t.Errorf("expected notice code in body, got: %s", body)
	}
}

// TestHandleChat_QueryError verifies that when Query itself fails before
// streaming begins, the SSE stream includes an "error" event and the
// response is still 200 (SSE errors are delivered in-band, not via HTTP
// status).
func TestHandleChat_QueryError(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{err: errors.New("LLM unavailable")}
	s := newChatTestServer(q)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"generate"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Errorf("expected error event in body, got: %s", body)
	}
	if !strings.Contains(body, "LLM unavailable") {
		t.Errorf("expected error message in body, got: %s", body)
	}
}

// TestHandleChat_StreamError verifies that a terminal ChunkError mid-stream
// is forwarded as an SSE "error" event.
func TestHandleChat_StreamError(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{chunks: []streaming.StreamChunk{
		{Kind: streaming.ChunkText, Text: "partial"},
		{Kind: streaming.ChunkError, Err: errors.New("all providers exhausted")},
	}}
	s := newChatTestServer(q)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"generate"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "partial") {
		t.Errorf("expected partial text before error, got: %s", body)
	}
	if !strings.Contains(body, "event: error") {
		t.Errorf("expected error event in body, got: %s", body)
	}
}
