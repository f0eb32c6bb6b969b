package streaming

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ragcore/engine/internal/provider"
	"github.com/ragcore/engine/internal/ratelimit"
	"github.com/ragcore/engine/internal/request"
)

// fakeClient yields a fixed sequence of messages/errors through a
// schema.Pipe stream reader.
type fakeClient struct {
	chunks []string
	failAt int // 0 = Stream fails with err; 1..len(chunks) = err sent after all chunks; other values = never
	err    error
}

func (f *fakeClient) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if f.failAt == 0 {
		return nil, f.err
	}

	items := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		items = append(items, &schema.Message{Content: c})
	}
	sr, sw := schema.Pipe[*schema.Message](len(items) + 1)
	go func() {
		for _, it := range items {
			sw.Send(it, nil)
		}
		if f.failAt > 0 && f.failAt <= len(items) {
			sw.Send(nil, f.err)
		}
		sw.Close()
	}()
	return sr, nil
}

func drain(t *testing.T, ch <-chan StreamChunk) []StreamChunk {
	t.Helper()
	var out []StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestStreamSuccessfulSinglePass(t *testing.T) {
	gate, err := ratelimit.Open(filepath.Join(t.TempDir(), "state.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer gate.Close()

	router := provider.NewRouter(provider.BackendOpenAI, provider.BackendOpenAI, time.Minute, gate)
	engine := NewEngine(router, gate, map[provider.Backend]Client{
		provider.BackendOpenAI: &fakeClient{chunks: []string{"Hi", "."}, failAt: -1},
	})

	call, err := request.Build("gpt-4o", "hello", "", 0.2, true)
	if err != nil {
		t.Fatal(err)
	}
	chunks := drain(t, engine.Stream(context.Background(), call, nil))

	var text string
	sawEnd := false
	for _, c := range chunks {
		if c.Kind == ChunkText {
			text += c.Text
		}
		if c.Kind == ChunkEnd {
			sawEnd = true
		}
		if c.Kind == ChunkError {
			t.Fatalf("unexpected error chunk: %v", c.Err)
		}
	}
	if text != "Hi." {
		t.Fatalf("unexpected text: %q", text)
	}
	if !sawEnd {
		t.Fatal("expected a ChunkEnd")
	}
}

func TestStreamPreFirstTokenFailover(t *testing.T) {
	gate, err := ratelimit.Open(filepath.Join(t.TempDir(), "state.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer gate.Close()

	router := provider.NewRouter(provider.BackendGithubModels, provider.BackendOpenAI, time.Minute, gate)
	engine := NewEngine(router, gate, map[provider.Backend]Client{
		provider.BackendGithubModels: &fakeClient{failAt: 0, err: &provider.HTTPError{Status: 503, Err: errors.New("service unavailable")}},
		provider.BackendOpenAI:       &fakeClient{chunks: []string{"Hi", "."}, failAt: -1},
	})

	call, err := request.Build("gpt-4o", "hello", "", 0.2, true)
	if err != nil {
		t.Fatal(err)
	}
	chunks := drain(t, engine.Stream(context.Background(), call, nil))

	noticeCount := 0
	var text string
	for _, c := range chunks {
		switch c.Kind {
		case ChunkNotice:
			noticeCount++
			if c.Notice.Origin.Attempt != 1 || c.Notice.Origin.MaxAttempts != 2 {
				t.Fatalf("unexpected notice origin: %+v", c.Notice.Origin)
			}
		case ChunkText:
			text += c.Text
		case ChunkError:
			t.Fatalf("unexpected error chunk: %v", c.Err)
		}
	}
	if noticeCount != 1 {
		t.Fatalf("expected exactly 1 failover notice, got %d", noticeCount)
	}
	if text != "Hi." {
		t.Fatalf("unexpected text after failover: %q", text)
	}
}

func TestStreamRecordsAuthoritativeRateLimit(t *testing.T) {
	gate, err := ratelimit.Open(filepath.Join(t.TempDir(), "state.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer gate.Close()

	router := provider.NewRouter(provider.BackendGithubModels, provider.BackendOpenAI, time.Minute, gate)
	engine := NewEngine(router, gate, map[provider.Backend]Client{
		provider.BackendGithubModels: &fakeClient{failAt: 0, err: &provider.HTTPError{Status: 429, RetryAfter: "3600", Err: errors.New("rate limited")}},
		provider.BackendOpenAI:       &fakeClient{chunks: []string{"ok"}, failAt: -1},
	})

	call, err := request.Build("gpt-4o", "hello", "", 0.2, true)
	if err != nil {
		t.Fatal(err)
	}
	drain(t, engine.Stream(context.Background(), call, nil))

	if gate.IsAvailable(string(provider.BackendGithubModels), time.Now().Add(30*time.Minute)) {
		t.Fatal("expected github_models to be rate-limited for the Retry-After window")
	}
	if !gate.IsAvailable(string(provider.BackendOpenAI), time.Now()) {
		t.Fatal("expected openai to remain available after its success")
	}
}

func TestStreamAllProvidersUnavailable(t *testing.T) {
	router := provider.NewRouter(provider.BackendOpenAI, provider.BackendOpenAI, time.Minute, nil)
	engine := NewEngine(router, nil, map[provider.Backend]Client{})

	call, err := request.Build("gpt-4o", "hello", "", 0.2, true)
	if err != nil {
		t.Fatal(err)
	}
	chunks := drain(t, engine.Stream(context.Background(), call, nil))
	if len(chunks) != 1 || chunks[0].Kind != ChunkError {
		t.Fatalf("expected a single error chunk, got %+v", chunks)
	}
}
