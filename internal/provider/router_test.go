package provider

import (
	"fmt"
	"testing"
	"time"
)

type fakeGate struct {
	available map[string]bool
}

func (g *fakeGate) IsAvailable(name string, now time.Time) bool {
	return g.available[name]
}

func TestSelectAvailableRespectsGateAndBackoff(t *testing.T) {
	gate := &fakeGate{available: map[string]bool{"openai": true, "github_models": true}}
	r := NewRouter(BackendGithubModels, BackendOpenAI, time.Minute, gate)

	now := time.Now()
	got := r.SelectAvailable(now, "primary-client", "secondary-client")
	if len(got) != 2 || got[0] != BackendGithubModels || got[1] != BackendOpenAI {
		t.Fatalf("unexpected selection: %+v", got)
	}

	r.BackoffPrimary(now)
	got = r.SelectAvailable(now.Add(time.Second), "primary-client", "secondary-client")
	if len(got) != 1 || got[0] != BackendOpenAI {
		t.Fatalf("expected only secondary after primary backoff, got %+v", got)
	}
}

func TestSelectAvailableNilClients(t *testing.T) {
	r := NewRouter(BackendGithubModels, BackendOpenAI, 0, nil)
	got := r.SelectAvailable(time.Now(), nil, "secondary-client")
	if len(got) != 1 || got[0] != BackendOpenAI {
		t.Fatalf("expected only secondary when primary client is nil, got %+v", got)
	}
}

func TestIsBackoffPrimary(t *testing.T) {
	cases := []struct {
		name string
		ctx  FailureContext
		want bool
	}{
		{"429", FailureContext{StatusCode: 429}, true},
		{"401", FailureContext{StatusCode: 401}, true},
		{"503", FailureContext{StatusCode: 503}, true},
		{"sleep interrupted message", FailureContext{Message: "Sleep interrupted"}, true},
		{"plain 400", FailureContext{StatusCode: 400}, false},
	}
	for _, c := range cases {
		if got := IsBackoffPrimary(c.ctx); got != c.want {
			t.Errorf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestIsCompletionFallbackEligible(t *testing.T) {
	if !IsCompletionFallbackEligible(FailureContext{StatusCode: 404}) {
		t.Fatal("expected 404 to be completion-fallback eligible")
	}
	if !IsCompletionFallbackEligible(FailureContext{Message: "request timeout"}) {
		t.Fatal("expected timeout message to be completion-fallback eligible")
	}
	if IsCompletionFallbackEligible(FailureContext{StatusCode: 400}) {
		t.Fatal("expected plain 400 to not be completion-fallback eligible")
	}
}

func TestIsStreamingFallbackEligible(t *testing.T) {
	if !IsStreamingFallbackEligible(FailureContext{StatusCode: 409}) {
		t.Fatal("expected 409 to be streaming-fallback eligible")
	}
	if !IsStreamingFallbackEligible(FailureContext{Message: "unexpected end of JSON input"}) {
		t.Fatal("expected malformed-stream message to be streaming-fallback eligible")
	}
	if IsStreamingFallbackEligible(FailureContext{StatusCode: 400, Message: "bad request"}) {
		t.Fatal("expected plain 400 to not be streaming-fallback eligible")
	}
}

func TestErrInterruptedClassifiesAsBackoffPrimary(t *testing.T) {
	if !IsBackoffPrimary(FailureContext{Err: ErrInterrupted()}) {
		t.Fatal("expected direct interrupted error to backoff primary")
	}
	if !IsBackoffPrimary(FailureContext{Err: fmt.Errorf("stream: %w", ErrInterrupted())}) {
		t.Fatal("expected wrapped interrupted error to backoff primary")
	}
}
