package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePinger struct {
	name string
	err  error
}

func (f fakePinger) Name() string { return f.name }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestProbe_SuccessSetsHealthyAndHourBackoff(t *testing.T) {
	m := New([]Pinger{fakePinger{name: "qdrant"}}, nil)

	state := m.Probe(context.Background(), "qdrant")
	if !state.Healthy {
		t.Fatal("expected healthy after successful probe")
	}
	if state.CurrentBackoff != successBackoff {
		t.Errorf("expected backoff %v, got %v", successBackoff, state.CurrentBackoff)
	}
	if state.ConsecutiveFailures != 0 {
		t.Errorf("expected 0 consecutive failures, got %d", state.ConsecutiveFailures)
	}
}

func TestProbe_FailureDoublesBackoffFromOneMinute(t *testing.T) {
	boom := errors.New("connection refused")
	m := New([]Pinger{fakePinger{name: "llm", err: boom}}, nil)

	s1 := m.Probe(context.Background(), "llm")
	if s1.Healthy {
		t.Fatal("expected unhealthy after failed probe")
	}
	if s1.CurrentBackoff != initialBackoff {
		t.Errorf("expected initial backoff %v, got %v", initialBackoff, s1.CurrentBackoff)
	}

	s2 := m.Probe(context.Background(), "llm")
	if s2.CurrentBackoff != 2*initialBackoff {
		t.Errorf("expected doubled backoff %v, got %v", 2*initialBackoff, s2.CurrentBackoff)
	}
	if s2.ConsecutiveFailures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", s2.ConsecutiveFailures)
	}
}

func TestProbe_FailureBackoffCapsAtOneDay(t *testing.T) {
	boom := errors.New("timeout")
	m := New([]Pinger{fakePinger{name: "llm", err: boom}}, nil)

	var last State
	for i := 0; i < 20; i++ {
		last = m.Probe(context.Background(), "llm")
	}
	if last.CurrentBackoff != maxBackoff {
		t.Errorf("expected backoff capped at %v, got %v", maxBackoff, last.CurrentBackoff)
	}
}

func TestIsHealthy_UnknownServiceTriggersAsyncProbeAndReturnsFalse(t *testing.T) {
	m := New([]Pinger{fakePinger{name: "qdrant"}}, nil)

	if m.IsHealthy("qdrant") {
		t.Fatal("expected unhealthy before any probe has completed")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !m.State("qdrant").LastCheck.IsZero() {
			break
		}
	}
	if !m.IsHealthy("qdrant") {
		t.Fatal("expected healthy once the async probe completes")
	}
}

func TestIsHealthy_HealthyServiceReturnsTrueWithoutReprobe(t *testing.T) {
	m := New([]Pinger{fakePinger{name: "qdrant"}}, nil)
	m.Probe(context.Background(), "qdrant")

	if !m.IsHealthy("qdrant") {
		t.Fatal("expected healthy service to report healthy")
	}
}

func TestVerifyCollections_NoneConfiguredMarksUnhealthy(t *testing.T) {
	m := New(nil, nil)

	state := m.VerifyCollections(context.Background(), nil, func(ctx context.Context, collection string) error {
		t.Fatal("check should not be called with no collections configured")
		return nil
	})
	if state.Healthy {
		t.Fatal("expected unhealthy when no collections are configured")
	}
}

func TestVerifyCollections_AllRespondMarksHealthy(t *testing.T) {
	m := New(nil, nil)

	state := m.VerifyCollections(context.Background(), []string{"docs", "books"}, func(ctx context.Context, collection string) error {
		return nil
	})
	if !state.Healthy {
		t.Fatal("expected healthy when every collection responds")
	}
}

func TestVerifyCollections_OneFailingMarksUnhealthy(t *testing.T) {
	m := New(nil, nil)

	state := m.VerifyCollections(context.Background(), []string{"docs", "books"}, func(ctx context.Context, collection string) error {
		if collection == "books" {
			return errors.New("not found")
		}
		return nil
	})
	if state.Healthy {
		t.Fatal("expected unhealthy when a collection fails to respond")
	}
}
