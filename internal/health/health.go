// Package health implements the external-service liveness monitor:
// per-service state with exponential backoff between re-probes, and a
// post-startup check that every configured vector-store collection
// responds.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// initialBackoff is the backoff applied after the first consecutive failure.
const initialBackoff = time.Minute

// successBackoff is the backoff value a healthy service is left at — it
// doubles as the proactive re-probe cadence while things are fine.
const successBackoff = time.Hour

// maxBackoff caps the doubled backoff after repeated failures.
const maxBackoff = 24 * time.Hour

// Pinger is one probeable external dependency: a zero- or low-cost liveness
// check plus a stable name for logging and state lookup. Any of
// internal/server's Pinger implementations (LLMPinger, QdrantPinger)
// satisfy this interface structurally.
type Pinger interface {
	Ping(ctx context.Context) error
	Name() string
}

// State is one service's tracked liveness state.
type State struct {
	Healthy             bool
	ConsecutiveFailures int
	LastCheck           time.Time
	CurrentBackoff      time.Duration
}

// Monitor tracks liveness state for a set of named Pingers, re-probing on a
// backoff schedule rather than on every call to IsHealthy.
type Monitor struct {
	mu      sync.Mutex
	pingers map[string]Pinger
	states  map[string]State
	log     *slog.Logger
}

// New constructs a Monitor over the given pingers, all initially considered
// unhealthy until their first successful probe.
func New(pingers []Pinger, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	m := &Monitor{
		pingers: make(map[string]Pinger, len(pingers)),
		states:  make(map[string]State, len(pingers)),
		log:     log,
	}
	for _, p := range pingers {
		m.pingers[p.Name()] = p
	}
	return m
}

// Probe runs one liveness check for name and updates its state:
// success resets failures and sets current_backoff to 1h; failure doubles
// the backoff from a 1-minute floor, capped at 1 day.
func (m *Monitor) Probe(ctx context.Context, name string) State {
	m.mu.Lock()
	p, ok := m.pingers[name]
	m.mu.Unlock()
	if !ok {
		return State{}
	}

	now := time.Now()
	err := p.Ping(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.states[name]

	var next State
	next.LastCheck = now
	if err == nil {
		next.Healthy = true
		next.ConsecutiveFailures = 0
		next.CurrentBackoff = successBackoff
	} else {
		next.Healthy = false
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		if prev.CurrentBackoff == 0 {
			next.CurrentBackoff = initialBackoff
		} else {
			next.CurrentBackoff = min(prev.CurrentBackoff*2, maxBackoff)
		}
		m.log.Warn("health: probe failed",
			slog.String("service", name),
			slog.Int("consecutive_failures", next.ConsecutiveFailures),
			slog.Duration("current_backoff", next.CurrentBackoff),
			slog.String("error", err.Error()),
		)
	}
	m.states[name] = next
	recordCheck(name, next.Healthy)
	return next
}

// IsHealthy reports whether name is currently healthy. If the
// service is unhealthy and its backoff window has elapsed since the last
// check, IsHealthy triggers an asynchronous re-probe on a fresh goroutine
// and still returns false for this call — callers always see the
// last-known state, never block on a network round-trip.
func (m *Monitor) IsHealthy(name string) bool {
	m.mu.Lock()
	state, ok := m.states[name]
	m.mu.Unlock()

	if !ok {
		go m.Probe(context.Background(), name)
		return false
	}
	if state.Healthy {
		return true
	}

	if time.Now().After(state.LastCheck.Add(state.CurrentBackoff)) {
		go m.Probe(context.Background(), name)
	}
	return false
}

// State returns the last-known state for name.
func (m *Monitor) State(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[name]
}

// ProbeAll probes every registered Pinger once, typically called at startup.
func (m *Monitor) ProbeAll(ctx context.Context) map[string]State {
	m.mu.Lock()
	names := make([]string, 0, len(m.pingers))
	for name := range m.pingers {
		names = append(names, name)
	}
	m.mu.Unlock()

	out := make(map[string]State, len(names))
	for _, name := range names {
		out[name] = m.Probe(ctx, name)
	}
	return out
}

// CollectionChecker probes a single vector-store collection for liveness
// (e.g. a Qdrant CollectionExists or scroll-with-limit-0 call).
type CollectionChecker func(ctx context.Context, collection string) error

// VerifyCollections checks that every configured collection responds,
// marking the "collections" pseudo-service unhealthy if any fail to
// respond or if none are configured at all: a deployment with zero
// collections has nothing to search, so it is not healthy.
func (m *Monitor) VerifyCollections(ctx context.Context, collections []string, check CollectionChecker) State {
	const name = "collections"
	now := time.Now()

	if len(collections) == 0 {
		state := State{Healthy: false, LastCheck: now, CurrentBackoff: initialBackoff}
		m.recordCollectionsState(name, state)
		recordCheck(name, state.Healthy)
		return state
	}

	for _, c := range collections {
		if err := check(ctx, c); err != nil {
			m.log.Warn("health: collection did not respond",
				slog.String("collection", c),
				slog.String("error", err.Error()),
			)
			prev := m.State(name)
			state := State{
				Healthy:             false,
				ConsecutiveFailures: prev.ConsecutiveFailures + 1,
				LastCheck:           now,
			}
			if prev.CurrentBackoff == 0 {
				state.CurrentBackoff = initialBackoff
			} else {
				state.CurrentBackoff = min(prev.CurrentBackoff*2, maxBackoff)
			}
			m.recordCollectionsState(name, state)
			recordCheck(name, state.Healthy)
			return state
		}
	}

	state := State{Healthy: true, LastCheck: now, CurrentBackoff: successBackoff}
	m.recordCollectionsState(name, state)
	recordCheck(name, state.Healthy)
	return state
}

func (m *Monitor) recordCollectionsState(name string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[name] = state
}
