// Package streaming implements the multi-attempt streaming engine with
// pre-first-token provider failover. Each stream runs on its own goroutine,
// never on the caller's goroutine, and records outcomes into the rate-limit
// store via the provider router's failure classification.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ragcore/engine/internal/provider"
	"github.com/ragcore/engine/internal/ratelimit"
	"github.com/ragcore/engine/internal/request"
)

// ChunkKind discriminates the StreamChunk sum type.
type ChunkKind int

const (
	// ChunkText carries a forwarded text delta.
	ChunkText ChunkKind = iota
	// ChunkNotice carries a structured failover notice.
	ChunkNotice
	// ChunkEnd signals successful stream completion.
	ChunkEnd
	// ChunkError carries a terminal error; no further chunks follow.
	ChunkError
)

// Origin identifies where in the attempt sequence a notice or error arose.
type Origin struct {
	Provider    string
	Stage       string
	Attempt     int
	MaxAttempts int
}

// Notice is a structured failover notification emitted when the engine
// switches providers before the first content delta.
type Notice struct {
	Code              string
	Summary           string
	DiagnosticContext string
	Retryable         bool
	Origin            Origin
}

// StreamChunk is one element of the output channel: exactly one of Text,
// Notice, or Err is meaningful, selected by Kind.
type StreamChunk struct {
	Kind   ChunkKind
	Text   string
	Notice Notice
	Err    error
}

// Client is the narrow per-provider capability the engine needs: a
// streaming chat call given a prepared request.
type Client interface {
	Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
}

// modelClient adapts an eino ToolCallingChatModel to Client.
type modelClient struct {
	model model.ToolCallingChatModel
}

func (m modelClient) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return m.model.Stream(ctx, messages, opts...)
}

// NewModelClient adapts an eino ToolCallingChatModel to the Client interface
// this package streams through.
func NewModelClient(m model.ToolCallingChatModel) Client {
	return modelClient{model: m}
}

// Engine drives multi-attempt streaming with pre-first-token failover across
// an ordered provider set.
type Engine struct {
	router  *provider.Router
	gate    *ratelimit.Store
	clients map[provider.Backend]Client
	// IdleReadTimeout bounds the gap between successive deltas once
	// streaming has started (default 75s).
	IdleReadTimeout time.Duration
	// RequestTimeout bounds the overall stream lifetime (default 600s).
	RequestTimeout time.Duration
}

// DefaultIdleReadTimeout and DefaultRequestTimeout are the documented
// timeout defaults.
const (
	DefaultIdleReadTimeout = 75 * time.Second
	DefaultRequestTimeout  = 600 * time.Second
)

// NewEngine constructs a streaming Engine. clients maps each router backend
// identity to its concrete streaming client.
func NewEngine(router *provider.Router, gate *ratelimit.Store, clients map[provider.Backend]Client) *Engine {
	return &Engine{
		router:          router,
		gate:            gate,
		clients:         clients,
		IdleReadTimeout: DefaultIdleReadTimeout,
		RequestTimeout:  DefaultRequestTimeout,
	}
}

// Stream runs the attempt loop on a dedicated goroutine, never on the
// caller's, and returns a receive-only channel of StreamChunk. The channel is
// closed after a ChunkEnd or ChunkError is sent.
func (e *Engine) Stream(ctx context.Context, call request.Call, messages []*schema.Message) <-chan StreamChunk {
	out := make(chan StreamChunk, 16)
	go e.run(ctx, call, messages, out)
	return out
}

func (e *Engine) run(ctx context.Context, call request.Call, messages []*schema.Message, out chan<- StreamChunk) {
	defer close(out)

	ctx, cancel := context.WithTimeout(ctx, e.RequestTimeout)
	defer cancel()

	now := time.Now()
	available := e.router.SelectAvailable(now, e.clients[e.router.Primary], e.clients[e.router.Secondary])
	if len(available) == 0 {
		out <- StreamChunk{Kind: ChunkError, Err: fmt.Errorf("streaming: all providers unavailable")}
		return
	}

	opts := callOptions(call)
	maxAttempts := len(available)
	for attempt, backend := range available {
		client, ok := e.clients[backend]
		if !ok || client == nil {
			continue
		}

		firstDeltaEmitted, err := e.attempt(ctx, backend, client, messages, opts, out)
		if err == nil {
			e.recordSuccess(backend)
			return
		}

		e.recordFailure(backend, err)

		if firstDeltaEmitted {
			// Failures after the first delta are fatal; do not retry.
			out <- StreamChunk{Kind: ChunkError, Err: fmt.Errorf("streaming: %s: %w", backend, err)}
			return
		}

		fctx := provider.NewFailureContext(err)
		if !provider.IsStreamingFallbackEligible(fctx) {
			out <- StreamChunk{Kind: ChunkError, Err: fmt.Errorf("streaming: %s: %w", backend, err)}
			return
		}

		if attempt+1 >= len(available) {
			out <- StreamChunk{Kind: ChunkError, Err: fmt.Errorf("streaming: all providers exhausted: %w", err)}
			return
		}

		out <- StreamChunk{Kind: ChunkNotice, Notice: Notice{
			Code:              "provider_switch",
			Summary:           fmt.Sprintf("switching from %s to %s after stream failure", backend, available[attempt+1]),
			DiagnosticContext: err.Error(),
			Retryable:         true,
			Origin: Origin{
				Provider:    string(backend),
				Stage:       "stream",
				Attempt:     attempt + 1,
				MaxAttempts: maxAttempts,
			},
		}}
	}
}

// attempt opens one streaming call and forwards text deltas until the
// stream ends or fails. It returns whether at least one delta was emitted
// (which disables further failover) and any terminal error.
func (e *Engine) attempt(ctx context.Context, backend provider.Backend, client Client, messages []*schema.Message, opts []model.Option, out chan<- StreamChunk) (bool, error) {
	sr, err := client.Stream(ctx, messages, opts...)
	if err != nil {
		return false, err
	}
	defer sr.Close()

	firstDeltaEmitted := false
	for {
		msg, err := e.recvWithIdleTimeout(ctx, sr)
		if err != nil {
			if errors.Is(err, io.EOF) {
				out <- StreamChunk{Kind: ChunkEnd}
				return firstDeltaEmitted, nil
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return firstDeltaEmitted, fmt.Errorf("%w", provider.ErrInterrupted())
			}
			return firstDeltaEmitted, err
		}
		if msg.Content == "" {
			continue
		}
		firstDeltaEmitted = true
		out <- StreamChunk{Kind: ChunkText, Text: msg.Content}
	}
}

// callOptions translates a prepared request into per-call model options, so
// the normalized model id and its parameter set actually reach the backend
// instead of whatever the client was constructed with.
func callOptions(call request.Call) []model.Option {
	var opts []model.Option
	if call.Model != "" {
		opts = append(opts, model.WithModel(call.Model))
	}
	if call.Params.MaxOutputTokens > 0 {
		opts = append(opts, model.WithMaxTokens(call.Params.MaxOutputTokens))
	}
	if call.Params.TemperatureSet {
		opts = append(opts, model.WithTemperature(call.Params.Temperature))
	}
	return opts
}

// recvResult carries the outcome of one sr.Recv() call back from the
// goroutine it runs on to the select below.
type recvResult struct {
	msg *schema.Message
	err error
}

// recvWithIdleTimeout reads the next delta off sr, failing with a timeout
// error if no delta (and no end-of-stream) arrives within IdleReadTimeout
// (default 75s). The timer resets on
// every successful read, so it bounds the gap between deltas rather than
// the whole stream.
func (e *Engine) recvWithIdleTimeout(ctx context.Context, sr *schema.StreamReader[*schema.Message]) (*schema.Message, error) {
	idle := e.IdleReadTimeout
	if idle <= 0 {
		idle = DefaultIdleReadTimeout
	}

	ch := make(chan recvResult, 1)
	go func() {
		msg, err := sr.Recv()
		ch <- recvResult{msg: msg, err: err}
	}()

	timer := time.NewTimer(idle)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("streaming: idle read timeout after %s", idle)
	}
}

func (e *Engine) recordSuccess(backend provider.Backend) {
	if e.gate == nil {
		return
	}
	_ = e.gate.RecordSuccess(string(backend), time.Now())
}

func (e *Engine) recordFailure(backend provider.Backend, err error) {
	if e.gate == nil {
		return
	}
	fctx := provider.NewFailureContext(err)
	now := time.Now()
	if provider.IsBackoffPrimary(fctx) && backend == e.router.Primary {
		e.router.BackoffPrimary(now)
	}

	var he *provider.HTTPError
	if errors.As(err, &he) && he.Status == 429 {
		if rerr := e.gate.RecordRateLimitFromHeaders(string(backend), he.RetryAfter, he.RateLimitReset, now); rerr == nil {
			return
		}
		// No authoritative Retry-After/X-RateLimit-Reset header: never guess
		// a window, record a plain failure instead.
	}
	_ = e.gate.RecordFailure(string(backend), now)
}
