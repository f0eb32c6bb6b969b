// Router additions to internal/provider: ordered primary/
// secondary provider selection and failure classification into the three
// eligibility buckets the streaming engine consults.
package provider

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// BackendGithubModels selects the GitHub Models OpenAI-compatible inference
// endpoint, one of the two valid llm.primary-provider values.
const BackendGithubModels Backend = "github_models"

// Gate reports per-provider rate-limit availability, satisfied by
// internal/ratelimit.Store.
type Gate interface {
	IsAvailable(providerName string, now time.Time) bool
}

// Router holds the ordered primary/secondary provider identities and the
// local primary-backoff window, which is a short-lived, in-process cooldown
// distinct from the persistent rate-limit state.
type Router struct {
	Primary          Backend
	Secondary        Backend
	PrimaryBackoff   time.Duration
	gate             Gate
	primaryBackedOff *time.Time
}

// DefaultPrimaryBackoff is the documented default local primary-backoff
// window.
const DefaultPrimaryBackoff = 600 * time.Second

// NewRouter constructs a Router. primaryBackoff of 0 uses the default.
func NewRouter(primary, secondary Backend, primaryBackoff time.Duration, gate Gate) *Router {
	if primaryBackoff == 0 {
		primaryBackoff = DefaultPrimaryBackoff
	}
	return &Router{Primary: primary, Secondary: secondary, PrimaryBackoff: primaryBackoff, gate: gate}
}

// BackoffPrimary puts the primary provider into its local backoff window,
// starting now.
func (r *Router) BackoffPrimary(now time.Time) {
	until := now.Add(r.PrimaryBackoff)
	r.primaryBackedOff = &until
}

func (r *Router) primaryInBackoff(now time.Time) bool {
	return r.primaryBackedOff != nil && now.Before(*r.primaryBackedOff)
}

// SelectAvailable returns the ordered subset of (primary, secondary)
// backends whose client is non-nil, that are not presently in primary local
// backoff (for the primary only), and whose persistent rate-limit state
// permits.
func (r *Router) SelectAvailable(now time.Time, primaryClient, secondaryClient any) []Backend {
	var available []Backend
	if primaryClient != nil && !r.primaryInBackoff(now) && r.available(r.Primary, now) {
		available = append(available, r.Primary)
	}
	if secondaryClient != nil && r.available(r.Secondary, now) {
		available = append(available, r.Secondary)
	}
	return available
}

func (r *Router) available(b Backend, now time.Time) bool {
	if r.gate == nil {
		return true
	}
	return r.gate.IsAvailable(string(b), now)
}

// HTTPError wraps a provider transport failure with its HTTP status and the
// rate-limit headers the authoritative decision resolver consumes. Streaming
// clients that can see the raw response should wrap 4xx/5xx failures in this
// type so classification and rate-limit recording are status-aware instead of
// message-sniffing.
type HTTPError struct {
	Status         int
	RetryAfter     string
	RateLimitReset string
	Err            error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider: HTTP %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("provider: HTTP %d", e.Status)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// FailureContext carries the signals needed to classify a single provider
// failure.
type FailureContext struct {
	StatusCode int
	Err        error
	Message    string
}

// NewFailureContext builds a FailureContext from err, lifting the HTTP status
// out of any wrapped HTTPError so the eligibility rules can match on it.
func NewFailureContext(err error) FailureContext {
	f := FailureContext{Err: err}
	var he *HTTPError
	if errors.As(err, &he) {
		f.StatusCode = he.Status
	}
	return f
}

func (f FailureContext) lowerMessage() string {
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	return strings.ToLower(msg)
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// IsBackoffPrimary classifies whether a failure should trigger primary
// backoff: rate limit (429), 401/403, 5xx, an I/O/network error, context
// cancellation (interrupt), or a message containing "sleep interrupted".
func IsBackoffPrimary(f FailureContext) bool {
	switch f.StatusCode {
	case 429, 401, 403:
		return true
	}
	if f.StatusCode >= 500 && f.StatusCode < 600 {
		return true
	}
	if isNetworkError(f.Err) {
		return true
	}
	if errors.Is(f.Err, errInterrupted) {
		return true
	}
	if containsAny(f.lowerMessage(), "sleep interrupted") {
		return true
	}
	return false
}

// errInterrupted is a sentinel the streaming engine wraps context.Canceled
// in, so router classification doesn't need to import context directly.
var errInterrupted = errors.New("provider: request interrupted")

// ErrInterrupted returns the sentinel used to mark an interrupted request,
// for callers to wrap via fmt.Errorf("...: %w", provider.ErrInterrupted()).
func ErrInterrupted() error { return errInterrupted }

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsCompletionFallbackEligible classifies whether a non-streaming completion
// call may fail over to the secondary provider: backoff-primary-eligible,
// 404, 408, or a message hinting at timeout/unavailability/connection reset.
func IsCompletionFallbackEligible(f FailureContext) bool {
	if IsBackoffPrimary(f) {
		return true
	}
	if f.StatusCode == 404 || f.StatusCode == 408 {
		return true
	}
	return containsAny(f.lowerMessage(), "timeout", "temporarily unavailable", "connection reset", "connection closed")
}

// IsStreamingFallbackEligible classifies whether a streaming call may fail
// over pre-first-token: backoff-primary-eligible, an SSE protocol error, a
// reactor/buffer overflow, 408/409/429/5xx, or a message hinting at a
// malformed/truncated stream, timeout, or connection issue.
func IsStreamingFallbackEligible(f FailureContext) bool {
	if IsBackoffPrimary(f) {
		return true
	}
	switch f.StatusCode {
	case 408, 409, 429:
		return true
	}
	if f.StatusCode >= 500 && f.StatusCode < 600 {
		return true
	}
	return containsAny(f.lowerMessage(),
		"invalid stream", "malformed", "unexpected end of json input",
		"timeout", "temporarily unavailable", "connection reset", "connection closed",
		"sse", "reactor", "overflow")
}
