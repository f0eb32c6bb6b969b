// Package orchestrator ties the retrieval facade, request factory,
// streaming engine, and conversation history together into the single
// entry point a transport (HTTP server, CLI) calls per user turn.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/ragcore/engine/internal/budget"
	"github.com/ragcore/engine/internal/document"
	"github.com/ragcore/engine/internal/logging"
	"github.com/ragcore/engine/internal/request"
	"github.com/ragcore/engine/internal/retrieval"
	"github.com/ragcore/engine/internal/search"
	"github.com/ragcore/engine/internal/store"
	"github.com/ragcore/engine/internal/streaming"
)

// systemPrompt is the base persona and operating instructions injected into
// every conversation.
const systemPrompt = `You are an expert technical documentation assistant.

You answer questions using the documentation excerpts provided to you as
context. When the provided excerpts do not contain the answer, say so rather
than guessing. Cite the source excerpts you relied on by referencing their
titles or URLs. Be concise, accurate, and specific.`

// Retriever is the retrieval-facade dependency.
type Retriever interface {
	Retrieve(ctx context.Context, query string, constraint search.Constraint) ([]document.Record, []search.CollectionSearchFailure, error)
}

// Config holds the dependencies required to construct an Orchestrator.
type Config struct {
	// Engine streams model output with provider failover.
	Engine *streaming.Engine
	// Retriever supplies retrieval context for each query. May be nil
	// to run with no RAG context.
	Retriever Retriever
	// History persists and replays prior turns. May be nil for stateless use.
	History store.ConversationStore
	// HistoryDepth is the number of prior turns (user+assistant pairs)
	// injected per query. Defaults to 10 if zero.
	HistoryDepth int
	// MaxContextTokens bounds the estimated input context size; history is
	// trimmed oldest-first to fit. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int
	// Model is the normalized model id used to build each request.
	Model string
	// ReasoningEffort is passed through to reasoning-model requests.
	ReasoningEffort string
	// Temperature and TemperatureSet configure non-reasoning-model requests.
	Temperature    float32
	TemperatureSet bool
}

// Orchestrator is the retrieval+generation entry point for one conversation
// thread, keyed by the caller-supplied session key.
type Orchestrator struct {
	engine           *streaming.Engine
	retriever        Retriever
	history          store.ConversationStore
	historyDepth     int
	maxContextTokens int
	model            string
	reasoningEffort  string
	temperature      float32
	temperatureSet   bool
}

// New constructs an Orchestrator from cfg.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("orchestrator: Engine must not be nil")
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 10
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Orchestrator{
		engine:           cfg.Engine,
		retriever:        cfg.Retriever,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
		model:            cfg.Model,
		reasoningEffort:  cfg.ReasoningEffort,
		temperature:      cfg.Temperature,
		temperatureSet:   cfg.TemperatureSet,
	}, nil
}

// Query runs one conversation turn: it retrieves context for userMessage,
// builds the bounded request, and streams the model's response. The
// returned channel carries text deltas, failover notices, and a terminal
// end/error chunk, exactly as streaming.Engine.Stream does — Query adds
// retrieval and history on top. The full accumulated response is persisted
// to history (if configured) once the stream ends successfully.
func (o *Orchestrator) Query(ctx context.Context, sessionKey, userMessage string, constraint search.Constraint) (<-chan streaming.StreamChunk, error) {
	messages, err := o.buildMessages(ctx, sessionKey, userMessage, constraint)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build messages: %w", err)
	}

	var combined strings.Builder
	for _, m := range messages {
		combined.WriteString(m.Content)
		combined.WriteString("\n")
	}
	call, err := o.buildCall(combined.String())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build call: %w", err)
	}
	if call.Truncated {
		// The rendered prompt exceeded the model's input budget even after
		// history trimming; fall back to the truncated flat prompt, which
		// keeps the most recent tokens and carries the truncation notice.
		messages = []*schema.Message{schema.UserMessage(call.Input)}
	}

	inner := o.engine.Stream(ctx, call, messages)
	out := make(chan streaming.StreamChunk, 16)
	go o.drain(ctx, sessionKey, userMessage, inner, out)
	return out, nil
}

// buildCall runs the request factory over the full rendered prompt so
// model-specific truncation and parameter selection apply to what is
// actually sent, not just the raw user message.
func (o *Orchestrator) buildCall(input string) (request.Call, error) {
	return request.Build(o.model, input, o.reasoningEffort, o.temperature, o.temperatureSet)
}

// drain forwards chunks from inner to out, accumulating the text of a
// successful response so it can be persisted to history exactly once, after
// the stream concludes.
func (o *Orchestrator) drain(ctx context.Context, sessionKey, userMessage string, inner <-chan streaming.StreamChunk, out chan<- streaming.StreamChunk) {
	defer close(out)
	var response strings.Builder
	succeeded := false

	for chunk := range inner {
		switch chunk.Kind {
		case streaming.ChunkText:
			response.WriteString(chunk.Text)
		case streaming.ChunkEnd:
			succeeded = true
		}
		out <- chunk
	}

	if succeeded && o.history != nil {
		if err := o.history.Append(ctx, sessionKey, store.RoleUser, userMessage); err != nil {
			logging.FromContext(ctx).Warn("orchestrator: failed to persist user message", slog.Any("error", err))
		}
		if err := o.history.Append(ctx, sessionKey, store.RoleAssistant, response.String()); err != nil {
			logging.FromContext(ctx).Warn("orchestrator: failed to persist assistant message", slog.Any("error", err))
		}
	}
}

// buildMessages assembles [system, ...history, ...retrieval context, user],
// trimming history oldest-first so the estimated token count fits the
// configured budget.
func (o *Orchestrator) buildMessages(ctx context.Context, sessionKey, userMessage string, constraint search.Constraint) ([]*schema.Message, error) {
	system := schema.SystemMessage(systemPrompt)

	var historyMsgs []*schema.Message
	if o.history != nil {
		prior, err := o.history.Recent(ctx, sessionKey, o.historyDepth*2)
		if err != nil {
			logging.FromContext(ctx).Warn("orchestrator: failed to load prior messages", slog.Any("error", err))
		} else {
			for _, m := range prior {
				switch m.Role {
				case store.RoleUser:
					historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
				case store.RoleAssistant:
					historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
				}
			}
		}
	}

	var ragMsg *schema.Message
	if o.retriever != nil {
		docs, failures, err := o.retriever.Retrieve(ctx, userMessage, constraint)
		if err != nil {
			logging.FromContext(ctx).Warn("orchestrator: retrieval failed, continuing without context", slog.Any("error", err))
		} else {
			if len(failures) > 0 {
				logging.FromContext(ctx).Warn("orchestrator: partial retrieval failures",
					slog.Int("failed_collections", len(failures)))
			}
			if len(docs) > 0 {
				content := buildRAGContext(docs)
				ragMsg = &schema.Message{Role: schema.System, Content: content}
			}
		}
	}

	fixed := []*schema.Message{system}
	if ragMsg != nil {
		fixed = append(fixed, ragMsg)
	}
	fixed = append(fixed, schema.UserMessage(userMessage))

	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, o.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		logging.FromContext(ctx).Warn("orchestrator: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", o.maxContextTokens),
		)
	}

	result := make([]*schema.Message, 0, len(fixed)+len(historyMsgs))
	result = append(result, system)
	result = append(result, historyMsgs...)
	if ragMsg != nil {
		result = append(result, ragMsg)
	}
	result = append(result, schema.UserMessage(userMessage))
	return result, nil
}

// buildRAGContext renders retrieved documents into a system message,
// citing each via the citation formatter.
func buildRAGContext(docs []document.Record) string {
	var sb strings.Builder
	sb.WriteString("## Relevant documentation\n\n")
	sb.WriteString("The following excerpts may be relevant to the user's question. Cite sources by title or URL where applicable.\n\n")
	for i, d := range docs {
		c := retrieval.ToCitation(d)
		fmt.Fprintf(&sb, "### Source %d: %s (%s)\n%s\n\n", i+1, c.Title, c.URL, c.Snippet)
	}
	return sb.String()
}
