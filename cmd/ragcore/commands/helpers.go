package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/ragcore/engine/internal/chunking"
	"github.com/ragcore/engine/internal/chunkstore"
	"github.com/ragcore/engine/internal/collection"
	"github.com/ragcore/engine/internal/embedder"
	"github.com/ragcore/engine/internal/health"
	"github.com/ragcore/engine/internal/ingest"
	"github.com/ragcore/engine/internal/orchestrator"
	"github.com/ragcore/engine/internal/provider"
	"github.com/ragcore/engine/internal/ratelimit"
	"github.com/ragcore/engine/internal/retrieval"
	"github.com/ragcore/engine/internal/search"
	"github.com/ragcore/engine/internal/server"
	"github.com/ragcore/engine/internal/store"
	"github.com/ragcore/engine/internal/streaming"
)

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable as an integer.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvBool returns true if the named environment variable is set to "true".
func getEnvBool(key string) bool {
	return os.Getenv(key) == "true"
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

// collectionNames resolves the four routed Qdrant collection names from
// QDRANT_COLLECTIONS_* env vars, defaulting to the bucket names themselves.
func collectionNames() ingest.CollectionNames {
	return ingest.CollectionNames{
		Docs:     getEnvOrDefault("QDRANT_COLLECTIONS_DOCS", "docs"),
		PDFs:     getEnvOrDefault("QDRANT_COLLECTIONS_PDFS", "pdfs"),
		Books:    getEnvOrDefault("QDRANT_COLLECTIONS_BOOKS", "books"),
		Articles: getEnvOrDefault("QDRANT_COLLECTIONS_ARTICLES", "articles"),
	}
}

// collectionNamesByBucket reshapes collectionNames for audit.AuditByURL,
// which indexes by collection.Name rather than by struct field.
func collectionNamesByBucket(c ingest.CollectionNames) map[collection.Name]string {
	return map[collection.Name]string{
		collection.Docs:     c.Docs,
		collection.PDFs:     c.PDFs,
		collection.Books:    c.Books,
		collection.Articles: c.Articles,
	}
}

// fanOutCollections returns the distinct set of collection names hybrid
// search fans out across. Presently fixed to the four routed buckets.
func fanOutCollections(c ingest.CollectionNames) []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range []string{c.Docs, c.PDFs, c.Books, c.Articles} {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// connectQdrant dials Qdrant using QDRANT_HOST/PORT/API_KEY/TLS env vars.
// Returns (nil, nil) when QDRANT_HOST is unset — the caller must treat that
// as "vector store disabled".
func connectQdrant() (*qdrant.Client, error) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		return nil, nil
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   getEnvInt("QDRANT_PORT", 6334),
		APIKey: os.Getenv("QDRANT_API_KEY"),
		UseTLS: getEnvBool("QDRANT_TLS"),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to connect to %s:%d: %w", host, getEnvInt("QDRANT_PORT", 6334), err)
	}
	return client, nil
}

// searchConfig resolves the hybrid-search tuning parameters from env vars,
// falling back to search.DefaultConfig.
func searchConfig() search.Config {
	cfg := search.DefaultConfig()
	if v := os.Getenv("QDRANT_DENSE_VECTOR_NAME"); v != "" {
		cfg.DenseVectorName = v
	}
	if v := os.Getenv("QDRANT_SPARSE_VECTOR_NAME"); v != "" {
		cfg.SparseVectorName = v
	}
	if v := getEnvInt("QDRANT_PREFETCH_LIMIT", 0); v > 0 {
		cfg.PrefetchLimit = uint64(v) //nolint:gosec // bounded by config
	}
	if v := getEnvInt("QDRANT_RRF_K", 0); v > 0 {
		cfg.RRFK = uint64(v) //nolint:gosec // bounded by config
	}
	if v := os.Getenv("QDRANT_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.QueryTimeout = d
		}
	}
	cfg.FailOnPartialSearchError = getEnvBool("QDRANT_FAIL_ON_PARTIAL_SEARCH_ERROR")
	return cfg
}

// embeddingBackend resolves the embedding provider name, inheriting from the
// chat model provider when EMBEDDING_PROVIDER is unset.
func embeddingBackend() string {
	return getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
}

// wrapEmbedderCache wraps emb with the persistent content-addressed embedding
// cache unless EMBEDDING_CACHE=disabled. The cache key incorporates the
// backend, model, and dimensions so switching models never serves stale
// vectors. The returned closer flushes and stops the cache; it is nil when
// caching is disabled.
func wrapEmbedderCache(emb embedder.Embedder, dims int, log *slog.Logger) (embedder.Embedder, func() error) {
	if os.Getenv("EMBEDDING_CACHE") == "disabled" {
		return emb, nil
	}
	path := os.Getenv("EMBEDDING_CACHE_PATH")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Warn("commands: embedding cache disabled, could not resolve home dir", slog.Any("error", err))
			return emb, nil
		}
		path = home + "/.ragcore/data/embeddings-cache/embeddings_cache.gz"
	}
	meta := fmt.Sprintf("%s/%s/%d", embeddingBackend(), os.Getenv("EMBEDDING_MODEL"), dims)
	cached := embedder.NewCached(emb, path, meta, log)
	return cached, cached.Close
}

// providerConfigFromEnv builds a *provider.Config identical to the one
// provider.NewFromEnv constructs internally, so callers that need the Config
// for health checks or router wiring don't have to duplicate env parsing.
func providerConfigFromEnv(backend provider.Backend) *provider.Config {
	return &provider.Config{
		Backend: backend,
		Ollama: provider.ProviderOllama{
			Host:  getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
			Model: getEnvOrDefault("OLLAMA_MODEL", "llama3"),
		},
		OpenAI: provider.ProviderOpenAI{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  getEnvOrDefault("OPENAI_MODEL", "gpt-4o"),
		},
		AzureOpenAI: provider.ProviderAzureOpenAI{
			APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Bedrock: provider.ProviderBedrock{
			AWSRegion: getEnvOrDefault("AWS_REGION", "us-east-1"),
			ModelID:   os.Getenv("BEDROCK_MODEL_ID"),
		},
		Gemini: provider.ProviderGemini{
			APIKey: os.Getenv("GOOGLE_API_KEY"),
			Model:  getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-pro"),
		},
		GithubModels: provider.ProviderGithubModels{
			Token:    os.Getenv("GITHUB_MODELS_TOKEN"),
			Model:    getEnvOrDefault("GITHUB_MODELS_MODEL", "gpt-4o"),
			Endpoint: getEnvOrDefault("GITHUB_MODELS_ENDPOINT", "https://models.inference.ai.azure.com"),
		},
		Tuning: provider.SharedTuning{
			MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", 4096),
			Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0.2),
		},
	}
}

// modelIDFor resolves the configured model id for a backend, so the request
// factory receives a real model name rather than the provider name.
func modelIDFor(backend provider.Backend, cfg *provider.Config) string {
	switch backend {
	case provider.BackendOllama:
		return cfg.Ollama.Model
	case provider.BackendOpenAI:
		return cfg.OpenAI.Model
	case provider.BackendAzure:
		return cfg.AzureOpenAI.Deployment
	case provider.BackendBedrock:
		return cfg.Bedrock.ModelID
	case provider.BackendGemini:
		return cfg.Gemini.Model
	case provider.BackendGithubModels:
		return cfg.GithubModels.Model
	default:
		return ""
	}
}

// buildRouterAndClients constructs the provider router and the
// per-backend streaming clients map, wiring the primary backend from
// LLM_PRIMARY_PROVIDER/MODEL_PROVIDER and an optional secondary backend from
// LLM_SECONDARY_PROVIDER.
func buildRouterAndClients(ctx context.Context, gate provider.Gate, log *slog.Logger) (*provider.Router, map[provider.Backend]streaming.Client, error) {
	primaryName := getEnvOrDefault("LLM_PRIMARY_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	primaryBackend := provider.Backend(primaryName)
	primaryCfg := providerConfigFromEnv(primaryBackend)

	primaryModel, err := provider.New(ctx, primaryCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("commands: failed to initialise primary provider %q: %w", primaryBackend, err)
	}

	clients := map[provider.Backend]streaming.Client{
		primaryBackend: streaming.NewModelClient(primaryModel),
	}

	secondaryBackend := provider.Backend(os.Getenv("LLM_SECONDARY_PROVIDER"))
	if secondaryBackend != "" && secondaryBackend != primaryBackend {
		secondaryCfg := providerConfigFromEnv(secondaryBackend)
		secondaryModel, err := provider.New(ctx, secondaryCfg)
		if err != nil {
			log.Warn("commands: secondary provider unavailable, continuing with primary only",
				slog.String("backend", string(secondaryBackend)), slog.Any("error", err))
			secondaryBackend = ""
		} else {
			clients[secondaryBackend] = streaming.NewModelClient(secondaryModel)
		}
	}

	primaryBackoff := time.Duration(getEnvInt("LLM_PRIMARY_BACKOFF_SECONDS", 0)) * time.Second
	router := provider.NewRouter(primaryBackend, secondaryBackend, primaryBackoff, gate)
	return router, clients, nil
}

// buildPingers constructs the readiness probes for GET /api/ready: one per
// wired streaming client's backend, plus Qdrant when connected.
func buildPingers(clients map[provider.Backend]streaming.Client, qdrantClient *qdrant.Client) []server.Pinger {
	var pingers []server.Pinger
	for backend := range clients {
		cfg := providerConfigFromEnv(backend)
		hc := provider.NewHealthCheckConfig(backend, cfg)
		pingers = append(pingers, server.NewLLMPinger(nil, hc, string(backend)))
	}
	if qdrantClient != nil {
		pingers = append(pingers, server.NewQdrantPinger(qdrantClient))
	}
	return pingers
}

// healthPingerAdapter adapts a server.Pinger to health.Pinger — the two
// interfaces are structurally identical but declared in independent
// packages, so no implicit conversion exists.
type healthPingerAdapter struct{ p server.Pinger }

func (h healthPingerAdapter) Ping(ctx context.Context) error { return h.p.Ping(ctx) }
func (h healthPingerAdapter) Name() string                   { return h.p.Name() }

func toHealthPingers(pingers []server.Pinger) []health.Pinger {
	out := make([]health.Pinger, 0, len(pingers))
	for _, p := range pingers {
		out = append(out, healthPingerAdapter{p})
	}
	return out
}

// engine bundles every dependency the ask/serve commands need, built once
// from the environment and closed together on shutdown.
type engine struct {
	Orchestrator *orchestrator.Orchestrator
	Health       *health.Monitor
	Pingers      []server.Pinger
	Collections  ingest.CollectionNames
	// QdrantClient is nil when QDRANT_HOST is unset (RAG disabled).
	QdrantClient *qdrant.Client
	closers      []func() error
}

// Close releases every resource buildEngine opened, in reverse order.
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			slog.Default().Warn("commands: error closing dependency", slog.Any("error", err))
		}
	}
}

// buildEngine wires the rate-limit gate, provider router,
// streaming engine, retrieval facade, conversation history, and
// health monitor into a ready-to-use Orchestrator.
func buildEngine(ctx context.Context, log *slog.Logger) (*engine, error) {
	e := &engine{Collections: collectionNames()}

	gatePath := os.Getenv("RAGCORE_RATELIMIT_DB")
	if gatePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			gatePath = home + "/.ragcore/ratelimit.json"
		} else {
			gatePath = "ratelimit.json"
		}
	}
	gate, err := ratelimit.Open(gatePath, log)
	if err != nil {
		return nil, fmt.Errorf("commands: failed to open rate-limit store: %w", err)
	}
	e.closers = append(e.closers, gate.Close)

	router, clients, err := buildRouterAndClients(ctx, gate, log)
	if err != nil {
		return nil, err
	}
	streamEngine := streaming.NewEngine(router, gate, clients)

	qdrantClient, err := connectQdrant()
	if err != nil {
		return nil, err
	}
	if qdrantClient != nil {
		e.closers = append(e.closers, qdrantClient.Close)
	}
	e.QdrantClient = qdrantClient
	e.Pingers = buildPingers(clients, qdrantClient)

	var retriever orchestrator.Retriever
	if qdrantClient != nil {
		if err := embedder.ValidateForRAG(log); err != nil {
			log.Warn("commands: RAG disabled, embedder misconfigured", slog.Any("error", err))
		} else if emb, err := embedder.NewFromEnv(); err != nil {
			log.Warn("commands: RAG disabled, failed to initialise embedder", slog.Any("error", err))
		} else {
			dims := embedder.DefaultDimensions(embeddingBackend())
			batched := embedder.NewBatched(emb, getEnvInt("EMBEDDING_BATCH_SIZE", 32), dims)
			queryEmbedder, cacheCloser := wrapEmbedderCache(batched, dims, log)
			if cacheCloser != nil {
				e.closers = append(e.closers, cacheCloser)
			}
			searchStore := search.New(qdrantClient, searchConfig(), queryEmbedder)
			collections := fanOutCollections(e.Collections)
			retriever = retrieval.New(searchStore, retrieval.Config{
				Collections: func() []string { return collections },
				SearchTopK:  getEnvInt("RAG_SEARCH_TOP_K", 40),
				ReturnK:     getEnvInt("RAG_SEARCH_RETURN_K", 8),
			})
		}
	} else {
		log.Info("commands: RAG disabled, QDRANT_HOST not set")
	}

	var history store.ConversationStore
	dbPath := os.Getenv("RAGCORE_HISTORY_DB")
	switch dbPath {
	case "disabled":
		log.Info("commands: conversation history disabled")
	default:
		if dbPath == "" {
			if p, err := store.DefaultDBPath(); err != nil {
				log.Warn("commands: conversation history disabled, could not resolve default path", slog.Any("error", err))
			} else {
				dbPath = p
			}
		}
		if dbPath != "" {
			sqliteStore, err := store.Open(dbPath)
			if err != nil {
				log.Warn("commands: conversation history disabled, failed to open store", slog.Any("error", err))
			} else {
				history = sqliteStore
				e.closers = append(e.closers, sqliteStore.Close)
			}
		}
	}

	primaryBackend := router.Primary
	orch, err := orchestrator.New(orchestrator.Config{
		Engine:          streamEngine,
		Retriever:       retriever,
		History:         history,
		HistoryDepth:    getEnvInt("RAGCORE_HISTORY_DEPTH", 10),
		Model:           modelIDFor(primaryBackend, providerConfigFromEnv(primaryBackend)),
		ReasoningEffort: os.Getenv("LLM_REASONING_EFFORT"),
		Temperature:     getEnvFloat32("MODEL_TEMPERATURE", 0.2),
		TemperatureSet:  os.Getenv("MODEL_TEMPERATURE") != "",
	})
	if err != nil {
		return nil, fmt.Errorf("commands: failed to construct orchestrator: %w", err)
	}
	e.Orchestrator = orch
	e.Health = health.New(toHealthPingers(e.Pingers), log)

	return e, nil
}

// collectionChecker returns a health.CollectionChecker that probes a single
// Qdrant collection's existence, for the post-startup liveness check.
// Returns nil when the
// vector store is disabled.
func collectionChecker(client *qdrant.Client) health.CollectionChecker {
	if client == nil {
		return nil
	}
	return func(ctx context.Context, coll string) error {
		exists, err := client.CollectionExists(ctx, coll)
		if err != nil {
			return fmt.Errorf("collection check: %w", err)
		}
		if !exists {
			return fmt.Errorf("collection check: %q does not exist", coll)
		}
		return nil
	}
}

// buildIngestPipeline wires the ingest pipeline for the `ingest`
// command: chunk store, Qdrant vector store, and embedder.
func buildIngestPipeline(ctx context.Context, log *slog.Logger) (*ingest.Pipeline, func() error, error) {
	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, nil, fmt.Errorf("ingest: %w", err)
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: failed to initialise embedder: %w", err)
	}

	qdrantClient, err := connectQdrant()
	if err != nil {
		return nil, nil, err
	}
	if qdrantClient == nil {
		return nil, nil, fmt.Errorf("ingest: QDRANT_HOST must be set")
	}

	dims := embedder.DefaultDimensions(embeddingBackend())
	batched := embedder.NewBatched(emb, getEnvInt("EMBEDDING_BATCH_SIZE", 32), dims)
	docEmbedder, cacheCloser := wrapEmbedderCache(batched, dims, log)
	searchStore := search.New(qdrantClient, searchConfig(), docEmbedder)

	closeAll := func() error {
		if cacheCloser != nil {
			if err := cacheCloser(); err != nil {
				_ = qdrantClient.Close()
				return err
			}
		}
		return qdrantClient.Close()
	}

	names := collectionNames()
	for _, name := range fanOutCollections(names) {
		if err := searchStore.EnsureCollection(ctx, name, uint64(dims)); err != nil { //nolint:gosec // dims is bounded
			_ = closeAll()
			return nil, nil, fmt.Errorf("ingest: failed to ensure collection %q: %w", name, err)
		}
	}

	chunkRoot := os.Getenv("DOCS_PARSED_DIR")
	if chunkRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("ingest: could not resolve default chunk store path: %w", err)
		}
		chunkRoot = home + "/.ragcore/docs"
	}
	chunks := chunkstore.New(chunkRoot)

	pipeline := ingest.New(chunks, searchStore, docEmbedder, ingest.Config{
		Collections:   names,
		DenseSize:     uint64(dims), //nolint:gosec // dims is bounded
		OverlapTokens: chunking.DefaultOverlapTokens,
	})

	return pipeline, closeAll, nil
}
