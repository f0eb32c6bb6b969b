package commands

import (
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/ragcore/engine/internal/server"
	"github.com/ragcore/engine/internal/tracing"
)

// NewServeCmd constructs the `ragcore serve` command, which starts the HTTP
// server and serves the chat web UI.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var apiKey string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragcore HTTP server and chat UI",
		Long: `Start the ragcore HTTP server on localhost.

The server exposes a REST/SSE chat API backed by hybrid retrieval and
provider failover, plus /api/health and /api/ready liveness/readiness
endpoints, and serves the static chat web UI.

Examples:
  ragcore serve
  ragcore serve --port 9090
  MODEL_PROVIDER=azure ragcore serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("serve: MODEL_PROVIDER=%q", getEnvOrDefault("MODEL_PROVIDER", "ollama"))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Printf("serve: langfuse tracing enabled")
			} else {
				log.Printf("serve: langfuse tracing disabled (LANGFUSE_PUBLIC_KEY not set)")
			}

			eng, err := buildEngine(ctx, slog.Default())
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer eng.Close()
			log.Printf("serve: engine initialised successfully")

			// Post-startup collection liveness check: verify every
			// configured collection responds before serving real traffic.
			// When Qdrant is disabled, pass no collections so VerifyCollections
			// takes its "nothing configured" branch instead of invoking a nil checker.
			var checkCollections []string
			if eng.QdrantClient != nil {
				checkCollections = fanOutCollections(eng.Collections)
			}
			state := eng.Health.VerifyCollections(ctx, checkCollections, collectionChecker(eng.QdrantClient))
			if !state.Healthy {
				log.Printf("serve: warning — collection liveness check failed, search may degrade")
			}

			if apiKey == "" {
				apiKey = getEnvOrDefault("RAGCORE_API_KEY", "")
			}

			srv, err := server.New(eng.Orchestrator, &server.Config{
				Host:    host,
				Port:    port,
				Pingers: eng.Pingers,
				APIKey:  apiKey,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer token required on /api/* routes (default: unauthenticated)")

	return cmd
}
