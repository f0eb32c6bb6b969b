// Package commands defines all Cobra CLI commands for the ragcore binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/ragcore/engine/internal/audit"
	"github.com/ragcore/engine/internal/config"
	"github.com/ragcore/engine/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragcore",
		Short: "ragcore — a local-first retrieval-augmented generation engine",
		Long: `ragcore is a local-first RAG engine: it ingests documentation into a hybrid
dense+sparse vector store, retrieves and reranks the most relevant chunks for
a query, and streams an LLM answer with automatic provider failover.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.ragcore/config.yaml).
See 'ragcore --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragcore/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewIngestCmd(),
		NewAuditCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
