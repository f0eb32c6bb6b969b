package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragcore/engine/internal/search"
	"github.com/ragcore/engine/internal/streaming"
)

// NewAskCmd constructs the `ragcore ask` command, which sends a single
// natural language question through the orchestrator and streams the
// response to stdout.
func NewAskCmd() *cobra.Command {
	var sessionID string
	var docVersion, sourceKind, docType, sourceName string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a documentation question",
		Long: `Ask the retrieval-augmented assistant a natural language question.

The question is answered using hybrid dense+sparse search over the ingested
documentation corpus, reranked and injected as context for the model.

Examples:
  ragcore ask "how does RRF fusion weight dense vs sparse hits?"
  ragcore ask --session team-standup "what changed in the last release?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			eng, err := buildEngine(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer eng.Close()

			question := args[0]
			constraint := search.Constraint{
				DocVersion: docVersion,
				SourceKind: sourceKind,
				DocType:    docType,
				SourceName: sourceName,
			}

			chunks, err := eng.Orchestrator.Query(ctx, sessionID, question, constraint)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			for chunk := range chunks {
				switch chunk.Kind {
				case streaming.ChunkText:
					fmt.Fprint(os.Stdout, chunk.Text)
				case streaming.ChunkNotice:
					fmt.Fprintf(os.Stderr, "\n[%s] %s\n", chunk.Notice.Code, chunk.Notice.Summary)
				case streaming.ChunkEnd:
					fmt.Fprintln(os.Stdout)
				case streaming.ChunkError:
					fmt.Fprintln(os.Stdout)
					return fmt.Errorf("ask: %w", chunk.Err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "default", "Conversation session key for history continuity")
	cmd.Flags().StringVar(&docVersion, "doc-version", "", "Constrain retrieval to a documentation version")
	cmd.Flags().StringVar(&sourceKind, "source-kind", "", "Constrain retrieval to a source kind")
	cmd.Flags().StringVar(&docType, "doc-type", "", "Constrain retrieval to a documentation type")
	cmd.Flags().StringVar(&sourceName, "source-name", "", "Constrain retrieval to a named source")

	return cmd
}
