package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragcore/engine/internal/audit"
	"github.com/ragcore/engine/internal/chunkstore"
	"github.com/ragcore/engine/internal/search"
)

// NewAuditCmd constructs the `ragcore audit` command, which reconciles the
// local parsed-chunk store against the vector store for one url.
func NewAuditCmd() *cobra.Command {
	var docSet, docPath, docType string

	cmd := &cobra.Command{
		Use:   "audit [url]",
		Short: "Reconcile the chunk store against the vector store for a url",
		Long: `Recompute the expected chunk hashes for a url from the local parsed-chunk
store and compare them against what is actually stored in the vector store's
routed collection, reporting missing, extra, and duplicate points.

Examples:
  ragcore audit https://docs.example.com/guide
  ragcore audit --doc-set books/handbook ./handbook.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()
			url := args[0]

			qdrantClient, err := connectQdrant()
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}
			if qdrantClient == nil {
				return fmt.Errorf("audit: QDRANT_HOST must be set")
			}
			defer qdrantClient.Close()

			searchStore := search.New(qdrantClient, searchConfig(), nil)

			chunkRoot := os.Getenv("DOCS_PARSED_DIR")
			if chunkRoot == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("audit: could not resolve default chunk store path: %w", err)
				}
				chunkRoot = home + "/.ragcore/docs"
			}
			chunks := chunkstore.New(chunkRoot)

			report, err := audit.AuditByURL(ctx, chunks, searchStore, collectionNamesByBucket(collectionNames()), docSet, docPath, docType, url)
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}

			logReport(log, report)
			if !report.OK {
				return fmt.Errorf("audit: %s is inconsistent (missing=%d extra=%d duplicates=%d)",
					url, report.MissingCount, report.ExtraCount, len(report.Duplicates))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&docSet, "doc-set", "", "Document set used to resolve the collection router")
	cmd.Flags().StringVar(&docPath, "doc-path", "", "Document path used to resolve the collection router")
	cmd.Flags().StringVar(&docType, "doc-type", "", "Document type used to resolve the collection router")

	return cmd
}

func logReport(log *slog.Logger, report audit.Report) {
	log.Info("audit: reconciliation complete",
		slog.String("url", report.URL),
		slog.Int("expected", report.ExpectedCount),
		slog.Int("actual", report.ActualCount),
		slog.Int("missing", report.MissingCount),
		slog.Int("extra", report.ExtraCount),
		slog.Int("duplicates", len(report.Duplicates)),
		slog.Bool("ok", report.OK),
	)
	if len(report.MissingSample) > 0 {
		log.Warn("audit: missing hash sample", slog.Any("hashes", report.MissingSample))
	}
	if len(report.ExtraSample) > 0 {
		log.Warn("audit: extra hash sample", slog.Any("hashes", report.ExtraSample))
	}
}
