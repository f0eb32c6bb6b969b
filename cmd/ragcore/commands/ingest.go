package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragcore/engine/internal/document"
	"github.com/ragcore/engine/internal/ingest"
)

// reHTMLTag matches any HTML tag, used to strip markup from fetched pages.
var reHTMLTag = regexp.MustCompile(`<[^>]+>`)

// reWhitespace collapses runs of whitespace (including newlines) to a single space.
var reWhitespace = regexp.MustCompile(`\s{2,}`)

// NewIngestCmd constructs the `ragcore ingest` command, which runs the
// ingest pipeline over one or more local files, PDFs, or URLs.
func NewIngestCmd() *cobra.Command {
	var (
		urls        []string
		files       []string
		pdfs        []string
		docSet      string
		docPath     string
		docType     string
		sourceKind  string
		sourceName  string
		docVersion  string
		language    string
		repoURL     string
		repoOwner   string
		repoName    string
		repoBranch  string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documentation into the RAG vector store",
		Long: `Chunk, embed, and index documentation into the Qdrant vector store.

Sources can be fetched from HTTP(S) URLs, read from local text files, or
read page-by-page from local PDFs. Each source is chunked, hashed to skip
already-ingested content, embedded, sparse-encoded, routed to a collection,
and upserted.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  EMBEDDING_PROVIDER   Embedding backend: ollama, openai, azure (default: ollama)

Examples:
  ragcore ingest --url https://docs.example.com/guide --doc-set example/guide
  ragcore ingest --file ./notes.txt --doc-type reference
  ragcore ingest --pdf ./handbook.pdf --doc-set books/handbook --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			if len(urls) == 0 && len(files) == 0 && len(pdfs) == 0 {
				return fmt.Errorf("ingest: at least one --url, --file, or --pdf is required")
			}

			pipeline, closer, err := buildIngestPipeline(ctx, log)
			if err != nil {
				return err
			}
			defer closer()

			meta := document.Metadata{
				DocSet:     docSet,
				DocPath:    docPath,
				SourceName: sourceName,
				SourceKind: sourceKind,
				DocVersion: docVersion,
				DocType:    docType,
				Language:   language,
				RepoURL:    repoURL,
				RepoOwner:  repoOwner,
				RepoName:   repoName,
				RepoBranch: repoBranch,
			}

			client := &http.Client{Timeout: 30 * time.Second}
			var documents []document.Record
			var totalChunks, skippedChunks int

			for _, u := range urls {
				if force {
					if err := pipeline.DeleteForReingest(ctx, meta.DocSet, meta.DocPath, meta.DocType, u); err != nil {
						return fmt.Errorf("ingest: %w", err)
					}
				}
				text, err := fetchURL(ctx, client, u)
				if err != nil {
					return fmt.Errorf("ingest: fetch %s: %w", u, err)
				}
				sourceMeta := meta
				if sourceMeta.SourceName == "" {
					sourceMeta.SourceName = u
				}
				var res ingest.Result
				if force {
					res, err = pipeline.ProcessAndStoreForce(ctx, text, u, titleFromURL(u), "", sourceMeta)
				} else {
					res, err = pipeline.ProcessAndStore(ctx, text, u, titleFromURL(u), "", sourceMeta)
				}
				if err != nil {
					return fmt.Errorf("ingest: process %s: %w", u, err)
				}
				log.Info("ingest: processed url", slog.String("url", u), slog.Int("chunks", res.TotalChunks), slog.Int("skipped", res.SkippedChunks))
				documents = append(documents, res.Documents...)
				totalChunks += res.TotalChunks
				skippedChunks += res.SkippedChunks
			}

			for _, path := range files {
				if force {
					if err := pipeline.DeleteForReingest(ctx, meta.DocSet, meta.DocPath, meta.DocType, path); err != nil {
						return fmt.Errorf("ingest: %w", err)
					}
				}
				raw, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: read %s: %w", path, err)
				}
				sourceMeta := meta
				sourceMeta.FilePath = path
				if sourceMeta.SourceName == "" {
					sourceMeta.SourceName = filepath.Base(path)
				}
				var res ingest.Result
				if force {
					res, err = pipeline.ProcessAndStoreForce(ctx, string(raw), path, titleFromURL(path), "", sourceMeta)
				} else {
					res, err = pipeline.ProcessAndStore(ctx, string(raw), path, titleFromURL(path), "", sourceMeta)
				}
				if err != nil {
					return fmt.Errorf("ingest: process %s: %w", path, err)
				}
				log.Info("ingest: processed file", slog.String("path", path), slog.Int("chunks", res.TotalChunks), slog.Int("skipped", res.SkippedChunks))
				documents = append(documents, res.Documents...)
				totalChunks += res.TotalChunks
				skippedChunks += res.SkippedChunks
			}

			for _, path := range pdfs {
				if force {
					if err := pipeline.DeleteForReingest(ctx, meta.DocSet, meta.DocPath, meta.DocType, path); err != nil {
						return fmt.Errorf("ingest: %w", err)
					}
				}
				sourceMeta := meta
				sourceMeta.FilePath = path
				sourceMeta.DocType = "pdf"
				if sourceMeta.SourceName == "" {
					sourceMeta.SourceName = filepath.Base(path)
				}
				var res ingest.Result
				var err error
				if force {
					res, err = pipeline.ProcessPDFAndStoreWithPagesForce(ctx, path, path, titleFromURL(path), "", sourceMeta)
				} else {
					res, err = pipeline.ProcessPDFAndStoreWithPages(ctx, path, path, titleFromURL(path), "", sourceMeta)
				}
				if err != nil {
					return fmt.Errorf("ingest: process pdf %s: %w", path, err)
				}
				log.Info("ingest: processed pdf", slog.String("path", path), slog.Int("chunks", res.TotalChunks), slog.Int("skipped", res.SkippedChunks))
				documents = append(documents, res.Documents...)
				totalChunks += res.TotalChunks
				skippedChunks += res.SkippedChunks
			}

			if err := pipeline.Upsert(ctx, documents); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("ingest: complete",
				slog.Int("upserted", len(documents)),
				slog.Int("total_chunks", totalChunks),
				slog.Int("skipped_chunks", skippedChunks),
			)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "HTTP(S) documentation URL to ingest (repeatable)")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Local text file to ingest (repeatable)")
	cmd.Flags().StringArrayVar(&pdfs, "pdf", nil, "Local PDF file to ingest page-by-page (repeatable)")
	cmd.Flags().StringVar(&docSet, "doc-set", "", "Document set, used by the collection router")
	cmd.Flags().StringVar(&docPath, "doc-path", "", "Document path within the doc set")
	cmd.Flags().StringVar(&docType, "doc-type", "", "Documentation type (reference, tutorial, guide, api, changelog, blog)")
	cmd.Flags().StringVar(&sourceKind, "source-kind", "", "Source kind payload field")
	cmd.Flags().StringVar(&sourceName, "source-name", "", "Source name payload field (defaults to URL/filename)")
	cmd.Flags().StringVar(&docVersion, "doc-version", "", "Documentation version payload field")
	cmd.Flags().StringVar(&language, "language", "", "Source language payload field")
	cmd.Flags().StringVar(&repoURL, "repo-url", "", "Repository URL payload field")
	cmd.Flags().StringVar(&repoOwner, "repo-owner", "", "Repository owner payload field")
	cmd.Flags().StringVar(&repoName, "repo-name", "", "Repository name payload field")
	cmd.Flags().StringVar(&repoBranch, "repo-branch", "", "Repository branch payload field")
	cmd.Flags().BoolVar(&force, "force", false, "Delete existing vectors for each source before reingesting")

	return cmd
}

// titleFromURL derives a human-readable title from a URL or file path by
// taking its final path segment.
func titleFromURL(u string) string {
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndexAny(u, "/\\"); i >= 0 && i+1 < len(u) {
		return u[i+1:]
	}
	return u
}

// fetchURL retrieves a URL's body and strips HTML markup when the response
// looks like an HTML page.
func fetchURL(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "ragcore/1.0 (documentation ingestion)")
	req.Header.Set("Accept", "text/plain, text/html")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	text := string(body)
	if strings.Contains(text, "<html") || strings.Contains(text, "<!DOCTYPE") {
		text = stripHTML(text)
	}
	return text, nil
}

// stripHTML removes HTML tags and collapses whitespace from a raw HTML
// string, returning plain text suitable for chunking and embedding.
func stripHTML(raw string) string {
	text := reHTMLTag.ReplaceAllString(raw, " ")
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
