// Package ingest implements the ingest pipeline: it orchestrates chunking,
// hashing, sparse encoding, embedding, the local chunk store, collection
// routing, and the vector store upsert into one idempotent flow.
package ingest

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/ragcore/engine/internal/chunking"
	"github.com/ragcore/engine/internal/chunkstore"
	"github.com/ragcore/engine/internal/collection"
	"github.com/ragcore/engine/internal/document"
	"github.com/ragcore/engine/internal/hashing"
	"github.com/ragcore/engine/internal/sparse"
)

// Embedder produces dense embeddings for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the subset of internal/search.Store the ingest pipeline
// needs: create-on-demand collections, upsert, and force-reingest deletion.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, denseSize uint64) error
	Upsert(ctx context.Context, coll string, records []document.Record, dense [][]float32, sparseVecs []sparse.Vector, ids []string) error
	DeleteByURL(ctx context.Context, coll, url string) error
}

// CollectionNames maps the four logical buckets the router targets onto the
// concrete Qdrant collection names configured for this deployment.
type CollectionNames struct {
	Docs     string
	PDFs     string
	Books    string
	Articles string
}

// resolve returns the concrete collection name for a routed bucket.
func (c CollectionNames) resolve(bucket collection.Name) string {
	switch bucket {
	case collection.Books:
		return c.Books
	case collection.Articles:
		return c.Articles
	case collection.PDFs:
		return c.PDFs
	default:
		return c.Docs
	}
}

// Result summarizes one process_and_store call.
type Result struct {
	Documents     []document.Record
	TotalChunks   int
	SkippedChunks int
}

// Pipeline is the ingest orchestrator. It is safe for concurrent use.
type Pipeline struct {
	chunks      *chunkstore.Store
	vectors     VectorStore
	embed       Embedder
	collections CollectionNames
	denseSize   uint64

	maxTokens     int
	overlapTokens int
}

// Config configures Pipeline construction.
type Config struct {
	Collections   CollectionNames
	DenseSize     uint64
	MaxTokens     int // defaults to chunking.DefaultMaxTokens
	OverlapTokens int // 0 means no overlap; negative uses chunking.DefaultOverlapTokens
}

// New constructs a Pipeline.
func New(chunks *chunkstore.Store, vectors VectorStore, embed Embedder, cfg Config) *Pipeline {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = chunking.DefaultMaxTokens
	}
	overlap := cfg.OverlapTokens
	if overlap < 0 {
		overlap = chunking.DefaultOverlapTokens
	}
	return &Pipeline{
		chunks:        chunks,
		vectors:       vectors,
		embed:         embed,
		collections:   cfg.Collections,
		denseSize:     cfg.DenseSize,
		maxTokens:     maxTokens,
		overlapTokens: overlap,
	}
}

// ProcessAndStore chunks text into token windows, hashes each chunk, skips
// chunks already marked ingested, persists the remaining chunk text to the
// local store, and returns the resulting documents for Upsert.
func (p *Pipeline) ProcessAndStore(ctx context.Context, text, url, title, pkg string, meta document.Metadata) (Result, error) {
	return p.processAndStore(ctx, text, url, title, pkg, meta, false)
}

// ProcessAndStoreForce is ProcessAndStore but ignores ingest markers, used
// after a prior source's vectors have been deleted for a force-reingest.
func (p *Pipeline) ProcessAndStoreForce(ctx context.Context, text, url, title, pkg string, meta document.Metadata) (Result, error) {
	return p.processAndStore(ctx, text, url, title, pkg, meta, true)
}

func (p *Pipeline) processAndStore(ctx context.Context, text, url, title, pkg string, meta document.Metadata, force bool) (Result, error) {
	chunks, err := chunking.Chunk(text, p.maxTokens, p.overlapTokens)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: chunk %s: %w", url, err)
	}

	var result Result
	result.TotalChunks = len(chunks)

	for i, chunkText := range chunks {
		hash := hashing.Hash(url, i, chunkText)
		if !force && p.chunks.IsHashIngested(hash) {
			result.SkippedChunks++
			recordChunk("skipped")
			continue
		}
		recordChunk("ingested")

		if err := p.chunks.SaveChunkText(url, i, chunkText, hash); err != nil {
			return Result{}, fmt.Errorf("ingest: save chunk text %s#%d: %w", url, i, err)
		}

		result.Documents = append(result.Documents, document.Record{
			Chunk: document.Chunk{
				SourceURL:  url,
				Title:      title,
				Package:    pkg,
				ChunkIndex: i,
				Text:       chunkText,
				Hash:       hash,
			},
			Metadata: meta,
		})
	}

	return result, nil
}

// ProcessPDFAndStoreWithPages chunks a PDF file one page at a time, setting
// page_start = page_end = page_number on every resulting chunk. PDF
// chunks use no token overlap between pages: PDF mode runs at 900/0 tokens.
func (p *Pipeline) ProcessPDFAndStoreWithPages(ctx context.Context, path, url, title, pkg string, meta document.Metadata) (Result, error) {
	return p.processPDFAndStoreWithPages(ctx, path, url, title, pkg, meta, false)
}

// ProcessPDFAndStoreWithPagesForce is ProcessPDFAndStoreWithPages but ignores
// ingest markers.
func (p *Pipeline) ProcessPDFAndStoreWithPagesForce(ctx context.Context, path, url, title, pkg string, meta document.Metadata) (Result, error) {
	return p.processPDFAndStoreWithPages(ctx, path, url, title, pkg, meta, true)
}

func (p *Pipeline) processPDFAndStoreWithPages(ctx context.Context, path, url, title, pkg string, meta document.Metadata, force bool) (Result, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: open pdf %s: %w", path, err)
	}
	defer f.Close()

	var result Result
	index := 0
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageChunks, err := chunking.Chunk(pageText, p.maxTokens, 0)
		if err != nil {
			return Result{}, fmt.Errorf("ingest: chunk pdf page %d of %s: %w", pageNum, path, err)
		}

		for _, chunkText := range pageChunks {
			result.TotalChunks++
			hash := hashing.Hash(url, index, chunkText)
			if !force && p.chunks.IsHashIngested(hash) {
				result.SkippedChunks++
				recordChunk("skipped")
				index++
				continue
			}
			recordChunk("ingested")

			if err := p.chunks.SaveChunkText(url, index, chunkText, hash); err != nil {
				return Result{}, fmt.Errorf("ingest: save pdf chunk text %s#%d: %w", url, index, err)
			}

			page := pageNum
			result.Documents = append(result.Documents, document.Record{
				Chunk: document.Chunk{
					SourceURL:  url,
					Title:      title,
					Package:    pkg,
					ChunkIndex: index,
					Text:       chunkText,
					PageStart:  &page,
					PageEnd:    &page,
					Hash:       hash,
				},
				Metadata: meta,
			})
			index++
		}
	}

	return result, nil
}

// DeleteForReingest removes every existing vector for url across every
// routed bucket, so a subsequent …Force call starts from a clean slate
// (delete-all-then-force-reingest rather than a diff-based update).
func (p *Pipeline) DeleteForReingest(ctx context.Context, docSet, docPath, docType, url string) error {
	bucket := collection.Route(docSet, docPath, docType, url)
	coll := p.collections.resolve(bucket)
	if err := p.vectors.DeleteByURL(ctx, coll, url); err != nil {
		return fmt.Errorf("ingest: delete for reingest %s: %w", url, err)
	}
	return nil
}

// Upsert embeds, sparse-encodes, and writes each document's point into its
// routed collection, then marks each chunk's hash ingested strictly after
// its upsert is acknowledged. Documents are grouped by destination
// collection and each
// group's upsert runs concurrently via errgroup; the marker writes for a
// group only happen once that group's upsert call has returned without
// error.
func (p *Pipeline) Upsert(ctx context.Context, documents []document.Record) error {
	if len(documents) == 0 {
		return nil
	}

	texts := make([]string, len(documents))
	for i, d := range documents {
		texts[i] = d.Text
	}
	dense, err := p.embed.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("ingest: embed batch: %w", err)
	}
	if len(dense) != len(documents) {
		return fmt.Errorf("ingest: embed batch: expected %d vectors, got %d", len(documents), len(dense))
	}

	groups := make(map[string][]int)
	for i, d := range documents {
		bucket := collection.Route(d.DocSet, d.DocPath, d.DocType, d.SourceURL)
		coll := p.collections.resolve(bucket)
		groups[coll] = append(groups[coll], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	for coll, idxs := range groups {
		coll, idxs := coll, idxs
		g.Go(func() error {
			if err := p.vectors.EnsureCollection(gctx, coll, p.denseSize); err != nil {
				return err
			}

			recs := make([]document.Record, len(idxs))
			vecs := make([][]float32, len(idxs))
			sparseVecs := make([]sparse.Vector, len(idxs))
			ids := make([]string, len(idxs))
			for j, i := range idxs {
				recs[j] = documents[i]
				vecs[j] = dense[i]
				sparseVecs[j] = sparse.Encode(documents[i].Text)
				pointID, err := hashing.PointID(documents[i].Hash)
				if err != nil {
					return fmt.Errorf("ingest: point id for %s: %w", documents[i].SourceURL, err)
				}
				ids[j] = pointID.String()
			}

			if err := p.vectors.Upsert(gctx, coll, recs, vecs, sparseVecs, ids); err != nil {
				return fmt.Errorf("ingest: upsert into %s: %w", coll, err)
			}
			recordUpserted(coll, len(idxs))

			for _, i := range idxs {
				if err := p.chunks.MarkHashIngested(documents[i].Hash); err != nil {
					return fmt.Errorf("ingest: mark hash ingested %s: %w", documents[i].Hash, err)
				}
			}
			return nil
		})
	}

	return g.Wait()
}
