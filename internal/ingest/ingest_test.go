package ingest

import (
	"context"
	"sort"
	"testing"

	"github.com/ragcore/engine/internal/chunkstore"
	"github.com/ragcore/engine/internal/document"
	"github.com/ragcore/engine/internal/sparse"
)

type fakeEmbedder struct {
	dim int
}

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

type fakeVectorStore struct {
	ensured []string
	upserts map[string][]document.Record
	deleted []string
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{upserts: make(map[string][]document.Record)}
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, name string, denseSize uint64) error {
	f.ensured = append(f.ensured, name)
	return nil
}

func (f *fakeVectorStore) Upsert(ctx context.Context, coll string, records []document.Record, dense [][]float32, sparseVecs []sparse.Vector, ids []string) error {
	if len(records) != len(dense) || len(records) != len(sparseVecs) || len(records) != len(ids) {
		panic("mismatched slice lengths")
	}
	f.upserts[coll] = append(f.upserts[coll], records...)
	return nil
}

func (f *fakeVectorStore) DeleteByURL(ctx context.Context, coll, url string) error {
	f.deleted = append(f.deleted, coll+":"+url)
	return nil
}

func TestProcessAndStore_SkipsAlreadyIngested(t *testing.T) {
	dir := t.TempDir()
	chunks := chunkstore.New(dir)
	p := New(chunks, newFakeVectorStore(), fakeEmbedder{dim: 4}, Config{
		Collections: CollectionNames{Docs: "docs"},
		MaxTokens:   50,
	})

	text := "Go is a statically typed, compiled programming language designed at Google."
	ctx := context.Background()

	result, err := p.ProcessAndStore(ctx, text, "https://example.com/a", "A", "pkg", document.Metadata{})
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	if result.SkippedChunks != 0 {
		t.Fatalf("expected no skips on first ingest, got %d", result.SkippedChunks)
	}
	if len(result.Documents) == 0 {
		t.Fatal("expected at least one document")
	}

	if err := p.Upsert(ctx, result.Documents); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	result2, err := p.ProcessAndStore(ctx, text, "https://example.com/a", "A", "pkg", document.Metadata{})
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if result2.SkippedChunks != result2.TotalChunks {
		t.Fatalf("expected every chunk skipped on reingest, got %d/%d skipped", result2.SkippedChunks, result2.TotalChunks)
	}
	if len(result2.Documents) != 0 {
		t.Fatalf("expected no documents on reingest, got %d", len(result2.Documents))
	}
}

func TestProcessAndStoreForce_IgnoresMarkers(t *testing.T) {
	dir := t.TempDir()
	chunks := chunkstore.New(dir)
	p := New(chunks, newFakeVectorStore(), fakeEmbedder{dim: 4}, Config{
		Collections: CollectionNames{Docs: "docs"},
		MaxTokens:   50,
	})
	ctx := context.Background()

	text := "A short document about Go generics and type parameters."
	result, err := p.ProcessAndStore(ctx, text, "https://example.com/b", "B", "pkg", document.Metadata{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Upsert(ctx, result.Documents); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	forced, err := p.ProcessAndStoreForce(ctx, text, "https://example.com/b", "B", "pkg", document.Metadata{})
	if err != nil {
		t.Fatalf("force process: %v", err)
	}
	if forced.SkippedChunks != 0 {
		t.Fatalf("expected force variant to skip nothing, got %d skipped", forced.SkippedChunks)
	}
}

func TestUpsert_RoutesByCollectionAndMarksHashes(t *testing.T) {
	dir := t.TempDir()
	chunks := chunkstore.New(dir)
	store := newFakeVectorStore()
	p := New(chunks, store, fakeEmbedder{dim: 4}, Config{
		Collections: CollectionNames{Docs: "docs", Books: "books"},
		MaxTokens:   50,
	})
	ctx := context.Background()

	docResult, err := p.ProcessAndStore(ctx, "plain documentation text about HTTP handlers", "https://example.com/doc", "Doc", "pkg", document.Metadata{DocSet: "misc"})
	if err != nil {
		t.Fatalf("process doc: %v", err)
	}
	bookResult, err := p.ProcessAndStore(ctx, "a whole chapter about concurrency primitives", "https://example.com/book", "Book", "pkg", document.Metadata{DocSet: "books"})
	if err != nil {
		t.Fatalf("process book: %v", err)
	}

	all := append(append([]document.Record{}, docResult.Documents...), bookResult.Documents...)
	if err := p.Upsert(ctx, all); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if len(store.upserts["docs"]) != len(docResult.Documents) {
		t.Errorf("docs collection: got %d records, want %d", len(store.upserts["docs"]), len(docResult.Documents))
	}
	if len(store.upserts["books"]) != len(bookResult.Documents) {
		t.Errorf("books collection: got %d records, want %d", len(store.upserts["books"]), len(bookResult.Documents))
	}

	var ensured []string
	ensured = append(ensured, store.ensured...)
	sort.Strings(ensured)
	if len(ensured) != 2 {
		t.Errorf("expected both collections ensured, got %v", ensured)
	}

	for _, d := range all {
		if !chunks.IsHashIngested(d.Hash) {
			t.Errorf("hash %s not marked ingested after successful upsert", d.Hash)
		}
	}
}

func TestDeleteForReingest_RoutesToCorrectCollection(t *testing.T) {
	dir := t.TempDir()
	chunks := chunkstore.New(dir)
	store := newFakeVectorStore()
	p := New(chunks, store, fakeEmbedder{dim: 4}, Config{
		Collections: CollectionNames{Docs: "docs", PDFs: "pdfs"},
	})
	ctx := context.Background()

	if err := p.DeleteForReingest(ctx, "misc", "/path/to/file.pdf", "", "https://example.com/file.pdf"); err != nil {
		t.Fatalf("delete for reingest: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "pdfs:https://example.com/file.pdf" {
		t.Errorf("expected delete routed to pdfs collection, got %v", store.deleted)
	}
}
