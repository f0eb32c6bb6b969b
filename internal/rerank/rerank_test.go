package rerank

import (
	"context"
	"testing"

	"github.com/ragcore/engine/internal/document"
)

func TestRerankTruncatesToReturnK(t *testing.T) {
	candidates := []Candidate{
		{Document: document.Record{Chunk: document.Chunk{Text: "java generics"}}, Score: 0.9},
		{Document: document.Record{Chunk: document.Chunk{Text: "python lists"}}, Score: 0.8},
		{Document: document.Record{Chunk: document.Chunk{Text: "java streams"}}, Score: 0.7},
	}

	out, err := Rerank(context.Background(), nil, "java", candidates, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
}

func TestRerankPrefersLexicalOverlap(t *testing.T) {
	candidates := []Candidate{
		{Document: document.Record{Chunk: document.Chunk{Text: "unrelated content"}}, Score: 0.5},
		{Document: document.Record{Chunk: document.Chunk{Text: "java generics tutorial"}}, Score: 0.5},
	}

	out, err := Rerank(context.Background(), nil, "java generics", candidates, 0)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Text != "java generics tutorial" {
		t.Fatalf("expected overlapping doc first, got %q", out[0].Text)
	}
}

func TestRerankEmptyCandidates(t *testing.T) {
	out, err := Rerank(context.Background(), nil, "q", nil, 5)
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("expected nil result for empty candidates, got %+v", out)
	}
}
