package chunking

import (
	"strings"
	"testing"
)

func repeatWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "word"
	}
	return strings.Join(words, " ")
}

func TestChunkRejectsBadOverlap(t *testing.T) {
	if _, err := Chunk("hello", 100, 100); err == nil {
		t.Fatal("expected error when overlap == maxTokens")
	}
	if _, err := Chunk("hello", 100, -1); err == nil {
		t.Fatal("expected error for negative overlap")
	}
}

func TestChunkEmptyText(t *testing.T) {
	got, err := Chunk("", 900, 150)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil chunks for empty text, got %v", got)
	}
}

func TestChunkDisjointWhenOverlapZero(t *testing.T) {
	text := repeatWords(2000)
	windows, err := Chunk(text, 900, 0)
	if err != nil {
		t.Skipf("tokenizer unavailable in this environment: %v", err)
	}
	if len(windows) < 2 {
		t.Fatalf("expected multiple disjoint windows, got %d", len(windows))
	}
}

func TestKeepLastTokens(t *testing.T) {
	text := repeatWords(50)
	out, err := KeepLastTokens(text, 5)
	if err != nil {
		t.Skipf("tokenizer unavailable in this environment: %v", err)
	}
	if out == text {
		t.Fatal("expected truncation to shorten the text")
	}
}
