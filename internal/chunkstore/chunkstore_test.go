package chunkstore

import (
	"path/filepath"
	"testing"

	"github.com/ragcore/engine/internal/hashing"
)

func TestToSafeName(t *testing.T) {
	got := ToSafeName("http://example.com/a/b?c=d")
	for _, r := range got {
		if !(r == '_' || r == '.' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			t.Fatalf("unsafe character %q in safe name %q", r, got)
		}
	}
}

func TestSaveAndMarkIngested(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	url := "http://example.com/doc"
	hash := hashing.Hash(url, 0, "hello world")

	if s.IsHashIngested(hash) {
		t.Fatal("hash should not be ingested before MarkHashIngested")
	}

	if err := s.SaveChunkText(url, 0, "hello world", hash); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "parsed", ToSafeName(url)+"_0_"+hash[:12]+".txt")
	if s.parsedPath(url, 0, hash) != want {
		t.Fatalf("parsed path mismatch: got %s want %s", s.parsedPath(url, 0, hash), want)
	}

	if err := s.MarkHashIngested(hash); err != nil {
		t.Fatal(err)
	}
	if !s.IsHashIngested(hash) {
		t.Fatal("hash should be ingested after MarkHashIngested")
	}
}

func TestListParsedForSafeName(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	url := "http://example.com/doc"
	hash := hashing.Hash(url, 3, "some text")
	if err := s.SaveChunkText(url, 3, "some text", hash); err != nil {
		t.Fatal(err)
	}

	files, err := s.ListParsedForSafeName(ToSafeName(url))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 parsed file, got %d", len(files))
	}
	if files[0].ChunkIndex != 3 {
		t.Fatalf("expected chunk index 3, got %d", files[0].ChunkIndex)
	}
	if files[0].Text != "some text" {
		t.Fatalf("unexpected text: %q", files[0].Text)
	}
}
