package hashing

import "testing"

func TestHashDeterministic(t *testing.T) {
	h1 := Hash("http://x/a", 7, "hello")
	h2 := Hash("http://x/a", 7, "hello")
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestHashInputsAffectOutput(t *testing.T) {
	base := Hash("http://x/a", 7, "hello")
	if Hash("http://x/b", 7, "hello") == base {
		t.Fatal("url change did not affect hash")
	}
	if Hash("http://x/a", 8, "hello") == base {
		t.Fatal("index change did not affect hash")
	}
	if Hash("http://x/a", 7, "goodbye") == base {
		t.Fatal("text change did not affect hash")
	}
}

func TestPointIDDeterministic(t *testing.T) {
	h := Hash("http://x/a", 7, "hello")
	id1, err := PointID(h)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := PointID(h)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("point id not deterministic: %v != %v", id1, id2)
	}
}

func TestPointIDBlankHash(t *testing.T) {
	if _, err := PointID(""); err == nil {
		t.Fatal("expected error for blank hash")
	}
}
