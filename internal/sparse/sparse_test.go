package sparse

import (
	"sort"
	"testing"

	"github.com/spaolacci/murmur3"
)

func TestEncodeTermFrequency(t *testing.T) {
	v := Encode("go go go gopher")
	goIdx := murmur3.Sum32([]byte("go"))
	found := false
	for i, idx := range v.Indices {
		if idx == goIdx {
			found = true
			if v.Values[i] != 3 {
				t.Fatalf("expected frequency 3 for 'go', got %v", v.Values[i])
			}
		}
	}
	if !found {
		t.Fatal("expected 'go' index present in sparse vector")
	}
}

func TestEncodeDropsShortTokens(t *testing.T) {
	v := Encode("a an go")
	if len(v.Indices) != 2 {
		t.Fatalf("expected only 'an' and 'go' to survive (len>=2), got %d indices", len(v.Indices))
	}
}

func TestEncodeAscendingIndices(t *testing.T) {
	v := Encode("the quick brown fox jumps over the lazy dog")
	if !sort.SliceIsSorted(v.Indices, func(i, j int) bool { return v.Indices[i] < v.Indices[j] }) {
		t.Fatal("indices must be ascending")
	}
	if len(v.Indices) != len(v.Values) {
		t.Fatal("indices and values must be the same length")
	}
}

func TestEncodeCapsAtMaxTerms(t *testing.T) {
	text := ""
	for i := 0; i < 400; i++ {
		text += string(rune('a'+(i%26))) + string(rune('a'+((i/26)%26))) + " "
	}
	v := Encode(text)
	if len(v.Indices) > MaxTerms {
		t.Fatalf("expected at most %d terms, got %d", MaxTerms, len(v.Indices))
	}
}

func TestEncodeEmpty(t *testing.T) {
	v := Encode("")
	if len(v.Indices) != 0 || len(v.Values) != 0 {
		t.Fatal("expected empty vector for empty text")
	}
}
