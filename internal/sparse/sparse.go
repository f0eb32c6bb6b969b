// Package sparse implements the lexical term-frequency sparse vector encoder
// used alongside dense embeddings in hybrid search. It is CPU-only and
// never blocks.
package sparse

import (
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"
)

// MaxTerms is the maximum number of distinct terms kept per vector; when a
// text produces more unique tokens, only the top MaxTerms by frequency are
// kept (ties broken by smaller index).
const MaxTerms = 256

// minTokenLen is the minimum token length kept after normalization.
const minTokenLen = 2

// Vector is a sparse lexical feature vector: ascending indices paired with
// their term-frequency values.
type Vector struct {
	Indices []uint32
	Values  []float32
}

// Encode tokenizes text (ASCII-lowercase, split on non-alphanumeric runs,
// drop tokens shorter than 2 chars), hashes each surviving token with
// Murmur3_32, and accumulates term frequency per hashed index. The result is
// capped at MaxTerms unique indices and sorted ascending by index.
func Encode(text string) Vector {
	counts := make(map[uint32]float32)
	for _, tok := range tokenize(text) {
		idx := murmur3.Sum32([]byte(tok))
		counts[idx]++
	}
	return fromCounts(counts)
}

// tokenize lowercases text and splits it on runs of non-alphanumeric
// characters, dropping tokens shorter than minTokenLen.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= minTokenLen {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
	}
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// fromCounts converts a hashed-index → frequency map into a Vector, applying
// the MaxTerms cap (keep the top MaxTerms by count, tie-break by smaller
// index) and sorting ascending by index.
func fromCounts(counts map[uint32]float32) Vector {
	if len(counts) == 0 {
		return Vector{}
	}

	type kv struct {
		idx   uint32
		value float32
	}
	all := make([]kv, 0, len(counts))
	for idx, v := range counts {
		all = append(all, kv{idx, v})
	}

	if len(all) > MaxTerms {
		sort.Slice(all, func(i, j int) bool {
			if all[i].value != all[j].value {
				return all[i].value > all[j].value
			}
			return all[i].idx < all[j].idx
		})
		all = all[:MaxTerms]
	}

	sort.Slice(all, func(i, j int) bool { return all[i].idx < all[j].idx })

	v := Vector{
		Indices: make([]uint32, len(all)),
		Values:  make([]float32, len(all)),
	}
	for i, e := range all {
		v.Indices[i] = e.idx
		v.Values[i] = e.value
	}
	return v
}
