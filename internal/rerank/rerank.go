// Package rerank implements the cross-encoder-style reordering pass applied
// to fused hybrid-search candidates before they become the final retrieval
// order.
package rerank

import (
	"context"
	"sort"
	"strings"

	"github.com/ragcore/engine/internal/document"
)

// Candidate is a document competing for a place in the final ranking, along
// with the fused score it arrived with from hybrid search.
type Candidate struct {
	Document document.Record
	Score    float32
}

// Scorer optionally re-scores a query/candidate pair with a remote
// cross-encoder. When nil, Rerank falls back to the lexical overlap score
// below, which is the pragmatic default when no reranker endpoint is
// configured.
type Scorer interface {
	Score(ctx context.Context, query string, candidates []Candidate) ([]float32, error)
}

// Rerank orders candidates by combining the incoming fused score with a
// query/text overlap signal, then truncates to returnK. Ties keep the
// original fused-score order (stable sort).
func Rerank(ctx context.Context, scorer Scorer, query string, candidates []Candidate, returnK int) ([]document.Record, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	scores := make([]float32, len(candidates))
	if scorer != nil {
		s, err := scorer.Score(ctx, query, candidates)
		if err == nil && len(s) == len(candidates) {
			scores = s
		} else {
			scores = lexicalScores(query, candidates)
		}
	} else {
		scores = lexicalScores(query, candidates)
	}

	type scored struct {
		doc   document.Record
		score float32
		idx   int
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{doc: c.Document, score: scores[i], idx: i}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if returnK > 0 && len(ranked) > returnK {
		ranked = ranked[:returnK]
	}

	out := make([]document.Record, len(ranked))
	for i, r := range ranked {
		out[i] = r.doc
	}
	return out, nil
}

// lexicalScores blends each candidate's incoming fused score with a term
// overlap ratio against the query, giving a cheap, dependency-free signal
// when no remote cross-encoder is configured.
func lexicalScores(query string, candidates []Candidate) []float32 {
	queryTerms := termSet(query)
	out := make([]float32, len(candidates))
	for i, c := range candidates {
		overlap := overlapRatio(queryTerms, termSet(c.Document.Text))
		out[i] = c.Score + overlap
	}
	return out
}

func termSet(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		terms[tok] = struct{}{}
	}
	return terms
}

func overlapRatio(query, candidate map[string]struct{}) float32 {
	if len(query) == 0 {
		return 0
	}
	var hits int
	for t := range query {
		if _, ok := candidate[t]; ok {
			hits++
		}
	}
	return float32(hits) / float32(len(query))
}
