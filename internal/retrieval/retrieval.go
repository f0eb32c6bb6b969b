// Package retrieval implements the retrieval facade: version-hint boosting,
// fan-out via hybrid search, dedupe, reranking, and citation shaping.
package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ragcore/engine/internal/document"
	"github.com/ragcore/engine/internal/rerank"
	"github.com/ragcore/engine/internal/search"
)

// versionHintPattern matches a language/runtime version hint such as
// "Java 21" or "Python 3.12" in free-form query text.
var versionHintPattern = regexp.MustCompile(`(?i)\b([A-Za-z]+)\s+(\d+(?:\.\d+)*)\b`)

// VersionHint is an extracted "<name> <version>" pair used to boost the
// query and, if matched by any candidate's docVersion, to filter results.
type VersionHint struct {
	Name    string
	Version string
}

// extractVersionHint returns the first version-shaped token pair in query,
// or ok=false if none is present.
func extractVersionHint(query string) (VersionHint, bool) {
	m := versionHintPattern.FindStringSubmatch(query)
	if m == nil {
		return VersionHint{}, false
	}
	return VersionHint{Name: m[1], Version: m[2]}, true
}

// boostQuery appends the version hint to the query text so that hybrid
// search's lexical (sparse) stage is more likely to favor matching docs.
func boostQuery(query string, hint VersionHint, ok bool) string {
	if !ok {
		return query
	}
	return fmt.Sprintf("%s %s %s", query, hint.Name, hint.Version)
}

// Searcher is the hybrid search dependency.
type Searcher interface {
	Search(ctx context.Context, collections []string, query string, topK int, constraint search.Constraint) (search.Result, error)
}

// Facade is the retrieval facade tying hybrid search and reranking together.
type Facade struct {
	searcher      Searcher
	collections   func() []string
	searchTopK    int
	searchReturnK int
}

// Config configures Facade construction.
type Config struct {
	// Collections returns the current fan-out set (core + dynamically
	// discovered, per the Open Question decision in DESIGN.md).
	Collections func() []string
	SearchTopK  int
	ReturnK     int
}

// New constructs a Facade.
func New(searcher Searcher, cfg Config) *Facade {
	return &Facade{
		searcher:      searcher,
		collections:   cfg.Collections,
		searchTopK:    cfg.SearchTopK,
		searchReturnK: cfg.ReturnK,
	}
}

// Retrieve runs the full retrieval flow: extract and boost by version hint,
// hybrid search, version filter, dedupe by hash then url, rerank to
// search_return_k.
func (f *Facade) Retrieve(ctx context.Context, query string, constraint search.Constraint) ([]document.Record, []search.CollectionSearchFailure, error) {
	hint, hasHint := extractVersionHint(query)
	boosted := boostQuery(query, hint, hasHint)

	result, err := f.searcher.Search(ctx, f.collections(), boosted, f.searchTopK, constraint)
	if err != nil {
		return nil, result.Failures, fmt.Errorf("retrieval: search: %w", err)
	}

	candidates := make([]rerank.Candidate, 0, len(result.Hits))
	for _, h := range result.Hits {
		candidates = append(candidates, rerank.Candidate{Document: h.Document, Score: h.Score})
	}

	if hasHint {
		if filtered, any := filterByVersion(candidates, hint); any {
			candidates = filtered
		}
	}

	candidates = dedupe(candidates)

	docs, err := rerank.Rerank(ctx, nil, query, candidates, f.searchReturnK)
	if err != nil {
		return nil, result.Failures, fmt.Errorf("retrieval: rerank: %w", err)
	}
	return docs, result.Failures, nil
}

// filterByVersion keeps only candidates whose DocVersion matches hint. If no
// candidate matches, the caller must keep the unfiltered set.
func filterByVersion(candidates []rerank.Candidate, hint VersionHint) ([]rerank.Candidate, bool) {
	var matched []rerank.Candidate
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Document.DocVersion), strings.ToLower(hint.Version)) {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return candidates, false
	}
	return matched, true
}

// dedupe removes duplicates: first by hash (first occurrence wins), then by
// url among the hash-less remainder.
func dedupe(candidates []rerank.Candidate) []rerank.Candidate {
	seenHash := make(map[string]struct{})
	seenURL := make(map[string]struct{})
	out := make([]rerank.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Document.Hash != "" {
			if _, ok := seenHash[c.Document.Hash]; ok {
				continue
			}
			seenHash[c.Document.Hash] = struct{}{}
			out = append(out, c)
			continue
		}
		if _, ok := seenURL[c.Document.SourceURL]; ok {
			continue
		}
		seenURL[c.Document.SourceURL] = struct{}{}
		out = append(out, c)
	}
	return out
}

// RetrieveWithLimit additionally truncates each document's text at the last
// sentence/newline boundary before maxTokens*4 chars, tagging truncated
// documents in a parallel metadata slice.
func (f *Facade) RetrieveWithLimit(ctx context.Context, query string, constraint search.Constraint, maxDocs, maxTokensPerDoc int) ([]document.Record, []TruncationInfo, error) {
	docs, _, err := f.Retrieve(ctx, query, constraint)
	if err != nil {
		return nil, nil, err
	}
	if maxDocs > 0 && len(docs) > maxDocs {
		docs = docs[:maxDocs]
	}

	budget := maxTokensPerDoc * 4
	infos := make([]TruncationInfo, len(docs))
	for i := range docs {
		original := len(docs[i].Text)
		if budget > 0 && original > budget {
			docs[i].Text = truncateAtBoundary(docs[i].Text, budget)
			infos[i] = TruncationInfo{Truncated: true, OriginalLength: original}
		}
	}
	return docs, infos, nil
}

// TruncationInfo tags a document truncated by RetrieveWithLimit.
type TruncationInfo struct {
	Truncated      bool
	OriginalLength int
}

// truncateAtBoundary cuts text to at most budget chars, backing up to the
// last sentence terminator or newline so text isn't cut mid-word.
func truncateAtBoundary(text string, budget int) string {
	if len(text) <= budget {
		return text
	}
	window := text[:budget]
	if idx := strings.LastIndexAny(window, ".!?\n"); idx > 0 {
		return window[:idx+1]
	}
	return window
}
