package audit

import (
	"context"
	"fmt"
	"sort"

	"github.com/ragcore/engine/internal/chunkstore"
	"github.com/ragcore/engine/internal/collection"
	"github.com/ragcore/engine/internal/hashing"
)

// maxSample caps the missing/extra sample lists in a Report.
const maxSample = 20

// Scroller is the vector-store dependency AuditByURL needs: enumerate the
// hashes of every point whose payload.url matches url within one collection.
type Scroller interface {
	Scroll(ctx context.Context, coll, url string, limit uint32) ([]string, error)
}

// scrollLimit caps each Scroll call, matching the Open Question decision
// recorded in DESIGN.md (single page, no further pagination).
const scrollLimit = 2048

// Report is the reconciliation result for one url.
type Report struct {
	URL            string
	ExpectedCount  int
	ActualCount    int
	MissingCount   int
	ExtraCount     int
	Duplicates     []string
	OK             bool
	MissingSample  []string
	ExtraSample    []string
}

// AuditByURL recomputes the expected chunk hashes for url from the local
// parsed-chunk store, scrolls the vector store for every point actually
// stored under url in its routed collection, and reports the discrepancy
// between the two sets.
//
// docSet/docPath/docType determine the routed collection, exactly as
// ingest routes the original upsert.
func AuditByURL(ctx context.Context, chunks *chunkstore.Store, vectors Scroller, collections map[collection.Name]string, docSet, docPath, docType, url string) (Report, error) {
	safeName := chunkstore.ToSafeName(url)
	parsed, err := chunks.ListParsedForSafeName(safeName)
	if err != nil {
		return Report{}, fmt.Errorf("audit: list parsed chunks for %s: %w", url, err)
	}

	expected := make(map[string]struct{}, len(parsed))
	for _, pf := range parsed {
		hash := hashing.Hash(url, pf.ChunkIndex, pf.Text)
		expected[hash] = struct{}{}
	}

	bucket := collection.Route(docSet, docPath, docType, url)
	coll := collections[bucket]

	actualHashes, err := vectors.Scroll(ctx, coll, url, scrollLimit)
	if err != nil {
		return Report{}, fmt.Errorf("audit: scroll %s in %s: %w", url, coll, err)
	}

	actualCounts := make(map[string]int, len(actualHashes))
	for _, h := range actualHashes {
		actualCounts[h]++
	}

	report := Report{
		URL:           url,
		ExpectedCount: len(expected),
		ActualCount:   len(actualHashes),
	}

	for h, n := range actualCounts {
		if n > 1 {
			report.Duplicates = append(report.Duplicates, h)
		}
	}
	sort.Strings(report.Duplicates)

	var missing, extra []string
	for h := range expected {
		if _, ok := actualCounts[h]; !ok {
			missing = append(missing, h)
		}
	}
	for h := range actualCounts {
		if _, ok := expected[h]; !ok {
			extra = append(extra, h)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)

	report.MissingCount = len(missing)
	report.ExtraCount = len(extra)
	report.MissingSample = sampleCap(missing, maxSample)
	report.ExtraSample = sampleCap(extra, maxSample)
	// Extras are reported but non-fatal; only missing points and duplicates
	// mean the store diverged from what ingest promised.
	report.OK = report.MissingCount == 0 && len(report.Duplicates) == 0

	return report, nil
}

func sampleCap(hashes []string, n int) []string {
	if len(hashes) <= n {
		return hashes
	}
	return hashes[:n]
}
