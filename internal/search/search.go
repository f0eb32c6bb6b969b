// Package search implements hybrid dense+sparse search with reciprocal-rank
// fusion, fanned out concurrently across every configured collection.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"

	"github.com/ragcore/engine/internal/document"
	"github.com/ragcore/engine/internal/sparse"
)

// DefaultQueryTimeout bounds a single collection's query RPC.
const DefaultQueryTimeout = 5 * time.Second

// Config holds the fixed, closed configuration set for the hybrid store.
type Config struct {
	DenseVectorName          string
	SparseVectorName         string
	PrefetchLimit            uint64
	RRFK                     uint64
	QueryTimeout             time.Duration
	FailOnPartialSearchError bool
}

// DefaultConfig returns the documented defaults for fields a caller leaves
// zero-valued.
func DefaultConfig() Config {
	return Config{
		DenseVectorName:  "dense",
		SparseVectorName: "sparse",
		PrefetchLimit:    50,
		RRFK:             60,
		QueryTimeout:     DefaultQueryTimeout,
	}
}

// Constraint is the optional server-side retrieval filter. Blank fields are
// omitted from the built filter.
type Constraint struct {
	DocVersion string
	SourceKind string
	DocType    string
	SourceName string
}

// CollectionSearchFailure records a single collection's search failure
// without aborting the overall fan-out.
type CollectionSearchFailure struct {
	Collection       string
	Kind             string
	SanitizedMessage string
}

const maxSanitizedMessageLen = 240

func newFailure(coll, kind string, err error) CollectionSearchFailure {
	msg := err.Error()
	if len(msg) > maxSanitizedMessageLen {
		msg = msg[:maxSanitizedMessageLen]
	}
	return CollectionSearchFailure{Collection: coll, Kind: kind, SanitizedMessage: msg}
}

// HybridSearchPartialFailure is raised when FailOnPartialSearchError is true
// and at least one collection failed.
type HybridSearchPartialFailure struct {
	Failures []CollectionSearchFailure
}

func (e *HybridSearchPartialFailure) Error() string {
	return fmt.Sprintf("search: %d collection(s) failed in strict mode", len(e.Failures))
}

// Hit pairs a payload-projected document with its fused score and source
// collection.
type Hit struct {
	Document   document.Record
	Score      float32
	Collection string
	PointID    string
}

// Result is the outcome of a Search call.
type Result struct {
	Hits     []Hit
	Failures []CollectionSearchFailure
}

// Embedder produces a dense embedding for a single query string.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the hybrid Qdrant-backed fan-out search engine.
type Store struct {
	client *qdrant.Client
	cfg    Config
	embed  Embedder
}

// New constructs a Store over an already-connected Qdrant client.
func New(client *qdrant.Client, cfg Config, embed Embedder) *Store {
	if cfg.DenseVectorName == "" {
		cfg.DenseVectorName = "dense"
	}
	if cfg.SparseVectorName == "" {
		cfg.SparseVectorName = "sparse"
	}
	if cfg.PrefetchLimit == 0 {
		cfg.PrefetchLimit = 50
	}
	if cfg.RRFK == 0 {
		cfg.RRFK = 60
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	return &Store{client: client, cfg: cfg, embed: embed}
}

// EnsureCollection creates a hybrid (named dense + sparse vector) collection
// if it does not already exist.
func (s *Store) EnsureCollection(ctx context.Context, name string, denseSize uint64) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("search: check collection %q: %w", name, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			s.cfg.DenseVectorName: {
				Size:     denseSize,
				Distance: qdrant.Distance_Cosine,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			s.cfg.SparseVectorName: {},
		}),
	})
	if err != nil {
		return fmt.Errorf("search: create collection %q: %w", name, err)
	}
	return nil
}

// Upsert writes points with both named vectors and a projected payload.
func (s *Store) Upsert(ctx context.Context, coll string, records []document.Record, dense [][]float32, sparseVecs []sparse.Vector, ids []string) error {
	if len(records) != len(dense) || len(records) != len(sparseVecs) || len(records) != len(ids) {
		return fmt.Errorf("search: upsert: mismatched slice lengths")
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for i, rec := range records {
		vectors := qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			s.cfg.DenseVectorName:  qdrant.NewVectorDense(dense[i]),
			s.cfg.SparseVectorName: qdrant.NewVectorSparse(sparseVecs[i].Indices, sparseVecs[i].Values),
		})
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(ids[i]),
			Vectors: vectors,
			Payload: qdrant.NewValueMap(rec.Payload()),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: coll,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("search: upsert into %q: %w", coll, err)
	}
	return nil
}

// DeleteByURL removes every point whose payload.url matches url, used by the
// ingest pipeline's force-reingest path.
func (s *Store) DeleteByURL(ctx context.Context, coll, url string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: coll,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("url", url),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("search: delete by url in %q: %w", coll, err)
	}
	return nil
}

// Search fans hybrid dense+sparse+RRF queries out across every collection
// concurrently, merges results by point id, and returns the sorted top hits
// with any per-collection failures.
func (s *Store) Search(ctx context.Context, collections []string, query string, topK int, constraint Constraint) (Result, error) {
	denseVecs, err := s.embed.Embed(ctx, []string{query})
	if err != nil {
		return Result{}, fmt.Errorf("search: embed query: %w", err)
	}
	if len(denseVecs) != 1 {
		return Result{}, fmt.Errorf("search: expected 1 query embedding, got %d", len(denseVecs))
	}
	dense := denseVecs[0]
	sparseVec := sparse.Encode(query)
	filter := buildFilter(constraint)

	type collResult struct {
		coll    string
		hits    []*qdrant.ScoredPoint
		failure *CollectionSearchFailure
	}

	results := make([]collResult, len(collections))
	g, gctx := errgroup.WithContext(ctx)
	for i, coll := range collections {
		i, coll := i, coll
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, s.cfg.QueryTimeout)
			defer cancel()

			hits, err := s.queryOne(cctx, coll, dense, sparseVec, filter, topK)
			if err != nil {
				f := newFailure(coll, classifyQueryError(cctx, err), err)
				results[i] = collResult{coll: coll, failure: &f}
				return nil
			}
			results[i] = collResult{coll: coll, hits: hits}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("search: fan-out: %w", err)
	}

	var failures []CollectionSearchFailure
	merged := make(map[string]Hit)
	order := collections // preserves collection ordering for tie-break

	for _, r := range results {
		if r.failure != nil {
			failures = append(failures, *r.failure)
			continue
		}
		for _, p := range r.hits {
			id := pointIDString(p.Id)
			hit := Hit{
				Document:   projectPayload(p.Payload),
				Score:      p.Score,
				Collection: r.coll,
				PointID:    id,
			}
			existing, ok := merged[id]
			if !ok || hit.Score > existing.Score || (hit.Score == existing.Score && collectionRank(order, r.coll) < collectionRank(order, existing.Collection)) {
				merged[id] = hit
			}
		}
	}

	if s.cfg.FailOnPartialSearchError && len(failures) > 0 {
		return Result{Failures: failures}, &HybridSearchPartialFailure{Failures: failures}
	}

	hits := make([]Hit, 0, len(merged))
	for _, h := range merged {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].PointID < hits[j].PointID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	return Result{Hits: hits, Failures: failures}, nil
}

func collectionRank(order []string, coll string) int {
	for i, c := range order {
		if c == coll {
			return i
		}
	}
	return len(order)
}

// queryOne builds and issues the two-stage dense+sparse prefetch with RRF
// fusion against a single collection.
func (s *Store) queryOne(ctx context.Context, coll string, dense []float32, sp sparse.Vector, filter *qdrant.Filter, topK int) ([]*qdrant.ScoredPoint, error) {
	denseUsing := s.cfg.DenseVectorName
	prefetch := []*qdrant.PrefetchQuery{
		{
			Query:  qdrant.NewQueryDense(dense),
			Using:  &denseUsing,
			Limit:  &s.cfg.PrefetchLimit,
			Filter: filter,
		},
	}
	if len(sp.Indices) > 0 {
		sparseUsing := s.cfg.SparseVectorName
		prefetch = append(prefetch, &qdrant.PrefetchQuery{
			Query:  qdrant.NewQuerySparse(sp.Indices, sp.Values),
			Using:  &sparseUsing,
			Limit:  &s.cfg.PrefetchLimit,
			Filter: filter,
		})
	}

	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: coll,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
		Limit:          &limit,
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

func buildFilter(c Constraint) *qdrant.Filter {
	var conds []*qdrant.Condition
	if c.DocVersion != "" {
		conds = append(conds, qdrant.NewMatch("docVersion", c.DocVersion))
	}
	if c.SourceKind != "" {
		conds = append(conds, qdrant.NewMatch("sourceKind", c.SourceKind))
	}
	if c.DocType != "" {
		conds = append(conds, qdrant.NewMatch("docType", c.DocType))
	}
	if c.SourceName != "" {
		conds = append(conds, qdrant.NewMatch("sourceName", c.SourceName))
	}
	if len(conds) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conds}
}

// classifyQueryError maps a Qdrant client error to a coarse failure kind.
// Deadline expiry -> "timeout"; cancellation -> "interrupted"; anything else
// -> "execution_error". The per-collection context is consulted as well
// because the gRPC client wraps context errors in its own types.
func classifyQueryError(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return "interrupted"
	default:
		return "execution_error"
	}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// projectPayload whitelists string/integer payload fields and clamps
// integers to 32-bit range, dropping anything outside the closed payload
// schema.
func projectPayload(payload map[string]*qdrant.Value) document.Record {
	get := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	getInt := func(key string) int {
		if v, ok := payload[key]; ok {
			return int(document.ClampInt32(v.GetIntegerValue()))
		}
		return 0
	}

	var pageStart, pageEnd *int
	if _, ok := payload["pageStart"]; ok {
		v := getInt("pageStart")
		pageStart = &v
	}
	if _, ok := payload["pageEnd"]; ok {
		v := getInt("pageEnd")
		pageEnd = &v
	}

	return document.Record{
		Chunk: document.Chunk{
			SourceURL:  get("url"),
			Title:      get("title"),
			Package:    get("package"),
			ChunkIndex: getInt("chunkIndex"),
			Text:       get("doc_content"),
			PageStart:  pageStart,
			PageEnd:    pageEnd,
			Hash:       get("hash"),
		},
		Metadata: document.Metadata{
			DocSet:           get("docSet"),
			DocPath:          get("docPath"),
			SourceName:       get("sourceName"),
			SourceKind:       get("sourceKind"),
			DocVersion:       get("docVersion"),
			DocType:          get("docType"),
			FilePath:         get("filePath"),
			Language:         get("language"),
			RepoURL:          get("repoUrl"),
			RepoOwner:        get("repoOwner"),
			RepoName:         get("repoName"),
			RepoKey:          get("repoKey"),
			RepoBranch:       get("repoBranch"),
			CommitHash:       get("commitHash"),
			License:          get("license"),
			RepoDescription:  get("repoDescription"),
		},
	}
}

// Scroll returns every point's payload.hash for points whose payload.url
// matches url, used by the audit service. A single page of at most limit
// points is fetched; later pages are not requested.
func (s *Store) Scroll(ctx context.Context, coll, url string, limit uint32) ([]string, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: coll,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("url", url)},
		},
		WithPayload: qdrant.NewWithPayload(true),
		Limit:       &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search: scroll %q: %w", coll, err)
	}

	hashes := make([]string, 0, len(points))
	for _, p := range points {
		if v, ok := p.Payload["hash"]; ok {
			hashes = append(hashes, v.GetStringValue())
		}
	}
	return hashes, nil
}

// Close releases the underlying Qdrant client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// DefaultScrollLimit is the single-page cap applied to audit scrolls.
const DefaultScrollLimit uint32 = 2048
