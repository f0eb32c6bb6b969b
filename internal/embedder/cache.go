package embedder

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// cacheStripes is the number of lock stripes guarding the in-memory map, so
// concurrent ingest batches do not serialize on a single mutex.
const cacheStripes = 16

// defaultFlushInterval is the periodic on-disk flush cadence.
const defaultFlushInterval = 2 * time.Minute

// defaultFlushThreshold triggers an early flush once this many new entries
// have accumulated since the last write.
const defaultFlushThreshold = 256

// cacheEntry is one persisted vector, keyed by the content/metadata digest.
type cacheEntry struct {
	Key    string    `json:"key"`
	Vector []float32 `json:"vector"`
}

// Cached wraps an Embedder with a content-addressed vector cache: the same
// (text, model-metadata) pair is embedded at most once per cache lifetime.
// The cache is flushed to a gzip-compressed JSON file periodically, after a
// threshold of new entries, and on Close.
type Cached struct {
	inner    Embedder
	metaHash string
	path     string
	log      *slog.Logger

	stripes [cacheStripes]struct {
		mu sync.Mutex
		m  map[string][]float32
	}

	flushMu  sync.Mutex
	dirty    int
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCached wraps inner with a cache persisted at path. metadata identifies
// the embedding configuration (model name, dimensions); changing it changes
// every key, so vectors from a different model are never served. A missing or
// corrupt cache file starts fresh.
func NewCached(inner Embedder, path, metadata string, log *slog.Logger) *Cached {
	if log == nil {
		log = slog.Default()
	}
	metaSum := sha256.Sum256([]byte(metadata))
	c := &Cached{
		inner:    inner,
		metaHash: hex.EncodeToString(metaSum[:]),
		path:     path,
		log:      log,
		stopCh:   make(chan struct{}),
	}
	for i := range c.stripes {
		c.stripes[i].m = make(map[string][]float32)
	}
	c.load()
	go c.flushLoop()
	return c
}

// key derives the content-addressed cache key for one text.
func (c *Cached) key(text string) string {
	contentSum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(contentSum[:]) + c.metaHash
}

func (c *Cached) stripe(key string) *struct {
	mu sync.Mutex
	m  map[string][]float32
} {
	return &c.stripes[key[0]%cacheStripes]
}

func (c *Cached) get(key string) ([]float32, bool) {
	s := c.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func (c *Cached) put(key string, vec []float32) {
	s := c.stripe(key)
	s.mu.Lock()
	s.m[key] = vec
	s.mu.Unlock()

	c.flushMu.Lock()
	c.dirty++
	shouldFlush := c.dirty >= defaultFlushThreshold
	c.flushMu.Unlock()
	if shouldFlush {
		if err := c.Flush(); err != nil {
			c.log.Warn("embedder: threshold cache flush failed", slog.Any("error", err))
		}
	}
}

// Embed serves cached vectors where possible and delegates only the misses to
// the wrapped embedder, preserving input order. A failed inner call caches
// nothing.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		keys[i] = c.key(text)
		if v, ok := c.get(keys[i]); ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingServiceUnavailable, len(missTexts), len(vecs))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.put(keys[i], vecs[j])
	}
	return out, nil
}

func (c *Cached) flushLoop() {
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.Flush(); err != nil {
				c.log.Warn("embedder: periodic cache flush failed", slog.Any("error", err))
			}
		}
	}
}

// Flush writes the full cache to disk as gzip-compressed JSON, atomically via
// a temp-file rename.
func (c *Cached) Flush() error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	var entries []cacheEntry
	for i := range c.stripes {
		s := &c.stripes[i]
		s.mu.Lock()
		for k, v := range s.m {
			entries = append(entries, cacheEntry{Key: k, Vector: v})
		}
		s.mu.Unlock()
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("embedder: create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".embeddings-cache-*.tmp")
	if err != nil {
		return fmt.Errorf("embedder: create cache temp file: %w", err)
	}
	tmpPath := tmp.Name()

	gz := gzip.NewWriter(tmp)
	encErr := json.NewEncoder(gz).Encode(entries)
	if cerr := gz.Close(); encErr == nil {
		encErr = cerr
	}
	if cerr := tmp.Close(); encErr == nil {
		encErr = cerr
	}
	if encErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("embedder: write cache: %w", encErr)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("embedder: rename cache: %w", err)
	}

	c.dirty = 0
	return nil
}

// load reads a prior cache file if one exists; anything unreadable is
// discarded and the cache starts empty.
func (c *Cached) load() {
	f, err := os.Open(c.path)
	if err != nil {
		return
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		c.log.Warn("embedder: corrupt cache file, starting fresh", slog.Any("error", err))
		return
	}
	defer gz.Close()

	var entries []cacheEntry
	if err := json.NewDecoder(gz).Decode(&entries); err != nil {
		c.log.Warn("embedder: corrupt cache contents, starting fresh", slog.Any("error", err))
		return
	}
	for _, e := range entries {
		if e.Key == "" || e.Vector == nil {
			continue
		}
		s := c.stripe(e.Key)
		s.mu.Lock()
		s.m[e.Key] = e.Vector
		s.mu.Unlock()
	}
}

// Close stops the periodic flush loop and performs one final flush.
func (c *Cached) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return c.Flush()
}
