package embedder

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmbeddingServiceUnavailable is raised on dimension mismatch, a null or
// missing entry, an empty response, or a transport failure from the
// underlying embedding backend. Callers distinguish it with
// errors.Is rather than string-matching.
var ErrEmbeddingServiceUnavailable = errors.New("embedder: embedding service unavailable")

// defaultBatchSize is used when a caller configures batchSize <= 0.
const defaultBatchSize = 64

// Batched wraps an Embedder, splitting large inputs into batches of a
// configured size and validating that every returned vector has the
// configured dimension before handing results back to the caller. There are
// no synthetic fallback vectors: any anomaly aborts the whole call.
type Batched struct {
	inner      Embedder
	batchSize  int
	dimensions int
}

// NewBatched constructs a Batched embedder. dimensions <= 0 disables the
// per-vector dimension check (useful for backends where D isn't known ahead
// of time).
func NewBatched(inner Embedder, batchSize, dimensions int) *Batched {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Batched{inner: inner, batchSize: batchSize, dimensions: dimensions}
}

// Embed embeds texts in batches of b.batchSize, preserving input order in
// the result. Any batch that fails, returns the wrong count, contains a nil
// vector, or returns a vector of the wrong dimension aborts the entire call
// with ErrEmbeddingServiceUnavailable — no partial result is returned.
func (b *Batched) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		batch := texts[start:end]

		vecs, err := b.inner.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrEmbeddingServiceUnavailable, err)
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("%w: empty response for batch of %d", ErrEmbeddingServiceUnavailable, len(batch))
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingServiceUnavailable, len(batch), len(vecs))
		}
		for i, v := range vecs {
			if v == nil {
				return nil, fmt.Errorf("%w: null vector at batch index %d", ErrEmbeddingServiceUnavailable, i)
			}
			if b.dimensions > 0 && len(v) != b.dimensions {
				return nil, fmt.Errorf("%w: expected dimension %d, got %d", ErrEmbeddingServiceUnavailable, b.dimensions, len(v))
			}
			out[start+i] = v
		}
	}
	return out, nil
}
