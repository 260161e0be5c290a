// Package cache wraps an Embedder with a ristretto-backed memo of
// text -> vector, so repeated content is embedded once.
package cache

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/recallkit/recall-go-sdk/memory"
)

// DefaultMaxEntries bounds the cache when no size is given.
const DefaultMaxEntries = 4096

// Embedder memoizes another Embedder. Vectors are copied on the way in
// and out, so cached entries cannot be mutated by callers.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// New creates a caching embedder holding up to maxEntries vectors.
// maxEntries <= 0 uses DefaultMaxEntries.
func New(inner memory.Embedder, maxEntries int64) (*Embedder, error) {
	if inner == nil {
		return nil, goerr.New("inner embedder is required")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "create embedding cache")
	}

	return &Embedder{inner: inner, cache: c}, nil
}

// Embed returns the cached vector for text, or embeds and caches it.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return copyVector(vec), nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(text, copyVector(vec), 1)
	// Set is buffered; Wait makes the entry visible to the next Get.
	e.cache.Wait()
	return vec, nil
}

// FallbackVector delegates to the wrapped embedder.
func (e *Embedder) FallbackVector() []float32 {
	return e.inner.FallbackVector()
}

// Dimensions delegates to the wrapped embedder.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close releases cache resources.
func (e *Embedder) Close() {
	e.cache.Close()
}

func copyVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
