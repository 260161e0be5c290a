package mock

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recall-go-sdk/memory"
)

var _ memory.Embedder = (*Embedder)(nil)

func TestEmbed_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := New()

	a, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := e.Embed(ctx, "something else")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestEmbed_UnitNorm(t *testing.T) {
	vec, err := New().Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, vec, 384)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestFallbackVector(t *testing.T) {
	e := NewWithDimensions(16)
	assert.Equal(t, 16, e.Dimensions())

	fb := e.FallbackVector()
	require.Len(t, fb, 16)
	for _, v := range fb {
		assert.Zero(t, v)
	}
}
