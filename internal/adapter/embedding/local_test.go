package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/internal/domain"
)

func TestLocalProviderDeterministic(t *testing.T) {
	p := NewLocalProvider(128)

	a, err := p.Embed(context.Background(), []string{"the quick brown fox"})
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), []string{"the quick brown fox"})
	require.NoError(t, err)
	assert.Equal(t, a, b, "same text must always embed to the same vector")
}

func TestLocalProviderDimensions(t *testing.T) {
	p := NewLocalProvider(64)
	assert.Equal(t, 64, p.Dimensions())

	vecs, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 64)
	}

	// Non-positive dims fall back to the default.
	assert.Equal(t, 256, NewLocalProvider(0).Dimensions())
}

func TestLocalProviderNormalized(t *testing.T) {
	p := NewLocalProvider(128)
	vecs, err := p.Embed(context.Background(), []string{"some moderately long input text"})
	require.NoError(t, err)

	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestLocalProviderEmptyText(t *testing.T) {
	p := NewLocalProvider(32)
	vecs, err := p.Embed(context.Background(), []string{""})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	for _, v := range vecs[0] {
		assert.Zero(t, v)
	}
}

func TestPlatformProviderChecksShape(t *testing.T) {
	p := NewPlatformProvider("embed-model", 4, func(_ context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 2, 3, 4}}, nil
	})

	_, err := p.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err, "vector count must match input count")
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
}

func TestPlatformProviderWrapsErrors(t *testing.T) {
	p := NewPlatformProvider("embed-model", 4, func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("upstream down")
	})

	_, err := p.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	assert.Equal(t, "embed-model", p.Name())
	assert.Equal(t, 4, p.Dimensions())
}
