package vector

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/internal/adapter/embedding"
	"ragline/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := New(dbPath, embedding.NewLocalProvider(64), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRequiresEmbedder(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "x.db"), nil, slog.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVectorStore)
}

func TestStoreAddAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []domain.Document{
		{Content: "the capital of France is Paris", Metadata: map[string]string{"id": "a"}},
		{Content: "whales are marine mammals", Metadata: map[string]string{"id": "b"}},
		{Content: "Paris hosts the Louvre museum", Metadata: map[string]string{"id": "c"}},
	}
	require.NoError(t, store.Add(ctx, "p1", docs))

	got, err := store.SimilaritySearchWithScore(ctx, "p1", "museums in Paris France", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Lexical overlap puts the Paris documents ahead of the whales one.
	ids := []string{got[0].Metadata["id"], got[1].Metadata["id"]}
	assert.NotContains(t, ids, "b")
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score, "results ranked highest first")
}

func TestStorePartitionIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "p1", []domain.Document{
		{Content: "only in partition one", Metadata: map[string]string{"id": "a"}},
	}))

	got, err := store.SimilaritySearchWithScore(ctx, "p2", "partition one", 10)
	require.NoError(t, err)
	assert.Empty(t, got, "searches must never cross partitions")
}

func TestStoreUpsertByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "p1", []domain.Document{
		{Content: "first version", Metadata: map[string]string{"id": "a"}},
	}))
	require.NoError(t, store.Add(ctx, "p1", []domain.Document{
		{Content: "second version", Metadata: map[string]string{"id": "a"}},
	}))

	got, err := store.SimilaritySearchWithScore(ctx, "p1", "version", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second version", got[0].Content)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "p1", []domain.Document{
		{Content: "keep me", Metadata: map[string]string{"id": "keep"}},
		{Content: "drop me", Metadata: map[string]string{"id": "drop"}},
	}))
	require.NoError(t, store.Delete(ctx, "p1", []string{"drop"}))

	got, err := store.SimilaritySearchWithScore(ctx, "p1", "me", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].Metadata["id"])
}

func TestStoreExpiration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	require.NoError(t, store.Add(ctx, "p1", []domain.Document{
		{Content: "expired row", Metadata: map[string]string{"id": "old", "expires_at": past}},
		{Content: "valid row", Metadata: map[string]string{"id": "new", "expires_at": future}},
		{Content: "永 eternal row", Metadata: map[string]string{"id": "ever"}},
	}))

	// Expired rows are invisible to search even before the sweep.
	got, err := store.SimilaritySearchWithScore(ctx, "p1", "row", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, d := range got {
		assert.NotEqual(t, "old", d.Metadata["id"])
	}

	n, err := store.DeleteExpired(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Second sweep finds nothing left to purge.
	n, err = store.DeleteExpired(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreRejectsBadExpiration(t *testing.T) {
	store := newTestStore(t)
	err := store.Add(context.Background(), "p1", []domain.Document{
		{Content: "x", Metadata: map[string]string{"id": "a", "expires_at": "next tuesday"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStoreClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "p1", []domain.Document{
		{Content: "a"}, {Content: "b"},
	}))
	require.NoError(t, store.Clear(ctx, "p1"))

	got, err := store.SimilaritySearchWithScore(ctx, "p1", "a", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}
	assert.Equal(t, in, bytesToFloat32(float32ToBytes(in)))
	assert.Nil(t, bytesToFloat32([]byte{1, 2, 3}))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 2}), "length mismatch scores zero")
	assert.Zero(t, cosineSimilarity(nil, nil))
}
