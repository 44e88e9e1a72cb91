package embedding

import (
	"context"
	"fmt"

	"ragline/internal/domain"
)

// EmbedFunc produces order-preserving embeddings for a batch of texts.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// PlatformProvider backs the vector store with a discovered embeddings
// model. It holds only the bound embed call, not the whole client.
type PlatformProvider struct {
	name  string
	dims  int
	embed EmbedFunc
}

// NewPlatformProvider wraps a model handle's embed call as an
// EmbeddingProvider. dims is the model's output dimensionality.
func NewPlatformProvider(name string, dims int, embed EmbedFunc) *PlatformProvider {
	return &PlatformProvider{name: name, dims: dims, embed: embed}
}

// Embed implements domain.EmbeddingProvider.
func (p *PlatformProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingFailed, len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *PlatformProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *PlatformProvider) Name() string { return p.name }

var (
	_ domain.EmbeddingProvider = (*PlatformProvider)(nil)
	_ domain.EmbeddingProvider = (*LocalProvider)(nil)
)
