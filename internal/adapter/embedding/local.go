// Package embedding provides embedding backends for the vector store.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalProvider is a deterministic, dependency-free embedder: a hashed
// bag-of-words projected into a fixed number of dimensions, L2-normalized.
// It captures lexical overlap only, which is enough for offline operation
// and for tests; semantic quality comes from a platform-backed embedder.
type LocalProvider struct {
	dims int
}

// NewLocalProvider creates a local embedder. dims must be positive;
// 256 is the default used by the memory layer.
func NewLocalProvider(dims int) *LocalProvider {
	if dims <= 0 {
		dims = 256
	}
	return &LocalProvider{dims: dims}
}

// Embed implements domain.EmbeddingProvider.
func (p *LocalProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *LocalProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dims)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum) % p.dims
		if idx < 0 {
			idx += p.dims
		}
		// Sign bit from the hash spreads tokens across both directions,
		// reducing collisions' impact on cosine similarity.
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Dimensions implements domain.EmbeddingProvider.
func (p *LocalProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *LocalProvider) Name() string { return "local" }
