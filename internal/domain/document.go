package domain

import "context"

// Document is one retrieved passage with free-form metadata.
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScoredDocument pairs a document with its similarity score.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// VectorStore is the similarity-store collaborator. The indexing/ANN
// algorithm behind it is not this module's concern.
type VectorStore interface {
	// SimilaritySearchWithScore returns up to k documents from the given
	// partition ranked by similarity to query, highest first. Documents
	// whose "expires_at" metadata lies in the past are never returned;
	// callers relying on k results must not receive a set padded with
	// expired entries.
	SimilaritySearchWithScore(ctx context.Context, partition, query string, k int) ([]ScoredDocument, error)

	// Add stores documents in the partition.
	Add(ctx context.Context, partition string, docs []Document) error

	// Delete removes documents by ID (metadata key "id").
	Delete(ctx context.Context, partition string, ids []string) error

	// DeleteExpired purges documents whose expiration metadata lies in the
	// past. Implementations without expiration semantics return 0, nil.
	DeleteExpired(ctx context.Context, partition string) (int, error)
}
