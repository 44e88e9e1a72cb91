package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"ragline/internal/domain"
)

// SimilaritySearchWithScore implements domain.VectorStore. It embeds the
// query, scans the partition's candidates, and returns the top k documents
// ranked by cosine similarity, highest first. Expired rows never surface,
// even before the cleanup sweep removes them.
func (s *Store) SimilaritySearchWithScore(ctx context.Context, partition, query string, k int) ([]domain.ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: embedder returned no vector for query", domain.ErrEmbeddingFailed)
	}
	queryVec := vecs[0]

	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx,
		`SELECT content, metadata, embedding
		 FROM documents
		 WHERE partition = ?
		   AND embedding IS NOT NULL
		   AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY created_at DESC
		 LIMIT ?`,
		partition, now, s.maxCandidates,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrVectorStore, err)
	}
	defer rows.Close()

	var candidates []domain.ScoredDocument
	for rows.Next() {
		var (
			content  string
			metaJSON string
			embBlob  []byte
		)
		if err := rows.Scan(&content, &metaJSON, &embBlob); err != nil {
			continue
		}

		sim := cosineSimilarity(queryVec, bytesToFloat32(embBlob))

		doc := domain.Document{Content: content}
		if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
			s.logger.Warn("vector store: corrupt metadata JSON", "partition", partition, "error", err)
		}
		candidates = append(candidates, domain.ScoredDocument{Document: doc, Score: float64(sim)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan: %v", domain.ErrVectorStore, err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||).
// Returns 0 for zero-length vectors, length mismatch, or NaN/Inf results.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(float64(result)) || math.IsInf(float64(result), 0) {
		return 0
	}
	return result
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
