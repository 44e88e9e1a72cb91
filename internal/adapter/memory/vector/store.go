// Package vector implements a partition-scoped similarity store backed by
// SQLite. Embeddings are generated on write and queries run a cosine scan
// over the partition's candidates.
package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"ragline/internal/domain"
)

// metadata keys with store-level meaning.
const (
	metaKeyID        = "id"
	metaKeyExpiresAt = "expires_at"
)

const defaultMaxCandidates = 10000

// Store implements domain.VectorStore backed by SQLite. Every row belongs
// to exactly one partition; searches never cross partition boundaries.
type Store struct {
	db            *sql.DB
	embedder      domain.EmbeddingProvider
	logger        *slog.Logger
	maxCandidates int
}

// New opens (or creates) a SQLite database at dbPath, runs migrations, and
// returns a ready Store. The embedder is required: rows without embeddings
// are invisible to search.
func New(dbPath string, embedder domain.EmbeddingProvider, logger *slog.Logger) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: nil embedder", domain.ErrVectorStore)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrVectorStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrVectorStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrVectorStore, err)
	}

	return &Store{
		db:            db,
		embedder:      embedder,
		logger:        logger,
		maxCandidates: defaultMaxCandidates,
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add implements domain.VectorStore. Documents carrying an "id" metadata key
// are upserted under that ID; the rest get a fresh ULID. Embeddings for the
// whole batch are generated in one call.
func (s *Store) Add(ctx context.Context, partition string, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("%w: embedder returned %d vectors for %d texts", domain.ErrEmbeddingFailed, len(vecs), len(docs))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrVectorStore, err)
	}
	defer tx.Rollback() //nolint:errcheck

	const upsert = `
		INSERT INTO documents (id, partition, content, metadata, embedding, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			partition  = excluded.partition,
			content    = excluded.content,
			metadata   = excluded.metadata,
			embedding  = excluded.embedding,
			expires_at = excluded.expires_at
	`
	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", domain.ErrVectorStore, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, doc := range docs {
		id := doc.Metadata[metaKeyID]
		if id == "" {
			id = ulid.Make().String()
		}

		var expiresAt any
		if raw := doc.Metadata[metaKeyExpiresAt]; raw != "" {
			if _, perr := time.Parse(time.RFC3339, raw); perr != nil {
				return fmt.Errorf("%w: bad expires_at %q for doc %q: %v", domain.ErrInvalidInput, raw, id, perr)
			}
			expiresAt = raw
		}

		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshal metadata: %v", domain.ErrVectorStore, err)
		}

		_, err = stmt.ExecContext(ctx,
			id,
			partition,
			doc.Content,
			string(meta),
			float32ToBytes(vecs[i]),
			expiresAt,
			now.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("%w: upsert doc %q: %v", domain.ErrVectorStore, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrVectorStore, err)
	}
	return nil
}

// Delete implements domain.VectorStore.
func (s *Store) Delete(ctx context.Context, partition string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, partition)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := "DELETE FROM documents WHERE partition = ? AND id IN (" +
		strings.Join(placeholders, ",") + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrVectorStore, err)
	}
	return nil
}

// DeleteExpired implements domain.VectorStore. It purges rows whose
// expiration lies at or before now and reports how many were removed.
func (s *Store) DeleteExpired(ctx context.Context, partition string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE partition = ? AND expires_at IS NOT NULL AND expires_at <= ?",
		partition, now,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired: %v", domain.ErrVectorStore, err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// Clear removes every document in the partition.
func (s *Store) Clear(ctx context.Context, partition string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE partition = ?", partition); err != nil {
		return fmt.Errorf("%w: clear partition: %v", domain.ErrVectorStore, err)
	}
	return nil
}

var _ domain.VectorStore = (*Store)(nil)
