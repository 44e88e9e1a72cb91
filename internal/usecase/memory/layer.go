// Package memory implements the scoped long-term memory layer: salient
// facts partitioned by scope, stored through an injected vector store.
package memory

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"

	"ragline/internal/domain"
)

const defaultRetrieveLimit = 10

// ResolvePartition maps (scope, identifier) to a stable storage partition.
// The scope tag is part of the hashed input, so different scopes can never
// collide even for equal identifiers.
func ResolvePartition(scope domain.MemoryScope, identifier string) string {
	sum := blake2b.Sum256([]byte(string(scope) + ":" + identifier))
	return "mem_" + string(scope) + "_" + hex.EncodeToString(sum[:8])
}

// Layer is one scope's view of long-term memory. Construct one per
// (scope, identifier) pair; access control stays with the caller.
type Layer struct {
	scope     domain.MemoryScope
	partition string
	store     domain.VectorStore
	logger    *slog.Logger
}

// NewLayer binds a scope and identifier to a partition of the store.
func NewLayer(scope domain.MemoryScope, identifier string, store domain.VectorStore, logger *slog.Logger) (*Layer, error) {
	if _, err := domain.ParseMemoryScope(string(scope)); err != nil {
		return nil, err
	}
	return &Layer{
		scope:     scope,
		partition: ResolvePartition(scope, identifier),
		store:     store,
		logger:    logger,
	}, nil
}

// NewGlobalLayer is the global-scope variant; its identifier is fixed.
func NewGlobalLayer(store domain.VectorStore, logger *slog.Logger) *Layer {
	l, _ := NewLayer(domain.ScopeGlobal, "global", store, logger)
	return l
}

// Scope returns the layer's scope.
func (l *Layer) Scope() domain.MemoryScope { return l.scope }

// Partition returns the resolved storage partition key.
func (l *Layer) Partition() string { return l.partition }

// Initialize prepares the partition. The SQLite store needs no per-partition
// setup, so this only purges anything that expired while the process was down.
func (l *Layer) Initialize(ctx context.Context) error {
	_, err := l.store.DeleteExpired(ctx, l.partition)
	return err
}

// Retrieve returns memories relevant to searchContent, most similar first.
// Expired entries never surface.
func (l *Layer) Retrieve(ctx context.Context, searchContent string, limit int) ([]domain.EnhancedMemory, error) {
	if limit <= 0 {
		limit = defaultRetrieveLimit
	}

	docs, err := l.store.SimilaritySearchWithScore(ctx, l.partition, searchContent, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve: %v", domain.ErrMemoryStore, err)
	}

	now := time.Now()
	memories := make([]domain.EnhancedMemory, 0, len(docs))
	for _, d := range docs {
		m := memoryFromDocument(d.Document, l.scope)
		if m.Expired(now) {
			continue
		}
		memories = append(memories, m)
	}
	return memories, nil
}

// Add stores memories in this layer's partition. Memories without an ID get
// a fresh ULID; the input slice is updated in place so callers see the
// assigned IDs.
func (l *Layer) Add(ctx context.Context, memories []domain.EnhancedMemory) error {
	if len(memories) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]domain.Document, len(memories))
	for i := range memories {
		if memories[i].ID == "" {
			memories[i].ID = ulid.Make().String()
		}
		if memories[i].CreatedAt.IsZero() {
			memories[i].CreatedAt = now
		}
		memories[i].Scope = l.scope
		docs[i] = documentFromMemory(memories[i])
	}

	if err := l.store.Add(ctx, l.partition, docs); err != nil {
		return fmt.Errorf("%w: add: %v", domain.ErrMemoryStore, err)
	}
	l.logger.Debug("memories stored", "scope", l.scope, "count", len(memories))
	return nil
}

// Delete removes memories by ID.
func (l *Layer) Delete(ctx context.Context, ids []string) error {
	if err := l.store.Delete(ctx, l.partition, ids); err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrMemoryStore, err)
	}
	return nil
}

// Clear removes every memory in the partition.
func (l *Layer) Clear(ctx context.Context) error {
	type clearer interface {
		Clear(ctx context.Context, partition string) error
	}
	if c, ok := l.store.(clearer); ok {
		if err := c.Clear(ctx, l.partition); err != nil {
			return fmt.Errorf("%w: clear: %v", domain.ErrMemoryStore, err)
		}
		return nil
	}
	return fmt.Errorf("%w: store does not support clear", domain.ErrMemoryStore)
}

// CleanupExpired purges entries whose expiration has passed and reports
// how many were removed.
func (l *Layer) CleanupExpired(ctx context.Context) (int, error) {
	n, err := l.store.DeleteExpired(ctx, l.partition)
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup: %v", domain.ErrMemoryStore, err)
	}
	if n > 0 {
		l.logger.Info("expired memories purged", "scope", l.scope, "count", n)
	}
	return n, nil
}

// documentFromMemory flattens a memory into the store's document shape.
// Structured fields ride in metadata so retrieval can reconstruct them.
func documentFromMemory(m domain.EnhancedMemory) domain.Document {
	meta := map[string]string{
		"id":         m.ID,
		"type":       string(m.Type),
		"importance": strconv.Itoa(m.Importance),
		"scope":      string(m.Scope),
		"created_at": m.CreatedAt.UTC().Format(time.RFC3339),
	}
	if m.ExpiresAt != nil {
		meta["expires_at"] = m.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return domain.Document{Content: m.Content, Metadata: meta}
}

func memoryFromDocument(d domain.Document, scope domain.MemoryScope) domain.EnhancedMemory {
	m := domain.EnhancedMemory{
		ID:      d.Metadata["id"],
		Content: d.Content,
		Type:    domain.MemoryType(d.Metadata["type"]),
		Scope:   scope,
	}
	if v := d.Metadata["importance"]; v != "" {
		m.Importance, _ = strconv.Atoi(v)
	}
	if v := d.Metadata["created_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			m.CreatedAt = t
		}
	}
	if v := d.Metadata["expires_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			m.ExpiresAt = &t
		}
	}
	return m
}
