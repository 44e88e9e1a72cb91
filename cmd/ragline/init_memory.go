package main

import (
	"context"
	"fmt"
	"log/slog"

	"ragline/internal/adapter/embedding"
	"ragline/internal/adapter/memory/vector"
	"ragline/internal/domain"
	"ragline/internal/infra/config"
	"ragline/internal/usecase/memory"
	"ragline/internal/usecase/platform"
)

// MemoryComponents bundles the long-term memory wiring.
type MemoryComponents struct {
	Store   *vector.Store
	Global  *memory.Layer
	Sweeper *memory.Sweeper
}

// Close releases the underlying store.
func (m *MemoryComponents) Close() error {
	return m.Store.Close()
}

// initMemory opens the vector store with the configured embedder, prepares
// the global layer, and sets up the expiration sweep. Scoped layers for
// presets, users, and guilds are created on demand by callers via
// memory.NewLayer against the same store.
func initMemory(ctx context.Context, cfg *config.Config, clients map[string]*platform.Client, log *slog.Logger) (*MemoryComponents, error) {
	embedder, err := newEmbedder(ctx, cfg.Memory.Embedder, clients, log)
	if err != nil {
		return nil, err
	}

	store, err := vector.New(cfg.Memory.Path, embedder, log)
	if err != nil {
		return nil, err
	}

	global := memory.NewGlobalLayer(store, log)
	if err := global.Initialize(ctx); err != nil {
		store.Close()
		return nil, err
	}

	sweeper, err := memory.NewSweeper(cfg.Memory.CleanupSchedule, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("cleanup schedule: %w", err)
	}
	sweeper.Register(global)

	log.Info("memory layer ready",
		"path", cfg.Memory.Path,
		"embedder", embedder.Name(),
		"dimensions", embedder.Dimensions(),
	)
	return &MemoryComponents{Store: store, Global: global, Sweeper: sweeper}, nil
}

func newEmbedder(ctx context.Context, cfg config.EmbedderConfig, clients map[string]*platform.Client, log *slog.Logger) (domain.EmbeddingProvider, error) {
	switch cfg.Type {
	case "", "local":
		return embedding.NewLocalProvider(cfg.Dimensions), nil

	case "platform":
		client, ok := clients[cfg.Platform]
		if !ok {
			return nil, fmt.Errorf("embedder platform %q not configured", cfg.Platform)
		}
		if !client.IsAvailable(ctx) {
			return nil, fmt.Errorf("embedder platform %q unavailable", cfg.Platform)
		}
		handle, err := client.CreateModel(cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("embedder model: %w", err)
		}
		dims := cfg.Dimensions
		if dims <= 0 {
			dims = 1536
		}
		log.Info("using platform embedder", "platform", cfg.Platform, "model", cfg.Model)
		return embedding.NewPlatformProvider(cfg.Model, dims, handle.Embed), nil

	default:
		return nil, fmt.Errorf("unknown embedder type %q", cfg.Type)
	}
}
