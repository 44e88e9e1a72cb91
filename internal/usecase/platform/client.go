package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"ragline/internal/domain"
	"ragline/internal/infra/tracer"
)

// State describes a client's usability.
type State int32

const (
	StateUninitialized State = iota
	StateDiscovering
	StateAvailable
	StateFailover
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDiscovering:
		return "discovering"
	case StateAvailable:
		return "available"
	case StateFailover:
		return "failover"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Client owns a ConfigPool and exposes model discovery plus memoized model
// handles. Discovery runs at most once concurrently per client; callers
// racing into it share the single in-flight attempt.
type Client struct {
	name   string
	pool   *ConfigPool
	logger *slog.Logger

	sf singleflight.Group

	mu      sync.RWMutex
	state   State
	models  map[string]domain.ModelInfo
	handles map[string]*ModelHandle
}

// NewClient creates a client over the pool. No network I/O happens until
// the first discovery call.
func NewClient(name string, pool *ConfigPool, logger *slog.Logger) *Client {
	return &Client{
		name:    name,
		pool:    pool,
		logger:  logger,
		state:   StateUninitialized,
		handles: make(map[string]*ModelHandle),
	}
}

// Name returns the platform name.
func (c *Client) Name() string { return c.name }

// State returns the client's current usability state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsAvailable reports whether the client can serve requests. A cached model
// set answers immediately; otherwise one discovery attempt runs (shared
// across concurrent callers) with failover through the pool.
func (c *Client) IsAvailable(ctx context.Context) bool {
	c.mu.RLock()
	cached := c.models != nil
	c.mu.RUnlock()
	if cached {
		return true
	}
	_, err := c.discoverShared(ctx)
	return err == nil
}

// GetModels returns the discovered model set. Cached if previously
// discovered; otherwise discovery runs and the cache is replaced wholesale
// on success. On failure the cache is cleared and an empty set is returned
// alongside the error — never a partially updated cache.
func (c *Client) GetModels(ctx context.Context) ([]domain.ModelInfo, error) {
	c.mu.RLock()
	if c.models != nil {
		out := make([]domain.ModelInfo, 0, len(c.models))
		for _, m := range c.models {
			out = append(out, m)
		}
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	models, err := c.discoverShared(ctx)
	if err != nil {
		return []domain.ModelInfo{}, err
	}
	return models, nil
}

// CreateModel returns the memoized handle for name, constructing it on the
// first call. Unknown names fail with a model-not-found error.
func (c *Client) CreateModel(name string) (*ModelHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles[name]; ok {
		return h, nil
	}

	info, ok := c.models[name]
	if !ok {
		return nil, domain.NewDomainError("Client.CreateModel", domain.ErrModelNotFound, name)
	}

	h := newModelHandle(info, c)
	c.handles[name] = h
	return h, nil
}

// Refresh restores every config's health and forces a fresh discovery.
func (c *Client) Refresh(ctx context.Context) error {
	c.pool.MarkAllAvailable()

	c.mu.Lock()
	c.models = nil
	c.mu.Unlock()

	_, err := c.discoverShared(ctx)
	return err
}

// discoverShared funnels concurrent discovery through a single in-flight
// attempt. The shared attempt ignores the individual caller's deadline so
// one impatient caller cannot poison the result for the rest; a caller
// whose context fires while waiting still gets ABORTED.
func (c *Client) discoverShared(ctx context.Context) ([]domain.ModelInfo, error) {
	sharedCtx := context.WithoutCancel(ctx)
	ch := c.sf.DoChan("discover", func() (any, error) {
		return c.discover(sharedCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.ModelInfo), nil
	case <-ctx.Done():
		return nil, domain.Abort(ctx, ctx.Err())
	}
}

// discover walks the pool: per config, up to the config's retry budget, it
// asks the requester to enumerate models. A failed config is marked
// unavailable and the next healthy one takes over. Cancellation aborts
// immediately without touching any health flag.
func (c *Client) discover(ctx context.Context) ([]domain.ModelInfo, error) {
	ctx, span := tracer.StartSpan(ctx, "platform.discover",
		trace.WithAttributes(tracer.StringAttr("platform", c.name)),
	)
	defer span.End()

	c.setState(StateDiscovering)

	cfg := c.pool.GetConfig(true)
	if cfg != nil && !c.pool.Available(cfg) {
		// Never fall back silently to an unhealthy config.
		cfg = c.pool.FindAvailableConfig()
	}
	if cfg == nil {
		c.failDiscovery()
		err := domain.NewDomainError("Client.discover", domain.ErrNoConfigAvailable, c.name)
		tracer.RecordError(span, err)
		return nil, err
	}

	var lastErr error
	for cfg != nil {
		for attempt := 0; attempt < cfg.MaxRetries(); attempt++ {
			infos, err := cfg.Requester.ListModels(ctx)
			if err == nil {
				c.storeModels(infos)
				c.setState(StateAvailable)
				tracer.SetOK(span)
				c.logger.Info("model discovery complete",
					"platform", c.name, "config", cfg.Index, "models", len(infos))
				return infos, nil
			}

			if aborted := domain.Abort(ctx, err); aborted != err || ctx.Err() != nil {
				// Cancellation is not a health signal.
				tracer.RecordError(span, aborted)
				return nil, aborted
			}

			lastErr = err
			c.logger.Warn("model discovery attempt failed",
				"platform", c.name, "config", cfg.Index, "attempt", attempt+1, "error", err)
		}

		c.pool.MarkUnavailable(cfg)
		c.setState(StateFailover)
		cfg = c.pool.FindAvailableConfig()
		if cfg != nil {
			c.setState(StateDiscovering)
			c.logger.Info("failing over to next config",
				"platform", c.name, "config", cfg.Index)
		}
	}

	c.failDiscovery()
	err := fmt.Errorf("%w: all configs exhausted for %s: %v", domain.ErrModelInit, c.name, lastErr)
	tracer.RecordError(span, err)
	return nil, err
}

func (c *Client) storeModels(infos []domain.ModelInfo) {
	models := make(map[string]domain.ModelInfo, len(infos))
	for _, m := range infos {
		models[m.Name] = m
	}
	c.mu.Lock()
	c.models = models
	c.mu.Unlock()
}

func (c *Client) failDiscovery() {
	c.mu.Lock()
	c.models = nil
	c.state = StateUnavailable
	c.mu.Unlock()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// activeConfig returns the pinned healthy config for request traffic.
func (c *Client) activeConfig() (*ClientConfig, error) {
	cfg := c.pool.GetConfig(true)
	if cfg == nil || !c.pool.Available(cfg) {
		cfg = c.pool.FindAvailableConfig()
	}
	if cfg == nil {
		return nil, domain.NewDomainError("Client.activeConfig", domain.ErrNoConfigAvailable, c.name)
	}
	return cfg, nil
}
