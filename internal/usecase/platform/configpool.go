// Package platform orchestrates model discovery, cached model handles, and
// retry/failover across a pool of provider configurations.
package platform

import (
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"ragline/internal/domain"
	"ragline/internal/infra/config"
)

// ClientConfig is one credential/endpoint pairing together with its runtime
// state: the requester bound to it, its health flag, and its throttles.
// A ClientConfig belongs to exactly one ConfigPool; the pool is the only
// mutator of the health flag.
type ClientConfig struct {
	Index     int
	Platform  string
	Cred      config.CredentialSet
	Requester domain.ModelRequester

	// Per-config throttles. Nil when the config carries no ceiling.
	Sem     *semaphore.Weighted
	Limiter *rate.Limiter

	available bool
}

// MaxRetries returns the config's retry budget, defaulting to 1 attempt.
func (c *ClientConfig) MaxRetries() int {
	if c.Cred.MaxRetries <= 0 {
		return 1
	}
	return c.Cred.MaxRetries
}

// NewClientConfig builds the runtime wrapper for one credential set.
func NewClientConfig(index int, platform string, cred config.CredentialSet, requester domain.ModelRequester) *ClientConfig {
	cc := &ClientConfig{
		Index:     index,
		Platform:  platform,
		Cred:      cred,
		Requester: requester,
		available: true,
	}
	if cred.MaxConcurrency > 0 {
		cc.Sem = semaphore.NewWeighted(int64(cred.MaxConcurrency))
	}
	if cred.RPS > 0 {
		cc.Limiter = rate.NewLimiter(rate.Limit(cred.RPS), cred.MaxConcurrency+1)
	}
	return cc
}

// ConfigPool tracks per-config health and hands out the next usable config.
// One config is "pinned" at a time; callers keep using it until it fails.
type ConfigPool struct {
	mu      sync.Mutex
	configs []*ClientConfig
	pinned  int
}

// NewConfigPool creates a pool over the given configs. All start available.
func NewConfigPool(configs []*ClientConfig) *ConfigPool {
	return &ConfigPool{configs: configs}
}

// Len returns the number of configs in the pool.
func (p *ConfigPool) Len() int { return len(p.configs) }

// GetConfig returns a config to use. When preferAvailable is true, the
// currently pinned config is returned if it is still healthy; otherwise the
// pool advances round-robin, pinning the first available config it finds.
// If every config is unhealthy the pool still advances one step and returns
// that config — callers that must not touch an unhealthy config use
// FindAvailableConfig instead.
func (p *ConfigPool) GetConfig(preferAvailable bool) *ClientConfig {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.configs) == 0 {
		return nil
	}

	if preferAvailable {
		if p.configs[p.pinned].available {
			return p.configs[p.pinned]
		}
		for i := 1; i <= len(p.configs); i++ {
			next := (p.pinned + i) % len(p.configs)
			if p.configs[next].available {
				p.pinned = next
				return p.configs[next]
			}
		}
	}

	p.pinned = (p.pinned + 1) % len(p.configs)
	return p.configs[p.pinned]
}

// MarkUnavailable flips the config's health flag. The entry stays in the
// pool; a later MarkAllAvailable restores it.
func (p *ConfigPool) MarkUnavailable(cfg *ClientConfig) {
	if cfg == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg.available = false
}

// FindAvailableConfig returns any healthy config, pinning it, or nil when
// the pool is exhausted.
func (p *ConfigPool) FindAvailableConfig() *ClientConfig {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.configs); i++ {
		idx := (p.pinned + i) % len(p.configs)
		if p.configs[idx].available {
			p.pinned = idx
			return p.configs[idx]
		}
	}
	return nil
}

// MarkAllAvailable restores every config's health flag. Called by an
// external refresh before re-running discovery.
func (p *ConfigPool) MarkAllAvailable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.configs {
		c.available = true
	}
}

// Available reports the config's health under the pool lock.
func (p *ConfigPool) Available(cfg *ClientConfig) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cfg.available
}
