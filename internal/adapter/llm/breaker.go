package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"ragline/internal/domain"
	"ragline/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32 = 5
	defaultCBTimeout            = 30 * time.Second
	defaultCBInterval           = 60 * time.Second
)

// BreakerRequester wraps a ModelRequester with circuit breaker protection.
// When the wrapped requester fails repeatedly, the circuit opens and calls
// fail fast without reaching the provider, preventing retry storms during
// an outage. Cancellations and safety rejections do not trip the breaker.
type BreakerRequester struct {
	inner   domain.ModelRequester
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewBreakerRequester wraps inner with a circuit breaker.
// Zero-valued cfg fields fall back to defaults.
func NewBreakerRequester(name string, inner domain.ModelRequester, cfg config.BreakerConfig, logger *slog.Logger) *BreakerRequester {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "requester:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller or a safety rejection says nothing about
			// provider health.
			return err == nil || errors.Is(err, domain.ErrAborted) || errors.Is(err, domain.ErrUnsafeContent)
		},
	})

	return &BreakerRequester{inner: inner, breaker: cb, logger: logger}
}

func (b *BreakerRequester) execute(fn func() (any, error)) (any, error) {
	v, err := b.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open: %v", domain.ErrAPIRequest, err)
		}
		return nil, err
	}
	return v, nil
}

// CompleteStream implements domain.ModelRequester. The breaker protects
// stream initiation only; mid-stream errors arrive through the channel and
// do not trip it.
func (b *BreakerRequester) CompleteStream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.Chunk, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.CompleteStream(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(<-chan domain.Chunk), nil
}

// Embed implements domain.ModelRequester.
func (b *BreakerRequester) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.Embed(ctx, model, texts)
	})
	if err != nil {
		return nil, err
	}
	return v.([][]float32), nil
}

// ListModels implements domain.ModelRequester.
func (b *BreakerRequester) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.ListModels(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.ModelInfo), nil
}

// Capabilities implements domain.ModelRequester.
func (b *BreakerRequester) Capabilities() domain.RequesterCapability {
	return b.inner.Capabilities()
}

// State returns the current breaker state for monitoring.
func (b *BreakerRequester) State() gobreaker.State { return b.breaker.State() }

var _ domain.ModelRequester = (*BreakerRequester)(nil)
