package platform

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"ragline/internal/domain"
	"ragline/internal/infra/tracer"
)

// ModelHandle is a cached runtime object bound to one discovered model.
// Handles are immutable after construction and reused for the lifetime of
// the owning Client.
type ModelHandle struct {
	info   domain.ModelInfo
	client *Client
}

func newModelHandle(info domain.ModelInfo, client *Client) *ModelHandle {
	return &ModelHandle{info: info, client: client}
}

// Info returns the model's discovered metadata.
func (h *ModelHandle) Info() domain.ModelInfo { return h.info }

// acquire claims a slot against the config's concurrency ceiling and rate
// limiter. The returned release func must be called once the request's
// resources are done (for streams, after the channel drains).
func acquire(ctx context.Context, cfg *ClientConfig) (release func(), err error) {
	if cfg.Limiter != nil {
		if err := cfg.Limiter.Wait(ctx); err != nil {
			return nil, domain.Abort(ctx, err)
		}
	}
	if cfg.Sem != nil {
		if err := cfg.Sem.Acquire(ctx, 1); err != nil {
			return nil, domain.Abort(ctx, err)
		}
		return func() { cfg.Sem.Release(1) }, nil
	}
	return func() {}, nil
}

// CompleteStream starts a streaming completion for this model. Initiation
// failures are retried against the active config up to its retry budget,
// then fail over to the next healthy config. Once chunks flow, mid-stream
// errors arrive on the channel and are never retried. Cancellation
// short-circuits everything without marking any config unavailable.
func (h *ModelHandle) CompleteStream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.Chunk, error) {
	req.Model = h.info.Name

	ctx, span := tracer.StartSpan(ctx, "model.complete_stream",
		trace.WithAttributes(
			tracer.StringAttr("platform", h.client.name),
			tracer.StringAttr("model", h.info.Name),
		),
	)

	ch, release, err := withFailover(ctx, h, func(cfg *ClientConfig) (<-chan domain.Chunk, error) {
		return cfg.Requester.CompleteStream(ctx, req)
	})
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	out := make(chan domain.Chunk, 16)
	go func() {
		defer close(out)
		defer span.End()
		defer release()
		for chunk := range ch {
			if chunk.Err != nil {
				tracer.RecordError(span, chunk.Err)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				// The consumer may already be gone; never block on the
				// terminal chunk.
				select {
				case out <- domain.Chunk{Err: domain.Abort(ctx, ctx.Err())}:
				default:
				}
				return
			}
		}
		tracer.SetOK(span)
	}()
	return out, nil
}

// Embed generates embeddings through this model, order-preserving, with
// the same retry/failover policy as CompleteStream.
func (h *ModelHandle) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if h.info.Kind != domain.KindEmbeddings {
		return nil, fmt.Errorf("%w: model %q is not an embeddings model", domain.ErrInvalidInput, h.info.Name)
	}

	ctx, span := tracer.StartSpan(ctx, "model.embed",
		trace.WithAttributes(
			tracer.StringAttr("platform", h.client.name),
			tracer.StringAttr("model", h.info.Name),
			tracer.IntAttr("inputs", len(texts)),
		),
	)
	defer span.End()

	vecs, release, err := withFailover(ctx, h, func(cfg *ClientConfig) ([][]float32, error) {
		return cfg.Requester.Embed(ctx, h.info.Name, texts)
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	release()
	tracer.SetOK(span)
	return vecs, nil
}

// withFailover runs fn against the active config, retrying per the config's
// budget and failing over through the pool. Aborts and safety rejections
// surface immediately. On success the config's concurrency slot stays
// claimed; the caller releases it via the returned func.
func withFailover[T any](ctx context.Context, h *ModelHandle, fn func(*ClientConfig) (T, error)) (T, func(), error) {
	var zero T

	cfg, err := h.client.activeConfig()
	if err != nil {
		return zero, nil, err
	}

	var lastErr error
	for cfg != nil {
		for attempt := 0; attempt < cfg.MaxRetries(); attempt++ {
			release, err := acquire(ctx, cfg)
			if err != nil {
				return zero, nil, err
			}

			v, err := fn(cfg)
			if err == nil {
				return v, release, nil
			}
			release()

			if ctx.Err() != nil {
				return zero, nil, domain.Abort(ctx, err)
			}
			if !domain.IsRetryableError(err) {
				return zero, nil, err
			}

			lastErr = err
			h.client.logger.Warn("request attempt failed",
				"platform", h.client.name, "model", h.info.Name,
				"config", cfg.Index, "attempt", attempt+1, "error", err)
		}

		h.client.pool.MarkUnavailable(cfg)
		cfg = h.client.pool.FindAvailableConfig()
	}

	return zero, nil, fmt.Errorf("%w: all configs exhausted: %v", domain.ErrAPIRequest, lastErr)
}
