// Package retrieval refines a candidate document set for a query using one
// of several strategies, optionally calling back into a model for query
// reformulation or per-document compression.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"ragline/internal/domain"
	"ragline/internal/infra/config"
	"ragline/internal/infra/tracer"
)

// Completer is the slice of a model handle the engine needs.
type Completer interface {
	CompleteStream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.Chunk, error)
}

// Context carries one retrieval request. Transient: built per request,
// never persisted.
type Context struct {
	Query     string
	Documents []domain.ScoredDocument
	History   []domain.Message
	Model     Completer // optional; nil degrades rewrite and disables compression
	Partition string    // vector store partition for re-search
	Threshold float64
	K         int
}

type strategyFunc func(ctx context.Context, rc Context) ([]domain.ScoredDocument, error)

// Engine dispatches retrieval strategies. All strategies are pure functions
// of the request context; the engine itself holds only collaborators.
type Engine struct {
	store      domain.VectorStore
	cfg        config.RetrievalConfig
	logger     *slog.Logger
	strategies map[string]strategyFunc
}

// New creates an engine. The vector store may be nil when only passthrough
// and compression are used.
func New(store domain.VectorStore, cfg config.RetrievalConfig, logger *slog.Logger) *Engine {
	e := &Engine{store: store, cfg: cfg, logger: logger}
	e.strategies = map[string]strategyFunc{
		"passthrough": e.passthrough,
		"rewrite":     e.rewrite,
		"compress":    e.compress,
	}
	return e
}

// Strategies lists the registered strategy names.
func (e *Engine) Strategies() []string {
	names := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Retrieve runs the named strategy over the request context. An unknown
// strategy name is a caller error, never a silent fallback.
func (e *Engine) Retrieve(ctx context.Context, rc Context, strategy string) ([]domain.ScoredDocument, error) {
	fn, ok := e.strategies[strategy]
	if !ok {
		return nil, domain.NewDomainError("Engine.Retrieve", domain.ErrStrategyUnknown, strategy)
	}

	ctx, span := tracer.StartSpan(ctx, "retrieval.retrieve",
		trace.WithAttributes(
			tracer.StringAttr("strategy", strategy),
			tracer.IntAttr("candidates", len(rc.Documents)),
		),
	)
	defer span.End()

	docs, err := fn(ctx, rc)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return docs, nil
}

// passthrough returns the candidates unchanged.
func (e *Engine) passthrough(_ context.Context, rc Context) ([]domain.ScoredDocument, error) {
	return rc.Documents, nil
}

// completeText drains a streaming completion into a single string. A
// terminal chunk error fails the whole call.
func completeText(ctx context.Context, model Completer, req domain.CompletionRequest) (string, error) {
	ch, err := model.CompleteStream(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Content)
	}
	return sb.String(), nil
}
