package retrieval

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"ragline/internal/domain"
)

const (
	// compressBatchWidth bounds peak concurrency: documents are compressed
	// in batches of this size, batches running sequentially.
	compressBatchWidth = 6

	// noOutputSentinel is the token the model emits when a document holds
	// nothing relevant to the query.
	noOutputSentinel = "NO_OUTPUT"

	compressSystemPrompt = "Extract the parts of the document that are relevant to the question, verbatim. If nothing is relevant, reply with exactly " + noOutputSentinel + "."
)

// compress is the LLM compression strategy: every candidate is reduced to
// the sub-span relevant to the query. Documents the model marks with the
// sentinel (or compresses to nothing) are dropped; a per-document failure
// keeps the original document rather than losing it.
func (e *Engine) compress(ctx context.Context, rc Context) ([]domain.ScoredDocument, error) {
	if rc.Model == nil {
		return nil, domain.NewDomainError("Engine.compress", domain.ErrInvalidInput, "compression requires a model")
	}

	type outcome struct {
		doc  domain.ScoredDocument
		keep bool
	}
	results := make([]outcome, len(rc.Documents))

	for batchStart := 0; batchStart < len(rc.Documents); batchStart += compressBatchWidth {
		batchEnd := min(batchStart+compressBatchWidth, len(rc.Documents))

		g, gctx := errgroup.WithContext(ctx)
		for i := batchStart; i < batchEnd; i++ {
			i := i
			g.Go(func() error {
				doc := rc.Documents[i]
				compressed, err := e.compressOne(gctx, rc.Model, rc.Query, doc.Content)
				switch {
				case err != nil:
					// A failing document keeps its original content; it must
					// not drop the result or abort the batch.
					e.logger.Warn("document compression failed, keeping original", "index", i, "error", err)
					results[i] = outcome{doc: doc, keep: true}
				case compressed == "" || compressed == noOutputSentinel:
					results[i] = outcome{keep: false}
				default:
					doc.Content = compressed
					results[i] = outcome{doc: doc, keep: true}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, domain.Abort(ctx, err)
		}
	}

	out := make([]domain.ScoredDocument, 0, len(results))
	for _, r := range results {
		if r.keep {
			out = append(out, r.doc)
		}
	}
	return out, nil
}

func (e *Engine) compressOne(ctx context.Context, model Completer, query, content string) (string, error) {
	out, err := completeText(ctx, model, domain.CompletionRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: compressSystemPrompt},
			{Role: domain.RoleUser, Content: "Question: " + query + "\n\nDocument:\n" + content},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
