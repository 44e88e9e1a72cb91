package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"ragline/internal/domain"
)

const (
	defaultMaxHistory    = 20
	maxHistoryTokens     = 2048
	rewriteSystemPrompt  = "Rewrite the user's latest question as a single standalone question, resolving every pronoun and reference using the conversation. Output only the rewritten question."
	rewriteTokenEncoding = "cl100k_base"
)

// rewrite is the history-aware re-search strategy. Without history or a
// model it degrades to threshold-filtering the precomputed scores. With
// both, it reformulates the query from recent history and re-runs the
// similarity search, trusting the new ranking.
func (e *Engine) rewrite(ctx context.Context, rc Context) ([]domain.ScoredDocument, error) {
	if len(rc.History) == 0 || rc.Model == nil || e.store == nil {
		return thresholdTopK(rc.Documents, rc.Threshold, rc.K), nil
	}

	query := rc.Query
	if rewritten, err := e.reformulate(ctx, rc); err != nil {
		// Reformulation never fails the retrieval; keep the original query.
		e.logger.Warn("query reformulation failed, using original query", "error", err)
	} else if rewritten != "" {
		query = rewritten
	}

	docs, err := e.store.SimilaritySearchWithScore(ctx, rc.Partition, query, rc.K)
	if err != nil {
		return nil, err
	}
	if e.cfg.ApplyThresholdAfterRewrite {
		docs = thresholdTopK(docs, rc.Threshold, rc.K)
	}
	return docs, nil
}

// reformulate asks the model to rewrite the query as a standalone question
// given recent history. The history window is bounded both by turn count
// and by token budget.
func (e *Engine) reformulate(ctx context.Context, rc Context) (string, error) {
	maxTurns := e.cfg.MaxHistory
	if maxTurns <= 0 {
		maxTurns = defaultMaxHistory
	}

	history := boundHistory(rc.History, maxTurns, maxHistoryTokens)

	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: rewriteSystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: rc.Query})

	out, err := completeText(ctx, rc.Model, domain.CompletionRequest{
		Messages:  messages,
		MaxTokens: 256,
	})
	if err != nil {
		return "", fmt.Errorf("reformulate: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// boundHistory keeps the most recent turns, capped by count and by an
// approximate token budget. Falls back to a byte heuristic if the encoding
// is unavailable.
func boundHistory(history []domain.Message, maxTurns, maxTokens int) []domain.Message {
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}

	enc, err := tiktoken.GetEncoding(rewriteTokenEncoding)
	countTokens := func(s string) int {
		if err != nil {
			return len(s) / 4
		}
		return len(enc.Encode(s, nil, nil))
	}

	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		total += countTokens(history[i].Content)
		if total > maxTokens {
			break
		}
		start = i
	}
	return history[start:]
}

// thresholdTopK filters by score, sorts descending, and truncates to k.
func thresholdTopK(docs []domain.ScoredDocument, threshold float64, k int) []domain.ScoredDocument {
	kept := make([]domain.ScoredDocument, 0, len(docs))
	for _, d := range docs {
		if d.Score >= threshold {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	if k > 0 && len(kept) > k {
		kept = kept[:k]
	}
	return kept
}
