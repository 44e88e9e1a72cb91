package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"ragline/internal/domain"
	"ragline/internal/infra/config"
	"ragline/internal/infra/tracer"
)

// OpenAIRequester implements domain.ModelRequester against any
// OpenAI-compatible API. It issues single requests only; retry and
// failover live in the platform client.
type OpenAIRequester struct {
	platform string
	apiKey   string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

// NewOpenAIRequester creates a requester bound to one credential set.
func NewOpenAIRequester(platform string, cred config.CredentialSet, pool config.PoolConfig, logger *slog.Logger) *OpenAIRequester {
	baseURL := strings.TrimRight(cred.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIRequester{
		platform: platform,
		apiKey:   cred.APIKey,
		baseURL:  baseURL,
		client:   NewHTTPClient(cred, pool),
		logger:   logger,
	}
}

// Capabilities implements domain.ModelRequester.
func (r *OpenAIRequester) Capabilities() domain.RequesterCapability {
	return domain.CapChat | domain.CapEmbeddings
}

// --- wire types ---

type openaiRequest struct {
	Model            string          `json:"model"`
	Messages         []openaiMessage `json:"messages"`
	Tools            []openaiTool    `json:"tools,omitempty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	Stream           bool            `json:"stream"`
	StreamOptions    *streamOptions  `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Role      string                 `json:"role,omitempty"`
	Content   string                 `json:"content,omitempty"`
	ToolCalls []openaiStreamToolCall `json:"tool_calls,omitempty"`
}

type openaiStreamToolCall struct {
	Index    int                    `json:"index"`
	ID       string                 `json:"id,omitempty"`
	Function openaiToolCallFunction `json:"function"`
}

type openaiToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toOpenAIRequest(req domain.CompletionRequest) openaiRequest {
	msgs := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openaiMessage{Role: m.Role, Content: m.Content, Name: m.Name})
	}

	oaiReq := openaiRequest{
		Model:         req.Model,
		Messages:      msgs,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		oaiReq.Temperature = &req.Temperature
	}
	if req.TopP > 0 {
		oaiReq.TopP = &req.TopP
	}
	if req.PresencePenalty != 0 {
		oaiReq.PresencePenalty = &req.PresencePenalty
	}
	if req.FrequencyPenalty != 0 {
		oaiReq.FrequencyPenalty = &req.FrequencyPenalty
	}
	for _, t := range req.Tools {
		oaiReq.Tools = append(oaiReq.Tools, openaiTool{
			Type: "function",
			Function: openaiToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return oaiReq
}

// CompleteStream implements domain.ModelRequester.
func (r *OpenAIRequester) CompleteStream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.Chunk, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.complete_stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.platform", r.platform),
			tracer.StringAttr("llm.model", req.Model),
		),
	)

	if err := domain.ValidateToolSchemas(req.Tools); err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	body, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		err = fmt.Errorf("%w: marshal request: %v", domain.ErrAPIRequest, err)
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	headers := map[string]string{}
	if r.apiKey != "" {
		headers["Authorization"] = "Bearer " + r.apiKey
	}

	httpResp, err := doStreamRequest(ctx, r.client, r.baseURL+"/chat/completions", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	out := make(chan domain.Chunk, 16)
	inner := parseSSEStream(ctx, httpResp.Body, parseOpenAIChunk)
	go func() {
		defer close(out)
		defer span.End()
		var total int
		for chunk := range inner {
			if chunk.Err != nil {
				tracer.RecordError(span, chunk.Err)
			} else if chunk.Usage != nil {
				total = chunk.Usage.TotalTokens
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
		span.SetAttributes(tracer.IntAttr("llm.total_tokens", total))
		tracer.SetOK(span)
		r.logger.Debug("stream completed", "platform", r.platform, "model", req.Model, "tokens", total)
	}()
	return out, nil
}

// parseOpenAIChunk converts one SSE data payload into a Chunk.
// A finish_reason of "content_filter" becomes a terminal safety error.
func parseOpenAIChunk(data []byte) (*domain.Chunk, error) {
	var sc openaiStreamChunk
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}

	chunk := &domain.Chunk{}
	if len(sc.Choices) > 0 {
		c := sc.Choices[0]
		chunk.Role = c.Delta.Role
		chunk.Content = c.Delta.Content
		for _, tc := range c.Delta.ToolCalls {
			chunk.ToolCalls = append(chunk.ToolCalls, domain.ToolCallDelta{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if c.FinishReason != nil && *c.FinishReason != "" {
			if *c.FinishReason == "content_filter" {
				return &domain.Chunk{Err: fmt.Errorf("%w: finish_reason content_filter", domain.ErrUnsafeContent)}, nil
			}
			chunk.Done = true
		}
	}
	if sc.Usage != nil {
		chunk.Usage = &domain.Usage{
			PromptTokens:     sc.Usage.PromptTokens,
			CompletionTokens: sc.Usage.CompletionTokens,
			TotalTokens:      sc.Usage.TotalTokens,
		}
	}
	return chunk, nil
}

// --- embeddings ---

type openaiEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openaiEmbedResponse struct {
	Data []openaiEmbedData `json:"data"`
}

type openaiEmbedData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// Embed implements domain.ModelRequester. Order-preserving for batches.
func (r *OpenAIRequester) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(openaiEmbedRequest{Input: texts, Model: model})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrEmbeddingFailed, err)
	}

	headers := map[string]string{}
	if r.apiKey != "" {
		headers["Authorization"] = "Bearer " + r.apiKey
	}

	respBody, err := doJSONRequest(ctx, r.client, http.MethodPost, r.baseURL+"/embeddings", body, headers)
	if err != nil {
		return nil, err
	}

	var resp openaiEmbedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrAPIRequest, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			domain.ErrEmbeddingFailed, len(resp.Data), len(texts))
	}

	// Sort by index to guarantee input order.
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	result := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		result[i] = d.Embedding
	}
	return result, nil
}

// --- model discovery ---

type openaiModelsResponse struct {
	Data []openaiModelEntry `json:"data"`
}

type openaiModelEntry struct {
	ID string `json:"id"`
}

// ListModels implements domain.ModelRequester. Kind, capabilities, and
// context size are inferred from the model identifier since the OpenAI
// models endpoint exposes none of them.
func (r *OpenAIRequester) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	headers := map[string]string{}
	if r.apiKey != "" {
		headers["Authorization"] = "Bearer " + r.apiKey
	}

	respBody, err := doJSONRequest(ctx, r.client, http.MethodGet, r.baseURL+"/models", nil, headers)
	if err != nil {
		return nil, err
	}

	var resp openaiModelsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrAPIRequest, err)
	}

	models := make([]domain.ModelInfo, 0, len(resp.Data))
	for _, entry := range resp.Data {
		models = append(models, inferModelInfo(entry.ID))
	}
	return models, nil
}

// inferModelInfo classifies a model by its identifier.
func inferModelInfo(id string) domain.ModelInfo {
	lower := strings.ToLower(id)

	info := domain.ModelInfo{Name: id, Kind: domain.KindLLM}
	if strings.Contains(lower, "embed") {
		info.Kind = domain.KindEmbeddings
		info.MaxContext = 8191
		return info
	}

	if !strings.Contains(lower, "instruct") {
		info.Capabilities = append(info.Capabilities, domain.CapToolCall)
	}
	if containsAny(lower, "vision", "gpt-4o", "omni", "claude-3", "gemini") {
		info.Capabilities = append(info.Capabilities, domain.CapImageInput)
	}
	if containsAny(lower, "o1", "o3", "reason", "thinking", "-r1") {
		info.Capabilities = append(info.Capabilities, domain.CapThinking)
	}

	switch {
	case containsAny(lower, "128k", "gpt-4o", "gpt-4-turbo", "o1", "o3"):
		info.MaxContext = 128000
	case containsAny(lower, "claude", "gemini", "200k"):
		info.MaxContext = 200000
	case containsAny(lower, "32k"):
		info.MaxContext = 32768
	case containsAny(lower, "gpt-3.5-turbo"):
		info.MaxContext = 16385
	default:
		info.MaxContext = 8192
	}
	return info
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Compile-time interface check.
var _ domain.ModelRequester = (*OpenAIRequester)(nil)
