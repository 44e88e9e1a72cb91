//go:build bedrock

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"ragline/internal/domain"
	"ragline/internal/infra/config"
)

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockRequester implements domain.ModelRequester via the AWS Bedrock
// Converse API. The Bedrock runtime cannot enumerate models, so the
// requester carries a static model list from configuration.
type BedrockRequester struct {
	platform string
	models   []string
	client   bedrockConverseAPI
	logger   *slog.Logger
}

// NewBedrockRequester creates a requester using the default AWS credential chain.
func NewBedrockRequester(platform string, cred config.CredentialSet, models []string, logger *slog.Logger) (*BedrockRequester, error) {
	region := cred.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", domain.ErrModelInit, err)
	}

	return &BedrockRequester{
		platform: platform,
		models:   models,
		client:   bedrockruntime.NewFromConfig(awsCfg),
		logger:   logger,
	}, nil
}

// newBedrockRequesterWithClient injects a fake Converse API for tests.
func newBedrockRequesterWithClient(platform string, models []string, client bedrockConverseAPI, logger *slog.Logger) *BedrockRequester {
	return &BedrockRequester{platform: platform, models: models, client: client, logger: logger}
}

// Capabilities implements domain.ModelRequester. Embeddings go through a
// different Bedrock API family and are not wired here.
func (r *BedrockRequester) Capabilities() domain.RequesterCapability {
	return domain.CapChat
}

// ListModels implements domain.ModelRequester from the configured list.
func (r *BedrockRequester) ListModels(_ context.Context) ([]domain.ModelInfo, error) {
	if len(r.models) == 0 {
		return nil, fmt.Errorf("%w: no models configured for bedrock platform %q", domain.ErrModelInit, r.platform)
	}
	infos := make([]domain.ModelInfo, 0, len(r.models))
	for _, id := range r.models {
		infos = append(infos, inferModelInfo(id))
	}
	return infos, nil
}

// Embed implements domain.ModelRequester.
func (r *BedrockRequester) Embed(_ context.Context, _ string, _ []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: bedrock requester does not serve embeddings", domain.ErrAPIRequest)
}

// CompleteStream implements domain.ModelRequester.
func (r *BedrockRequester) CompleteStream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.Chunk, error) {
	if err := domain.ValidateToolSchemas(req.Tools); err != nil {
		return nil, err
	}

	output, err := r.client.ConverseStream(ctx, toConverseStreamInput(req))
	if err != nil {
		return nil, mapBedrockError(ctx, err)
	}

	ch := make(chan domain.Chunk, 16)
	go func() {
		defer close(ch)
		stream := output.GetStream()
		defer stream.Close()

		for evt := range stream.Events() {
			chunk := fromConverseStreamEvent(evt)
			if chunk == nil {
				continue
			}
			select {
			case ch <- *chunk:
			case <-ctx.Done():
				// The consumer may already be gone; never block on the
				// terminal chunk.
				select {
				case ch <- domain.Chunk{Err: domain.Abort(ctx, ctx.Err())}:
				default:
				}
				return
			}
			if chunk.Done || chunk.Err != nil {
				return
			}
		}

		if err := stream.Err(); err != nil {
			ch <- domain.Chunk{Err: mapBedrockError(ctx, err)}
		}
	}()

	return ch, nil
}

func toConverseStreamInput(req domain.CompletionRequest) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(req.Model),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	input.InferenceConfig = &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}
	if req.TopP > 0 {
		input.InferenceConfig.TopP = aws.Float32(float32(req.TopP))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
		case domain.RoleAssistant:
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		default:
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}

	if len(req.Tools) > 0 {
		var tools []types.Tool
		for _, t := range req.Tools {
			var schema map[string]interface{}
			if len(t.Parameters) > 0 {
				json.Unmarshal(t.Parameters, &schema)
			}
			if schema == nil {
				schema = map[string]interface{}{"type": "object"}
			}
			tools = append(tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: document.NewLazyDocument(schema),
					},
				},
			})
		}
		input.ToolConfig = &types.ToolConfiguration{Tools: tools}
	}

	return input
}

func fromConverseStreamEvent(evt types.ConverseStreamOutput) *domain.Chunk {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
			return &domain.Chunk{Content: d.Value}
		}
		if d, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberToolUse); ok {
			return &domain.Chunk{ToolCalls: []domain.ToolCallDelta{{Arguments: aws.ToString(d.Value.Input)}}}
		}
		return nil

	case *types.ConverseStreamOutputMemberContentBlockStart:
		if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			return &domain.Chunk{
				ToolCalls: []domain.ToolCallDelta{{
					ID:   aws.ToString(start.Value.ToolUseId),
					Name: aws.ToString(start.Value.Name),
				}},
			}
		}
		return nil

	case *types.ConverseStreamOutputMemberMessageStop:
		if e.Value.StopReason == types.StopReasonContentFiltered {
			return &domain.Chunk{Err: fmt.Errorf("%w: stop reason content_filtered", domain.ErrUnsafeContent)}
		}
		return &domain.Chunk{Done: true}

	case *types.ConverseStreamOutputMemberMetadata:
		chunk := &domain.Chunk{Done: true}
		if e.Value.Usage != nil {
			in := int(aws.ToInt32(e.Value.Usage.InputTokens))
			out := int(aws.ToInt32(e.Value.Usage.OutputTokens))
			chunk.Usage = &domain.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
		}
		return chunk

	default:
		return nil
	}
}

func mapBedrockError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return domain.Abort(ctx, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: %s", domain.ErrAPIRequest, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("%w: %v", domain.ErrAPIRequest, err)
}

var _ domain.ModelRequester = (*BedrockRequester)(nil)
