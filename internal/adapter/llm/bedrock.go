//go:build bedrock

package llm

import (
	"context"
	"encoding/base64"
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
	"go.opentelemetry.io/otel/trace"

	"datascout/internal/domain"
	"datascout/internal/infra/config"
	"datascout/internal/infra/tracer"
)

// bedrockConverseAPI abstracts the Bedrock runtime client for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider implements domain.LLMProvider via the AWS Bedrock
// Converse API.
type BedrockProvider struct {
	model  string
	client bedrockConverseAPI
	logger *slog.Logger
}

// newBedrockProvider creates a Bedrock provider using the default AWS
// credential chain.
func newBedrockProvider(cfg config.LLMConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &BedrockProvider{
		model:  cfg.Model,
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// newBedrockProviderWithClient injects a client (for testing).
func newBedrockProviderWithClient(model string, client bedrockConverseAPI, logger *slog.Logger) *BedrockProvider {
	return &BedrockProvider{model: model, client: client, logger: logger}
}

// Chat implements domain.LLMProvider.
func (p *BedrockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.Name()),
			tracer.StringAttr("llm.model", p.model),
		),
	)
	defer span.End()

	input, err := toBedrockConverseInput(req, p.model)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	output, err := p.client.Converse(ctx, input)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, mapBedrockError(err)
	}

	result := fromBedrockConverseOutput(output, p.model)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.Name(), result)

	return result, nil
}

// Name implements domain.LLMProvider.
func (p *BedrockProvider) Name() string { return "bedrock" }

var _ domain.LLMProvider = (*BedrockProvider)(nil)

func toBedrockConverseInput(req domain.ChatRequest, model string) (*bedrockruntime.ConverseInput, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
	}

	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}

	for _, m := range req.Messages {
		role := types.ConversationRoleUser
		if m.Role == domain.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		content, err := toBedrockBlocks(m.Content)
		if err != nil {
			return nil, err
		}
		input.Messages = append(input.Messages, types.Message{Role: role, Content: content})
	}

	if len(req.Tools) > 0 {
		toolCfg := &types.ToolConfiguration{}
		for _, t := range req.Tools {
			var schema map[string]any
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
			toolCfg.Tools = append(toolCfg.Tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: document.NewLazyDocument(schema),
					},
				},
			})
		}
		input.ToolConfig = toolCfg
	}

	return input, nil
}

func toBedrockBlocks(blocks []domain.ContentBlock) ([]types.ContentBlock, error) {
	out := make([]types.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case domain.BlockText:
			out = append(out, &types.ContentBlockMemberText{Value: b.Text})

		case domain.BlockToolUse:
			var in map[string]any
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &in); err != nil {
					return nil, fmt.Errorf("tool_use %s input: %w", b.Name, err)
				}
			}
			out = append(out, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(b.ID),
					Name:      aws.String(b.Name),
					Input:     document.NewLazyDocument(in),
				},
			})

		case domain.BlockToolResult:
			status := types.ToolResultStatusSuccess
			if b.IsError {
				status = types.ToolResultStatusError
			}
			var content []types.ToolResultContentBlock
			for _, inner := range b.Content {
				switch inner.Type {
				case domain.BlockText:
					content = append(content, &types.ToolResultContentBlockMemberText{Value: inner.Text})
				case domain.BlockImage:
					img, err := toBedrockImage(inner.Source)
					if err != nil {
						return nil, err
					}
					content = append(content, &types.ToolResultContentBlockMemberImage{Value: *img})
				}
			}
			out = append(out, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(b.ToolUseID),
					Status:    status,
					Content:   content,
				},
			})

		case domain.BlockImage:
			img, err := toBedrockImage(b.Source)
			if err != nil {
				return nil, err
			}
			out = append(out, &types.ContentBlockMemberImage{Value: *img})
		}
	}
	return out, nil
}

func toBedrockImage(src *domain.ImageSource) (*types.ImageBlock, error) {
	if src == nil {
		return nil, errors.New("image block has no source")
	}
	var format types.ImageFormat
	switch src.MediaType {
	case "image/jpeg":
		format = types.ImageFormatJpeg
	case "image/png":
		format = types.ImageFormatPng
	case "image/gif":
		format = types.ImageFormatGif
	case "image/webp":
		format = types.ImageFormatWebp
	default:
		return nil, fmt.Errorf("unsupported image media type %q", src.MediaType)
	}
	raw, err := base64.StdEncoding.DecodeString(src.Data)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	return &types.ImageBlock{
		Format: format,
		Source: &types.ImageSourceMemberBytes{Value: raw},
	}, nil
}

func fromBedrockConverseOutput(output *bedrockruntime.ConverseOutput, model string) *domain.ChatResponse {
	result := &domain.ChatResponse{Model: model}

	switch output.StopReason {
	case types.StopReasonToolUse:
		result.StopReason = domain.StopToolUse
	case types.StopReasonMaxTokens:
		result.StopReason = domain.StopMaxTokens
	default:
		result.StopReason = domain.StopEndTurn
	}

	if output.Usage != nil {
		result.Usage = domain.Usage{
			InputTokens:  int(aws.ToInt32(output.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
		}
	}

	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return result
	}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			result.Content = append(result.Content, domain.TextBlock(v.Value))
		case *types.ContentBlockMemberToolUse:
			input, err := v.Value.Input.MarshalSmithyDocument()
			if err != nil {
				input = []byte("{}")
			}
			result.Content = append(result.Content, domain.ToolUseBlock(
				aws.ToString(v.Value.ToolUseId),
				aws.ToString(v.Value.Name),
				input,
			))
		}
	}
	return result
}

// mapBedrockError converts AWS API errors into domain errors so the engine's
// classifier treats throttling and auth failures the same across providers.
func mapBedrockError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	detail := fmt.Sprintf("bedrock %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "TooManyRequestsException":
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case "ServiceUnavailableException", "InternalServerException", "ModelNotReadyException":
		return fmt.Errorf("%w: %s", domain.ErrOverloaded, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}
