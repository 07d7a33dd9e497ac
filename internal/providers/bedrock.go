package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// converseAPI is the subset of the Bedrock runtime client used here.
type converseAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockConfig holds AWS settings. Explicit keys are optional; the default
// credential chain is used when they are empty.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Model           string
}

// maxBedrockImageBytes is the Converse limit for one inline image.
const maxBedrockImageBytes = 3_750_000

// imageFetcher downloads an image URL so it can be sent inline.
type imageFetcher func(ctx context.Context, url string) (ImageContent, error)

// BedrockProvider implements Provider with the Bedrock Converse API.
type BedrockProvider struct {
	client       converseAPI
	defaultModel string
	retryConfig  RetryConfig
	fetchImage   imageFetcher
}

func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.Model,
		retryConfig:  DefaultRetryConfig(),
		fetchImage:   httpImageFetcher(&http.Client{Timeout: 15 * time.Second}),
	}, nil
}

func (p *BedrockProvider) Name() string         { return "bedrock" }
func (p *BedrockProvider) DefaultModel() string { return p.defaultModel }

func (p *BedrockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	system, msgs, err := toBedrockMessages(req.Messages, p.imageURLBlock(ctx))
	if err != nil {
		return nil, err
	}
	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: msgs,
		System:   system,
	}
	if len(req.Tools) > 0 {
		in.ToolConfig = toBedrockTools(req.Tools)
	}
	if v, ok := req.Options["max_tokens"].(int); ok {
		in.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(v))}
	}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		out, err := p.client.Converse(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("bedrock: converse: %w", err)
		}
		return parseBedrockOutput(out)
	})
}

// toBedrockMessages splits out system text and folds consecutive tool results into
// a single user turn, which Converse requires.
func toBedrockMessages(msgs []Message, imageURL func(string) types.ContentBlock) ([]types.SystemContentBlock, []types.Message, error) {
	var system []types.SystemContentBlock
	var out []types.Message

	appendBlocks := func(role types.ConversationRole, blocks []types.ContentBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
		case RoleUser:
			var blocks []types.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, img := range m.Images {
				block, err := bedrockImage(img)
				if err != nil {
					return nil, nil, err
				}
				blocks = append(blocks, block)
			}
			for _, u := range m.ImageURLs {
				blocks = append(blocks, imageURL(u))
			}
			appendBlocks(types.ConversationRoleUser, blocks)
		case RoleAssistant:
			var blocks []types.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(tc.Arguments),
				}})
			}
			appendBlocks(types.ConversationRoleAssistant, blocks)
		case RoleTool:
			appendBlocks(types.ConversationRoleUser, []types.ContentBlock{
				&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
				}},
			})
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported role %q", m.Role)
		}
	}
	return system, out, nil
}

// imageURLBlock turns an image URL into an inline image block. Converse takes
// only image bytes, so the URL is downloaded; when that fails the model gets
// the URL as text instead.
func (p *BedrockProvider) imageURLBlock(ctx context.Context) func(string) types.ContentBlock {
	return func(u string) types.ContentBlock {
		fallback := &types.ContentBlockMemberText{Value: "[image: " + u + "]"}
		if p.fetchImage == nil {
			return fallback
		}
		img, err := p.fetchImage(ctx, u)
		if err == nil {
			var block types.ContentBlock
			if block, err = bedrockImage(img); err == nil {
				return block
			}
		}
		slog.Warn("bedrock: image not inlined", "url", u, "error", err)
		return fallback
	}
}

func httpImageFetcher(client *http.Client) imageFetcher {
	return func(ctx context.Context, u string) (ImageContent, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return ImageContent{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return ImageContent{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return ImageContent{}, fmt.Errorf("fetch image: status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBedrockImageBytes+1))
		if err != nil {
			return ImageContent{}, fmt.Errorf("fetch image: %w", err)
		}
		if len(data) > maxBedrockImageBytes {
			return ImageContent{}, fmt.Errorf("fetch image: larger than %d bytes", maxBedrockImageBytes)
		}
		mime, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
		if !strings.HasPrefix(mime, "image/") {
			mime = http.DetectContentType(data)
		}
		return ImageContent{MimeType: mime, Data: base64.StdEncoding.EncodeToString(data)}, nil
	}
}

func bedrockImage(img ImageContent) (types.ContentBlock, error) {
	data, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return nil, fmt.Errorf("bedrock: decode image: %w", err)
	}
	var format types.ImageFormat
	switch strings.TrimPrefix(strings.ToLower(img.MimeType), "image/") {
	case "png":
		format = types.ImageFormatPng
	case "gif":
		format = types.ImageFormatGif
	case "webp":
		format = types.ImageFormatWebp
	default:
		format = types.ImageFormatJpeg
	}
	return &types.ContentBlockMemberImage{Value: types.ImageBlock{
		Format: format,
		Source: &types.ImageSourceMemberBytes{Value: data},
	}}, nil
}

func toBedrockTools(defs []ToolDefinition) *types.ToolConfiguration {
	tools := make([]types.Tool, 0, len(defs))
	for _, d := range defs {
		params := d.Function.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		tools = append(tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(d.Function.Name),
			Description: aws.String(d.Function.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(params)},
		}})
	}
	return &types.ToolConfiguration{Tools: tools}
}

func parseBedrockOutput(out *bedrockruntime.ConverseOutput) (*ChatResponse, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock: response carries no message")
	}
	resp := &ChatResponse{FinishReason: string(out.StopReason)}
	var texts []string
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			texts = append(texts, b.Value)
		case *types.ContentBlockMemberToolUse:
			args := make(map[string]interface{})
			if b.Value.Input != nil {
				if err := b.Value.Input.UnmarshalSmithyDocument(&args); err != nil {
					return nil, fmt.Errorf("bedrock: decode tool input: %w", err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: args,
			})
		}
	}
	resp.Content = strings.Join(texts, "\n\n")
	if out.Usage != nil {
		resp.Usage = &Usage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return resp, nil
}
