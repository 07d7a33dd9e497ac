package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible endpoints.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	retryConfig  RetryConfig
}

func NewOpenAIProvider(apiKey, apiBase, defaultModel string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		cfg.BaseURL = apiBase
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *OpenAIProvider) Name() string         { return "openai" }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	oaiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
		Tools:    toOpenAITools(req.Tools),
	}
	if v, ok := req.Options["temperature"].(float64); ok {
		oaiReq.Temperature = float32(v)
	}
	if v, ok := req.Options["max_tokens"].(int); ok {
		oaiReq.MaxTokens = v
	}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		resp, err := p.client.CreateChatCompletion(ctx, oaiReq)
		if err != nil {
			return nil, wrapOpenAIError(err)
		}
		return parseOpenAIResponse(resp)
	})
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{Role: m.Role}
		switch m.Role {
		case RoleUser:
			if len(m.Images) == 0 && len(m.ImageURLs) == 0 {
				om.Content = m.Content
				break
			}
			var parts []openai.ChatMessagePart
			if m.Content != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
			}
			for _, img := range m.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data), Detail: openai.ImageURLDetailAuto},
				})
			}
			for _, u := range m.ImageURLs {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: u, Detail: openai.ImageURLDetailAuto},
				})
			}
			om.MultiContent = parts
		case RoleAssistant:
			om.Content = m.Content
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
		case RoleTool:
			om.Content = m.Content
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
		default:
			om.Content = m.Content
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(defs))
	for i, d := range defs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Function.Name,
				Description: d.Function.Description,
				Parameters:  d.Function.Parameters,
			},
		}
	}
	return out
}

func parseOpenAIResponse(resp openai.ChatCompletionResponse) (*ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]interface{})
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("openai: decode arguments of %s: %w", tc.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &StatusError{Provider: "openai", Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &StatusError{Provider: "openai", Status: reqErr.HTTPStatusCode, Err: err}
	}
	return fmt.Errorf("openai: %w", err)
}

// OpenAIEmbedder implements Embedder with the embeddings endpoint.
type OpenAIEmbedder struct {
	client      *openai.Client
	model       string
	retryConfig RetryConfig
}

func NewOpenAIEmbedder(apiKey, apiBase, model string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		cfg.BaseURL = apiBase
	}
	return &OpenAIEmbedder{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		retryConfig: DefaultRetryConfig(),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := RetryDo(ctx, e.retryConfig, func() (openai.EmbeddingResponse, error) {
		r, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return r, wrapOpenAIError(err)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}
