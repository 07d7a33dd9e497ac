package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	openai "github.com/sashabaranov/go-openai"
)

func TestValidateModelName(t *testing.T) {
	tests := []struct {
		provider, name string
		wantErr        bool
	}{
		{"openai", "gpt-4o", false},
		{"openai", "gpt-4.1-mini", false},
		{"openai", "o3-mini", false},
		{"openai", "text-embedding-3-small", false},
		{"openai", "claude-3", true},
		{"bedrock", "anthropic.claude-3-5-sonnet-20240620-v1:0", false},
		{"bedrock", "arn:aws:bedrock:us-east-1:123456789012:inference-profile/us.anthropic.claude-3-haiku", false},
		{"bedrock", "gpt-4o", true},
		{"cohere", "command-r", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.name, func(t *testing.T) {
			err := ValidateModelName(tt.provider, tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidModel) {
				t.Errorf("err = %v, want ErrInvalidModel", err)
			}
		})
	}
}

func TestRetryDo(t *testing.T) {
	cfg := RetryConfig{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		got, err := RetryDo(context.Background(), cfg, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, &StatusError{Provider: "openai", Status: 503, Err: errors.New("unavailable")}
			}
			return 7, nil
		})
		if err != nil || got != 7 || calls != 3 {
			t.Fatalf("got %d, err %v, calls %d; want 7, nil, 3", got, err, calls)
		}
	})

	t.Run("stops on client errors", func(t *testing.T) {
		calls := 0
		_, err := RetryDo(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, &StatusError{Provider: "openai", Status: 400, Err: errors.New("bad request")}
		})
		if err == nil || calls != 1 {
			t.Fatalf("err %v, calls %d; want error after 1 call", err, calls)
		}
	})
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := toOpenAIMessages([]Message{
		{Role: RoleSystem, Content: "be nice"},
		{Role: RoleUser, Content: "look", ImageURLs: []string{"https://example.com/a.png"}},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "lookup", Arguments: map[string]interface{}{"q": "x"}}}},
		{Role: RoleTool, Content: "42", ToolCallID: "c1", ToolName: "lookup"},
	})
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if len(msgs[1].MultiContent) != 2 || msgs[1].MultiContent[1].Type != openai.ChatMessagePartTypeImageURL {
		t.Errorf("user parts = %+v", msgs[1].MultiContent)
	}
	if len(msgs[2].ToolCalls) != 1 || msgs[2].ToolCalls[0].Function.Arguments != `{"q":"x"}` {
		t.Errorf("assistant tool calls = %+v", msgs[2].ToolCalls)
	}
	if msgs[3].ToolCallID != "c1" || msgs[3].Name != "lookup" {
		t.Errorf("tool message = %+v", msgs[3])
	}
}

func TestParseOpenAIResponse(t *testing.T) {
	resp, err := parseOpenAIResponse(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content: "",
				ToolCalls: []openai.ToolCall{{
					ID:       "c1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "lookup", Arguments: `{"q":"x"}`},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Empty() {
		t.Fatal("response with tool calls reported empty")
	}
	if resp.ToolCalls[0].Arguments["q"] != "x" {
		t.Errorf("arguments = %+v", resp.ToolCalls[0].Arguments)
	}
}

type fakeConverse struct {
	in  *bedrockruntime.ConverseInput
	out *bedrockruntime.ConverseOutput
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.in = in
	return f.out, nil
}

func TestBedrockChat(t *testing.T) {
	fake := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "hello"}},
		}},
		StopReason: types.StopReasonEndTurn,
		Usage:      &types.TokenUsage{InputTokens: aws.Int32(3), OutputTokens: aws.Int32(1), TotalTokens: aws.Int32(4)},
	}}
	p := &BedrockProvider{client: fake, defaultModel: "anthropic.claude-3-haiku-20240307-v1:0", retryConfig: RetryConfig{Attempts: 1}}

	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a", Name: "t1"}, {ID: "b", Name: "t2"}}},
		{Role: RoleTool, Content: "r1", ToolCallID: "a"},
		{Role: RoleTool, Content: "r2", ToolCallID: "b"},
	}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello" || resp.Usage.TotalTokens != 4 {
		t.Errorf("resp = %+v", resp)
	}
	if len(fake.in.System) != 1 {
		t.Errorf("system blocks = %d, want 1", len(fake.in.System))
	}
	// user, assistant, user(two tool results folded together)
	if len(fake.in.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(fake.in.Messages))
	}
	if got := len(fake.in.Messages[2].Content); got != 2 {
		t.Errorf("folded tool results = %d, want 2", got)
	}
}

func TestBedrockChatInlinesImageURLs(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cat.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	fake := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "a cat"}},
		}},
	}}
	p := &BedrockProvider{client: fake, retryConfig: RetryConfig{Attempts: 1}, fetchImage: httpImageFetcher(srv.Client())}

	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "what is this", ImageURLs: []string{srv.URL + "/cat.png", srv.URL + "/missing.png"}},
	}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	blocks := fake.in.Messages[0].Content
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(blocks))
	}
	img, ok := blocks[1].(*types.ContentBlockMemberImage)
	if !ok {
		t.Fatalf("block 1 = %T, want image", blocks[1])
	}
	if img.Value.Format != types.ImageFormatPng {
		t.Errorf("format = %s, want png", img.Value.Format)
	}
	if src, ok := img.Value.Source.(*types.ImageSourceMemberBytes); !ok || string(src.Value) != string(png) {
		t.Errorf("source = %+v", img.Value.Source)
	}
	if txt, ok := blocks[2].(*types.ContentBlockMemberText); !ok || txt.Value != "[image: "+srv.URL+"/missing.png]" {
		t.Errorf("block 2 = %#v, want the url as text", blocks[2])
	}
}
