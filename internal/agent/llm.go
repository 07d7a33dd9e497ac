package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/threadrun/internal/providers"
)

// VisionDescriber implements Describer with a vision-capable model.
type VisionDescriber struct {
	LLM providers.Provider
}

func (v *VisionDescriber) Describe(ctx context.Context, msgs []providers.Message) (string, error) {
	req := providers.ChatRequest{
		Messages: append([]providers.Message{{Role: providers.RoleSystem, Content: visionPrompt}}, msgs...),
	}
	resp, err := v.LLM.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision: %w", err)
	}
	return resp.Content, nil
}

// Condense rewrites the last user message of conv into a standalone query.
func (f *Formatter) Condense(ctx context.Context, llm providers.Provider, conv []providers.Message) (string, error) {
	lines := f.CondenseView(ctx, conv)
	if len(lines) == 0 {
		return "", nil
	}
	history := strings.Join(lines[:len(lines)-1], "\n")
	question := strings.TrimPrefix(lines[len(lines)-1], condenseLabels.user)

	resp, err := llm.Chat(ctx, providers.ChatRequest{Messages: []providers.Message{
		{Role: providers.RoleSystem, Content: CondensePrompt(history, question)},
		{Role: providers.RoleUser, Content: condenseInstruction},
	}})
	if err != nil {
		return "", fmt.Errorf("condense: %w", err)
	}
	slog.Debug("condensed conversation", "query", resp.Content)
	return resp.Content, nil
}

// Summarize produces the long-term memory entry for a closed conversation.
func Summarize(ctx context.Context, llm providers.Provider, conv []providers.Message) (string, error) {
	lines := SummaryView(conv)
	resp, err := llm.Chat(ctx, providers.ChatRequest{Messages: []providers.Message{
		{Role: providers.RoleSystem, Content: SummaryPrompt(strings.Join(lines, "\n"))},
		{Role: providers.RoleUser, Content: summaryInstruction},
	}})
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	return resp.Content, nil
}
