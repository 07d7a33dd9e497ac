package tools

import (
	"context"
	"strings"
)

const HandoffToolName = "colleague_handoff"

// DefaultHandoffReason is used when the model gives no reason.
const DefaultHandoffReason = "The agent is handing over the conversation, please read the conversation history carefully."

// HandoffTool lets the model escalate the conversation to a human colleague.
type HandoffTool struct{}

func NewHandoffTool() *HandoffTool { return &HandoffTool{} }

func (t *HandoffTool) Name() string { return HandoffToolName }

func (t *HandoffTool) Description() string {
	return "Hand the conversation over to a human colleague. Use it when you cannot help the user, " +
		"when the user asks for a human, or when the request is outside your instructions."
}

func (t *HandoffTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Short note for the colleague explaining why the conversation is handed over.",
			},
		},
	}
}

func (t *HandoffTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	reason, _ := args["reason"].(string)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultHandoffReason
	}
	return HandoffResult(reason)
}
