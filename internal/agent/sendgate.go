package agent

import (
	"strings"

	"github.com/nextlevelbuilder/threadrun/internal/providers"
	"github.com/nextlevelbuilder/threadrun/internal/store"
)

// ShouldSend decides whether the latest reply of a run reaches the user.
// replies holds everything the executor produced so far in this run, conv is
// the history the run started from.
func ShouldSend(replies []store.Message, conv []providers.Message, status store.RunStatus, hideToolMessages bool) bool {
	if status.IsTerminal() || len(replies) == 0 {
		return false
	}
	last := replies[len(replies)-1]
	if last.Type != store.MessageTypeAI {
		return false
	}

	if !hasAssistant(conv) && !hasToolAnswer(replies) {
		return true
	}
	if !hideToolMessages {
		return true
	}

	if len(replies) > 1 && replies[len(replies)-2].Type == store.MessageTypeToolAnswer {
		prev := replies[len(replies)-2]
		if mentionsError(prev) && reactsTo(last, prev.ToolCallName) {
			return false
		}
		return true
	}

	return len(last.ToolUses()) == 0
}

func hasAssistant(conv []providers.Message) bool {
	for _, m := range conv {
		if m.Role == providers.RoleAssistant {
			return true
		}
	}
	return false
}

func hasToolAnswer(replies []store.Message) bool {
	for _, r := range replies {
		if r.Type == store.MessageTypeToolAnswer {
			return true
		}
	}
	return false
}

func mentionsError(m store.Message) bool {
	for _, t := range m.Texts() {
		if strings.Contains(strings.ToLower(t), "error") {
			return true
		}
	}
	return false
}

// reactsTo reports whether m calls the tool named name again.
func reactsTo(m store.Message, name string) bool {
	for _, tu := range m.ToolUses() {
		if tu.Name == name {
			return true
		}
	}
	return false
}
