package agent

import (
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/threadrun/internal/store"
)

const (
	// FallbackReplyText stands in for an assistant turn that never happened.
	FallbackReplyText = "Acknowledged. How can I help you further?"

	// MissingToolAnswerText stands in for a tool answer that never arrived.
	MissingToolAnswerText = "The tool was called but no response was received. Try again."
)

// SanitizeMessages repairs a time-ordered history so that every tool_use is
// answered before anything else happens and the history ends on a human turn.
//
// Tool answers for ids that are not pending are copied through unchanged.
// Missing answers are synthesized from the last ai message, and an ai fallback
// reply follows each closed tool cycle unless an ai message is already next.
// tool_use items without an id are dropped. Trailing non-human messages are
// dropped at the end.
func SanitizeMessages(msgs []store.Message) []store.Message {
	out := make([]store.Message, 0, len(msgs))
	var pending []string

	for i := 0; i < len(msgs); {
		m := msgs[i]

		if m.Type == store.MessageTypeAI {
			if m, ok := withoutAnonymousToolUses(m); ok {
				out = append(out, m)
				for _, tu := range m.ToolUses() {
					pending = append(pending, tu.ID)
				}
			}
			i++
			continue
		}

		if m.Type == store.MessageTypeToolAnswer && indexOf(pending, m.ToolCallID) >= 0 {
			out = append(out, m)
			pending = removeID(pending, m.ToolCallID)
			if len(pending) == 0 {
				nextIsAI := false
				if i+1 < len(msgs) && msgs[i+1].Type == store.MessageTypeAI {
					_, nextIsAI = withoutAnonymousToolUses(msgs[i+1])
				}
				if !nextIsAI {
					out = append(out, fallbackReply(m))
				}
			}
			i++
			continue
		}

		if len(pending) > 0 {
			out = closePending(out, pending)
			pending = nil
			out = append(out, fallbackReply(out[len(out)-1]))
			// m is processed again on the next iteration.
			continue
		}

		out = append(out, m)
		i++
	}

	if len(pending) > 0 {
		out = closePending(out, pending)
		out = append(out, fallbackReply(out[len(out)-1]))
	}

	return trimToHuman(out)
}

// trimToHuman drops trailing non-human messages. A tool cycle never spans a
// human message after sanitizing, so the cut cannot split a tool_use from its
// answers.
func trimToHuman(msgs []store.Message) []store.Message {
	n := len(msgs)
	for n > 0 && msgs[n-1].Type != store.MessageTypeHuman {
		n--
	}
	return msgs[:n]
}

// closePending appends a placeholder answer for every pending id, recovering
// tool names from the most recent ai message.
func closePending(out []store.Message, pending []string) []store.Message {
	var lastAI store.Message
	for j := len(out) - 1; j >= 0; j-- {
		if out[j].Type == store.MessageTypeAI {
			lastAI = out[j]
			break
		}
	}
	names := make(map[string]string)
	for _, tu := range lastAI.ToolUses() {
		names[tu.ID] = tu.Name
	}
	for _, id := range pending {
		slog.Debug("synthesizing missing tool answer", "tool_call_id", id, "tool", names[id])
		out = append(out, store.Message{
			ThreadID:     lastAI.ThreadID,
			Type:         store.MessageTypeToolAnswer,
			Content:      []store.MessageContent{store.TextContent(MissingToolAnswerText)},
			CreatedAt:    lastAI.CreatedAt.Add(time.Millisecond),
			ToolCallID:   id,
			ToolCallName: names[id],
		})
	}
	return out
}

// withoutAnonymousToolUses drops tool_use items without an id, since no answer
// can pair with them. ok is false when nothing else was left in the message.
func withoutAnonymousToolUses(m store.Message) (store.Message, bool) {
	keep := make([]store.MessageContent, 0, len(m.Content))
	dropped := false
	for _, c := range m.Content {
		if c.Type == store.ContentToolUse && c.ID == "" {
			slog.Debug("dropping tool_use without id", "message_id", m.ID, "tool", c.Name)
			dropped = true
			continue
		}
		keep = append(keep, c)
	}
	if !dropped {
		return m, true
	}
	m.Content = keep
	return m, len(keep) > 0
}

func fallbackReply(after store.Message) store.Message {
	return store.Message{
		ThreadID:  after.ThreadID,
		Type:      store.MessageTypeAI,
		Content:   []store.MessageContent{store.TextContent(FallbackReplyText)},
		CreatedAt: after.CreatedAt.Add(time.Millisecond),
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func removeID(ids []string, id string) []string {
	i := indexOf(ids, id)
	if i < 0 {
		return ids
	}
	return append(ids[:i:i], ids[i+1:]...)
}

// PrepareHistory runs the merge pass followed by sanitization.
func PrepareHistory(msgs []store.Message) []store.Message {
	return SanitizeMessages(MergeMessages(msgs))
}
