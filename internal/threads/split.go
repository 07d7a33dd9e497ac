package threads

import (
	"strings"

	"github.com/nextlevelbuilder/threadrun/internal/store"
	"github.com/nextlevelbuilder/threadrun/pkg/protocol"
)

// splitMessage breaks a reply into the parts that are paced and stored one by
// one. Tool answers are kept whole. Other replies become one text part per
// paragraph followed by their tool_use items.
func splitMessage(m store.Message) []store.MessageContent {
	if m.Type == store.MessageTypeToolAnswer {
		return m.Content
	}
	var parts []store.MessageContent
	for _, p := range strings.Split(m.Text(), "\n\n") {
		parts = append(parts, store.TextContent(p))
	}
	return append(parts, m.ToolUses()...)
}

// formatSummaries renders prior thread summaries, oldest first, each headed by
// its creation time.
func formatSummaries(list []store.ThreadSummary) string {
	parts := make([]string, 0, len(list))
	for _, s := range list {
		parts = append(parts, s.CreatedAt.Format("2006-01-02 15:04:05")+" \n "+s.Content)
	}
	return strings.Join(parts, "\n\n")
}

func ContentToProtocol(items []store.MessageContent) []protocol.ContentItem {
	out := make([]protocol.ContentItem, len(items))
	for i, c := range items {
		out[i] = protocol.ContentItem{
			Type:     string(c.Type),
			Text:     c.Text,
			Image:    c.Image,
			MimeType: c.MimeType,
			ImageURL: c.ImageURL,
			ID:       c.ID,
			Name:     c.Name,
			Input:    c.Input,
			Error:    c.Error,
		}
	}
	return out
}

func ContentFromProtocol(items []protocol.ContentItem) []store.MessageContent {
	out := make([]store.MessageContent, len(items))
	for i, c := range items {
		out[i] = store.MessageContent{
			Type:     store.ContentType(c.Type),
			Text:     c.Text,
			Image:    c.Image,
			MimeType: c.MimeType,
			ImageURL: c.ImageURL,
			ID:       c.ID,
			Name:     c.Name,
			Input:    c.Input,
			Error:    c.Error,
		}
	}
	return out
}
