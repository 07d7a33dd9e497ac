package agent

import (
	"sort"

	"github.com/nextlevelbuilder/threadrun/internal/store"
)

const (
	firstMessagePrefix   = "(first message) "
	humanColleaguePrefix = "Human colleague: "
)

// MergeMessages sorts msgs by creation time and folds runs of the same message
// type into one message. Tool answers are never folded. The first human message
// and the first human_agent message get a label so the model can tell who spoke.
// The input slice and its messages are left untouched.
func MergeMessages(msgs []store.Message) []store.Message {
	sorted := make([]store.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	var (
		out                []store.Message
		seenHuman          bool
		seenHumanColleague bool
	)
	for _, m := range sorted {
		m.Content = cloneContent(m.Content)

		switch {
		case m.Type == store.MessageTypeHuman && !seenHuman:
			seenHuman = true
			m.Content = withPrefix(m.Content, firstMessagePrefix)
		case m.Type == store.MessageTypeHumanAgent && !seenHumanColleague:
			seenHumanColleague = true
			m.Content = withPrefix(m.Content, humanColleaguePrefix)
		}

		n := len(out)
		if n > 0 && m.Type != store.MessageTypeToolAnswer && out[n-1].Type == m.Type {
			prev := &out[n-1]
			prev.Content = joinContent(prev.Content, m.Content)
			prev.CreatedAt = m.CreatedAt
			continue
		}
		out = append(out, m)
	}
	return out
}

// joinContent appends b to a. Adjacent text items at the seam are joined with a
// blank line.
func joinContent(a, b []store.MessageContent) []store.MessageContent {
	if len(a) > 0 && len(b) > 0 &&
		a[len(a)-1].Type == store.ContentText && b[0].Type == store.ContentText {
		a[len(a)-1].Text += "\n\n" + b[0].Text
		return append(a, b[1:]...)
	}
	return append(a, b...)
}

func withPrefix(content []store.MessageContent, prefix string) []store.MessageContent {
	if len(content) > 0 && content[0].Type == store.ContentText {
		content[0].Text = prefix + content[0].Text
		return content
	}
	return append([]store.MessageContent{store.TextContent(prefix)}, content...)
}

func cloneContent(c []store.MessageContent) []store.MessageContent {
	if c == nil {
		return nil
	}
	out := make([]store.MessageContent, len(c))
	copy(out, c)
	return out
}
