package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/threadrun/internal/providers"
	"github.com/nextlevelbuilder/threadrun/internal/store"
)

const (
	imagePlaceholder  = "[image]"
	sharedImagePrefix = "I'm sharing an image with you. Here is the description:\n"
)

// Describer turns the images in msgs into a text description.
type Describer interface {
	Describe(ctx context.Context, msgs []providers.Message) (string, error)
}

// Formatter converts stored messages into model input.
type Formatter struct {
	// Vision describes images an assistant shared. Nil means "[image]".
	Vision Describer
}

// Conversation merges and sanitizes msgs, then converts them to provider
// messages. Comments are not shown to the model.
func (f *Formatter) Conversation(ctx context.Context, msgs []store.Message) ([]providers.Message, error) {
	prepared := PrepareHistory(msgs)
	out := make([]providers.Message, 0, len(prepared))
	for _, m := range prepared {
		switch m.Type {
		case store.MessageTypeHuman:
			out = append(out, userMessage(m))
		case store.MessageTypeAI, store.MessageTypeHumanAgent:
			out = append(out, f.assistantMessage(ctx, m))
		case store.MessageTypeToolAnswer:
			out = append(out, providers.Message{
				Role:       providers.RoleTool,
				Content:    m.Text(),
				ToolCallID: m.ToolCallID,
				ToolName:   m.ToolCallName,
			})
		case store.MessageTypeComment:
		default:
			return nil, fmt.Errorf("message %d: unknown type %q", m.ID, m.Type)
		}
	}
	return out, nil
}

func userMessage(m store.Message) providers.Message {
	pm := providers.Message{Role: providers.RoleUser}
	var texts []string
	for _, c := range m.Content {
		switch c.Type {
		case store.ContentText:
			texts = append(texts, c.Text)
		case store.ContentImage:
			pm.Images = append(pm.Images, inlineImage(c))
		case store.ContentImageURL:
			pm.ImageURLs = append(pm.ImageURLs, c.ImageURL)
		}
	}
	pm.Content = strings.Join(texts, "\n\n")
	return pm
}

// assistantMessage replaces shared images with a description, since providers
// reject image content in assistant turns.
func (f *Formatter) assistantMessage(ctx context.Context, m store.Message) providers.Message {
	pm := providers.Message{Role: providers.RoleAssistant}
	var texts []string
	for _, c := range m.Content {
		switch c.Type {
		case store.ContentText:
			texts = append(texts, c.Text)
		case store.ContentImage, store.ContentImageURL:
			texts = append(texts, sharedImagePrefix+f.describe(ctx, c))
		case store.ContentToolUse:
			pm.ToolCalls = append(pm.ToolCalls, providers.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Input})
		}
	}
	pm.Content = strings.Join(texts, "\n\n")
	return pm
}

func (f *Formatter) describe(ctx context.Context, c store.MessageContent) string {
	if f == nil || f.Vision == nil {
		return imagePlaceholder
	}
	shared := providers.Message{Role: providers.RoleUser}
	if c.Type == store.ContentImage {
		shared.Images = []providers.ImageContent{inlineImage(c)}
	} else {
		shared.ImageURLs = []string{c.ImageURL}
	}
	desc, err := f.Vision.Describe(ctx, []providers.Message{shared})
	if err != nil || desc == "" {
		slog.Warn("vision description failed", "error", err)
		return imagePlaceholder
	}
	return desc
}

// inlineImage accepts raw base64 or a data: URI.
func inlineImage(c store.MessageContent) providers.ImageContent {
	img := providers.ImageContent{MimeType: c.MimeType, Data: c.Image}
	if rest, ok := strings.CutPrefix(c.Image, "data:"); ok {
		if meta, data, found := strings.Cut(rest, ","); found {
			img.Data = data
			if mime, _, _ := strings.Cut(meta, ";"); mime != "" {
				img.MimeType = mime
			}
		}
	}
	if img.MimeType == "" {
		img.MimeType = "image/jpeg"
	}
	return img
}

type viewLabels struct{ user, other string }

var (
	condenseLabels = viewLabels{user: "A: ", other: "B: "}
	summaryLabels  = viewLabels{user: "User: ", other: "You (Assistant): "}
)

// CondenseView renders conv as one "A:"/"B:" line per message for the condense
// prompt. Images from the user are described by the vision model.
func (f *Formatter) CondenseView(ctx context.Context, conv []providers.Message) []string {
	return renderView(conv, condenseLabels, func(m providers.Message) string {
		if f == nil || f.Vision == nil {
			return imagePlaceholder
		}
		desc, err := f.Vision.Describe(ctx, []providers.Message{m})
		if err != nil {
			slog.Warn("vision description failed", "error", err)
			return imagePlaceholder
		}
		return desc
	})
}

// SummaryView renders conv as "User:"/"You (Assistant):" lines. Images become
// "[image]" without calling a model.
func SummaryView(conv []providers.Message) []string {
	return renderView(conv, summaryLabels, func(providers.Message) string { return imagePlaceholder })
}

func renderView(conv []providers.Message, labels viewLabels, image func(providers.Message) string) []string {
	var lines []string
	for _, m := range conv {
		if m.Role == providers.RoleSystem {
			continue
		}
		var b strings.Builder
		if m.Content != "" {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		prefix := labels.other
		if m.Role == providers.RoleUser {
			prefix = labels.user
			if len(m.Images) > 0 || len(m.ImageURLs) > 0 {
				b.WriteString(image(m))
				b.WriteString("\n")
			}
		}
		if b.Len() == 0 {
			continue
		}
		lines = append(lines, prefix+strings.ReplaceAll(b.String(), "\n", " "))
	}
	return lines
}
