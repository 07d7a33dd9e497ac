package protocol

import (
	"encoding/json"
	"fmt"
)

// Run statuses carried in RunEvent.Status.
const (
	StatusCreated   = "created"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusExpired   = "expired"
)

// Message types carried in EventMessage.MessageType.
const (
	MessageHuman      = "human"
	MessageAI         = "ai"
	MessageHumanAgent = "human_agent"
	MessageToolAnswer = "tool_answer"
	MessageComment    = "comment"
)

// RunEvent is one unit of a run stream.
type RunEvent struct {
	AgentVersion string        `json:"agent_version"`
	Status       string        `json:"status"`
	Message      *EventMessage `json:"message,omitempty"`
	ShouldSend   *bool         `json:"should_send,omitempty"`
}

// EventMessage is the message part of a RunEvent.
type EventMessage struct {
	MessageType string        `json:"message_type"`
	Content     []ContentItem `json:"content"`
}

// ContentItem is one content entry of an EventMessage. Which fields are set
// depends on Type (text, image, image_url, tool_use, error).
type ContentItem struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Image    string         `json:"image,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
	ImageURL string         `json:"image_url,omitempty"`
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Bool returns a pointer to b, for RunEvent.ShouldSend.
func Bool(b bool) *bool { return &b }

// Frame encodes ev as one server-sent event: "data: <json>\n\n".
func Frame(ev RunEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode run event: %w", err)
	}
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	out = append(out, '\n', '\n')
	return out, nil
}
