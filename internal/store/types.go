package store

import (
	"strings"
	"time"
)

// MessageType tags who authored a message.
type MessageType string

const (
	MessageTypeHuman      MessageType = "human"
	MessageTypeAI         MessageType = "ai"
	MessageTypeHumanAgent MessageType = "human_agent"
	MessageTypeToolAnswer MessageType = "tool_answer"
	MessageTypeComment    MessageType = "comment"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeHuman, MessageTypeAI, MessageTypeHumanAgent, MessageTypeToolAnswer, MessageTypeComment:
		return true
	}
	return false
}

// ContentType tags a MessageContent variant.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentImageURL ContentType = "image_url"
	ContentToolUse  ContentType = "tool_use"
	ContentError    ContentType = "error"
)

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentText, ContentImage, ContentImageURL, ContentToolUse, ContentError:
		return true
	}
	return false
}

// MessageContent is one item of a message body. Which fields are set depends on Type:
//
//	text      Text
//	image     Image (base64 data, optionally a data: URI), MimeType
//	image_url ImageURL
//	tool_use  ID, Name, Input
//	error     Error
type MessageContent struct {
	Type     ContentType    `json:"type"`
	Text     string         `json:"text,omitempty"`
	Image    string         `json:"image,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
	ImageURL string         `json:"image_url,omitempty"`
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func TextContent(text string) MessageContent {
	return MessageContent{Type: ContentText, Text: text}
}

func ErrorContent(msg string) MessageContent {
	return MessageContent{Type: ContentError, Error: msg}
}

func ToolUseContent(id, name string, input map[string]any) MessageContent {
	return MessageContent{Type: ContentToolUse, ID: id, Name: name, Input: input}
}

// Message is a persisted conversation entry. ID is zero until stored.
type Message struct {
	ID           int64            `json:"id,omitempty"`
	ThreadID     int64            `json:"thread_id,omitempty"`
	Type         MessageType      `json:"message_type"`
	Content      []MessageContent `json:"content"`
	CreatedAt    time.Time        `json:"created_at"`
	ToolCallID   string           `json:"tool_call_id,omitempty"`
	ToolCallName string           `json:"tool_call_name,omitempty"`
	RunStatus    RunStatus        `json:"run_status,omitempty"`
}

// Texts returns the text items of the message in order.
func (m Message) Texts() []string {
	var out []string
	for _, c := range m.Content {
		if c.Type == ContentText {
			out = append(out, c.Text)
		}
	}
	return out
}

// Text joins all text items with a blank line.
func (m Message) Text() string {
	return strings.Join(m.Texts(), "\n\n")
}

// ToolUses returns the tool_use items of the message in order.
func (m Message) ToolUses() []MessageContent {
	var out []MessageContent
	for _, c := range m.Content {
		if c.Type == ContentToolUse {
			out = append(out, c)
		}
	}
	return out
}

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusExpired   RunStatus = "expired"
)

// IsActive reports whether the run can still make progress.
func (s RunStatus) IsActive() bool {
	return s == RunStatusCreated || s == RunStatusRunning
}

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusError || s == RunStatusExpired
}

// CanTransition reports whether moving from s to next follows the run graph:
// created -> running -> {completed, error, expired}, and created -> {completed, error, expired}.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunStatusCreated:
		return next == RunStatusRunning || next.IsTerminal()
	case RunStatusRunning:
		return next.IsTerminal()
	}
	return false
}

// SourcesFor returns the statuses from which next may be written, including
// next itself so that re-asserting the current status is a no-op.
func SourcesFor(next RunStatus) []string {
	out := []string{string(next)}
	for _, s := range []RunStatus{RunStatusCreated, RunStatusRunning} {
		if s != next && s.CanTransition(next) {
			out = append(out, string(s))
		}
	}
	return out
}

// Thread is an organization-scoped conversation with one contact.
type Thread struct {
	ID                int64     `json:"id"`
	OrganizationID    string    `json:"organization_id"`
	ContactName       string    `json:"contact_name,omitempty"`
	ContactIdentifier string    `json:"contact_identifier,omitempty"`
	IsOpen            bool      `json:"is_open"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Run is one agent execution against a thread.
type Run struct {
	ID             int64     `json:"id"`
	ThreadID       int64     `json:"thread_id"`
	OrganizationID string    `json:"organization_id"`
	AgentVersionID int64     `json:"agent_version_id"`
	Status         RunStatus `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ThreadSummary is the long-term memory written when a thread closes.
type ThreadSummary struct {
	ID                int64     `json:"id"`
	ThreadID          int64     `json:"thread_id"`
	OrganizationID    string    `json:"organization_id"`
	ContactIdentifier string    `json:"contact_identifier,omitempty"`
	Content           string    `json:"content"`
	CreatedAt         time.Time `json:"created_at"`
}

// LLMSettings selects and authenticates one model. JSON tags match the
// llm_adapters columns.
type LLMSettings struct {
	Provider           string `json:"provider"`
	Name               string `json:"model_name"`
	APIKey             string `json:"api_key,omitempty"`
	APIBase            string `json:"api_base,omitempty"`
	AWSRegion          string `json:"aws_region,omitempty"`
	AWSAccessKeyID     string `json:"aws_access_key_id,omitempty"`
	AWSSecretAccessKey string `json:"aws_secret_access_key,omitempty"`
}

// MCPParams points at a remote tool server.
type MCPParams struct {
	URL     string            `json:"sse_url"`
	Headers map[string]string `json:"sse_headers,omitempty"`
}

// AgentSettings is the per-version agent configuration.
type AgentSettings struct {
	ID                    int64        `json:"id"`
	VersionID             int64        `json:"version_id"`
	CoreLLM               *LLMSettings `json:"core_llm,omitempty"`
	CondenseLLM           *LLMSettings `json:"condense_llm,omitempty"`
	VisionLLM             *LLMSettings `json:"vision_llm,omitempty"`
	Embeddings            *LLMSettings `json:"embeddings,omitempty"`
	Delay                 bool         `json:"delay"`
	HideToolMessages      bool         `json:"hide_tool_messages"`
	IncludeLast24hHistory bool         `json:"include_last_24h_history"`
	MCP                   *MCPParams   `json:"mcp_params,omitempty"`
}

// KnowledgeQuery selects the chunks closest to Embedding. Chunks scoring below
// Threshold (cosine similarity) are not returned.
type KnowledgeQuery struct {
	OrganizationID string
	VersionID      int64
	Embedding      []float32
	TopK           int
	Threshold      float64
}

// KnowledgeChunk is one retrievable piece of an agent's knowledge base.
type KnowledgeChunk struct {
	ID      int64   `json:"id"`
	Source  string  `json:"source,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}
