package protocol

// Operation names used in logs, metrics labels and error payloads.
const (
	OpHealth        = "health"
	OpCreateThread  = "threads.create"
	OpCloseThread   = "threads.close"
	OpAddMessage    = "threads.messages.add"
	OpRemoveMessage = "threads.messages.remove"
	OpRunThread     = "threads.run"
)

// Request bodies.

type CreateThreadRequest struct {
	ContactName       string `json:"contact_name,omitempty"`
	ContactIdentifier string `json:"contact_identifier,omitempty"`
}

type CloseThreadRequest struct {
	AgentVersion string `json:"agent_version,omitempty"`
}

type AddMessageRequest struct {
	MessageType string        `json:"message_type"`
	Content     []ContentItem `json:"content"`
}

type RunRequest struct {
	AgentVersion string `json:"agent_version"`
}

// Response bodies.

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

type ThreadResponse struct {
	ThreadID          int64  `json:"thread_id"`
	ContactName       string `json:"contact_name,omitempty"`
	ContactIdentifier string `json:"contact_identifier,omitempty"`
	IsOpen            bool   `json:"is_open"`
}

type CloseThreadResponse struct {
	ThreadID int64   `json:"thread_id"`
	IsOpen   bool    `json:"is_open"`
	Summary  *string `json:"summary"`
}

type MessageResponse struct {
	ID          int64         `json:"id"`
	MessageType string        `json:"message_type"`
	Content     []ContentItem `json:"content"`
}

type RemoveMessageResponse struct {
	MessageID int64 `json:"message_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
