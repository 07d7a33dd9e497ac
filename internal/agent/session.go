package agent

import (
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Session identifies one run for tracing. It is never persisted.
type Session struct {
	TraceID           uuid.UUID
	ThreadID          int64
	ContactIdentifier string
	AgentVersion      string
	OrganizationID    string
}

func NewSession(threadID int64, contact, agentVersion, orgID string) Session {
	return Session{
		TraceID:           uuid.New(),
		ThreadID:          threadID,
		ContactIdentifier: contact,
		AgentVersion:      agentVersion,
		OrganizationID:    orgID,
	}
}

func (s Session) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("session.trace_id", s.TraceID.String()),
		attribute.String("session.thread_id", strconv.FormatInt(s.ThreadID, 10)),
		attribute.String("session.contact", s.ContactIdentifier),
		attribute.String("session.agent_version", s.AgentVersion),
		attribute.String("session.org", s.OrganizationID),
	}
}
