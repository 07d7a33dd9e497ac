package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a thread, message, run or agent configuration does not exist
	// for the calling organization.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a run status update would move backward.
	ErrInvalidTransition = errors.New("invalid run status transition")
)

// ThreadStore manages conversation threads.
type ThreadStore interface {
	GetThread(ctx context.Context, orgID string, threadID int64) (*Thread, error)
	CreateThread(ctx context.Context, t *Thread) error
	CloseThread(ctx context.Context, orgID string, threadID int64) (*Thread, error)
}

// MessageStore manages thread messages. Removed messages stay in the table but are
// no longer returned as valid.
type MessageStore interface {
	AddMessage(ctx context.Context, m *Message) error
	RemoveMessage(ctx context.Context, orgID string, threadID, messageID int64) error
	GetValidThreadMessages(ctx context.Context, orgID string, threadID int64) ([]Message, error)
	// GetRecentHistory returns valid messages of every thread of the contact created after since.
	GetRecentHistory(ctx context.Context, orgID, contactIdentifier string, since time.Time) ([]Message, error)
}

// SummaryStore manages per-contact thread summaries.
type SummaryStore interface {
	GetThreadSummaries(ctx context.Context, orgID, contactIdentifier string) ([]ThreadSummary, error)
	AddThreadSummary(ctx context.Context, s *ThreadSummary) error
}

// RunStore manages run lifecycle rows.
type RunStore interface {
	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, orgID string, runID int64) (*Run, error)
	// UpdateRunStatus writes status only along the run graph; other writes return ErrInvalidTransition.
	UpdateRunStatus(ctx context.Context, orgID string, runID int64, status RunStatus) error
	// ExpireRuns moves every active run of the thread to expired and reports how many moved.
	ExpireRuns(ctx context.Context, orgID string, threadID int64) (int64, error)
	// GetAgentVersionFromRun returns the agent version slug of the most recent run on the thread.
	GetAgentVersionFromRun(ctx context.Context, orgID string, threadID int64) (string, error)
}

// AgentStore reads agent configuration.
type AgentStore interface {
	GetAgentSettings(ctx context.Context, orgID, agentVersion string) (*AgentSettings, error)
	GetBehaviourParts(ctx context.Context, versionID int64) ([]string, error)
}

// KnowledgeStore searches the knowledge chunks of an agent version by embedding similarity.
type KnowledgeStore interface {
	SearchKnowledge(ctx context.Context, q KnowledgeQuery) ([]KnowledgeChunk, error)
}

// Store is everything a run needs from persistence.
type Store interface {
	ThreadStore
	MessageStore
	SummaryStore
	RunStore
	AgentStore
}
