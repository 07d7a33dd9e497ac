// Package threads owns thread lifecycle and drives agent runs against them.
package threads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/threadrun/internal/agent"
	"github.com/nextlevelbuilder/threadrun/internal/observability"
	"github.com/nextlevelbuilder/threadrun/internal/providers"
	"github.com/nextlevelbuilder/threadrun/internal/retriever"
	"github.com/nextlevelbuilder/threadrun/internal/store"
)

// ErrInvalidMessage is returned when an added message has an unknown type or no content.
var ErrInvalidMessage = errors.New("invalid message")

// Retriever returns knowledge base context for a conversation.
type Retriever interface {
	Retrieve(ctx context.Context, req retriever.Request) (string, error)
}

// Config holds run timing.
type Config struct {
	SettleDelay   time.Duration
	HistoryWindow time.Duration
}

// Deps are the process-wide collaborators shared by every Manager.
type Deps struct {
	Factory  providers.Factory
	Executor *agent.Executor
	Pacer    agent.Pacer
	Config   Config
	Metrics  *observability.Metrics
}

// Manager serves one request against one store binding. It is cheap to build
// and not meant to outlive the request.
type Manager struct {
	store     store.Store
	retriever Retriever
	factory   providers.Factory
	executor  *agent.Executor
	pacer     agent.Pacer
	cfg       Config
	metrics   *observability.Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewManager(st store.Store, r Retriever, d Deps) *Manager {
	if d.Config.HistoryWindow <= 0 {
		d.Config.HistoryWindow = 24 * time.Hour
	}
	if d.Pacer == (agent.Pacer{}) {
		d.Pacer = agent.DefaultPacer()
	}
	return &Manager{
		store:     st,
		retriever: r,
		factory:   d.Factory,
		executor:  d.Executor,
		pacer:     d.Pacer,
		cfg:       d.Config,
		metrics:   d.Metrics,
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

func (m *Manager) CreateThread(ctx context.Context, orgID, contactName, contactIdentifier string) (*store.Thread, error) {
	t := &store.Thread{
		OrganizationID:    orgID,
		ContactName:       contactName,
		ContactIdentifier: contactIdentifier,
	}
	if err := m.store.CreateThread(ctx, t); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	slog.Info("thread created", "thread_id", t.ID, "org", orgID)
	return t, nil
}

// CloseThread closes the thread and writes its summary. A failed summary is
// logged and reported as a nil summary; the thread stays closed.
func (m *Manager) CloseThread(ctx context.Context, orgID string, threadID int64, agentVersion string) (*store.Thread, *string, error) {
	t, err := m.store.CloseThread(ctx, orgID, threadID)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("thread closed", "thread_id", threadID, "org", orgID)

	summary, err := m.generateSummary(ctx, t, agentVersion)
	if err != nil {
		slog.Error("thread summary failed", "thread_id", threadID, "error", err)
		return t, nil, nil
	}
	if summary == "" {
		slog.Warn("thread has no summary", "thread_id", threadID)
		return t, nil, nil
	}
	if err := m.store.AddThreadSummary(ctx, &store.ThreadSummary{
		ThreadID:          t.ID,
		OrganizationID:    orgID,
		ContactIdentifier: t.ContactIdentifier,
		Content:           summary,
	}); err != nil {
		slog.Error("thread summary not saved", "thread_id", threadID, "error", err)
		return t, nil, nil
	}
	slog.Info("thread summary saved", "thread_id", threadID)
	return t, &summary, nil
}

func (m *Manager) generateSummary(ctx context.Context, t *store.Thread, agentVersion string) (string, error) {
	msgs, err := m.store.GetValidThreadMessages(ctx, t.OrganizationID, t.ID)
	if err != nil {
		return "", fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) == 0 {
		return "", nil
	}
	if agentVersion == "" {
		if agentVersion, err = m.store.GetAgentVersionFromRun(ctx, t.OrganizationID, t.ID); err != nil {
			return "", fmt.Errorf("resolve agent version: %w", err)
		}
	}
	settings, err := m.store.GetAgentSettings(ctx, t.OrganizationID, agentVersion)
	if err != nil {
		return "", err
	}
	if settings.CoreLLM == nil {
		return "", fmt.Errorf("core llm for %q: %w", agentVersion, store.ErrNotFound)
	}

	// The trailing "." keeps the last assistant message from being trimmed.
	msgs = append(msgs, store.Message{
		ThreadID:  t.ID,
		Type:      store.MessageTypeHuman,
		Content:   []store.MessageContent{store.TextContent(".")},
		CreatedAt: msgs[len(msgs)-1].CreatedAt.Add(time.Millisecond),
	})
	conv, err := m.formatter(settings).Conversation(ctx, msgs)
	if err != nil {
		return "", err
	}
	kept := conv[:0]
	for _, pm := range conv {
		if pm.Role == providers.RoleUser || pm.Role == providers.RoleAssistant {
			kept = append(kept, pm)
		}
	}
	if len(kept) > 0 {
		kept = kept[:len(kept)-1]
	}

	llm, err := m.factory.Chat(ctx, condenseSettings(settings))
	if err != nil {
		return "", fmt.Errorf("build summary model: %w", err)
	}
	summary, err := agent.Summarize(ctx, llm, kept)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

// AddMessage stores a message on the thread and expires its active runs.
// Content items of a type a client may not send are dropped, and a comment
// noting each dropped type is stored instead. When nothing is left the
// comment is returned.
func (m *Manager) AddMessage(ctx context.Context, orgID string, threadID int64, msgType store.MessageType, content []store.MessageContent) (*store.Message, error) {
	if !msgType.Valid() {
		return nil, fmt.Errorf("message type %q: %w", msgType, ErrInvalidMessage)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("empty content: %w", ErrInvalidMessage)
	}
	if _, err := m.store.GetThread(ctx, orgID, threadID); err != nil {
		return nil, err
	}

	var kept []store.MessageContent
	var comment *store.Message
	seen := map[store.ContentType]bool{}
	for _, c := range content {
		if acceptedContent(c.Type) {
			kept = append(kept, c)
			continue
		}
		if seen[c.Type] {
			continue
		}
		seen[c.Type] = true
		slog.Warn("unsupported content type", "thread_id", threadID, "type", c.Type)
		comment = &store.Message{
			ThreadID: threadID,
			Type:     store.MessageTypeComment,
			Content: []store.MessageContent{store.TextContent(
				fmt.Sprintf("Message type '%s' is not supported. The message will be ignored.", c.Type),
			)},
			CreatedAt: m.now(),
		}
		if err := m.store.AddMessage(ctx, comment); err != nil {
			return nil, fmt.Errorf("add comment: %w", err)
		}
	}
	if len(kept) == 0 {
		return comment, nil
	}

	msg := &store.Message{ThreadID: threadID, Type: msgType, Content: kept, CreatedAt: m.now()}
	if err := m.store.AddMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	n, err := m.store.ExpireRuns(ctx, orgID, threadID)
	if err != nil {
		return nil, fmt.Errorf("expire runs: %w", err)
	}
	slog.Info("message added", "thread_id", threadID, "message_id", msg.ID, "type", msgType, "expired_runs", n)
	return msg, nil
}

func acceptedContent(t store.ContentType) bool {
	return t == store.ContentText || t == store.ContentImage || t == store.ContentImageURL
}

func (m *Manager) RemoveMessage(ctx context.Context, orgID string, threadID, messageID int64) error {
	if _, err := m.store.GetThread(ctx, orgID, threadID); err != nil {
		return err
	}
	if err := m.store.RemoveMessage(ctx, orgID, threadID, messageID); err != nil {
		return err
	}
	slog.Info("message removed", "thread_id", threadID, "message_id", messageID)
	return nil
}

// formatter builds a Formatter whose vision model is the configured vision
// adapter, or the core adapter when none is set.
func (m *Manager) formatter(s *store.AgentSettings) *agent.Formatter {
	vs := s.VisionLLM
	if vs == nil {
		vs = s.CoreLLM
	}
	return &agent.Formatter{Vision: &lazyVision{factory: m.factory, settings: vs}}
}

// lazyVision builds the vision model the first time an image needs describing.
type lazyVision struct {
	factory  providers.Factory
	settings *store.LLMSettings

	once sync.Once
	d    *agent.VisionDescriber
	err  error
}

func (v *lazyVision) Describe(ctx context.Context, msgs []providers.Message) (string, error) {
	v.once.Do(func() {
		llm, err := v.factory.Chat(ctx, v.settings)
		if err != nil {
			v.err = fmt.Errorf("build vision model: %w", err)
			return
		}
		v.d = &agent.VisionDescriber{LLM: llm}
	})
	if v.err != nil {
		return "", v.err
	}
	return v.d.Describe(ctx, msgs)
}

func condenseSettings(s *store.AgentSettings) *store.LLMSettings {
	if s.CondenseLLM != nil {
		return s.CondenseLLM
	}
	return s.CoreLLM
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
