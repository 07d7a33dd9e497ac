package threads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/threadrun/internal/agent"
	"github.com/nextlevelbuilder/threadrun/internal/providers"
	"github.com/nextlevelbuilder/threadrun/internal/retriever"
	"github.com/nextlevelbuilder/threadrun/internal/store"
	"github.com/nextlevelbuilder/threadrun/pkg/protocol"
)

const (
	skipText        = "Last message in thread is not human. Skipping processing."
	failureText     = "Something went wrong. Please, take over the conversation."
	finalizeTimeout = 30 * time.Second
)

// EmitFunc delivers one event of a run stream to the caller.
type EmitFunc func(protocol.RunEvent) error

// emitError marks a failure to deliver an event; the caller is gone.
type emitError struct{ err error }

func (e *emitError) Error() string { return "emit run event: " + e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// run is the state of one RunThread call.
type run struct {
	m        *Manager
	id       int64
	orgID    string
	version  string
	thread   *store.Thread
	settings *store.AgentSettings
	emitFn   EmitFunc

	conv    []providers.Message
	replies []store.Message
}

// RunThread executes the agent against the thread and streams every status
// change and produced message through emit.
//
// Errors found before the run exists (missing thread, agent settings, core
// model or embeddings) are returned before anything is emitted. After that,
// failures finalize the run and are reported in the stream as a comment. When
// the caller went away (ctx cancelled or emit failed) the run is only moved to
// error and that cause is returned.
func (m *Manager) RunThread(ctx context.Context, orgID string, threadID int64, agentVersion string, emit EmitFunc) error {
	thread, err := m.store.GetThread(ctx, orgID, threadID)
	if err != nil {
		return err
	}
	settings, err := m.store.GetAgentSettings(ctx, orgID, agentVersion)
	if err != nil {
		return err
	}
	if settings.CoreLLM == nil {
		return fmt.Errorf("core llm for %q: %w", agentVersion, store.ErrNotFound)
	}
	if settings.Embeddings == nil {
		return fmt.Errorf("embeddings for %q: %w", agentVersion, store.ErrNotFound)
	}

	if _, err := m.store.ExpireRuns(ctx, orgID, threadID); err != nil {
		return fmt.Errorf("expire runs: %w", err)
	}
	rec := &store.Run{
		ThreadID:       threadID,
		OrganizationID: orgID,
		AgentVersionID: settings.VersionID,
		Status:         store.RunStatusCreated,
	}
	if err := m.store.CreateRun(ctx, rec); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	m.metrics.RunStarted()
	slog.Info("run created", "run_id", rec.ID, "thread_id", threadID, "org", orgID, "agent_version", agentVersion)

	r := &run{m: m, id: rec.ID, orgID: orgID, version: agentVersion, thread: thread, settings: settings, emitFn: emit}
	if err := r.emit(store.RunStatusCreated, nil, nil); err != nil {
		return r.fail(ctx, err)
	}
	if err := r.execute(ctx); err != nil {
		return r.fail(ctx, err)
	}
	return nil
}

func (r *run) execute(ctx context.Context) error {
	m := r.m
	msgs, err := r.loadMessages(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Type != store.MessageTypeHuman {
		return r.skip(ctx)
	}

	// Give the contact time to finish a multi-part message.
	if len(msgs) > 1 {
		if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
			return err
		}
	}
	status, err := r.status(ctx)
	if err != nil {
		return err
	}
	if status != store.RunStatusCreated {
		slog.Info("run superseded before start", "run_id", r.id, "thread_id", r.thread.ID, "status", status)
		if err := r.emit(status, nil, nil); err != nil {
			return err
		}
		m.metrics.RunFinished(string(status))
		return nil
	}

	sess := agent.NewSession(r.thread.ID, r.thread.ContactIdentifier, r.version, r.orgID)
	f := m.formatter(r.settings)
	if r.conv, err = f.Conversation(ctx, msgs); err != nil {
		return fmt.Errorf("format conversation: %w", err)
	}
	knowledge, err := m.retriever.Retrieve(ctx, retriever.Request{
		Settings:     r.settings,
		Conversation: r.conv,
		Formatter:    f,
		Session:      sess,
	})
	if err != nil {
		return err
	}
	parts, err := m.store.GetBehaviourParts(ctx, r.settings.VersionID)
	if err != nil {
		return fmt.Errorf("load behaviour: %w", err)
	}
	summaries, err := r.summaries(ctx)
	if err != nil {
		return err
	}
	llm, err := m.factory.Chat(ctx, r.settings.CoreLLM)
	if err != nil {
		return fmt.Errorf("build core model: %w", err)
	}

	slog.Info("run executing", "run_id", r.id, "thread_id", r.thread.ID, "messages", len(r.conv))
	err = m.executor.Execute(ctx, agent.ExecuteRequest{
		LLM:          llm,
		Conversation: r.conv,
		Session:      sess,
		Behaviour:    strings.Join(parts, "\n\n"),
		Context:      knowledge,
		Summaries:    summaries,
		MCP:          r.settings.MCP,
	}, func(reply store.Message) error {
		return r.handleReply(ctx, reply)
	})
	if err != nil {
		return err
	}

	status, err = r.status(ctx)
	if err != nil {
		return err
	}
	if status.IsActive() {
		if status, err = r.advance(ctx, store.RunStatusCompleted); err != nil {
			return err
		}
		if status == store.RunStatusCompleted {
			if err := r.emit(status, nil, nil); err != nil {
				return err
			}
		}
	}
	m.metrics.RunFinished(string(status))
	slog.Info("run finished", "run_id", r.id, "thread_id", r.thread.ID, "status", status)
	return nil
}

func (r *run) loadMessages(ctx context.Context) ([]store.Message, error) {
	if r.settings.IncludeLast24hHistory && r.thread.ContactIdentifier != "" {
		since := r.m.now().Add(-r.m.cfg.HistoryWindow)
		msgs, err := r.m.store.GetRecentHistory(ctx, r.orgID, r.thread.ContactIdentifier, since)
		if err != nil {
			return nil, fmt.Errorf("load recent history: %w", err)
		}
		return msgs, nil
	}
	msgs, err := r.m.store.GetValidThreadMessages(ctx, r.orgID, r.thread.ID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return msgs, nil
}

// skip finalizes a run whose thread does not end on a human message.
func (r *run) skip(ctx context.Context) error {
	status, err := r.status(ctx)
	if err != nil {
		return err
	}
	if status.IsActive() {
		if status, err = r.advance(ctx, store.RunStatusCompleted); err != nil {
			return err
		}
	}
	slog.Info("run skipped", "run_id", r.id, "thread_id", r.thread.ID, "status", status)

	comment := store.Message{
		ThreadID:  r.thread.ID,
		Type:      store.MessageTypeComment,
		Content:   []store.MessageContent{store.ErrorContent(skipText)},
		CreatedAt: r.m.now(),
		RunStatus: status,
	}
	if err := r.emit(status, &comment, nil); err != nil {
		return err
	}
	if err := r.persist(ctx, &comment); err != nil {
		return err
	}
	r.m.metrics.RunFinished(string(status))
	return nil
}

func (r *run) summaries(ctx context.Context) (string, error) {
	if r.thread.ContactIdentifier == "" {
		return "", nil
	}
	list, err := r.m.store.GetThreadSummaries(ctx, r.orgID, r.thread.ContactIdentifier)
	if err != nil {
		return "", fmt.Errorf("load summaries: %w", err)
	}
	return formatSummaries(list), nil
}

// handleReply paces, gates, emits and stores every part of one executor reply.
func (r *run) handleReply(ctx context.Context, reply store.Message) error {
	reply.ThreadID = r.thread.ID
	r.replies = append(r.replies, reply)

	status, err := r.status(ctx)
	if err != nil {
		return err
	}
	shouldSend := agent.ShouldSend(r.replies, r.conv, status, r.settings.HideToolMessages)

	for i, part := range splitMessage(reply) {
		switch {
		case part.Type == store.ContentText && part.Text != "":
			if err := r.textPart(ctx, reply, part, i, &shouldSend); err != nil {
				return err
			}
		case part.Type == store.ContentToolUse:
			status, err := r.status(ctx)
			if err != nil {
				return err
			}
			msg := store.Message{
				ThreadID:  r.thread.ID,
				Type:      store.MessageTypeAI,
				Content:   []store.MessageContent{part},
				CreatedAt: r.m.now(),
				RunStatus: status,
			}
			if err := r.emit(status, &msg, protocol.Bool(false)); err != nil {
				return err
			}
			if err := r.persist(ctx, &msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) textPart(ctx context.Context, reply store.Message, part store.MessageContent, index int, shouldSend *bool) error {
	status, err := r.status(ctx)
	if err != nil {
		return err
	}
	if status == store.RunStatusCreated {
		if status, err = r.advance(ctx, store.RunStatusRunning); err != nil {
			return err
		}
		if status == store.RunStatusRunning {
			slog.Info("run running", "run_id", r.id, "thread_id", r.thread.ID)
			if err := r.emit(status, nil, nil); err != nil {
				return err
			}
		}
	}

	if agent.IsControlPhrase(part.Text) {
		slog.Warn("irregular handover from the agent", "run_id", r.id, "text", part.Text)
		return &agent.HandoffError{Reason: agent.IrregularHandoverReason}
	}

	paced := r.settings.Delay && reply.Type != store.MessageTypeToolAnswer && *shouldSend
	if err := r.m.sleep(ctx, r.m.pacer.Delay(part.Text, index, paced)); err != nil {
		return err
	}

	// Re-read: a newer run may have expired this one while we waited.
	if status, err = r.status(ctx); err != nil {
		return err
	}
	if status != store.RunStatusRunning {
		*shouldSend = false
	}
	msg := store.Message{
		ThreadID:  r.thread.ID,
		Type:      reply.Type,
		Content:   []store.MessageContent{part},
		CreatedAt: r.m.now(),
		RunStatus: status,
	}
	if reply.Type == store.MessageTypeToolAnswer {
		msg.ToolCallID = reply.ToolCallID
		msg.ToolCallName = reply.ToolCallName
	}
	if err := r.emit(status, &msg, protocol.Bool(*shouldSend)); err != nil {
		return err
	}
	return r.persist(ctx, &msg)
}

// fail finalizes the run after cause. A comment is only written while the run
// is still active and the caller is listening: a run that was superseded or
// abandoned must not leave anything after the newer human message.
func (r *run) fail(ctx context.Context, cause error) error {
	var gone *emitError
	abandoned := errors.As(cause, &gone) || errors.Is(cause, context.Canceled) || ctx.Err() != nil

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	current, err := r.status(ctx)
	if err == nil && current.IsTerminal() {
		slog.Info("run stopped", "run_id", r.id, "thread_id", r.thread.ID, "status", current, "cause", cause)
		r.m.metrics.RunFinished(string(current))
		if abandoned {
			return cause
		}
		if err := r.emit(current, nil, nil); err != nil {
			return err
		}
		return nil
	}

	status, err := r.advance(ctx, store.RunStatusError)
	if err != nil {
		slog.Error("run status not updated", "run_id", r.id, "error", err)
		status = store.RunStatusError
	}
	r.m.metrics.RunFinished(string(status))

	if abandoned {
		slog.Warn("run abandoned", "run_id", r.id, "thread_id", r.thread.ID, "org", r.orgID, "status", status, "cause", cause)
		return cause
	}

	text := failureText
	if h, ok := agent.AsHandoff(cause); ok {
		text = h.Reason
		slog.Warn("run handed off", "run_id", r.id, "thread_id", r.thread.ID, "org", r.orgID, "reason", h.Reason)
	} else {
		slog.Error("run failed", "run_id", r.id, "thread_id", r.thread.ID, "org", r.orgID, "error", cause)
	}

	comment := store.Message{
		ThreadID:  r.thread.ID,
		Type:      store.MessageTypeComment,
		Content:   []store.MessageContent{store.TextContent(text), store.ErrorContent(cause.Error())},
		CreatedAt: r.m.now(),
		RunStatus: status,
	}
	emitErr := r.emit(status, &comment, nil)
	if emitErr != nil {
		slog.Warn("run comment not delivered", "run_id", r.id, "error", emitErr)
	}
	if err := r.persist(ctx, &comment); err != nil {
		slog.Error("run comment not saved", "run_id", r.id, "error", err)
	}
	return emitErr
}

func (r *run) status(ctx context.Context) (store.RunStatus, error) {
	rec, err := r.m.store.GetRun(ctx, r.orgID, r.id)
	if err != nil {
		return "", fmt.Errorf("read run status: %w", err)
	}
	return rec.Status, nil
}

// advance moves the run to next. When a concurrent writer got there first the
// status it left is returned instead.
func (r *run) advance(ctx context.Context, next store.RunStatus) (store.RunStatus, error) {
	err := r.m.store.UpdateRunStatus(ctx, r.orgID, r.id, next)
	if errors.Is(err, store.ErrInvalidTransition) {
		return r.status(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("update run status: %w", err)
	}
	return next, nil
}

func (r *run) emit(status store.RunStatus, msg *store.Message, shouldSend *bool) error {
	ev := protocol.RunEvent{AgentVersion: r.version, Status: string(status), ShouldSend: shouldSend}
	if msg != nil {
		ev.Message = &protocol.EventMessage{
			MessageType: string(msg.Type),
			Content:     ContentToProtocol(msg.Content),
		}
		r.m.metrics.MessageEmitted(string(msg.Type), shouldSend != nil && *shouldSend)
	}
	if err := r.emitFn(ev); err != nil {
		return &emitError{err: err}
	}
	return nil
}

func (r *run) persist(ctx context.Context, msg *store.Message) error {
	if err := r.m.store.AddMessage(ctx, msg); err != nil {
		return fmt.Errorf("store %s message: %w", msg.Type, err)
	}
	return nil
}
