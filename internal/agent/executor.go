package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/threadrun/internal/mcp"
	"github.com/nextlevelbuilder/threadrun/internal/observability"
	"github.com/nextlevelbuilder/threadrun/internal/providers"
	"github.com/nextlevelbuilder/threadrun/internal/store"
	"github.com/nextlevelbuilder/threadrun/internal/tools"
)

// ExecutorConfig bounds one execution.
type ExecutorConfig struct {
	MaxDepth      int
	RelayCapacity int
}

// Executor runs the model/tool loop of a run and streams what it produces.
type Executor struct {
	cfg         ExecutorConfig
	metrics     *observability.Metrics
	tracer      trace.Tracer
	openSession func(*store.MCPParams) (mcp.Session, error)
}

func NewExecutor(cfg ExecutorConfig, metrics *observability.Metrics) *Executor {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	return &Executor{
		cfg:         cfg,
		metrics:     metrics,
		tracer:      otel.Tracer("github.com/nextlevelbuilder/threadrun/internal/agent"),
		openSession: mcp.Open,
	}
}

// ExecuteRequest is the input of one execution.
type ExecuteRequest struct {
	LLM          providers.Provider
	Conversation []providers.Message
	Session      Session
	Behaviour    string
	Context      string
	Summaries    string
	MCP          *store.MCPParams
}

// Execute calls the model, runs the tools it asks for and recurses until the
// model stops calling tools. Every assistant reply and tool answer is passed
// to emit as soon as it exists, in order, on the caller's goroutine.
//
// A *HandoffError is returned when a tool asks for a human or the recursion
// bound is hit. An error from emit stops the execution and is returned as is.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest, emit func(store.Message) error) error {
	conv := make([]providers.Message, 0, len(req.Conversation)+1)
	conv = append(conv, providers.Message{
		Role:    providers.RoleSystem,
		Content: SystemPrompt(req.Context, req.Behaviour, req.Summaries),
	})
	conv = append(conv, req.Conversation...)
	return e.execute(ctx, req, conv, 0, emit)
}

func (e *Executor) execute(ctx context.Context, req ExecuteRequest, conv []providers.Message, depth int, forward func(store.Message) error) error {
	if depth >= e.cfg.MaxDepth {
		slog.Warn("recursion bound reached", "depth", depth, "thread_id", req.Session.ThreadID)
		return &HandoffError{Reason: OutOfTimeReason}
	}
	return runRelay(ctx, e.cfg.RelayCapacity, func(ctx context.Context, send func(store.Message) error) error {
		return e.step(ctx, req, conv, depth, send)
	}, forward)
}

// step is one model turn plus its tool calls. The tool session is opened and
// closed here, on the worker goroutine that uses it.
func (e *Executor) step(ctx context.Context, req ExecuteRequest, conv []providers.Message, depth int, send func(store.Message) error) error {
	sess, err := e.openSession(req.MCP)
	if err != nil {
		return fmt.Errorf("open tool session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	if err := sess.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize tool session: %w", err)
	}
	remote, err := sess.LoadTools(ctx)
	if err != nil {
		return fmt.Errorf("load tools: %w", err)
	}
	reg := tools.NewRegistry()
	for _, t := range remote {
		reg.Register(t)
	}
	reg.Register(tools.NewHandoffTool())
	defs := reg.Definitions()

	resp, err := e.callModel(ctx, req, conv, defs, depth)
	if err != nil {
		return err
	}
	if resp.Empty() {
		slog.Warn("model returned an empty reply, retrying", "depth", depth, "thread_id", req.Session.ThreadID)
		if resp, err = e.callModel(ctx, req, conv, defs, depth); err != nil {
			return err
		}
	}

	// Copy before appending so sibling recursion levels never share a backing array.
	next := make([]providers.Message, len(conv), len(conv)+1+len(resp.ToolCalls))
	copy(next, conv)
	next = append(next, providers.Message{
		Role:      providers.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	if err := send(replyMessage(resp)); err != nil {
		return err
	}
	if len(resp.ToolCalls) == 0 {
		return nil
	}

	for _, call := range resp.ToolCalls {
		outcome := e.invokeTool(ctx, reg, call, req.Session)
		if outcome.Kind == OutcomeHandoff {
			return &HandoffError{Reason: outcome.Text}
		}
		next = append(next, providers.Message{
			Role:       providers.RoleTool,
			Content:    outcome.Text,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
		if err := send(store.Message{
			Type:         store.MessageTypeToolAnswer,
			Content:      []store.MessageContent{store.TextContent(outcome.Text)},
			CreatedAt:    time.Now(),
			ToolCallID:   call.ID,
			ToolCallName: call.Name,
		}); err != nil {
			return err
		}
	}

	return e.execute(ctx, req, next, depth+1, send)
}

func (e *Executor) callModel(ctx context.Context, req ExecuteRequest, conv []providers.Message, defs []providers.ToolDefinition, depth int) (*providers.ChatResponse, error) {
	attrs := append(req.Session.attributes(),
		attribute.String("llm.provider", req.LLM.Name()),
		attribute.String("llm.model", req.LLM.DefaultModel()),
		attribute.Int("agent.depth", depth),
		attribute.Int("llm.messages", len(conv)),
	)
	ctx, span := e.tracer.Start(ctx, "agent.model_call", trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	resp, err := req.LLM.Chat(ctx, providers.ChatRequest{Messages: conv, Tools: defs})
	e.metrics.ObserveModelCall(req.LLM.Name(), req.LLM.DefaultModel(), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("model call: %w", err)
	}
	if resp == nil {
		resp = &providers.ChatResponse{}
	}
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	span.SetAttributes(attribute.Int("llm.tool_calls", len(resp.ToolCalls)))
	return resp, nil
}

func (e *Executor) invokeTool(ctx context.Context, reg *tools.Registry, call providers.ToolCall, sess Session) RunOutcome {
	attrs := append(sess.attributes(), attribute.String("tool.name", call.Name), attribute.String("tool.call_id", call.ID))
	ctx, span := e.tracer.Start(ctx, "agent.tool_call", trace.WithAttributes(attrs...))
	defer span.End()

	res, err := reg.Execute(ctx, call.Name, call.Arguments)
	outcome := toolOutcome(call.Name, res, err)
	e.metrics.ToolCalled(call.Name, outcome.Kind.String())
	span.SetAttributes(attribute.String("tool.outcome", outcome.Kind.String()))
	if outcome.Kind == OutcomeToolError {
		span.SetStatus(codes.Error, outcome.Text)
		slog.Warn("tool call failed", "tool", call.Name, "thread_id", sess.ThreadID, "answer", outcome.Text)
	}
	return outcome
}

// toolOutcome maps a registry result onto RunOutcome. Failures become textual
// answers so the model can react to them; only a handoff ends the run.
func toolOutcome(name string, res *tools.Result, err error) RunOutcome {
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		return ToolError(fmt.Sprintf("Tool (%s): not found", name))
	case err != nil:
		return ToolError(fmt.Sprintf("Tool (%s): %v", name, err))
	case res.Handoff != "":
		return Handoff(res.Handoff)
	case res.IsError:
		msg := res.ForLLM
		if msg == "" && res.Err != nil {
			msg = res.Err.Error()
		}
		return ToolError(fmt.Sprintf("Tool (%s): %s", name, msg))
	}
	return Continue(res.ForLLM)
}

// replyMessage converts a model reply into the stored message form.
func replyMessage(resp *providers.ChatResponse) store.Message {
	m := store.Message{Type: store.MessageTypeAI, CreatedAt: time.Now()}
	if resp.Content != "" || len(resp.ToolCalls) == 0 {
		m.Content = append(m.Content, store.TextContent(resp.Content))
	}
	for _, tc := range resp.ToolCalls {
		m.Content = append(m.Content, store.ToolUseContent(tc.ID, tc.Name, tc.Arguments))
	}
	return m
}
