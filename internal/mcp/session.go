package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/threadrun/internal/store"
	"github.com/nextlevelbuilder/threadrun/internal/tools"
)

const defaultCallTimeout = 60 * time.Second

// Session is a per-run connection to a remote tool server.
type Session interface {
	Initialize(ctx context.Context) error
	LoadTools(ctx context.Context) ([]tools.Tool, error)
	Close() error
}

// client is the subset of *mcpclient.Client a session drives.
type client interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error)
	ListTools(ctx context.Context, req mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
	CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
	Close() error
}

// Open returns a RemoteSession when params name a server, NoopSession otherwise.
func Open(params *store.MCPParams) (Session, error) {
	if params == nil || params.URL == "" {
		return NoopSession{}, nil
	}
	var opts []transport.StreamableHTTPCOption
	if len(params.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(params.Headers))
	}
	c, err := mcpclient.NewStreamableHttpClient(params.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return &RemoteSession{client: c, url: params.URL, timeout: defaultCallTimeout}, nil
}

// RemoteSession talks to one MCP server over streamable HTTP.
type RemoteSession struct {
	client  client
	url     string
	timeout time.Duration
}

func (s *RemoteSession) Initialize(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    "threadrun",
		Version: "1.0.0",
	}
	if _, err := s.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	slog.Debug("mcp.session.connected", "url", s.url)
	return nil
}

func (s *RemoteSession) LoadTools(ctx context.Context) ([]tools.Tool, error) {
	res, err := s.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	out := make([]tools.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, newBridgeTool(s.client, t, s.timeout))
	}
	slog.Debug("mcp.session.tools_loaded", "url", s.url, "tools", len(out))
	return out, nil
}

func (s *RemoteSession) Close() error {
	if err := s.client.Close(); err != nil {
		slog.Warn("mcp.session.close_failed", "url", s.url, "error", err)
		return err
	}
	return nil
}

// NoopSession yields no tools.
type NoopSession struct{}

func (NoopSession) Initialize(context.Context) error                { return nil }
func (NoopSession) LoadTools(context.Context) ([]tools.Tool, error) { return nil, nil }
func (NoopSession) Close() error                                    { return nil }
