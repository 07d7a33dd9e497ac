package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/threadrun/internal/tools"
)

// bridgeTool exposes one remote MCP tool through the tools.Tool contract.
type bridgeTool struct {
	client  client
	tool    mcpgo.Tool
	timeout time.Duration
}

func newBridgeTool(c client, t mcpgo.Tool, timeout time.Duration) *bridgeTool {
	return &bridgeTool{client: c, tool: t, timeout: timeout}
}

func (b *bridgeTool) Name() string        { return b.tool.Name }
func (b *bridgeTool) Description() string { return b.tool.Description }

func (b *bridgeTool) Parameters() map[string]interface{} {
	raw := b.tool.RawInputSchema
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(b.tool.InputSchema); err != nil {
			return map[string]interface{}{"type": "object"}
		}
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
		return map[string]interface{}{"type": "object"}
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]interface{}{}
	}
	return schema
}

func (b *bridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.tool.Name
	req.Params.Arguments = args

	res, err := b.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("call %s: %v", b.tool.Name, err)).WithError(err)
	}
	text := contentText(res.Content)
	if res.IsError {
		return tools.ErrorResult(text).WithError(fmt.Errorf("%s: %s", b.tool.Name, text))
	}
	return tools.NewResult(text)
}

func contentText(items []mcpgo.Content) string {
	var parts []string
	for _, c := range items {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		default:
			if b, err := json.Marshal(c); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n")
}
