// Package mcpclient wraps the MCP streamable-HTTP client used by the agent
// bridge to reach the tool server. Each client carries one user identity via
// the x-user-id header; the server routes every call to that user's
// container.
package mcpclient

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/codexec/codexec/internal/apperrors"
)

const userHeader = "x-user-id"

// ToolSpec is the schema of one remote tool, in the shape the model client
// expects for function calling.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolClient is an initialized MCP session bound to a single user.
type ToolClient struct {
	c      *client.Client
	userID string
	log    *zap.Logger
}

// NewToolClient connects to the tool server and completes the MCP
// initialize handshake on behalf of the given user.
func NewToolClient(ctx context.Context, serverURL, userID string, log *zap.Logger) (*ToolClient, error) {
	if log == nil {
		log = zap.NewNop()
	}

	c, err := client.NewStreamableHttpClient(serverURL,
		transport.WithHTTPHeaders(map[string]string{userHeader: userID}))
	if err != nil {
		return nil, apperrors.New(apperrors.KindToolServer, "failed to create MCP client", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, apperrors.New(apperrors.KindToolServer, "failed to start MCP transport", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "codexec-agent", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, apperrors.New(apperrors.KindToolServer, "MCP initialize failed", err)
	}

	log.Debug("MCP session established", zap.String("user_id", userID), zap.String("url", serverURL))
	return &ToolClient{c: c, userID: userID, log: log}, nil
}

// ListTools returns the server's tool schemas.
func (t *ToolClient) ListTools(ctx context.Context) ([]ToolSpec, error) {
	res, err := t.c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, apperrors.New(apperrors.KindToolServer, "failed to list tools", err)
	}

	specs := make([]ToolSpec, 0, len(res.Tools))
	for _, tool := range res.Tools {
		schema := map[string]any{
			"type":       tool.InputSchema.Type,
			"properties": tool.InputSchema.Properties,
		}
		if len(tool.InputSchema.Required) > 0 {
			schema["required"] = tool.InputSchema.Required
		}
		specs = append(specs, ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return specs, nil
}

// CallTool invokes a remote tool and returns its textual payload. A
// tool-level failure (IsError) is returned as text so the model can react
// to it; only transport and protocol failures surface as errors.
func (t *ToolClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := t.c.CallTool(ctx, req)
	if err != nil {
		return "", apperrors.Newf(apperrors.KindToolServer, "tool %s call failed: %v", name, err)
	}
	return flattenContent(res.Content), nil
}

func (t *ToolClient) Close() error {
	return t.c.Close()
}

func flattenContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		if tc, ok := mcp.AsTextContent(item); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// PromptFetcher retrieves the rendered agent system prompt from the tool
// server. It satisfies the prompt cache's Fetcher interface; a fresh MCP
// session is opened per fetch since fetches are rare (TTL-bound).
type PromptFetcher struct {
	ServerURL  string
	PromptName string
	Log        *zap.Logger
}

func (p *PromptFetcher) FetchPrompt(ctx context.Context) (string, error) {
	tc, err := NewToolClient(ctx, p.ServerURL, "prompt-fetcher", p.Log)
	if err != nil {
		return "", err
	}
	defer tc.Close()

	req := mcp.GetPromptRequest{}
	req.Params.Name = p.PromptName

	res, err := tc.c.GetPrompt(ctx, req)
	if err != nil {
		return "", apperrors.New(apperrors.KindPromptFetchFailed, "failed to fetch system prompt", err)
	}

	var parts []string
	for _, msg := range res.Messages {
		if tcnt, ok := mcp.AsTextContent(msg.Content); ok {
			parts = append(parts, tcnt.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}
