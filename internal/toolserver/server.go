// Package toolserver exposes the sandbox over MCP (four tools plus the
// agent system prompt) and a set of plain HTTP side-endpoints for health,
// skills and artifacts.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/codexec/codexec/internal/apperrors"
	"github.com/codexec/codexec/internal/sandbox"
	"github.com/codexec/codexec/internal/skills"
)

const serviceName = "codexec-tool-server"

// Sandbox is the per-user execution surface the tool server drives.
// Implemented by the sandbox Manager.
type Sandbox interface {
	Execute(ctx context.Context, userID, command string, timeout time.Duration) (sandbox.ExecResult, error)
	WriteFile(ctx context.Context, userID, path, content string) (int, error)
	ReadFile(ctx context.Context, userID, path string, offset, lineCount int) (string, error)
	ReadDocstring(ctx context.Context, userID, path, functionName string) (string, error)
	ListArtifacts(ctx context.Context, userID string) ([]string, error)
	GetArtifact(ctx context.Context, userID, name string) ([]byte, error)
	Ready() bool
}

type userIDKey struct{}

// UserIDFromHeader lifts the x-user-id header into the request context for
// the MCP handlers.
func UserIDFromHeader(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, userIDKey{}, r.Header.Get("x-user-id"))
}

func userID(ctx context.Context) (string, error) {
	uid, _ := ctx.Value(userIDKey{}).(string)
	if uid == "" {
		return "", apperrors.New(apperrors.KindMissingUserContext, "missing x-user-id header", nil)
	}
	return uid, nil
}

// Server wires the MCP tool surface and HTTP side-endpoints over one
// sandbox.
type Server struct {
	sandbox  Sandbox
	registry *skills.Registry
	log      *zap.Logger
	metrics  *Metrics
	mcp      *server.MCPServer
}

func New(sb Sandbox, registry *skills.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		sandbox:  sb,
		registry: registry,
		log:      log,
		metrics:  newMetrics(),
	}
	s.mcp = s.buildMCPServer()
	return s
}

func (s *Server) buildMCPServer() *server.MCPServer {
	m := server.NewMCPServer("code-executor", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithPromptCapabilities(false),
	)

	m.AddTool(mcp.NewTool("execute_bash",
		mcp.WithDescription("Execute a bash command in the user's isolated Docker container. The container persists between calls for the same user."),
		mcp.WithString("command", mcp.Required(),
			mcp.Description("Bash command to execute in the container")),
		mcp.WithNumber("timeout", mcp.DefaultNumber(30),
			mcp.Description("Command timeout in seconds (default: 30)")),
	), s.handleExecuteBash)

	m.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Write content to a file in the user's container, creating parent directories as needed."),
		mcp.WithString("file_path", mcp.Required(),
			mcp.Description("Absolute path where to write the file")),
		mcp.WithString("content", mcp.Required(),
			mcp.Description("Content to write to the file")),
	), s.handleWriteFile)

	m.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a file from the user's container with optional line-based pagination."),
		mcp.WithString("file_path", mcp.Required(),
			mcp.Description("Absolute path to the file in the container")),
		mcp.WithNumber("offset", mcp.DefaultNumber(0),
			mcp.Description("Line number to start reading from (0-indexed)")),
		mcp.WithNumber("line_count",
			mcp.Description("Number of lines to read (omit for all)")),
	), s.handleReadFile)

	m.AddTool(mcp.NewTool("read_docstring",
		mcp.WithDescription("Read the docstring of a top-level function from a Python file in the user's container."),
		mcp.WithString("file_path", mcp.Required(),
			mcp.Description("Absolute path to the Python file")),
		mcp.WithString("function_name", mcp.Required(),
			mcp.Description("Name of the function to inspect")),
	), s.handleReadDocstring)

	m.AddPrompt(mcp.NewPrompt("agent_system_prompt",
		mcp.WithPromptDescription("The system prompt for the code execution agent, rendered from the current skill set."),
	), s.handleAgentSystemPrompt)

	return m
}

type execPayload struct {
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func (s *Server) handleExecuteBash(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := userID(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeout := time.Duration(req.GetInt("timeout", 30)) * time.Second

	s.log.Info("executing bash command",
		zap.String("user_id", uid),
		zap.String("command", firstN(command, 100)))

	start := time.Now()
	res, err := s.sandbox.Execute(ctx, uid, command, timeout)
	s.metrics.observeTool("execute_bash", err, time.Since(start))
	if err != nil {
		// Acquisition failures come back as a structured result so the
		// model can see what happened.
		res = sandbox.ExecResult{ExitCode: sandbox.TimeoutExitCode, Stderr: "Error: " + err.Error()}
	}

	payload := execPayload{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if res.TimedOut {
		payload.ErrorKind = "Timeout"
	}
	text, _ := json.Marshal(payload)
	return mcp.NewToolResultStructured(payload, string(text)), nil
}

func (s *Server) handleWriteFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := userID(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start := time.Now()
	n, err := s.sandbox.WriteFile(ctx, uid, path, content)
	s.metrics.observeTool("write_file", err, time.Since(start))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Successfully wrote %d bytes to %s", n, path)), nil
}

func (s *Server) handleReadFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := userID(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	offset := req.GetInt("offset", 0)
	lineCount := req.GetInt("line_count", -1)

	start := time.Now()
	content, err := s.sandbox.ReadFile(ctx, uid, path, offset, lineCount)
	s.metrics.observeTool("read_file", err, time.Since(start))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) handleReadDocstring(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := userID(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fn, err := req.RequireString("function_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start := time.Now()
	doc, err := s.sandbox.ReadDocstring(ctx, uid, path, fn)
	s.metrics.observeTool("read_docstring", err, time.Since(start))
	if err != nil {
		// Load failures surface as an empty docstring, matching the
		// tool's contract of "documentation or nothing".
		s.log.Warn("docstring extraction failed",
			zap.String("user_id", uid),
			zap.String("file_path", path),
			zap.Error(err))
		return mcp.NewToolResultText(""), nil
	}
	return mcp.NewToolResultText(doc), nil
}

func (s *Server) handleAgentSystemPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	prompt := s.registry.RenderPrompt()
	return mcp.NewGetPromptResult(
		"System prompt for the code execution agent",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(prompt)),
		},
	), nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
