package toolserver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codexec/codexec/internal/apperrors"
	"github.com/codexec/codexec/internal/sandbox"
	"github.com/codexec/codexec/internal/skills"
)

// stubSandbox records calls and returns canned results.
type stubSandbox struct {
	execResult sandbox.ExecResult
	execErr    error
	lastUser   string
	lastCmd    string
	lastPath   string
	written    map[string]string
	readResult string
	readErr    error
	docstring  string
	docErr     error
	artifacts  []string
	artifact   []byte
	ready      bool
}

func newStubSandbox() *stubSandbox {
	return &stubSandbox{written: make(map[string]string), ready: true}
}

func (f *stubSandbox) Execute(ctx context.Context, userID, command string, timeout time.Duration) (sandbox.ExecResult, error) {
	f.lastUser, f.lastCmd = userID, command
	return f.execResult, f.execErr
}

func (f *stubSandbox) WriteFile(ctx context.Context, userID, path, content string) (int, error) {
	f.lastUser, f.lastPath = userID, path
	f.written[path] = content
	return len(content), nil
}

func (f *stubSandbox) ReadFile(ctx context.Context, userID, path string, offset, lineCount int) (string, error) {
	f.lastUser, f.lastPath = userID, path
	return f.readResult, f.readErr
}

func (f *stubSandbox) ReadDocstring(ctx context.Context, userID, path, functionName string) (string, error) {
	f.lastUser, f.lastPath = userID, path
	return f.docstring, f.docErr
}

func (f *stubSandbox) ListArtifacts(ctx context.Context, userID string) ([]string, error) {
	f.lastUser = userID
	return f.artifacts, nil
}

func (f *stubSandbox) GetArtifact(ctx context.Context, userID, name string) ([]byte, error) {
	f.lastUser = userID
	if err := sandbox.ValidateArtifactName(name); err != nil {
		return nil, err
	}
	if f.artifact == nil {
		return nil, apperrors.Newf(apperrors.KindFileNotFound, "artifact not found: %s", name)
	}
	return f.artifact, nil
}

func (f *stubSandbox) Ready() bool { return f.ready }

func newTestServer(t *testing.T, sb Sandbox) *Server {
	t.Helper()
	return New(sb, skills.NewRegistry(t.TempDir(), nil), nil)
}

func userCtx(uid string) context.Context {
	return context.WithValue(context.Background(), userIDKey{}, uid)
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	var parts []string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func TestExecuteBash(t *testing.T) {
	sb := newStubSandbox()
	sb.execResult = sandbox.ExecResult{ExitCode: 0, Stdout: "hello\n"}
	s := newTestServer(t, sb)

	res, err := s.handleExecuteBash(userCtx("u1"),
		toolRequest("execute_bash", map[string]any{"command": "echo hello"}))
	require.NoError(t, err)

	assert.False(t, res.IsError)
	assert.Equal(t, "u1", sb.lastUser)
	assert.Equal(t, "echo hello", sb.lastCmd)
	text := resultText(t, res)
	assert.Contains(t, text, `"exit_code":0`)
	assert.Contains(t, text, `"stdout":"hello\n"`)
}

func TestExecuteBash_MissingUser(t *testing.T) {
	s := newTestServer(t, newStubSandbox())

	res, err := s.handleExecuteBash(context.Background(),
		toolRequest("execute_bash", map[string]any{"command": "true"}))
	require.NoError(t, err)

	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "MISSING_USER_CONTEXT")
}

func TestExecuteBash_Timeout(t *testing.T) {
	sb := newStubSandbox()
	sb.execResult = sandbox.ExecResult{ExitCode: sandbox.TimeoutExitCode, Stdout: "partial", TimedOut: true}
	s := newTestServer(t, sb)

	res, err := s.handleExecuteBash(userCtx("u1"),
		toolRequest("execute_bash", map[string]any{"command": "sleep 5", "timeout": 1}))
	require.NoError(t, err)

	text := resultText(t, res)
	assert.Contains(t, text, `"exit_code":-1`)
	assert.Contains(t, text, `"error_kind":"Timeout"`)
	assert.Contains(t, text, "partial")
}

func TestExecuteBash_AcquisitionFailureIsStructured(t *testing.T) {
	sb := newStubSandbox()
	sb.execErr = apperrors.New(apperrors.KindContainerUnavailable, "daemon down", nil)
	s := newTestServer(t, sb)

	res, err := s.handleExecuteBash(userCtx("u1"),
		toolRequest("execute_bash", map[string]any{"command": "true"}))
	require.NoError(t, err)

	assert.False(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, `"exit_code":-1`)
	assert.Contains(t, text, "daemon down")
}

func TestWriteFile(t *testing.T) {
	sb := newStubSandbox()
	s := newTestServer(t, sb)

	res, err := s.handleWriteFile(userCtx("u1"),
		toolRequest("write_file", map[string]any{
			"file_path": "/workspace/hello.py",
			"content":   "print('Hello, World!')",
		}))
	require.NoError(t, err)

	assert.Equal(t, "Successfully wrote 22 bytes to /workspace/hello.py", resultText(t, res))
	assert.Equal(t, "print('Hello, World!')", sb.written["/workspace/hello.py"])
}

func TestWriteFile_MissingArgument(t *testing.T) {
	s := newTestServer(t, newStubSandbox())

	res, err := s.handleWriteFile(userCtx("u1"),
		toolRequest("write_file", map[string]any{"file_path": "/workspace/a.txt"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestReadFile(t *testing.T) {
	sb := newStubSandbox()
	sb.readResult = "L2\n"
	s := newTestServer(t, sb)

	res, err := s.handleReadFile(userCtx("u1"),
		toolRequest("read_file", map[string]any{
			"file_path":  "/workspace/a.txt",
			"offset":     1,
			"line_count": 1,
		}))
	require.NoError(t, err)
	assert.Equal(t, "L2\n", resultText(t, res))
}

func TestReadFile_NotFound(t *testing.T) {
	sb := newStubSandbox()
	sb.readErr = apperrors.Newf(apperrors.KindFileNotFound, "no such file")
	s := newTestServer(t, sb)

	res, err := s.handleReadFile(userCtx("u1"),
		toolRequest("read_file", map[string]any{"file_path": "/workspace/nope.txt"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestReadDocstring(t *testing.T) {
	sb := newStubSandbox()
	sb.docstring = "Generate a greeting."
	s := newTestServer(t, sb)

	res, err := s.handleReadDocstring(userCtx("u1"),
		toolRequest("read_docstring", map[string]any{
			"file_path":     "/workspace/m.py",
			"function_name": "greet",
		}))
	require.NoError(t, err)
	assert.Equal(t, "Generate a greeting.", resultText(t, res))
}

func TestReadDocstring_LoadFailureYieldsEmpty(t *testing.T) {
	sb := newStubSandbox()
	sb.docErr = apperrors.Newf(apperrors.KindDocstringExtraction, "module load failed")
	s := newTestServer(t, sb)

	res, err := s.handleReadDocstring(userCtx("u1"),
		toolRequest("read_docstring", map[string]any{
			"file_path":     "/workspace/m.py",
			"function_name": "greet",
		}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "", resultText(t, res))
}

func TestAgentSystemPrompt(t *testing.T) {
	s := newTestServer(t, newStubSandbox())

	res, err := s.handleAgentSystemPrompt(context.Background(), mcp.GetPromptRequest{})
	require.NoError(t, err)

	require.Len(t, res.Messages, 1)
	tc, ok := mcp.AsTextContent(res.Messages[0].Content)
	require.True(t, ok)
	assert.Contains(t, tc.Text, "No skills currently available.")
}
