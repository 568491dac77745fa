// Package agent drives the tool-calling loop: it feeds conversation state
// to a model client, dispatches the model's tool calls to the tool server,
// and emits a typed event stream that the HTTP layer serializes for
// clients.
package agent

import "github.com/codexec/codexec/internal/apperrors"

// Event is one item of an agent run's output stream. Exactly the variants
// below occur; a stream ends with either Finish or ErrorEvent.
type Event interface {
	isEvent()
}

// TextDelta carries an incremental fragment of assistant text.
type TextDelta struct {
	Text string
}

// ToolCall announces that the model invoked a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult carries the payload produced by a dispatched tool call.
type ToolResult struct {
	ID      string
	Name    string
	Payload string
}

// Finish terminates a successful run. Reason follows the OpenAI
// finish_reason vocabulary ("stop", "length").
type Finish struct {
	Reason string
}

// ErrorEvent terminates a failed run.
type ErrorEvent struct {
	Kind    apperrors.Kind
	Message string
}

func (TextDelta) isEvent()  {}
func (ToolCall) isEvent()   {}
func (ToolResult) isEvent() {}
func (Finish) isEvent()     {}
func (ErrorEvent) isEvent() {}
