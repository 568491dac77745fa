package agent

import (
	"context"

	"github.com/codexec/codexec/internal/mcpclient"
)

// Message is one turn of model conversation state. Tool results carry the
// id of the call they answer in ToolCallID.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Request is one model call: full conversation state plus the tool schemas
// the model may invoke.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []mcpclient.ToolSpec
}

// Turn is the completed output of one model call. Text is the full
// assistant text (already emitted incrementally via the delta callback);
// ToolCalls are the calls the model wants dispatched, in order.
type Turn struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
}

// Client is a streaming chat-completion model client.
type Client interface {
	// StreamTurn performs one model call, invoking onDelta for each text
	// fragment as it arrives, and returns the assembled turn.
	StreamTurn(ctx context.Context, req Request, onDelta func(text string)) (*Turn, error)

	// ModelName returns the model identifier this client targets.
	ModelName() string
}
