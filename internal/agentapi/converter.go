package agentapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codexec/codexec/internal/agent"
)

// converter turns agent events into OpenAI chat completion chunks. The
// first chunk carries the assistant role; text that follows a tool call is
// padded with a blank line so clients render a visible break.
type converter struct {
	requestID     string
	model         string
	sentRole      bool
	afterToolCall bool
	now           func() time.Time
}

func newConverter(model string) *converter {
	return &converter{
		requestID: "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		model:     model,
		now:       time.Now,
	}
}

func (c *converter) chunk(delta Delta, finishReason *string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      c.requestID,
		Object:  "chat.completion.chunk",
		Created: c.now().Unix(),
		Model:   c.model,
		Choices: []Choice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
}

// convert maps one agent event to zero or more chunks. ToolResult events
// produce no chunk: their content reaches the client through the model's
// next text turn.
func (c *converter) convert(ev agent.Event) []ChatCompletionChunk {
	var chunks []ChatCompletionChunk
	if !c.sentRole {
		chunks = append(chunks, c.chunk(Delta{Role: "assistant"}, nil))
		c.sentRole = true
	}

	switch e := ev.(type) {
	case agent.TextDelta:
		text := e.Text
		if c.afterToolCall {
			text = "\n\n" + text
			c.afterToolCall = false
		}
		chunks = append(chunks, c.chunk(Delta{Content: text}, nil))

	case agent.ToolCall:
		args, _ := json.Marshal(e.Args)
		chunks = append(chunks, c.chunk(Delta{
			ToolCalls: []ToolCallDelta{{
				ID:       e.ID,
				Type:     "function",
				Function: ToolCallFunction{Name: e.Name, Arguments: string(args)},
			}},
		}, nil))
		c.afterToolCall = true

	case agent.ToolResult:
		// skipped

	case agent.Finish:
		reason := e.Reason
		chunks = append(chunks, c.chunk(Delta{}, &reason))
	}
	return chunks
}
