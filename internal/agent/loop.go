package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/codexec/codexec/internal/apperrors"
	"github.com/codexec/codexec/internal/mcpclient"
)

// maxIterations bounds the number of model round-trips in one run. A model
// that keeps requesting tools past this is cut off with finish reason
// "length".
const maxIterations = 16

// Tools dispatches the model's tool calls. Implemented by the MCP tool
// client.
type Tools interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Runtime is the per-user agent: one model client, one tool client, and
// the system prompt captured at construction time.
type Runtime struct {
	llm    Client
	tools  Tools
	specs  []mcpclient.ToolSpec
	system string
	log    *zap.Logger
}

func NewRuntime(llm Client, tools Tools, specs []mcpclient.ToolSpec, system string, log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{llm: llm, tools: tools, specs: specs, system: system, log: log}
}

// Run drives the tool-calling loop over the given conversation state and
// writes events to out. The channel is closed when the run ends; the final
// event is always Finish or ErrorEvent. Run blocks until done, so callers
// stream by consuming out from another goroutine or by passing a buffered
// channel.
func (r *Runtime) Run(ctx context.Context, model string, history []Message, out chan<- Event) {
	defer close(out)

	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	messages := make([]Message, len(history))
	copy(messages, history)

	for iter := 0; iter < maxIterations; iter++ {
		req := Request{
			Model:    model,
			System:   r.system,
			Messages: messages,
			Tools:    r.specs,
		}

		turn, err := r.llm.StreamTurn(ctx, req, func(text string) {
			emit(TextDelta{Text: text})
		})
		if err != nil {
			r.log.Warn("model call failed", zap.Error(err))
			emit(ErrorEvent{Kind: apperrors.KindOf(err), Message: err.Error()})
			return
		}

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   turn.Text,
			ToolCalls: turn.ToolCalls,
		})

		if len(turn.ToolCalls) == 0 {
			reason := turn.FinishReason
			if reason == "" {
				reason = "stop"
			}
			emit(Finish{Reason: reason})
			return
		}

		for _, tc := range turn.ToolCalls {
			if !emit(tc) {
				return
			}
			payload, err := r.tools.CallTool(ctx, tc.Name, tc.Args)
			if err != nil {
				if ctx.Err() != nil {
					emit(ErrorEvent{Kind: apperrors.KindCancelled, Message: ctx.Err().Error()})
					return
				}
				// Tool failures are fed back to the model rather than
				// aborting the run.
				payload = "Error executing tool " + tc.Name + ": " + err.Error()
			}
			if !emit(ToolResult{ID: tc.ID, Name: tc.Name, Payload: payload}) {
				return
			}
			messages = append(messages, Message{
				Role:       "tool",
				Content:    payload,
				ToolCallID: tc.ID,
			})
		}

		if ctx.Err() != nil {
			emit(ErrorEvent{Kind: apperrors.KindCancelled, Message: ctx.Err().Error()})
			return
		}
	}

	r.log.Warn("agent run hit iteration limit", zap.Int("max", maxIterations))
	emit(Finish{Reason: "length"})
}
