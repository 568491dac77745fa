package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codexec/codexec/internal/mcpclient"
	"github.com/codexec/codexec/internal/promptcache"
	"github.com/codexec/codexec/internal/session"
)

type staticPrompt struct{ prompt string }

func (s staticPrompt) FetchPrompt(ctx context.Context) (string, error) { return s.prompt, nil }

func newTestManager(t *testing.T, makeLLM func() Client) (*Manager, *int32) {
	t.Helper()
	sessions := session.NewStore(time.Hour, nil)
	prompts := promptcache.New(staticPrompt{prompt: "rendered system prompt"}, time.Hour, "fallback", nil)

	m := NewManager(Config{Model: "gpt-4o", AgentName: "code_executor_agent"}, sessions, prompts, nil)

	var toolBuilds int32
	m.newTools = func(ctx context.Context, userID string) (Tools, []mcpclient.ToolSpec, error) {
		atomic.AddInt32(&toolBuilds, 1)
		return &fakeTools{results: map[string]string{}}, []mcpclient.ToolSpec{{Name: "execute_bash"}}, nil
	}
	m.newLLM = func(model string) Client { return makeLLM() }
	return m, &toolBuilds
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestManagerRun_StreamsAndRecordsHistory(t *testing.T) {
	m, _ := newTestManager(t, func() Client {
		return &scriptedLLM{turns: []Turn{{Text: "hi there", FinishReason: "stop"}}}
	})

	events, err := m.Run(context.Background(), "u1", "", "hello")
	require.NoError(t, err)
	out := drain(t, events)

	assert.Equal(t, Finish{Reason: "stop"}, out[len(out)-1])

	h := m.sessions.History("u1")
	require.Len(t, h, 2)
	assert.Equal(t, session.Message{Role: "user", Content: "hello"}, h[0])
	assert.Equal(t, session.Message{Role: "assistant", Content: "hi there"}, h[1])
}

func TestManagerRun_RuntimeCachedPerUser(t *testing.T) {
	m, builds := newTestManager(t, func() Client {
		return &scriptedLLM{turns: []Turn{
			{Text: "a", FinishReason: "stop"},
		}}
	})

	// Each run needs a fresh scripted client, so rebuild the factory to
	// hand out single-turn scripts repeatedly.
	m.newLLM = func(model string) Client {
		return &repeatLLM{text: "a"}
	}

	for i := 0; i < 3; i++ {
		events, err := m.Run(context.Background(), "u1", "", "msg")
		require.NoError(t, err)
		drain(t, events)
	}
	events, err := m.Run(context.Background(), "u2", "", "msg")
	require.NoError(t, err)
	drain(t, events)

	assert.Equal(t, int32(2), atomic.LoadInt32(builds))
}

func TestManagerRun_SystemPromptCaptured(t *testing.T) {
	llm := &repeatLLM{text: "ok"}
	m, _ := newTestManager(t, func() Client { return llm })
	m.newLLM = func(model string) Client { return llm }

	events, err := m.Run(context.Background(), "u1", "", "hello")
	require.NoError(t, err)
	drain(t, events)

	require.NotEmpty(t, llm.seen)
	assert.Equal(t, "rendered system prompt", llm.seen[0].System)
}

func TestManagerRun_HistoryCarriesAcrossTurns(t *testing.T) {
	llm := &repeatLLM{text: "reply"}
	m, _ := newTestManager(t, func() Client { return llm })
	m.newLLM = func(model string) Client { return llm }

	for _, msg := range []string{"first", "second"} {
		events, err := m.Run(context.Background(), "u1", "", msg)
		require.NoError(t, err)
		drain(t, events)
	}

	last := llm.seen[len(llm.seen)-1]
	require.Len(t, last.Messages, 3) // first, reply, second
	assert.Equal(t, "first", last.Messages[0].Content)
	assert.Equal(t, "reply", last.Messages[1].Content)
	assert.Equal(t, "second", last.Messages[2].Content)
}

// repeatLLM answers every call with the same single text turn.
type repeatLLM struct {
	text string
	seen []Request
}

func (r *repeatLLM) ModelName() string { return "test-model" }

func (r *repeatLLM) StreamTurn(ctx context.Context, req Request, onDelta func(string)) (*Turn, error) {
	r.seen = append(r.seen, req)
	if onDelta != nil {
		onDelta(r.text)
	}
	return &Turn{Text: r.text, FinishReason: "stop"}, nil
}
