package agent

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/codexec/codexec/internal/mcpclient"
	"github.com/codexec/codexec/internal/promptcache"
	"github.com/codexec/codexec/internal/session"
)

// Config carries the settings the manager needs to assemble runtimes.
type Config struct {
	MCPServerURL string
	Model        string
	APIKey       string
	BaseURL      string
	AgentName    string
}

// Manager caches one Runtime per user id for process lifetime and wires
// each run through the session store. The system prompt is captured when a
// runtime is built; prompt TTL expiry takes effect for runtimes built after
// it.
type Manager struct {
	cfg      Config
	sessions *session.Store
	prompts  *promptcache.Cache
	log      *zap.Logger

	// newLLM and newTools are swappable in tests.
	newLLM   func(model string) Client
	newTools func(ctx context.Context, userID string) (Tools, []mcpclient.ToolSpec, error)

	mu       sync.Mutex
	runtimes map[string]*Runtime
	locks    map[string]*sync.Mutex
}

func NewManager(cfg Config, sessions *session.Store, prompts *promptcache.Cache, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		sessions: sessions,
		prompts:  prompts,
		log:      log,
		runtimes: make(map[string]*Runtime),
		locks:    make(map[string]*sync.Mutex),
	}
	m.newLLM = func(model string) Client {
		return NewOpenAIClient(model, cfg.APIKey, cfg.BaseURL, log)
	}
	m.newTools = func(ctx context.Context, userID string) (Tools, []mcpclient.ToolSpec, error) {
		tc, err := mcpclient.NewToolClient(ctx, cfg.MCPServerURL, userID, log)
		if err != nil {
			return nil, nil, err
		}
		specs, err := tc.ListTools(ctx)
		if err != nil {
			tc.Close()
			return nil, nil, err
		}
		return tc, specs, nil
	}
	return m
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// runtime returns the user's cached runtime, building one on first use.
// Construction is serialized per user so concurrent first requests share
// one MCP session.
func (m *Manager) runtime(ctx context.Context, userID string) (*Runtime, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	rt, ok := m.runtimes[userID]
	m.mu.Unlock()
	if ok {
		return rt, nil
	}

	system := m.prompts.Get(ctx)

	tools, specs, err := m.newTools(ctx, userID)
	if err != nil {
		return nil, err
	}

	rt = NewRuntime(m.newLLM(m.cfg.Model), tools, specs, system, m.log)

	m.mu.Lock()
	m.runtimes[userID] = rt
	m.mu.Unlock()

	m.log.Info("agent runtime created",
		zap.String("user_id", userID),
		zap.Int("tools", len(specs)))
	return rt, nil
}

// Run executes one chat turn for the user and returns the event stream.
// The user message is appended to the session before the run; the
// assistant's full text is appended after the stream ends.
func (m *Manager) Run(ctx context.Context, userID, model, userMessage string) (<-chan Event, error) {
	sessionID := m.sessions.Ensure(userID, m.cfg.AgentName)

	rt, err := m.runtime(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.sessions.Append(userID, session.Message{Role: "user", Content: userMessage})
	history := toMessages(m.sessions.History(userID))

	if model == "" {
		model = m.cfg.Model
	}

	m.log.Debug("agent run starting",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("model", model))

	inner := make(chan Event, 64)
	go rt.Run(ctx, model, history, inner)

	// Mirror the stream while collecting assistant text for the session.
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		var reply strings.Builder
		for ev := range inner {
			if td, ok := ev.(TextDelta); ok {
				reply.WriteString(td.Text)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				for range inner {
				}
				return
			}
		}
		if reply.Len() > 0 {
			m.sessions.Append(userID, session.Message{Role: "assistant", Content: reply.String()})
		}
	}()
	return out, nil
}

func toMessages(history []session.Message) []Message {
	out := make([]Message, 0, len(history))
	for _, h := range history {
		out = append(out, Message{Role: h.Role, Content: h.Content})
	}
	return out
}
