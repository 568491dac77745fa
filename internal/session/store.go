package session

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message is one turn of a session's conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type entry struct {
	id         string
	appName    string
	lastAccess time.Time
	history    []Message
}

// Store tracks one conversation session per user with an idle TTL. Sessions
// are never shared across users; an expired session is replaced, not
// resurrected.
type Store struct {
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

func NewStore(timeout time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		timeout:  timeout,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Ensure returns the user's live session id, refreshing its last-access
// time. A missing or expired session is replaced with a fresh one.
func (s *Store) Ensure(userID, appName string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.sessions[userID]; ok && now.Sub(e.lastAccess) < s.timeout {
		e.lastAccess = now
		return e.id
	}

	e := &entry{
		id:         fmt.Sprintf("session-%s-%d", userID, now.Unix()),
		appName:    appName,
		lastAccess: now,
	}
	s.sessions[userID] = e
	s.log.Info("session created",
		zap.String("user_id", userID),
		zap.String("session_id", e.id),
		zap.String("app_name", appName))
	return e.id
}

// Append records a message on the user's current session. A no-op when the
// user has no session.
func (s *Store) Append(userID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[userID]; ok {
		e.history = append(e.history, msg)
	}
}

// History returns a copy of the user's session history.
func (s *Store) History(userID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[userID]
	if !ok {
		return nil
	}
	out := make([]Message, len(e.history))
	copy(out, e.history)
	return out
}

// CleanupExpired drops sessions idle past the timeout and returns how many
// were removed. Ensure does its own expiry check, so this only bounds
// memory, it is not needed for correctness.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for uid, e := range s.sessions {
		if now.Sub(e.lastAccess) >= s.timeout {
			delete(s.sessions, uid)
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("expired sessions removed", zap.Int("count", removed))
	}
	return removed
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartJanitor runs CleanupExpired on the given interval until stop is
// closed.
func (s *Store) StartJanitor(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.CleanupExpired()
			case <-stop:
				return
			}
		}
	}()
}
