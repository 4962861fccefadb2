package hub

import (
	"sync"
	"time"

	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/engine"
	"github.com/rs/zerolog/log"
)

// Session accumulates conversation history and state shared across
// tasks that reference the same session id.
type Session struct {
	ID        string                 `json:"id"`
	AgentType string                 `json:"agent_type"`
	Messages  []engine.Message       `json:"messages"`
	State     map[string]interface{} `json:"state,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// sessionStore maps session ids to sessions. Created lazily on first
// reference, evicted by the cleanup sweep. The mutex guards only map
// and message mutation, never an engine call.
type sessionStore struct {
	sessions map[string]*Session
	mu       sync.Mutex
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for id, creating it when unknown.
// The second return reports whether a new session was created.
func (s *sessionStore) GetOrCreate(id, agentType string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok {
		return session, false
	}

	now := time.Now()
	session := &Session{
		ID:        id,
		AgentType: agentType,
		Messages:  []engine.Message{},
		State:     make(map[string]interface{}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[id] = session

	log.Debug().Str("sessionId", id).Str("agentType", agentType).Msg("Session created")

	return session, true
}

// Get returns the session for id, or nil.
func (s *sessionStore) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessions[id]
}

// Snapshot returns a copy of the session for id, or nil. The copy owns
// its message slice and state map, so readers never race a concurrent
// Append.
func (s *sessionStore) Snapshot(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil
	}

	out := *session
	out.Messages = make([]engine.Message, len(session.Messages))
	copy(out.Messages, session.Messages)
	out.State = make(map[string]interface{}, len(session.State))
	for k, v := range session.State {
		out.State[k] = v
	}
	return &out
}

// Append adds a message to the session and refreshes its activity
// timestamp.
func (s *sessionStore) Append(id string, msg engine.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return
	}
	session.Messages = append(session.Messages, msg)
	session.UpdatedAt = time.Now()
}

// History returns a copy of the session's message sequence so callers
// can build an engine request without holding the store lock.
func (s *sessionStore) History(id string) []engine.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	out := make([]engine.Message, len(session.Messages))
	copy(out, session.Messages)
	return out
}

// Count returns the number of live sessions.
func (s *sessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// Sweep evicts sessions idle longer than ttl and returns how many were
// removed.
func (s *sessionStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, session := range s.sessions {
		if now.Sub(session.UpdatedAt) > ttl {
			delete(s.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		log.Info().Int("count", removed).Msg("Cleaned up expired sessions")
	}

	return removed
}
