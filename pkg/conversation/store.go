// Package conversation holds per-session dialogue history, bounded in
// size and time. Sessions are created on first append, truncated FIFO at
// MaxHistory messages, and treated as gone once idle past IdleTimeout.
package conversation

import (
	"sync"
	"time"

	"github.com/mihulabs/mihu/internal/observability"
	"github.com/rs/zerolog"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Message represents a single conversation turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Set only for tool-role messages and assistant turns that requested tools.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// Stats summarizes the store's current population.
type Stats struct {
	TotalSessions  int `json:"total_sessions"`
	ActiveSessions int `json:"active_sessions"`
	TotalMessages  int `json:"total_messages"`
}

type session struct {
	mu           sync.Mutex
	messages     []Message
	lastActivity time.Time
}

// Options configures a Store.
type Options struct {
	MaxHistory  int
	IdleTimeout time.Duration
	Logger      zerolog.Logger
	// Now is the clock used for timestamps and expiry checks. Tests
	// override it; nil means time.Now.
	Now func() time.Time
}

const (
	DefaultMaxHistory  = 20
	DefaultIdleTimeout = 30 * time.Minute
)

// Store is the process-wide session store. All access goes through its
// methods; session data is never shared mutably outside the store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session

	maxHistory  int
	idleTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a session store.
func New(opts Options) *Store {
	observability.EnsureRegistered()

	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Store{
		sessions:    make(map[string]*session),
		maxHistory:  opts.MaxHistory,
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

func (s *Store) expired(sess *session, now time.Time) bool {
	return now.Sub(sess.lastActivity) > s.idleTimeout
}

// Context returns a copy of the session's current history, or an empty
// slice if the session is absent or idle-expired. Expired sessions are
// deleted as a side effect.
func (s *Store) Context(sessionID string) []Message {
	now := s.now()

	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return []Message{}
	}

	sess.mu.Lock()
	if s.expired(sess, now) {
		sess.mu.Unlock()
		s.mu.Lock()
		// Re-check under both locks (s.mu then cur.mu, the order Stats
		// and Sweep use): a concurrent append may have revived the
		// session, and lastActivity is guarded by the session mutex.
		if cur, ok := s.sessions[sessionID]; ok && cur == sess {
			cur.mu.Lock()
			exp := s.expired(cur, now)
			cur.mu.Unlock()
			if exp {
				delete(s.sessions, sessionID)
				s.logger.Debug().Str("session_id", sessionID).Msg("Session expired, cleared")
			}
		}
		s.mu.Unlock()
		s.updateActiveSessionsMetric()
		return []Message{}
	}

	out := make([]Message, len(sess.messages))
	copy(out, sess.messages)
	sess.mu.Unlock()
	return out
}

// Append adds a message to a session, creating the session if needed.
func (s *Store) Append(sessionID string, role Role, content string) {
	s.AppendMessage(sessionID, Message{Role: role, Content: content})
}

// AppendMessage adds a prebuilt message (for tool-role turns carrying call
// metadata). The timestamp is set by the store if unset.
func (s *Store) AppendMessage(sessionID string, msg Message) {
	if !msg.Role.Valid() {
		s.logger.Warn().Str("role", string(msg.Role)).Msg("Dropping message with invalid role")
		return
	}

	now := s.now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{lastActivity: now}
		s.sessions[sessionID] = sess
	}
	s.mu.Unlock()

	sess.mu.Lock()
	sess.messages = append(sess.messages, msg)
	sess.lastActivity = now
	if len(sess.messages) > s.maxHistory {
		// Drop oldest first; copy so the backing array does not pin
		// evicted messages.
		kept := make([]Message, s.maxHistory)
		copy(kept, sess.messages[len(sess.messages)-s.maxHistory:])
		sess.messages = kept
	}
	total := len(sess.messages)
	sess.mu.Unlock()

	observability.RecordSessionMessage()
	s.logger.Debug().
		Str("session_id", sessionID).
		Str("role", string(msg.Role)).
		Int("messages", total).
		Msg("Message appended")
}

// Len returns the number of messages currently held for a session,
// without touching activity or expiry.
func (s *Store) Len(sessionID string) int {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.messages)
}

// Clear deletes a session immediately.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	s.updateActiveSessionsMetric()
	s.logger.Info().Str("session_id", sessionID).Msg("Session cleared")
}

// ClearAll deletes all sessions.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	observability.SetActiveSessions(0)
	s.logger.Info().Msg("All sessions cleared")
}

// Stats reports session counts. Active excludes idle-expired sessions
// not yet swept; total message count covers active sessions only.
func (s *Store) Stats() Stats {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{TotalSessions: len(s.sessions)}
	for _, sess := range s.sessions {
		sess.mu.Lock()
		if !s.expired(sess, now) {
			stats.ActiveSessions++
			stats.TotalMessages += len(sess.messages)
		}
		sess.mu.Unlock()
	}
	return stats
}

// Sweep removes every idle-expired session and returns how many were
// deleted. It is invoked on a fixed interval by the janitor, independent
// of the lazy eviction in Context.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		exp := s.expired(sess, now)
		sess.mu.Unlock()
		if exp {
			delete(s.sessions, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Swept expired sessions")
	}
	s.updateActiveSessionsMetric()
	observability.RecordSweep("sessions", removed)
	return removed
}

func (s *Store) updateActiveSessionsMetric() {
	observability.SetActiveSessions(s.Stats().ActiveSessions)
}
