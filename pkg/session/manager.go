// Package session provides the in-memory session layer: short-lived
// conversation state keyed by session ID, with TTL expiry, a bounded turn
// window, and a global session cap.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QueryType classifies how a turn's query relates to the conversation.
type QueryType string

const (
	QueryStandalone  QueryType = "STANDALONE"
	QueryContextual  QueryType = "CONTEXTUAL"
	QueryComparative QueryType = "COMPARATIVE"
	QueryParameter   QueryType = "PARAMETER"
)

// ConversationTurn is one completed question in a session. Immutable after
// append.
type ConversationTurn struct {
	TurnID              string    `json:"turn_id"`
	Timestamp           time.Time `json:"timestamp"`
	UserQuery           string    `json:"user_query"`
	QueryType           QueryType `json:"query_type"`
	ExpandedQuery       string    `json:"expanded_query,omitempty"`
	AnalysisSummary     string    `json:"analysis_summary,omitempty"`
	ContextUsed         bool      `json:"context_used"`
	ExpansionConfidence float64   `json:"expansion_confidence"`
}

// Session is one user conversation.
type Session struct {
	ID           string             `json:"session_id"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`
	Turns        []ConversationTurn `json:"turns"`
}

// LastTurn returns the most recent turn, or nil for an empty session.
func (s *Session) LastTurn() *ConversationTurn {
	if len(s.Turns) == 0 {
		return nil
	}
	return &s.Turns[len(s.Turns)-1]
}

// Manager is the in-memory session map. All operations share one mutex;
// critical sections are map lookup and turn append only.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl           time.Duration
	historyWindow int
	maxSessions   int

	now    func() time.Time // injectable clock for expiry tests
	logger *slog.Logger
}

// NewManager creates a session manager. historyWindow bounds turns kept per
// session; maxSessions is the global cap.
func NewManager(ttl time.Duration, historyWindow, maxSessions int) *Manager {
	return &Manager{
		sessions:      make(map[string]*Session),
		ttl:           ttl,
		historyWindow: historyWindow,
		maxSessions:   maxSessions,
		now:           time.Now,
		logger:        slog.Default(),
	}
}

// Create allocates a new session, evicting if the global cap is reached.
func (m *Manager) Create() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked()
}

func (m *Manager) createLocked() *Session {
	m.pruneExpiredLocked()
	if len(m.sessions) >= m.maxSessions {
		m.evictOldestLocked()
	}

	now := m.now()
	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActivity: now,
	}
	m.sessions[s.ID] = s
	return s
}

// Get returns the session, or nil when it is missing or expired. Expired
// entries encountered on the access path are pruned. Access refreshes
// LastActivity.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *Manager) getLocked(id string) *Session {
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if m.expired(s) {
		delete(m.sessions, id)
		return nil
	}
	s.LastActivity = m.now()
	return s
}

// GetOrCreate returns the live session for id, or a fresh one when id is
// empty, unknown, or expired.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if s := m.getLocked(id); s != nil {
			return s
		}
	}
	return m.createLocked()
}

// Delete removes a session. Reports whether it existed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

// AppendTurn appends a turn to a live session, trimming to the history
// window. Reports false when the session is missing or expired.
func (m *Manager) AppendTurn(id string, turn ConversationTurn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getLocked(id)
	if s == nil {
		return false
	}

	if turn.TurnID == "" {
		turn.TurnID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.now()
	}

	s.Turns = append(s.Turns, turn)
	if len(s.Turns) > m.historyWindow {
		s.Turns = s.Turns[len(s.Turns)-m.historyWindow:]
	}
	return true
}

// Len reports the number of live sessions (expired entries included until
// the next prune).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) expired(s *Session) bool {
	// A session idle for exactly the TTL is already expired.
	return m.now().Sub(s.LastActivity) >= m.ttl
}

func (m *Manager) pruneExpiredLocked() {
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
		}
	}
}

// evictOldestLocked drops the session with the oldest LastActivity. Called
// only when the cap is still exceeded after pruning.
func (m *Manager) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, s := range m.sessions {
		if oldestID == "" || s.LastActivity.Before(oldest) {
			oldestID = id
			oldest = s.LastActivity
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
		m.logger.Debug("Evicted oldest session at capacity", "session_id", oldestID)
	}
}
