package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/ccserver/internal/observability"
	"github.com/rs/zerolog"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidKey      = errors.New("invalid session id")
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// KeyFor returns sessionID, or the default per-user session id when it is empty
func KeyFor(userID, sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return "user_" + userID
}

// Message represents a single conversation turn
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a snapshot of a tracked conversation
type Session struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	ResumeID     string    `json:"resume_id,omitempty"`
	History      []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Manager keeps sessions in memory
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	turnLocks map[string]*turnLock
	locksMu   sync.Mutex

	logger zerolog.Logger
}

// New creates a new Manager
func New(logger zerolog.Logger) *Manager {
	observability.EnsureRegistered()

	return &Manager{
		sessions:  make(map[string]*Session),
		turnLocks: make(map[string]*turnLock),
		logger:    logger.With().Str("component", "session").Logger(),
	}
}

// ValidateKey checks that a session id is usable
func ValidateKey(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidKey)
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidKey)
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("%w: cannot contain path separators", ErrInvalidKey)
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("%w: cannot contain null bytes", ErrInvalidKey)
	}
	return nil
}

// turnLock is removed from Manager.turnLocks when its last holder or waiter releases it.
type turnLock struct {
	mu   sync.Mutex
	refs int
}

// Lock serializes turns of one session. The returned func releases it.
func (m *Manager) Lock(sessionID string) func() {
	m.locksMu.Lock()
	lock, exists := m.turnLocks[sessionID]
	if !exists {
		lock = &turnLock{}
		m.turnLocks[sessionID] = lock
	}
	lock.refs++
	m.locksMu.Unlock()

	lock.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()

			m.locksMu.Lock()
			lock.refs--
			if lock.refs == 0 {
				delete(m.turnLocks, sessionID)
			}
			m.locksMu.Unlock()
		})
	}
}

// busy reports whether a turn holds or waits for the session's lock
func (m *Manager) busy(sessionID string) bool {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	return m.turnLocks[sessionID] != nil
}

// GetOrCreate returns the session, creating it on first use
func (m *Manager) GetOrCreate(sessionID, userID string) (Session, error) {
	if err := ValidateKey(sessionID); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if s, exists := m.sessions[sessionID]; exists {
		s.LastActivity = now
		return s.snapshot(), nil
	}

	s := &Session{
		ID:           sessionID,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
	}
	m.sessions[sessionID] = s
	observability.SetActiveSessions(len(m.sessions))

	m.logger.Info().Str("session_id", sessionID).Str("user_id", userID).Msg("Session created")

	return s.snapshot(), nil
}

// Get returns a snapshot of a session
func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s.snapshot(), nil
}

// Append adds a message to a session's history
func (m *Manager) Append(sessionID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	now := time.Now()
	s.History = append(s.History, Message{Role: role, Content: content, Timestamp: now})
	s.LastActivity = now
	return nil
}

// SetResumeID records the agent-side id used to continue the conversation
func (m *Manager) SetResumeID(sessionID, resumeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if s.ResumeID != resumeID {
		m.logger.Debug().
			Str("session_id", sessionID).
			Str("resume_id", resumeID).
			Msg("Resume id updated")
	}
	s.ResumeID = resumeID
	return nil
}

// History returns a copy of a session's messages
func (m *Manager) History(sessionID string) ([]Message, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.History, nil
}

// Delete removes a session
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	_, exists := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	count := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	observability.SetActiveSessions(count)
	m.logger.Info().Str("session_id", sessionID).Msg("Session deleted")
	return nil
}

// List returns the ids of all sessions, sorted
func (m *Manager) List() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of tracked sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (s *Session) snapshot() Session {
	out := *s
	out.History = make([]Message, len(s.History))
	copy(out.History, s.History)
	return out
}
