package session

import (
	"time"

	"github.com/harun/ccserver/internal/observability"
)

// DefaultTTL is how long an idle session is kept
const DefaultTTL = time.Hour

// CleanupExpired removes sessions idle for longer than ttl and returns their ids.
// Sessions with a turn in progress are kept.
func (m *Manager) CleanupExpired(ttl time.Duration) []string {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) && !m.busy(id) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}

	observability.SetActiveSessions(count)
	m.logger.Info().
		Int("expired", len(expired)).
		Dur("ttl", ttl).
		Msg("Expired sessions cleaned up")

	return expired
}
