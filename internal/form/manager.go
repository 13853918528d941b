package form

import (
	"context"
	"strings"
	"sync"
	"time"

	"wedding-rsvp/internal/models"
)

// Manager owns one Session per token.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Open returns the token's session, loading it on first use. The token must
// already have passed validation.
func (m *Manager) Open(ctx context.Context, token string, guest *models.Guest) (*Session, error) {
	key := strings.ToLower(token)

	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		s = NewSession(key, guest, m.deps)
		m.sessions[key] = s
	}
	m.mu.Unlock()

	if ok {
		return s, nil
	}
	if err := s.Load(ctx); err != nil {
		m.Forget(key)
		return nil, err
	}
	return s, nil
}

// Forget drops a session after flushing its draft.
func (m *Manager) Forget(token string) {
	key := strings.ToLower(token)

	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if ok {
		if err := s.FlushDraft(); err != nil {
			m.deps.Log.Warn().Err(err).Str("token", key).Msg("Failed to flush draft")
		}
	}
}

// Sweep forgets sessions unused for maxIdle and returns how many.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var idle []string
	for key, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, key)
		}
	}
	m.mu.Unlock()

	for _, key := range idle {
		m.Forget(key)
	}
	return len(idle)
}

// RunSweeper sweeps every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(maxIdle); n > 0 {
				m.deps.Log.Debug().Int("sessions", n).Msg("Swept idle form sessions")
			}
		}
	}
}

// FlushAll writes every pending draft. Used on shutdown.
func (m *Manager) FlushAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.FlushDraft(); err != nil {
			m.deps.Log.Warn().Err(err).Str("token", s.token).Msg("Failed to flush draft")
		}
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
