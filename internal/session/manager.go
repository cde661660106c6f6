package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusEnded      Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrActive   = errors.New("a session is already pending or open")
)

// Session describes the single live conversation the kiosk may hold.
type Session struct {
	ID                string    `json:"session_id"`
	Status            Status    `json:"status"`
	Provider          string    `json:"provider"`
	Voice             string    `json:"voice"`
	EndReason         string    `json:"end_reason,omitempty"`
	InterruptionCount int       `json:"interruption_count"`
	ToolCallCount     int       `json:"tool_call_count"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

// Manager tracks at most one pending or open session.
type Manager struct {
	mu                sync.RWMutex
	current           *Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{inactivityTimeout: inactivityTimeout}
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Begin reserves the session slot in the connecting state.
func (m *Manager) Begin(provider, voice string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Status != StatusEnded {
		return nil, ErrActive
	}
	now := time.Now().UTC()
	m.current = &Session{
		ID:             uuid.NewString(),
		Status:         StatusConnecting,
		Provider:       provider,
		Voice:          voice,
		StartedAt:      now,
		LastActivityAt: now,
	}
	return clone(m.current), nil
}

func (m *Manager) MarkOpen(sessionID string) error {
	return m.update(sessionID, func(s *Session) {
		s.Status = StatusOpen
	})
}

func (m *Manager) Touch(sessionID string) error {
	return m.update(sessionID, func(*Session) {})
}

func (m *Manager) RecordToolCalls(sessionID string, n int) error {
	return m.update(sessionID, func(s *Session) {
		s.ToolCallCount += n
	})
}

func (m *Manager) Interrupt(sessionID string) error {
	return m.update(sessionID, func(s *Session) {
		s.InterruptionCount++
	})
}

// End closes the session. Ending an unknown or already ended session returns
// ErrNotFound.
func (m *Manager) End(sessionID, reason string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveLocked(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.EndReason = reason
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

// Current returns the latest session, ended or not.
func (m *Manager) Current() (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, false
	}
	return clone(m.current), true
}

func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && m.current.Status != StatusEnded
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()

	m.mu.Lock()
	s := m.current
	if s == nil || s.Status == StatusEnded || now.Sub(s.LastActivityAt) < m.inactivityTimeout {
		m.mu.Unlock()
		return
	}
	s.Status = StatusEnded
	s.EndReason = "inactive"
	s.LastActivityAt = now
	expired := clone(s)
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		hook(expired)
	}
}

func (m *Manager) update(sessionID string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveLocked(sessionID)
	if !ok {
		return ErrNotFound
	}
	fn(s)
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) liveLocked(sessionID string) (*Session, bool) {
	if m.current == nil || m.current.ID != sessionID || m.current.Status == StatusEnded {
		return nil, false
	}
	return m.current, true
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
