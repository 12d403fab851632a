package session

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lumencanvas/clasp-sub002/internal/clasperr"
)

// Manager tracks every live Session and enforces MaxSessions. Grounded
// on ws/internal/shared/server.go's clients sync.Map + connectionsSem
// shape, generalized from a raw WebSocket client registry to CLASP
// Sessions.
type Manager struct {
	max     int
	sem     chan struct{}
	count   atomic.Int64

	mu       sync.RWMutex
	sessions map[string]*Session

	logger zerolog.Logger
}

func NewManager(maxSessions int, logger zerolog.Logger) *Manager {
	return &Manager{
		max:      maxSessions,
		sem:      make(chan struct{}, maxSessions),
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Admit reserves a session slot and registers a new Session, or returns
// AtCapacity if MaxSessions is already reached.
func (m *Manager) Admit() (*Session, error) {
	select {
	case m.sem <- struct{}{}:
	default:
		return nil, clasperr.New(clasperr.AtCapacity, "max sessions reached")
	}

	sess := New(m.logger)
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	m.count.Add(1)
	return sess, nil
}

// Remove unregisters a session and releases its slot.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if existed {
		m.count.Add(-1)
		select {
		case <-m.sem:
		default:
		}
	}
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Count() int {
	return int(m.count.Load())
}

// All returns a snapshot of every live session, used for broadcast-wide
// operations (drain, SIGTERM shutdown).
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// BeginDrainAll transitions every active session into draining state,
// used during graceful shutdown (spec.md §5).
func (m *Manager) BeginDrainAll() {
	for _, s := range m.All() {
		s.BeginDrain()
	}
}
