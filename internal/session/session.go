// Package session implements the HELLO/WELCOME handshake, PING/PONG
// liveness, and graceful drain for a single client connection (spec.md
// §4.2).
//
// Liveness constants and the ping-ticker/read-deadline shape are
// grounded on ws/internal/shared/server.go's writeWait/pongWait/
// pingPeriod and the read-pump/write-pump pair in
// ws/internal/shared/pump_read.go / pump_write.go.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lumencanvas/clasp-sub002/internal/auth"
	"github.com/lumencanvas/clasp-sub002/internal/clasperr"
)

const (
	WriteWait = 5 * time.Second
	PongWait  = 30 * time.Second
	PingPeriod = (PongWait * 9) / 10

	// MaxMissedPings is the number of consecutive unanswered pings before
	// a session is considered dead (spec.md §4.2: "liveness: PING/PONG;
	// two consecutive missed pongs close the session").
	MaxMissedPings = 2
)

// State is a Session's position in the handshake/lifecycle state
// machine.
type State int

const (
	StateAwaitingHello State = iota
	StateActive
	StateDraining
	StateClosed
)

// Session is server-side per-connection state: identity, scopes, and
// liveness bookkeeping. It holds no transport I/O itself; the
// transport/dispatcher layers call into it to report activity and query
// state.
type Session struct {
	ID      string
	Name    string
	Scopes  auth.ScopeSet
	Created time.Time

	mu           sync.Mutex
	state        State
	missedPings  int32
	lastPongAt   time.Time
	heldLocks    map[string]struct{} // addresses this session currently holds the write lock on
	subscriptionIDs map[string]struct{}

	logger zerolog.Logger
}

// New creates a session in StateAwaitingHello. The session ID is
// generated with google/uuid (grounded on other_examples/nugget-thane-ai-agent
// and teranos-QNTX's use of google/uuid for opaque identifiers).
func New(logger zerolog.Logger) *Session {
	return &Session{
		ID:              uuid.NewString(),
		Created:         time.Now(),
		state:           StateAwaitingHello,
		lastPongAt:      time.Now(),
		heldLocks:       make(map[string]struct{}),
		subscriptionIDs: make(map[string]struct{}),
		logger:          logger,
	}
}

// CompleteHandshake transitions the session to StateActive once a valid
// HELLO has been processed.
func (s *Session) CompleteHandshake(name string, scopes auth.ScopeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingHello {
		return clasperr.New(clasperr.InvalidHandshake, "HELLO received outside of awaiting-handshake state")
	}
	s.Name = name
	s.Scopes = scopes
	s.state = StateActive
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RecordPong resets the missed-ping counter on a received PONG.
func (s *Session) RecordPong() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missedPings = 0
	s.lastPongAt = time.Now()
}

// NotePingSent increments the missed-ping counter; RecordPong clears it.
// Returns true if the session should now be considered dead.
func (s *Session) NotePingSent() bool {
	n := atomic.AddInt32(&s.missedPings, 1)
	return n > MaxMissedPings
}

// BeginDrain transitions the session into draining: no new writes are
// accepted, but already-buffered messages continue flushing until the
// drain timeout (spec.md §5 "graceful drain").
func (s *Session) BeginDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		s.state = StateDraining
	}
}

// Close transitions the session to StateClosed and returns the set of
// addresses whose write lock this session held, so the caller can
// release them in the State Store.
func (s *Session) Close() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	locks := make([]string, 0, len(s.heldLocks))
	for addr := range s.heldLocks {
		locks = append(locks, addr)
	}
	return locks
}

func (s *Session) TrackLock(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heldLocks[addr] = struct{}{}
}

func (s *Session) ReleaseLock(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.heldLocks, addr)
}

func (s *Session) TrackSubscription(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptionIDs[id] = struct{}{}
}

func (s *Session) UntrackSubscription(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptionIDs, id)
}

// Subscriptions returns every subscription ID owned by this session,
// used to tear them down from the Subscription Index on close.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscriptionIDs))
	for id := range s.subscriptionIDs {
		out = append(out, id)
	}
	return out
}
