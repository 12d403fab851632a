package session

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/lumencanvas/clasp-sub002/internal/auth"
	"github.com/lumencanvas/clasp-sub002/internal/clasperr"
)

func TestHandshakeLifecycle(t *testing.T) {
	s := New(zerolog.Nop())
	if s.State() != StateAwaitingHello {
		t.Fatal("expected new session to await HELLO")
	}
	if err := s.CompleteHandshake("client-a", auth.NewScopeSet([]string{"admin"})); err != nil {
		t.Fatalf("CompleteHandshake: %v", err)
	}
	if s.State() != StateActive {
		t.Fatal("expected session to be active after handshake")
	}

	if err := s.CompleteHandshake("client-a", auth.ScopeSet{}); err == nil {
		t.Fatal("expected second HELLO to be rejected")
	} else if e, ok := err.(*clasperr.Error); !ok || e.Kind != clasperr.InvalidHandshake {
		t.Errorf("expected InvalidHandshake, got %v", err)
	}
}

func TestMissedPingsClosesSession(t *testing.T) {
	s := New(zerolog.Nop())
	for i := 0; i < MaxMissedPings; i++ {
		if s.NotePingSent() {
			t.Fatalf("session should not be dead after %d missed pings", i+1)
		}
	}
	if !s.NotePingSent() {
		t.Fatal("expected session to be dead after exceeding MaxMissedPings")
	}

	s.RecordPong()
	if s.NotePingSent() {
		t.Fatal("expected missed-ping counter to reset after a pong")
	}
}

func TestManagerAdmitRespectsCapacity(t *testing.T) {
	m := NewManager(2, zerolog.Nop())
	s1, err := m.Admit()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Admit(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Admit(); err == nil {
		t.Fatal("expected AtCapacity on third admit")
	}

	m.Remove(s1.ID)
	if _, err := m.Admit(); err != nil {
		t.Fatalf("expected slot freed after remove: %v", err)
	}
}

func TestSessionLockTracking(t *testing.T) {
	s := New(zerolog.Nop())
	s.TrackLock("/a")
	s.TrackLock("/b")
	s.ReleaseLock("/a")
	locks := s.Close()
	if len(locks) != 1 || locks[0] != "/b" {
		t.Errorf("expected only /b to remain locked at close, got %v", locks)
	}
}
