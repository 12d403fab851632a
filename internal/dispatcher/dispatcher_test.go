package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumencanvas/clasp-sub002/internal/auth"
	"github.com/lumencanvas/clasp-sub002/internal/frame"
	"github.com/lumencanvas/clasp-sub002/internal/hooks"
	"github.com/lumencanvas/clasp-sub002/internal/session"
	"github.com/lumencanvas/clasp-sub002/internal/state"
	"github.com/lumencanvas/clasp-sub002/internal/subscription"
	"github.com/lumencanvas/clasp-sub002/internal/value"
)

type fakeSender struct {
	mu  sync.Mutex
	got []interface{}
}

func (f *fakeSender) Send(msg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
	return nil
}

func (f *fakeSender) last() interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.got) == 0 {
		return nil
	}
	return f.got[len(f.got)-1]
}

func newTestDispatcher(t *testing.T) (*Dispatcher, func()) {
	t.Helper()
	st := state.New(state.Options{NumShards: 4})
	subs := subscription.NewIndex()
	sessions := session.NewManager(100, zerolog.Nop())
	d := New(Options{
		NumShards:   4,
		Store:       st,
		Subs:        subs,
		Sessions:    sessions,
		Persistence: hooks.NoopPersistence{},
		Authorizer:  hooks.AllowAllAuthorizer{},
		Logger:      zerolog.Nop(),
	})
	return d, func() { d.Close(); st.Close() }
}

func activeSession(t *testing.T, name string) *session.Session {
	t.Helper()
	sess := session.New(zerolog.Nop())
	if err := sess.CompleteHandshake(name, auth.NewScopeSet([]string{"admin"})); err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestDispatchSetGetRoundTrip(t *testing.T) {
	d, cleanup := newTestDispatcher(t)
	defer cleanup()

	sess := activeSession(t, "writer-1")
	out := &fakeSender{}

	d.Dispatch(sess, out, &frame.Set{Type: frame.TypeSet, Address: "/a/b", Value: value.OfInt(42), QoS: frame.QoSConfirm})
	ack, ok := out.last().(*frame.Ack)
	if !ok || ack.Revision != 1 {
		t.Fatalf("expected ACK with revision 1, got %+v", out.last())
	}

	d.Dispatch(sess, out, &frame.Get{Type: frame.TypeGet, Address: "/a/b"})
	vm, ok := out.last().(*frame.ValueMsg)
	if !ok {
		t.Fatalf("expected ValueMsg, got %+v", out.last())
	}
	got, _ := vm.Value.AsInt()
	if got != 42 {
		t.Errorf("expected 42, got %v", got)
	}
}

func TestDispatchSubscribeReceivesUpdate(t *testing.T) {
	d, cleanup := newTestDispatcher(t)
	defer cleanup()

	subscriber := activeSession(t, "subscriber-1")
	subOut := &fakeSender{}
	d.RegisterOutbox(subscriber.ID, subOut)
	defer d.UnregisterOutbox(subscriber.ID)

	d.Dispatch(subscriber, subOut, &frame.Subscribe{Type: frame.TypeSubscribe, ID: "sub-1", Pattern: "/lights/*/brightness"})

	writer := activeSession(t, "writer-1")
	writerOut := &fakeSender{}
	d.Dispatch(writer, writerOut, &frame.Set{Type: frame.TypeSet, Address: "/lights/room1/brightness", Value: value.OfFloat(0.5), QoS: frame.QoSFire})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if vm, ok := subOut.last().(*frame.ValueMsg); ok {
			f, _ := vm.Value.Float64()
			if f == 0.5 {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber never received the published value, got %+v", subOut.got)
}

func TestDispatchRevisionConflictReturnsError(t *testing.T) {
	d, cleanup := newTestDispatcher(t)
	defer cleanup()

	sess := activeSession(t, "writer-1")
	out := &fakeSender{}

	d.Dispatch(sess, out, &frame.Set{Type: frame.TypeSet, Address: "/a", Value: value.OfInt(1), QoS: frame.QoSConfirm})

	stale := uint64(99)
	d.Dispatch(sess, out, &frame.Set{Type: frame.TypeSet, Address: "/a", Value: value.OfInt(2), RevisionPrecondition: &stale})

	errMsg, ok := out.last().(*frame.ErrorMsg)
	if !ok || errMsg.Code != "RevisionConflict" {
		t.Fatalf("expected RevisionConflict error, got %+v", out.last())
	}
}

func TestDispatchLockContention(t *testing.T) {
	d, cleanup := newTestDispatcher(t)
	defer cleanup()

	a := activeSession(t, "a")
	b := activeSession(t, "b")
	outA, outB := &fakeSender{}, &fakeSender{}

	d.Dispatch(a, outA, &frame.Set{Type: frame.TypeSet, Address: "/locked", Value: value.OfInt(1), Lock: true, QoS: frame.QoSConfirm})
	d.Dispatch(b, outB, &frame.Set{Type: frame.TypeSet, Address: "/locked", Value: value.OfInt(2), QoS: frame.QoSConfirm})

	errMsg, ok := outB.last().(*frame.ErrorMsg)
	if !ok || errMsg.Code != "LockHeld" {
		t.Fatalf("expected LockHeld for session b, got %+v", outB.last())
	}

	d.Dispatch(a, outA, &frame.Set{Type: frame.TypeSet, Address: "/locked", Value: value.OfInt(3), QoS: frame.QoSConfirm})
	ack, ok := outA.last().(*frame.Ack)
	if !ok || ack.Revision != 2 {
		t.Fatalf("expected lock owner's second write to succeed with revision 2, got %+v", outA.last())
	}
}

func TestDispatchSubscribeSendsSnapshotOfLiveAddresses(t *testing.T) {
	d, cleanup := newTestDispatcher(t)
	defer cleanup()

	writer := activeSession(t, "writer-1")
	writerOut := &fakeSender{}
	d.Dispatch(writer, writerOut, &frame.Set{Type: frame.TypeSet, Address: "/lights/room1/brightness", Value: value.OfFloat(0.75), QoS: frame.QoSConfirm})

	subscriber := activeSession(t, "subscriber-1")
	subOut := &fakeSender{}
	d.Dispatch(subscriber, subOut, &frame.Subscribe{Type: frame.TypeSubscribe, ID: "sub-1", Pattern: "/lights/*/brightness"})

	subOut.mu.Lock()
	defer subOut.mu.Unlock()
	if len(subOut.got) < 2 {
		t.Fatalf("expected a SNAPSHOT followed by an ACK, got %+v", subOut.got)
	}
	snap, ok := subOut.got[0].(*frame.Snapshot)
	if !ok {
		t.Fatalf("expected first reply to SUBSCRIBE to be a SNAPSHOT, got %+v", subOut.got[0])
	}
	if len(snap.Params) != 1 || snap.Params[0].Address != "/lights/room1/brightness" {
		t.Fatalf("expected snapshot to contain the already-live address, got %+v", snap.Params)
	}
	f, _ := snap.Params[0].Value.Float64()
	if f != 0.75 {
		t.Errorf("expected snapshot value 0.75, got %v", f)
	}
	if _, ok := subOut.got[1].(*frame.Ack); !ok {
		t.Fatalf("expected SNAPSHOT to be followed by an ACK, got %+v", subOut.got[1])
	}
}

func TestDispatchSync(t *testing.T) {
	d, cleanup := newTestDispatcher(t)
	defer cleanup()

	sess := activeSession(t, "client-1")
	out := &fakeSender{}

	d.Dispatch(sess, out, &frame.Sync{Type: frame.TypeSync, T1: 1000})

	reply, ok := out.last().(*frame.Sync)
	if !ok {
		t.Fatalf("expected a SYNC reply, got %+v", out.last())
	}
	if reply.T1 != 1000 {
		t.Errorf("expected echoed T1 1000, got %d", reply.T1)
	}
	if reply.T2 == 0 || reply.T3 == 0 {
		t.Errorf("expected T2/T3 to be stamped, got %+v", reply)
	}
}

func TestDispatchBundleRejectsUnauthorizedInnerMessage(t *testing.T) {
	st := state.New(state.Options{NumShards: 4})
	defer st.Close()
	subs := subscription.NewIndex()
	sessions := session.NewManager(100, zerolog.Nop())
	d := New(Options{
		NumShards:   4,
		Store:       st,
		Subs:        subs,
		Sessions:    sessions,
		Persistence: hooks.NoopPersistence{},
		Authorizer:  denyAddressAuthorizer{denied: "/forbidden"},
		Logger:      zerolog.Nop(),
	})
	defer d.Close()

	sess := activeSession(t, "writer-1")
	out := &fakeSender{}

	d.Dispatch(sess, out, &frame.Bundle{
		Type: frame.TypeBundle,
		Messages: []interface{}{
			&frame.Set{Type: frame.TypeSet, Address: "/ok", Value: value.OfInt(1)},
			&frame.Set{Type: frame.TypeSet, Address: "/forbidden", Value: value.OfInt(2)},
		},
	})

	errMsg, ok := out.last().(*frame.ErrorMsg)
	if !ok || errMsg.Code != "PermissionDenied" {
		t.Fatalf("expected PermissionDenied, got %+v", out.last())
	}
	if _, exists := st.Get("/ok", time.Now().UnixMicro()); exists {
		t.Error("expected the authorized inner SET to never have been applied once the bundle was rejected")
	}
}

func TestDispatchBundleAbortsAllOnInnerPreconditionFailure(t *testing.T) {
	d, cleanup := newTestDispatcher(t)
	defer cleanup()

	sess := activeSession(t, "writer-1")
	out := &fakeSender{}

	stale := uint64(99)
	d.Dispatch(sess, out, &frame.Bundle{
		Type: frame.TypeBundle,
		Messages: []interface{}{
			&frame.Set{Type: frame.TypeSet, Address: "/a", Value: value.OfInt(1)},
			&frame.Set{Type: frame.TypeSet, Address: "/b", Value: value.OfInt(2), RevisionPrecondition: &stale},
		},
	})

	if _, ok := d.opts.Store.Get("/a", time.Now().UnixMicro()); ok {
		t.Error("expected /a to remain unset since its sibling inner SET failed its revision precondition")
	}
}

// denyAddressAuthorizer grants everything except writes/subscribes to one
// specific address, for exercising bundle-level authorization rejection.
type denyAddressAuthorizer struct {
	denied string
}

func (denyAddressAuthorizer) OnHello(string) (auth.ScopeSet, error) {
	return auth.NewScopeSet([]string{"admin"}), nil
}

func (a denyAddressAuthorizer) CheckWrite(_ auth.ScopeSet, address string) bool {
	return address != a.denied
}

func (a denyAddressAuthorizer) CheckSubscribe(_ auth.ScopeSet, pattern string) bool {
	return pattern != a.denied
}
