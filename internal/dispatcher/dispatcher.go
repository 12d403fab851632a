// Package dispatcher implements the hot path: SET/GET/SUBSCRIBE/
// UNSUBSCRIBE/PUBLISH/BUNDLE handling (spec.md §4.4).
//
// Grounded directly on src/sharded/router.go + src/sharded/shard.go:
// hash(address)%numShards assignment and one goroutine per shard owning
// all mutation for its addresses. Fan-out to subscribers runs after the
// shard job has finished, so a slow subscriber never holds up a shard.
package dispatcher

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumencanvas/clasp-sub002/internal/address"
	"github.com/lumencanvas/clasp-sub002/internal/bundle"
	"github.com/lumencanvas/clasp-sub002/internal/clasperr"
	"github.com/lumencanvas/clasp-sub002/internal/clock"
	"github.com/lumencanvas/clasp-sub002/internal/frame"
	"github.com/lumencanvas/clasp-sub002/internal/hooks"
	"github.com/lumencanvas/clasp-sub002/internal/logging"
	"github.com/lumencanvas/clasp-sub002/internal/resource"
	"github.com/lumencanvas/clasp-sub002/internal/session"
	"github.com/lumencanvas/clasp-sub002/internal/state"
	"github.com/lumencanvas/clasp-sub002/internal/subscription"
	"github.com/lumencanvas/clasp-sub002/internal/value"
)

// Sender is how the dispatcher delivers outbound frames to a single
// session's connection; implemented by transport.Conn in production and
// a fake in tests to keep this package decoupled from the transport
// layer.
type Sender interface {
	Send(msg interface{}) error
}

type job struct {
	fn   func()
	done chan struct{}
}

// Options configures a Dispatcher.
type Options struct {
	NumShards       int
	Store           *state.Store
	Subs            *subscription.Index
	Sessions        *session.Manager
	Persistence     hooks.Persistence
	Authorizer      hooks.Authorizer
	Guard           *resource.Guard
	Logger          zerolog.Logger
	PersistRequired bool
}

// Dispatcher is the sharded hot path. Each of its shards owns a single
// goroutine that serializes every mutation touching the addresses hashed
// to it, so two concurrent SETs to the same address never race.
type Dispatcher struct {
	opts   Options
	logger zerolog.Logger

	shardChans []chan job
	bundles    *bundle.Scheduler

	outboxMu sync.RWMutex
	outbox   map[string]Sender // session ID -> its connection
}

func New(opts Options) *Dispatcher {
	n := opts.NumShards
	if n <= 0 {
		n = 32
	}
	d := &Dispatcher{
		opts:       opts,
		logger:     opts.Logger,
		shardChans: make([]chan job, n),
		bundles:    bundle.NewScheduler(opts.Logger),
		outbox:     make(map[string]Sender),
	}
	for i := range d.shardChans {
		ch := make(chan job, 4096)
		d.shardChans[i] = ch
		go d.runShard(ch)
	}
	return d
}

// RegisterOutbox associates sessionID with the Sender that delivers to
// its connection. The transport/session wiring calls this once a
// session completes its handshake, and UnregisterOutbox when it closes.
func (d *Dispatcher) RegisterOutbox(sessionID string, out Sender) {
	d.outboxMu.Lock()
	d.outbox[sessionID] = out
	d.outboxMu.Unlock()
}

func (d *Dispatcher) UnregisterOutbox(sessionID string) {
	d.outboxMu.Lock()
	delete(d.outbox, sessionID)
	d.outboxMu.Unlock()
}

func (d *Dispatcher) lookupOutbox(sessionID string) (Sender, bool) {
	d.outboxMu.RLock()
	defer d.outboxMu.RUnlock()
	s, ok := d.outbox[sessionID]
	return s, ok
}

func (d *Dispatcher) runShard(ch chan job) {
	defer logging.RecoverPanic(d.logger, "dispatcher.shard", nil)
	for j := range ch {
		j.fn()
		close(j.done)
	}
}

func (d *Dispatcher) shardIndex(addr string) int {
	h := fnv.New32a()
	h.Write([]byte(addr))
	return int(h.Sum32() % uint32(len(d.shardChans)))
}

// runOnShard executes fn synchronously on the owning shard goroutine for
// addr, serializing it against every other mutation to that address.
func (d *Dispatcher) runOnShard(addr string, fn func()) {
	j := job{fn: fn, done: make(chan struct{})}
	d.shardChans[d.shardIndex(addr)] <- j
	<-j.done
}

// Dispatch handles one decoded client frame for sess, sending any
// response via out. It is safe to call concurrently across sessions and
// addresses.
func (d *Dispatcher) Dispatch(sess *session.Session, out Sender, msg interface{}) {
	var err error
	switch m := msg.(type) {
	case *frame.Set:
		err = d.handleSet(sess, out, m)
	case *frame.Get:
		err = d.handleGet(sess, out, m)
	case *frame.Subscribe:
		err = d.handleSubscribe(sess, out, m)
	case *frame.Unsubscribe:
		err = d.handleUnsubscribe(sess, out, m)
	case *frame.Publish:
		err = d.handlePublish(sess, out, m)
	case *frame.Bundle:
		err = d.handleBundle(sess, out, m)
	case *frame.Sync:
		err = d.handleSync(out, m)
	case *frame.Ping:
		err = out.Send(&frame.Pong{Type: frame.TypePong})
	default:
		err = clasperr.New(clasperr.MalformedFrame, "unexpected message type on dispatcher hot path")
	}

	if err != nil {
		d.sendError(out, err)
	}
}

func (d *Dispatcher) sendError(out Sender, err error) {
	cerr, ok := err.(*clasperr.Error)
	if !ok {
		cerr = clasperr.New(clasperr.Unavailable, err.Error())
	}
	out.Send(&frame.ErrorMsg{Type: frame.TypeError, Code: string(cerr.Kind), Message: cerr.Message, Address: cerr.Address})
}

func (d *Dispatcher) handleSet(sess *session.Session, out Sender, m *frame.Set) error {
	switch sess.State() {
	case session.StateActive:
	case session.StateDraining:
		return clasperr.NewAddr(clasperr.Unavailable, "router draining, write rejected", m.Address)
	default:
		return clasperr.New(clasperr.InvalidHandshake, "SET received before HELLO completed")
	}
	if !d.opts.Authorizer.CheckWrite(sess.Scopes, m.Address) {
		return clasperr.NewAddr(clasperr.PermissionDenied, "write not permitted", m.Address)
	}
	if d.opts.Guard != nil && d.opts.Guard.ShouldRejectWrite() {
		return clasperr.NewAddr(clasperr.Unavailable, "router under sustained load, write rejected", m.Address)
	}
	if d.opts.PersistRequired && d.opts.Persistence != nil && !d.opts.Persistence.Healthy() {
		return clasperr.NewAddr(clasperr.Unavailable, "persistence required but unavailable", m.Address)
	}

	var result *state.SetResult
	var setErr error
	d.runOnShard(m.Address, func() {
		result, setErr = d.opts.Store.Set(state.SetRequest{
			Address:              m.Address,
			Value:                m.Value,
			Writer:               sess.Name,
			Now:                  time.Now().UnixMicro(),
			RevisionPrecondition: m.RevisionPrecondition,
			Strategy:             state.Strategy(m.Strategy),
			Lock:                 m.Lock,
			Unlock:               m.Unlock,
			Origin:               sess.Name,
		})
	})
	if setErr != nil {
		return setErr
	}

	if m.Lock {
		sess.TrackLock(m.Address)
	}
	if m.Unlock {
		sess.ReleaseLock(m.Address)
	}

	if d.opts.Persistence != nil {
		payload, _ := frame.EncodePayload(&frame.ValueMsg{Type: frame.TypeValue, Address: m.Address, Value: result.State.Value, Revision: result.State.Revision})
		d.opts.Persistence.Publish(hooks.WriteRecord{
			Address:      m.Address,
			Revision:     result.State.Revision,
			Writer:       result.State.Writer,
			Timestamp:    result.State.Timestamp,
			ValueMsgpack: payload,
		})
	}

	if result.Changed {
		d.notifyValue(m.Address, result.State.Value, result.State.Revision)
	}

	if m.QoS != frame.QoSFire {
		return out.Send(&frame.Ack{Type: frame.TypeAck, Address: m.Address, Revision: result.State.Revision})
	}
	return nil
}

func (d *Dispatcher) handleGet(sess *session.Session, out Sender, m *frame.Get) error {
	if !d.opts.Authorizer.CheckSubscribe(sess.Scopes, m.Address) {
		return clasperr.NewAddr(clasperr.PermissionDenied, "read not permitted", m.Address)
	}
	st, ok := d.opts.Store.Get(m.Address, time.Now().UnixMicro())
	if !ok {
		return clasperr.NewAddr(clasperr.NotFound, "no value set for address", m.Address)
	}
	return out.Send(&frame.ValueMsg{Type: frame.TypeValue, Address: m.Address, Value: st.Value, Revision: st.Revision})
}

func (d *Dispatcher) handleSubscribe(sess *session.Session, out Sender, m *frame.Subscribe) error {
	norm, err := address.NormalizePattern(m.Pattern)
	if err != nil {
		return clasperr.NewAddr(clasperr.InvalidPattern, err.Error(), m.Pattern)
	}
	if !d.opts.Authorizer.CheckSubscribe(sess.Scopes, norm) {
		return clasperr.NewAddr(clasperr.PermissionDenied, "subscribe not permitted", norm)
	}
	d.opts.Subs.Add(m.ID, sess.ID, norm, m.MaxRate, m.Epsilon)
	sess.TrackSubscription(m.ID)

	// New subscribers must not wait for the next write to learn the
	// current state of every address they matched (spec.md §4.4 step 3,
	// §1 "streams late-joiner snapshots to new subscribers"). Range is a
	// cold-path full shard scan, acceptable here since SUBSCRIBE is not
	// the SET/PUBLISH hot path.
	var entries []frame.SnapshotEntry
	d.opts.Store.Range(norm, func(addr string, st state.ParamState) bool {
		entries = append(entries, frame.SnapshotEntry{
			Address:   addr,
			Value:     st.Value,
			Revision:  st.Revision,
			Writer:    st.Writer,
			Timestamp: st.Timestamp,
		})
		return true
	})
	if err := out.Send(&frame.Snapshot{Type: frame.TypeSnapshot, Params: entries}); err != nil {
		return err
	}
	return out.Send(&frame.Ack{Type: frame.TypeAck, Address: norm})
}

// handleSync answers a SYNC clock-offset probe (spec.md §4.4): t2/t3 are
// stamped on receipt/reply, letting the client compute its offset and
// round-trip time from the four timestamps via clock.Offset.
func (d *Dispatcher) handleSync(out Sender, m *frame.Sync) error {
	t2, t3 := clock.Reply(m.T1)
	return out.Send(&frame.Sync{Type: frame.TypeSync, T1: m.T1, T2: t2, T3: t3})
}

func (d *Dispatcher) handleUnsubscribe(sess *session.Session, out Sender, m *frame.Unsubscribe) error {
	d.opts.Subs.Remove(m.ID)
	sess.UntrackSubscription(m.ID)
	return out.Send(&frame.Ack{Type: frame.TypeAck})
}

func (d *Dispatcher) handlePublish(sess *session.Session, out Sender, m *frame.Publish) error {
	if !d.opts.Authorizer.CheckWrite(sess.Scopes, m.Address) {
		return clasperr.NewAddr(clasperr.PermissionDenied, "publish not permitted", m.Address)
	}
	if d.opts.Guard != nil && d.opts.Guard.ShouldRejectWrite() {
		return clasperr.NewAddr(clasperr.Unavailable, "router under sustained load, publish rejected", m.Address)
	}

	d.notifyPublish(m)

	if m.QoS != frame.QoSFire {
		return out.Send(&frame.Ack{Type: frame.TypeAck, Address: m.Address})
	}
	return nil
}

func (d *Dispatcher) handleBundle(sess *session.Session, out Sender, m *frame.Bundle) error {
	// A bundle is accepted iff every inner message individually authorizes
	// (spec.md §4.4 "[BUNDLE] Accepted iff all inner messages individually
	// authorize"); check this before scheduling or ACKing, not after, so
	// an unauthorized inner message can never reach notifyPublish/
	// Store.Set by riding along inside an otherwise-ordinary bundle.
	for _, inner := range m.Messages {
		switch im := inner.(type) {
		case *frame.Set:
			if !d.opts.Authorizer.CheckWrite(sess.Scopes, im.Address) {
				return clasperr.NewAddr(clasperr.PermissionDenied, "bundle contains an unauthorized SET", im.Address)
			}
		case *frame.Publish:
			if !d.opts.Authorizer.CheckWrite(sess.Scopes, im.Address) {
				return clasperr.NewAddr(clasperr.PermissionDenied, "bundle contains an unauthorized PUBLISH", im.Address)
			}
		}
	}

	var scheduled time.Time
	if m.ScheduledTime > 0 {
		scheduled = time.UnixMicro(m.ScheduledTime)
	}

	id := sess.ID + ":" + time.Now().Format(time.RFC3339Nano)
	d.bundles.Schedule(id, sess.ID, scheduled, func() {
		d.applyBundle(sess, id, m)
	})
	return out.Send(&frame.Ack{Type: frame.TypeAck})
}

// applyBundle runs every inner message of m, all-or-nothing (spec.md §8:
// "either every inner message's effect is visible to every subscriber, or
// none is"). It validates every inner SET's lock/revision precondition
// against the store before committing any of them, so a precondition
// failure discovered on the Nth message aborts the whole bundle instead of
// leaving messages 1..N-1 applied and N..last silently dropped.
func (d *Dispatcher) applyBundle(sess *session.Session, id string, m *frame.Bundle) {
	if d.opts.Guard != nil && d.opts.Guard.ShouldRejectWrite() {
		d.logger.Warn().Str("bundle", id).Msg("bundle aborted: router under sustained load")
		return
	}
	if d.opts.PersistRequired && d.opts.Persistence != nil && !d.opts.Persistence.Healthy() {
		d.logger.Warn().Str("bundle", id).Msg("bundle aborted: persistence required but unavailable")
		return
	}

	for _, inner := range m.Messages {
		im, ok := inner.(*frame.Set)
		if !ok {
			continue
		}
		if err := d.validateBundleSet(sess.Name, im); err != nil {
			d.logger.Warn().Err(err).Str("bundle", id).Str("address", im.Address).Msg("bundle aborted: inner SET failed precondition")
			return
		}
	}

	// Applied atomically with respect to per-address shard ownership:
	// every inner SET still runs through runOnShard, so a concurrent
	// direct SET to the same address cannot interleave with this
	// bundle's mutation of it (spec.md §8.3).
	for _, inner := range m.Messages {
		switch im := inner.(type) {
		case *frame.Set:
			if err := d.handleSet(sess, noopSender{}, im); err != nil {
				d.logger.Warn().Err(err).Str("bundle", id).Str("address", im.Address).Msg("bundle inner SET failed after precondition check")
			}
		case *frame.Publish:
			d.notifyPublish(im)
		}
	}
}

// validateBundleSet re-checks the lock/revision preconditions Store.Set
// itself enforces, without mutating anything, so applyBundle can decide
// whether the whole bundle is committable before any inner SET lands.
func (d *Dispatcher) validateBundleSet(writer string, im *frame.Set) error {
	st, exists := d.opts.Store.Get(im.Address, time.Now().UnixMicro())
	if exists && st.LockHolder != "" && st.LockHolder != writer && !im.Unlock {
		return clasperr.NewAddr(clasperr.LockHeld, "address is locked by another writer", im.Address)
	}
	if im.RevisionPrecondition != nil {
		var current uint64
		if exists {
			current = st.Revision
		}
		if current != *im.RevisionPrecondition {
			return clasperr.NewAddr(clasperr.RevisionConflict, "revision precondition mismatch", im.Address)
		}
	}
	return nil
}

// notifyValue fans a SET-driven value change out to every matching
// subscription. It runs on the writer's goroutine after the shard job,
// and each delivery is a direct Send on the subscriber's Sender: there
// is no per-subscriber outbound queue, so the writer waits for each send
// in turn and a slow subscriber delays delivery to the ones after it.
// Per-subscription epsilon coalescing and maxRate throttling are applied
// before sending.
func (d *Dispatcher) notifyValue(addr string, val value.Value, revision uint64) {
	subs := d.opts.Subs.Get(addr)
	for _, sub := range subs {
		if !sub.ShouldDeliver(addr, val) {
			continue
		}
		out, ok := d.lookupOutbox(sub.Session)
		if !ok {
			continue
		}
		out.Send(&frame.ValueMsg{Type: frame.TypeValue, Address: addr, Value: val, Revision: revision})
	}
}

func (d *Dispatcher) notifyPublish(m *frame.Publish) {
	subs := d.opts.Subs.Get(m.Address)
	for _, sub := range subs {
		if !sub.ShouldDeliver(m.Address, m.Payload) {
			continue
		}
		out, ok := d.lookupOutbox(sub.Session)
		if !ok {
			continue
		}
		out.Send(&frame.Publish{
			Type:      frame.TypePublish,
			Address:   m.Address,
			Signal:    m.Signal,
			Payload:   m.Payload,
			Timestamp: m.Timestamp,
			Phase:     m.Phase,
			GestureID: m.GestureID,
			Keyframes: m.Keyframes,
			Loop:      m.Loop,
			StartTime: m.StartTime,
		})
	}
}

// ReleaseLock force-clears any write lock held on addr by writer,
// routed through the owning shard like any other mutation. Used when a
// session holding a lock disconnects without sending an explicit
// unlock (spec.md §4.2, session close).
func (d *Dispatcher) ReleaseLock(addr, writer string) {
	d.runOnShard(addr, func() {
		current, ok := d.opts.Store.Get(addr, time.Now().UnixMicro())
		if !ok {
			return
		}
		d.opts.Store.Set(state.SetRequest{
			Address:  addr,
			Value:    current.Value,
			Writer:   writer,
			Now:      time.Now().UnixMicro(),
			Strategy: current.Strategy,
			Unlock:   true,
			Origin:   writer,
		})
	})
}

// Cleanup releases every resource a session held on disconnect: its
// outbox registration, its live subscriptions, and any write locks.
func (d *Dispatcher) Cleanup(sess *session.Session) {
	d.UnregisterOutbox(sess.ID)
	for _, id := range sess.Subscriptions() {
		d.opts.Subs.Remove(id)
	}
	for _, addr := range sess.Close() {
		d.ReleaseLock(addr, sess.Name)
	}
}

// Close stops the bundle scheduler and every shard goroutine.
func (d *Dispatcher) Close() {
	d.bundles.Close()
	for _, ch := range d.shardChans {
		close(ch)
	}
}

type noopSender struct{}

func (noopSender) Send(interface{}) error { return nil }
