// Package bundle implements BUNDLE scheduling: a set of SET/PUBLISH
// messages applied atomically, either immediately or at a scheduled
// future time (spec.md §3 Bundle, §8.3).
//
// The single-consumer-goroutine-owns-the-queue shape is grounded on
// src/sharded/router.go's one-goroutine-per-shard pattern, narrowed here
// to one goroutine owning a single container/heap priority queue instead
// of one goroutine per address shard.
package bundle

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumencanvas/clasp-sub002/internal/logging"
)

// Bundle is a scheduled batch of messages. Apply is called exactly once,
// atomically with respect to any other bundle or direct SET touching the
// same addresses, when the bundle's ScheduledTime arrives (or
// immediately if ScheduledTime is zero).
type Bundle struct {
	ID            string
	Session       string
	ScheduledTime time.Time
	Apply         func()

	cancelled bool
	index     int // heap index, managed by container/heap
}

// pq is a min-heap of *Bundle ordered by ScheduledTime.
type pq []*Bundle

func (q pq) Len() int            { return len(q) }
func (q pq) Less(i, j int) bool  { return q[i].ScheduledTime.Before(q[j].ScheduledTime) }
func (q pq) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *pq) Push(x interface{}) {
	b := x.(*Bundle)
	b.index = len(*q)
	*q = append(*q, b)
}
func (q *pq) Pop() interface{} {
	old := *q
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.index = -1
	*q = old[:n-1]
	return b
}

// Scheduler owns the priority queue and the single consumer goroutine
// that fires due bundles.
type Scheduler struct {
	mu      sync.Mutex
	queue   pq
	byID    map[string]*Bundle
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	logger  zerolog.Logger
}

func NewScheduler(logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		byID:   make(map[string]*Bundle),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	heap.Init(&s.queue)
	go s.run()
	return s
}

// Schedule enqueues a bundle. If scheduledTime is zero or already in the
// past, apply runs synchronously and immediately (spec.md §3: "an
// immediate bundle is just a degenerate scheduled bundle with
// ScheduledTime == now").
func (s *Scheduler) Schedule(id, session string, scheduledTime time.Time, apply func()) {
	if scheduledTime.IsZero() || !scheduledTime.After(time.Now()) {
		apply()
		return
	}

	b := &Bundle{ID: id, Session: session, ScheduledTime: scheduledTime, Apply: apply}

	s.mu.Lock()
	s.byID[id] = b
	heap.Push(&s.queue, b)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel marks a scheduled bundle as cancelled. Cancellation is
// idempotent: cancelling an already-fired or already-cancelled bundle is
// a no-op (spec.md §8.3 "cancellation is idempotent").
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return false
	}
	b.cancelled = true
	delete(s.byID, id)
	return true
}

func (s *Scheduler) run() {
	defer close(s.done)
	defer logging.RecoverPanic(s.logger, "bundle.scheduler", nil)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var next time.Duration
		if len(s.queue) == 0 {
			next = time.Hour
		} else {
			next = time.Until(s.queue[0].ScheduledTime)
			if next < 0 {
				next = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)

		select {
		case <-s.stop:
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireDue()
		}
	}
}

func (s *Scheduler) fireDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].ScheduledTime.After(now) {
			s.mu.Unlock()
			return
		}
		b := heap.Pop(&s.queue).(*Bundle)
		delete(s.byID, b.ID)
		s.mu.Unlock()

		if !b.cancelled {
			b.Apply()
		}
	}
}

func (s *Scheduler) Close() {
	close(s.stop)
	<-s.done
}
