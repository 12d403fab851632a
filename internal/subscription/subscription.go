// Package subscription implements the Subscription Index: registering
// SUBSCRIBE patterns, matching an address against every live pattern on
// PUBLISH/SET fan-out, and throttling delivery per-subscription via
// epsilon coalescing and maxRate (spec.md §4.6).
package subscription

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/lumencanvas/clasp-sub002/internal/address"
	"github.com/lumencanvas/clasp-sub002/internal/value"
)

// Subscription is a single SUBSCRIBE registration (spec.md §3).
type Subscription struct {
	ID      string
	Session string
	Pattern string
	MaxRate float64 // messages/sec, 0 = unthrottled
	Epsilon float64 // minimum numeric delta to deliver, 0 = always deliver

	mu       sync.Mutex
	lastSent map[string]value.Value   // per-address last delivered value, for epsilon coalescing
	limiters map[string]*rate.Limiter // per-address token bucket, lazily created; nil map when MaxRate == 0
}

func newSubscription(id, session, pattern string, maxRate, epsilon float64) *Subscription {
	s := &Subscription{
		ID:       id,
		Session:  session,
		Pattern:  pattern,
		MaxRate:  maxRate,
		Epsilon:  epsilon,
		lastSent: make(map[string]value.Value),
	}
	if maxRate > 0 {
		s.limiters = make(map[string]*rate.Limiter)
	}
	return s
}

// ShouldDeliver applies epsilon coalescing and maxRate throttling for a
// candidate delivery of val to addr under this subscription. It is
// stateful: a decision to suppress a value does not prevent a later,
// sufficiently different value from being delivered (spec.md §8.4). A
// wildcard subscription spanning several addresses throttles each address
// independently: every address gets its own token bucket, carried in
// limiters keyed by addr, so one busy address cannot starve delivery for
// another under the same subscription (spec.md §4.6 "each subscription
// carries a per-address last-delivered-at timestamp"). A delivery the
// token bucket refuses is dropped; the value is not held back for a later
// window.
func (s *Subscription) ShouldDeliver(addr string, val value.Value) bool {
	s.mu.Lock()
	if s.Epsilon > 0 && val.IsNumeric() {
		if prev, ok := s.lastSent[addr]; ok && prev.IsNumeric() {
			pf, _ := prev.Float64()
			nf, _ := val.Float64()
			delta := nf - pf
			if delta < 0 {
				delta = -delta
			}
			if delta < s.Epsilon {
				s.mu.Unlock()
				return false
			}
		}
	}

	var limiter *rate.Limiter
	if s.limiters != nil {
		limiter = s.limiters[addr]
		if limiter == nil {
			// Burst of 1: maxRate coalesces to "at most N/sec", not "burst
			// N then silence" (spec.md §8.5).
			limiter = rate.NewLimiter(rate.Limit(s.MaxRate), 1)
			s.limiters[addr] = limiter
		}
	}
	s.mu.Unlock()

	if limiter != nil && !limiter.Allow() {
		return false
	}

	s.mu.Lock()
	s.lastSent[addr] = val
	s.mu.Unlock()
	return true
}

// node is one level of the pattern trie: exact-child segments and at
// most one wildcard ("*") child, plus the set of patterns ending exactly
// at this node and a separate set for "**" patterns rooted here.
type node struct {
	children map[string]*node
	star     *node
	subs     map[string]*Subscription // patterns terminating exactly at this node
	subsDS   map[string]*Subscription // patterns ending in "**" rooted at this node
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Index is the live Subscription Index: a single segment trie, guarded
// by an RWMutex, that holds exact and wildcard patterns alike (an exact
// address is a path of literal edges); there is no separate exact-address
// hash. It generalizes ws/internal/shared/connection.go's
// SubscriptionIndex (there: channel -> []*Client; here: pattern tree ->
// []*Subscription, because CLASP patterns are hierarchical rather than
// flat channel names).
type Index struct {
	mu   sync.RWMutex
	root *node

	byID map[string]*Subscription
}

func NewIndex() *Index {
	return &Index{root: newNode(), byID: make(map[string]*Subscription)}
}

// Add registers a new subscription and returns it.
func (idx *Index) Add(id, session, pattern string, maxRate, epsilon float64) *Subscription {
	sub := newSubscription(id, session, pattern, maxRate, epsilon)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.byID[id] = sub
	segs := address.Segments(pattern)
	n := idx.root
	for i, s := range segs {
		last := i == len(segs)-1
		if s == "**" {
			if n.subsDS == nil {
				n.subsDS = make(map[string]*Subscription)
			}
			n.subsDS[id] = sub
			return sub
		}
		var child *node
		if s == "*" {
			if n.star == nil {
				n.star = newNode()
			}
			child = n.star
		} else {
			c, ok := n.children[s]
			if !ok {
				c = newNode()
				n.children[s] = c
			}
			child = c
		}
		if last {
			if child.subs == nil {
				child.subs = make(map[string]*Subscription)
			}
			child.subs[id] = sub
		}
		n = child
	}
	return sub
}

// Remove unregisters a subscription by ID.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	sub, ok := idx.byID[id]
	if !ok {
		return
	}
	delete(idx.byID, id)
	idx.removeFromTrie(idx.root, address.Segments(sub.Pattern), id)
}

func (idx *Index) removeFromTrie(n *node, segs []string, id string) {
	if n == nil {
		return
	}
	if len(segs) == 0 {
		return
	}
	s := segs[0]
	if s == "**" {
		delete(n.subsDS, id)
		return
	}
	var child *node
	if s == "*" {
		child = n.star
	} else {
		child = n.children[s]
	}
	if child == nil {
		return
	}
	if len(segs) == 1 {
		delete(child.subs, id)
		return
	}
	idx.removeFromTrie(child, segs[1:], id)
}

// Get returns every live subscription whose pattern matches addr.
func (idx *Index) Get(addr string) []*Subscription {
	segs := address.Segments(addr)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []*Subscription
	idx.collect(idx.root, segs, &out)
	return out
}

func (idx *Index) collect(n *node, remaining []string, out *[]*Subscription) {
	if n == nil {
		return
	}
	for _, sub := range n.subsDS {
		*out = append(*out, sub)
	}
	if len(remaining) == 0 {
		for _, sub := range n.subs {
			*out = append(*out, sub)
		}
		return
	}
	seg := remaining[0]
	rest := remaining[1:]
	if child, ok := n.children[seg]; ok {
		idx.collect(child, rest, out)
	}
	if n.star != nil {
		idx.collect(n.star, rest, out)
	}
}

// Count returns the number of live subscriptions.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byID)
}

// ByID returns a subscription by ID.
func (idx *Index) ByID(id string) (*Subscription, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	sub, ok := idx.byID[id]
	return sub, ok
}
