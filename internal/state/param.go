// Package state implements the State Store: the sharded map from
// Address to ParamState, with revision tracking, conflict strategies,
// TTL expiry and capacity eviction (spec.md §4.5).
package state

import "github.com/lumencanvas/clasp-sub002/internal/value"

// Strategy is the conflict-resolution policy applied when a SET targets
// an address already holding a value (spec.md §3 ParamState, §9 "Merge
// strategy" open question — resolved to LWW-with-notification).
type Strategy string

const (
	StrategyLWW   Strategy = "lww"
	StrategyMax   Strategy = "max"
	StrategyMin   Strategy = "min"
	StrategyLock  Strategy = "lock"
	StrategyMerge Strategy = "merge" // implemented as LWW-with-notification, see SPEC_FULL.md §9
)

// ParamState is the full record the State Store holds per address
// (spec.md §3).
type ParamState struct {
	Value        value.Value
	Revision     uint64
	Writer       string
	Timestamp    int64 // unix micros, set by the router on acceptance
	LastAccessed int64 // unix micros, updated on GET and on SET
	Strategy     Strategy
	LockHolder   string // session name holding the write lock, "" if unlocked
	Meta         map[string]value.Value
	Origin       string // session name or hook name that produced this value
}

func (p *ParamState) clone() *ParamState {
	cp := *p
	if p.Meta != nil {
		cp.Meta = make(map[string]value.Value, len(p.Meta))
		for k, v := range p.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}

// entry is the mutable slot a shard owns. Access to the *ParamState
// pointer itself always goes through the shard's mutex; readers that
// need a stable snapshot call Store.Get, which returns a cloned copy.
type entry struct {
	state *ParamState
}

// SetRequest describes an incoming SET after authorization has already
// been checked (spec.md §4.4).
type SetRequest struct {
	Address              string
	Value                value.Value
	Writer               string
	Now                  int64
	RevisionPrecondition *uint64
	Strategy             Strategy
	Lock                 bool
	Unlock               bool
	Origin               string
}

// SetResult is what the dispatcher needs after a successful SET: the
// resulting state (to notify subscribers and persistence) and whether
// the value actually changed (false when a Max/Min write loses to the
// stored value or a write repeats it; Merge always reports a change).
type SetResult struct {
	State   ParamState
	Changed bool
}
