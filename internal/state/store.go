package state

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumencanvas/clasp-sub002/internal/address"
	"github.com/lumencanvas/clasp-sub002/internal/clasperr"
	"github.com/lumencanvas/clasp-sub002/internal/logging"
)

// EvictionPolicy names the capacity-eviction strategy applied when
// MaxParams is reached and a SET would create a new address (spec.md
// §4.5).
type EvictionPolicy string

const (
	EvictLRU       EvictionPolicy = "lru"
	EvictOldest    EvictionPolicy = "oldest"
	EvictRejectNew EvictionPolicy = "reject_new"
)

// Options configures a Store.
type Options struct {
	NumShards      int
	MaxParams      int
	Eviction       EvictionPolicy
	ParamTTL       time.Duration // 0 = no TTL
	SweepInterval  time.Duration
	Logger         zerolog.Logger
	// OnEvict, if non-nil, is invoked (outside the shard lock) whenever an
	// entry is removed by TTL expiry or capacity eviction. Nothing in the
	// router sets it, so eviction sends no notification to subscribers.
	OnEvict func(addr string, last ParamState)
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Store is the sharded State Store (spec.md §4.5). Each address hashes
// to exactly one shard; all mutation of a given address's ParamState
// happens under that shard's lock, mirroring the teacher's per-shard
// single-owner design in src/sharded/shard.go, generalized from a
// channel-broadcast shard to an address-keyed value store.
type Store struct {
	shards  []*shard
	opts    Options
	logger  zerolog.Logger

	// evictedHighWater preserves the last-seen revision of an address
	// whose ParamState was evicted (by TTL or capacity), so a later SET
	// to the same address continues the revision sequence instead of
	// resetting to 1 (spec.md §9 "Revision counter across eviction").
	hwMu             sync.Mutex
	evictedHighWater map[string]uint64

	stopSweep chan struct{}
	sweepDone chan struct{}

	// count tracks the total number of live entries across all shards.
	// Kept as a separate atomic counter (rather than summed on demand)
	// because admitNewLocked runs with the target shard's lock already
	// held, and summing per-shard lengths would re-lock that same shard.
	count atomic.Int64
}

func New(opts Options) *Store {
	n := opts.NumShards
	if n <= 0 {
		n = 32
	}
	s := &Store{
		shards:           make([]*shard, n),
		opts:             opts,
		logger:           opts.Logger,
		evictedHighWater: make(map[string]uint64),
		stopSweep:        make(chan struct{}),
		sweepDone:        make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	if opts.ParamTTL > 0 {
		go s.sweepLoop()
	} else {
		close(s.sweepDone)
	}
	return s
}

func (s *Store) shardFor(addr string) *shard {
	h := fnv.New32a()
	h.Write([]byte(addr))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *Store) totalCount() int {
	return int(s.count.Load())
}

// Get returns a snapshot of the ParamState at addr, updating its
// LastAccessed timestamp for LRU purposes.
func (s *Store) Get(addr string, now int64) (ParamState, bool) {
	sh := s.shardFor(addr)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[addr]
	if !ok {
		return ParamState{}, false
	}
	e.state.LastAccessed = now
	return *e.state.clone(), true
}

// Range calls fn for every address matching pattern. fn receives a
// cloned snapshot; returning false from fn stops iteration early. This
// is a full shard scan rather than a dedicated trie index — acceptable
// because SNAPSHOT/QUERY are cold-path, operator/tooling-facing
// operations, not the SET/GET/PUBLISH hot path (see DESIGN.md).
func (s *Store) Range(pattern string, fn func(addr string, st ParamState) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		matched := make([]string, 0, len(sh.entries))
		for addr := range sh.entries {
			if address.Match(pattern, addr) {
				matched = append(matched, addr)
			}
		}
		snaps := make([]ParamState, len(matched))
		for i, addr := range matched {
			snaps[i] = *sh.entries[addr].state.clone()
		}
		sh.mu.RUnlock()

		for i, addr := range matched {
			if !fn(addr, snaps[i]) {
				return
			}
		}
	}
}

// Set applies req to the store, returning the resulting state and
// whether it produced an observable change. It enforces revision
// preconditions, lock ownership, and capacity eviction.
func (s *Store) Set(req SetRequest) (*SetResult, error) {
	sh := s.shardFor(req.Address)
	sh.mu.Lock()

	e, exists := sh.entries[req.Address]
	if !exists {
		if err := s.admitNewLocked(sh); err != nil {
			sh.mu.Unlock()
			return nil, err
		}
	}

	if exists && e.state.LockHolder != "" && e.state.LockHolder != req.Writer && !req.Unlock {
		sh.mu.Unlock()
		return nil, clasperr.NewAddr(clasperr.LockHeld, "address is locked by another writer", req.Address)
	}

	if req.RevisionPrecondition != nil {
		var current uint64
		if exists {
			current = e.state.Revision
		}
		if current != *req.RevisionPrecondition {
			sh.mu.Unlock()
			return nil, clasperr.NewAddr(clasperr.RevisionConflict, "revision precondition mismatch", req.Address)
		}
	}

	var prev *ParamState
	if exists {
		prev = e.state
	}

	newVal, changed := applyStrategy(prev, req)

	// A strategy that rejects the incoming value (Max/Min losing to the
	// stored value, or an LWW write repeating the current value) leaves
	// the record untouched: no revision bump, no Writer/Timestamp churn
	// (spec.md §8 "revision does not advance" for a rejected Max/Min
	// write). Lock/Unlock requests still need to reach the normal path
	// below even when the value itself didn't change.
	if exists && !changed && !req.Lock && !req.Unlock {
		sh.mu.Unlock()
		return &SetResult{State: *prev.clone(), Changed: false}, nil
	}

	rev := s.nextRevisionLocked(req.Address, prev)
	lockHolder := ""
	if req.Lock {
		lockHolder = req.Writer
	} else if exists && !req.Unlock {
		lockHolder = e.state.LockHolder
	}

	strategy := req.Strategy
	if strategy == "" {
		if exists {
			strategy = e.state.Strategy
		} else {
			strategy = StrategyLWW
		}
	}

	st := &ParamState{
		Value:        newVal,
		Revision:     rev,
		Writer:       req.Writer,
		Timestamp:    req.Now,
		LastAccessed: req.Now,
		Strategy:     strategy,
		LockHolder:   lockHolder,
		Origin:       req.Origin,
	}
	if exists {
		st.Meta = prev.Meta
	}

	if !exists {
		s.count.Add(1)
	}
	sh.entries[req.Address] = &entry{state: st}
	sh.mu.Unlock()

	return &SetResult{State: *st.clone(), Changed: changed}, nil
}

// applyStrategy resolves the new value under the record's conflict
// strategy (spec.md §3 "strategy", §9). prev is nil when the address is
// new.
func applyStrategy(prev *ParamState, req SetRequest) (value.Value, bool) {
	if prev == nil {
		return req.Value, true
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = prev.Strategy
	}

	switch strategy {
	case StrategyMax:
		if req.Value.IsNumeric() && prev.Value.IsNumeric() {
			a, _ := req.Value.Float64()
			b, _ := prev.Value.Float64()
			if a <= b {
				return prev.Value, false
			}
		}
		return req.Value, true
	case StrategyMin:
		if req.Value.IsNumeric() && prev.Value.IsNumeric() {
			a, _ := req.Value.Float64()
			b, _ := prev.Value.Float64()
			if a >= b {
				return prev.Value, false
			}
		}
		return req.Value, true
	case StrategyMerge:
		// LWW-with-notification (spec.md §9 decision): the later write
		// always wins the stored value, but callers still observe every
		// accepted write via the Changed flag and an unconditional
		// revision bump, so subscribers are notified even when the
		// value happens to be unchanged across a merge boundary.
		return req.Value, true
	default: // StrategyLWW, StrategyLock
		return req.Value, !req.Value.Equal(prev.Value)
	}
}

// nextRevisionLocked computes the next revision for addr, continuing
// from any preserved high-water mark left by a prior eviction.
func (s *Store) nextRevisionLocked(addr string, prev *ParamState) uint64 {
	if prev != nil {
		return prev.Revision + 1
	}
	s.hwMu.Lock()
	hw := s.evictedHighWater[addr]
	s.hwMu.Unlock()
	return hw + 1
}

// admitNewLocked enforces MaxParams before a new key is inserted into
// sh. Called with sh.mu held.
func (s *Store) admitNewLocked(sh *shard) error {
	if s.opts.MaxParams <= 0 {
		return nil
	}
	if s.totalCount() < s.opts.MaxParams {
		return nil
	}

	switch s.opts.Eviction {
	case EvictRejectNew:
		return clasperr.New(clasperr.AtCapacity, "state store at capacity")
	case EvictOldest:
		s.evictOneLocked(sh, func(a, b *ParamState) bool { return a.Timestamp < b.Timestamp })
	default: // EvictLRU
		s.evictOneLocked(sh, func(a, b *ParamState) bool { return a.LastAccessed < b.LastAccessed })
	}
	return nil
}

// evictOneLocked removes one entry from sh chosen by less (the entry
// for which less returns true is evicted), preserving its revision as a
// high-water mark. sh.mu must already be held by the caller.
func (s *Store) evictOneLocked(sh *shard, less func(a, b *ParamState) bool) {
	var victimAddr string
	var victim *ParamState
	for addr, e := range sh.entries {
		if victim == nil || less(e.state, victim) {
			victimAddr, victim = addr, e.state
		}
	}
	if victim == nil {
		return
	}
	delete(sh.entries, victimAddr)
	s.count.Add(-1)

	s.hwMu.Lock()
	s.evictedHighWater[victimAddr] = victim.Revision
	s.hwMu.Unlock()

	if s.opts.OnEvict != nil {
		snapshot := *victim.clone()
		go s.opts.OnEvict(victimAddr, snapshot)
	}
}

func (s *Store) sweepLoop() {
	defer close(s.sweepDone)
	defer logging.RecoverPanic(s.logger, "state.sweep", nil)

	interval := s.opts.SweepInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Store) sweepExpired() {
	ttl := s.opts.ParamTTL
	if ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-ttl).UnixMicro()

	for _, sh := range s.shards {
		sh.mu.Lock()
		var expired []string
		for addr, e := range sh.entries {
			if e.state.LastAccessed < cutoff {
				expired = append(expired, addr)
			}
		}
		evicted := make(map[string]ParamState, len(expired))
		for _, addr := range expired {
			evicted[addr] = *sh.entries[addr].state.clone()
			s.hwMu.Lock()
			s.evictedHighWater[addr] = sh.entries[addr].state.Revision
			s.hwMu.Unlock()
			delete(sh.entries, addr)
			s.count.Add(-1)
		}
		sh.mu.Unlock()

		if s.opts.OnEvict != nil {
			for addr, st := range evicted {
				s.opts.OnEvict(addr, st)
			}
		}
	}
}

// Close stops the TTL sweep goroutine.
func (s *Store) Close() {
	select {
	case <-s.sweepDone:
		return
	default:
	}
	close(s.stopSweep)
	<-s.sweepDone
}
