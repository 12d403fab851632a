// Package hooks defines the capability-set interfaces the router core
// consumes but never implements itself: persistence/journal, the optional
// discovery announcement plane, authorization, and protocol bridges
// (spec.md §1, §4.2, §9 "Extensibility"). These are external
// collaborators; the core only ever calls through the interface.
package hooks

import (
	"context"

	"github.com/lumencanvas/clasp-sub002/internal/auth"
)

// WriteRecord is the durable record the Persistence hook receives for
// each accepted write (spec.md §4.4 step 7: "invoke persistence hook
// (async, fire-and-forget; failure does not block the path)").
type WriteRecord struct {
	Address   string
	Revision  uint64
	Writer    string
	Timestamp int64
	ValueMsgpack []byte // pre-encoded payload, avoids re-encoding per backend
}

// Persistence is the journal/persistence hook. Implementations must not
// block the dispatcher hot path; Publish is expected to enqueue onto an
// internally-buffered async writer.
type Persistence interface {
	// Publish enqueues a write record for durable storage. It must return
	// quickly; slow or failed persistence must not block SET acceptance.
	Publish(rec WriteRecord)
	// Healthy reports whether the persistence backend is currently able
	// to accept writes. When PersistRequired is configured and Healthy
	// returns false, the dispatcher degrades SET to Unavailable
	// (spec.md §4.4 "Failure semantics").
	Healthy() bool
	// Close flushes and releases any resources.
	Close() error
}

// Announcer is the optional discovery/announcement plane (spec.md §1:
// "Discovery... an optional announcement plane the core may publish
// into"). claspd calls Announce once at startup with its configured
// router name; it does not re-announce as the set of live addresses
// changes.
type Announcer interface {
	Announce(ctx context.Context, signals []string) error
	Close() error
}

// Authorizer grants scopes at HELLO time and authorizes individual writes
// and subscribes (spec.md §4.2).
type Authorizer interface {
	// OnHello validates a HELLO token and returns the granted ScopeSet, or
	// an error if the token is rejected.
	OnHello(token string) (auth.ScopeSet, error)
	// CheckWrite reports whether scopes permits writing to address.
	CheckWrite(scopes auth.ScopeSet, address string) bool
	// CheckSubscribe reports whether scopes permits subscribing to pattern.
	CheckSubscribe(scopes auth.ScopeSet, pattern string) bool
}

// BridgeEvent is a signal a protocol bridge (OSC/MIDI/Art-Net/DMX/sACN/
// MQTT/HTTP) injects into or receives from the router. Bridges are
// entirely out of scope (spec.md §1 Non-goals); this is the capability
// shape they would implement against.
type BridgeEvent struct {
	Address string
	Payload []byte
}

// Bridge is the capability set an external protocol bridge implements.
// The core never implements a concrete Bridge itself; adding a new
// bridge protocol does not alter the core contract (spec.md §9).
type Bridge interface {
	Name() string
	Inbound() <-chan BridgeEvent
	Outbound(ev BridgeEvent) error
}
