// Package frame implements the CLASP wire protocol: length-prefixed,
// self-describing MessagePack frames (spec.md §4.3 / §6).
//
// Grounded on go-server-2/connection.go's length-prefixed framing over a
// raw net.Conn, generalized here to any io.Reader/io.Writer (the WebSocket
// transport uses only EncodePayload/DecodePayload, without the length
// prefix, since each WebSocket message carries one payload), and on the
// teacher's messaging.MessageEnvelope (every frame carries a discriminator
// field identifying its payload shape).
package frame

import "github.com/lumencanvas/clasp-sub002/internal/value"

// Type names a wire message kind. The wire "type" map key holds this
// string.
type Type string

const (
	TypeHello       Type = "HELLO"
	TypeWelcome     Type = "WELCOME"
	TypePing        Type = "PING"
	TypePong        Type = "PONG"
	TypeSet         Type = "SET"
	TypeGet         Type = "GET"
	TypeValue       Type = "VALUE"
	TypeSubscribe   Type = "SUBSCRIBE"
	TypeUnsubscribe Type = "UNSUBSCRIBE"
	TypePublish     Type = "PUBLISH"
	TypeBundle      Type = "BUNDLE"
	TypeAck         Type = "ACK"
	TypeError       Type = "ERROR"
	TypeSnapshot    Type = "SNAPSHOT"
	TypeSync        Type = "SYNC"
	TypeAnnounce    Type = "ANNOUNCE"
	TypeQuery       Type = "QUERY"
	TypeResult      Type = "RESULT"
)

// QoS is the delivery guarantee requested on a SET or PUBLISH (spec.md §6).
type QoS uint8

const (
	QoSFire    QoS = 0
	QoSConfirm QoS = 1
	QoSCommit  QoS = 2
)

// SignalType discriminates the five PUBLISH payload kinds (spec.md §3/§4.4).
type SignalType string

const (
	SignalEvent    SignalType = "event"
	SignalStream   SignalType = "stream"
	SignalGesture  SignalType = "gesture"
	SignalTimeline SignalType = "timeline"
)

// GesturePhase is the phase field of a gesture PUBLISH.
type GesturePhase string

const (
	PhaseStart  GesturePhase = "start"
	PhaseMove   GesturePhase = "move"
	PhaseEnd    GesturePhase = "end"
	PhaseCancel GesturePhase = "cancel"
)

// probe is used to read only the "type" discriminator before decoding the
// full, specifically-typed payload.
type probe struct {
	Type Type `msgpack:"type"`
}

type Hello struct {
	Type     Type     `msgpack:"type"`
	Version  string   `msgpack:"version"`
	Name     string   `msgpack:"name"`
	Features []string `msgpack:"features"`
	Token    string   `msgpack:"token,omitempty"`
}

type Welcome struct {
	Type             Type     `msgpack:"type"`
	Session          string   `msgpack:"session"`
	ServerTime       int64    `msgpack:"server_time"`
	FeaturesGranted  []string `msgpack:"features_granted"`
}

type Ping struct {
	Type Type `msgpack:"type"`
}

type Pong struct {
	Type Type `msgpack:"type"`
}

type Set struct {
	Type                 Type        `msgpack:"type"`
	Address              string      `msgpack:"address"`
	Value                value.Value `msgpack:"value"`
	QoS                  QoS         `msgpack:"qos,omitempty"`
	RevisionPrecondition *uint64     `msgpack:"revision_precondition,omitempty"`
	// Strategy sets the address's conflict-resolution strategy (spec.md
	// §3 "strategy"). A non-empty value applies to this write and is
	// stored with the address, on its first write or any later one;
	// writes that leave it empty inherit the stored strategy.
	Strategy string `msgpack:"strategy,omitempty"`
	Lock     bool   `msgpack:"lock,omitempty"`
	Unlock   bool   `msgpack:"unlock,omitempty"`
}

type Get struct {
	Type    Type   `msgpack:"type"`
	Address string `msgpack:"address"`
}

type ValueMsg struct {
	Type      Type        `msgpack:"type"`
	Address   string      `msgpack:"address"`
	Value     value.Value `msgpack:"value"`
	Revision  uint64      `msgpack:"revision"`
	Writer    string      `msgpack:"writer"`
	Timestamp int64       `msgpack:"timestamp"`
}

type Subscribe struct {
	Type    Type    `msgpack:"type"`
	ID      string  `msgpack:"id"`
	Pattern string  `msgpack:"pattern"`
	MaxRate float64 `msgpack:"max_rate,omitempty"`
	Epsilon float64 `msgpack:"epsilon,omitempty"`
}

type Unsubscribe struct {
	Type Type   `msgpack:"type"`
	ID   string `msgpack:"id"`
}

type Publish struct {
	Type       Type         `msgpack:"type"`
	Address    string       `msgpack:"address"`
	Signal     SignalType   `msgpack:"signal"`
	QoS        QoS          `msgpack:"qos,omitempty"`
	Payload    value.Value  `msgpack:"payload,omitempty"`
	Timestamp  int64        `msgpack:"timestamp,omitempty"`
	Phase      GesturePhase `msgpack:"phase,omitempty"`
	GestureID  string       `msgpack:"gesture_id,omitempty"`
	Keyframes  []Keyframe   `msgpack:"keyframes,omitempty"`
	Loop       bool         `msgpack:"loop,omitempty"`
	StartTime  int64        `msgpack:"start_time,omitempty"`
}

// Keyframe is one entry of a PUBLISH signal=timeline's keyframe list.
// The core forwards these verbatim to current subscribers and never
// interpolates them (spec.md §9); it does not store them, so GET and
// SUBSCRIBE snapshots do not return a timeline.
type Keyframe struct {
	TimeOffsetUs int64       `msgpack:"time_offset_us"`
	Value        value.Value `msgpack:"value"`
	Easing       string      `msgpack:"easing,omitempty"`
}

type Bundle struct {
	Type          Type          `msgpack:"type"`
	ScheduledTime int64         `msgpack:"scheduled_time,omitempty"`
	Messages      []interface{} `msgpack:"messages"`
}

type Ack struct {
	Type     Type   `msgpack:"type"`
	Address  string `msgpack:"address"`
	Revision uint64 `msgpack:"revision"`
}

type ErrorMsg struct {
	Type    Type   `msgpack:"type"`
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
	Address string `msgpack:"address,omitempty"`
}

// SnapshotEntry is one (address, value, revision, writer, timestamp)
// tuple of a SNAPSHOT payload.
type SnapshotEntry struct {
	Address   string      `msgpack:"address"`
	Value     value.Value `msgpack:"value"`
	Revision  uint64      `msgpack:"revision"`
	Writer    string      `msgpack:"writer"`
	Timestamp int64       `msgpack:"timestamp"`
}

type Snapshot struct {
	Type   Type            `msgpack:"type"`
	Params []SnapshotEntry `msgpack:"params"`
}

type Sync struct {
	Type Type  `msgpack:"type"`
	T1   int64 `msgpack:"t1"`
	T2   int64 `msgpack:"t2,omitempty"`
	T3   int64 `msgpack:"t3,omitempty"`
}

type Announce struct {
	Type    Type     `msgpack:"type"`
	Signals []string `msgpack:"signals"`
}

// Query asks the router to list addresses matching a pattern (a
// lightweight companion to GET, grouped with RESULT below; the wire
// message table names QUERY/RESULT without further detail beyond this
// GET-like address-discovery shape).
type Query struct {
	Type    Type   `msgpack:"type"`
	Pattern string `msgpack:"pattern"`
}

type Result struct {
	Type      Type     `msgpack:"type"`
	Addresses []string `msgpack:"addresses"`
}
