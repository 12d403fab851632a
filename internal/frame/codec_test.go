package frame

import (
	"bytes"
	"testing"

	"github.com/lumencanvas/clasp-sub002/internal/value"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	hello := &Hello{Type: TypeHello, Version: "1.0", Name: "client-a", Features: []string{"bundles"}}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, hello); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf, DefaultMaxFrameBytes)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	h, ok := got.(*Hello)
	if !ok {
		t.Fatalf("got %T, want *Hello", got)
	}
	if h.Name != "client-a" || h.Version != "1.0" {
		t.Errorf("round trip mismatch: %+v", h)
	}
}

func TestSetValueRoundTrip(t *testing.T) {
	rev := uint64(5)
	set := &Set{
		Type:                 TypeSet,
		Address:              "/lights/room1/brightness",
		Value:                value.OfFloat(0.75),
		QoS:                  QoSConfirm,
		RevisionPrecondition: &rev,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, set); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf, DefaultMaxFrameBytes)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	s, ok := got.(*Set)
	if !ok {
		t.Fatalf("got %T, want *Set", got)
	}
	f, _ := s.Value.Float64()
	if f != 0.75 || s.Address != set.Address || s.RevisionPrecondition == nil || *s.RevisionPrecondition != 5 {
		t.Errorf("round trip mismatch: %+v", s)
	}
}

func TestBundleRoundTrip(t *testing.T) {
	bundle := &Bundle{
		Type: TypeBundle,
		Messages: []interface{}{
			&Set{Type: TypeSet, Address: "/a", Value: value.OfInt(1)},
			&Set{Type: TypeSet, Address: "/b", Value: value.OfInt(2)},
		},
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, bundle); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf, DefaultMaxFrameBytes)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	b, ok := got.(*Bundle)
	if !ok {
		t.Fatalf("got %T, want *Bundle", got)
	}
	if len(b.Messages) != 2 {
		t.Fatalf("expected 2 inner messages, got %d", len(b.Messages))
	}
	first, ok := b.Messages[0].(*Set)
	if !ok || first.Address != "/a" {
		t.Errorf("unexpected first inner message: %+v", b.Messages[0])
	}
}

func TestMalformedFrameUnknownType(t *testing.T) {
	payload, _ := EncodePayload(map[string]interface{}{"type": "NOT_A_TYPE"})
	_, err := DecodePayload(payload)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestFrameTooLarge(t *testing.T) {
	hello := &Hello{Type: TypeHello, Version: "1.0", Name: "client-a"}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, hello); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	_, err := ReadFrame(&buf, 1)
	if err == nil {
		t.Fatal("expected FrameTooLarge error")
	}
}
