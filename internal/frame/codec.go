package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lumencanvas/clasp-sub002/internal/clasperr"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultMaxFrameBytes is the default maximum frame size (spec.md §4.3,
// §6 frame_max_bytes).
const DefaultMaxFrameBytes = 64 << 20 // 64 MiB

// lengthPrefixSize is the size in bytes of the u32 frame length prefix.
const lengthPrefixSize = 4

// EncodePayload serializes a typed message into its MessagePack payload
// bytes (without the length prefix).
func EncodePayload(msg interface{}) ([]byte, error) {
	return msgpack.Marshal(msg)
}

// WriteFrame writes msg to w as a length-prefixed MessagePack frame.
func WriteFrame(w io.Writer, msg interface{}) error {
	payload, err := EncodePayload(msg)
	if err != nil {
		return fmt.Errorf("frame: encode: %w", err)
	}
	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r, enforcing maxBytes,
// and decodes its typed payload via DecodePayload.
func ReadFrame(r io.Reader, maxBytes int) (interface{}, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if maxBytes > 0 && int(n) > maxBytes {
		return nil, clasperr.New(clasperr.FrameTooLarge, fmt.Sprintf("frame of %d bytes exceeds limit %d", n, maxBytes))
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return DecodePayload(payload)
}

// DecodePayload decodes a MessagePack payload into its typed message
// struct based on the mandatory "type" field. Unknown optional fields are
// ignored by msgpack's default struct decoding; an unrecognized or
// missing "type" rejects the frame as MalformedFrame (spec.md §4.3).
func DecodePayload(payload []byte) (interface{}, error) {
	var p probe
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return nil, clasperr.New(clasperr.MalformedFrame, "missing or invalid type field: "+err.Error())
	}

	decodeInto := func(v interface{}) (interface{}, error) {
		if err := msgpack.Unmarshal(payload, v); err != nil {
			return nil, clasperr.New(clasperr.MalformedFrame, err.Error())
		}
		return v, nil
	}

	switch p.Type {
	case TypeHello:
		return decodeInto(&Hello{})
	case TypeWelcome:
		return decodeInto(&Welcome{})
	case TypePing:
		return decodeInto(&Ping{})
	case TypePong:
		return decodeInto(&Pong{})
	case TypeSet:
		return decodeInto(&Set{})
	case TypeGet:
		return decodeInto(&Get{})
	case TypeValue:
		return decodeInto(&ValueMsg{})
	case TypeSubscribe:
		return decodeInto(&Subscribe{})
	case TypeUnsubscribe:
		return decodeInto(&Unsubscribe{})
	case TypePublish:
		return decodeInto(&Publish{})
	case TypeBundle:
		return decodeBundle(payload)
	case TypeAck:
		return decodeInto(&Ack{})
	case TypeError:
		return decodeInto(&ErrorMsg{})
	case TypeSnapshot:
		return decodeInto(&Snapshot{})
	case TypeSync:
		return decodeInto(&Sync{})
	case TypeAnnounce:
		return decodeInto(&Announce{})
	case TypeQuery:
		return decodeInto(&Query{})
	case TypeResult:
		return decodeInto(&Result{})
	default:
		return nil, clasperr.New(clasperr.MalformedFrame, fmt.Sprintf("unknown message type %q", p.Type))
	}
}

// rawBundle mirrors Bundle but decodes each inner message generically so
// it can be re-dispatched through DecodePayload.
type rawBundle struct {
	Type          Type                     `msgpack:"type"`
	ScheduledTime int64                    `msgpack:"scheduled_time,omitempty"`
	Messages      []map[string]interface{} `msgpack:"messages"`
}

// decodeBundle decodes a BUNDLE frame and recursively decodes each inner
// message into its own typed struct. Inner messages must be SET or
// PUBLISH (spec.md §4.4); any other inner type rejects the whole bundle
// as MalformedFrame.
func decodeBundle(payload []byte) (interface{}, error) {
	var raw rawBundle
	if err := msgpack.Unmarshal(payload, &raw); err != nil {
		return nil, clasperr.New(clasperr.MalformedFrame, err.Error())
	}

	bundle := &Bundle{
		Type:          TypeBundle,
		ScheduledTime: raw.ScheduledTime,
		Messages:      make([]interface{}, 0, len(raw.Messages)),
	}

	for _, innerMap := range raw.Messages {
		innerPayload, err := msgpack.Marshal(innerMap)
		if err != nil {
			return nil, clasperr.New(clasperr.MalformedFrame, err.Error())
		}
		inner, err := DecodePayload(innerPayload)
		if err != nil {
			return nil, err
		}
		switch inner.(type) {
		case *Set, *Publish:
			bundle.Messages = append(bundle.Messages, inner)
		default:
			return nil, clasperr.New(clasperr.MalformedFrame, "bundle inner message must be SET or PUBLISH")
		}
	}

	return bundle, nil
}
