package transport

import (
	"github.com/lumencanvas/clasp-sub002/internal/clasperr"
	"github.com/lumencanvas/clasp-sub002/internal/frame"
)

// ReadFrame reads one WebSocket message from conn and decodes it as a
// typed CLASP frame. The WebSocket framing itself provides message
// boundaries, so unlike frame.ReadFrame (used for a raw TCP future
// transport) no length prefix is needed on the wire here; maxBytes is
// still enforced against the decoded payload size.
func ReadFrame(conn Conn, maxBytes int) (interface{}, error) {
	data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, clasperr.New(clasperr.FrameTooLarge, "frame exceeds configured maximum size")
	}
	return frame.DecodePayload(data)
}

// WriteFrame encodes msg and writes it as one WebSocket message on conn.
func WriteFrame(conn Conn, msg interface{}) error {
	payload, err := frame.EncodePayload(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(payload)
}
