// Package transport implements the Transport Acceptor: a WebSocket
// listener that upgrades incoming connections and exposes them as
// message-oriented Conns, one CLASP payload per WebSocket message
// (spec.md §4.1).
//
// Grounded on ws/internal/shared/pump_read.go / pump_write.go: same
// gobwas/ws + wsutil read/write shape, ping/pong deadline management,
// and bufio.Writer batching, adapted from OpText JSON frames to OpBinary
// MessagePack frames. WebSocket message boundaries delimit payloads, so
// no length prefix is written.
package transport

import (
	"bufio"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/lumencanvas/clasp-sub002/internal/clasperr"
)

// Conn is the transport-level abstraction the session/dispatcher layers
// consume: a framed, full-duplex byte stream with deadline-aware
// read/write and a close-once guarantee.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	WritePing() error
	Close() error
	RemoteAddr() string
}

// wsConn wraps a raw net.Conn upgraded to WebSocket.
type wsConn struct {
	raw    net.Conn
	writer *bufio.Writer

	writeMu sync.Mutex
	closeOnce sync.Once

	readDeadline  time.Duration
	writeDeadline time.Duration
}

func newWSConn(raw net.Conn, readDeadline, writeDeadline time.Duration) *wsConn {
	return &wsConn{
		raw:           raw,
		writer:        bufio.NewWriter(raw),
		readDeadline:  readDeadline,
		writeDeadline: writeDeadline,
	}
}

// ReadMessage blocks for the next binary WebSocket frame, resetting the
// read deadline on every successful read so liveness is judged purely
// by PING/PONG cadence rather than message cadence.
func (c *wsConn) ReadMessage() ([]byte, error) {
	c.raw.SetReadDeadline(time.Now().Add(c.readDeadline))
	data, op, err := wsutil.ReadClientData(c.raw)
	if err != nil {
		return nil, clasperr.New(clasperr.Unavailable, "transport read failed: "+err.Error())
	}
	if op == ws.OpClose {
		return nil, clasperr.New(clasperr.Unavailable, "client closed connection")
	}
	if op == ws.OpPing {
		_ = wsutil.WriteServerMessage(c.raw, ws.OpPong, nil)
		return c.ReadMessage()
	}
	if op == ws.OpPong {
		return c.ReadMessage()
	}
	return data, nil
}

func (c *wsConn) WriteMessage(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.raw.SetWriteDeadline(time.Now().Add(c.writeDeadline))
	if err := wsutil.WriteServerMessage(c.writer, ws.OpBinary, payload); err != nil {
		return err
	}
	return c.writer.Flush()
}

// WritePing sends a WebSocket PING control frame; used by the session
// liveness loop.
func (c *wsConn) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.raw.SetWriteDeadline(time.Now().Add(c.writeDeadline))
	return wsutil.WriteServerMessage(c.raw, ws.OpPing, nil)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		wsutil.WriteServerMessage(c.raw, ws.OpClose, nil)
		err = c.raw.Close()
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Acceptor listens for WebSocket upgrade requests and hands completed
// connections to a handler goroutine.
type Acceptor struct {
	ReadDeadline  time.Duration
	WriteDeadline time.Duration

	listener net.Listener
}

// Listen opens a TCP listener on addr. The caller mounts Acceptor.Handler
// as an http.HandlerFunc on its chosen mux path (conventionally "/ws").
func Listen(addr string) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{listener: ln, ReadDeadline: 30 * time.Second, WriteDeadline: 5 * time.Second}, nil
}

func (a *Acceptor) Listener() net.Listener { return a.listener }

// Handler upgrades an incoming HTTP request to a WebSocket connection
// and invokes onConnect with the resulting Conn. onConnect owns the
// connection's lifetime (it must eventually call Close).
func (a *Acceptor) Handler(onConnect func(Conn)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		conn := newWSConn(raw, a.ReadDeadline, a.WriteDeadline)
		go onConnect(conn)
	}
}
