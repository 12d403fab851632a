package main

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/lumencanvas/clasp-sub002/internal/clasperr"
	"github.com/lumencanvas/clasp-sub002/internal/config"
	"github.com/lumencanvas/clasp-sub002/internal/dispatcher"
	"github.com/lumencanvas/clasp-sub002/internal/frame"
	"github.com/lumencanvas/clasp-sub002/internal/hooks"
	"github.com/lumencanvas/clasp-sub002/internal/logging"
	"github.com/lumencanvas/clasp-sub002/internal/session"
	"github.com/lumencanvas/clasp-sub002/internal/transport"
)

// connSender adapts a transport.Conn to dispatcher.Sender, encoding every
// outbound message as one WebSocket message (spec.md §4.3).
type connSender struct {
	conn transport.Conn
}

func (c connSender) Send(msg interface{}) error {
	return transport.WriteFrame(c.conn, msg)
}

// handleConnection owns one upgraded WebSocket connection end to end:
// session admission, the HELLO/WELCOME handshake, the PING/PONG liveness
// loop, and the read loop that feeds every subsequent frame to the
// dispatcher. Grounded on ws/internal/shared/server.go's
// handleConnection + read-pump/write-pump split, collapsed here into a
// single goroutine per connection plus one ping ticker goroutine since
// WriteMessage is already mutex-guarded inside transport.wsConn.
func handleConnection(conn transport.Conn, cfg *config.Config, d *dispatcher.Dispatcher, sessions *session.Manager, authorizer hooks.Authorizer, logger zerolog.Logger) {
	defer conn.Close()

	sess, err := sessions.Admit()
	if err != nil {
		transport.WriteFrame(conn, &frame.ErrorMsg{Type: frame.TypeError, Code: string(clasperr.AtCapacity), Message: "router at capacity"})
		return
	}
	connLogger := logger.With().Str("session", sess.ID).Str("remote", conn.RemoteAddr()).Logger()
	defer func() {
		d.Cleanup(sess)
		sessions.Remove(sess.ID)
		connLogger.Info().Msg("session closed")
	}()

	if err := doHandshake(conn, sess, authorizer, cfg); err != nil {
		connLogger.Warn().Err(err).Msg("handshake failed")
		sendErr(conn, err)
		return
	}
	connLogger.Info().Str("name", sess.Name).Msg("session established")

	out := connSender{conn: conn}
	d.RegisterOutbox(sess.ID, out)

	pingStop := make(chan struct{})
	defer close(pingStop)
	go pingLoop(conn, sess, pingStop, connLogger)

	for {
		msg, err := transport.ReadFrame(conn, cfg.FrameMaxBytes)
		if err != nil {
			return
		}
		if pong, ok := msg.(*frame.Pong); ok {
			_ = pong
			sess.RecordPong()
			continue
		}
		d.Dispatch(sess, out, msg)
	}
}

// doHandshake reads the mandatory first frame, verifies it is a HELLO,
// authorizes its token (if any), and replies WELCOME (spec.md §4.2).
func doHandshake(conn transport.Conn, sess *session.Session, authorizer hooks.Authorizer, cfg *config.Config) error {
	msg, err := transport.ReadFrame(conn, cfg.FrameMaxBytes)
	if err != nil {
		return err
	}
	hello, ok := msg.(*frame.Hello)
	if !ok {
		return clasperr.New(clasperr.InvalidHandshake, "first frame must be HELLO")
	}

	scopes, err := authorizer.OnHello(hello.Token)
	if err != nil {
		return clasperr.New(clasperr.PermissionDenied, "HELLO token rejected: "+err.Error())
	}
	if err := sess.CompleteHandshake(hello.Name, scopes); err != nil {
		return err
	}

	return transport.WriteFrame(conn, &frame.Welcome{
		Type:            frame.TypeWelcome,
		Session:         sess.ID,
		ServerTime:      time.Now().UnixMicro(),
		FeaturesGranted: hello.Features,
	})
}

// pingLoop drives router-initiated liveness checks: a PING every
// session.PingPeriod, closing the connection once
// session.MaxMissedPings consecutive PONGs go unanswered (spec.md §4.2).
func pingLoop(conn transport.Conn, sess *session.Session, stop <-chan struct{}, logger zerolog.Logger) {
	defer logging.RecoverPanic(logger, "claspd.ping", nil)

	ticker := time.NewTicker(session.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := transport.WriteFrame(conn, &frame.Ping{Type: frame.TypePing}); err != nil {
				conn.Close()
				return
			}
			if sess.NotePingSent() {
				logger.Warn().Msg("missed too many pings, closing session")
				conn.Close()
				return
			}
		}
	}
}

func sendErr(conn transport.Conn, err error) {
	cerr, ok := err.(*clasperr.Error)
	if !ok {
		cerr = clasperr.New(clasperr.Unavailable, err.Error())
	}
	transport.WriteFrame(conn, &frame.ErrorMsg{Type: frame.TypeError, Code: string(cerr.Kind), Message: cerr.Message, Address: cerr.Address})
}
