package hooks

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSAnnouncer publishes the signal list it is given to a NATS subject
// for service discovery. Grounded on ws/go.mod's
// github.com/nats-io/nats.go requirement: present in the teacher's
// dependency graph but never imported by its code, exactly the kind of
// unwired teacher dependency the discovery plane named in spec.md §1
// gives a home to.
type NATSAnnouncer struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

type announcePayload struct {
	Signals []string `json:"signals"`
}

func NewNATSAnnouncer(url string, subject string, logger zerolog.Logger) (*NATSAnnouncer, error) {
	conn, err := nats.Connect(url, nats.Name("clasp-router"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &NATSAnnouncer{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "announce.nats").Logger(),
	}, nil
}

func (a *NATSAnnouncer) Announce(ctx context.Context, signals []string) error {
	data, err := json.Marshal(announcePayload{Signals: signals})
	if err != nil {
		return err
	}
	if err := a.conn.Publish(a.subject, data); err != nil {
		a.logger.Warn().Err(err).Msg("announce publish failed")
		return err
	}
	return nil
}

func (a *NATSAnnouncer) Close() error {
	a.conn.Drain()
	return nil
}

// NoopAnnouncer is used when no discovery plane is configured.
type NoopAnnouncer struct{}

func (NoopAnnouncer) Announce(context.Context, []string) error { return nil }
func (NoopAnnouncer) Close() error                             { return nil }
