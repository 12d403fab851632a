package hooks

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/lumencanvas/clasp-sub002/internal/logging"
)

// KafkaPersistence journals accepted writes to a Kafka/Redpanda topic.
// Grounded on ws/kafka/consumer.go's kgo.Client usage, inverted from a
// consumer (price-tick ingest) into a producer (write journal): same
// client and broker-list plumbing, opposite data direction.
type KafkaPersistence struct {
	client *kgo.Client
	topic  string
	queue  chan WriteRecord
	logger zerolog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewKafkaPersistence dials brokers (comma-separated) and starts a
// single background writer goroutine draining a bounded queue, keeping
// Publish non-blocking on the dispatcher hot path.
func NewKafkaPersistence(brokers string, topic string, logger zerolog.Logger) (*KafkaPersistence, error) {
	seeds := strings.Split(brokers, ",")
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.MetadataMaxAge(30*time.Second),
	)
	if err != nil {
		return nil, err
	}

	p := &KafkaPersistence{
		client: client,
		topic:  topic,
		queue:  make(chan WriteRecord, 65536),
		logger: logger.With().Str("component", "persistence.kafka").Logger(),
		done:   make(chan struct{}),
	}
	p.healthy.Store(true)
	go p.run()
	return p, nil
}

func (p *KafkaPersistence) run() {
	defer logging.RecoverPanic(p.logger, "persistence.kafka.run", nil)
	defer close(p.done)

	for rec := range p.queue {
		record := &kgo.Record{
			Topic: p.topic,
			Key:   []byte(rec.Address),
			Value: rec.ValueMsgpack,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		result := p.client.ProduceSync(ctx, record)
		cancel()
		if err := result.FirstErr(); err != nil {
			p.healthy.Store(false)
			p.logger.Warn().Err(err).Str("address", rec.Address).Msg("journal write failed")
			continue
		}
		p.healthy.Store(true)
	}
}

func (p *KafkaPersistence) Publish(rec WriteRecord) {
	select {
	case p.queue <- rec:
	default:
		p.logger.Warn().Str("address", rec.Address).Msg("journal queue full, dropping record")
		p.healthy.Store(false)
	}
}

func (p *KafkaPersistence) Healthy() bool {
	return p.healthy.Load()
}

func (p *KafkaPersistence) Close() error {
	close(p.queue)
	<-p.done
	p.client.Close()
	return nil
}

// NoopPersistence is used when no journal backend is configured. Writes
// are accepted and immediately discarded.
type NoopPersistence struct{}

func (NoopPersistence) Publish(WriteRecord) {}
func (NoopPersistence) Healthy() bool       { return true }
func (NoopPersistence) Close() error        { return nil }
