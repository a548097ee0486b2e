// Package broadcaster drains the transaction outbox to the channel
// group with at-least-once delivery.
package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

type Broadcaster struct {
	outbox   *Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      zerolog.Logger
}

func New(outbox *Outbox, brokers []string, topic string, interval time.Duration, log zerolog.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		outbox:   outbox,
		producer: producer,
		topic:    topic,
		interval: interval,
		log:      log,
	}, nil
}

// Run drains the outbox until the context ends.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info().Str("topic", b.topic).Msg("broadcaster started")
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drainOnce()
			if err := b.outbox.PruneAcked(); err != nil {
				b.log.Error().Err(err).Msg("outbox prune failed")
			}
		}
	}
}

// drainOnce walks the pending set once. Mark-sent before publish and
// mark-acked after makes redelivery possible but loss impossible;
// consumers deduplicate by transaction id.
func (b *Broadcaster) drainOnce() {
	err := b.outbox.ScanPending(func(txID string, e Entry) error {
		if err := b.outbox.Mark(txID, StateSent, e.Retries+1); err != nil {
			return err
		}
		_, _, err := b.producer.SendMessage(&sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(txID),
			Value: sarama.ByteEncoder(e.Payload),
		})
		if err != nil {
			b.log.Warn().Err(err).Str("tx", txID).Msg("broadcast failed; will retry")
			return nil
		}
		return b.outbox.Mark(txID, StateAcked, e.Retries+1)
	})
	if err != nil {
		b.log.Error().Err(err).Msg("outbox scan failed")
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
