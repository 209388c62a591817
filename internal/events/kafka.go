package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string      `usage:"Kafka brokers; empty logs events instead"`
	Topic        string        `default:"kart.events" usage:"Kafka topic for lifecycle events"`
	WriteTimeout time.Duration `default:"5s" usage:"Timeout for a single publish"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events to a Kafka topic keyed by order id.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaPublisher returns a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		timeout: cfg.WriteTimeout,
	}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, evs ...Event) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msgs := make([]kafka.Message, 0, len(evs))
	for _, e := range evs {
		var enc jx.Encoder
		e.Encode(&enc)
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Key()),
			Value: enc.Bytes(),
			Time:  e.OccurredAt,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(e.Type)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "write messages")
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
