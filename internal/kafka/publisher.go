package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 100ms
	WriteTimeout time.Duration // default 5s
}

// Publisher is a thin wrapper around segmentio/kafka-go Writer, used to emit
// delivery outcome envelopes for downstream read models.
type Publisher struct {
	w *kafka.Writer
}

// NewPublisherFromConfig returns nil when no brokers are configured; the
// pipeline runs fine without Kafka.
func NewPublisherFromConfig(c Config) *Publisher {
	if len(c.Brokers) == 0 || c.Topic == "" {
		return nil
	}

	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 100 * time.Millisecond
	}
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: bt,
		WriteTimeout: wt,
	}

	return &Publisher{w: w}
}

func (p *Publisher) Publish(ctx context.Context, key, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

func (p *Publisher) Close() error { return p.w.Close() }
