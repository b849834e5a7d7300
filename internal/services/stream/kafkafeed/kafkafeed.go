// Package kafkafeed reads the transaction feed from a Kafka topic.
package kafkafeed

import (
	"context"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Config of a Kafka feed.
type Config struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// Feed implements stream.Source over a kafka-go reader.
type Feed struct {
	cfg Config
	l   *zap.Logger
}

// New creates a feed.
func New(l *zap.Logger, cfg Config) *Feed {
	return &Feed{cfg: cfg, l: l}
}

// Run opens a reader for the session and delivers message values until the
// reader fails or ctx is done.
func (f *Feed) Run(ctx context.Context, deliver func([]byte)) error {
	if len(f.cfg.Brokers) == 0 || f.cfg.Topic == "" {
		return errors.New("kafka feed requires brokers and topic")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     f.cfg.Brokers,
		Topic:       f.cfg.Topic,
		GroupID:     f.cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			f.l.Debug("close kafka reader", zap.Error(err))
		}
	}()

	f.l.Info("transaction feed subscribed",
		zap.Strings("brokers", f.cfg.Brokers),
		zap.String("topic", f.cfg.Topic))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "read kafka message")
		}
		deliver(msg.Value)
	}
}
