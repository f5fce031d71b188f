package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig contains configurable parameters for the Kafka notifier.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic is the topic notification batches are produced to.
	Topic string

	// MaxAttempts is how many times a produce is retried on transient error.
	// Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// KafkaNotifier produces one JSON message per notification batch. Messages
// are keyed by event type so consumers see per-type ordering.
type KafkaNotifier struct {
	writer      *kafka.Writer
	maxAttempts int
}

func NewKafkaNotifier(cfg KafkaConfig) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaNotifier{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	value, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal notification batch: %w", err)
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		msg := kafka.Message{
			Key:   []byte(events[0].Type),
			Value: value,
			Time:  time.Now().UTC(),
		}

		ctxAttempt, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := n.writer.WriteMessages(ctxAttempt, msg)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("notify failed after %d attempts: %w", n.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
