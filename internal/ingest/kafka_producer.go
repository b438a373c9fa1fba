package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-tracking/internal/models"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer mirrors position updates onto a topic keyed by ride id, so
// every update for one ride lands on the same partition in order.
type KafkaProducer struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
	return &KafkaProducer{writer: w, timeout: 2 * time.Second}
}

func NewKafkaProducerWithWriter(w MessageWriter) *KafkaProducer {
	return &KafkaProducer{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaProducer) PublishPosition(ctx context.Context, u models.PositionUpdate) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(u.RideID), Value: b}); err != nil {
		return fmt.Errorf("kafka write ride %s: %w", u.RideID, err)
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// DecodePosition parses a mirrored message back into an update.
func DecodePosition(m kafka.Message) (models.PositionUpdate, error) {
	var u models.PositionUpdate
	if err := json.Unmarshal(m.Value, &u); err != nil {
		return models.PositionUpdate{}, fmt.Errorf("decode position: %w", err)
	}
	if u.RideID == "" {
		u.RideID = string(m.Key)
	}
	return u, nil
}
