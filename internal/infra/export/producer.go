package export

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher sends one keyed message downstream.
type Publisher interface {
	Send(ctx context.Context, key, value []byte) error
	Close() error
}

// Producer publishes to a Kafka topic and waits for all in-sync replicas.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
