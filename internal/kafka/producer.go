package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

type Producer struct {
	topic    string
	producer sarama.SyncProducer
}

func NewSyncProducer(brokers []string, topic string) (*Producer, error) {
	cfg := sarama.NewConfig()

	// required by SyncProducer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 500 * time.Millisecond

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sarama sync producer: %w", err)
	}

	return NewProducer(prod, topic), nil
}

// NewProducer wraps an existing sarama producer, e.g. a mocks.SyncProducer.
func NewProducer(prod sarama.SyncProducer, topic string) *Producer {
	return &Producer{topic: topic, producer: prod}
}

func (p *Producer) Topic() string { return p.topic }

func (p *Producer) Close() error {
	return p.producer.Close()
}

// SendRaw publishes an already encoded payload. An empty topic means the
// producer's default topic.
func (p *Producer) SendRaw(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if topic == "" {
		topic = p.topic
	}
	if len(payload) == 0 {
		return fmt.Errorf("payload is empty")
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send kafka message: %w", err)
	}
	return nil
}
