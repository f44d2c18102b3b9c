package kafka

import (
	"context"
	"fmt"
	"time"

	"flight_booking/internal/logger"
	"flight_booking/internal/metrics"

	"github.com/IBM/sarama"
)

// MessageProcessor handles one booking event payload. Returning an error
// retries the message; it is committed only after success.
type MessageProcessor interface {
	ProcessBookingEvent(ctx context.Context, payload []byte) error
}

type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler sarama.ConsumerGroupHandler
	log     logger.Logger
}

func NewConsumer(
	brokers []string,
	groupID string,
	topic string,
	processor MessageProcessor,
	log logger.Logger,
) (*Consumer, error) {
	log = logger.OrNop(log)

	cfg := sarama.NewConfig()

	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	// offsets are committed manually after successful processing
	cfg.Consumer.Offsets.AutoCommit.Enable = false

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRange(),
	}
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &Consumer{
		group:   group,
		topic:   topic,
		handler: &bookingGroupHandler{processor: processor, log: log},
		log:     log,
	}, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.log.Warn("consumer group error", "error", err)
			metrics.IncKafkaError("consumer", "group")
		}
	}()

	for {
		err := c.group.Consume(ctx, []string{c.topic}, c.handler)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("consume loop error", "error", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type bookingGroupHandler struct {
	processor MessageProcessor
	log       logger.Logger
}

func (h *bookingGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *bookingGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *bookingGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for kafkaMsg := range claim.Messages() {
		lag := claim.HighWaterMarkOffset() - kafkaMsg.Offset - 1
		metrics.SetKafkaConsumerLag(kafkaMsg.Topic, kafkaMsg.Partition, lag)

		if err := h.processWithRetry(session.Context(), kafkaMsg); err != nil {
			metrics.IncKafkaError("consumer", "process")
			// not marked, so the message is read again after a rebalance
			return err
		}
		metrics.IncKafkaProcessed()

		session.MarkMessage(kafkaMsg, "")
		session.Commit()
	}
	return nil
}

func (h *bookingGroupHandler) processWithRetry(ctx context.Context, m *sarama.ConsumerMessage) error {
	attempt := 0

	for {
		attempt++
		err := h.processor.ProcessBookingEvent(ctx, m.Value)
		if err == nil {
			return nil
		}

		backoff := retryBackoff(attempt)
		h.log.Warn("process kafka message failed",
			"topic", m.Topic, "partition", m.Partition, "offset", m.Offset,
			"attempt", attempt, "retry_in", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// linear backoff, 1s..30s
func retryBackoff(attempt int) time.Duration {
	d := time.Duration(attempt) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
