package service

import (
	"context"
	"errors"
	"time"

	"flight_booking/internal/logger"
	"flight_booking/internal/metrics"
	"flight_booking/internal/models"
)

// OutboxStore is the part of the outbox repository the sender drives.
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkAsSent(ctx context.Context, messageID string) error
	MarkAsFailed(ctx context.Context, messageID string, errorMsg string) error
	CleanupOldMessages(ctx context.Context, retentionDays int) (int, error)
}

type RawSender interface {
	SendRaw(ctx context.Context, topic, key string, payload []byte) error
}

// OutboxSender relays journalled booking events from postgres to Kafka.
type OutboxSender struct {
	repo          OutboxStore
	producer      RawSender
	pollInterval  time.Duration
	batchSize     int
	retentionDays int
	maxRetries    int
	log           logger.Logger

	cleanupEvery time.Duration
}

func NewOutboxSender(
	repo OutboxStore,
	producer RawSender,
	pollInterval time.Duration,
	batchSize int,
	retentionDays int,
	maxRetries int,
	log logger.Logger,
) *OutboxSender {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if retentionDays < 0 {
		retentionDays = 0
	}

	return &OutboxSender{
		repo:          repo,
		producer:      producer,
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		retentionDays: retentionDays,
		maxRetries:    maxRetries,
		log:           logger.OrNop(log),
		cleanupEvery:  1 * time.Hour,
	}
}

// Start runs the relay loop until ctx is cancelled.
func (s *OutboxSender) Start(ctx context.Context) {
	go func() {
		s.log.Info("outbox sender started", "poll_interval", s.pollInterval.String())
		defer s.log.Info("outbox sender stopped")

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		cleanupTicker := time.NewTicker(s.cleanupEvery)
		defer cleanupTicker.Stop()

		s.flushOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.flushOnce(ctx)
			case <-cleanupTicker.C:
				s.cleanupOnce(ctx)
			}
		}
	}()
}

func (s *OutboxSender) flushOnce(ctx context.Context) {
	msgs, err := s.repo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("outbox get pending failed", "error", err)
		return
	}

	for _, m := range msgs {
		if err := s.sendOne(ctx, m); err != nil {
			// the repository flips the row to failed once the retry limit is hit
			if err2 := s.repo.MarkAsFailed(ctx, m.MessageID, err.Error()); err2 != nil {
				s.log.Error("outbox mark failed error", "message_id", m.MessageID, "error", err2)
			}
			if m.RetryCount+1 >= s.maxRetries {
				metrics.IncOutboxFailed()
				s.log.Warn("outbox message gave up", "message_id", m.MessageID, "retries", m.RetryCount+1, "error", err)
			}
			continue
		}
		if err := s.repo.MarkAsSent(ctx, m.MessageID); err != nil {
			s.log.Error("outbox mark sent failed", "message_id", m.MessageID, "error", err)
		}
	}
}

func (s *OutboxSender) sendOne(ctx context.Context, m *models.OutboxMessage) error {
	if m == nil {
		return errors.New("outbox message is nil")
	}
	if m.Topic == "" {
		return errors.New("outbox topic is empty")
	}
	if len(m.Payload) == 0 {
		return errors.New("outbox payload is empty")
	}

	metrics.ObserveOutboxLagSeconds(time.Since(m.CreatedAt).Seconds())
	start := time.Now()

	if err := s.producer.SendRaw(ctx, m.Topic, m.Key, m.Payload); err != nil {
		metrics.IncKafkaError("producer", "send")
		metrics.IncOutboxRetry()
		metrics.ObserveOutboxProcessing(time.Since(start))
		return err
	}

	metrics.IncKafkaSent()
	metrics.IncOutboxSent()
	metrics.ObserveOutboxProcessing(time.Since(start))
	return nil
}

func (s *OutboxSender) cleanupOnce(ctx context.Context) {
	if s.retentionDays <= 0 {
		return
	}
	n, err := s.repo.CleanupOldMessages(ctx, s.retentionDays)
	if err != nil {
		s.log.Error("outbox cleanup failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("outbox cleanup", "deleted", n)
	}
}
