package service

import (
	"context"

	"flight_booking/internal/kafka"
	"flight_booking/internal/logger"
	"flight_booking/internal/metrics"
	"flight_booking/internal/models"
)

// ParamsReleaser drops the params pointer of a finished search.
type ParamsReleaser interface {
	ReleaseParams(ctx context.Context, paramsKey, searchID string) error
}

// BookingEventProcessor consumes the booking journal topic. A BOOKED search
// is detached from its parameters so the next search with the same
// parameters starts a fresh record instead of resuming a finished one.
type BookingEventProcessor struct {
	store ParamsReleaser
	log   logger.Logger
}

func NewBookingEventProcessor(store ParamsReleaser, log logger.Logger) *BookingEventProcessor {
	return &BookingEventProcessor{store: store, log: logger.OrNop(log)}
}

func (p *BookingEventProcessor) ProcessBookingEvent(ctx context.Context, payload []byte) error {
	ev, err := kafka.DecodeBookingEvent(payload)
	if err != nil {
		// poison message: retrying will not help
		metrics.IncKafkaError("consumer", "decode")
		p.log.Warn("skip undecodable booking event", "error", err)
		return nil
	}

	metrics.IncBookingOutcome("consumed_" + string(ev.Status))

	if ev.Status != models.BookingBooked || ev.ParamsKey == "" {
		p.log.Debug("booking event ignored", "search_id", ev.SearchID, "status", ev.Status)
		return nil
	}
	if err := p.store.ReleaseParams(ctx, ev.ParamsKey, ev.SearchID); err != nil {
		return err
	}
	p.log.Info("released params of booked search", "search_id", ev.SearchID, "booking_reference", ev.BookingReference)
	return nil
}
