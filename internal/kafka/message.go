package kafka

import (
	"encoding/json"
	"fmt"

	"flight_booking/internal/models"
)

// NewBookingEvent builds the event published for a journaled outcome. The
// search id is the message key so that events of one search stay ordered.
func NewBookingEvent(o *models.BookingOutcome) *models.BookingEvent {
	return &models.BookingEvent{
		SearchID:         o.SearchID,
		ParamsKey:        o.ParamsKey,
		OfferID:          o.OfferID,
		UserID:           o.UserID,
		Status:           o.Status,
		BookingReference: o.BookingReference,
		FailureReason:    o.FailureReason,
		OccurredAt:       o.CreatedAt,
	}
}

func EncodeBookingEvent(ev *models.BookingEvent) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal booking event: %w", err)
	}
	return b, nil
}

func DecodeBookingEvent(payload []byte) (*models.BookingEvent, error) {
	var ev models.BookingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal booking event: %w", err)
	}
	if ev.SearchID == "" || ev.Status == "" {
		return nil, fmt.Errorf("booking event without search_id or status")
	}
	return &ev, nil
}
