package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"flight_booking/internal/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestSendRawPublishesPayload(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		ev, err := DecodeBookingEvent(val)
		if err != nil {
			return err
		}
		if ev.Status != models.BookingBooked {
			return errors.New("unexpected status")
		}
		return nil
	})
	p := NewProducer(mp, "booking_events")
	defer p.Close()

	payload, err := EncodeBookingEvent(NewBookingEvent(&models.BookingOutcome{
		SearchID:         "abc123",
		OfferID:          "O1",
		Status:           models.BookingBooked,
		BookingReference: "REF1",
		CreatedAt:        time.Now(),
	}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := p.SendRaw(context.Background(), "", "abc123", payload); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSendRawFailure(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	p := NewProducer(mp, "booking_events")
	defer p.Close()

	err := p.SendRaw(context.Background(), "booking_events", "k", []byte(`{"search_id":"s","status":"FAILED"}`))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
	if err := p.SendRaw(context.Background(), "", "k", nil); err == nil {
		t.Fatalf("empty payload must be rejected")
	}
}

func TestDecodeBookingEvent(t *testing.T) {
	if _, err := DecodeBookingEvent([]byte(`{"status":"BOOKED"}`)); err == nil {
		t.Fatalf("event without search id must be rejected")
	}
	if _, err := DecodeBookingEvent([]byte(`not json`)); err == nil {
		t.Fatalf("garbage must be rejected")
	}
	ev, err := DecodeBookingEvent([]byte(`{"search_id":"abc123","params_key":"k1","status":"BOOKED"}`))
	if err != nil || ev.ParamsKey != "k1" {
		t.Fatalf("unexpected event %+v %v", ev, err)
	}
}

func TestRetryBackoff(t *testing.T) {
	if d := retryBackoff(1); d != time.Second {
		t.Fatalf("got %v", d)
	}
	if d := retryBackoff(100); d != 30*time.Second {
		t.Fatalf("backoff must be capped, got %v", d)
	}
}
