package models

import (
	"encoding/json"
	"time"
)

type OutboxMessage struct {
	ID        int             `db:"id"`
	MessageID string          `db:"message_id"`
	Topic     string          `db:"topic"`
	Key       string          `db:"message_key"`
	Payload   json.RawMessage `db:"payload"`

	Status     string     `db:"status"` // pending, sent, failed
	RetryCount int        `db:"retry_count"`
	CreatedAt  time.Time  `db:"created_at"`
	SentAt     *time.Time `db:"sent_at"`
	LastError  *string    `db:"last_error"`
}

// BookingOutcome is the journal entry of a terminal booking attempt.
type BookingOutcome struct {
	ID               int           `db:"id"`
	SearchID         string        `db:"search_id"`
	ParamsKey        string        `db:"params_key"`
	OfferID          string        `db:"offer_id"`
	UserID           string        `db:"user_id"`
	Status           BookingStatus `db:"status"`
	BookingReference string        `db:"booking_reference"`
	FailureReason    string        `db:"failure_reason"`
	Amount           float64       `db:"amount"`
	Currency         string        `db:"currency"`
	CreatedAt        time.Time     `db:"created_at"`
}

// BookingEvent is the Kafka payload published for every BookingOutcome.
type BookingEvent struct {
	SearchID         string        `json:"search_id"`
	ParamsKey        string        `json:"params_key"`
	OfferID          string        `json:"offer_id"`
	UserID           string        `json:"user_id,omitempty"`
	Status           BookingStatus `json:"status"`
	BookingReference string        `json:"booking_reference,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	OccurredAt       time.Time     `json:"occurred_at"`
}
