package repository

import (
	"errors"
	"strings"
	"testing"

	"flight_booking/internal/models"
)

func TestOutcomeInsertSQL(t *testing.T) {
	r := NewBookingRepository(nil, NewOutboxRepository(nil, 0), "booking_events")

	sqlStr, args, err := r.outcomeInsertSQL(&models.BookingOutcome{
		SearchID:         "abc123",
		OfferID:          "O1",
		Status:           models.BookingBooked,
		BookingReference: "REF1",
		Amount:           450,
		Currency:         "USD",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.HasPrefix(sqlStr, "INSERT INTO booking_outcomes") || !strings.Contains(sqlStr, "$9") {
		t.Fatalf("unexpected sql %q", sqlStr)
	}
	if !strings.HasSuffix(sqlStr, "RETURNING id, created_at") {
		t.Fatalf("missing RETURNING clause: %q", sqlStr)
	}
	if len(args) != 9 || args[0] != "abc123" || args[4] != "BOOKED" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestOutcomeInsertSQLRejectsNonTerminal(t *testing.T) {
	r := NewBookingRepository(nil, NewOutboxRepository(nil, 0), "booking_events")

	for _, o := range []*models.BookingOutcome{
		nil,
		{OfferID: "O1", Status: models.BookingBooked},
		{SearchID: "s", Status: models.BookingAwaitingAuth},
	} {
		if _, _, err := r.outcomeInsertSQL(o); !errors.Is(err, models.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", o, err)
		}
	}
}

func TestOutboxInsertSQL(t *testing.T) {
	r := NewOutboxRepository(nil, 3)
	if r.MaxRetries() != 3 {
		t.Fatalf("unexpected max retries %d", r.MaxRetries())
	}

	sqlStr, args, err := r.insertMessageSQL(&models.OutboxMessage{
		Topic:   "booking_events",
		Key:     "abc123",
		Payload: []byte(`{"search_id":"abc123"}`),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(sqlStr, "message_key") || !strings.Contains(sqlStr, "$5") {
		t.Fatalf("unexpected sql %q", sqlStr)
	}
	if args[1] != "abc123" || args[3] != OutboxStatusPending {
		t.Fatalf("unexpected args %v", args)
	}

	bad := []*models.OutboxMessage{
		nil,
		{Payload: []byte(`{}`)},
		{Topic: "t"},
		{Topic: "t", Payload: []byte(`{broken`)},
	}
	for _, m := range bad {
		if _, _, err := r.insertMessageSQL(m); err == nil {
			t.Fatalf("expected error for %+v", m)
		}
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) == 0 || names[0] != "migrations/001_booking_journal.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
	sql, err := migrationFS.ReadFile(names[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, table := range []string{"booking_outcomes", "outbox_messages"} {
		if !strings.Contains(string(sql), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("migration does not create %s", table)
		}
	}
}
