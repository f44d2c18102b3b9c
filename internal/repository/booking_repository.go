package repository

import (
	"context"
	"fmt"

	"flight_booking/internal/kafka"
	"flight_booking/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BookingRepository is the journal of terminal booking outcomes. Every
// outcome is written together with its outbox event in one transaction.
type BookingRepository struct {
	db     *pgxpool.Pool
	sb     sq.StatementBuilderType
	outbox *OutboxRepository
	topic  string
}

func NewBookingRepository(db *pgxpool.Pool, outbox *OutboxRepository, topic string) *BookingRepository {
	return &BookingRepository{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		outbox: outbox,
		topic:  topic,
	}
}

func (r *BookingRepository) RecordOutcome(ctx context.Context, o *models.BookingOutcome) error {
	payload, err := kafka.EncodeBookingEvent(kafka.NewBookingEvent(o))
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.insertOutcome(ctx, tx, o); err != nil {
		return err
	}

	msg := &models.OutboxMessage{Topic: r.topic, Key: o.SearchID, Payload: payload}
	if err := r.outbox.CreateMessage(ctx, tx, msg); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *BookingRepository) insertOutcome(ctx context.Context, tx pgx.Tx, o *models.BookingOutcome) error {
	sqlStr, args, err := r.outcomeInsertSQL(o)
	if err != nil {
		return err
	}
	var id int64
	if err := tx.QueryRow(ctx, sqlStr, args...).Scan(&id, &o.CreatedAt); err != nil {
		return fmt.Errorf("insert booking outcome: %w", err)
	}
	o.ID = int(id)
	return nil
}

func (r *BookingRepository) outcomeInsertSQL(o *models.BookingOutcome) (string, []interface{}, error) {
	if o == nil || o.SearchID == "" {
		return "", nil, fmt.Errorf("%w: booking outcome without search id", models.ErrInvalidInput)
	}
	switch o.Status {
	case models.BookingBooked, models.BookingFailed:
	default:
		return "", nil, fmt.Errorf("%w: booking outcome status %q", models.ErrInvalidInput, o.Status)
	}

	sqlStr, args, err := r.sb.
		Insert("booking_outcomes").
		Columns(
			"search_id",
			"params_key",
			"offer_id",
			"user_id",
			"status",
			"booking_reference",
			"failure_reason",
			"amount",
			"currency",
		).
		Values(
			o.SearchID,
			o.ParamsKey,
			o.OfferID,
			o.UserID,
			string(o.Status),
			o.BookingReference,
			o.FailureReason,
			o.Amount,
			o.Currency,
		).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build booking outcome insert: %w", err)
	}
	return sqlStr, args, nil
}
