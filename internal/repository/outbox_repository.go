package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"flight_booking/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

type OutboxRepository struct {
	db         *pgxpool.Pool
	sb         sq.StatementBuilderType
	maxRetries int
}

func NewOutboxRepository(db *pgxpool.Pool, maxRetries int) *OutboxRepository {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &OutboxRepository{
		db:         db,
		sb:         sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		maxRetries: maxRetries,
	}
}

func (r *OutboxRepository) MaxRetries() int { return r.maxRetries }

// CreateMessage stores msg inside tx so that it is committed together with
// the row it describes.
func (r *OutboxRepository) CreateMessage(ctx context.Context, tx pgx.Tx, msg *models.OutboxMessage) error {
	sqlStr, args, err := r.insertMessageSQL(msg)
	if err != nil {
		return err
	}

	var id int64
	if err := tx.QueryRow(ctx, sqlStr, args...).Scan(&id, &msg.MessageID, &msg.CreatedAt); err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}

	msg.ID = int(id)
	msg.Status = OutboxStatusPending
	msg.RetryCount = 0
	msg.SentAt = nil
	msg.LastError = nil
	return nil
}

func (r *OutboxRepository) insertMessageSQL(msg *models.OutboxMessage) (string, []interface{}, error) {
	if msg == nil {
		return "", nil, fmt.Errorf("outbox message is nil")
	}
	if msg.Topic == "" {
		return "", nil, fmt.Errorf("topic is empty")
	}
	if len(msg.Payload) == 0 {
		return "", nil, fmt.Errorf("payload is empty")
	}
	if !json.Valid(msg.Payload) {
		return "", nil, fmt.Errorf("payload is not valid json")
	}

	sqlStr, args, err := r.sb.
		Insert("outbox_messages").
		Columns("topic", "message_key", "payload", "status", "retry_count").
		Values(msg.Topic, msg.Key, []byte(msg.Payload), OutboxStatusPending, 0).
		Suffix("RETURNING id, message_id::text, created_at").
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build outbox insert: %w", err)
	}
	return sqlStr, args, nil
}

// GetPendingMessages returns up to limit pending messages, oldest first.
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	sqlStr, args, err := r.sb.
		Select(
			"id",
			"message_id::text",
			"topic",
			"message_key",
			"payload",
			"status",
			"retry_count",
			"created_at",
			"sent_at",
			"last_error",
		).
		From("outbox_messages").
		Where(sq.Eq{"status": OutboxStatusPending}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build outbox select pending: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox pending: %w", err)
	}
	defer rows.Close()

	res := make([]*models.OutboxMessage, 0, limit)

	for rows.Next() {
		var (
			m         models.OutboxMessage
			id        int64
			payload   []byte
			sentAt    pgtype.Timestamptz
			lastError pgtype.Text
		)

		if err := rows.Scan(
			&id,
			&m.MessageID,
			&m.Topic,
			&m.Key,
			&payload,
			&m.Status,
			&m.RetryCount,
			&m.CreatedAt,
			&sentAt,
			&lastError,
		); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}

		m.ID = int(id)
		m.Payload = payload

		if sentAt.Valid {
			t := sentAt.Time
			m.SentAt = &t
		}
		if lastError.Valid {
			s := lastError.String
			m.LastError = &s
		}

		res = append(res, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	return res, nil
}

func (r *OutboxRepository) MarkAsSent(ctx context.Context, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("messageID is empty")
	}

	sqlStr, args, err := r.sb.
		Update("outbox_messages").
		Set("status", OutboxStatusSent).
		Set("sent_at", sq.Expr("NOW()")).
		Set("last_error", nil).
		Where(sq.Eq{"message_id": messageID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build outbox mark sent: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAsFailed bumps retry_count and stores the error; the message turns
// failed once maxRetries is reached.
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, messageID string, errorMsg string) error {
	if messageID == "" {
		return fmt.Errorf("messageID is empty")
	}
	if errorMsg == "" {
		errorMsg = "unknown error"
	}

	sqlStr, args, err := r.sb.
		Update("outbox_messages").
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("last_error", errorMsg).
		Set("status", sq.Expr(
			"CASE WHEN (retry_count + 1) >= ? THEN ? ELSE ? END",
			r.maxRetries, OutboxStatusFailed, OutboxStatusPending,
		)).
		Where(sq.Eq{"message_id": messageID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build outbox mark failed: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CleanupOldMessages deletes sent messages older than retentionDays.
func (r *OutboxRepository) CleanupOldMessages(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	sqlStr, args, err := r.sb.
		Delete("outbox_messages").
		Where(sq.Eq{"status": OutboxStatusSent}).
		Where(sq.Expr("created_at < NOW() - (? * INTERVAL '1 day')", retentionDays)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build outbox cleanup: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}

	return int(tag.RowsAffected()), nil
}
