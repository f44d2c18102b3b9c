package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Warner is the logging surface the collector needs.
type Warner interface {
	Warn(msg string, keysAndValues ...interface{})
}

func StartDBCollectors(ctx context.Context, db *pgxpool.Pool, interval time.Duration, log Warner) {
	if db == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		updateDBGauges(ctx, db, log)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				updateDBGauges(ctx, db, log)
			}
		}
	}()
}

func updateDBGauges(ctx context.Context, db *pgxpool.Pool, log Warner) {
	// booking journal by status
	{
		rows, err := db.Query(ctx, `SELECT status, COUNT(*) FROM booking_outcomes GROUP BY status`)
		if err != nil {
			if log != nil {
				log.Warn("metrics db query booking_outcomes", "error", err)
			}
		} else {
			for rows.Next() {
				var status string
				var cnt int64
				if err := rows.Scan(&status, &cnt); err != nil {
					continue
				}
				SetBookingJournalStatusCount(status, cnt)
			}
			rows.Close()
		}
	}

	// outbox by status (+ pending)
	{
		rows, err := db.Query(ctx, `SELECT status, COUNT(*) FROM outbox_messages GROUP BY status`)
		if err != nil {
			return
		}
		defer rows.Close()

		var pending int64
		for rows.Next() {
			var status string
			var cnt int64
			if err := rows.Scan(&status, &cnt); err != nil {
				continue
			}
			SetOutboxStatusCount(status, cnt)
			if status == "pending" {
				pending = cnt
			}
		}
		SetOutboxPendingCount(pending)
	}
}
