package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

const (
	outboxColumns   = `seq, event_id, event_type, aggregate_id, payload, created_at, delivered_at, attempt_count, next_attempt_at, last_error`
	maxLastErrorLen = 1024
)

type outboxRow struct {
	Seq           int64        `db:"seq"`
	EventID       string       `db:"event_id"`
	EventType     string       `db:"event_type"`
	AggregateID   string       `db:"aggregate_id"`
	Payload       []byte       `db:"payload"`
	CreatedAt     time.Time    `db:"created_at"`
	DeliveredAt   sql.NullTime `db:"delivered_at"`
	AttemptCount  int          `db:"attempt_count"`
	NextAttemptAt time.Time    `db:"next_attempt_at"`
	LastError     string       `db:"last_error"`
}

func (r outboxRow) toDomain() domain.OutboxRecord {
	return domain.OutboxRecord{
		Seq:           r.Seq,
		EventID:       r.EventID,
		EventType:     domain.EventType(r.EventType),
		AggregateID:   r.AggregateID,
		Payload:       r.Payload,
		CreatedAt:     r.CreatedAt.UTC(),
		DeliveredAt:   timePtr(r.DeliveredAt),
		AttemptCount:  r.AttemptCount,
		NextAttemptAt: r.NextAttemptAt.UTC(),
		LastError:     r.LastError,
	}
}

func (t *sqlTx) EnqueueOutbox(ctx context.Context, records ...domain.OutboxRecord) error {
	query := t.tx.Rebind(`INSERT INTO outbox_events
		(event_id, event_type, aggregate_id, payload, created_at, attempt_count, next_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	for _, record := range records {
		_, err := t.tx.ExecContext(ctx, query,
			record.EventID,
			string(record.EventType),
			record.AggregateID,
			string(record.Payload),
			record.CreatedAt.UTC(),
			record.AttemptCount,
			record.NextAttemptAt.UTC(),
			record.LastError,
		)
		if err != nil {
			return t.dialect.classify(fmt.Errorf("insert outbox event %s: %w", record.EventID, err))
		}
	}
	return nil
}

func (s *SQLStore) PendingOutbox(ctx context.Context, afterSeq int64, limit int) ([]domain.OutboxRecord, error) {
	query := s.db.Rebind(`SELECT ` + outboxColumns + ` FROM outbox_events
		WHERE delivered_at IS NULL AND seq > ?
		ORDER BY seq
		LIMIT ?`)

	var rows []outboxRow
	if err := s.db.SelectContext(ctx, &rows, query, afterSeq, limit); err != nil {
		return nil, s.dialect.classify(err)
	}

	records := make([]domain.OutboxRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

// MarkOutboxDelivered is idempotent: marking an already delivered record is
// not an error.
func (s *SQLStore) MarkOutboxDelivered(ctx context.Context, eventID string, deliveredAt time.Time) error {
	query := s.db.Rebind(`UPDATE outbox_events SET delivered_at = ?
		WHERE event_id = ? AND delivered_at IS NULL`)

	_, err := s.db.ExecContext(ctx, query, deliveredAt.UTC(), eventID)
	return s.dialect.classify(err)
}

func (s *SQLStore) MarkOutboxFailed(ctx context.Context, eventID string, nextAttemptAt time.Time, lastErr string) error {
	if len(lastErr) > maxLastErrorLen {
		lastErr = lastErr[:maxLastErrorLen]
	}

	query := s.db.Rebind(`UPDATE outbox_events
		SET attempt_count = attempt_count + 1, next_attempt_at = ?, last_error = ?
		WHERE event_id = ? AND delivered_at IS NULL`)

	_, err := s.db.ExecContext(ctx, query, nextAttemptAt.UTC(), lastErr, eventID)
	return s.dialect.classify(err)
}

func (s *SQLStore) RequeueOutbox(ctx context.Context, eventID string, at time.Time) error {
	query := s.db.Rebind(`UPDATE outbox_events SET next_attempt_at = ?
		WHERE event_id = ? AND delivered_at IS NULL`)

	result, err := s.db.ExecContext(ctx, query, at.UTC(), eventID)
	if err != nil {
		return s.dialect.classify(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrEventNotFound, eventID)
	}
	return nil
}

func (s *SQLStore) OutboxStats(ctx context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats

	countQuery := `SELECT COUNT(*) FROM outbox_events WHERE delivered_at IS NULL`
	if err := s.db.GetContext(ctx, &stats.Pending, countQuery); err != nil {
		return domain.OutboxStats{}, s.dialect.classify(err)
	}
	if stats.Pending == 0 {
		return stats, nil
	}

	// Aggregates lose the column type on SQLite, so read the oldest row directly.
	oldestQuery := `SELECT created_at FROM outbox_events WHERE delivered_at IS NULL ORDER BY seq LIMIT 1`
	var oldest time.Time
	if err := s.db.GetContext(ctx, &oldest, oldestQuery); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OutboxStats{}, nil
		}
		return domain.OutboxStats{}, s.dialect.classify(err)
	}
	oldest = oldest.UTC()
	stats.OldestPending = &oldest
	return stats, nil
}
