package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

const alertColumns = `alert_id, item_id, threshold, current_quantity, is_resolved, created_at, resolved_at`

type alertRow struct {
	ID              string       `db:"alert_id"`
	ItemID          string       `db:"item_id"`
	Threshold       int          `db:"threshold"`
	CurrentQuantity int          `db:"current_quantity"`
	IsResolved      bool         `db:"is_resolved"`
	CreatedAt       time.Time    `db:"created_at"`
	ResolvedAt      sql.NullTime `db:"resolved_at"`
}

func (r alertRow) toDomain() domain.LowStockAlert {
	return domain.LowStockAlert{
		ID:              r.ID,
		ItemID:          r.ItemID,
		Threshold:       r.Threshold,
		CurrentQuantity: r.CurrentQuantity,
		IsResolved:      r.IsResolved,
		CreatedAt:       r.CreatedAt.UTC(),
		ResolvedAt:      timePtr(r.ResolvedAt),
	}
}

func (t *sqlTx) OpenAlert(ctx context.Context, itemID string) (*domain.LowStockAlert, error) {
	query := t.tx.Rebind(`SELECT ` + alertColumns + ` FROM low_stock_alerts WHERE open_item_id = ?`)

	var row alertRow
	if err := t.tx.GetContext(ctx, &row, query, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, t.dialect.classify(err)
	}
	alert := row.toDomain()
	return &alert, nil
}

// CreateAlert opens an alert. open_item_id is unique, so a second open alert
// for the same item fails with ErrDuplicateKey.
func (t *sqlTx) CreateAlert(ctx context.Context, alert domain.LowStockAlert) error {
	openItemID := alert.ItemID
	if alert.IsResolved {
		openItemID = ""
	}

	query := t.tx.Rebind(`INSERT INTO low_stock_alerts
		(alert_id, item_id, open_item_id, threshold, current_quantity, is_resolved, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := t.tx.ExecContext(ctx, query,
		alert.ID,
		alert.ItemID,
		nullString(openItemID),
		alert.Threshold,
		alert.CurrentQuantity,
		alert.IsResolved,
		alert.CreatedAt.UTC(),
		nullTime(alert.ResolvedAt),
	)
	return t.dialect.classify(err)
}

func (t *sqlTx) ResolveAlert(ctx context.Context, alertID string, resolvedAt time.Time) error {
	query := t.tx.Rebind(`UPDATE low_stock_alerts
		SET is_resolved = ?, resolved_at = ?, open_item_id = NULL
		WHERE alert_id = ? AND is_resolved = ?`)

	result, err := t.tx.ExecContext(ctx, query, true, resolvedAt.UTC(), alertID, false)
	if err != nil {
		return t.dialect.classify(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

func (s *SQLStore) ListOpenAlerts(ctx context.Context) ([]domain.LowStockAlert, error) {
	query := s.db.Rebind(`SELECT ` + alertColumns + ` FROM low_stock_alerts
		WHERE is_resolved = ?
		ORDER BY created_at`)

	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, query, false); err != nil {
		return nil, s.dialect.classify(err)
	}

	alerts := make([]domain.LowStockAlert, 0, len(rows))
	for _, row := range rows {
		alerts = append(alerts, row.toDomain())
	}
	return alerts, nil
}
