package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

const itemColumns = `item_id, sku, location, on_hand, reserved, low_stock_threshold, version, created_at, updated_at, deleted_at`

type itemRow struct {
	ID                string        `db:"item_id"`
	SKU               string        `db:"sku"`
	Location          string        `db:"location"`
	OnHand            int           `db:"on_hand"`
	Reserved          int           `db:"reserved"`
	LowStockThreshold sql.NullInt64 `db:"low_stock_threshold"`
	Version           int           `db:"version"`
	CreatedAt         time.Time     `db:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at"`
	DeletedAt         sql.NullTime  `db:"deleted_at"`
}

func (r itemRow) toDomain() *domain.InventoryItem {
	return &domain.InventoryItem{
		ID:                r.ID,
		SKU:               r.SKU,
		Location:          r.Location,
		OnHand:            r.OnHand,
		Reserved:          r.Reserved,
		LowStockThreshold: intPtr(r.LowStockThreshold),
		Version:           r.Version,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
		DeletedAt:         timePtr(r.DeletedAt),
	}
}

func getItem(ctx context.Context, q queryer, d dialect, where string, arg any, lock bool) (*domain.InventoryItem, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE ` + where + ` = ?`
	if lock {
		query += d.lockSuffix
	}

	var row itemRow
	if err := q.GetContext(ctx, &row, q.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, d.classify(err)
	}
	return row.toDomain(), nil
}

func (s *SQLStore) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	return getItem(ctx, s.db, s.dialect, "item_id", itemID, false)
}

func (s *SQLStore) GetItemBySKU(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	return getItem(ctx, s.db, s.dialect, "sku", sku, false)
}

// ListItems pages through live items ordered by SKU.
func (s *SQLStore) ListItems(ctx context.Context, limit, offset int) ([]domain.InventoryItem, error) {
	query := s.db.Rebind(`SELECT ` + itemColumns + ` FROM inventory_items
		WHERE deleted_at IS NULL
		ORDER BY sku
		LIMIT ? OFFSET ?`)

	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, s.dialect.classify(err)
	}

	items := make([]domain.InventoryItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, *row.toDomain())
	}
	return items, nil
}

func (t *sqlTx) LockItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	return getItem(ctx, t.tx, t.dialect, "item_id", itemID, true)
}

func (t *sqlTx) LockItemBySKU(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	return getItem(ctx, t.tx, t.dialect, "sku", sku, true)
}

func (t *sqlTx) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	query := t.tx.Rebind(`INSERT INTO inventory_items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := t.tx.ExecContext(ctx, query,
		item.ID,
		item.SKU,
		item.Location,
		item.OnHand,
		item.Reserved,
		nullInt(item.LowStockThreshold),
		item.Version,
		item.CreatedAt.UTC(),
		item.UpdatedAt.UTC(),
		nullTime(item.DeletedAt),
	)
	if err != nil {
		return t.dialect.classify(err)
	}
	return nil
}

func (t *sqlTx) UpdateItem(ctx context.Context, item domain.InventoryItem) error {
	query := t.tx.Rebind(`UPDATE inventory_items
		SET location = ?, on_hand = ?, reserved = ?, low_stock_threshold = ?, updated_at = ?, deleted_at = ?, version = version + 1
		WHERE item_id = ? AND version = ?`)

	result, err := t.tx.ExecContext(ctx, query,
		item.Location,
		item.OnHand,
		item.Reserved,
		nullInt(item.LowStockThreshold),
		item.UpdatedAt.UTC(),
		nullTime(item.DeletedAt),
		item.ID,
		item.Version,
	)
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
