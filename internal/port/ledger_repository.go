package port

import (
	"context"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

type LedgerRepository interface {
	// RunInTx executes fn inside one storage transaction; any error from fn rolls it back
	RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// GetItem retrieves an item by ID, nil if it does not exist
	GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error)

	// GetItemBySKU retrieves an item by SKU, nil if it does not exist
	GetItemBySKU(ctx context.Context, sku string) (*domain.InventoryItem, error)

	// ListItems returns live items ordered by SKU
	ListItems(ctx context.Context, limit, offset int) ([]domain.InventoryItem, error)

	// ListTransactions returns the newest transactions of an item first
	ListTransactions(ctx context.Context, itemID string, limit int) ([]domain.StockTransaction, error)

	// ListOpenAlerts returns all unresolved low stock alerts
	ListOpenAlerts(ctx context.Context) ([]domain.LowStockAlert, error)

	Ping(ctx context.Context) error
}

// LedgerTx is the unit of work used by the ledger engine. Reads through
// LockItem serialize concurrent mutations of the same item.
type LedgerTx interface {
	LockItem(ctx context.Context, itemID string) (*domain.InventoryItem, error)
	LockItemBySKU(ctx context.Context, sku string) (*domain.InventoryItem, error)
	CreateItem(ctx context.Context, item domain.InventoryItem) error

	// UpdateItem writes balance, location and settings with version check for optimistic locking
	UpdateItem(ctx context.Context, item domain.InventoryItem) error

	// FindTransaction looks up a committed transaction by its idempotency key
	FindTransaction(ctx context.Context, itemID string, kind domain.TransactionKind, referenceID string) (*domain.StockTransaction, error)

	// GetTransaction looks up a committed transaction by its ID, nil if absent
	GetTransaction(ctx context.Context, transactionID string) (*domain.StockTransaction, error)
	AppendTransaction(ctx context.Context, txn domain.StockTransaction) error

	OpenAlert(ctx context.Context, itemID string) (*domain.LowStockAlert, error)
	CreateAlert(ctx context.Context, alert domain.LowStockAlert) error
	ResolveAlert(ctx context.Context, alertID string, resolvedAt time.Time) error

	EnqueueOutbox(ctx context.Context, records ...domain.OutboxRecord) error
}

type OutboxRepository interface {
	// PendingOutbox returns undelivered records with seq greater than afterSeq, in creation order
	PendingOutbox(ctx context.Context, afterSeq int64, limit int) ([]domain.OutboxRecord, error)

	MarkOutboxDelivered(ctx context.Context, eventID string, deliveredAt time.Time) error

	// MarkOutboxFailed increments the attempt count and schedules the next attempt
	MarkOutboxFailed(ctx context.Context, eventID string, nextAttemptAt time.Time, lastErr string) error

	// RequeueOutbox makes an undelivered record due immediately
	RequeueOutbox(ctx context.Context, eventID string, at time.Time) error

	OutboxStats(ctx context.Context) (domain.OutboxStats, error)
}
