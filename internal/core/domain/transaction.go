package domain

import "time"

type TransactionKind string

const (
	KindReceive TransactionKind = "RECEIVE"
	KindIssue   TransactionKind = "ISSUE"
	KindReserve TransactionKind = "RESERVE"
	KindRelease TransactionKind = "RELEASE"
	KindAdjust  TransactionKind = "ADJUST"
)

// StockTransaction is an immutable ledger row. OnHandAfter and ReservedAfter
// snapshot the balance right after the row was applied so that a replayed
// reference can return the original result.
type StockTransaction struct {
	ID            string
	ItemID        string
	Kind          TransactionKind
	Quantity      int
	Delta         int
	ReferenceID   string
	Notes         string
	OnHandAfter   int
	ReservedAfter int
	CreatedAt     time.Time
}

func (t StockTransaction) Balance(sku string) Balance {
	return Balance{
		ItemID:    t.ItemID,
		SKU:       sku,
		OnHand:    t.OnHandAfter,
		Reserved:  t.ReservedAfter,
		Available: t.OnHandAfter - t.ReservedAfter,
	}
}
