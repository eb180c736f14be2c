package domain

import "time"

type InventoryItem struct {
	ID                string
	SKU               string
	Location          string
	OnHand            int
	Reserved          int
	LowStockThreshold *int // nil falls back to the global default
	Version           int  // optimistic locking
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

func (i InventoryItem) Available() int {
	return i.OnHand - i.Reserved
}

func (i InventoryItem) Archived() bool {
	return i.DeletedAt != nil
}

// Valid reports whether the balance satisfies 0 <= reserved <= on_hand.
func (i InventoryItem) Valid() bool {
	return i.Reserved >= 0 && i.Reserved <= i.OnHand
}

// ThresholdOr returns the item's own threshold or def when none is configured.
func (i InventoryItem) ThresholdOr(def int) int {
	if i.LowStockThreshold != nil {
		return *i.LowStockThreshold
	}
	return def
}

// Balance is the result of a ledger operation. Replayed is set when the
// operation matched an already committed reference and nothing was applied.
type Balance struct {
	ItemID    string
	SKU       string
	OnHand    int
	Reserved  int
	Available int
	Replayed  bool
}

func BalanceOf(item InventoryItem) Balance {
	return Balance{
		ItemID:    item.ID,
		SKU:       item.SKU,
		OnHand:    item.OnHand,
		Reserved:  item.Reserved,
		Available: item.Available(),
	}
}

type Availability struct {
	ItemID     string
	SKU        string
	Requested  int
	Available  int
	Sufficient bool
}
