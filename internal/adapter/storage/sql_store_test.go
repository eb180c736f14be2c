package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

func openSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "ledger.db")

	store, err := Open(ctx, DriverSQLite, dsn, Options{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func seedItem(t *testing.T, store *SQLStore, id, sku string, onHand int) {
	t.Helper()

	now := time.Now().UTC()
	err := store.RunInTx(context.Background(), func(tx port.LedgerTx) error {
		return tx.CreateItem(context.Background(), domain.InventoryItem{
			ID:        id,
			SKU:       sku,
			OnHand:    onHand,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn", Options{})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestSQLStore_CreateAndGetItem(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	threshold := 4
	now := time.Now().UTC()
	err := store.RunInTx(ctx, func(tx port.LedgerTx) error {
		return tx.CreateItem(ctx, domain.InventoryItem{
			ID:                "item-1",
			SKU:               "SKU-1",
			Location:          "WH-A",
			OnHand:            15,
			LowStockThreshold: &threshold,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	})
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	item, err := store.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if item == nil {
		t.Fatal("expected item, got nil")
	}
	if item.SKU != "SKU-1" || item.Location != "WH-A" {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.OnHand != 15 || item.Reserved != 0 {
		t.Errorf("expected 15/0, got %d/%d", item.OnHand, item.Reserved)
	}
	if item.LowStockThreshold == nil || *item.LowStockThreshold != 4 {
		t.Errorf("expected threshold 4, got %v", item.LowStockThreshold)
	}
	if item.Archived() {
		t.Error("expected item not archived")
	}

	bySKU, err := store.GetItemBySKU(ctx, "SKU-1")
	if err != nil {
		t.Fatalf("GetItemBySKU failed: %v", err)
	}
	if bySKU == nil || bySKU.ID != "item-1" {
		t.Errorf("expected item-1 by sku, got %+v", bySKU)
	}
}

func TestSQLStore_GetItem_NotFound(t *testing.T) {
	store := openSQLiteStore(t)

	item, err := store.GetItem(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item != nil {
		t.Error("expected nil for missing item")
	}
}

func TestSQLStore_CreateItem_DuplicateSKU(t *testing.T) {
	store := openSQLiteStore(t)
	seedItem(t, store, "item-1", "SKU-1", 0)

	now := time.Now().UTC()
	err := store.RunInTx(context.Background(), func(tx port.LedgerTx) error {
		return tx.CreateItem(context.Background(), domain.InventoryItem{
			ID: "item-2", SKU: "SKU-1", CreatedAt: now, UpdatedAt: now,
		})
	})
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got: %v", err)
	}
}

func TestSQLStore_UpdateItem_OptimisticLock(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-1", "SKU-1", 100)

	err := store.RunInTx(ctx, func(tx port.LedgerTx) error {
		item, err := tx.LockItem(ctx, "item-1")
		if err != nil {
			return err
		}
		item.OnHand = 90
		return tx.UpdateItem(ctx, *item)
	})
	if err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}

	item, _ := store.GetItem(ctx, "item-1")
	if item.Version != 1 {
		t.Errorf("expected version 1, got %d", item.Version)
	}

	// Stale version
	err = store.RunInTx(ctx, func(tx port.LedgerTx) error {
		stale := *item
		stale.Version = 0
		return tx.UpdateItem(ctx, stale)
	})
	if !errors.Is(err, domain.ErrOptimisticLock) {
		t.Errorf("expected ErrOptimisticLock, got: %v", err)
	}
}

func TestSQLStore_ListItems_SkipsArchived(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-c", "SKU-C", 1)
	seedItem(t, store, "item-a", "SKU-A", 1)
	seedItem(t, store, "item-b", "SKU-B", 1)

	err := store.RunInTx(ctx, func(tx port.LedgerTx) error {
		item, err := tx.LockItem(ctx, "item-b")
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		item.DeletedAt = &now
		item.Location = "WH-9"
		return tx.UpdateItem(ctx, *item)
	})
	if err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}

	archived, _ := store.GetItem(ctx, "item-b")
	if archived.Location != "WH-9" {
		t.Errorf("expected location WH-9 persisted, got %q", archived.Location)
	}

	items, err := store.ListItems(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 2 || items[0].SKU != "SKU-A" || items[1].SKU != "SKU-C" {
		t.Fatalf("expected SKU-A, SKU-C, got %+v", items)
	}

	page, err := store.ListItems(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(page) != 1 || page[0].SKU != "SKU-C" {
		t.Errorf("expected SKU-C on the second page, got %+v", page)
	}
}

func TestSQLStore_BalanceCheckConstraint(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-1", "SKU-1", 5)

	err := store.RunInTx(ctx, func(tx port.LedgerTx) error {
		item, err := tx.LockItem(ctx, "item-1")
		if err != nil {
			return err
		}
		item.Reserved = 6
		return tx.UpdateItem(ctx, *item)
	})
	if err == nil {
		t.Error("expected reserved > on_hand to be rejected by the store")
	}
}

func TestSQLStore_RunInTx_RollsBack(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-1", "SKU-1", 10)

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(tx port.LedgerTx) error {
		item, err := tx.LockItem(ctx, "item-1")
		if err != nil {
			return err
		}
		item.OnHand = 0
		if err := tx.UpdateItem(ctx, *item); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got: %v", err)
	}

	item, _ := store.GetItem(ctx, "item-1")
	if item.OnHand != 10 {
		t.Errorf("expected rollback to keep on hand 10, got %d", item.OnHand)
	}
}

func TestSQLStore_Transactions_IdempotencyKey(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-1", "SKU-1", 10)

	txn := domain.StockTransaction{
		ID:            "txn-1",
		ItemID:        "item-1",
		Kind:          domain.KindReserve,
		Quantity:      3,
		Delta:         3,
		ReferenceID:   "order-1",
		OnHandAfter:   10,
		ReservedAfter: 3,
		CreatedAt:     time.Now().UTC(),
	}

	err := store.RunInTx(ctx, func(tx port.LedgerTx) error {
		return tx.AppendTransaction(ctx, txn)
	})
	if err != nil {
		t.Fatalf("AppendTransaction failed: %v", err)
	}

	// Same (item, kind, reference) is rejected
	dup := txn
	dup.ID = "txn-2"
	err = store.RunInTx(ctx, func(tx port.LedgerTx) error {
		return tx.AppendTransaction(ctx, dup)
	})
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got: %v", err)
	}

	// Same reference under another kind is a different key
	release := txn
	release.ID = "txn-3"
	release.Kind = domain.KindRelease
	release.Delta = -3
	release.ReservedAfter = 0
	err = store.RunInTx(ctx, func(tx port.LedgerTx) error {
		return tx.AppendTransaction(ctx, release)
	})
	if err != nil {
		t.Fatalf("AppendTransaction release failed: %v", err)
	}

	var found *domain.StockTransaction
	err = store.RunInTx(ctx, func(tx port.LedgerTx) error {
		var err error
		found, err = tx.FindTransaction(ctx, "item-1", domain.KindReserve, "order-1")
		return err
	})
	if err != nil {
		t.Fatalf("FindTransaction failed: %v", err)
	}
	if found == nil || found.ID != "txn-1" || found.ReservedAfter != 3 {
		t.Errorf("unexpected transaction: %+v", found)
	}

	txns, err := store.ListTransactions(ctx, "item-1", 10)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txns) != 2 {
		t.Errorf("expected 2 transactions, got %d", len(txns))
	}
}

func TestSQLStore_Transactions_EmptyReferenceNotUnique(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-1", "SKU-1", 0)

	for i, id := range []string{"txn-1", "txn-2"} {
		txn := domain.StockTransaction{
			ID:          id,
			ItemID:      "item-1",
			Kind:        domain.KindReceive,
			Quantity:    5,
			Delta:       5,
			OnHandAfter: 5 * (i + 1),
			CreatedAt:   time.Now().UTC(),
		}
		err := store.RunInTx(ctx, func(tx port.LedgerTx) error {
			return tx.AppendTransaction(ctx, txn)
		})
		if err != nil {
			t.Fatalf("AppendTransaction %s failed: %v", id, err)
		}
	}
}

func TestSQLStore_Transactions_GetByID(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-1", "SKU-1", 0)

	txn := domain.StockTransaction{
		ID:          "txn-1",
		ItemID:      "item-1",
		Kind:        domain.KindAdjust,
		Quantity:    4,
		Delta:       4,
		OnHandAfter: 4,
		CreatedAt:   time.Now().UTC(),
	}
	err := store.RunInTx(ctx, func(tx port.LedgerTx) error {
		return tx.AppendTransaction(ctx, txn)
	})
	if err != nil {
		t.Fatalf("AppendTransaction failed: %v", err)
	}

	// The ID is the operation key, so a second write under it is rejected
	err = store.RunInTx(ctx, func(tx port.LedgerTx) error {
		return tx.AppendTransaction(ctx, txn)
	})
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got: %v", err)
	}

	var found, missing *domain.StockTransaction
	err = store.RunInTx(ctx, func(tx port.LedgerTx) error {
		var err error
		if found, err = tx.GetTransaction(ctx, "txn-1"); err != nil {
			return err
		}
		missing, err = tx.GetTransaction(ctx, "txn-404")
		return err
	})
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if found == nil || found.OnHandAfter != 4 || found.Kind != domain.KindAdjust {
		t.Errorf("unexpected transaction: %+v", found)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown id, got %+v", missing)
	}
}

func TestSQLStore_Alerts_AtMostOneOpen(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-1", "SKU-1", 8)

	now := time.Now().UTC()
	alert := domain.LowStockAlert{
		ID:              "alert-1",
		ItemID:          "item-1",
		Threshold:       10,
		CurrentQuantity: 8,
		CreatedAt:       now,
	}
	err := store.RunInTx(ctx, func(tx port.LedgerTx) error {
		return tx.CreateAlert(ctx, alert)
	})
	if err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	second := alert
	second.ID = "alert-2"
	err = store.RunInTx(ctx, func(tx port.LedgerTx) error {
		return tx.CreateAlert(ctx, second)
	})
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for second open alert, got: %v", err)
	}

	open, err := store.ListOpenAlerts(ctx)
	if err != nil {
		t.Fatalf("ListOpenAlerts failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != "alert-1" {
		t.Fatalf("expected alert-1 open, got %+v", open)
	}

	err = store.RunInTx(ctx, func(tx port.LedgerTx) error {
		found, err := tx.OpenAlert(ctx, "item-1")
		if err != nil {
			return err
		}
		if found == nil {
			return errors.New("open alert not found")
		}
		return tx.ResolveAlert(ctx, found.ID, now.Add(time.Minute))
	})
	if err != nil {
		t.Fatalf("ResolveAlert failed: %v", err)
	}

	open, _ = store.ListOpenAlerts(ctx)
	if len(open) != 0 {
		t.Errorf("expected no open alerts, got %d", len(open))
	}

	// A new episode can open once the previous one is resolved
	err = store.RunInTx(ctx, func(tx port.LedgerTx) error {
		return tx.CreateAlert(ctx, second)
	})
	if err != nil {
		t.Errorf("expected new alert after resolve, got: %v", err)
	}
}

func TestSQLStore_ResolveAlert_AlreadyResolved(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-1", "SKU-1", 8)

	err := store.RunInTx(ctx, func(tx port.LedgerTx) error {
		return tx.ResolveAlert(ctx, "missing-alert", time.Now())
	})
	if !errors.Is(err, domain.ErrOptimisticLock) {
		t.Errorf("expected ErrOptimisticLock, got: %v", err)
	}
}

func enqueue(t *testing.T, store *SQLStore, records ...domain.OutboxRecord) {
	t.Helper()
	err := store.RunInTx(context.Background(), func(tx port.LedgerTx) error {
		return tx.EnqueueOutbox(context.Background(), records...)
	})
	if err != nil {
		t.Fatalf("EnqueueOutbox failed: %v", err)
	}
}

func newRecord(t *testing.T, itemID string, qty int, at time.Time) domain.OutboxRecord {
	t.Helper()
	record, err := domain.NewOutboxRecord(domain.StockUpdatedEvent{
		ItemID:          itemID,
		SKU:             "SKU-" + itemID,
		Kind:            domain.KindReceive,
		QuantityDelta:   qty,
		ResultingOnHand: qty,
		OccurredAt:      at,
	}, at)
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	return record
}

func TestSQLStore_Outbox_Lifecycle(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	first := newRecord(t, "item-1", 1, now)
	second := newRecord(t, "item-1", 2, now)
	third := newRecord(t, "item-2", 3, now)
	enqueue(t, store, first, second, third)

	pending, err := store.PendingOutbox(ctx, 0, 10)
	if err != nil {
		t.Fatalf("PendingOutbox failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	for i, want := range []string{first.EventID, second.EventID, third.EventID} {
		if pending[i].EventID != want {
			t.Errorf("pending[%d]: expected %s, got %s", i, want, pending[i].EventID)
		}
	}
	if pending[0].Seq >= pending[1].Seq {
		t.Errorf("expected increasing seq, got %d then %d", pending[0].Seq, pending[1].Seq)
	}
	if len(pending[0].Payload) == 0 {
		t.Error("expected payload")
	}

	stats, err := store.OutboxStats(ctx)
	if err != nil {
		t.Fatalf("OutboxStats failed: %v", err)
	}
	if stats.Pending != 3 || stats.OldestPending == nil {
		t.Errorf("unexpected stats: %+v", stats)
	}

	next := now.Add(time.Minute)
	if err := store.MarkOutboxFailed(ctx, first.EventID, next, "broker down"); err != nil {
		t.Fatalf("MarkOutboxFailed failed: %v", err)
	}
	pending, _ = store.PendingOutbox(ctx, 0, 10)
	if pending[0].AttemptCount != 1 || pending[0].LastError != "broker down" {
		t.Errorf("expected failed attempt recorded, got %+v", pending[0])
	}
	if !pending[0].NextAttemptAt.After(now) {
		t.Errorf("expected next attempt in the future, got %v", pending[0].NextAttemptAt)
	}

	if err := store.RequeueOutbox(ctx, first.EventID, now); err != nil {
		t.Fatalf("RequeueOutbox failed: %v", err)
	}

	for _, id := range []string{first.EventID, second.EventID} {
		if err := store.MarkOutboxDelivered(ctx, id, now); err != nil {
			t.Fatalf("MarkOutboxDelivered failed: %v", err)
		}
	}
	// Idempotent
	if err := store.MarkOutboxDelivered(ctx, first.EventID, now); err != nil {
		t.Errorf("expected repeated mark to succeed, got: %v", err)
	}

	pending, _ = store.PendingOutbox(ctx, 0, 10)
	if len(pending) != 1 || pending[0].EventID != third.EventID {
		t.Errorf("expected only third pending, got %+v", pending)
	}

	if err := store.RequeueOutbox(ctx, first.EventID, now); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound for delivered record, got: %v", err)
	}
}

func TestSQLStore_OutboxStats_Empty(t *testing.T) {
	store := openSQLiteStore(t)

	stats, err := store.OutboxStats(context.Background())
	if err != nil {
		t.Fatalf("OutboxStats failed: %v", err)
	}
	if stats.Pending != 0 || stats.OldestPending != nil {
		t.Errorf("expected empty stats, got %+v", stats)
	}
}

func TestSQLStore_MarkOutboxFailed_TruncatesError(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	record := newRecord(t, "item-1", 1, time.Now().UTC())
	enqueue(t, store, record)

	long := make([]byte, 4096)
	for i := range long {
		long[i] = 'x'
	}
	if err := store.MarkOutboxFailed(ctx, record.EventID, time.Now(), string(long)); err != nil {
		t.Fatalf("MarkOutboxFailed failed: %v", err)
	}

	pending, _ := store.PendingOutbox(ctx, 0, 1)
	if len(pending[0].LastError) != maxLastErrorLen {
		t.Errorf("expected last error truncated to %d, got %d", maxLastErrorLen, len(pending[0].LastError))
	}
}

func TestSQLStore_PendingOutbox_PagesBySeq(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	enqueue(t, store,
		newRecord(t, "item-1", 1, now),
		newRecord(t, "item-1", 2, now),
		newRecord(t, "item-2", 3, now),
	)

	page, err := store.PendingOutbox(ctx, 0, 2)
	if err != nil {
		t.Fatalf("PendingOutbox failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 records on the first page, got %d", len(page))
	}

	next, err := store.PendingOutbox(ctx, page[1].Seq, 2)
	if err != nil {
		t.Fatalf("PendingOutbox failed: %v", err)
	}
	if len(next) != 1 || next[0].AggregateID != "item-2" {
		t.Fatalf("expected item-2 on the second page, got %+v", next)
	}
	if next[0].Seq <= page[1].Seq {
		t.Errorf("expected seq after %d, got %d", page[1].Seq, next[0].Seq)
	}
}
