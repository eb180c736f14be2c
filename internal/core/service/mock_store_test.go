package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

type memState struct {
	items   map[string]domain.InventoryItem
	txns    []domain.StockTransaction
	alerts  map[string]domain.LowStockAlert
	outbox  []domain.OutboxRecord
	nextSeq int64
}

func (s *memState) clone() *memState {
	c := &memState{
		items:   make(map[string]domain.InventoryItem, len(s.items)),
		txns:    append([]domain.StockTransaction(nil), s.txns...),
		alerts:  make(map[string]domain.LowStockAlert, len(s.alerts)),
		outbox:  append([]domain.OutboxRecord(nil), s.outbox...),
		nextSeq: s.nextSeq,
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.alerts {
		c.alerts[k] = v
	}
	return c
}

// Mock LedgerRepository + OutboxRepository. Transactions are serialized and
// work on a copy of the state that is swapped in on commit.
type mockStore struct {
	mu    sync.Mutex
	state *memState

	// failTx makes the next N transactions fail with failErr before running.
	failTx  atomic.Int32
	failErr error
	// lostCommits makes the next N transactions commit and then report failErr,
	// like a connection dropped while the commit acknowledgement was in flight.
	lostCommits atomic.Int32
	txCount     atomic.Int32
	pingErr     error
}

func newMockStore() *mockStore {
	return &mockStore{
		state: &memState{
			items:  make(map[string]domain.InventoryItem),
			alerts: make(map[string]domain.LowStockAlert),
		},
		failErr: domain.ErrTransientStorage,
	}
}

func (m *mockStore) seed(item domain.InventoryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.items[item.ID] = item
}

func (m *mockStore) item(id string) domain.InventoryItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.items[id]
}

func (m *mockStore) transactions() []domain.StockTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StockTransaction(nil), m.state.txns...)
}

func (m *mockStore) outboxRecords() []domain.OutboxRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutboxRecord(nil), m.state.outbox...)
}

func (m *mockStore) outboxOfType(eventType domain.EventType) []domain.OutboxRecord {
	var out []domain.OutboxRecord
	for _, r := range m.outboxRecords() {
		if r.EventType == eventType {
			out = append(out, r)
		}
	}
	return out
}

func (m *mockStore) RunInTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	m.txCount.Add(1)
	if m.failTx.Load() > 0 {
		m.failTx.Add(-1)
		return m.failErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.state.clone()
	if err := fn(&mockTx{state: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = staged
	if m.lostCommits.Load() > 0 {
		m.lostCommits.Add(-1)
		return m.failErr
	}
	return nil
}

func (m *mockStore) GetItem(_ context.Context, itemID string) (*domain.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.state.items[itemID]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *mockStore) GetItemBySKU(_ context.Context, sku string) (*domain.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.state.items {
		if item.SKU == sku {
			return &item, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListItems(_ context.Context, limit, offset int) ([]domain.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.InventoryItem
	for _, item := range m.state.items {
		if !item.Archived() {
			all = append(all, item)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SKU < all[j].SKU })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *mockStore) ListTransactions(_ context.Context, itemID string, limit int) ([]domain.StockTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StockTransaction
	for i := len(m.state.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if m.state.txns[i].ItemID == itemID {
			out = append(out, m.state.txns[i])
		}
	}
	return out, nil
}

func (m *mockStore) ListOpenAlerts(_ context.Context) ([]domain.LowStockAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LowStockAlert
	for _, a := range m.state.alerts {
		if !a.IsResolved {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) Ping(context.Context) error {
	return m.pingErr
}

func (m *mockStore) PendingOutbox(_ context.Context, afterSeq int64, limit int) ([]domain.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutboxRecord
	for _, r := range m.state.outbox {
		if r.DeliveredAt == nil && r.Seq > afterSeq && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) updateOutbox(eventID string, fn func(r *domain.OutboxRecord)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.outbox {
		if m.state.outbox[i].EventID == eventID && m.state.outbox[i].DeliveredAt == nil {
			fn(&m.state.outbox[i])
			return true
		}
	}
	return false
}

func (m *mockStore) MarkOutboxDelivered(_ context.Context, eventID string, deliveredAt time.Time) error {
	m.updateOutbox(eventID, func(r *domain.OutboxRecord) { r.DeliveredAt = &deliveredAt })
	return nil
}

func (m *mockStore) MarkOutboxFailed(_ context.Context, eventID string, nextAttemptAt time.Time, lastErr string) error {
	m.updateOutbox(eventID, func(r *domain.OutboxRecord) {
		r.AttemptCount++
		r.NextAttemptAt = nextAttemptAt
		r.LastError = lastErr
	})
	return nil
}

func (m *mockStore) RequeueOutbox(_ context.Context, eventID string, at time.Time) error {
	if !m.updateOutbox(eventID, func(r *domain.OutboxRecord) { r.NextAttemptAt = at }) {
		return fmt.Errorf("%w: %s", domain.ErrEventNotFound, eventID)
	}
	return nil
}

func (m *mockStore) OutboxStats(_ context.Context) (domain.OutboxStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats domain.OutboxStats
	for _, r := range m.state.outbox {
		if r.DeliveredAt != nil {
			continue
		}
		stats.Pending++
		if stats.OldestPending == nil {
			created := r.CreatedAt
			stats.OldestPending = &created
		}
	}
	return stats, nil
}

type mockTx struct {
	state *memState
}

func (t *mockTx) LockItem(_ context.Context, itemID string) (*domain.InventoryItem, error) {
	item, ok := t.state.items[itemID]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (t *mockTx) LockItemBySKU(_ context.Context, sku string) (*domain.InventoryItem, error) {
	for _, item := range t.state.items {
		if item.SKU == sku {
			return &item, nil
		}
	}
	return nil, nil
}

func (t *mockTx) CreateItem(_ context.Context, item domain.InventoryItem) error {
	if _, ok := t.state.items[item.ID]; ok {
		return domain.ErrDuplicateKey
	}
	for _, existing := range t.state.items {
		if existing.SKU == item.SKU {
			return domain.ErrDuplicateKey
		}
	}
	t.state.items[item.ID] = item
	return nil
}

func (t *mockTx) UpdateItem(_ context.Context, item domain.InventoryItem) error {
	current, ok := t.state.items[item.ID]
	if !ok || current.Version != item.Version {
		return domain.ErrOptimisticLock
	}
	item.Version++
	t.state.items[item.ID] = item
	return nil
}

func (t *mockTx) FindTransaction(_ context.Context, itemID string, kind domain.TransactionKind, referenceID string) (*domain.StockTransaction, error) {
	for _, txn := range t.state.txns {
		if txn.ItemID == itemID && txn.Kind == kind && txn.ReferenceID == referenceID {
			return &txn, nil
		}
	}
	return nil, nil
}

func (t *mockTx) GetTransaction(_ context.Context, transactionID string) (*domain.StockTransaction, error) {
	for _, txn := range t.state.txns {
		if txn.ID == transactionID {
			return &txn, nil
		}
	}
	return nil, nil
}

func (t *mockTx) AppendTransaction(_ context.Context, txn domain.StockTransaction) error {
	if existing, _ := t.GetTransaction(context.Background(), txn.ID); existing != nil {
		return domain.ErrDuplicateKey
	}
	if txn.ReferenceID != "" {
		for _, existing := range t.state.txns {
			if existing.ItemID == txn.ItemID && existing.Kind == txn.Kind && existing.ReferenceID == txn.ReferenceID {
				return domain.ErrDuplicateKey
			}
		}
	}
	t.state.txns = append(t.state.txns, txn)
	return nil
}

func (t *mockTx) OpenAlert(_ context.Context, itemID string) (*domain.LowStockAlert, error) {
	for _, a := range t.state.alerts {
		if a.ItemID == itemID && !a.IsResolved {
			return &a, nil
		}
	}
	return nil, nil
}

func (t *mockTx) CreateAlert(ctx context.Context, alert domain.LowStockAlert) error {
	if open, _ := t.OpenAlert(ctx, alert.ItemID); open != nil {
		return domain.ErrDuplicateKey
	}
	t.state.alerts[alert.ID] = alert
	return nil
}

func (t *mockTx) ResolveAlert(_ context.Context, alertID string, resolvedAt time.Time) error {
	a, ok := t.state.alerts[alertID]
	if !ok || a.IsResolved {
		return domain.ErrOptimisticLock
	}
	a.IsResolved = true
	a.ResolvedAt = &resolvedAt
	t.state.alerts[alertID] = a
	return nil
}

func (t *mockTx) EnqueueOutbox(_ context.Context, records ...domain.OutboxRecord) error {
	for _, r := range records {
		t.state.nextSeq++
		r.Seq = t.state.nextSeq
		t.state.outbox = append(t.state.outbox, r)
	}
	return nil
}
