package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

type LedgerConfig struct {
	DefaultThreshold int
	Retry            RetryConfig
}

type ReceiveInput struct {
	ItemID      string
	SKU         string
	Location    string
	Quantity    int
	ReferenceID string
	Notes       string
}

// LedgerService is the only writer of item balances. Every mutation commits
// the balance, one stock transaction and its outbox records together.
type LedgerService struct {
	repo   port.LedgerRepository
	alerts alertManager
	retry  RetryConfig
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewLedgerService(repo port.LedgerRepository, cfg LedgerConfig, logger *zap.Logger, tracer trace.Tracer) *LedgerService {
	return &LedgerService{
		repo:   repo,
		alerts: alertManager{defaultThreshold: cfg.DefaultThreshold},
		retry:  cfg.Retry.normalized(),
		logger: logger,
		tracer: tracer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// mutation describes one ledger operation. apply mutates the locked item in
// place and returns the signed quantity delta, or a business rejection.
// transactionID is minted once per call and shared by every attempt, so an
// attempt whose commit succeeded but reported an error is not applied twice.
type mutation struct {
	transactionID string
	kind          domain.TransactionKind
	quantity      int
	referenceID   string
	notes         string
	apply         func(ctx context.Context, tx port.LedgerTx, item *domain.InventoryItem) (int, error)
}

func (s *LedgerService) Receive(ctx context.Context, in ReceiveInput) (domain.Balance, error) {
	in.ItemID = strings.TrimSpace(in.ItemID)
	in.SKU = strings.TrimSpace(in.SKU)
	if in.Quantity <= 0 {
		return domain.Balance{}, domain.Validationf("quantity must be greater than zero")
	}
	if in.ItemID == "" && in.SKU == "" {
		return domain.Balance{}, domain.Validationf("item id or sku is required")
	}

	m := mutation{
		kind:        domain.KindReceive,
		quantity:    in.Quantity,
		referenceID: strings.TrimSpace(in.ReferenceID),
		notes:       in.Notes,
		apply: func(_ context.Context, _ port.LedgerTx, item *domain.InventoryItem) (int, error) {
			item.OnHand += in.Quantity
			return in.Quantity, nil
		},
	}

	return s.run(ctx, "receive", m, func(ctx context.Context, tx port.LedgerTx) (*domain.InventoryItem, error) {
		return s.lockOrCreate(ctx, tx, in)
	})
}

func (s *LedgerService) Reserve(ctx context.Context, itemID string, quantity int, referenceID string) (domain.Balance, error) {
	referenceID = strings.TrimSpace(referenceID)
	if quantity <= 0 {
		return domain.Balance{}, domain.Validationf("quantity must be greater than zero")
	}
	if referenceID == "" {
		return domain.Balance{}, domain.Validationf("reference id is required for reserve")
	}

	m := mutation{
		kind:        domain.KindReserve,
		quantity:    quantity,
		referenceID: referenceID,
		apply: func(_ context.Context, _ port.LedgerTx, item *domain.InventoryItem) (int, error) {
			if item.Available() < quantity {
				return 0, fmt.Errorf("%w: available %d, requested %d", domain.ErrInsufficientStock, item.Available(), quantity)
			}
			item.Reserved += quantity
			return quantity, nil
		},
	}

	return s.run(ctx, "reserve", m, s.locker(itemID))
}

// Release returns what is left of a reservation to available stock. The
// quantity must match the outstanding remainder, which is the reserved
// quantity less anything already issued against the reference. Releasing
// the same reference again is a no-op that returns the first result.
func (s *LedgerService) Release(ctx context.Context, itemID string, quantity int, referenceID string) (domain.Balance, error) {
	referenceID = strings.TrimSpace(referenceID)
	if quantity <= 0 {
		return domain.Balance{}, domain.Validationf("quantity must be greater than zero")
	}
	if referenceID == "" {
		return domain.Balance{}, domain.Validationf("reference id is required for release")
	}

	m := mutation{
		kind:        domain.KindRelease,
		quantity:    quantity,
		referenceID: referenceID,
		apply: func(ctx context.Context, tx port.LedgerTx, item *domain.InventoryItem) (int, error) {
			held, err := findReservation(ctx, tx, item.ID, referenceID)
			if err != nil {
				return 0, err
			}
			outstanding := held.outstanding()
			if outstanding == 0 {
				return 0, fmt.Errorf("%w: reservation %s was already issued", domain.ErrNotReserved, referenceID)
			}
			if outstanding != quantity {
				return 0, fmt.Errorf("%w: reservation %s holds %d, release requested %d",
					domain.ErrNotReserved, referenceID, outstanding, quantity)
			}
			if item.Reserved < quantity {
				return 0, fmt.Errorf("%w: reserved %d, release requested %d", domain.ErrNotReserved, item.Reserved, quantity)
			}
			item.Reserved -= quantity
			return -quantity, nil
		},
	}

	return s.run(ctx, "release", m, s.locker(itemID))
}

// Issue ships reserved stock, decrementing both on-hand and reserved. With a
// reference the quantity is drawn from that reservation, which must still be
// held; without one it is drawn from the item's reserved pool.
func (s *LedgerService) Issue(ctx context.Context, itemID string, quantity int, referenceID string) (domain.Balance, error) {
	referenceID = strings.TrimSpace(referenceID)
	if quantity <= 0 {
		return domain.Balance{}, domain.Validationf("quantity must be greater than zero")
	}

	m := mutation{
		kind:        domain.KindIssue,
		quantity:    quantity,
		referenceID: referenceID,
		apply: func(ctx context.Context, tx port.LedgerTx, item *domain.InventoryItem) (int, error) {
			if referenceID != "" {
				held, err := findReservation(ctx, tx, item.ID, referenceID)
				if err != nil {
					return 0, err
				}
				if held.released != nil {
					return 0, fmt.Errorf("%w: reservation %s was released", domain.ErrNotReserved, referenceID)
				}
				if held.reserve.Quantity < quantity {
					return 0, fmt.Errorf("%w: reservation %s holds %d, issue requested %d",
						domain.ErrInsufficientStock, referenceID, held.reserve.Quantity, quantity)
				}
			}
			if item.Reserved < quantity {
				return 0, fmt.Errorf("%w: reserved %d, issue requested %d", domain.ErrInsufficientStock, item.Reserved, quantity)
			}
			item.OnHand -= quantity
			item.Reserved -= quantity
			return -quantity, nil
		},
	}

	return s.run(ctx, "issue", m, s.locker(itemID))
}

// reservation is the ledger history of one reference on one item.
type reservation struct {
	reserve  *domain.StockTransaction
	issued   *domain.StockTransaction
	released *domain.StockTransaction
}

func (r reservation) outstanding() int {
	if r.released != nil {
		return 0
	}
	if r.issued != nil {
		return r.reserve.Quantity - r.issued.Quantity
	}
	return r.reserve.Quantity
}

// findReservation fails with ErrNotReserved when nothing was reserved under
// the reference.
func findReservation(ctx context.Context, tx port.LedgerTx, itemID, referenceID string) (reservation, error) {
	var (
		r   reservation
		err error
	)
	if r.reserve, err = tx.FindTransaction(ctx, itemID, domain.KindReserve, referenceID); err != nil {
		return r, fmt.Errorf("find reservation: %w", err)
	}
	if r.reserve == nil {
		return r, fmt.Errorf("%w: no reservation for reference %s", domain.ErrNotReserved, referenceID)
	}
	if r.issued, err = tx.FindTransaction(ctx, itemID, domain.KindIssue, referenceID); err != nil {
		return r, fmt.Errorf("find issue: %w", err)
	}
	if r.released, err = tx.FindTransaction(ctx, itemID, domain.KindRelease, referenceID); err != nil {
		return r, fmt.Errorf("find release: %w", err)
	}
	return r, nil
}

// Adjust applies a signed correction to on-hand stock.
func (s *LedgerService) Adjust(ctx context.Context, itemID string, delta int, notes, referenceID string) (domain.Balance, error) {
	if delta == 0 {
		return domain.Balance{}, domain.Validationf("adjustment delta must not be zero")
	}

	quantity := delta
	if quantity < 0 {
		quantity = -quantity
	}

	m := mutation{
		kind:        domain.KindAdjust,
		quantity:    quantity,
		referenceID: strings.TrimSpace(referenceID),
		notes:       notes,
		apply: func(_ context.Context, _ port.LedgerTx, item *domain.InventoryItem) (int, error) {
			onHand := item.OnHand + delta
			if onHand < 0 {
				return 0, fmt.Errorf("%w: on hand would become %d", domain.ErrInvalidAdjustment, onHand)
			}
			if onHand < item.Reserved {
				return 0, fmt.Errorf("%w: on hand %d would fall below reserved %d", domain.ErrInvalidAdjustment, onHand, item.Reserved)
			}
			item.OnHand = onHand
			return delta, nil
		},
	}

	return s.run(ctx, "adjust", m, s.locker(itemID))
}

// Check is a pure read of the current availability.
func (s *LedgerService) Check(ctx context.Context, itemID string, quantity int) (domain.Availability, error) {
	if quantity <= 0 {
		return domain.Availability{}, domain.Validationf("quantity must be greater than zero")
	}

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return domain.Availability{}, err
	}
	return availabilityOf(*item, quantity), nil
}

// CheckSKU is Check keyed by the business key.
func (s *LedgerService) CheckSKU(ctx context.Context, sku string, quantity int) (domain.Availability, error) {
	if quantity <= 0 {
		return domain.Availability{}, domain.Validationf("quantity must be greater than zero")
	}

	item, err := s.repo.GetItemBySKU(ctx, strings.TrimSpace(sku))
	if err != nil {
		return domain.Availability{}, fmt.Errorf("get item by sku: %w", err)
	}
	if item == nil || item.Archived() {
		return domain.Availability{}, fmt.Errorf("%w: sku %s", domain.ErrItemNotFound, sku)
	}
	return availabilityOf(*item, quantity), nil
}

func availabilityOf(item domain.InventoryItem, quantity int) domain.Availability {
	return domain.Availability{
		ItemID:     item.ID,
		SKU:        item.SKU,
		Requested:  quantity,
		Available:  item.Available(),
		Sufficient: item.Available() >= quantity,
	}
}

// SetThreshold changes the per-item low stock threshold. A nil threshold
// restores the global default. Open alerts are left as they are; the next
// mutation evaluates against the new value.
func (s *LedgerService) SetThreshold(ctx context.Context, itemID string, threshold *int) (domain.InventoryItem, error) {
	if threshold != nil && *threshold < 0 {
		return domain.InventoryItem{}, domain.Validationf("threshold must not be negative")
	}
	return s.updateSettings(ctx, itemID, func(item *domain.InventoryItem) {
		item.LowStockThreshold = threshold
	})
}

// SetLocation moves an item to another storage location. Balances are not
// touched and no stock transaction is written.
func (s *LedgerService) SetLocation(ctx context.Context, itemID, location string) (domain.InventoryItem, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return domain.InventoryItem{}, domain.Validationf("location is required")
	}
	return s.updateSettings(ctx, itemID, func(item *domain.InventoryItem) {
		item.Location = location
	})
}

func (s *LedgerService) updateSettings(ctx context.Context, itemID string, change func(item *domain.InventoryItem)) (domain.InventoryItem, error) {
	return retry(ctx, s.retry, func(ctx context.Context) (domain.InventoryItem, error) {
		var updated domain.InventoryItem
		err := s.repo.RunInTx(ctx, func(tx port.LedgerTx) error {
			item, err := s.locker(itemID)(ctx, tx)
			if err != nil {
				return err
			}
			change(item)
			item.UpdatedAt = s.now()
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return fmt.Errorf("update item: %w", err)
			}
			item.Version++
			updated = *item
			return nil
		})
		return updated, err
	})
}

// Archive soft-deletes an item. Items holding reservations cannot be archived.
func (s *LedgerService) Archive(ctx context.Context, itemID string) error {
	_, err := retry(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.RunInTx(ctx, func(tx port.LedgerTx) error {
			item, err := s.locker(itemID)(ctx, tx)
			if err != nil {
				return err
			}
			if item.Reserved > 0 {
				return fmt.Errorf("%w: item %s still holds %d reserved", domain.ErrInvalidAdjustment, item.ID, item.Reserved)
			}
			now := s.now()
			item.DeletedAt = &now
			item.UpdatedAt = now
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return fmt.Errorf("update item: %w", err)
			}
			return nil
		})
	})
	if err == nil {
		s.logger.Info("item archived", zap.String("item_id", itemID))
	}
	return err
}

func (s *LedgerService) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	item, err := s.repo.GetItem(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if item == nil || item.Archived() {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	return item, nil
}

// ListItems pages through live items by SKU.
func (s *LedgerService) ListItems(ctx context.Context, limit, offset int) ([]domain.InventoryItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListItems(ctx, limit, offset)
}

func (s *LedgerService) ListTransactions(ctx context.Context, itemID string, limit int) ([]domain.StockTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListTransactions(ctx, strings.TrimSpace(itemID), limit)
}

func (s *LedgerService) ListOpenAlerts(ctx context.Context) ([]domain.LowStockAlert, error) {
	return s.repo.ListOpenAlerts(ctx)
}

type lockFunc func(ctx context.Context, tx port.LedgerTx) (*domain.InventoryItem, error)

func (s *LedgerService) locker(itemID string) lockFunc {
	itemID = strings.TrimSpace(itemID)
	return func(ctx context.Context, tx port.LedgerTx) (*domain.InventoryItem, error) {
		if itemID == "" {
			return nil, domain.Validationf("item id is required")
		}
		item, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return nil, fmt.Errorf("lock item: %w", err)
		}
		if item == nil || item.Archived() {
			return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
		}
		return item, nil
	}
}

// lockOrCreate resolves the receive target, creating the item on first
// receipt of its SKU. A concurrent creation of the same SKU surfaces as
// ErrDuplicateKey and is retried, which then finds the winner's row.
func (s *LedgerService) lockOrCreate(ctx context.Context, tx port.LedgerTx, in ReceiveInput) (*domain.InventoryItem, error) {
	var (
		item *domain.InventoryItem
		err  error
	)
	if in.ItemID != "" {
		item, err = tx.LockItem(ctx, in.ItemID)
	} else {
		item, err = tx.LockItemBySKU(ctx, in.SKU)
	}
	if err != nil {
		return nil, fmt.Errorf("lock item: %w", err)
	}
	if item != nil {
		if item.Archived() {
			return nil, domain.Validationf("item %s is archived", item.ID)
		}
		return item, nil
	}

	if in.SKU == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, in.ItemID)
	}
	if in.ItemID != "" {
		existing, err := tx.LockItemBySKU(ctx, in.SKU)
		if err != nil {
			return nil, fmt.Errorf("lock item by sku: %w", err)
		}
		if existing != nil {
			return nil, domain.Validationf("sku %s belongs to item %s, not %s", in.SKU, existing.ID, in.ItemID)
		}
	}

	id := in.ItemID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	created := domain.InventoryItem{
		ID:        id,
		SKU:       in.SKU,
		Location:  in.Location,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.CreateItem(ctx, created); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	s.logger.Info("item created on first receipt",
		zap.String("item_id", created.ID),
		zap.String("sku", created.SKU),
	)
	return &created, nil
}

func (s *LedgerService) run(ctx context.Context, op string, m mutation, lock lockFunc) (domain.Balance, error) {
	ctx, span := s.tracer.Start(ctx, "ledger."+op)
	defer span.End()

	span.SetAttributes(
		attribute.String("ledger.kind", string(m.kind)),
		attribute.Int("ledger.quantity", m.quantity),
		attribute.String("ledger.reference_id", m.referenceID),
	)

	m.transactionID = uuid.NewString()

	balance, err := retry(ctx, s.retry, func(ctx context.Context) (domain.Balance, error) {
		var result domain.Balance
		err := s.repo.RunInTx(ctx, func(tx port.LedgerTx) error {
			item, err := lock(ctx, tx)
			if err != nil {
				return err
			}
			result, err = s.applyLocked(ctx, tx, item, m)
			return err
		})
		return result, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" rejected")
		if errors.Is(err, domain.ErrTransientStorage) {
			s.logger.Error("ledger operation failed",
				zap.String("op", op),
				zap.Int("quantity", m.quantity),
				zap.String("reference_id", m.referenceID),
				zap.Error(err),
			)
		}
		return domain.Balance{}, err
	}

	span.SetAttributes(
		attribute.String("ledger.item_id", balance.ItemID),
		attribute.Int("ledger.on_hand", balance.OnHand),
		attribute.Int("ledger.reserved", balance.Reserved),
		attribute.Bool("ledger.replayed", balance.Replayed),
	)
	span.SetStatus(codes.Ok, op+" committed")
	return balance, nil
}

func (s *LedgerService) applyLocked(ctx context.Context, tx port.LedgerTx, item *domain.InventoryItem, m mutation) (domain.Balance, error) {
	// An earlier attempt of this same call already committed
	committed, err := tx.GetTransaction(ctx, m.transactionID)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("operation lookup: %w", err)
	}
	if committed != nil {
		return committed.Balance(item.SKU), nil
	}

	if m.referenceID != "" {
		prior, err := tx.FindTransaction(ctx, item.ID, m.kind, m.referenceID)
		if err != nil {
			return domain.Balance{}, fmt.Errorf("idempotency lookup: %w", err)
		}
		if prior != nil {
			balance := prior.Balance(item.SKU)
			balance.Replayed = true
			return balance, nil
		}
	}

	before := item.Available()
	delta, err := m.apply(ctx, tx, item)
	if err != nil {
		return domain.Balance{}, err
	}
	if item.OnHand < 0 || !item.Valid() {
		return domain.Balance{}, fmt.Errorf("%w: on hand %d, reserved %d", domain.ErrInvalidAdjustment, item.OnHand, item.Reserved)
	}

	now := s.now()
	item.UpdatedAt = now
	if err := tx.UpdateItem(ctx, *item); err != nil {
		return domain.Balance{}, fmt.Errorf("update item: %w", err)
	}

	txn := domain.StockTransaction{
		ID:            m.transactionID,
		ItemID:        item.ID,
		Kind:          m.kind,
		Quantity:      m.quantity,
		Delta:         delta,
		ReferenceID:   m.referenceID,
		Notes:         m.notes,
		OnHandAfter:   item.OnHand,
		ReservedAfter: item.Reserved,
		CreatedAt:     now,
	}
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return domain.Balance{}, fmt.Errorf("append transaction: %w", err)
	}

	events := []domain.Event{domain.StockUpdatedEvent{
		ItemID:            item.ID,
		SKU:               item.SKU,
		Kind:              m.kind,
		QuantityDelta:     delta,
		ResultingOnHand:   item.OnHand,
		ResultingReserved: item.Reserved,
		ReferenceID:       m.referenceID,
		OccurredAt:        now,
	}}

	alertEvents, err := s.alerts.apply(ctx, tx, *item, before, now)
	if err != nil {
		return domain.Balance{}, err
	}
	events = append(events, alertEvents...)

	records := make([]domain.OutboxRecord, 0, len(events))
	for _, event := range events {
		record, err := domain.NewOutboxRecord(event, now)
		if err != nil {
			return domain.Balance{}, err
		}
		records = append(records, record)
	}
	if err := tx.EnqueueOutbox(ctx, records...); err != nil {
		return domain.Balance{}, fmt.Errorf("enqueue outbox: %w", err)
	}

	return domain.BalanceOf(*item), nil
}
