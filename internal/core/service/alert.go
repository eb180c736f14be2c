package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

// EvaluateAlert derives the alert transition for one committed change of the
// available quantity.
func EvaluateAlert(before, after, threshold int) domain.AlertTransition {
	switch {
	case before >= threshold && after < threshold:
		return domain.AlertOpen
	case before < threshold && after >= threshold:
		return domain.AlertResolve
	default:
		return domain.AlertNone
	}
}

type alertManager struct {
	defaultThreshold int
}

// apply persists the transition inside the caller's unit of work and returns
// the events to enqueue with it.
func (m alertManager) apply(ctx context.Context, tx port.LedgerTx, item domain.InventoryItem, before int, now time.Time) ([]domain.Event, error) {
	threshold := item.ThresholdOr(m.defaultThreshold)
	after := item.Available()

	switch EvaluateAlert(before, after, threshold) {
	case domain.AlertOpen:
		open, err := tx.OpenAlert(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("load open alert: %w", err)
		}
		if open != nil {
			return nil, nil
		}

		alert := domain.LowStockAlert{
			ID:              uuid.NewString(),
			ItemID:          item.ID,
			Threshold:       threshold,
			CurrentQuantity: after,
			CreatedAt:       now,
		}
		if err := tx.CreateAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("create alert: %w", err)
		}

		return []domain.Event{domain.LowStockEvent{
			ItemID:          item.ID,
			SKU:             item.SKU,
			CurrentQuantity: after,
			Threshold:       threshold,
			Severity:        domain.SeverityFor(after),
			TriggeredAt:     now,
		}}, nil

	case domain.AlertResolve:
		open, err := tx.OpenAlert(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("load open alert: %w", err)
		}
		if open == nil {
			return nil, nil
		}

		if err := tx.ResolveAlert(ctx, open.ID, now); err != nil {
			return nil, fmt.Errorf("resolve alert: %w", err)
		}

		return []domain.Event{domain.LowStockResolvedEvent{
			ItemID:          item.ID,
			SKU:             item.SKU,
			AlertID:         open.ID,
			CurrentQuantity: after,
			Threshold:       threshold,
			ResolvedAt:      now,
		}}, nil
	}

	return nil, nil
}
