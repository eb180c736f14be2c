package port

import (
	"context"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

type EventPublisher interface {
	// Publish delivers one record and returns nil only after broker acknowledgment
	Publish(ctx context.Context, record domain.OutboxRecord) error

	Close() error
}

type DeliveryGuard interface {
	// Delivered reports whether the event was already acknowledged by the broker
	Delivered(ctx context.Context, eventID string) (bool, error)

	// MarkDelivered records a broker acknowledgment for the event
	MarkDelivered(ctx context.Context, eventID string) error
}
