package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventLowStock         EventType = "inventory.low_stock"
	EventLowStockResolved EventType = "inventory.low_stock_resolved"
	EventStockValidated   EventType = "inventory.stock_validated"
	EventStockUpdated     EventType = "inventory.updated"
)

// Event is implemented by every outbound payload. Each payload has a fixed
// schema and maps to exactly one topic.
type Event interface {
	EventType() EventType
	AggregateID() string
}

type LowStockEvent struct {
	ItemID          string    `json:"item_id"`
	SKU             string    `json:"sku"`
	CurrentQuantity int       `json:"current_quantity"`
	Threshold       int       `json:"threshold"`
	Severity        string    `json:"severity"`
	TriggeredAt     time.Time `json:"triggered_at"`
}

func (LowStockEvent) EventType() EventType  { return EventLowStock }
func (e LowStockEvent) AggregateID() string { return e.ItemID }

type LowStockResolvedEvent struct {
	ItemID          string    `json:"item_id"`
	SKU             string    `json:"sku"`
	AlertID         string    `json:"alert_id"`
	CurrentQuantity int       `json:"current_quantity"`
	Threshold       int       `json:"threshold"`
	ResolvedAt      time.Time `json:"resolved_at"`
}

func (LowStockResolvedEvent) EventType() EventType  { return EventLowStockResolved }
func (e LowStockResolvedEvent) AggregateID() string { return e.ItemID }

type StockValidatedEvent struct {
	RequesterRef      string    `json:"requester_ref"`
	SKU               string    `json:"sku"`
	RequestedQuantity int       `json:"requested_quantity"`
	AvailableQuantity int       `json:"available_quantity"`
	Sufficient        bool      `json:"sufficient"`
	EvaluatedAt       time.Time `json:"evaluated_at"`

	itemID string
}

func (StockValidatedEvent) EventType() EventType { return EventStockValidated }

func (e StockValidatedEvent) AggregateID() string {
	if e.itemID != "" {
		return e.itemID
	}
	return e.SKU
}

// ForItem keys the validation event on the item so it shares the item's ordering.
func (e StockValidatedEvent) ForItem(itemID string) StockValidatedEvent {
	e.itemID = itemID
	return e
}

type StockUpdatedEvent struct {
	ItemID            string          `json:"item_id"`
	SKU               string          `json:"sku"`
	Kind              TransactionKind `json:"kind"`
	QuantityDelta     int             `json:"quantity_delta"`
	ResultingOnHand   int             `json:"resulting_on_hand"`
	ResultingReserved int             `json:"resulting_reserved"`
	ReferenceID       string          `json:"reference_id,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

func (StockUpdatedEvent) EventType() EventType  { return EventStockUpdated }
func (e StockUpdatedEvent) AggregateID() string { return e.ItemID }

// OutboxRecord is one pending or delivered broker message.
type OutboxRecord struct {
	Seq           int64
	EventID       string
	EventType     EventType
	AggregateID   string
	Payload       []byte
	CreatedAt     time.Time
	DeliveredAt   *time.Time
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
}

func (r OutboxRecord) Delivered() bool {
	return r.DeliveredAt != nil
}

func NewOutboxRecord(event Event, now time.Time) (OutboxRecord, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return OutboxRecord{}, fmt.Errorf("marshal %s payload: %w", event.EventType(), err)
	}
	return OutboxRecord{
		EventID:       uuid.NewString(),
		EventType:     event.EventType(),
		AggregateID:   event.AggregateID(),
		Payload:       payload,
		CreatedAt:     now,
		NextAttemptAt: now,
	}, nil
}

type OutboxStats struct {
	Pending       int
	OldestPending *time.Time
}
