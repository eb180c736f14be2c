package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

type ValidationRequest struct {
	RequesterRef string
	ItemID       string
	SKU          string
	Quantity     int
}

type ValidationResult struct {
	domain.Availability
	EventID     string
	EvaluatedAt time.Time
}

// ValidationService answers "can N units be satisfied now" and records the
// answer as an audit event. A positive answer is not a hold.
type ValidationService struct {
	ledger *LedgerService
	repo   port.LedgerRepository
	retry  RetryConfig
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewValidationService(ledger *LedgerService, repo port.LedgerRepository, logger *zap.Logger, tracer trace.Tracer) *ValidationService {
	return &ValidationService{
		ledger: ledger,
		repo:   repo,
		retry:  ledger.retry,
		logger: logger,
		tracer: tracer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *ValidationService) Validate(ctx context.Context, req ValidationRequest) (ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "validation.validate")
	defer span.End()

	var (
		availability domain.Availability
		err          error
	)
	switch {
	case strings.TrimSpace(req.ItemID) != "":
		availability, err = s.ledger.Check(ctx, req.ItemID, req.Quantity)
	case strings.TrimSpace(req.SKU) != "":
		availability, err = s.ledger.CheckSKU(ctx, req.SKU, req.Quantity)
	default:
		err = domain.Validationf("item id or sku is required")
	}
	if err != nil {
		span.RecordError(err)
		return ValidationResult{}, err
	}

	evaluatedAt := s.now()
	event := domain.StockValidatedEvent{
		RequesterRef:      strings.TrimSpace(req.RequesterRef),
		SKU:               availability.SKU,
		RequestedQuantity: availability.Requested,
		AvailableQuantity: availability.Available,
		Sufficient:        availability.Sufficient,
		EvaluatedAt:       evaluatedAt,
	}.ForItem(availability.ItemID)

	record, err := domain.NewOutboxRecord(event, evaluatedAt)
	if err != nil {
		return ValidationResult{}, err
	}

	_, err = retry(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.RunInTx(ctx, func(tx port.LedgerTx) error {
			return tx.EnqueueOutbox(ctx, record)
		})
	})
	if err != nil {
		span.RecordError(err)
		return ValidationResult{}, fmt.Errorf("record validation event: %w", err)
	}

	span.SetAttributes(
		attribute.String("validation.requester_ref", event.RequesterRef),
		attribute.String("validation.sku", availability.SKU),
		attribute.Int("validation.requested", availability.Requested),
		attribute.Int("validation.available", availability.Available),
		attribute.Bool("validation.sufficient", availability.Sufficient),
	)

	s.logger.Info("stock validated",
		zap.String("requester_ref", event.RequesterRef),
		zap.String("sku", availability.SKU),
		zap.Int("requested", availability.Requested),
		zap.Int("available", availability.Available),
		zap.Bool("sufficient", availability.Sufficient),
	)

	return ValidationResult{
		Availability: availability,
		EventID:      record.EventID,
		EvaluatedAt:  evaluatedAt,
	}, nil
}
