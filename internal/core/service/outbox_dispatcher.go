package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

type DispatcherConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	RetryBackoff   time.Duration
	RetryMaxDelay  time.Duration
	PublishTimeout time.Duration
}

func (c DispatcherConfig) normalized() DispatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
	if c.RetryMaxDelay < c.RetryBackoff {
		c.RetryMaxDelay = c.RetryBackoff
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	return c
}

// OutboxDispatcher drains undelivered outbox records to the broker. Records
// are never dropped: a failed delivery is rescheduled with exponential
// backoff until it succeeds or an operator intervenes.
type OutboxDispatcher struct {
	repo      port.OutboxRepository
	publisher port.EventPublisher
	guard     port.DeliveryGuard
	cfg       DispatcherConfig
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewOutboxDispatcher builds a dispatcher. guard may be nil.
func NewOutboxDispatcher(repo port.OutboxRepository, publisher port.EventPublisher, guard port.DeliveryGuard, cfg DispatcherConfig, logger *zap.Logger, tracer trace.Tracer) *OutboxDispatcher {
	return &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		guard:     guard,
		cfg:       cfg.normalized(),
		logger:    logger,
		tracer:    tracer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) error {
	d.logger.Info("outbox dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
	)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox dispatch pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce runs one pass over pending records and returns how many were
// delivered. Within an aggregate, records go out strictly in creation order:
// once one is not due or fails, the rest of that aggregate waits. Records of
// waiting aggregates do not count against the batch, so the scan pages on
// until BatchSize records were attempted or the outbox is exhausted.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	now := d.now()
	blocked := make(map[string]bool)
	delivered, attempted := 0, 0

	var afterSeq int64
	for attempted < d.cfg.BatchSize {
		records, err := d.repo.PendingOutbox(ctx, afterSeq, d.cfg.BatchSize)
		if err != nil {
			return delivered, err
		}

		for _, record := range records {
			if err := ctx.Err(); err != nil {
				return delivered, err
			}
			afterSeq = record.Seq

			if blocked[record.AggregateID] {
				continue
			}
			if record.NextAttemptAt.After(now) {
				blocked[record.AggregateID] = true
				continue
			}

			attempted++
			if d.dispatch(ctx, record) {
				delivered++
			} else {
				blocked[record.AggregateID] = true
			}
			if attempted >= d.cfg.BatchSize {
				break
			}
		}

		if len(records) < d.cfg.BatchSize {
			break
		}
	}

	return delivered, nil
}

// dispatch publishes one record and records the outcome. It reports whether
// the record is now marked delivered.
func (d *OutboxDispatcher) dispatch(ctx context.Context, record domain.OutboxRecord) bool {
	if err := d.deliver(ctx, record); err != nil {
		d.reschedule(ctx, record, err)
		return false
	}

	if err := d.repo.MarkOutboxDelivered(ctx, record.EventID, d.now()); err != nil {
		// The broker already has it; the guard keeps the next pass from publishing again.
		d.logger.Error("mark outbox delivered failed",
			zap.String("event_id", record.EventID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (d *OutboxDispatcher) deliver(ctx context.Context, record domain.OutboxRecord) error {
	ctx, span := d.tracer.Start(ctx, "outbox.deliver")
	defer span.End()

	span.SetAttributes(
		attribute.String("outbox.event_id", record.EventID),
		attribute.String("outbox.event_type", string(record.EventType)),
		attribute.Int("outbox.attempt", record.AttemptCount+1),
	)

	if d.guard != nil {
		seen, err := d.guard.Delivered(ctx, record.EventID)
		if err != nil {
			d.logger.Warn("delivery guard lookup failed", zap.String("event_id", record.EventID), zap.Error(err))
		} else if seen {
			span.SetAttributes(attribute.Bool("outbox.deduplicated", true))
			return nil
		}
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()

	if err := d.publisher.Publish(pubCtx, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return err
	}

	if d.guard != nil {
		if err := d.guard.MarkDelivered(ctx, record.EventID); err != nil {
			d.logger.Warn("delivery guard record failed", zap.String("event_id", record.EventID), zap.Error(err))
		}
	}

	span.SetStatus(codes.Ok, "delivered")
	return nil
}

func (d *OutboxDispatcher) reschedule(ctx context.Context, record domain.OutboxRecord, cause error) {
	attempt := record.AttemptCount + 1
	next := d.now().Add(RetryBackoff(attempt, d.cfg.RetryBackoff, d.cfg.RetryMaxDelay))

	d.logger.Warn("outbox delivery failed",
		zap.String("event_id", record.EventID),
		zap.String("event_type", string(record.EventType)),
		zap.Int("attempt", attempt),
		zap.Time("next_attempt_at", next),
		zap.Error(cause),
	)

	if err := d.repo.MarkOutboxFailed(ctx, record.EventID, next, cause.Error()); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("mark outbox failed", zap.String("event_id", record.EventID), zap.Error(err))
	}
}

// RetryBackoff doubles base per attempt, capped at maxDelay.
func RetryBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return maxDelay
	}
	backoff := base << (attempt - 1)
	if backoff <= 0 || backoff > maxDelay {
		return maxDelay
	}
	return backoff
}

// Requeue makes a pending record due immediately.
func (d *OutboxDispatcher) Requeue(ctx context.Context, eventID string) error {
	if err := d.repo.RequeueOutbox(ctx, eventID, d.now()); err != nil {
		return err
	}
	d.logger.Info("outbox event requeued", zap.String("event_id", eventID))
	return nil
}

func (d *OutboxDispatcher) Stats(ctx context.Context) (domain.OutboxStats, error) {
	return d.repo.OutboxStats(ctx)
}
