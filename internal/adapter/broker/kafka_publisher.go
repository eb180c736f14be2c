package broker

import (
	"context"
	"fmt"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const (
	HeaderEventID     = "event_id"
	HeaderEventType   = "event_type"
	HeaderAggregateID = "aggregate_id"
)

// Producer is the subset of the traced kafka writer the publisher needs.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers      []string
	ClientID     string
	BatchTimeout time.Duration
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)

// KafkaPublisher writes each outbox record to the topic named after its
// event type, keyed by aggregate so one item's events share a partition.
//
// Delivery is at least once. A record whose publish succeeded but whose
// delivery mark was lost is written again with the same event_id header,
// and the delivery guard only narrows that window when Redis is reachable.
// Consumers must dedupe on the event_id header.
type KafkaPublisher struct {
	producer Producer
}

func NewKafkaPublisher(producer Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// NewKafkaProducer builds a synchronous writer that waits for all in-sync
// replicas, wrapped with trace propagation into message headers.
func NewKafkaProducer(cfg KafkaConfig, tp trace.TracerProvider) (Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	baseWriter := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}

	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingSystemKey.String("kafka"),
				attribute.String("messaging.kafka.client_id", cfg.ClientID),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: wrap writer: %w", err)
	}
	return writer, nil
}

func TopicFor(eventType domain.EventType) string {
	return string(eventType)
}

func (p *KafkaPublisher) Publish(ctx context.Context, record domain.OutboxRecord) error {
	msg := kafka.Message{
		Topic: TopicFor(record.EventType),
		Key:   []byte(record.AggregateID),
		Value: record.Payload,
		Time:  record.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(record.EventID)},
			{Key: HeaderEventType, Value: []byte(record.EventType)},
			{Key: HeaderAggregateID, Value: []byte(record.AggregateID)},
		},
	}

	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s to %s: %w", record.EventID, msg.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
