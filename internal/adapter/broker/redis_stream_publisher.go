package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const (
	streamKeyPrefix    = "stream:"
	publishedKeyPrefix = "stream:published:"
	defaultDedupTTL    = 24 * time.Hour
)

// publishOnceScript appends to the stream only if the event id was not seen
// within the dedup window. Returns 1 when appended, 0 when deduplicated.
var publishOnceScript = redis.NewScript(`
local seen = KEYS[1]
local stream = KEYS[2]

if not redis.call('SET', seen, 1, 'NX', 'EX', tonumber(ARGV[1])) then
	return 0
end

redis.call('XADD', stream, '*',
	'event_id', ARGV[2],
	'event_type', ARGV[3],
	'aggregate_id', ARGV[4],
	'payload', ARGV[5])
return 1
`)

var _ port.EventPublisher = (*RedisStreamPublisher)(nil)

// RedisStreamPublisher is the lightweight broker for single-node setups.
// Each event type is its own stream.
type RedisStreamPublisher struct {
	client   *redis.Client
	dedupTTL time.Duration
}

func NewRedisStreamPublisher(client *redis.Client, dedupTTL time.Duration) *RedisStreamPublisher {
	if dedupTTL < time.Second {
		dedupTTL = defaultDedupTTL
	}
	return &RedisStreamPublisher{client: client, dedupTTL: dedupTTL}
}

func StreamFor(eventType domain.EventType) string {
	return streamKeyPrefix + string(eventType)
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, record domain.OutboxRecord) error {
	keys := []string{publishedKeyPrefix + record.EventID, StreamFor(record.EventType)}

	_, err := publishOnceScript.Run(ctx, p.client, keys,
		int64(p.dedupTTL/time.Second),
		record.EventID,
		string(record.EventType),
		record.AggregateID,
		string(record.Payload),
	).Int()
	if err != nil {
		return fmt.Errorf("redis stream: publish %s: %w", record.EventID, err)
	}
	return nil
}

func (p *RedisStreamPublisher) Close() error {
	return nil
}
