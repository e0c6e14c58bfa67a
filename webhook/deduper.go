package webhook

import (
	"time"

	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
)

// Deduper remembers successfully processed event ids so obvious redeliveries
// can be acknowledged without reprocessing. It is advisory only: correctness
// comes from the store's idempotent upsert/update semantics, so a Deduper
// that loses its memory (or is absent entirely) is safe.
//
// Seen and Mark are deliberately separate: an event is only marked once
// processing succeeded. A failed delivery stays unmarked so the provider's
// redelivery is processed instead of being swallowed as a duplicate.
type Deduper interface {
	// Seen reports whether the event id was already fully processed
	Seen(eventID string) bool
	// Mark records the event id after processing succeeded
	Mark(eventID string)
}

const dedupKeyPrefix = "billing:webhook:event:"

// RedisDeduper tracks event ids in redis with a TTL
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisDeduper(logger *zap.Logger, client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Seen fails open: if redis is unreachable the event is treated as new and
// the idempotent store writes absorb the duplicate.
func (d *RedisDeduper) Seen(eventID string) bool {
	n, err := d.client.Exists(dedupKeyPrefix + eventID).Result()
	if err != nil {
		d.logger.Warn("Cannot reach redis for event dedup, processing anyway",
			zap.String("EventID", eventID),
			zap.Error(err),
		)
		return false
	}
	return n > 0
}

func (d *RedisDeduper) Mark(eventID string) {
	if err := d.client.Set(dedupKeyPrefix+eventID, 1, d.ttl).Err(); err != nil {
		d.logger.Warn("Cannot mark event as processed in redis",
			zap.String("EventID", eventID),
			zap.Error(err),
		)
	}
}
