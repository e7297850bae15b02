package anomaly

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	id "nightwatch/pkg/domain"
)

// RedisWindowStore keeps the rolling flagged-action window in a Redis
// sorted set per (tenant, actor), scored by event time. Entries older than
// the window are trimmed on every record and the key expires with the
// window so idle actors cost nothing.
type RedisWindowStore struct {
	client redis.Cmdable
}

// NewRedisWindowStore creates a window store backed by client.
func NewRedisWindowStore(client redis.Cmdable) *RedisWindowStore {
	return &RedisWindowStore{client: client}
}

func windowStoreKey(tenantID id.TenantID, actorID id.StaffID) string {
	return "nightwatch:flagged:" + tenantID.String() + ":" + actorID.String()
}

func (s *RedisWindowStore) Record(ctx context.Context, tenantID id.TenantID, actorID id.StaffID, at time.Time, window time.Duration) (int, error) {
	key := windowStoreKey(tenantID, actorID)
	cutoff := strconv.FormatInt(at.Add(-window).UnixNano(), 10)

	pipe := s.client.TxPipeline()
	// Inclusive upper bound: an event exactly at the window edge is expired,
	// so only events strictly inside (at-window, at] survive. This matches
	// the in-memory store.
	pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
	// Random member suffix keeps simultaneous events from collapsing into
	// one sorted-set entry.
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(at.UnixNano()),
		Member: strconv.FormatInt(at.UnixNano(), 10) + ":" + uuid.NewString(),
	})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record flagged action: %w", err)
	}
	return int(count.Val()), nil
}
