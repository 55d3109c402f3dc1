// Package cache memoizes free-slot queries in Redis. A stale entry is
// harmless: availability is a snapshot and the conflict guard
// re-validates at commit, so the cache only needs a short TTL plus
// per-worker invalidation on mutations.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"agendamento-api/internal/model"
)

type SlotCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewSlotCache(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *SlotCache {
	return &SlotCache{rdb: rdb, ttl: ttl, log: log}
}

// version bumps on every mutation for the worker, so old entries become
// unreachable without scanning keys.
func (c *SlotCache) version(ctx context.Context, tenantID, workerID string) string {
	v, err := c.rdb.Get(ctx, "slotver:"+tenantID+":"+workerID).Result()
	if err != nil {
		return "0"
	}
	return v
}

func (c *SlotCache) key(ctx context.Context, tenantID, workerID string, from, to time.Time) string {
	return fmt.Sprintf("slots:%s:%s:v%s:%d:%d",
		tenantID, workerID, c.version(ctx, tenantID, workerID), from.Unix(), to.Unix())
}

func (c *SlotCache) Get(ctx context.Context, tenantID, workerID string, from, to time.Time) ([]model.Slot, bool) {
	raw, err := c.rdb.Get(ctx, c.key(ctx, tenantID, workerID, from, to)).Bytes()
	if err != nil {
		return nil, false
	}
	var slots []model.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		c.log.Debug("slot cache: bad payload, treating as miss", zap.Error(err))
		return nil, false
	}
	return slots, true
}

func (c *SlotCache) Set(ctx context.Context, tenantID, workerID string, from, to time.Time, slots []model.Slot) {
	raw, err := json.Marshal(slots)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(ctx, tenantID, workerID, from, to), raw, c.ttl).Err(); err != nil {
		c.log.Debug("slot cache: set failed", zap.Error(err))
	}
}

func (c *SlotCache) InvalidateWorker(ctx context.Context, tenantID, workerID string) {
	if err := c.rdb.Incr(ctx, "slotver:"+tenantID+":"+workerID).Err(); err != nil {
		c.log.Debug("slot cache: invalidate failed", zap.Error(err))
	}
}
