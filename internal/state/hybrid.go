package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cachePrefix = "mkt:state:"

// Hybrid is a Redis-first, Store-backed state store. Reads populate the cache;
// commits invalidate the touched keys before the backing store is written, so a
// failed invalidation aborts the commit instead of leaving stale entries.
//
// The host ledger serializes commits and holds readers off while committing,
// which is what makes invalidate-then-write safe. Run one host per store.
type Hybrid struct {
	redis  *redis.Client
	base   Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewHybrid wraps base with a Redis cache.
func NewHybrid(rdb *redis.Client, base Store, ttl time.Duration, logger *zap.Logger) *Hybrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hybrid{redis: rdb, base: base, ttl: ttl, logger: logger}
}

// DialRedis connects and pings a Redis client.
func DialRedis(ctx context.Context, addr string, db int, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func (h *Hybrid) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := h.redis.Get(ctx, cachePrefix+key).Bytes()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, redis.Nil) {
		h.logger.Warn("state.redis.get_failed", zap.String("key", key), zap.Error(err))
	}

	value, err := h.base.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := h.redis.Set(ctx, cachePrefix+key, value, h.ttl).Err(); err != nil {
		h.logger.Warn("state.redis.fill_failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

func (h *Hybrid) Commit(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	keys := make([]string, len(writes))
	for i, w := range writes {
		keys[i] = cachePrefix + w.Key
	}
	if err := h.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis invalidate failed: %w", err)
	}
	return h.base.Commit(ctx, writes)
}

func (h *Hybrid) HealthCheck(ctx context.Context) error {
	if h.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return h.base.HealthCheck(ctx)
}

func (h *Hybrid) Close() error {
	err := h.base.Close()
	if h.redis != nil {
		if rerr := h.redis.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
