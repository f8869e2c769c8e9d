package data

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	cacheKeyPrefix  = "cache:"
	defaultCacheTTL = time.Hour
)

// KV is the read cache in front of the object store. It is strictly
// best-effort: transport failures degrade to cache misses on read and are
// only logged on write, so the authoritative tier alone decides success.
type KV struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewKV(client *redis.Client, ttl time.Duration, logger *zap.Logger) *KV {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &KV{client: client, ttl: ttl, logger: logger}
}

// GetJSON reports whether the key was served from cache. Corrupt entries are
// dropped and treated as misses.
func (kv *KV) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, err := kv.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			kv.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		kv.logger.Warn("corrupt cache entry, dropping", zap.String("key", key), zap.Error(err))
		kv.Invalidate(ctx, key)
		return false
	}
	return true
}

func (kv *KV) SetJSON(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		kv.logger.Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := kv.client.Set(ctx, cacheKeyPrefix+key, raw, kv.ttl).Err(); err != nil {
		kv.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (kv *KV) Invalidate(ctx context.Context, key string) {
	if err := kv.client.Del(ctx, cacheKeyPrefix+key).Err(); err != nil {
		kv.logger.Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}
