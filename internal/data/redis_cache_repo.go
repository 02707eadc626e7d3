package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errEmptyCacheKey = errors.New("key cannot be empty")

// RedisCacheRepo implements core.CacheRepository. Values are opaque bytes, so single node,
// sentinel and cluster clients all work.
type RedisCacheRepo struct {
	client redis.UniversalClient
}

func NewRedisCacheRepo(client redis.UniversalClient) *RedisCacheRepo {
	return &RedisCacheRepo{client: client}
}

// Set stores value under key. A non-positive ttl keeps the key until it is deleted or evicted.
func (r *RedisCacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errEmptyCacheKey
	}
	return wrapRedis("set", r.client.Set(ctx, key, value, max(ttl, 0)).Err())
}

// Get returns nil without error when key is absent or expired.
func (r *RedisCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errEmptyCacheKey
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return raw, wrapRedis("get", err)
}

// Delete reports whether key existed.
func (r *RedisCacheRepo) Delete(ctx context.Context, key string) (bool, error) {
	return r.countKey(ctx, "del", key, r.client.Del)
}

func (r *RedisCacheRepo) Exists(ctx context.Context, key string) (bool, error) {
	return r.countKey(ctx, "exists", key, r.client.Exists)
}

func (r *RedisCacheRepo) Health(ctx context.Context) error {
	return wrapRedis("ping", r.client.Ping(ctx).Err())
}

// countKey runs a single-key command whose reply counts matching keys.
func (r *RedisCacheRepo) countKey(
	ctx context.Context,
	op, key string,
	cmd func(context.Context, ...string) *redis.IntCmd,
) (bool, error) {
	if key == "" {
		return false, errEmptyCacheKey
	}
	n, err := cmd(ctx, key).Result()
	if err != nil {
		return false, wrapRedis(op, err)
	}
	return n > 0, nil
}

func wrapRedis(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("redis %s: %w", op, err)
}
