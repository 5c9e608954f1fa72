package signals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on a shared Redis instance. This is the
// production backend: per-user keys hash to the same node, so the single
// writer guaranteed by user-id stream partitioning sees its own writes.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisClient builds a client from address/password/db settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Ping verifies connectivity at startup.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

func (b *RedisBackend) ZAdd(ctx context.Context, key, member string, score float64) error {
	return b.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (b *RedisBackend) ZAddNX(ctx context.Context, key, member string, score float64) (bool, error) {
	added, err := b.client.ZAddNX(ctx, key, redis.Z{Score: score, Member: member}).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

func (b *RedisBackend) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := b.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func (b *RedisBackend) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	return b.client.ZCount(ctx, key, formatScore(min), formatScore(max)).Result()
}

func (b *RedisBackend) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return b.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err()
}

func (b *RedisBackend) RPush(ctx context.Context, key, value string) error {
	return b.client.RPush(ctx, key, value).Err()
}

func (b *RedisBackend) LTrimLast(ctx context.Context, key string, n int64) error {
	return b.client.LTrim(ctx, key, -n, -1).Err()
}

func (b *RedisBackend) LRange(ctx context.Context, key string) ([]string, error) {
	vals, err := b.client.LRange(ctx, key, 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return vals, err
}

func (b *RedisBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return b.client.HSet(ctx, key, args...).Err()
}

func (b *RedisBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := b.client.HGetAll(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]string{}, nil
	}
	return vals, err
}

func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Expire(ctx, key, ttl).Err()
}

func formatScore(f float64) string {
	return fmt.Sprintf("%f", f)
}
