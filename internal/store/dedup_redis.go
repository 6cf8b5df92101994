package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisDedupPrefix    = "intakepipe:dedup:"
	redisStateReceived  = "received"
	redisStateProcessed = "processed"
)

// RedisDedup is a DedupRepo backed by Redis keys with a TTL, for deployments where several
// instances share one inbound stream.
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
}

// Compile-time check that RedisDedup implements DedupRepo.
var _ DedupRepo = (*RedisDedup)(nil)

// NewRedisDedup connects to the Redis server at redisURL (redis:// or rediss://).
func NewRedisDedup(ctx context.Context, redisURL string, ttl time.Duration) (*RedisDedup, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("RedisDedup connected", "addr", opt.Addr)
	return NewRedisDedupWithClient(client, ttl), nil
}

// NewRedisDedupWithClient wraps an existing client.
func NewRedisDedupWithClient(client *redis.Client, ttl time.Duration) *RedisDedup {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDedup{client: client, ttl: ttl}
}

func (r *RedisDedup) RecordInbound(ctx context.Context, messageID, sessionID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisDedupPrefix+messageID, redisStateReceived, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	if !ok {
		slog.Debug("RedisDedup.RecordInbound: already recorded", "messageID", messageID, "sessionID", sessionID)
	}
	return ok, nil
}

func (r *RedisDedup) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	v, err := r.client.Get(ctx, redisDedupPrefix+messageID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return v == redisStateProcessed, nil
}

func (r *RedisDedup) MarkProcessed(ctx context.Context, messageID string) error {
	if err := r.client.Set(ctx, redisDedupPrefix+messageID, redisStateProcessed, r.ttl).Err(); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *RedisDedup) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *RedisDedup) Close() error {
	return r.client.Close()
}
