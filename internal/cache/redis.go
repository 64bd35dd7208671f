package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"market-data-lab/internal/domain"
)

// Key layout, shared with the serving layer:
//
//	ohlc:{symbol}:{timeframe}:{limit}  cached candle responses
//	levels:{symbol}:{timeframe}        cached level sets
const (
	candleKeyPattern = "ohlc:%s:%s:*"
	levelsKeyFormat  = "levels:%s:%s"
)

// Redis implements Invalidator over a Redis client.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Compile-time interface check.
var _ Invalidator = (*Redis)(nil)

// InvalidateCandles removes cached candle responses for a pair. Candle
// keys carry a limit suffix, so a SCAN over the pair prefix is needed.
func (r *Redis) InvalidateCandles(ctx context.Context, symbol string, tf domain.Timeframe) error {
	pattern := fmt.Sprintf(candleKeyPattern, symbol, tf)

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan candle keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete candle keys: %w", err)
	}
	return nil
}

// InvalidateLevels removes the cached level set for a pair.
func (r *Redis) InvalidateLevels(ctx context.Context, symbol string, tf domain.Timeframe) error {
	key := fmt.Sprintf(levelsKeyFormat, symbol, tf)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete levels key: %w", err)
	}
	return nil
}
