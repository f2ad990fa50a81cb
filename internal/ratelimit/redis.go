// Package ratelimit provides a fixed-window request limiter backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter caps the number of events per key within a rolling window. The
// counter is a plain INCR with an EXPIRE set on the first increment, so the
// window resets as a whole rather than sliding.
type Limiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

func New(redisURL string, limit int, window time.Duration) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, limit, window), nil
}

func NewWithClient(client *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "ratelimit:",
	}
}

// Allow records one event for key and reports whether it is within the
// limit. Redis errors fail open so that a limiter outage never blocks
// document writes.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("increment %s: %w", redisKey, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return true, fmt.Errorf("set window on %s: %w", redisKey, err)
		}
	}
	return count <= l.limit, nil
}

func (l *Limiter) Close() error {
	return l.client.Close()
}
