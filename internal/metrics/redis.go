// Package metrics publishes scheduler tick counters to Redis.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/0xPuncker/job-scheduler/internal/poller"
	"github.com/redis/go-redis/v9"
)

const (
	TicksKey    = "metrics:scheduler:ticks"
	LastTickKey = "metrics:scheduler:last"
)

type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// PublishTick bumps the tick counter and overwrites the last-tick summary.
func (r *Redis) PublishTick(ctx context.Context, stats poller.TickStats) error {
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, TicksKey)
	pipe.HSet(ctx, LastTickKey, map[string]any{
		"time":     stats.Time.Format(time.RFC3339),
		"enabled":  stats.Enabled,
		"invalid":  stats.Invalid,
		"matched":  stats.Matched,
		"admitted": stats.Admitted,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish tick metrics: %w", err)
	}
	return nil
}

// LastTick reads back the summary written by PublishTick.
func (r *Redis) LastTick(ctx context.Context) (map[string]string, error) {
	return r.client.HGetAll(ctx, LastTickKey).Result()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
