package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/kickoffwatch/internal/models"
)

// redisClient is the subset of *redis.Client used for publishing
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisPublisher publishes reports on a Redis pub/sub channel
type RedisPublisher struct {
	client  redisClient
	channel string
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(ctx context.Context, addr, password string, db int, channel string) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPublisher{client: rdb, channel: channel}, nil
}

// Name implements notify.Notifier
func (p *RedisPublisher) Name() string {
	return "redis"
}

// Notify publishes one message per report. It returns the first failure and
// publishes nothing after it.
func (p *RedisPublisher) Notify(ctx context.Context, reports []models.DiscrepancyReport) error {
	now := time.Now()
	for _, r := range reports {
		payload, err := Payload(r, now)
		if err != nil {
			return err
		}
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			return fmt.Errorf("failed to publish report %s: %w", r.ID, err)
		}
	}
	return nil
}

// Ping checks the Redis connection
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
