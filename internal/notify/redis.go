package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of *redis.Client the publisher needs.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes events on a per-tenant Redis channel so other
// instances can relay them to their own WebSocket subscribers.
type RedisPublisher struct {
	client redisClient
}

// TenantChannel returns the pub/sub channel for a tenant's escalation events.
func TenantChannel(tenantID string) string {
	return fmt.Sprintf("tenant:%s:escalations", tenantID)
}

// NewRedisPublisher connects to redisURL and verifies it with a ping.
func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Redis connection established", "addr", opts.Addr)
	return &RedisPublisher{client: client}, nil
}

// Name implements Sink.
func (p *RedisPublisher) Name() string { return "redis" }

// Send implements Sink.
func (p *RedisPublisher) Send(ctx context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, TenantChannel(ev.TenantID), body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
