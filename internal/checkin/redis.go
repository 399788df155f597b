package checkin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"
)

// DefaultChannel is the Redis pub/sub channel carrying check-in updates.
const DefaultChannel = "tryouts:checkin"

// RedisBus is a Bus backed by Redis pub/sub, shared by every server instance
// pointed at the same Redis.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// RedisConfig configures a RedisBus.
type RedisConfig struct {
	URL     string
	Channel string
	Logger  *slog.Logger
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisBus(client, cfg), nil
}

func newRedisBus(client *redis.Client, cfg RedisConfig) *RedisBus {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisBus{client: client, channel: cfg.Channel, logger: cfg.Logger}
}

// Publish sends msg to the channel as JSON.
func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe opens a dedicated Redis subscription and forwards decoded
// messages until cancel is called or ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Message, func(), error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan Message, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					b.logger.Warn("dropping malformed check-in message", "err", err)
					continue
				}
				select {
				case out <- msg:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}

// Close releases the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
