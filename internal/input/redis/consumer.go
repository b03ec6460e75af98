package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis consumer. Keys lists the queues to pop from in
// priority order; Key is kept as a single-queue shorthand.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	Keys         []string
	BlockTimeout time.Duration
}

// Consumer pops JSON log records from one or more Redis lists.
type Consumer struct {
	client       *redis.Client
	keys         []string
	blockTimeout time.Duration
}

// NewConsumer creates a Redis consumer for list-based queues.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	keys := queueKeys(cfg)
	if len(keys) == 0 {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Consumer{
		client:       client,
		keys:         keys,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Pop pops one message. It returns nil, nil when the block timeout expires.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.keys...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Depth returns the number of queued messages across all keys.
func (c *Consumer) Depth(ctx context.Context) (int64, error) {
	var total int64
	for _, key := range c.keys {
		n, err := c.client.LLen(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("llen %s: %w", key, err)
		}
		total += n
	}
	return total, nil
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}

func queueKeys(cfg Config) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, k := range append([]string{cfg.Key}, cfg.Keys...) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}
