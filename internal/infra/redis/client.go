// Package redis provides the shared second-level artifact store. Rendered
// artifacts are written through so sibling courier processes can serve them
// without re-rendering. The store is an optimization: any outage degrades
// silently to the local cache plus render.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Client wraps Redis operations for the artifact blob store.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func artifactKey(tier, key string) string {
	return fmt.Sprintf("artifact:%s:%s", tier, key)
}

// GetArtifact fetches a stored artifact. Returns found=false on a clean miss.
func (c *Client) GetArtifact(ctx context.Context, tier, key string) (data []byte, found bool, err error) {
	raw, err := c.rdb.Get(ctx, artifactKey(tier, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return raw, true, nil
}

// SetArtifact stores an artifact with the given TTL.
func (c *Client) SetArtifact(ctx context.Context, tier, key string, data []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, artifactKey(tier, key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// InvalidateCorrelation deletes every artifact whose key contains the
// correlation id. Used when a transaction's data is retroactively corrected.
func (c *Client) InvalidateCorrelation(ctx context.Context, correlationID string) (int, error) {
	if correlationID == "" {
		return 0, nil
	}

	pattern := fmt.Sprintf("artifact:*%s*", correlationID)
	removed := 0

	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("redis del failed: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan failed: %w", err)
	}
	return removed, nil
}
