// Package cache provides the Dragonfly/Redis client used by the Redis
// storage backend.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis/Dragonfly client and the key namespace it owns.
type Cache struct {
	Client    *redis.Client
	Namespace string
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

// New connects to the cache and verifies it with a ping. Keys are stored
// under namespace + ":".
func New(ctx context.Context, url, namespace string) (*Cache, error) {
	opts, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	return &Cache{Client: client, Namespace: strings.TrimSuffix(namespace, ":")}, nil
}

// Key returns the namespaced form of key.
func (c *Cache) Key(key string) string {
	if c.Namespace == "" {
		return key
	}
	return c.Namespace + ":" + key
}

// StripKey reverses Key. ok is false for keys outside the namespace.
func (c *Cache) StripKey(full string) (string, bool) {
	if c.Namespace == "" {
		return full, true
	}
	return strings.CutPrefix(full, c.Namespace+":")
}

// ChangesChannel is the pub/sub channel carrying change notifications.
func (c *Cache) ChangesChannel() string {
	return c.Key("changes")
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
