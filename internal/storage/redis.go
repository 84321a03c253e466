package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-academy/internal/platform/cache"
)

// RedisKV stores keys in Redis/Dragonfly under the cache namespace and
// publishes every write so other processes can invalidate their caches.
type RedisKV struct {
	cache  *cache.Cache
	origin string
	subs   subscribers

	listenOnce sync.Once
	cancel     context.CancelFunc
}

type redisChange struct {
	Origin string `json:"origin"`
	Key    string `json:"key"`
}

// NewRedisKV creates a Redis-backed store.
func NewRedisKV(c *cache.Cache) (*RedisKV, error) {
	if c == nil || c.Client == nil {
		return nil, fmt.Errorf("cache client is nil")
	}
	return &RedisKV{cache: c, origin: uuid.NewString()}, nil
}

func (r *RedisKV) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	v, err := r.cache.Client.Get(ctx, r.cache.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (r *RedisKV) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.cache.Client.Set(ctx, r.cache.Key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	r.publish(ctx, key)
	return nil
}

func (r *RedisKV) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := r.cache.Client.Del(ctx, r.cache.Key(key)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	if n > 0 {
		r.publish(ctx, key)
	}
	return nil
}

func (r *RedisKV) Keys(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var keys []string
	iter := r.cache.Client.Scan(ctx, 0, r.cache.Key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		if key, ok := r.cache.StripKey(iter.Val()); ok {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisKV) publish(ctx context.Context, key string) {
	payload, _ := json.Marshal(redisChange{Origin: r.origin, Key: key})
	if err := r.cache.Client.Publish(ctx, r.cache.ChangesChannel(), payload).Err(); err != nil {
		slog.Warn("redis change publish failed", "key", key, "error", err)
	}
}

// OnExternalChange subscribes to writes published by other processes. The
// pub/sub listener starts on the first subscription.
func (r *RedisKV) OnExternalChange(prefix string, fn func(string)) func() {
	r.listenOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		pubsub := r.cache.Client.Subscribe(ctx, r.cache.ChangesChannel())
		go r.listen(ctx, pubsub)
	})
	return r.subs.add(prefix, fn)
}

func (r *RedisKV) listen(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var change redisChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				slog.Warn("ignoring malformed change message", "channel", msg.Channel, "error", err)
				continue
			}
			if change.Origin == r.origin {
				continue
			}
			r.subs.notify(change.Key)
		}
	}
}

// Close stops the change listener. The cache client is owned by the caller.
func (r *RedisKV) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}
