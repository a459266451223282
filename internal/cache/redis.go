package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// Redis shares one cache between processes. Keys are namespaced and
// expire through Redis TTLs.
type Redis struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisClient connects with short timeouts.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
}

func NewRedis(client *redis.Client, namespace string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if namespace != "" && !strings.HasSuffix(namespace, ":") {
		namespace += ":"
	}
	return &Redis{client: client, namespace: namespace, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.namespace+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, prefix string) (int, error) {
	keys, err := r.scan(ctx, prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for start := 0; start < len(keys); start += scanBatch {
		end := start + scanBatch
		if end > len(keys) {
			end = len(keys)
		}
		n, err := r.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return removed, fmt.Errorf("cache: redis del: %w", err)
		}
		removed += int(n)
	}
	return removed, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	_, err := r.Invalidate(ctx, "")
	return err
}

// Stats derives entry ages from remaining TTLs.
func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	keys, err := r.scan(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, k := range keys {
		left, err := r.client.TTL(ctx, k).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("cache: redis ttl: %w", err)
		}
		if left < 0 {
			continue
		}
		st.Entries++
		if age := r.ttl - left; age > st.OldestAge {
			st.OldestAge = age
		}
	}
	return st, nil
}

func (r *Redis) scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := escapeGlob(r.namespace+prefix) + "*"
	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("cache: redis scan: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
