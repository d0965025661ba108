package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sifan077/LinkSwift/internal/app/model"
)

// ErrCacheMiss signals that no usable cache entry exists for the lookup.
var ErrCacheMiss = errors.New("cache miss")

const defaultCacheOpTimeout = 200 * time.Millisecond

// LinkCache is the Redis front for link lookups, one-time handshake entries and
// click debounce markers. Nothing stored here is authoritative.
type LinkCache interface {
	Get(ctx context.Context, key string) (*model.CachedLink, error)
	Set(ctx context.Context, entry model.CachedLink, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	SetHandshake(ctx context.Context, token string, entry model.CachedLink, ttl time.Duration) error
	TakeHandshake(ctx context.Context, key, token string) (*model.CachedLink, error)
	MarkClick(ctx context.Context, key, ip string, window time.Duration) (bool, error)
	Ping(ctx context.Context) error
}

type redisLinkCache struct {
	client    redis.Cmdable
	opTimeout time.Duration
}

// NewLinkCache returns a Redis-backed LinkCache. Every command runs under opTimeout.
func NewLinkCache(client redis.Cmdable, opTimeout time.Duration) LinkCache {
	if opTimeout <= 0 {
		opTimeout = defaultCacheOpTimeout
	}
	return &redisLinkCache{client: client, opTimeout: opTimeout}
}

func entryKey(key string) string { return key }

func handshakeKey(key, token string) string {
	return fmt.Sprintf("handshake:%s:%s", key, token)
}

func clickMarkerKey(key, ip string) string {
	return fmt.Sprintf("link:%s:ip:%s", key, ip)
}

func (c *redisLinkCache) Get(ctx context.Context, key string) (*model.CachedLink, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, entryKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return decodeEntry(data)
}

func (c *redisLinkCache) Set(ctx context.Context, entry model.CachedLink, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, entryKey(entry.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *redisLinkCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.client.Del(ctx, entryKey(key)).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (c *redisLinkCache) SetHandshake(ctx context.Context, token string, entry model.CachedLink, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, handshakeKey(entry.Key, token), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set handshake: %w", err)
	}
	return nil
}

// TakeHandshake reads and removes the handshake entry in one GETDEL so a cached
// token can be observed at most once.
func (c *redisLinkCache) TakeHandshake(ctx context.Context, key, token string) (*model.CachedLink, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	data, err := c.client.GetDel(ctx, handshakeKey(key, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache take handshake: %w", err)
	}
	return decodeEntry(data)
}

// MarkClick sets the debounce marker for (key, ip) and reports whether it was newly set.
func (c *redisLinkCache) MarkClick(ctx context.Context, key, ip string, window time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	ok, err := c.client.SetNX(ctx, clickMarkerKey(key, ip), 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("cache mark click: %w", err)
	}
	return ok, nil
}

func (c *redisLinkCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

func decodeEntry(data []byte) (*model.CachedLink, error) {
	var entry model.CachedLink
	if err := json.Unmarshal(data, &entry); err != nil {
		// A payload we cannot read is as good as absent; the store will repopulate it.
		return nil, ErrCacheMiss
	}
	if entry.Key == "" || entry.URL == "" || !entry.Access.Valid() {
		return nil, ErrCacheMiss
	}
	return &entry, nil
}
