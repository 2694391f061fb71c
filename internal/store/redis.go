package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary KV (PostgreSQL or LevelDB) with a Redis
// read-through cache. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary. Keys under
// any of the bypass prefixes are never cached.
type CachedStore struct {
	primary KV
	rdb     *redis.Client
	ttl     time.Duration
	bypass  []string
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary KV, rdb *redis.Client, ttl time.Duration, bypass ...string) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		bypass:  bypass,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.primary.Put(ctx, key, value); err != nil {
		return err
	}
	s.rdb.Del(ctx, cacheKey(key))
	return nil
}

func (s *CachedStore) Apply(ctx context.Context, batch *Batch) error {
	if err := s.primary.Apply(ctx, batch); err != nil {
		return err
	}
	// Invalidate every touched key; next read will re-populate.
	keys := make([]string, 0, batch.Len())
	for _, op := range batch.Ops {
		keys = append(keys, cacheKey(op.Key))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.bypassed(key) {
		return s.primary.Get(ctx, key)
	}

	data, err := s.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err == nil {
		return data, nil
	}

	// Cache miss: read from primary.
	data, err = s.primary.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.rdb.Set(ctx, cacheKey(key), data, s.ttl)
	return data, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	return s.primary.Scan(ctx, prefix)
}

func (s *CachedStore) Close() error {
	return errors.Join(s.rdb.Close(), s.primary.Close())
}

func (s *CachedStore) bypassed(key string) bool {
	for _, p := range s.bypass {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func cacheKey(key string) string { return "basket-engine:" + key }
