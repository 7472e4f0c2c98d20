package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Store.Get when the key is absent or expired
var ErrMiss = errors.New("cache miss")

// Store is a TTL-aware key/value cache. Values are stored as JSON.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Fetch returns the cached value for key, or calls load and caches its result.
// A nil store disables caching. Load errors are never cached.
func Fetch[T any](ctx context.Context, store Store, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if store == nil {
		return load(ctx)
	}

	var cached T
	if err := store.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	// Cache write failures only cost a refetch
	_ = store.Set(ctx, key, value, ttl)
	return value, nil
}

// Key joins parts into a cache key. Long parts are replaced by a short hash.
func Key(parts ...string) string {
	key := ""
	for i, p := range parts {
		if len(p) > 64 {
			p = DataHash(p)
		}
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// DataHash creates a short hash of arbitrary data
func DataHash(data interface{}) string {
	jsonData, _ := json.Marshal(data)
	hash := md5.Sum(jsonData)
	return fmt.Sprintf("%x", hash[:8]) // first 8 bytes is enough for keys
}
