// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader caches JSON-encoded values of type T and runs at most one load per
// key at a time.
type Loader[T any] struct {
	cache Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewLoader returns a Loader storing values in c for ttl. A nil cache or a
// non-positive ttl disables caching but keeps load deduplication.
func NewLoader[T any](c Cache, ttl time.Duration) *Loader[T] {
	return &Loader[T]{cache: c, ttl: ttl}
}

// Get returns the cached value for key or calls load and caches its result.
func (l *Loader[T]) Get(ctx context.Context, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if l.cache != nil && l.ttl > 0 {
		if raw, ok := l.cache.Get(ctx, key); ok {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, nil
			}
		}
	}
	res, err, _ := l.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		if l.cache != nil && l.ttl > 0 {
			if raw, err := json.Marshal(v); err == nil {
				l.cache.Set(ctx, key, raw, l.ttl)
			}
		}
		return v, nil
	})
	v, _ := res.(T)
	return v, err
}

// Invalidate drops key.
func (l *Loader[T]) Invalidate(ctx context.Context, key string) {
	if l.cache != nil {
		l.cache.Delete(ctx, key)
	}
}
