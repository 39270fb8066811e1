// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/lure/internal/config"
	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
)

// Denylist records revoked refresh tokens until they expire.
type Denylist interface {
	// Revoke denylists jti until exp.
	Revoke(ctx context.Context, jti string, exp time.Time) error
	// Revoked reports whether jti is denylisted.
	Revoked(ctx context.Context, jti string) (bool, error)
	Close() error
}

// NewDenylist opens the backend selected by cfg. rdb is required for the
// redis backend.
func NewDenylist(cfg config.AuthConfig, rdb redis.UniversalClient) (Denylist, error) {
	switch cfg.DenylistBackend {
	case config.BackendMemory:
		return NewMemoryDenylist(time.Minute), nil
	case config.BackendBadger, "":
		return OpenBadgerDenylist(cfg.DenylistPath)
	case config.BackendRedis:
		if rdb == nil {
			return nil, errors.New("denylist: redis backend needs a redis client")
		}
		return NewRedisDenylist(rdb), nil
	default:
		return nil, fmt.Errorf("denylist: unknown backend %q", cfg.DenylistBackend)
	}
}

// MemoryDenylist keeps revocations in process memory.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryDenylist returns an in-memory denylist that drops expired entries
// every sweep. A zero sweep disables the background sweeper.
func NewMemoryDenylist(sweep time.Duration) *MemoryDenylist {
	d := &MemoryDenylist{
		entries: make(map[string]time.Time),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if sweep > 0 {
		go d.sweepLoop(sweep)
	}
	return d
}

func (d *MemoryDenylist) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			d.Sweep()
		case <-d.stop:
			return
		}
	}
}

// Sweep drops expired entries and returns how many were removed.
func (d *MemoryDenylist) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	n := 0
	for jti, exp := range d.entries {
		if !now.Before(exp) {
			delete(d.entries, jti)
			n++
		}
	}
	return n
}

func (d *MemoryDenylist) Revoke(_ context.Context, jti string, exp time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.now().Before(exp) {
		d.entries[jti] = exp
	}
	return nil
}

func (d *MemoryDenylist) Revoked(_ context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.entries[jti]
	return ok && d.now().Before(exp), nil
}

func (d *MemoryDenylist) Close() error {
	d.once.Do(func() { close(d.stop) })
	return nil
}

// BadgerDenylist persists revocations in an embedded badger database using
// native key TTLs.
type BadgerDenylist struct {
	db *badger.DB
}

// OpenBadgerDenylist opens (or creates) the badger database at path.
func OpenBadgerDenylist(path string) (*BadgerDenylist, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open denylist: %w", err)
	}
	return &BadgerDenylist{db: db}, nil
}

func denyKey(jti string) []byte { return []byte("jti:" + jti) }

func (d *BadgerDenylist) Revoke(_ context.Context, jti string, exp time.Time) error {
	ttl := time.Until(exp)
	if ttl <= 0 {
		return nil
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(denyKey(jti), []byte{1}).WithTTL(ttl))
	})
}

func (d *BadgerDenylist) Revoked(_ context.Context, jti string) (bool, error) {
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(denyKey(jti))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *BadgerDenylist) Close() error { return d.db.Close() }

// RedisDenylist stores revocations as expiring redis keys.
type RedisDenylist struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisDenylist wraps client. The client is owned by the caller.
func NewRedisDenylist(client redis.UniversalClient) *RedisDenylist {
	return &RedisDenylist{client: client, prefix: "lure:denylist:"}
}

func (d *RedisDenylist) Revoke(ctx context.Context, jti string, exp time.Time) error {
	ttl := time.Until(exp)
	if ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, d.prefix+jti, 1, ttl).Err()
}

func (d *RedisDenylist) Revoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDenylist) Close() error { return nil }
