// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func denylistContract(t *testing.T, d Denylist) {
	t.Helper()
	ctx := context.Background()

	revoked, err := d.Revoked(ctx, "a")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, d.Revoke(ctx, "a", time.Now().Add(time.Hour)))
	revoked, err = d.Revoked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, d.Revoke(ctx, "past", time.Now().Add(-time.Minute)))
	revoked, err = d.Revoked(ctx, "past")
	require.NoError(t, err)
	assert.False(t, revoked, "already expired tokens need no entry")
}

func TestMemoryDenylist(t *testing.T) {
	d := NewMemoryDenylist(0)
	defer d.Close()
	denylistContract(t, d)

	now := time.Now()
	d.now = func() time.Time { return now.Add(2 * time.Hour) }
	assert.Equal(t, 1, d.Sweep())
}

func TestBadgerDenylist(t *testing.T) {
	d, err := OpenBadgerDenylist(filepath.Join(t.TempDir(), "denylist"))
	require.NoError(t, err)
	defer d.Close()
	denylistContract(t, d)
}

func TestRedisDenylist(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := NewRedisDenylist(client)
	denylistContract(t, d)

	mr.FastForward(2 * time.Hour)
	revoked, err := d.Revoked(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, revoked, "entries expire with the token")
}

func TestLoadOrCreateSecret(t *testing.T) {
	dir := t.TempDir()

	got, err := LoadOrCreateSecret("configured", dir)
	require.NoError(t, err)
	assert.Equal(t, "configured", string(got))

	first, err := LoadOrCreateSecret("", dir)
	require.NoError(t, err)
	assert.Len(t, first, 64)

	second, err := LoadOrCreateSecret("", dir)
	require.NoError(t, err)
	assert.Equal(t, first, second, "generated secret is persisted")

	info, err := os.Stat(filepath.Join(dir, SecretFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, os.WriteFile(filepath.Join(dir, SecretFile), []byte("short"), 0o600))
	_, err = LoadOrCreateSecret("", dir)
	assert.Error(t, err)
}
