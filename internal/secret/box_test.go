// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package secret

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	box, err := FromConfig("", []byte("jwt-secret"))
	require.NoError(t, err)

	sealed, err := box.Seal("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))
	assert.NotContains(t, sealed, "hunter2")

	again, err := box.Seal("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce is random")

	got, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	empty, err := box.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)
	got, err = box.Open("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenRejects(t *testing.T) {
	box, err := FromConfig("", []byte("jwt-secret"))
	require.NoError(t, err)
	other, err := FromConfig("", []byte("different"))
	require.NoError(t, err)

	sealed, err := box.Seal("hunter2")
	require.NoError(t, err)
	flipped := []byte(sealed)
	mid := len(flipped) / 2
	if flipped[mid] == 'A' {
		flipped[mid] = 'B'
	} else {
		flipped[mid] = 'A'
	}

	for name, v := range map[string]string{
		"no prefix":  "hunter2",
		"bad base64": "v1:***",
		"too short":  "v1:AAAA",
		"tampered":   string(flipped),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := box.Open(v)
			assert.ErrorIs(t, err, ErrOpen)
		})
	}

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrOpen, "different key")
}

func TestFromConfigKey(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	_, err := FromConfig(key, nil)
	require.NoError(t, err)

	_, err = FromConfig(base64.StdEncoding.EncodeToString([]byte("short")), nil)
	assert.Error(t, err)

	_, err = FromConfig("", nil)
	assert.Error(t, err)
}

func TestDeriveIsBoundToInfo(t *testing.T) {
	a, err := Derive([]byte("master"), "lure/tracking", 32)
	require.NoError(t, err)
	b, err := Derive([]byte("master"), "lure/secret-box", 32)
	require.NoError(t, err)
	again, err := Derive([]byte("master"), "lure/tracking", 32)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
}
