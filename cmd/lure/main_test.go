// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/persistence/sqlite"
	"github.com/ManuGH/lure/internal/store"
)

func writeConfig(t *testing.T) (path, dataDir string) {
	t.Helper()
	dataDir = t.TempDir()
	path = filepath.Join(dataDir, "lure.yaml")
	body := "dataDir: " + dataDir + "\nlogLevel: error\nauth:\n  denylistBackend: memory\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "lure ")
	assert.Contains(t, out, "commit:")
}

func TestMigrateCommand(t *testing.T) {
	path, dataDir := writeConfig(t)
	out, err := execute(t, "--config", path, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version")
	assert.FileExists(t, filepath.Join(dataDir, "lure.db"))
}

func TestCreateAdminCommand(t *testing.T) {
	path, dataDir := writeConfig(t)

	_, err := execute(t, "--config", path, "createadmin", "--email", "Root@Example.com", "--password", "weak")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 8 characters")

	out, err := execute(t, "--config", path, "createadmin", "--email", "Root@Example.com", "--password", "Str0ng!Pass")
	require.NoError(t, err)
	assert.Contains(t, out, "created admin root@example.com")

	_, err = execute(t, "--config", path, "createadmin", "--email", "root@example.com", "--password", "Str0ng!Pass")
	assert.ErrorContains(t, err, "already exists")

	st, err := store.Open(context.Background(), filepath.Join(dataDir, "lure.db"), sqlite.DefaultConfig())
	require.NoError(t, err)
	defer st.Close()
	counts, err := st.UserCountsByRole(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.RoleAdmin])
}

func TestCreateAdminOptions_User(t *testing.T) {
	o := &createAdminOptions{email: " Admin@Example.com ", password: "Str0ng!Pass", firstName: "Ada"}
	u, err := o.user()
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", u.Email)
	assert.Equal(t, "admin@example.com", u.Username)
	assert.Equal(t, model.RoleAdmin, u.Role)
	assert.True(t, u.IsStaff)
	assert.NotEqual(t, "Str0ng!Pass", u.PasswordHash)

	_, err = (&createAdminOptions{email: "nope", password: "Str0ng!Pass"}).user()
	assert.Error(t, err)
}
