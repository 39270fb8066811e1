package sqlite

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "nested", "test.db")
}

func TestOpenAppliesPragmas(t *testing.T) {
	path := tempPath(t)
	db, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestMigrate(t *testing.T) {
	path := tempPath(t)
	db, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	steps := []Migration{
		{Version: 1, Name: "a", SQL: "CREATE TABLE a (id INTEGER PRIMARY KEY);"},
		{Version: 2, Name: "b", SQL: "CREATE TABLE b (id INTEGER PRIMARY KEY);"},
	}

	n, err := Migrate(ctx, db, steps)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	n, err = Migrate(ctx, db, steps)
	require.NoError(t, err)
	assert.Zero(t, n, "second run must be a no-op")

	steps = append(steps, Migration{Version: 3, Name: "broken", SQL: "CREATE TABLE ???"})
	_, err = Migrate(ctx, db, steps)
	require.Error(t, err)
	v, err = SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "failed step must not bump user_version")
}

func TestVerifyIntegrity(t *testing.T) {
	path := tempPath(t)
	db, err := Open(path, DefaultConfig())
	require.NoError(t, err)

	_, err = db.Exec("CREATE TABLE test (id INTEGER PRIMARY KEY, data TEXT);")
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		_, err = db.Exec("INSERT INTO test (data) VALUES (?)", string(make([]byte, 200)))
		require.NoError(t, err)
	}
	require.NoError(t, QuickCheck(context.Background(), db))
	_, _ = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	require.NoError(t, db.Close())

	issues, err := VerifyIntegrity(path, "quick")
	require.NoError(t, err)
	assert.Nil(t, issues)

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.NoError(t, err)
	junk := make([]byte, 512)
	_, _ = rand.Read(junk)
	_, err = f.WriteAt(junk, 4096)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	issues, err = VerifyIntegrity(path, "full")
	if err == nil {
		assert.NotEmpty(t, issues, "corruption must be reported")
	}
}
