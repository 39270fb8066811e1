// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store provides SQLite persistence for every lure entity.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/persistence/sqlite"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a row does not exist or is outside the caller's scope.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique or foreign key constraint rejects a write.
	ErrConflict = errors.New("store: conflict")
)

// Store wraps the application database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens the database at path and applies pending migrations.
func Open(ctx context.Context, path string, cfg sqlite.Config) (*Store, error) {
	db, err := sqlite.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database without migrating it.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate brings the schema up to date.
func (s *Store) Migrate(ctx context.Context) error {
	n, err := sqlite.Migrate(ctx, s.db, migrations)
	if err != nil {
		return err
	}
	if n > 0 {
		v, _ := sqlite.SchemaVersion(ctx, s.db)
		logger := log.WithComponent("store")
		logger.Info().
			Str(log.FieldEvent, "store.migrated").
			Int("applied", n).
			Int("version", v).
			Msg("database schema migrated")
	}
	return nil
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Now returns the store's current time in UTC.
func (s *Store) Now() time.Time { return s.now() }

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

type txKey struct{}

type txState struct {
	tx    *sql.Tx
	after []func(context.Context)
}

// InTx runs fn inside a transaction. Store calls made with the context passed
// to fn join the transaction. It is committed when fn returns nil and rolled
// back otherwise. Nested calls reuse the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	state := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, state)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	for _, f := range state.after {
		f(ctx)
	}
	return nil
}

// AfterCommit runs fn once the transaction bound to ctx commits, with a
// context outside of it. Without a transaction fn runs immediately. fn is
// dropped on rollback.
func (s *Store) AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.after = append(state.after, fn)
		return
	}
	fn(ctx)
}

// q returns the transaction bound to ctx, or the pool.
func (s *Store) q(ctx context.Context) querier {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		return state.tx
	}
	return s.db
}

func newID() string { return uuid.NewString() }

// mapErr converts SQLite constraint failures to ErrConflict and sql.ErrNoRows
// to ErrNotFound.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	}
	return err
}

// IsUniqueViolation reports whether err came from a UNIQUE constraint on column.
func IsUniqueViolation(err error, column string) bool {
	if err == nil || !errors.Is(err, ErrConflict) {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE") && strings.Contains(err.Error(), column)
}

func exactlyOne(res sql.Result, err error) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Time helpers. All persisted instants are unix milliseconds.

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func nullMS(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMap(s string) map[string]any {
	m := map[string]any{}
	if s == "" {
		return m
	}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func decodeStrings(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func anyArgs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// countBy runs a "SELECT key, COUNT(*) ... GROUP BY key" query and seeds the
// result with zero counts for keys.
func countBy(ctx context.Context, q querier, keys []string, query string, args ...any) (map[string]int, error) {
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		out[k] = 0
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}

func scalarInt(ctx context.Context, q querier, query string, args ...any) (int, error) {
	var n sql.NullInt64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return int(n.Int64), nil
}

func queryStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
