// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"time"
)

// JobRun is the persisted bookkeeping of one background job.
type JobRun struct {
	Name         string     `json:"name"`
	LastStarted  *time.Time `json:"last_started"`
	LastFinished *time.Time `json:"last_finished"`
	LastError    string     `json:"last_error,omitempty"`
	Runs         int        `json:"runs"`
	Failures     int        `json:"failures"`
}

// RecordJobStart marks name as started at t.
func (s *Store) RecordJobStart(ctx context.Context, name string, t time.Time) error {
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO job_runs (name, last_started) VALUES (?, ?)
	ON CONFLICT(name) DO UPDATE SET last_started = excluded.last_started`, name, ms(t))
	return err
}

// RecordJobFinish marks name as finished at t. A non-nil runErr counts as a failure.
func (s *Store) RecordJobFinish(ctx context.Context, name string, t time.Time, runErr error) error {
	msg, failed := "", 0
	if runErr != nil {
		msg, failed = runErr.Error(), 1
	}
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO job_runs (name, last_finished, last_error, runs, failures) VALUES (?, ?, ?, 1, ?)
	ON CONFLICT(name) DO UPDATE SET
		last_finished = excluded.last_finished,
		last_error = excluded.last_error,
		runs = runs + 1,
		failures = failures + excluded.failures`, name, ms(t), msg, failed)
	return err
}

// JobRuns returns the bookkeeping of every job that ever ran.
func (s *Store) JobRuns(ctx context.Context) ([]JobRun, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT name, last_started, last_finished, last_error, runs, failures FROM job_runs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []JobRun
	for rows.Next() {
		var r JobRun
		var started, finished sql.NullInt64
		if err := rows.Scan(&r.Name, &started, &finished, &r.LastError, &r.Runs, &r.Failures); err != nil {
			return nil, err
		}
		r.LastStarted = timePtr(started)
		r.LastFinished = timePtr(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
