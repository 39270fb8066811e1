// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobs runs lure's periodic background work: queueing and sending
// campaign emails, moving campaigns through their lifecycle, refreshing
// reports, billing and notification digests.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/metrics"
	"github.com/ManuGH/lure/internal/telemetry"
)

// Func does one unit of work and returns how many items it handled.
type Func func(ctx context.Context) (int, error)

// Job is a named Func run every interval.
type Job struct {
	Name  string
	Every time.Duration
	Run   Func
}

// Recorder persists job bookkeeping; *store.Store implements it.
type Recorder interface {
	RecordJobStart(ctx context.Context, name string, t time.Time) error
	RecordJobFinish(ctx context.Context, name string, t time.Time, runErr error) error
}

// Status represents the outcome of a job's last run.
type Status struct {
	Name     string        `json:"name"`
	LastRun  time.Time     `json:"last_run"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Runner runs jobs on their own tickers until its context ends.
type Runner struct {
	jobs   []Job
	rec    Recorder
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	status map[string]Status
}

// NewRunner returns a Runner. A nil recorder keeps bookkeeping in memory only.
func NewRunner(rec Recorder, jobs ...Job) *Runner {
	return &Runner{
		jobs:   jobs,
		rec:    rec,
		logger: log.WithComponent("jobs"),
		now:    time.Now,
		status: make(map[string]Status, len(jobs)),
	}
}

// Jobs returns the registered jobs.
func (r *Runner) Jobs() []Job { return append([]Job(nil), r.jobs...) }

// Intervals maps job names to their intervals.
func (r *Runner) Intervals() map[string]time.Duration {
	out := make(map[string]time.Duration, len(r.jobs))
	for _, j := range r.jobs {
		out[j.Name] = j.Every
	}
	return out
}

// Run blocks until ctx is cancelled. Job errors are logged and recorded,
// never returned.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range r.jobs {
		if j.Every <= 0 || j.Run == nil {
			r.logger.Warn().Str(log.FieldJob, j.Name).Str(log.FieldEvent, "job.disabled").Msg("job has no interval, not scheduled")
			continue
		}
		g.Go(func() error {
			r.loop(ctx, j)
			return nil
		})
	}
	r.logger.Info().Str(log.FieldEvent, "jobs.started").Int("jobs", len(r.jobs)).Msg("background jobs started")
	err := g.Wait()
	r.logger.Info().Str(log.FieldEvent, "jobs.stopped").Msg("background jobs stopped")
	return err
}

func (r *Runner) loop(ctx context.Context, j Job) {
	t := time.NewTicker(j.Every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = r.runOnce(ctx, j)
		}
	}
}

// RunNow runs the named job once, synchronously.
func (r *Runner) RunNow(ctx context.Context, name string) (int, error) {
	for _, j := range r.jobs {
		if j.Name == name {
			return r.runOnce(ctx, j)
		}
	}
	return 0, fmt.Errorf("unknown job %q", name)
}

func (r *Runner) runOnce(ctx context.Context, j Job) (items int, err error) {
	runID := uuid.NewString()
	ctx = log.ContextWithJobID(ctx, runID)
	ctx, span := telemetry.Tracer("lure/jobs").Start(ctx, "job."+j.Name)
	defer span.End()

	logger := log.WithContext(ctx, r.logger).With().Str(log.FieldJob, j.Name).Logger()
	start := r.now()
	if r.rec != nil {
		if rerr := r.rec.RecordJobStart(ctx, j.Name, start); rerr != nil {
			logger.Warn().Err(rerr).Str(log.FieldEvent, "job.bookkeeping_failed").Msg("failed to record job start")
		}
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, p)
			logger.Error().Str(log.FieldEvent, "job.panic").Interface("panic", p).Msg("job panicked")
		}
		r.finish(ctx, logger, j.Name, start, items, err)
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(telemetry.JobAttributes(j.Name, status, items, r.now().Sub(start).Milliseconds())...)
	}()

	return j.Run(ctx)
}

func (r *Runner) finish(ctx context.Context, logger zerolog.Logger, name string, start time.Time, items int, err error) {
	end := r.now()
	elapsed := end.Sub(start)
	metrics.RecordJobRun(name, elapsed, err)

	st := Status{Name: name, LastRun: end, Items: items, Duration: elapsed}
	if err != nil {
		st.Error = err.Error()
	}
	r.mu.Lock()
	r.status[name] = st
	r.mu.Unlock()

	if r.rec != nil {
		// bookkeeping must land even when the run was cancelled
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if rerr := r.rec.RecordJobFinish(bctx, name, end, err); rerr != nil {
			logger.Warn().Err(rerr).Str(log.FieldEvent, "job.bookkeeping_failed").Msg("failed to record job finish")
		}
		cancel()
	}

	switch {
	case err == nil:
		ev := logger.Debug()
		if items > 0 {
			ev = logger.Info()
		}
		ev.Str(log.FieldEvent, "job.done").Int("items", items).Dur(log.FieldDuration, elapsed).Msg("job finished")
	case errors.Is(err, context.Canceled):
		logger.Debug().Str(log.FieldEvent, "job.cancelled").Msg("job cancelled")
	default:
		logger.Error().Err(err).Str(log.FieldEvent, "job.failed").Int("items", items).Dur(log.FieldDuration, elapsed).Msg("job failed")
	}
}

// Statuses returns the last run of every job that has run, by name.
func (r *Runner) Statuses() []Status {
	r.mu.Lock()
	out := make([]Status, 0, len(r.status))
	for _, s := range r.status {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
