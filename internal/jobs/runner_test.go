// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/testutil"
)

type fakeRecorder struct {
	mu       sync.Mutex
	started  []string
	finished map[string]error
}

func (f *fakeRecorder) RecordJobStart(_ context.Context, name string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	return nil
}

func (f *fakeRecorder) RecordJobFinish(_ context.Context, name string, _ time.Time, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished == nil {
		f.finished = map[string]error{}
	}
	f.finished[name] = err
	return nil
}

func TestRunNow_RecordsOutcome(t *testing.T) {
	rec := &fakeRecorder{}
	boom := errors.New("smtp down")
	r := NewRunner(rec,
		Job{Name: "ok", Every: time.Minute, Run: func(context.Context) (int, error) { return 3, nil }},
		Job{Name: "bad", Every: time.Minute, Run: func(context.Context) (int, error) { return 1, boom }},
	)

	n, err := r.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = r.RunNow(context.Background(), "bad")
	assert.ErrorIs(t, err, boom)

	_, err = r.RunNow(context.Background(), "missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"ok", "bad"}, rec.started)
	assert.NoError(t, rec.finished["ok"])
	assert.ErrorIs(t, rec.finished["bad"], boom)

	st := r.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "bad", st[0].Name)
	assert.Equal(t, "smtp down", st[0].Error)
	assert.Equal(t, 3, st[1].Items)
}

func TestRunNow_RecoversPanic(t *testing.T) {
	r := NewRunner(nil, Job{Name: "explode", Every: time.Minute, Run: func(context.Context) (int, error) {
		panic("nil map")
	}})
	_, err := r.RunNow(context.Background(), "explode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var runs atomic.Int32
	r := NewRunner(nil,
		Job{Name: "tick", Every: 5 * time.Millisecond, Run: func(context.Context) (int, error) {
			runs.Add(1)
			return 0, nil
		}},
		Job{Name: "off", Every: 0, Run: func(context.Context) (int, error) {
			t.Error("disabled job ran")
			return 0, nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestStandard_BookkeepingInStore(t *testing.T) {
	clock := testutil.NewClock()
	s := testutil.NewStore(t, clock)
	f := testutil.Seed(t, s)
	ctx := context.Background()

	expired := clock.Now().Add(-time.Hour)
	n := model.Notification{RecipientID: f.Manager.ID, Title: "old", NotificationType: model.NotifySystemAlert, ExpiresAt: &expired}
	require.NoError(t, s.CreateNotification(ctx, &n))

	cfg := config.Defaults().Jobs
	list := Standard(cfg, Services{Store: s})
	require.Len(t, list, 1)
	assert.Equal(t, JobExpire, list[0].Name)

	r := NewRunner(s, list...)
	deleted, err := r.RunNow(ctx, JobExpire)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	runs, err := s.JobRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, JobExpire, runs[0].Name)
	assert.Equal(t, 1, runs[0].Runs)
	assert.Empty(t, runs[0].LastError)
	assert.Equal(t, map[string]time.Duration{JobExpire: time.Hour}, r.Intervals())
}
