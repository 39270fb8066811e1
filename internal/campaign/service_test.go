// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package campaign

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/testutil"
)

type recordingNotifier struct {
	mu        sync.Mutex
	started   []string
	completed []string
}

func (r *recordingNotifier) CampaignStarted(_ context.Context, c model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, c.ID)
	return nil
}

func (r *recordingNotifier) CampaignCompleted(_ context.Context, c model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, c.ID)
	return errors.New("mail relay down")
}

func TestTransitionFor(t *testing.T) {
	tests := []struct {
		from    string
		action  Action
		to      string
		refusal string
	}{
		{model.CampaignDraft, ActionStart, model.CampaignRunning, ""},
		{model.CampaignScheduled, ActionStart, model.CampaignRunning, ""},
		{model.CampaignPaused, ActionStart, "", "Only draft or scheduled campaigns can be started"},
		{model.CampaignDraft, ActionSchedule, model.CampaignScheduled, ""},
		{model.CampaignRunning, ActionSchedule, "", "Only draft campaigns can be scheduled"},
		{model.CampaignRunning, ActionPause, model.CampaignPaused, ""},
		{model.CampaignDraft, ActionPause, "", "Only running campaigns can be paused"},
		{model.CampaignPaused, ActionResume, model.CampaignRunning, ""},
		{model.CampaignRunning, ActionResume, "", "Only paused campaigns can be resumed"},
		{model.CampaignPaused, ActionCancel, model.CampaignCancelled, ""},
		{model.CampaignCompleted, ActionCancel, "", "Campaign cannot be cancelled"},
		{model.CampaignCancelled, ActionCancel, "", "Campaign cannot be cancelled"},
		{model.CampaignDraft, "explode", "", "Invalid action"},
	}
	for _, tt := range tests {
		t.Run(tt.from+"/"+string(tt.action), func(t *testing.T) {
			tr, err := TransitionFor(tt.from, tt.action)
			if tt.refusal != "" {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.EqualError(t, err, tt.refusal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, tr.To)
		})
	}
}

func TestActionForStatus(t *testing.T) {
	a, err := ActionForStatus(model.CampaignPaused, model.CampaignRunning)
	require.NoError(t, err)
	assert.Equal(t, ActionResume, a)

	a, err = ActionForStatus(model.CampaignDraft, model.CampaignRunning)
	require.NoError(t, err)
	assert.Equal(t, ActionStart, a)

	a, err = ActionForStatus(model.CampaignDraft, model.CampaignDraft)
	require.NoError(t, err)
	assert.Empty(t, a)

	_, err = ActionForStatus(model.CampaignRunning, model.CampaignCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplyLifecycle(t *testing.T) {
	clock := testutil.NewClock()
	st := testutil.NewStore(t, clock)
	f := testutil.Seed(t, st)
	targets := testutil.AddTargets(t, st, f.Org.ID, 2)
	c := testutil.NewCampaign(t, st, f, targets, nil)
	n := &recordingNotifier{}
	svc := NewService(st, n)
	ctx := context.Background()

	res, err := svc.Apply(ctx, f.Org.ID, c.ID, ActionStart)
	require.NoError(t, err)
	assert.Equal(t, "Campaign started successfully", res.Message)
	assert.Equal(t, model.CampaignRunning, res.Campaign.Status)
	require.NotNil(t, res.Campaign.ActualStart)
	assert.True(t, res.Campaign.ActualStart.Equal(testutil.Epoch))

	clock.Advance(time.Hour)
	_, err = svc.Apply(ctx, f.Org.ID, c.ID, ActionPause)
	require.NoError(t, err)
	res, err = svc.Apply(ctx, f.Org.ID, c.ID, ActionResume)
	require.NoError(t, err)
	assert.True(t, res.Campaign.ActualStart.Equal(testutil.Epoch), "resume keeps the first start time")
	assert.Equal(t, []string{c.ID}, n.started, "only the first start notifies")

	_, err = svc.Apply(ctx, f.Org.ID, c.ID, ActionResume)
	assert.EqualError(t, err, "Only paused campaigns can be resumed")

	_, err = svc.Apply(ctx, "other-org", c.ID, ActionPause)
	assert.Error(t, err)
}

func TestStartRequiresTargets(t *testing.T) {
	st := testutil.NewStore(t, testutil.NewClock())
	f := testutil.Seed(t, st)
	c := testutil.NewCampaign(t, st, f, nil, nil)

	_, err := NewService(st, nil).Apply(context.Background(), f.Org.ID, c.ID, ActionStart)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.EqualError(t, err, "Campaign has no targets")
}

func TestScheduleRequiresFutureStart(t *testing.T) {
	clock := testutil.NewClock()
	st := testutil.NewStore(t, clock)
	f := testutil.Seed(t, st)
	targets := testutil.AddTargets(t, st, f.Org.ID, 1)
	past := testutil.Epoch.Add(-time.Minute)
	c := testutil.NewCampaign(t, st, f, targets, func(c *model.Campaign) { c.ScheduledStart = &past })
	svc := NewService(st, nil)
	ctx := context.Background()

	_, err := svc.Apply(ctx, f.Org.ID, c.ID, ActionSchedule)
	assert.EqualError(t, err, "Scheduled start time must be in the future")

	future := testutil.Epoch.Add(time.Hour)
	c.ScheduledStart = &future
	require.NoError(t, st.UpdateCampaign(ctx, &c, false))
	res, err := svc.Apply(ctx, f.Org.ID, c.ID, ActionSchedule)
	require.NoError(t, err)
	assert.Equal(t, "Campaign scheduled successfully", res.Message)
}

func TestCancelCancelsQueuedEmails(t *testing.T) {
	st := testutil.NewStore(t, testutil.NewClock())
	f := testutil.Seed(t, st)
	targets := testutil.AddTargets(t, st, f.Org.ID, 2)
	c := testutil.NewCampaign(t, st, f, targets, nil)
	svc := NewService(st, nil)
	ctx := context.Background()

	_, err := svc.Apply(ctx, f.Org.ID, c.ID, ActionStart)
	require.NoError(t, err)
	pending, err := st.PendingUnqueued(ctx, c.ID, 10)
	require.NoError(t, err)
	for _, ct := range pending {
		require.NoError(t, st.EnqueueEmail(ctx, &model.EmailQueue{
			CampaignID: c.ID, TargetID: ct.TargetID, CampaignTargetID: ct.ID, ScheduledTime: testutil.Epoch,
		}))
	}

	res, err := svc.Apply(ctx, f.Org.ID, c.ID, ActionCancel)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCancelled, res.Campaign.Status)
	require.NotNil(t, res.Campaign.EndDate)

	due, err := st.ClaimDueEmails(ctx, testutil.Epoch.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestAdvance(t *testing.T) {
	clock := testutil.NewClock()
	st := testutil.NewStore(t, clock)
	f := testutil.Seed(t, st)
	targets := testutil.AddTargets(t, st, f.Org.ID, 1)
	n := &recordingNotifier{}
	svc := NewService(st, n)
	ctx := context.Background()

	soon := testutil.Epoch.Add(10 * time.Minute)
	c := testutil.NewCampaign(t, st, f, targets, func(c *model.Campaign) { c.ScheduledStart = &soon })
	_, err := svc.Apply(ctx, f.Org.ID, c.ID, ActionSchedule)
	require.NoError(t, err)

	moved, err := svc.Advance(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved, "not due yet")

	clock.Advance(15 * time.Minute)
	moved, err = svc.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	got, err := st.GetCampaign(ctx, f.Org.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignRunning, got.Status)

	cts, err := st.AllCampaignTargets(ctx, c.ID)
	require.NoError(t, err)
	for i := range cts {
		now := clock.Now()
		cts[i].Status = model.TargetSent
		cts[i].EmailSentAt = &now
		require.NoError(t, st.SaveCampaignTarget(ctx, &cts[i]))
	}

	moved, err = svc.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	got, err = st.GetCampaign(ctx, f.Org.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, got.Status)
	assert.Equal(t, []string{c.ID}, n.completed, "notifier errors do not fail the transition")
}
