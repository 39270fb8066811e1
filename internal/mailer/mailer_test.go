// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/secret"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/testutil"
	"github.com/ManuGH/lure/internal/tracking"
)

func TestSubstitute(t *testing.T) {
	vars := Vars{"first_name": "<Ann>", "email": "ann@x.test"}
	assert.Equal(t, "Hi <Ann> ann@x.test {{ unknown }}",
		Substitute("Hi {{first_name}} {{  email }} {{ unknown }}", vars, false))
	assert.Equal(t, "Hi &lt;Ann&gt;", Substitute("Hi {{ first_name }}", vars, true))
}

func TestRenderRewritesLinksAndAddsPixel(t *testing.T) {
	signer := tracking.NewSigner([]byte("k"))
	links := signer.Links("https://lure.example", "ct-1")
	tmpl := model.EmailTemplate{
		Subject:     "Hello {{first_name}}",
		HTMLContent: `<p>Hi {{ first_name }} <a href="https://intranet.example/reset">reset</a> <a href="mailto:help@x.test">help</a></p>`,
		TextContent: "Go to {{phishing_url}}",
	}
	vars := VarsFor(model.Target{FirstName: "Ann", LastName: "Lee"}, model.Organization{Name: "Acme"}, tmpl, links)
	assert.Equal(t, "Ann Lee", vars["full_name"])

	r, err := Render(tmpl, model.Campaign{TrackClicks: true, TrackOpens: true}, vars, links)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ann", r.Subject)
	assert.Equal(t, "Go to "+links.Click, r.Text)
	assert.Contains(t, r.HTML, `href="`+links.Click+`"`)
	assert.NotContains(t, r.HTML, "intranet.example")
	assert.Contains(t, r.HTML, `href="mailto:help@x.test"`)
	assert.Contains(t, r.HTML, `src="`+links.Open+`"`)

	r, err = Render(tmpl, model.Campaign{}, vars, links)
	require.NoError(t, err)
	assert.Contains(t, r.HTML, "https://intranet.example/reset")
	assert.NotContains(t, r.HTML, "<img")
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []Message
}

func (f *fakeSender) Send(_ context.Context, m Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, m)
	return "<id-" + m.To[0] + ">", nil
}

type failures struct{ targets []string }

func (f *failures) EmailFailed(_ context.Context, _ model.Campaign, t model.Target) error {
	f.targets = append(f.targets, t.Email)
	return nil
}

type quotaFunc func(orgID string) bool

func (q quotaFunc) EmailsAllowed(_ context.Context, orgID string) (bool, error) { return q(orgID), nil }

type env struct {
	st       *store.Store
	clock    *testutil.Clock
	f        testutil.Fixture
	campaign model.Campaign
	sender   *fakeSender
	queue    *Queue
}

func setup(t *testing.T, targets int, opts Options) env {
	t.Helper()
	clock := testutil.NewClock()
	st := testutil.NewStore(t, clock)
	f := testutil.Seed(t, st)
	c := testutil.NewCampaign(t, st, f, testutil.AddTargets(t, st, f.Org.ID, targets), nil)
	require.NoError(t, st.TransitionCampaign(context.Background(), c.ID,
		[]string{model.CampaignDraft}, model.CampaignRunning, nil, nil))
	c.Status = model.CampaignRunning

	if opts.SendRate == 0 {
		opts.SendRate = 1000
	}
	sender := &fakeSender{}
	tr := tracking.NewService(st, tracking.NewSigner([]byte("k")), "https://lure.example", nil)
	return env{st: st, clock: clock, f: f, campaign: c, sender: sender, queue: NewQueue(st, tr, nil, sender, opts)}
}

func (e env) queueEntries(t *testing.T) []model.EmailQueue {
	t.Helper()
	page, err := e.st.ListQueue(context.Background(), e.f.Org.ID, store.ListParams{Ordering: "scheduled_time", PageSize: 100})
	require.NoError(t, err)
	return page.Results
}

func TestDispatchStaggersBySendInterval(t *testing.T) {
	e := setup(t, 3, Options{})
	ctx := context.Background()

	n, err := e.queue.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries := e.queueEntries(t)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, testutil.Epoch.Add(time.Duration(i)*5*time.Minute), entry.ScheduledTime)
		assert.Equal(t, model.QueueQueued, entry.Status)
	}

	n, err = e.queue.Dispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "recipients with a live entry are not queued twice")
}

func TestSendDeliversDueEntries(t *testing.T) {
	e := setup(t, 2, Options{})
	ctx := context.Background()
	_, err := e.queue.Dispatch(ctx)
	require.NoError(t, err)

	sent, err := e.queue.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent, "only the first entry is due")
	require.Len(t, e.sender.sent, 1)
	msg := e.sender.sent[0]
	assert.Equal(t, "it@acme.test", msg.From)
	assert.Equal(t, "IT Desk", msg.FromName)
	assert.Contains(t, msg.HTML, "https://lure.example/t/c/")
	assert.Contains(t, msg.HTML, "https://lure.example/t/o/")

	entries := e.queueEntries(t)
	assert.Equal(t, model.QueueSent, entries[0].Status)
	assert.NotEmpty(t, entries[0].MessageID)
	assert.Equal(t, model.QueueQueued, entries[1].Status)

	ct, err := e.st.GetCampaignTarget(ctx, entries[0].CampaignTargetID)
	require.NoError(t, err)
	assert.Equal(t, model.TargetSent, ct.Status)
	assert.NotNil(t, ct.EmailSentAt)

	counts, err := e.st.CountEvents(ctx, e.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.EventSent])

	e.clock.Advance(5 * time.Minute)
	sent, err = e.queue.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestSendRetriesThenFails(t *testing.T) {
	e := setup(t, 1, Options{MaxRetries: 1, RetryBackoff: time.Minute})
	obs := &failures{}
	e.queue.WithFailureObserver(obs)
	e.sender.err = errors.New("550 mailbox unavailable")
	ctx := context.Background()
	_, err := e.queue.Dispatch(ctx)
	require.NoError(t, err)

	sent, err := e.queue.Send(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	entry := e.queueEntries(t)[0]
	assert.Equal(t, model.QueueQueued, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)
	assert.Equal(t, testutil.Epoch.Add(time.Minute), entry.ScheduledTime)
	assert.Contains(t, entry.ErrorMessage, "550")

	e.clock.Advance(time.Minute)
	_, err = e.queue.Send(ctx)
	require.NoError(t, err)
	entry = e.queueEntries(t)[0]
	assert.Equal(t, model.QueueFailed, entry.Status)
	assert.Equal(t, 2, entry.RetryCount)

	ct, err := e.st.GetCampaignTarget(ctx, entry.CampaignTargetID)
	require.NoError(t, err)
	assert.Equal(t, model.TargetFailed, ct.Status)
	counts, err := e.st.CountEvents(ctx, e.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.EventBounced])
	assert.Equal(t, []string{"user00@example.test"}, obs.targets)
}

func TestSendHonoursCampaignStatus(t *testing.T) {
	for name, tc := range map[string]struct {
		status string
		want   string
	}{
		"paused stays queued":    {model.CampaignPaused, model.QueueQueued},
		"cancelled is cancelled": {model.CampaignCancelled, model.QueueCancelled},
		"completed is cancelled": {model.CampaignCompleted, model.QueueCancelled},
	} {
		t.Run(name, func(t *testing.T) {
			e := setup(t, 1, Options{})
			ctx := context.Background()
			_, err := e.queue.Dispatch(ctx)
			require.NoError(t, err)
			require.NoError(t, e.st.TransitionCampaign(ctx, e.campaign.ID,
				[]string{model.CampaignRunning}, tc.status, nil, nil))

			sent, err := e.queue.Send(ctx)
			require.NoError(t, err)
			assert.Zero(t, sent)
			assert.Empty(t, e.sender.sent)
			assert.Equal(t, tc.want, e.queueEntries(t)[0].Status)
		})
	}
}

func TestSendRespectsQuota(t *testing.T) {
	e := setup(t, 1, Options{})
	e.queue.WithQuota(quotaFunc(func(string) bool { return false }))
	ctx := context.Background()
	_, err := e.queue.Dispatch(ctx)
	require.NoError(t, err)

	sent, err := e.queue.Send(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, model.QueueQueued, e.queueEntries(t)[0].Status)
}

func TestSendUsesOrganizationSMTP(t *testing.T) {
	e := setup(t, 1, Options{})
	ctx := context.Background()
	box, err := secret.New(make([]byte, 32))
	require.NoError(t, err)
	sealed, err := box.Seal("s3cret")
	require.NoError(t, err)
	cfg := model.SMTPConfig{
		OrganizationID: e.f.Org.ID, Name: "primary", Host: "smtp.acme.test", Port: 587, Username: "mailer",
		PasswordEnc: sealed, UseTLS: true, FromEmail: "noreply@acme.test", ReplyToEmail: "it@acme.test",
		IsActive: true, DailyLimit: 10,
	}
	require.NoError(t, e.st.CreateSMTPConfig(ctx, &cfg))

	orgSender := &fakeSender{}
	var got SMTPSettings
	e.queue.box = box
	e.queue.WithDialer(func(s SMTPSettings) Sender { got = s; return orgSender })

	_, err = e.queue.Dispatch(ctx)
	require.NoError(t, err)
	sent, err := e.queue.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, orgSender.sent, 1)
	assert.Empty(t, e.sender.sent)
	assert.Equal(t, "s3cret", got.Password)
	assert.Equal(t, "smtp.acme.test", got.Host)

	cfg, err = e.st.GetSMTPConfig(ctx, e.f.Org.ID, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.CurrentDailyCount)
}

func TestLogTransportKeepsRecent(t *testing.T) {
	tr := NewLogTransport(2)
	for _, to := range []string{"a@x.test", "b@x.test", "c@x.test"} {
		id, err := tr.Send(context.Background(), Message{To: []string{to}, Subject: "s"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}
	msgs := tr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "b@x.test", msgs[0].To[0])

	_, err := tr.Send(context.Background(), Message{})
	assert.Error(t, err)
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := testutil.Epoch
	b := NewBreaker(2, time.Minute, func() time.Time { return now })
	boom := errors.New("421 try later")

	assert.ErrorIs(t, b.Call(func() error { return boom }), boom)
	assert.Equal(t, breakerClosed, b.State())
	assert.ErrorIs(t, b.Call(func() error { return boom }), boom)
	assert.Equal(t, breakerOpen, b.State())

	called := false
	assert.ErrorIs(t, b.Call(func() error { called = true; return nil }), ErrRelayUnavailable)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.ErrorIs(t, b.Call(func() error { return boom }), boom)
	assert.Equal(t, breakerOpen, b.State(), "failed trial reopens")

	now = now.Add(time.Minute)
	require.NoError(t, b.Call(func() error { return nil }))
	assert.Equal(t, breakerClosed, b.State())
}

func TestSendDefersWhileRelayDisabled(t *testing.T) {
	e := setup(t, 3, Options{MaxRetries: 5, RetryBackoff: time.Second, BreakerThreshold: 1, BreakerCooldown: time.Hour})
	e.sender.err = errors.New("connection refused")
	ctx := context.Background()
	_, err := e.queue.Dispatch(ctx)
	require.NoError(t, err)
	e.clock.Advance(time.Hour)

	sent, err := e.queue.Send(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	retries := 0
	for _, entry := range e.queueEntries(t) {
		assert.Equal(t, model.QueueQueued, entry.Status)
		retries += entry.RetryCount
	}
	assert.Equal(t, 1, retries, "only the first attempt reaches the relay")
}
