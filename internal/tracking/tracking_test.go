// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tracking

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/testutil"
)

type observed struct{ events []Event }

func (o *observed) TrackingEvent(_ context.Context, ev Event) error {
	o.events = append(o.events, ev)
	return nil
}

func TestTokenRoundTrip(t *testing.T) {
	s := NewSigner([]byte("k1"))
	tok := s.Token("3f1c2a9e-0000-4000-8000-000000000001")
	id, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "3f1c2a9e-0000-4000-8000-000000000001", id)
	assert.NotContains(t, tok, "=")

	other := NewSigner([]byte("k2"))
	for name, bad := range map[string]string{
		"other key":   other.Token("abc"),
		"no dot":      "abc",
		"bad base64":  "!!.!!",
		"empty id":    "." + strings.Split(tok, ".")[1],
		"swapped mac": s.Token("a")[:strings.Index(s.Token("a"), ".")] + "." + strings.Split(tok, ".")[1],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Verify(bad)
			assert.ErrorIs(t, err, ErrBadToken)
		})
	}
}

func TestLinks(t *testing.T) {
	s := NewSigner([]byte("k"))
	l := s.Links("https://lure.example/", "id-1")
	tok := s.Token("id-1")
	assert.Equal(t, "https://lure.example/t/o/"+tok, l.Open)
	assert.Equal(t, "https://lure.example/t/c/"+tok, l.Click)
	assert.Equal(t, "https://lure.example/t/s/"+tok, l.Submit)
	assert.Equal(t, "https://lure.example/t/r/"+tok, l.Report)
}

func TestIsCredentialField(t *testing.T) {
	for _, name := range []string{"password", "Passwd", "user_pwd", "api_secret", "PIN", "otp_code", "csrf_token"} {
		assert.True(t, IsCredentialField(name), name)
	}
	for _, name := range []string{"email", "username", "company"} {
		assert.False(t, IsCredentialField(name), name)
	}
}

func TestRenderLanding(t *testing.T) {
	out, err := renderLanding(`<html><head><title>Sign in</title></head><body>
<form action="https://evil.example/steal" method="get"><input name="password"></form>
<form><input name="email"></form></body></html>`, "body{color:red}", "https://lure.example/t/s/tok")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, `action="https://lure.example/t/s/tok"`))
	assert.Equal(t, 2, strings.Count(out, `method="post"`))
	assert.NotContains(t, out, "evil.example")
	assert.Contains(t, out, "<style>body{color:red}</style></head>")
}

type env struct {
	st       *store.Store
	clock    *testutil.Clock
	svc      *Service
	obs      *observed
	campaign model.Campaign
	ct       model.CampaignTarget
	token    string
}

func setup(t *testing.T, mutate func(*model.Campaign)) env {
	t.Helper()
	clock := testutil.NewClock()
	st := testutil.NewStore(t, clock)
	f := testutil.Seed(t, st)
	targets := testutil.AddTargets(t, st, f.Org.ID, 1)
	c := testutil.NewCampaign(t, st, f, targets, mutate)
	ctx := context.Background()
	require.NoError(t, st.TransitionCampaign(ctx, c.ID, []string{model.CampaignDraft}, model.CampaignRunning, nil, nil))
	c, err := st.GetCampaignByID(ctx, c.ID)
	require.NoError(t, err)
	cts, err := st.AllCampaignTargets(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, cts, 1)
	ct := cts[0]
	sent := clock.Now()
	ct.Status, ct.EmailSentAt = model.TargetSent, &sent
	require.NoError(t, st.SaveCampaignTarget(ctx, &ct))

	obs := &observed{}
	signer := NewSigner([]byte("tracking-key"))
	return env{
		st: st, clock: clock, obs: obs, campaign: c, ct: ct,
		svc:   NewService(st, signer, "https://lure.example", obs),
		token: signer.Token(ct.ID),
	}
}

func (e env) reload(t *testing.T) model.CampaignTarget {
	t.Helper()
	ct, err := e.st.GetCampaignTarget(context.Background(), e.ct.ID)
	require.NoError(t, err)
	return ct
}

func TestOpenSetsTimestampOnce(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()
	cl := Client{IP: "198.51.100.1", UserAgent: "Mail/1.0"}

	require.NoError(t, e.svc.Open(ctx, e.token, cl))
	first := e.reload(t)
	assert.Equal(t, model.TargetOpened, first.Status)
	require.NotNil(t, first.EmailOpenedAt)

	e.clock.Advance(time.Hour)
	require.NoError(t, e.svc.Open(ctx, e.token, cl))
	again := e.reload(t)
	assert.True(t, again.EmailOpenedAt.Equal(*first.EmailOpenedAt))
	assert.Equal(t, "198.51.100.1", again.IPAddress)
	assert.Len(t, e.obs.events, 2)

	err := e.svc.Open(ctx, "garbage", cl)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpenIgnoredWhenDisabled(t *testing.T) {
	e := setup(t, func(c *model.Campaign) { c.TrackOpens = false })
	err := e.svc.Open(context.Background(), e.token, Client{})
	assert.ErrorIs(t, err, ErrNotTracked)
	assert.Equal(t, model.TargetSent, e.reload(t).Status)
}

func TestClickWithoutLandingPage(t *testing.T) {
	e := setup(t, nil)
	page, err := e.svc.Click(context.Background(), e.token, Client{IP: "198.51.100.2"})
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "This was a phishing simulation")
	assert.Contains(t, page.HTML, "/t/r/")

	ct := e.reload(t)
	assert.Equal(t, model.TargetClicked, ct.Status)
	assert.NotNil(t, ct.EmailOpenedAt)
	assert.NotNil(t, ct.LinkClickedAt)
	require.Len(t, e.obs.events, 1)
	assert.Equal(t, model.EventClicked, e.obs.events[0].Type)
	assert.Equal(t, "user00@example.test", e.obs.events[0].Target.Email)
}

func TestClickRendersLandingPage(t *testing.T) {
	clock := testutil.NewClock()
	st := testutil.NewStore(t, clock)
	f := testutil.Seed(t, st)
	lp := model.LandingPage{
		OrganizationID: f.Org.ID, Name: "Login", PageType: "login",
		HTMLContent: `<form action="/x"><input name="password"></form>`, CSSContent: "h1{}",
		RedirectURL: "https://intranet.example", CreatedBy: f.Manager.ID,
	}
	ctx := context.Background()
	require.NoError(t, st.CreateLandingPage(ctx, &lp))
	targets := testutil.AddTargets(t, st, f.Org.ID, 1)
	c := testutil.NewCampaign(t, st, f, targets, func(c *model.Campaign) {
		c.LandingPageID = lp.ID
		c.CaptureCredentials = true
	})
	require.NoError(t, st.TransitionCampaign(ctx, c.ID, []string{model.CampaignDraft}, model.CampaignRunning, nil, nil))
	cts, err := st.AllCampaignTargets(ctx, c.ID)
	require.NoError(t, err)
	signer := NewSigner([]byte("k"))
	svc := NewService(st, signer, "https://lure.example", nil)
	tok := signer.Token(cts[0].ID)

	page, err := svc.Click(ctx, tok, Client{})
	require.NoError(t, err)
	assert.Contains(t, page.HTML, `action="https://lure.example/t/s/`+tok+`"`)

	page, err = svc.Submit(ctx, tok, Client{}, url.Values{"password": {"hunter2"}, "email": {"bob@example.test"}})
	require.NoError(t, err)
	assert.Equal(t, "https://intranet.example", page.Redirect)

	ct, err := st.GetCampaignTarget(ctx, cts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.TargetSubmitted, ct.Status)
	assert.Equal(t, Redacted, ct.SubmittedData["password"])
	assert.Equal(t, "bob@example.test", ct.SubmittedData["email"])
}

func TestSubmitRespectsCaptureFlags(t *testing.T) {
	e := setup(t, func(c *model.Campaign) { c.CaptureData = true; c.CaptureCredentials = false })
	page, err := e.svc.Submit(context.Background(), e.token, Client{}, url.Values{"pwd": {"x"}, "name": {"Bob"}})
	require.NoError(t, err)
	assert.NotEmpty(t, page.HTML)

	ct := e.reload(t)
	assert.Equal(t, map[string]any{"name": "Bob"}, ct.SubmittedData)
	require.Len(t, e.obs.events, 1)
	assert.False(t, e.obs.events[0].Credentials)

	none := setup(t, func(c *model.Campaign) { c.CaptureData = false })
	_, err = none.svc.Submit(context.Background(), none.token, Client{}, url.Values{"name": {"Bob"}})
	assert.ErrorIs(t, err, ErrNotTracked)
}

func TestReportIsFinal(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	_, err := e.svc.Report(ctx, e.token, Client{})
	require.NoError(t, err)
	_, err = e.svc.Click(ctx, e.token, Client{})
	require.NoError(t, err)

	ct := e.reload(t)
	assert.Equal(t, model.TargetReported, ct.Status)
	assert.NotNil(t, ct.ReportedAt)
	assert.NotNil(t, ct.LinkClickedAt, "the click is still recorded")
}

func TestConcurrentEventsKeepReport(t *testing.T) {
	for i := 0; i < 10; i++ {
		e := setup(t, nil)
		ctx := context.Background()
		svc := NewService(e.st, NewSigner([]byte("tracking-key")), "https://lure.example", nil)
		// a copy read before the events, like the mailer holds during a send
		stale := e.reload(t)

		var wg sync.WaitGroup
		errs := make(chan error, 4)
		run := func(fn func() error) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- fn()
			}()
		}
		run(func() error { _, err := svc.Report(ctx, e.token, Client{IP: "198.51.100.9"}); return err })
		run(func() error { return svc.Open(ctx, e.token, Client{}) })
		run(func() error { _, err := svc.Click(ctx, e.token, Client{}); return err })
		run(func() error {
			stale.Status = model.AdvanceStatus(stale.Status, model.TargetSent)
			return e.st.SaveCampaignTarget(ctx, &stale)
		})
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		ct := e.reload(t)
		require.Equal(t, model.TargetReported, ct.Status, "iteration %d", i)
		require.NotNil(t, ct.ReportedAt, "iteration %d", i)
		require.NotNil(t, ct.EmailOpenedAt, "iteration %d", i)
		require.NotNil(t, ct.LinkClickedAt, "iteration %d", i)
	}
}

func TestDraftCampaignIgnored(t *testing.T) {
	st := testutil.NewStore(t, testutil.NewClock())
	f := testutil.Seed(t, st)
	c := testutil.NewCampaign(t, st, f, testutil.AddTargets(t, st, f.Org.ID, 1), nil)
	cts, err := st.AllCampaignTargets(context.Background(), c.ID)
	require.NoError(t, err)
	signer := NewSigner([]byte("k"))
	svc := NewService(st, signer, "https://lure.example", nil)

	tok := signer.Token(cts[0].ID)
	err = svc.Open(context.Background(), tok, Client{})
	assert.ErrorIs(t, err, ErrNotTracked)

	page, err := svc.Click(context.Background(), tok, Client{})
	assert.ErrorIs(t, err, ErrNotTracked)
	assert.Contains(t, page.HTML, "This was a phishing simulation")

	page, err = svc.Submit(context.Background(), tok, Client{}, url.Values{"name": {"Bob"}})
	assert.ErrorIs(t, err, ErrNotTracked)
	assert.False(t, page.Empty())

	page, err = svc.Report(context.Background(), tok, Client{})
	assert.ErrorIs(t, err, ErrNotTracked)
	assert.Contains(t, page.HTML, "Thank you for reporting")

	ct, err := st.GetCampaignTarget(context.Background(), cts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.TargetPending, ct.Status)
	assert.Nil(t, ct.LinkClickedAt)
	assert.Nil(t, ct.ReportedAt)
	counts, err := st.CountEvents(context.Background(), c.ID)
	require.NoError(t, err)
	for kind, n := range counts {
		assert.Zero(t, n, kind)
	}
}
