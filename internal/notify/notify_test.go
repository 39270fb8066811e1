// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/lure/internal/mailer"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/testutil"
	"github.com/ManuGH/lure/internal/tracking"
)

func TestInQuietHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC) }
	tests := []struct {
		name       string
		start, end string
		tz         string
		now        time.Time
		want       bool
	}{
		{"unset", "", "", "UTC", at(23, 0), false},
		{"same day inside", "12:00", "14:00", "UTC", at(13, 0), true},
		{"same day end exclusive", "12:00", "14:00", "UTC", at(14, 0), false},
		{"wraps midnight late", "22:00", "07:00", "UTC", at(23, 30), true},
		{"wraps midnight early", "22:00", "07:00", "UTC", at(6, 59), true},
		{"wraps midnight outside", "22:00", "07:00", "UTC", at(12, 0), false},
		{"timezone shifts", "22:00", "07:00", "Europe/Berlin", at(21, 30), true},
		{"bad timezone falls back", "22:00", "07:00", "Mars/Olympus", at(21, 30), false},
		{"equal bounds", "08:00", "08:00", "UTC", at(8, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := model.NotificationPreference{QuietHoursStart: tt.start, QuietHoursEnd: tt.end, Timezone: tt.tz}
			assert.Equal(t, tt.want, InQuietHours(p, tt.now))
		})
	}
}

type env struct {
	st     *store.Store
	clock  *testutil.Clock
	f      testutil.Fixture
	broker *MemoryBroker
	mail   *mailer.LogTransport
	svc    *Service
}

func setup(t *testing.T) env {
	t.Helper()
	clock := testutil.NewClock()
	st := testutil.NewStore(t, clock)
	broker := NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })
	mail := mailer.NewLogTransport(10)
	return env{
		st: st, clock: clock, f: testutil.Seed(t, st), broker: broker, mail: mail,
		svc: NewService(st, broker, mail, "https://lure.example/"),
	}
}

func (e env) setPref(t *testing.T, mutate func(*model.NotificationPreference)) {
	t.Helper()
	p, err := e.st.GetOrCreatePreference(context.Background(), e.f.Manager.ID)
	require.NoError(t, err)
	mutate(&p)
	require.NoError(t, e.st.SavePreference(context.Background(), &p))
}

func (e env) notifications(t *testing.T) []model.Notification {
	t.Helper()
	page, err := e.st.ListNotifications(context.Background(), e.f.Manager.ID, store.ListParams{})
	require.NoError(t, err)
	return page.Results
}

func TestNotifyPushesAndEmailsRealtime(t *testing.T) {
	e := setup(t)
	e.setPref(t, func(p *model.NotificationPreference) { p.DigestFrequency = model.DigestRealtime })
	ctx := context.Background()
	sub, err := e.broker.Subscribe(ctx, e.f.Manager.ID)
	require.NoError(t, err)

	n, ok, err := e.svc.Notify(ctx, Request{
		RecipientID: e.f.Manager.ID, Type: model.NotifyReportReady, Title: "Report ready",
		Message: "Your report is ready.", ActionURL: "/reports/1", ActionLabel: "Download",
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.PriorityMedium, n.Priority)

	select {
	case raw := <-sub.C():
		var frame struct {
			Type string `json:"type"`
			Data struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &frame))
		assert.Equal(t, "notification", frame.Type)
		assert.Equal(t, n.ID, frame.Data.ID)
	case <-time.After(time.Second):
		t.Fatal("no frame published")
	}

	msgs := e.mail.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"alice@acme.test"}, msgs[0].To)
	assert.Contains(t, msgs[0].Text, "Download: https://lure.example/reports/1")
	assert.True(t, e.notifications(t)[0].IsEmailSent)
}

func TestNotifyHonoursPreferences(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.setPref(t, func(p *model.NotificationPreference) {
		p.AppCampaignUpdates = false
		p.DigestFrequency = model.DigestRealtime
		p.QuietHoursStart, p.QuietHoursEnd = "08:00", "10:00"
	})

	_, ok, err := e.svc.Notify(ctx, Request{RecipientID: e.f.Manager.ID, Type: model.NotifyCampaignStarted, Title: "x"})
	require.NoError(t, err)
	assert.False(t, ok, "in-app campaign updates are off")

	_, ok, err = e.svc.Notify(ctx, Request{RecipientID: e.f.Manager.ID, Type: model.NotifySecurityBreach, Title: "y"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, e.mail.Messages(), "09:00 UTC is inside quiet hours")
}

func TestNotifyDedupesWithinWindow(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	req := Request{
		RecipientID: e.f.Manager.ID, Type: model.NotifySecurityBreach, Title: "t",
		DedupeKey: "rule:1", DedupeWindow: 30 * time.Minute,
	}
	_, ok, err := e.svc.Notify(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)

	e.clock.Advance(10 * time.Minute)
	_, ok, err = e.svc.Notify(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok)

	e.clock.Advance(30 * time.Minute)
	_, ok, err = e.svc.Notify(ctx, req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, e.notifications(t), 2)
}

func TestDigest(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	for _, title := range []string{"first", "second"} {
		_, ok, err := e.svc.Notify(ctx, Request{RecipientID: e.f.Manager.ID, Type: model.NotifySecurityBreach, Title: title, Message: "m"})
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Empty(t, e.mail.Messages(), "daily digest users get no realtime mail")

	sent, err := e.svc.Digest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	msgs := e.mail.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Subject, "daily notification digest (2)")
	assert.Contains(t, msgs[0].Text, "first")
	assert.Contains(t, msgs[0].Text, "second")

	_, _, err = e.svc.Notify(ctx, Request{RecipientID: e.f.Manager.ID, Type: model.NotifySecurityBreach, Title: "third"})
	require.NoError(t, err)
	sent, err = e.svc.Digest(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent, "not due again within a day")

	e.clock.Advance(24 * time.Hour)
	sent, err = e.svc.Digest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestMemoryBrokerDropsWhenFull(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, "u1")
	require.NoError(t, err)
	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, b.Publish(ctx, "u1", []byte("x")))
	}
	assert.Len(t, sub.C(), subscriberBuffer)
	require.NoError(t, sub.Close())
	assert.Zero(t, b.Subscribers("u1"))
	require.NoError(t, b.Close())
	_, err = b.Subscribe(ctx, "u1")
	assert.Error(t, err)
}

func TestRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := NewRedisBroker(client)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "u1", []byte(`{"type":"notification"}`)))
	require.NoError(t, b.Publish(ctx, "u2", []byte(`other`)))

	select {
	case got := <-sub.C():
		assert.JSONEq(t, `{"type":"notification"}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message from redis")
	}
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestHubStreamsFrames(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := NewMemoryBroker()
	hub := NewHub(broker, []string{"https://app.lure.example"})
	hub.SetPingInterval(50 * time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "u1")
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://app.lure.example"}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return broker.Subscribers("u1") == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, broker.Publish(context.Background(), "u1", []byte(`{"type":"notification","data":{}}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"notification","data":{}}`, string(msg))
	assert.Equal(t, 1, hub.Connections())

	hub.Close()
	assert.Zero(t, hub.Connections())
	assert.Zero(t, broker.Subscribers("u1"))
}

func TestAlertsFromTracking(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	threshold := 50.0
	for _, r := range []model.AlertRule{
		{Name: "clicks", TriggerType: model.TriggerClickRate, ThresholdValue: &threshold},
		{Name: "risky", TriggerType: model.TriggerHighRiskClick},
		{Name: "creds", TriggerType: model.TriggerCredentialSubmit},
		{Name: "inactive", TriggerType: model.TriggerHighRiskClick},
	} {
		r.OrganizationID, r.CreatedBy, r.IsActive = e.f.Org.ID, e.f.Manager.ID, r.Name != "inactive"
		require.NoError(t, e.st.CreateAlertRule(ctx, &r))
	}

	targets := testutil.AddTargets(t, e.st, e.f.Org.ID, 2)
	targets[0].RiskLevel = model.LevelCritical
	require.NoError(t, e.st.UpdateTarget(ctx, &targets[0], nil))
	c := testutil.NewCampaign(t, e.st, e.f, targets, func(c *model.Campaign) { c.CaptureCredentials = true })
	require.NoError(t, e.st.TransitionCampaign(ctx, c.ID, []string{model.CampaignDraft}, model.CampaignRunning, nil, nil))
	cts, err := e.st.AllCampaignTargets(ctx, c.ID)
	require.NoError(t, err)
	now := e.clock.Now()
	for i := range cts {
		cts[i].Status, cts[i].EmailSentAt = model.TargetSent, &now
		require.NoError(t, e.st.SaveCampaignTarget(ctx, &cts[i]))
	}

	alerts := NewAlerts(e.st, e.svc)
	signer := tracking.NewSigner([]byte("k"))
	tr := tracking.NewService(e.st, signer, "https://lure.example", alerts)
	var risky model.CampaignTarget
	for _, ct := range cts {
		if ct.TargetID == targets[0].ID {
			risky = ct
		}
	}
	_, err = tr.Click(ctx, signer.Token(risky.ID), tracking.Client{IP: "198.51.100.7"})
	require.NoError(t, err)
	_, err = tr.Submit(ctx, signer.Token(risky.ID), tracking.Client{}, map[string][]string{"password": {"x"}})
	require.NoError(t, err)
	_, err = tr.Click(ctx, signer.Token(risky.ID), tracking.Client{IP: "198.51.100.7"})
	require.NoError(t, err)

	byType := map[string]int{}
	for _, n := range e.notifications(t) {
		byType[n.NotificationType+"/"+n.Title]++
	}
	assert.Equal(t, map[string]int{
		model.NotifySecurityBreach + "/Click rate threshold exceeded": 1,
		model.NotifyHighRiskClick + "/High risk user clicked":         1,
		model.NotifySecurityBreach + "/Credentials submitted":         1,
	}, byType)
}

func TestCampaignLifecycleAndFailedEmails(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	alerts := NewAlerts(e.st, e.svc)
	one := 1.0
	rule := model.AlertRule{
		OrganizationID: e.f.Org.ID, Name: "done", TriggerType: model.TriggerCampaignCompleted,
		IsActive: true, CreatedBy: e.f.Manager.ID,
	}
	require.NoError(t, e.st.CreateAlertRule(ctx, &rule))
	failRule := model.AlertRule{
		OrganizationID: e.f.Org.ID, Name: "bounces", TriggerType: model.TriggerFailedEmails,
		ThresholdValue: &one, IsActive: true, CreatedBy: e.f.Manager.ID,
	}
	require.NoError(t, e.st.CreateAlertRule(ctx, &failRule))

	c := testutil.NewCampaign(t, e.st, e.f, testutil.AddTargets(t, e.st, e.f.Org.ID, 1), nil)
	require.NoError(t, alerts.CampaignStarted(ctx, c))
	require.NoError(t, alerts.CampaignStarted(ctx, c))
	require.NoError(t, alerts.CampaignCompleted(ctx, c))
	require.NoError(t, alerts.EmailFailed(ctx, c, model.Target{}), "below threshold is quiet")

	var types []string
	for _, n := range e.notifications(t) {
		types = append(types, n.NotificationType)
	}
	assert.ElementsMatch(t, []string{
		model.NotifyCampaignStarted, model.NotifyCampaignCompleted, model.NotifyCampaignCompleted,
	}, types)
}
