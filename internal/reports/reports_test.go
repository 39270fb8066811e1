// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reports

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lure/internal/cache"
	"github.com/ManuGH/lure/internal/mailer"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/notify"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/testutil"
)

func at(t time.Time) *time.Time { return &t }

func recipient(dept string, steps int, data map[string]any) model.CampaignTarget {
	ts := testutil.Epoch
	ct := model.CampaignTarget{Target: &model.Target{Department: dept}, SubmittedData: data}
	if steps >= 1 {
		ct.EmailSentAt = at(ts)
	}
	if steps >= 2 {
		ct.EmailOpenedAt = at(ts)
	}
	if steps >= 3 {
		ct.LinkClickedAt = at(ts)
	}
	if steps >= 4 {
		ct.DataSubmittedAt = at(ts)
	}
	return ct
}

func TestBuildCampaignReport(t *testing.T) {
	c := model.Campaign{ID: "c1", Name: "Q1", Status: model.CampaignRunning}
	cts := []model.CampaignTarget{
		recipient("Sales", 0, nil),
		recipient("Sales", 1, nil),
		recipient("IT", 2, nil),
		recipient("IT", 3, nil),
		recipient("IT", 4, map[string]any{"username": "bob", "password": "[redacted]"}),
		recipient("", 4, map[string]any{"comment": "hi"}),
	}
	reported := recipient("IT", 1, nil)
	reported.ReportedAt = at(testutil.Epoch)
	cts = append(cts, reported)

	got := BuildCampaignReport(c, cts, map[string]int{model.EventBounced: 1, model.EventClicked: 5})
	want := model.CampaignReport{
		CampaignID: "c1", CampaignName: "Q1", CampaignStatus: model.CampaignRunning,
		TotalEmails: 7, EmailsSent: 6, EmailsDelivered: 5, EmailsBounced: 1,
		EmailsOpened: 4, EmailsClicked: 3, PageVisits: 5,
		CredentialsCaptured: 1, DataSubmitted: 2, EmailsReported: 1,
		DeliveryRate: 83.33, OpenRate: 80, ClickRate: 60, SusceptibilityRate: 40, AwarenessRate: 20,
		ClickThroughRate: 75,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildCampaignReportEmpty(t *testing.T) {
	got := BuildCampaignReport(model.Campaign{ID: "c1"}, nil, map[string]int{model.EventBounced: 3})
	assert.Zero(t, got.EmailsDelivered)
	assert.Zero(t, got.DeliveryRate)
	assert.Zero(t, got.OpenRate)
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name                                     string
		sent, opened, clicked, submitted, report int
		want                                     float64
	}{
		{"nothing sent", 0, 0, 0, 0, 0, 0},
		{"ignored", 4, 0, 0, 0, 0, 0},
		{"opened only", 4, 4, 0, 0, 0, 20},
		{"clicked", 2, 2, 2, 0, 0, 50},
		{"full compromise", 1, 1, 1, 1, 0, 100},
		{"reporting offsets", 2, 2, 0, 0, 2, 0},
		{"never negative", 2, 0, 0, 0, 2, 0},
		{"rounded", 3, 1, 0, 0, 0, 6.67},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RiskScore(tt.sent, tt.opened, tt.clicked, tt.submitted, tt.report))
		})
	}
}

func TestBuildDepartmentReports(t *testing.T) {
	cts := []model.CampaignTarget{
		recipient("Sales", 3, nil),
		recipient("Sales", 1, nil),
		recipient("IT", 2, nil),
		recipient("", 1, nil),
	}
	got := BuildDepartmentReports("c1", cts)
	want := []model.DepartmentReport{
		{CampaignID: "c1", Department: "IT", TotalEmployees: 1, EmailsSent: 1, EmailsOpened: 1, RiskScore: 20},
		{CampaignID: "c1", Department: "Sales", TotalEmployees: 2, EmailsSent: 2, EmailsOpened: 1, LinksClicked: 1, RiskScore: 25},
		{CampaignID: "c1", Department: UnassignedDepartment, TotalEmployees: 1, EmailsSent: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("departments mismatch (-want +got):\n%s", diff)
	}
}

func TestImprovement(t *testing.T) {
	assert.Zero(t, Improvement(40, 10, false))
	assert.Equal(t, 30.0, Improvement(40, 10, true))
	assert.Equal(t, -12.5, Improvement(10, 22.5, true))
}

func TestSlug(t *testing.T) {
	for in, want := range map[string]string{
		"Weekly Risk Review":    "weekly-risk-review",
		"Résumé  Überblick!":    "resume-uberblick",
		"  --Q1/Q2 report--  ":  "q1-q2-report",
		"***":                   "report",
		"Größe der Abteilungen": "grosse-der-abteilungen",
		"Søren Łódź Æther":      "soren-lodz-aether",
	} {
		assert.Equal(t, want, Slug(in), in)
	}
}

type env struct {
	st    *store.Store
	clock *testutil.Clock
	f     testutil.Fixture
	svc   *Service
}

func setup(t *testing.T, c cache.Cache) env {
	t.Helper()
	clock := testutil.NewClock()
	st := testutil.NewStore(t, clock)
	return env{st: st, clock: clock, f: testutil.Seed(t, st), svc: NewService(st, c, time.Minute)}
}

// run starts a campaign over targets and advances each recipient by the
// given number of engagement steps.
func (e env) run(t *testing.T, targets []model.Target, steps map[string]int) model.Campaign {
	t.Helper()
	ctx := context.Background()
	c := testutil.NewCampaign(t, e.st, e.f, targets, nil)
	require.NoError(t, e.st.TransitionCampaign(ctx, c.ID, []string{model.CampaignDraft}, model.CampaignRunning, at(e.clock.Now()), nil))
	cts, err := e.st.AllCampaignTargets(ctx, c.ID)
	require.NoError(t, err)
	now := e.clock.Now()
	for i := range cts {
		n := steps[cts[i].TargetID]
		cts[i].Status = model.TargetSent
		cts[i].EmailSentAt = &now
		if n >= 2 {
			cts[i].Status, cts[i].EmailOpenedAt = model.TargetOpened, &now
		}
		if n >= 3 {
			cts[i].Status, cts[i].LinkClickedAt = model.TargetClicked, &now
		}
		require.NoError(t, e.st.SaveCampaignTarget(ctx, &cts[i]))
	}
	got, err := e.st.GetCampaignByID(ctx, c.ID)
	require.NoError(t, err)
	return got
}

func TestRefreshCampaignTracksDepartmentImprovement(t *testing.T) {
	ctx := context.Background()
	e := setup(t, nil)
	targets := testutil.AddTargets(t, e.st, e.f.Org.ID, 4)

	clicks := map[string]int{}
	for _, tg := range targets {
		if tg.Department == "Sales" {
			clicks[tg.ID] = 3
		}
	}
	first := e.run(t, targets, clicks)
	report, err := e.svc.RefreshCampaign(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, report.EmailsSent)
	assert.Equal(t, 50.0, report.ClickRate)

	e.clock.Advance(24 * time.Hour)
	second := e.run(t, targets, nil)
	_, err = e.svc.RefreshCampaign(ctx, second.ID)
	require.NoError(t, err)

	depts, err := e.st.DepartmentReportsForCampaign(ctx, second.ID)
	require.NoError(t, err)
	byDept := map[string]model.DepartmentReport{}
	for _, d := range depts {
		byDept[d.Department] = d
	}
	require.Len(t, byDept, 2)
	assert.Equal(t, 50.0, byDept["Sales"].ImprovementPercentage, "sales dropped from 50 to 0")
	assert.Zero(t, byDept["Sales"].RiskScore)
	assert.Zero(t, byDept["IT"].ImprovementPercentage)

	// refreshing again updates rows in place
	again, err := e.svc.RefreshCampaign(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, report.ID, again.ID)
	depts, err = e.st.DepartmentReportsForCampaign(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, depts, 2)
}

func TestRefreshPicksUpChangedCampaigns(t *testing.T) {
	ctx := context.Background()
	e := setup(t, nil)
	targets := testutil.AddTargets(t, e.st, e.f.Org.ID, 2)
	testutil.NewCampaign(t, e.st, e.f, targets, nil)
	e.run(t, targets, nil)

	n, err := e.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "drafts are skipped")

	n, err = e.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatisticsCachedUntilRefresh(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryCache(0)
	e := setup(t, mem)
	targets := testutil.AddTargets(t, e.st, e.f.Org.ID, 2)
	c := e.run(t, targets, map[string]int{targets[0].ID: 2})

	st, err := e.svc.Statistics(ctx, e.f.Org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Overview.TotalCampaigns)
	assert.Equal(t, 2, st.Overview.TotalEmailsSent)
	assert.Zero(t, st.CampaignPerformance.AverageOpenRate)
	assert.Equal(t, int64(1), mem.Stats().Sets)

	_, err = e.svc.Statistics(ctx, e.f.Org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mem.Stats().Hits)

	_, err = e.svc.RefreshCampaign(ctx, c.ID)
	require.NoError(t, err)
	st, err = e.svc.Statistics(ctx, e.f.Org.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, st.CampaignPerformance.AverageOpenRate)
	require.Len(t, st.DepartmentBreakdown, 2)
	assert.Equal(t, "Sales", st.DepartmentBreakdown[0].Department)
}

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []notify.Request
}

func (r *recordingNotifier) Notify(_ context.Context, req notify.Request) (model.Notification, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return model.Notification{}, true, nil
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestGeneratorRunsDueReports(t *testing.T) {
	ctx := context.Background()
	e := setup(t, nil)
	targets := testutil.AddTargets(t, e.st, e.f.Org.ID, 2)
	c := e.run(t, targets, map[string]int{targets[0].ID: 3})

	sr := model.ScheduledReport{
		OrganizationID: e.f.Org.ID, Name: "Weekly Risk Review", ReportType: "campaign_summary",
		Frequency: "weekly", Recipients: []string{"ciso@acme.test"},
		NextRun: e.clock.Now().Add(-time.Hour), IsActive: true, CreatedBy: e.f.Manager.ID,
	}
	require.NoError(t, e.st.CreateScheduledReport(ctx, &sr))
	idle := model.ScheduledReport{
		OrganizationID: e.f.Org.ID, Name: "Later", ReportType: "executive_summary",
		Frequency: "daily", NextRun: e.clock.Now().Add(time.Hour), IsActive: true, CreatedBy: e.f.Manager.ID,
	}
	require.NoError(t, e.st.CreateScheduledReport(ctx, &idle))

	dir := t.TempDir()
	mail := mailer.NewLogTransport(10)
	notifier := &recordingNotifier{}
	g := NewGenerator(e.st, e.svc, mail, notifier, dir)

	n, err := g.RunDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	path := filepath.Join(dir, e.f.Org.ID, "weekly-risk-review-20250310-090000.csv")
	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"campaign", "status", "total_emails", "emails_sent"}, rows[0][:4])
	assert.Equal(t, []string{c.Name, model.CampaignRunning, "2", "2"}, rows[1][:4])

	msgs := mail.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"ciso@acme.test"}, msgs[0].To)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "weekly-risk-review-20250310-090000.csv", msgs[0].Attachments[0].Name)

	require.Len(t, notifier.reqs, 1)
	assert.Equal(t, model.NotifyReportReady, notifier.reqs[0].Type)
	assert.Equal(t, e.f.Manager.ID, notifier.reqs[0].RecipientID)

	got, err := e.st.GetScheduledReport(ctx, e.f.Org.ID, sr.ID)
	require.NoError(t, err)
	assert.Equal(t, path, got.LastFile)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(e.clock.Now()))
	assert.True(t, got.NextRun.Equal(sr.NextRun.AddDate(0, 0, 7)), "next run %s", got.NextRun)

	n, err = g.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGenerateDepartmentBreakdown(t *testing.T) {
	ctx := context.Background()
	e := setup(t, nil)
	targets := testutil.AddTargets(t, e.st, e.f.Org.ID, 4)
	c := e.run(t, targets, nil)
	other := e.run(t, targets[:2], nil)

	sr := model.ScheduledReport{
		OrganizationID: e.f.Org.ID, Name: "Departments", ReportType: "department_breakdown",
		Frequency: "monthly", IncludeCampaigns: []string{c.ID},
		NextRun: e.clock.Now(), IsActive: true, CreatedBy: e.f.Manager.ID,
	}
	require.NoError(t, e.st.CreateScheduledReport(ctx, &sr))

	g := NewGenerator(e.st, e.svc, nil, nil, t.TempDir())
	out, err := g.Generate(ctx, sr)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, out.IncludeCampaigns)

	rows := readCSV(t, out.LastFile)
	require.Len(t, rows, 3)
	assert.Equal(t, "department", rows[0][1])
	depts := []string{rows[1][1], rows[2][1]}
	if diff := cmp.Diff([]string{"IT", "Sales"}, depts, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("departments (-want +got):\n%s", diff)
	}
	for _, r := range rows[1:] {
		assert.Equal(t, c.Name, r[0])
		assert.Equal(t, "2", r[2])
	}

	_, err = e.st.GetCampaignReportByCampaign(ctx, other.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "campaigns outside the selection are left alone")

	got, err := e.st.GetScheduledReport(ctx, e.f.Org.ID, sr.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, got.IncludeCampaigns)
}
