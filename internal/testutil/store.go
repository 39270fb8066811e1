package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/persistence/sqlite"
	"github.com/ManuGH/lure/internal/store"
)

// Epoch is the fixed start time of test clocks.
var Epoch = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// Clock is a manually advanced clock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a clock set to Epoch.
func NewClock() *Clock { return &Clock{t: Epoch} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// NewStore opens a migrated store in a temp dir driven by clock.
func NewStore(t *testing.T, clock *Clock) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "lure.db"), sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	if clock != nil {
		s.SetClock(clock.Now)
	}
	return s
}

// Fixture is a seeded organization with one manager and one template.
type Fixture struct {
	Org      model.Organization
	Manager  model.User
	Template model.EmailTemplate
}

// Seed creates the Acme organization, its manager alice and a template.
func Seed(t *testing.T, s *store.Store) Fixture {
	t.Helper()
	return SeedOrg(t, s, "acme")
}

// SeedOrg is Seed with a custom organization slug.
func SeedOrg(t *testing.T, s *store.Store, slug string) Fixture {
	t.Helper()
	ctx := context.Background()
	var f Fixture
	f.Org = model.Organization{Name: slug, Domain: slug + ".test", Industry: "technology", Size: "small", IsActive: true}
	require.NoError(t, s.CreateOrganization(ctx, &f.Org))
	f.Manager = model.User{
		Username: "alice-" + slug, Email: "alice@" + slug + ".test", FirstName: "Alice", LastName: "Admin",
		Role: model.RoleCustomer, OrganizationID: f.Org.ID, IsActive: true,
	}
	require.NoError(t, s.CreateUser(ctx, &f.Manager))
	f.Template = model.EmailTemplate{
		OrganizationID: f.Org.ID, Name: "Reset", Subject: "Reset your password, {{first_name}}",
		SenderName: "IT Desk", SenderEmail: "it@" + slug + ".test",
		HTMLContent:  `<p>Hi {{ first_name }}, <a href="https://intranet.example/reset">reset</a></p>`,
		TextContent:  "Hi {{first_name}}, visit {{phishing_url}}",
		TemplateType: "it_support", DifficultyLevel: "beginner", CreatedBy: f.Manager.ID,
	}
	require.NoError(t, s.CreateTemplate(ctx, &f.Template))
	return f
}

// AddTargets creates n active targets split between the Sales and IT departments.
func AddTargets(t *testing.T, s *store.Store, orgID string, n int) []model.Target {
	t.Helper()
	ptrs := make([]*model.Target, n)
	for i := range ptrs {
		ptrs[i] = &model.Target{
			OrganizationID: orgID,
			Email:          fmt.Sprintf("user%02d@example.test", i),
			FirstName:      fmt.Sprintf("User%02d", i),
			LastName:       "Test",
			Department:     []string{"Sales", "IT"}[i%2],
			JobTitle:       "Staff",
			RiskLevel:      model.LevelMedium,
			IsActive:       true,
		}
	}
	require.NoError(t, s.BulkCreateTargets(context.Background(), ptrs))
	out := make([]model.Target, n)
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

// NewCampaign creates a draft campaign for targets. mutate may adjust it
// before it is stored.
func NewCampaign(t *testing.T, s *store.Store, f Fixture, targets []model.Target, mutate func(*model.Campaign)) model.Campaign {
	t.Helper()
	ids := make([]string, len(targets))
	for i, tg := range targets {
		ids[i] = tg.ID
	}
	c := model.Campaign{
		OrganizationID: f.Org.ID, Name: "Q1 phishing", TemplateID: f.Template.ID,
		IndividualTargetIDs: ids, SendIntervalMinutes: 5,
		TrackOpens: true, TrackClicks: true, CaptureData: true, CreatedBy: f.Manager.ID,
	}
	if mutate != nil {
		mutate(&c)
	}
	require.NoError(t, s.CreateCampaign(context.Background(), &c))
	got, err := s.GetCampaignByID(context.Background(), c.ID)
	require.NoError(t, err)
	return got
}
