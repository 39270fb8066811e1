// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lure/internal/auth"
	"github.com/ManuGH/lure/internal/billing"
	"github.com/ManuGH/lure/internal/campaign"
	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/testutil"
	"github.com/ManuGH/lure/internal/tracking"
)

type testEnv struct {
	t       *testing.T
	st      *store.Store
	clock   *testutil.Clock
	f       testutil.Fixture
	tokens  *auth.Tokens
	signer  *tracking.Signer
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate func(*config.AppConfig)) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	cfg.API.PublicBaseURL = "https://lure.example"
	if mutate != nil {
		mutate(&cfg)
	}
	clock := testutil.NewClock()
	st := testutil.NewStore(t, clock)
	tokens := auth.NewTokens([]byte("0123456789abcdef0123456789abcdef"), "lure", time.Hour, 24*time.Hour)
	signer := tracking.NewSigner([]byte("tracking-key"))
	billingSvc := billing.NewService(st, nil)

	srv, err := New(Deps{
		Config:    cfg,
		Store:     st,
		Tokens:    tokens,
		Denylist:  auth.NewMemoryDenylist(time.Minute),
		Campaigns: campaign.NewService(st, nil),
		Tracking:  tracking.NewService(st, signer, cfg.API.PublicBaseURL, nil),
		Billing:   billingSvc,
	})
	require.NoError(t, err)
	return &testEnv{t: t, st: st, clock: clock, f: testutil.Seed(t, st), tokens: tokens, signer: signer, handler: srv.Handler()}
}

func (e *testEnv) token(u model.User) string {
	e.t.Helper()
	pair, err := e.tokens.IssuePair(u)
	require.NoError(e.t, err)
	return pair.Access
}

type result struct {
	code   int
	header http.Header
	body   map[string]any
	raw    []byte
}

func (e *testEnv) do(method, path, token string, body any) result {
	e.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	res := result{code: rec.Code, header: rec.Header(), raw: rec.Body.Bytes()}
	_ = json.Unmarshal(res.raw, &res.body)
	return res
}

func (r result) errorCode() string {
	errObj, _ := r.body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func (r result) errorDetails() map[string]any {
	errObj, _ := r.body["error"].(map[string]any)
	d, _ := errObj["details"].(map[string]any)
	return d
}

func (r result) data() map[string]any {
	d, _ := r.body["data"].(map[string]any)
	return d
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	hash, err := auth.HashPassword("Sup3r$ecret")
	require.NoError(t, err)
	u := model.User{Username: "bob", Email: "bob@acme.test", PasswordHash: hash, Role: model.RoleCustomer,
		OrganizationID: e.f.Org.ID, IsActive: true}
	require.NoError(t, e.st.CreateUser(ctx, &u))

	res := e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "BOB@acme.test", "password": "Sup3r$ecret"})
	require.Equal(t, http.StatusOK, res.code, string(res.raw))
	assert.Equal(t, true, res.body["success"])
	assert.NotEmpty(t, res.data()["access"])
	assert.NotEmpty(t, res.data()["refresh"])

	res = e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "bob@acme.test", "password": "wrong"})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "validation_error", res.errorCode())
	assert.Contains(t, res.errorDetails(), "non_field_errors")
}

func TestAuthentication(t *testing.T) {
	e := newTestEnv(t, nil)

	res := e.do(http.MethodGet, "/api/v1/targets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Equal(t, "not_authenticated", res.errorCode())

	res = e.do(http.MethodGet, "/api/v1/targets", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Equal(t, "token_invalid", res.errorCode())

	res = e.do(http.MethodGet, "/api/v1/targets", e.token(e.f.Manager), nil)
	assert.Equal(t, http.StatusOK, res.code, string(res.raw))
}

func TestRoleGuards(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	employee := model.User{Username: "eve", Email: "eve@acme.test", Role: model.RoleTarget,
		OrganizationID: e.f.Org.ID, IsActive: true}
	require.NoError(t, e.st.CreateUser(ctx, &employee))

	res := e.do(http.MethodGet, "/api/v1/targets", e.token(employee), nil)
	assert.Equal(t, http.StatusForbidden, res.code)
	assert.Equal(t, "permission_denied", res.errorCode())

	res = e.do(http.MethodGet, "/api/v1/admin/dashboard", e.token(e.f.Manager), nil)
	assert.Equal(t, http.StatusForbidden, res.code)

	// profile only needs authentication
	res = e.do(http.MethodGet, "/api/v1/profile", e.token(employee), nil)
	assert.Equal(t, http.StatusOK, res.code, string(res.raw))
}

func TestOrganizationScoping(t *testing.T) {
	e := newTestEnv(t, nil)
	other := testutil.SeedOrg(t, e.st, "globex")
	foreign := testutil.AddTargets(t, e.st, other.Org.ID, 1)[0]

	res := e.do(http.MethodGet, "/api/v1/targets/"+foreign.ID, e.token(e.f.Manager), nil)
	assert.Equal(t, http.StatusNotFound, res.code)
	assert.Equal(t, "not_found", res.errorCode())

	res = e.do(http.MethodGet, "/api/v1/targets/"+foreign.ID, e.token(other.Manager), nil)
	assert.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, foreign.Email, res.data()["email"])
}

func TestCreateTarget(t *testing.T) {
	e := newTestEnv(t, nil)
	tok := e.token(e.f.Manager)

	res := e.do(http.MethodPost, "/api/v1/targets", tok, map[string]any{"first_name": "No", "last_name": "Mail"})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "validation_error", res.errorCode())
	assert.Contains(t, res.errorDetails(), "email")
	assert.Contains(t, res.errorDetails(), "job_title")

	res = e.do(http.MethodPost, "/api/v1/targets", tok, map[string]any{
		"email": "carol@acme.test", "first_name": "Carol", "last_name": "Jones", "department": "Finance",
		"job_title": "Controller",
	})
	require.Equal(t, http.StatusCreated, res.code, string(res.raw))
	assert.Equal(t, "carol@acme.test", res.data()["email"])
	assert.Equal(t, e.f.Org.ID, res.data()["organization"])
}

func TestPlanLimitOnTargets(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	sub := model.NewTrialSubscription(e.f.Org.ID, e.clock.Now())
	sub.MaxTargets = 1
	require.NoError(t, e.st.CreateSubscription(ctx, &sub))
	testutil.AddTargets(t, e.st, e.f.Org.ID, 1)

	res := e.do(http.MethodPost, "/api/v1/targets", e.token(e.f.Manager), map[string]any{
		"email": "dave@acme.test", "first_name": "Dave", "last_name": "Lee", "department": "Sales",
		"job_title": "Account Executive",
	})
	assert.Equal(t, http.StatusForbidden, res.code)
	assert.Equal(t, "plan_limit_exceeded", res.errorCode())
	assert.Equal(t, float64(1), res.errorDetails()["limit"])
}

func TestCampaignActionAndTracking(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	targets := testutil.AddTargets(t, e.st, e.f.Org.ID, 2)
	c := testutil.NewCampaign(t, e.st, e.f, targets, nil)
	tok := e.token(e.f.Manager)

	res := e.do(http.MethodPost, "/api/v1/campaign/"+c.ID+"/action", tok, map[string]string{"action": "explode"})
	assert.Equal(t, http.StatusBadRequest, res.code)

	// tracking is ignored until the campaign runs
	cts, err := e.st.AllCampaignTargets(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, cts, 2)
	pixel := "/t/o/" + e.signer.Token(cts[0].ID)
	res = e.do(http.MethodGet, pixel, "", nil)
	assert.Equal(t, http.StatusOK, res.code)
	res = e.do(http.MethodGet, "/t/c/"+e.signer.Token(cts[0].ID), "", nil)
	assert.Equal(t, http.StatusOK, res.code)
	assert.Contains(t, string(res.raw), "phishing simulation")
	counts, err := e.st.CountEvents(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, counts[model.EventClicked])

	res = e.do(http.MethodPost, "/api/v1/campaign/"+c.ID+"/action", tok, map[string]string{"action": "start"})
	require.Equal(t, http.StatusOK, res.code, string(res.raw))
	assert.Equal(t, model.CampaignRunning, res.data()["status"])

	res = e.do(http.MethodPost, "/api/v1/campaign/"+c.ID+"/action", tok, map[string]string{"action": "start"})
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = e.do(http.MethodGet, pixel, "", nil)
	assert.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "image/gif", res.header.Get("Content-Type"))
	counts, err = e.st.CountEvents(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.EventOpened])

	res = e.do(http.MethodGet, "/t/c/not-a-token", "", nil)
	assert.Equal(t, http.StatusNotFound, res.code)
}

func TestUpdateCampaignRefusedStatusKeepsContent(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	targets := testutil.AddTargets(t, e.st, e.f.Org.ID, 1)
	c := testutil.NewCampaign(t, e.st, e.f, targets, nil)
	tok := e.token(e.f.Manager)

	res := e.do(http.MethodPut, "/api/v1/campaign/"+c.ID, tok, map[string]any{"name": "Renamed", "status": model.CampaignPaused})
	assert.Equal(t, http.StatusBadRequest, res.code, string(res.raw))

	got, err := e.st.GetCampaign(ctx, e.f.Org.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, model.CampaignDraft, got.Status)

	res = e.do(http.MethodPut, "/api/v1/campaign/"+c.ID, tok, map[string]any{"name": "Renamed"})
	require.Equal(t, http.StatusOK, res.code, string(res.raw))
	got, err = e.st.GetCampaign(ctx, e.f.Org.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
}

func TestAnonymousRateLimit(t *testing.T) {
	e := newTestEnv(t, func(c *config.AppConfig) { c.API.AnonRequestsPerHour = 2 })
	creds := map[string]string{"email": "nobody@acme.test", "password": "x"}

	for i := 0; i < 2; i++ {
		res := e.do(http.MethodPost, "/api/v1/auth/login", "", creds)
		assert.Equal(t, http.StatusBadRequest, res.code)
	}
	res := e.do(http.MethodPost, "/api/v1/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, res.code)
	assert.Equal(t, "rate_limited", res.errorCode())
	assert.NotEmpty(t, res.header.Get("Retry-After"))
}

func TestSystemRoutes(t *testing.T) {
	e := newTestEnv(t, nil)

	res := e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, res.code)

	res = e.do(http.MethodGet, "/api/swagger.json", "", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Contains(t, res.body, "openapi")
	assert.Contains(t, res.body, "paths")

	res = e.do(http.MethodGet, "/api/v1/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, res.code)
	assert.Equal(t, false, res.body["success"])
}
