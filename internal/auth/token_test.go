// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/lure/internal/model"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUser = model.User{ID: "u-1", Role: model.RoleCustomer, OrganizationID: "org-1"}

func newTestTokens() *Tokens {
	return NewTokens([]byte("0123456789abcdef0123456789abcdef"), "lure", 30*time.Minute, 7*24*time.Hour)
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.local/ws?token=query-token", nil)
	assert.Empty(t, ExtractToken(r, false))
	assert.Equal(t, "query-token", ExtractToken(r, true))

	r.Header.Set("Authorization", "Bearer header-token ")
	assert.Equal(t, "header-token", ExtractToken(r, true), "header wins over query")

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, ExtractToken(r, false))
}

func TestIssueAndParse(t *testing.T) {
	tok := newTestTokens()
	pair, err := tok.IssuePair(testUser)
	require.NoError(t, err)

	claims, err := tok.Parse(pair.Access, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, model.RoleCustomer, claims.Role)
	assert.Equal(t, "org-1", claims.OrgID)
	assert.NotEmpty(t, claims.ID)

	refresh, err := tok.Parse(pair.Refresh, TypeRefresh)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, refresh.ID)

	_, err = tok.Parse(pair.Access, TypeRefresh)
	assert.ErrorIs(t, err, ErrTokenInvalid, "access token must not refresh")

	_, err = tok.Parse(pair.Refresh, "")
	assert.NoError(t, err)
}

func TestParseRejects(t *testing.T) {
	tok := newTestTokens()
	pair, err := tok.IssuePair(testUser)
	require.NoError(t, err)

	other := NewTokens([]byte("another-secret-another-secret-xx"), "lure", time.Minute, time.Hour)
	foreign, err := other.IssueAccess(testUser)
	require.NoError(t, err)

	wrongIssuer := NewTokens([]byte("0123456789abcdef0123456789abcdef"), "someone-else", time.Minute, time.Hour)
	issued, err := wrongIssuer.IssueAccess(testUser)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		TokenType:        TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1", ID: "x", Issuer: "lure"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parts := strings.Split(pair.Access, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	for name, raw := range map[string]string{
		"garbage":      "not-a-token",
		"other secret": foreign,
		"other issuer": issued,
		"alg none":     none,
		"tampered":     tampered,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tok.Parse(raw, "")
			assert.ErrorIs(t, err, ErrTokenInvalid)
		})
	}
}

func TestParseExpiry(t *testing.T) {
	tok := newTestTokens()

	tok.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	stale, err := tok.IssueAccess(testUser)
	require.NoError(t, err)

	tok.SetClock(func() time.Time { return time.Now().Add(-30*time.Minute - 10*time.Second) })
	skewed, err := tok.IssueAccess(testUser)
	require.NoError(t, err)

	tok.SetClock(time.Now)
	_, err = tok.Parse(stale, TypeAccess)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = tok.Parse(skewed, TypeAccess)
	assert.NoError(t, err, "expiry within leeway is tolerated")
}

func TestPasswordProblems(t *testing.T) {
	tests := []struct {
		password string
		want     int
	}{
		{"Str0ng!pass", 0},
		{"short1!", 2},
		{"alllowercase1!", 1},
		{"ALLUPPERCASE1!", 1},
		{"NoDigits!!", 1},
		{"NoSpecial123", 1},
		{"", 5},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			assert.Len(t, PasswordProblems(tt.password), tt.want)
		})
	}
	assert.Equal(t, []string{"Password must be at least 8 characters long."}, PasswordProblems("Ab1!"))
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("Str0ng!pass")
	require.NoError(t, err)
	assert.NotEqual(t, "Str0ng!pass", hash)
	assert.True(t, CheckPassword(hash, "Str0ng!pass"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("", ""))
}

func TestPrincipalPredicates(t *testing.T) {
	tests := []struct {
		name                    string
		user                    model.User
		customerOrAdmin, orgMgr bool
		platformAdmin           bool
	}{
		{"customer with org", model.User{Role: model.RoleCustomer, OrganizationID: "o"}, true, true, false},
		{"customer without org", model.User{Role: model.RoleCustomer}, true, false, false},
		{"target", model.User{Role: model.RoleTarget, OrganizationID: "o"}, false, false, false},
		{"staff admin", model.User{Role: model.RoleAdmin, IsStaff: true}, true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Principal{User: tt.user}
			assert.Equal(t, tt.customerOrAdmin, p.CustomerOrAdmin())
			assert.Equal(t, tt.orgMgr, p.OrgManager())
			assert.Equal(t, tt.platformAdmin, p.PlatformAdmin())
		})
	}

	ctx := WithPrincipal(t.Context(), &Principal{User: testUser})
	require.NotNil(t, PrincipalFromContext(ctx))
	assert.Equal(t, "org-1", PrincipalFromContext(ctx).OrgID())
	assert.Nil(t, PrincipalFromContext(t.Context()))
}
