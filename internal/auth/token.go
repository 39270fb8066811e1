// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/lure/internal/model"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Token types carried in the token_type claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Leeway tolerates clock skew between issuer and verifier.
const Leeway = 30 * time.Second

var (
	// ErrTokenInvalid is returned for malformed, forged or wrongly typed tokens.
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenRevoked is returned for denylisted refresh tokens.
	ErrTokenRevoked = errors.New("auth: token revoked")
)

// Claims is the JWT payload issued by lure.
type Claims struct {
	Role      string `json:"role"`
	OrgID     string `json:"org,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Pair is an access and refresh token issued together.
type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Tokens issues and verifies HS256 tokens.
type Tokens struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokens returns a token service signing with secret.
func NewTokens(secret []byte, issuer string, accessTTL, refreshTTL time.Duration) *Tokens {
	return &Tokens{
		secret:     secret,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (t *Tokens) SetClock(now func() time.Time) { t.now = now }

// IssuePair issues a fresh access and refresh token for u.
func (t *Tokens) IssuePair(u model.User) (Pair, error) {
	access, err := t.issue(u, TypeAccess, t.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := t.issue(u, TypeRefresh, t.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// IssueAccess issues an access token for u.
func (t *Tokens) IssueAccess(u model.User) (string, error) {
	return t.issue(u, TypeAccess, t.accessTTL)
}

func (t *Tokens) issue(u model.User, typ string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		Role:      u.Role,
		OrgID:     u.OrganizationID,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// Parse verifies raw and returns its claims. wantType restricts the
// token_type claim; empty accepts either type.
func (t *Tokens) Parse(raw, wantType string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors == jwt.ValidationErrorExpired {
			// Tolerate skew without accepting anything else.
			if claims.ExpiresAt != nil && t.now().Before(claims.ExpiresAt.Add(Leeway)) {
				return t.checkClaims(claims, wantType)
			}
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return t.checkClaims(claims, wantType)
}

func (t *Tokens) checkClaims(c *Claims, wantType string) (*Claims, error) {
	if c.Subject == "" || c.ID == "" {
		return nil, ErrTokenInvalid
	}
	if c.Issuer != t.issuer {
		return nil, fmt.Errorf("%w: issuer %q", ErrTokenInvalid, c.Issuer)
	}
	if c.TokenType != TypeAccess && c.TokenType != TypeRefresh {
		return nil, ErrTokenInvalid
	}
	if wantType != "" && c.TokenType != wantType {
		return nil, fmt.Errorf("%w: expected %s token", ErrTokenInvalid, wantType)
	}
	return c, nil
}

// ExtractToken returns the bearer token of r. The query parameter "token"
// is only consulted when allowQuery is set (websocket upgrades).
func ExtractToken(r *http.Request, allowQuery bool) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}
