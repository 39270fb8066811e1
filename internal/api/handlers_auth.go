// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/ManuGH/lure/internal/audit"
	"github.com/ManuGH/lure/internal/auth"
	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/metrics"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/validate"
)

var dummyHash = sync.OnceValue(func() string {
	h, _ := auth.HashPassword("lure-dummy-password")
	return h
})

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authenticate checks credentials. The returned message is safe to show.
func (s *Server) authenticate(r *http.Request, c credentials) (model.User, string, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" || c.Password == "" {
		return model.User{}, "Must include email and password", nil
	}
	u, err := s.store.GetUserByEmail(r.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		// Burn a hash comparison so unknown emails cost the same as bad passwords.
		auth.CheckPassword(dummyHash(), c.Password)
		s.audit.LoginFailed(r, email, "unknown email")
		return u, "Invalid email or password", nil
	}
	if err != nil {
		return u, "", err
	}
	if !auth.CheckPassword(u.PasswordHash, c.Password) {
		s.audit.LoginFailed(r, email, "bad password")
		return u, "Invalid email or password", nil
	}
	if !u.IsActive {
		s.audit.LoginFailed(r, email, "inactive")
		return u, "User account is disabled", nil
	}
	return u, "", nil
}

// POST /auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decode(w, r, &c); err != nil {
		writeServiceError(w, r, err)
		return
	}
	u, msg, err := s.authenticate(r, c)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if msg != "" {
		metrics.IncAuthAttempt("login", "failure")
		respondField(w, r, validate.NonFieldErrors, msg)
		return
	}

	pair, err := s.tokens.IssuePair(u)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	now := s.store.Now()
	if err := s.store.TouchLastLogin(r.Context(), u.ID, now); err != nil {
		writeServiceError(w, r, err)
		return
	}
	u.LastLogin = &now
	metrics.IncAuthAttempt("login", "success")
	s.audit.LoginSucceeded(r, u.ID)
	respondMessage(w, http.StatusOK, "Login successful", map[string]any{
		"access":  pair.Access,
		"refresh": pair.Refresh,
		"user":    u,
	})
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// POST /auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p := principal(r)
	claims, err := s.tokens.Parse(req.Refresh, auth.TypeRefresh)
	if err != nil || claims.Subject != p.UserID() {
		s.audit.TokenRejected(r, "logout with invalid refresh token")
		writeServiceError(w, r, badRequest("Invalid token"))
		return
	}
	if s.denylist != nil {
		revoked, err := s.denylist.Revoked(r.Context(), claims.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if revoked {
			writeServiceError(w, r, badRequest("Invalid token"))
			return
		}
		if err := s.denylist.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	s.audit.FromRequest(r, audit.Event{Type: audit.EventLogout, Actor: p.UserID(), Action: "logged out", Result: audit.ResultSuccess})
	respondMessage(w, http.StatusOK, "Logout successful", nil)
}

type changePasswordRequest struct {
	OldPassword     string `json:"old_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// PUT /auth/change-password
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p := principal(r)

	v := validate.New()
	v.Required("old_password", req.OldPassword)
	v.Required("new_password", req.NewPassword)
	v.Required("confirm_password", req.ConfirmPassword)
	if v.IsValid() {
		switch {
		case !auth.CheckPassword(p.User.PasswordHash, req.OldPassword):
			v.AddError("old_password", "Old password is incorrect", nil)
		case req.NewPassword != req.ConfirmPassword:
			v.AddError("new_password", "New passwords don't match", nil)
		case req.NewPassword == req.OldPassword:
			v.AddError("new_password", "New Password must not be same as Old Password", nil)
		default:
			for _, problem := range auth.PasswordProblems(req.NewPassword) {
				v.AddError("new_password", problem, nil)
			}
		}
	}
	if err := v.Err(); err != nil {
		writeServiceError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.SetPassword(r.Context(), p.UserID(), hash); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.audit.FromRequest(r, audit.Event{
		Type: audit.EventPasswordChange, Actor: p.UserID(), Action: "changed password", Result: audit.ResultSuccess,
	})
	respondMessage(w, http.StatusOK, "Password changed successfully", nil)
}

// POST /auth/token
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decode(w, r, &c); err != nil {
		writeServiceError(w, r, err)
		return
	}
	u, msg, err := s.authenticate(r, c)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if msg != "" {
		metrics.IncAuthAttempt("token", "failure")
		respondError(w, r, ErrTokenInvalid.withMessage("No active account found with the given credentials"))
		return
	}
	pair, err := s.tokens.IssuePair(u)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	metrics.IncAuthAttempt("token", "success")
	respond(w, http.StatusOK, pair)
}

// POST /auth/token/refresh
func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	reject := func(reason string) {
		metrics.IncAuthAttempt("refresh", "failure")
		s.audit.TokenRejected(r, reason)
		respondError(w, r, ErrTokenInvalid)
	}

	claims, err := s.tokens.Parse(req.Refresh, auth.TypeRefresh)
	if err != nil {
		reject(err.Error())
		return
	}
	if s.denylist != nil {
		revoked, err := s.denylist.Revoked(r.Context(), claims.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if revoked {
			reject(auth.ErrTokenRevoked.Error())
			return
		}
	}
	u, err := s.store.GetUser(r.Context(), claims.Subject)
	if err != nil || !u.IsActive {
		reject("unknown or inactive user")
		return
	}
	access, err := s.tokens.IssueAccess(u)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	metrics.IncAuthAttempt("refresh", "success")
	respond(w, http.StatusOK, map[string]string{"access": access})
}

// POST /auth/token/verify
func (s *Server) handleTokenVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	claims, err := s.tokens.Parse(req.Token, "")
	if err == nil && claims.TokenType == auth.TypeRefresh && s.denylist != nil {
		if revoked, rerr := s.denylist.Revoked(r.Context(), claims.ID); rerr == nil && revoked {
			err = auth.ErrTokenRevoked
		}
	}
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "auth")
		logger.Debug().Err(err).Str(log.FieldEvent, "auth.verify.rejected").Msg("token verification failed")
		respondError(w, r, ErrTokenInvalid)
		return
	}
	respond(w, http.StatusOK, map[string]any{})
}
