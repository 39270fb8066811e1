// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ManuGH/lure/internal/api/middleware"
	"github.com/ManuGH/lure/internal/auth"
	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/metrics"
	"github.com/ManuGH/lure/internal/store"
)

const wsPath = "/api/v1/notifications/ws"

// identify resolves the bearer token, if any, into a Principal. Requests
// without a token continue anonymously; role checks happen per route.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowQuery := strings.TrimSuffix(r.URL.Path, "/") == wsPath
		raw := auth.ExtractToken(r, allowQuery)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := s.tokens.Parse(raw, auth.TypeAccess)
		if err != nil {
			metrics.IncAuthAttempt("access", "invalid")
			s.audit.TokenRejected(r, err.Error())
			respondError(w, r, ErrTokenInvalid)
			return
		}

		u, err := s.store.GetUser(r.Context(), claims.Subject)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.audit.TokenRejected(r, "unknown user")
			respondError(w, r, ErrTokenInvalid.withMessage("User not found"))
			return
		case err != nil:
			writeServiceError(w, r, err)
			return
		case !u.IsActive:
			s.audit.TokenRejected(r, "inactive user")
			respondError(w, r, ErrTokenInvalid.withMessage("User is inactive"))
			return
		}

		ctx := auth.WithPrincipal(r.Context(), &auth.Principal{User: u, TokenID: claims.ID})
		ctx = log.ContextWithUserID(ctx, u.ID)
		middleware.SetUser(ctx, u.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal returns the caller. Only valid behind requireAuth or a role guard.
func principal(r *http.Request) *auth.Principal {
	return auth.PrincipalFromContext(r.Context())
}

// guard builds a middleware admitting authenticated callers for which allow
// returns true.
func (s *Server) guard(need, denyMessage string, allow func(*auth.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := principal(r)
			if p == nil {
				respondError(w, r, ErrNotAuthenticated)
				return
			}
			if allow != nil && !allow(p) {
				s.audit.Forbidden(r, p.UserID(), need)
				apiErr := ErrPermissionDenied
				if denyMessage != "" {
					apiErr = apiErr.withMessage(denyMessage)
				}
				respondError(w, r, apiErr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return s.guard("authenticated", "", nil)(next)
}

func (s *Server) customerOrAdmin(next http.Handler) http.Handler {
	return s.guard("customer_or_admin", "", (*auth.Principal).CustomerOrAdmin)(next)
}

func (s *Server) orgManager(next http.Handler) http.Handler {
	return s.guard("org_manager", "You must belong to an organization to perform this action.",
		(*auth.Principal).OrgManager)(next)
}

func (s *Server) orgMember(next http.Handler) http.Handler {
	return s.guard("org_member", "You must belong to an organization to perform this action.",
		(*auth.Principal).OrgMember)(next)
}

func (s *Server) platformAdmin(next http.Handler) http.Handler {
	return s.guard("platform_admin", "", (*auth.Principal).PlatformAdmin)(next)
}
