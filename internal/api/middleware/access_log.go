// SPDX-License-Identifier: MIT

package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/ratelimit"
)

type requestInfoKey struct{}

// requestInfo is filled in by inner handlers and read when the request ends.
type requestInfo struct {
	userID string
}

// SetUser records the authenticated user for the access log line.
func SetUser(ctx context.Context, userID string) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.userID = userID
	}
}

// AccessLog writes one line per request once the response is complete.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		sw := wrap(w)
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

		logger := log.WithComponentFromContext(r.Context(), "http")
		ev := logger.Info()
		switch {
		case sw.status >= 500:
			ev = logger.Error()
		case sw.status >= 400:
			ev = logger.Warn()
		}
		if info.userID != "" {
			ev = ev.Str(log.FieldUserID, info.userID)
		}
		ev.Str(log.FieldEvent, "http.request").
			Str(log.FieldMethod, r.Method).
			Str(log.FieldRoute, RoutePattern(r)).
			Int(log.FieldStatus, sw.status).
			Int(log.FieldBytes, sw.bytes).
			Dur(log.FieldDuration, time.Since(start)).
			Str(log.FieldRemoteIP, ratelimit.ClientIP(r)).
			Msg("request completed")
	})
}
