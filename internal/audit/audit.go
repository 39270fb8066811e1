// SPDX-License-Identifier: MIT

// Package audit writes structured audit lines for security-sensitive
// operations: who did what to which resource, and whether it worked.
package audit

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/ratelimit"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventConfigReload EventType = "config.reload"

	EventLoginSuccess   EventType = "auth.login.success"
	EventLoginFailure   EventType = "auth.login.failure"
	EventLogout         EventType = "auth.logout"
	EventPasswordChange EventType = "auth.password.change"
	EventTokenRejected  EventType = "auth.token.rejected"

	EventSignup         EventType = "account.signup"
	EventUserUpdated    EventType = "account.user.updated"
	EventUserDeleted    EventType = "account.user.deleted"
	EventAdminCreated   EventType = "account.admin.created"
	EventSMTPConfigTest EventType = "emails.smtp.test"

	EventForbidden EventType = "api.forbidden"
	EventRateLimit EventType = "api.ratelimit"
)

// Result values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Event is one audit record.
type Event struct {
	Timestamp  time.Time
	Type       EventType
	Actor      string // user id, email or "system"
	Action     string
	Resource   string
	Result     string
	RemoteAddr string
	UserAgent  string
	RequestID  string
	Details    map[string]string
}

// Logger writes audit events.
type Logger struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewLogger returns a logger tagged with the audit component.
func NewLogger() *Logger {
	return &Logger{
		logger: log.WithComponent("audit").With().Str("log_type", "audit").Logger(),
		now:    time.Now,
	}
}

// WithLogger returns a copy writing to l. Tests use it to capture output.
func (a *Logger) WithLogger(l zerolog.Logger) *Logger {
	return &Logger{logger: l.With().Str("log_type", "audit").Logger(), now: a.now}
}

// Log writes ev.
func (a *Logger) Log(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.now()
	}
	e := a.logger.Info()
	if ev.Result == ResultFailure || ev.Result == ResultDenied {
		e = a.logger.Warn()
	}
	e = e.Str(log.FieldEvent, string(ev.Type)).
		Time("timestamp", ev.Timestamp).
		Str("actor", ev.Actor).
		Str("action", ev.Action).
		Str("resource", ev.Resource).
		Str("result", ev.Result)
	if ev.RemoteAddr != "" {
		e = e.Str(log.FieldRemoteIP, ev.RemoteAddr)
	}
	if ev.UserAgent != "" {
		e = e.Str("user_agent", ev.UserAgent)
	}
	if ev.RequestID != "" {
		e = e.Str(log.FieldRequestID, ev.RequestID)
	}
	for k, v := range ev.Details {
		e = e.Str(k, v)
	}
	e.Msg("audit event")
}

// FromRequest fills the request correlation fields of ev and logs it.
func (a *Logger) FromRequest(r *http.Request, ev Event) {
	ev.RemoteAddr = ratelimit.ClientIP(r)
	ev.UserAgent = r.UserAgent()
	ev.RequestID = log.RequestIDFromContext(r.Context())
	if ev.Resource == "" {
		ev.Resource = r.Method + " " + r.URL.Path
	}
	a.Log(ev)
}

// LoginSucceeded records a successful password login.
func (a *Logger) LoginSucceeded(r *http.Request, userID string) {
	a.FromRequest(r, Event{Type: EventLoginSuccess, Actor: userID, Action: "logged in", Result: ResultSuccess})
}

// LoginFailed records a rejected password login. The reason is never shown
// to the caller.
func (a *Logger) LoginFailed(r *http.Request, email, reason string) {
	a.FromRequest(r, Event{
		Type: EventLoginFailure, Actor: email, Action: "login rejected", Result: ResultFailure,
		Details: map[string]string{"reason": reason},
	})
}

// TokenRejected records a bearer or refresh token that failed verification.
func (a *Logger) TokenRejected(r *http.Request, reason string) {
	a.FromRequest(r, Event{
		Type: EventTokenRejected, Actor: "anonymous", Action: "token rejected", Result: ResultFailure,
		Details: map[string]string{"reason": reason},
	})
}

// Forbidden records an authenticated request denied by role checks.
func (a *Logger) Forbidden(r *http.Request, userID, need string) {
	a.FromRequest(r, Event{
		Type: EventForbidden, Actor: userID, Action: "permission denied", Result: ResultDenied,
		Details: map[string]string{"required": need},
	})
}

// RateLimited records a throttled request.
func (a *Logger) RateLimited(r *http.Request, actor, scope string) {
	a.FromRequest(r, Event{
		Type: EventRateLimit, Actor: actor, Action: "request throttled", Result: ResultDenied,
		Details: map[string]string{"scope": scope},
	})
}

// ConfigReload records a configuration reload attempt.
func (a *Logger) ConfigReload(actor, result string, details map[string]string) {
	a.Log(Event{
		Type:     EventConfigReload,
		Actor:    actor,
		Action:   "reloaded configuration",
		Resource: "config",
		Result:   result,
		Details:  details,
	})
}
