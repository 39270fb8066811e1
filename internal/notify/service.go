// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify delivers in-app, realtime and email notifications and
// evaluates organization alert rules.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/mailer"
	"github.com/ManuGH/lure/internal/metrics"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
)

const digestLimit = 50

// Request describes a notification to create.
type Request struct {
	RecipientID string
	Type        string
	Priority    string
	Title       string
	Message     string
	CampaignID  string
	TargetID    string
	ActionURL   string
	ActionLabel string
	// DedupeKey suppresses a second notification with the same key for the
	// same recipient within DedupeWindow.
	DedupeKey    string
	DedupeWindow time.Duration
	ExpiresAt    *time.Time
}

// Frame is the websocket message envelope.
type Frame struct {
	Type string             `json:"type"`
	Data model.Notification `json:"data"`
}

// Service persists and delivers notifications.
type Service struct {
	store   *store.Store
	broker  Broker
	mail    mailer.Sender
	baseURL string
	logger  zerolog.Logger
}

// NewService returns a Service. broker and mail may be nil.
func NewService(st *store.Store, broker Broker, mail mailer.Sender, baseURL string) *Service {
	return &Service{
		store:   st,
		broker:  broker,
		mail:    mail,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log.WithComponent("notify"),
	}
}

// Notify creates one notification. It reports false when the recipient's
// preferences or the dedupe key suppressed it.
func (s *Service) Notify(ctx context.Context, req Request) (model.Notification, bool, error) {
	pref, err := s.store.GetOrCreatePreference(ctx, req.RecipientID)
	if err != nil {
		return model.Notification{}, false, fmt.Errorf("load preferences: %w", err)
	}
	cat := model.CategoryOf(req.Type)
	if !pref.InApp(cat) {
		return model.Notification{}, false, nil
	}
	now := s.store.Now()
	if req.DedupeKey != "" {
		window := req.DedupeWindow
		if window <= 0 {
			window = time.Hour
		}
		dup, err := s.store.NotificationExists(ctx, req.RecipientID, req.DedupeKey, now.Add(-window))
		if err != nil {
			return model.Notification{}, false, err
		}
		if dup {
			return model.Notification{}, false, nil
		}
	}

	n := model.Notification{
		RecipientID:      req.RecipientID,
		Title:            req.Title,
		Message:          req.Message,
		NotificationType: req.Type,
		Priority:         req.Priority,
		CampaignID:       req.CampaignID,
		TargetID:         req.TargetID,
		ActionURL:        req.ActionURL,
		ActionLabel:      req.ActionLabel,
		DedupeKey:        req.DedupeKey,
		ExpiresAt:        req.ExpiresAt,
	}
	if err := s.store.CreateNotification(ctx, &n); err != nil {
		return model.Notification{}, false, err
	}
	metrics.IncNotification(n.NotificationType)
	s.logger.Info().
		Str(log.FieldEvent, "notify.created").
		Str(log.FieldUserID, n.RecipientID).
		Str("type", n.NotificationType).
		Str("priority", n.Priority).
		Msg("notification created")

	s.push(ctx, n)
	if pref.Email(cat) && pref.DigestFrequency == model.DigestRealtime && !InQuietHours(pref, now) {
		s.emailNow(ctx, &n)
	}
	return n, true, nil
}

// NotifyUsers sends req to every user in ids and returns how many were created.
func (s *Service) NotifyUsers(ctx context.Context, ids []string, req Request) (int, error) {
	created := 0
	for _, id := range ids {
		r := req
		r.RecipientID = id
		_, ok, err := s.Notify(ctx, r)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (s *Service) push(ctx context.Context, n model.Notification) {
	if s.broker == nil {
		return
	}
	frame, err := json.Marshal(Frame{Type: "notification", Data: n})
	if err == nil {
		err = s.broker.Publish(ctx, n.RecipientID, frame)
	}
	if err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldEvent, "notify.push_failed").
			Str(log.FieldUserID, n.RecipientID).
			Msg("realtime push failed")
	}
}

func (s *Service) emailNow(ctx context.Context, n *model.Notification) {
	if s.mail == nil {
		return
	}
	u, err := s.store.GetUser(ctx, n.RecipientID)
	if err == nil && u.Email != "" {
		body := n.Message
		if n.ActionURL != "" {
			body += "\n\n" + n.ActionLabel + ": " + s.absolute(n.ActionURL)
		}
		_, err = s.mail.Send(ctx, mailer.Message{
			FromName: "Lure",
			To:       []string{u.Email},
			Subject:  "[Lure] " + n.Title,
			Text:     body,
		})
	}
	if err == nil {
		err = s.store.MarkEmailSent(ctx, n.ID)
		n.IsEmailSent = err == nil
	}
	metrics.IncNotificationEmail("realtime", err)
	if err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldEvent, "notify.email_failed").
			Str(log.FieldUserID, n.RecipientID).
			Msg("notification email failed")
	}
}

func (s *Service) absolute(u string) string {
	if strings.HasPrefix(u, "/") {
		return s.baseURL + u
	}
	return u
}

// InQuietHours reports whether now falls inside the user's quiet hours in
// their timezone. Windows may wrap midnight.
func InQuietHours(p model.NotificationPreference, now time.Time) bool {
	start, ok1 := clockMinutes(p.QuietHoursStart)
	end, ok2 := clockMinutes(p.QuietHoursEnd)
	if !ok1 || !ok2 || start == end {
		return false
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil || p.Timezone == "" {
		loc = time.UTC
	}
	local := now.In(loc)
	m := local.Hour()*60 + local.Minute()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

func clockMinutes(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func digestDue(p model.NotificationPreference, now time.Time) bool {
	if p.LastDigestAt == nil {
		return true
	}
	period := 24 * time.Hour
	if p.DigestFrequency == model.DigestWeekly {
		period = 7 * 24 * time.Hour
	}
	return !now.Before(p.LastDigestAt.Add(period))
}

// Digest mails a summary of not-yet-emailed notifications to users on a
// daily or weekly schedule and removes expired notifications. It returns the
// number of digests sent.
func (s *Service) Digest(ctx context.Context) (int, error) {
	now := s.store.Now()
	if n, err := s.store.DeleteExpiredNotifications(ctx, now); err != nil {
		return 0, err
	} else if n > 0 {
		s.logger.Info().Str(log.FieldEvent, "notify.expired_deleted").Int("count", n).Msg("expired notifications removed")
	}
	prefs, err := s.store.DigestCandidates(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, p := range prefs {
		if !digestDue(p, now) || InQuietHours(p, now) {
			continue
		}
		ok, err := s.digestFor(ctx, p, now)
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

func (s *Service) digestFor(ctx context.Context, p model.NotificationPreference, now time.Time) (bool, error) {
	items, err := s.store.PendingDigest(ctx, p.UserID, digestLimit)
	if err != nil || len(items) == 0 {
		return false, err
	}
	ids := make([]string, len(items))
	var lines []string
	for i, n := range items {
		ids[i] = n.ID
		if p.Email(model.CategoryOf(n.NotificationType)) {
			lines = append(lines, fmt.Sprintf("- [%s] %s: %s", n.Priority, n.Title, n.Message))
		}
	}

	var sendErr error
	if len(lines) > 0 && s.mail != nil {
		u, err := s.store.GetUser(ctx, p.UserID)
		if err != nil {
			return false, err
		}
		_, sendErr = s.mail.Send(ctx, mailer.Message{
			FromName: "Lure",
			To:       []string{u.Email},
			Subject:  fmt.Sprintf("[Lure] Your %s notification digest (%d)", p.DigestFrequency, len(lines)),
			Text:     "Notifications since your last digest:\n\n" + strings.Join(lines, "\n") + "\n",
		})
		metrics.IncNotificationEmail("digest", sendErr)
	}
	if sendErr != nil {
		s.logger.Warn().Err(sendErr).
			Str(log.FieldEvent, "notify.digest_failed").
			Str(log.FieldUserID, p.UserID).
			Msg("digest email failed")
		return false, nil
	}

	err = s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.MarkEmailSent(ctx, ids...); err != nil {
			return err
		}
		p.LastDigestAt = &now
		return s.store.SavePreference(ctx, &p)
	})
	return err == nil && len(lines) > 0, err
}
