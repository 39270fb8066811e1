// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ManuGH/lure/internal/model"
)

const notificationColumns = `n.id, n.recipient_id, n.title, n.message, n.notification_type, n.priority, n.is_read,
	n.is_email_sent, COALESCE(n.campaign_id, ''), COALESCE(c.name, ''), COALESCE(n.target_id, ''),
	n.action_url, n.action_label, n.dedupe_key, n.created_at, n.read_at, n.expires_at`

const notificationFrom = `notifications n LEFT JOIN campaigns c ON c.id = n.campaign_id`

var notificationList = ListSpec{
	Filters: map[string]Filter{
		"notification_type": {Column: "n.notification_type"},
		"priority":          {Column: "n.priority"},
		"is_read":           {Column: "n.is_read", Bool: true},
	},
	Search:   []string{"n.title", "n.message"},
	Ordering: map[string]string{"created_at": "n.created_at", "priority": "n.priority"},
	Default:  "n.created_at DESC",
}

func scanNotification(r scanner) (model.Notification, error) {
	var n model.Notification
	var created int64
	var readAt, expires sql.NullInt64
	err := r.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Message, &n.NotificationType, &n.Priority, &n.IsRead,
		&n.IsEmailSent, &n.CampaignID, &n.CampaignName, &n.TargetID,
		&n.ActionURL, &n.ActionLabel, &n.DedupeKey, &created, &readAt, &expires)
	n.CreatedAt = fromMS(created)
	n.ReadAt = timePtr(readAt)
	n.ExpiresAt = timePtr(expires)
	return n, err
}

// CreateNotification inserts n.
func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = newID()
	}
	if n.Priority == "" {
		n.Priority = model.PriorityMedium
	}
	n.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO notifications (id, recipient_id, title, message, notification_type, priority, is_read, is_email_sent,
		campaign_id, target_id, action_url, action_label, dedupe_key, created_at, read_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, n.Title, n.Message, n.NotificationType, n.Priority, b2i(n.IsRead), b2i(n.IsEmailSent),
		nullStr(n.CampaignID), nullStr(n.TargetID), n.ActionURL, n.ActionLabel, n.DedupeKey, ms(n.CreatedAt),
		nullMS(n.ReadAt), nullMS(n.ExpiresAt))
	return mapErr(err)
}

// NotificationExists reports whether recipient already has a notification with
// dedupeKey created at or after since.
func (s *Store) NotificationExists(ctx context.Context, recipientID, dedupeKey string, since time.Time) (bool, error) {
	n, err := scalarInt(ctx, s.q(ctx), `
	SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND dedupe_key = ? AND created_at >= ?`,
		recipientID, dedupeKey, ms(since))
	return n > 0, err
}

// GetNotification loads one of recipientID's notifications.
func (s *Store) GetNotification(ctx context.Context, recipientID, id string) (model.Notification, error) {
	n, err := scanNotification(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM `+notificationFrom+` WHERE n.recipient_id = ? AND n.id = ?`, recipientID, id))
	return n, mapErr(err)
}

// SetNotificationRead marks a notification read or unread.
func (s *Store) SetNotificationRead(ctx context.Context, recipientID, id string, read bool) error {
	var readAt any
	if read {
		readAt = ms(s.now())
	}
	return exactlyOne(s.q(ctx).ExecContext(ctx, `
	UPDATE notifications SET is_read = ?, read_at = CASE WHEN ? = 1 THEN COALESCE(read_at, ?) ELSE NULL END
	WHERE recipient_id = ? AND id = ?`, b2i(read), b2i(read), readAt, recipientID, id))
}

// MarkAllRead marks every unread notification of recipientID read.
func (s *Store) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, read_at = ? WHERE recipient_id = ? AND is_read = 0`,
		ms(s.now()), recipientID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkEmailSent flags notifications as emailed.
func (s *Store) MarkEmailSent(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.q(ctx).ExecContext(ctx,
		`UPDATE notifications SET is_email_sent = 1 WHERE id IN (`+placeholders(len(ids))+`)`, anyArgs(ids)...)
	return err
}

// ListNotifications lists recipientID's unexpired notifications.
func (s *Store) ListNotifications(ctx context.Context, recipientID string, p ListParams) (Page[model.Notification], error) {
	var w where
	w.add("n.recipient_id = ?", recipientID)
	w.add("(n.expires_at IS NULL OR n.expires_at > ?)", ms(s.now()))
	return list(ctx, s.q(ctx), notificationColumns, notificationFrom, "n.id", w, notificationList, p, scanNotification)
}

// PendingDigest returns recipientID's notifications not yet emailed, oldest first.
func (s *Store) PendingDigest(ctx context.Context, recipientID string, limit int) ([]model.Notification, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+notificationColumns+` FROM `+notificationFrom+`
	WHERE n.recipient_id = ? AND n.is_email_sent = 0 ORDER BY n.created_at LIMIT ?`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteExpiredNotifications removes notifications past their expiry.
func (s *Store) DeleteExpiredNotifications(ctx context.Context, now time.Time) (int, error) {
	res, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= ?`, ms(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// NotificationStats summarizes a user's notifications.
type NotificationStats struct {
	TotalNotifications      int            `json:"total_notifications"`
	UnreadNotifications     int            `json:"unread_notifications"`
	NotificationsByType     map[string]int `json:"notifications_by_type"`
	NotificationsByPriority map[string]int `json:"notifications_by_priority"`
	RecentNotifications     int            `json:"recent_notifications"`
}

// NotificationStatistics computes NotificationStats for recipientID.
func (s *Store) NotificationStatistics(ctx context.Context, recipientID string) (NotificationStats, error) {
	q := s.q(ctx)
	var st NotificationStats
	err := q.QueryRowContext(ctx, `
	SELECT COUNT(*), COALESCE(SUM(is_read = 0), 0), COALESCE(SUM(created_at >= ?), 0)
	FROM notifications WHERE recipient_id = ?`, ms(s.now().AddDate(0, 0, -7)), recipientID).
		Scan(&st.TotalNotifications, &st.UnreadNotifications, &st.RecentNotifications)
	if err != nil {
		return st, err
	}
	if st.NotificationsByType, err = countBy(ctx, q, model.NotificationTypes,
		`SELECT notification_type, COUNT(*) FROM notifications WHERE recipient_id = ? GROUP BY notification_type`,
		recipientID); err != nil {
		return st, err
	}
	st.NotificationsByPriority, err = countBy(ctx, q, model.Priorities,
		`SELECT priority, COUNT(*) FROM notifications WHERE recipient_id = ? GROUP BY priority`, recipientID)
	return st, err
}

// Preferences

const preferenceColumns = `user_id, email_campaign_updates, email_security_alerts, email_reports, email_billing,
	app_campaign_updates, app_security_alerts, app_system_alerts, digest_frequency, quiet_hours_start,
	quiet_hours_end, timezone, last_digest_at, created_at, updated_at`

func scanPreference(r scanner) (model.NotificationPreference, error) {
	var p model.NotificationPreference
	var lastDigest sql.NullInt64
	var created, updated int64
	err := r.Scan(&p.UserID, &p.EmailCampaignUpdates, &p.EmailSecurityAlerts, &p.EmailReports, &p.EmailBilling,
		&p.AppCampaignUpdates, &p.AppSecurityAlerts, &p.AppSystemAlerts, &p.DigestFrequency, &p.QuietHoursStart,
		&p.QuietHoursEnd, &p.Timezone, &lastDigest, &created, &updated)
	p.LastDigestAt = timePtr(lastDigest)
	p.CreatedAt = fromMS(created)
	p.UpdatedAt = fromMS(updated)
	return p, err
}

// GetOrCreatePreference loads userID's preferences, creating the defaults on first access.
func (s *Store) GetOrCreatePreference(ctx context.Context, userID string) (model.NotificationPreference, error) {
	p, err := scanPreference(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+preferenceColumns+` FROM notification_preferences WHERE user_id = ?`, userID))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return p, err
	}
	p = model.DefaultPreference(userID)
	if err := s.SavePreference(ctx, &p); err != nil {
		return p, err
	}
	return p, nil
}

// SavePreference upserts p.
func (s *Store) SavePreference(ctx context.Context, p *model.NotificationPreference) error {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO notification_preferences (`+preferenceColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		email_campaign_updates = excluded.email_campaign_updates,
		email_security_alerts = excluded.email_security_alerts,
		email_reports = excluded.email_reports,
		email_billing = excluded.email_billing,
		app_campaign_updates = excluded.app_campaign_updates,
		app_security_alerts = excluded.app_security_alerts,
		app_system_alerts = excluded.app_system_alerts,
		digest_frequency = excluded.digest_frequency,
		quiet_hours_start = excluded.quiet_hours_start,
		quiet_hours_end = excluded.quiet_hours_end,
		timezone = excluded.timezone,
		last_digest_at = excluded.last_digest_at,
		updated_at = excluded.updated_at`,
		p.UserID, b2i(p.EmailCampaignUpdates), b2i(p.EmailSecurityAlerts), b2i(p.EmailReports), b2i(p.EmailBilling),
		b2i(p.AppCampaignUpdates), b2i(p.AppSecurityAlerts), b2i(p.AppSystemAlerts), p.DigestFrequency,
		p.QuietHoursStart, p.QuietHoursEnd, p.Timezone, nullMS(p.LastDigestAt), ms(p.CreatedAt), ms(p.UpdatedAt))
	return mapErr(err)
}

// DigestCandidates returns preferences with daily or weekly digests whose
// owners have notifications not yet emailed.
func (s *Store) DigestCandidates(ctx context.Context) ([]model.NotificationPreference, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+preferenceColumns+` FROM notification_preferences p
	WHERE p.digest_frequency IN ('daily', 'weekly') AND EXISTS (
		SELECT 1 FROM notifications n WHERE n.recipient_id = p.user_id AND n.is_email_sent = 0
	)`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.NotificationPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Alert rules

const ruleColumns = `ar.id, ar.organization_id, ar.name, ar.trigger_type, ar.threshold_value, ar.time_window_minutes,
	ar.is_active, COALESCE(ar.created_by, ''),
	COALESCE((SELECT TRIM(u.first_name || ' ' || u.last_name) FROM users u WHERE u.id = ar.created_by), ''),
	ar.created_at`

var ruleList = ListSpec{
	Filters: map[string]Filter{
		"trigger_type": {Column: "ar.trigger_type"},
		"is_active":    {Column: "ar.is_active", Bool: true},
	},
	Search:   []string{"ar.name"},
	Ordering: map[string]string{"name": "ar.name", "created_at": "ar.created_at"},
	Default:  "ar.created_at DESC",
}

func scanRule(r scanner) (model.AlertRule, error) {
	var a model.AlertRule
	var threshold sql.NullFloat64
	var created int64
	err := r.Scan(&a.ID, &a.OrganizationID, &a.Name, &a.TriggerType, &threshold, &a.TimeWindowMinutes,
		&a.IsActive, &a.CreatedBy, &a.CreatedByName, &created)
	if threshold.Valid {
		v := threshold.Float64
		a.ThresholdValue = &v
	}
	a.CreatedAt = fromMS(created)
	return a, err
}

// CreateAlertRule inserts a rule with its notify users.
func (s *Store) CreateAlertRule(ctx context.Context, a *model.AlertRule) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.TimeWindowMinutes == 0 {
		a.TimeWindowMinutes = 60
	}
	a.CreatedAt = s.now()
	return s.InTx(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO alert_rules (id, organization_id, name, trigger_type, threshold_value, time_window_minutes,
			is_active, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.OrganizationID, a.Name, a.TriggerType, a.ThresholdValue, a.TimeWindowMinutes,
			b2i(a.IsActive), nullStr(a.CreatedBy), ms(a.CreatedAt))
		if err != nil {
			return mapErr(err)
		}
		return s.setRuleUsers(ctx, a.ID, a.NotifyUsers)
	})
}

func (s *Store) setRuleUsers(ctx context.Context, ruleID string, userIDs []string) error {
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM alert_rule_users WHERE rule_id = ?`, ruleID); err != nil {
		return err
	}
	for _, id := range userIDs {
		if _, err := s.q(ctx).ExecContext(ctx,
			`INSERT OR IGNORE INTO alert_rule_users (rule_id, user_id) VALUES (?, ?)`, ruleID, id); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (s *Store) attachRuleUsers(ctx context.Context, a *model.AlertRule) error {
	ids, err := queryStrings(ctx, s.q(ctx), `SELECT user_id FROM alert_rule_users WHERE rule_id = ? ORDER BY user_id`, a.ID)
	if ids == nil {
		ids = []string{}
	}
	a.NotifyUsers = ids
	return err
}

// GetAlertRule loads a rule within orgID.
func (s *Store) GetAlertRule(ctx context.Context, orgID, id string) (model.AlertRule, error) {
	a, err := scanRule(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules ar WHERE ar.organization_id = ? AND ar.id = ?`, orgID, id))
	if err != nil {
		return a, mapErr(err)
	}
	return a, s.attachRuleUsers(ctx, &a)
}

// UpdateAlertRule writes a rule. Notify users are replaced when non-nil.
func (s *Store) UpdateAlertRule(ctx context.Context, a *model.AlertRule) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		err := exactlyOne(s.q(ctx).ExecContext(ctx, `
		UPDATE alert_rules SET name = ?, trigger_type = ?, threshold_value = ?, time_window_minutes = ?, is_active = ?
		WHERE organization_id = ? AND id = ?`,
			a.Name, a.TriggerType, a.ThresholdValue, a.TimeWindowMinutes, b2i(a.IsActive), a.OrganizationID, a.ID))
		if err != nil || a.NotifyUsers == nil {
			return err
		}
		return s.setRuleUsers(ctx, a.ID, a.NotifyUsers)
	})
}

// DeleteAlertRule removes a rule.
func (s *Store) DeleteAlertRule(ctx context.Context, orgID, id string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `DELETE FROM alert_rules WHERE organization_id = ? AND id = ?`, orgID, id))
}

// ListAlertRules lists an organization's rules.
func (s *Store) ListAlertRules(ctx context.Context, orgID string, p ListParams) (Page[model.AlertRule], error) {
	var w where
	w.add("ar.organization_id = ?", orgID)
	page, err := list(ctx, s.q(ctx), ruleColumns, "alert_rules ar", "ar.id", w, ruleList, p, scanRule)
	if err != nil {
		return page, err
	}
	for i := range page.Results {
		if err := s.attachRuleUsers(ctx, &page.Results[i]); err != nil {
			return page, err
		}
	}
	return page, nil
}

// ActiveRules returns the active rules of orgID for trigger.
func (s *Store) ActiveRules(ctx context.Context, orgID, trigger string) ([]model.AlertRule, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules ar
	WHERE ar.organization_id = ? AND ar.trigger_type = ? AND ar.is_active = 1 ORDER BY ar.created_at`, orgID, trigger)
	if err != nil {
		return nil, err
	}
	var out []model.AlertRule
	for rows.Next() {
		a, err := scanRule(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.attachRuleUsers(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
