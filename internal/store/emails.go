// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ManuGH/lure/internal/model"
)

// SMTP configurations

const smtpColumns = `sc.id, sc.organization_id, sc.name, sc.host, sc.port, sc.username, sc.password_enc, sc.use_tls,
	sc.use_ssl, sc.from_email, sc.reply_to_email, sc.is_active, sc.daily_limit, sc.current_daily_count,
	sc.last_reset_date, sc.created_at`

var smtpList = ListSpec{
	Filters:  map[string]Filter{"is_active": {Column: "sc.is_active", Bool: true}},
	Search:   []string{"sc.name", "sc.host", "sc.from_email"},
	Ordering: map[string]string{"name": "sc.name", "created_at": "sc.created_at"},
	Default:  "sc.created_at DESC",
}

func scanSMTP(r scanner) (model.SMTPConfig, error) {
	var c model.SMTPConfig
	var created int64
	err := r.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Host, &c.Port, &c.Username, &c.PasswordEnc, &c.UseTLS,
		&c.UseSSL, &c.FromEmail, &c.ReplyToEmail, &c.IsActive, &c.DailyLimit, &c.CurrentDailyCount,
		&c.LastResetDate, &created)
	c.CreatedAt = fromMS(created)
	c.HasPassword = c.PasswordEnc != ""
	return c, err
}

// CreateSMTPConfig inserts a configuration. PasswordEnc must already be sealed.
func (s *Store) CreateSMTPConfig(ctx context.Context, c *model.SMTPConfig) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.DailyLimit == 0 {
		c.DailyLimit = model.DefaultDailyLimit
	}
	c.CreatedAt = s.now()
	c.HasPassword = c.PasswordEnc != ""
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO smtp_configs (id, organization_id, name, host, port, username, password_enc, use_tls, use_ssl,
		from_email, reply_to_email, is_active, daily_limit, current_daily_count, last_reset_date, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrganizationID, c.Name, c.Host, c.Port, c.Username, c.PasswordEnc, b2i(c.UseTLS), b2i(c.UseSSL),
		c.FromEmail, c.ReplyToEmail, b2i(c.IsActive), c.DailyLimit, c.CurrentDailyCount, c.LastResetDate, ms(c.CreatedAt))
	return mapErr(err)
}

// GetSMTPConfig loads a configuration within orgID.
func (s *Store) GetSMTPConfig(ctx context.Context, orgID, id string) (model.SMTPConfig, error) {
	c, err := scanSMTP(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+smtpColumns+` FROM smtp_configs sc WHERE sc.organization_id = ? AND sc.id = ?`, orgID, id))
	return c, mapErr(err)
}

// UpdateSMTPConfig writes a configuration including the sealed password.
func (s *Store) UpdateSMTPConfig(ctx context.Context, c *model.SMTPConfig) error {
	c.HasPassword = c.PasswordEnc != ""
	return exactlyOne(s.q(ctx).ExecContext(ctx, `
	UPDATE smtp_configs SET name = ?, host = ?, port = ?, username = ?, password_enc = ?, use_tls = ?, use_ssl = ?,
		from_email = ?, reply_to_email = ?, is_active = ?, daily_limit = ?
	WHERE organization_id = ? AND id = ?`,
		c.Name, c.Host, c.Port, c.Username, c.PasswordEnc, b2i(c.UseTLS), b2i(c.UseSSL),
		c.FromEmail, c.ReplyToEmail, b2i(c.IsActive), c.DailyLimit, c.OrganizationID, c.ID))
}

// DeleteSMTPConfig removes a configuration.
func (s *Store) DeleteSMTPConfig(ctx context.Context, orgID, id string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `DELETE FROM smtp_configs WHERE organization_id = ? AND id = ?`, orgID, id))
}

// ListSMTPConfigs lists an organization's configurations.
func (s *Store) ListSMTPConfigs(ctx context.Context, orgID string, p ListParams) (Page[model.SMTPConfig], error) {
	var w where
	w.add("sc.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), smtpColumns, "smtp_configs sc", "sc.id", w, smtpList, p, scanSMTP)
}

// ReserveSMTPSlot picks the first active configuration of orgID with daily
// capacity left and increments its counter. Counters reset when the stored
// reset date differs from today. It returns ErrNotFound when none has capacity.
func (s *Store) ReserveSMTPSlot(ctx context.Context, orgID string, now time.Time) (model.SMTPConfig, error) {
	today := now.UTC().Format(time.DateOnly)
	var out model.SMTPConfig
	err := s.InTx(ctx, func(ctx context.Context) error {
		q := s.q(ctx)
		if _, err := q.ExecContext(ctx, `
		UPDATE smtp_configs SET current_daily_count = 0, last_reset_date = ?
		WHERE organization_id = ? AND last_reset_date != ?`, today, orgID, today); err != nil {
			return err
		}
		c, err := scanSMTP(q.QueryRowContext(ctx, `SELECT `+smtpColumns+` FROM smtp_configs sc
		WHERE sc.organization_id = ? AND sc.is_active = 1 AND sc.current_daily_count < sc.daily_limit
		ORDER BY sc.created_at LIMIT 1`, orgID))
		if err != nil {
			return mapErr(err)
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE smtp_configs SET current_daily_count = current_daily_count + 1 WHERE id = ?`, c.ID); err != nil {
			return err
		}
		c.CurrentDailyCount++
		out = c
		return nil
	})
	return out, err
}

// ReleaseSMTPSlot gives back a slot reserved for a send that failed.
func (s *Store) ReleaseSMTPSlot(ctx context.Context, id string) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`UPDATE smtp_configs SET current_daily_count = MAX(current_daily_count - 1, 0) WHERE id = ?`, id)
	return err
}

// CountActiveSMTPConfigs counts active configurations of orgID.
func (s *Store) CountActiveSMTPConfigs(ctx context.Context, orgID string) (int, error) {
	return scalarInt(ctx, s.q(ctx), `SELECT COUNT(*) FROM smtp_configs WHERE organization_id = ? AND is_active = 1`, orgID)
}

// Queue

const queueColumns = `eq.id, eq.campaign_id, c.name, eq.target_id, t.email, eq.campaign_target_id,
	eq.scheduled_time, eq.sent_time, eq.status, eq.retry_count, eq.error_message, eq.message_id,
	eq.created_at, eq.updated_at`

const queueFrom = `email_queue eq
	JOIN campaigns c ON c.id = eq.campaign_id
	JOIN targets t ON t.id = eq.target_id`

var queueList = ListSpec{
	Filters: map[string]Filter{
		"status":   {Column: "eq.status"},
		"campaign": {Column: "eq.campaign_id"},
	},
	Search:   []string{"t.email"},
	Ordering: map[string]string{"scheduled_time": "eq.scheduled_time", "status": "eq.status", "created_at": "eq.created_at"},
	Default:  "eq.scheduled_time DESC",
}

func scanQueue(r scanner) (model.EmailQueue, error) {
	var e model.EmailQueue
	var sched, created, updated int64
	var sent sql.NullInt64
	err := r.Scan(&e.ID, &e.CampaignID, &e.CampaignName, &e.TargetID, &e.TargetEmail, &e.CampaignTargetID,
		&sched, &sent, &e.Status, &e.RetryCount, &e.ErrorMessage, &e.MessageID, &created, &updated)
	e.ScheduledTime = fromMS(sched)
	e.SentTime = timePtr(sent)
	e.CreatedAt = fromMS(created)
	e.UpdatedAt = fromMS(updated)
	return e, err
}

// EnqueueEmail inserts a queue entry.
func (s *Store) EnqueueEmail(ctx context.Context, e *model.EmailQueue) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Status == "" {
		e.Status = model.QueueQueued
	}
	now := s.now()
	e.CreatedAt, e.UpdatedAt = now, now
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO email_queue (id, campaign_id, target_id, campaign_target_id, scheduled_time, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CampaignID, e.TargetID, e.CampaignTargetID, ms(e.ScheduledTime), e.Status, ms(now), ms(now))
	return mapErr(err)
}

// LatestScheduled returns the latest scheduled_time of a campaign's live
// queue entries, or nil when there are none.
func (s *Store) LatestScheduled(ctx context.Context, campaignID string) (*time.Time, error) {
	var v sql.NullInt64
	err := s.q(ctx).QueryRowContext(ctx, `
	SELECT MAX(scheduled_time) FROM email_queue WHERE campaign_id = ? AND status IN ('queued', 'sending', 'sent')`,
		campaignID).Scan(&v)
	if err != nil {
		return nil, err
	}
	return timePtr(v), nil
}

// ClaimDueEmails marks up to limit queued entries due at now as sending and
// returns them.
func (s *Store) ClaimDueEmails(ctx context.Context, now time.Time, limit int) ([]model.EmailQueue, error) {
	var out []model.EmailQueue
	err := s.InTx(ctx, func(ctx context.Context) error {
		rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+queueColumns+` FROM `+queueFrom+`
		WHERE eq.status = 'queued' AND eq.scheduled_time <= ?
		ORDER BY eq.scheduled_time, eq.id LIMIT ?`, ms(now), limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			e, err := scanQueue(rows)
			if err != nil {
				_ = rows.Close()
				return err
			}
			out = append(out, e)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		for i := range out {
			if _, err := s.q(ctx).ExecContext(ctx,
				`UPDATE email_queue SET status = 'sending', updated_at = ? WHERE id = ?`, ms(now), out[i].ID); err != nil {
				return err
			}
			out[i].Status = model.QueueSending
		}
		return nil
	})
	return out, err
}

// SaveQueueEntry writes the delivery columns of a queue entry.
func (s *Store) SaveQueueEntry(ctx context.Context, e *model.EmailQueue) error {
	e.UpdatedAt = s.now()
	return exactlyOne(s.q(ctx).ExecContext(ctx, `
	UPDATE email_queue SET scheduled_time = ?, sent_time = ?, status = ?, retry_count = ?, error_message = ?,
		message_id = ?, updated_at = ?
	WHERE id = ?`,
		ms(e.ScheduledTime), nullMS(e.SentTime), e.Status, e.RetryCount, e.ErrorMessage, e.MessageID,
		ms(e.UpdatedAt), e.ID))
}

// CancelQueuedEmails cancels every queued entry of a campaign and returns how many.
func (s *Store) CancelQueuedEmails(ctx context.Context, campaignID string) (int, error) {
	res, err := s.q(ctx).ExecContext(ctx, `
	UPDATE email_queue SET status = 'cancelled', updated_at = ? WHERE campaign_id = ? AND status = 'queued'`,
		ms(s.now()), campaignID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RequeueStale returns entries stuck in sending since before cutoff to queued.
func (s *Store) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.q(ctx).ExecContext(ctx, `
	UPDATE email_queue SET status = 'queued', updated_at = ? WHERE status = 'sending' AND updated_at < ?`,
		ms(s.now()), ms(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListQueue lists the queue entries of an organization's campaigns.
func (s *Store) ListQueue(ctx context.Context, orgID string, p ListParams) (Page[model.EmailQueue], error) {
	var w where
	w.add("c.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), queueColumns, queueFrom, "eq.id", w, queueList, p, scanQueue)
}

// CountEmailsSentSince counts sent entries of orgID's campaigns since since.
func (s *Store) CountEmailsSentSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	return scalarInt(ctx, s.q(ctx), `
	SELECT COUNT(*) FROM email_queue eq JOIN campaigns c ON c.id = eq.campaign_id
	WHERE c.organization_id = ? AND eq.status = 'sent' AND eq.sent_time >= ?`, orgID, ms(since))
}

// CountFailedSince counts failed sends of orgID since since.
func (s *Store) CountFailedSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	return scalarInt(ctx, s.q(ctx), `
	SELECT COUNT(*) FROM email_queue eq JOIN campaigns c ON c.id = eq.campaign_id
	WHERE c.organization_id = ? AND eq.status = 'failed' AND eq.updated_at >= ?`, orgID, ms(since))
}

// CountAllEmailsSentSince counts sent entries across organizations.
func (s *Store) CountAllEmailsSentSince(ctx context.Context, since time.Time) (int, error) {
	return scalarInt(ctx, s.q(ctx),
		`SELECT COUNT(*) FROM email_queue WHERE status = 'sent' AND sent_time >= ?`, ms(since))
}

// Events

const eventColumns = `ee.id, ee.campaign_id, c.name, ee.target_id, t.email, ee.event_type, ee.timestamp,
	ee.ip_address, ee.user_agent, ee.location, ee.message_id, ee.bounce_reason, ee.metadata`

const eventFrom = `email_events ee
	JOIN campaigns c ON c.id = ee.campaign_id
	JOIN targets t ON t.id = ee.target_id`

var eventList = ListSpec{
	Filters: map[string]Filter{
		"event_type": {Column: "ee.event_type"},
		"campaign":   {Column: "ee.campaign_id"},
	},
	Search:   []string{"t.email", "ee.ip_address"},
	Ordering: map[string]string{"timestamp": "ee.timestamp", "event_type": "ee.event_type"},
	Default:  "ee.timestamp DESC",
}

func scanEvent(r scanner) (model.EmailEvent, error) {
	var e model.EmailEvent
	var ts int64
	var meta string
	err := r.Scan(&e.ID, &e.CampaignID, &e.CampaignName, &e.TargetID, &e.TargetEmail, &e.EventType, &ts,
		&e.IPAddress, &e.UserAgent, &e.Location, &e.MessageID, &e.BounceReason, &meta)
	e.Timestamp = fromMS(ts)
	e.Metadata = decodeMap(meta)
	return e, err
}

// RecordEvent inserts an email event.
func (s *Store) RecordEvent(ctx context.Context, e *model.EmailEvent) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO email_events (id, campaign_id, target_id, event_type, timestamp, ip_address, user_agent, location,
		message_id, bounce_reason, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CampaignID, e.TargetID, e.EventType, ms(e.Timestamp), e.IPAddress, e.UserAgent, e.Location,
		e.MessageID, e.BounceReason, encodeJSON(e.Metadata))
	return mapErr(err)
}

// ListEvents lists events of an organization's campaigns.
func (s *Store) ListEvents(ctx context.Context, orgID string, p ListParams) (Page[model.EmailEvent], error) {
	var w where
	w.add("c.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), eventColumns, eventFrom, "ee.id", w, eventList, p, scanEvent)
}

// CountEventsFromIP counts events of one type from ip within a campaign since since.
func (s *Store) CountEventsFromIP(ctx context.Context, campaignID, eventType, ip string, since time.Time) (int, error) {
	return scalarInt(ctx, s.q(ctx), `
	SELECT COUNT(*) FROM email_events
	WHERE campaign_id = ? AND event_type = ? AND ip_address = ? AND timestamp >= ?`,
		campaignID, eventType, ip, ms(since))
}

// CountEvents counts events of a campaign by type.
func (s *Store) CountEvents(ctx context.Context, campaignID string) (map[string]int, error) {
	return countBy(ctx, s.q(ctx), model.EventTypes,
		`SELECT event_type, COUNT(*) FROM email_events WHERE campaign_id = ? GROUP BY event_type`, campaignID)
}

// EmailStats summarizes an organization's email activity.
type EmailStats struct {
	EmailVolume struct {
		TotalEmailsQueued int `json:"total_emails_queued"`
		EmailsSent        int `json:"emails_sent"`
		EmailsFailed      int `json:"emails_failed"`
		EmailsPending     int `json:"emails_pending"`
	} `json:"email_volume"`
	EventBreakdown map[string]int `json:"event_breakdown"`
	RecentActivity struct {
		EmailsSentToday    int `json:"emails_sent_today"`
		EmailsSentThisWeek int `json:"emails_sent_this_week"`
		EventsToday        int `json:"events_today"`
	} `json:"recent_activity"`
	SMTPConfigurations int `json:"smtp_configurations"`
}

// EmailStatistics computes EmailStats for orgID.
func (s *Store) EmailStatistics(ctx context.Context, orgID string) (EmailStats, error) {
	q := s.q(ctx)
	var st EmailStats
	now := s.now()
	today := dayStart(now)
	err := q.QueryRowContext(ctx, `
	SELECT COUNT(*),
		COALESCE(SUM(eq.status = 'sent'), 0),
		COALESCE(SUM(eq.status = 'failed'), 0),
		COALESCE(SUM(eq.status IN ('queued', 'sending')), 0),
		COALESCE(SUM(eq.status = 'sent' AND eq.sent_time >= ?), 0),
		COALESCE(SUM(eq.status = 'sent' AND eq.sent_time >= ?), 0)
	FROM email_queue eq JOIN campaigns c ON c.id = eq.campaign_id
	WHERE c.organization_id = ?`, ms(today), ms(now.AddDate(0, 0, -7)), orgID).
		Scan(&st.EmailVolume.TotalEmailsQueued, &st.EmailVolume.EmailsSent, &st.EmailVolume.EmailsFailed,
			&st.EmailVolume.EmailsPending, &st.RecentActivity.EmailsSentToday, &st.RecentActivity.EmailsSentThisWeek)
	if err != nil {
		return st, err
	}
	if st.EventBreakdown, err = countBy(ctx, q, model.EventTypes, `
	SELECT ee.event_type, COUNT(*) FROM email_events ee JOIN campaigns c ON c.id = ee.campaign_id
	WHERE c.organization_id = ? GROUP BY ee.event_type`, orgID); err != nil {
		return st, err
	}
	if st.RecentActivity.EventsToday, err = scalarInt(ctx, q, `
	SELECT COUNT(*) FROM email_events ee JOIN campaigns c ON c.id = ee.campaign_id
	WHERE c.organization_id = ? AND ee.timestamp >= ?`, orgID, ms(today)); err != nil {
		return st, err
	}
	st.SMTPConfigurations, err = s.CountActiveSMTPConfigs(ctx, orgID)
	return st, err
}
