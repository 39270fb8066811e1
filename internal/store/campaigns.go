// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ManuGH/lure/internal/model"
)

// Email templates

const templateColumns = `et.id, et.organization_id, et.name, et.subject, et.sender_name, et.sender_email,
	et.html_content, et.text_content, et.template_type, et.difficulty_level, et.is_default,
	COALESCE(et.created_by, ''),
	COALESCE((SELECT TRIM(u.first_name || ' ' || u.last_name) FROM users u WHERE u.id = et.created_by), ''),
	et.created_at, (SELECT COUNT(*) FROM campaigns c WHERE c.template_id = et.id)`

var templateList = ListSpec{
	Filters: map[string]Filter{
		"template_type":    {Column: "et.template_type"},
		"difficulty_level": {Column: "et.difficulty_level"},
		"is_default":       {Column: "et.is_default", Bool: true},
	},
	Search:   []string{"et.name", "et.subject", "et.sender_name"},
	Ordering: map[string]string{"name": "et.name", "created_at": "et.created_at"},
	Default:  "et.created_at DESC",
}

func scanTemplate(r scanner) (model.EmailTemplate, error) {
	var t model.EmailTemplate
	var created int64
	err := r.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Subject, &t.SenderName, &t.SenderEmail,
		&t.HTMLContent, &t.TextContent, &t.TemplateType, &t.DifficultyLevel, &t.IsDefault,
		&t.CreatedBy, &t.CreatedByName, &created, &t.CampaignsCount)
	t.CreatedAt = fromMS(created)
	return t, err
}

// CreateTemplate inserts an email template.
func (s *Store) CreateTemplate(ctx context.Context, t *model.EmailTemplate) error {
	if t.ID == "" {
		t.ID = newID()
	}
	t.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO email_templates (id, organization_id, name, subject, sender_name, sender_email, html_content,
		text_content, template_type, difficulty_level, is_default, created_by, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrganizationID, t.Name, t.Subject, t.SenderName, t.SenderEmail, t.HTMLContent,
		t.TextContent, t.TemplateType, t.DifficultyLevel, b2i(t.IsDefault), nullStr(t.CreatedBy), ms(t.CreatedAt))
	return mapErr(err)
}

// GetTemplate loads a template within orgID.
func (s *Store) GetTemplate(ctx context.Context, orgID, id string) (model.EmailTemplate, error) {
	t, err := scanTemplate(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM email_templates et WHERE et.organization_id = ? AND et.id = ?`, orgID, id))
	return t, mapErr(err)
}

// UpdateTemplate writes template content.
func (s *Store) UpdateTemplate(ctx context.Context, t *model.EmailTemplate) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `
	UPDATE email_templates SET name = ?, subject = ?, sender_name = ?, sender_email = ?, html_content = ?,
		text_content = ?, template_type = ?, difficulty_level = ?, is_default = ?
	WHERE organization_id = ? AND id = ?`,
		t.Name, t.Subject, t.SenderName, t.SenderEmail, t.HTMLContent, t.TextContent, t.TemplateType,
		t.DifficultyLevel, b2i(t.IsDefault), t.OrganizationID, t.ID))
}

// DeleteTemplate removes a template. Templates used by a campaign yield ErrConflict.
func (s *Store) DeleteTemplate(ctx context.Context, orgID, id string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `DELETE FROM email_templates WHERE organization_id = ? AND id = ?`, orgID, id))
}

// ListTemplates lists an organization's templates.
func (s *Store) ListTemplates(ctx context.Context, orgID string, p ListParams) (Page[model.EmailTemplate], error) {
	var w where
	w.add("et.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), templateColumns, "email_templates et", "et.id", w, templateList, p, scanTemplate)
}

// CountTemplates counts an organization's templates.
func (s *Store) CountTemplates(ctx context.Context, orgID string) (int, error) {
	return scalarInt(ctx, s.q(ctx), `SELECT COUNT(*) FROM email_templates WHERE organization_id = ?`, orgID)
}

// Landing pages

const pageColumns = `lp.id, lp.organization_id, lp.name, lp.html_content, lp.css_content, lp.redirect_url,
	lp.page_type, lp.capture_credentials, lp.capture_form_data, lp.show_awareness_message, lp.awareness_message,
	COALESCE(lp.created_by, ''),
	COALESCE((SELECT TRIM(u.first_name || ' ' || u.last_name) FROM users u WHERE u.id = lp.created_by), ''),
	lp.created_at, (SELECT COUNT(*) FROM campaigns c WHERE c.landing_page_id = lp.id)`

var pageList = ListSpec{
	Filters: map[string]Filter{
		"page_type":           {Column: "lp.page_type"},
		"capture_credentials": {Column: "lp.capture_credentials", Bool: true},
		"capture_form_data":   {Column: "lp.capture_form_data", Bool: true},
	},
	Search:   []string{"lp.name"},
	Ordering: map[string]string{"name": "lp.name", "created_at": "lp.created_at"},
	Default:  "lp.created_at DESC",
}

func scanPage(r scanner) (model.LandingPage, error) {
	var p model.LandingPage
	var created int64
	err := r.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.HTMLContent, &p.CSSContent, &p.RedirectURL,
		&p.PageType, &p.CaptureCredentials, &p.CaptureFormData, &p.ShowAwarenessMessage, &p.AwarenessMessage,
		&p.CreatedBy, &p.CreatedByName, &created, &p.CampaignsCount)
	p.CreatedAt = fromMS(created)
	return p, err
}

// CreateLandingPage inserts a landing page.
func (s *Store) CreateLandingPage(ctx context.Context, p *model.LandingPage) error {
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO landing_pages (id, organization_id, name, html_content, css_content, redirect_url, page_type,
		capture_credentials, capture_form_data, show_awareness_message, awareness_message, created_by, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrganizationID, p.Name, p.HTMLContent, p.CSSContent, p.RedirectURL, p.PageType,
		b2i(p.CaptureCredentials), b2i(p.CaptureFormData), b2i(p.ShowAwarenessMessage), p.AwarenessMessage,
		nullStr(p.CreatedBy), ms(p.CreatedAt))
	return mapErr(err)
}

// GetLandingPage loads a landing page within orgID.
func (s *Store) GetLandingPage(ctx context.Context, orgID, id string) (model.LandingPage, error) {
	p, err := scanPage(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM landing_pages lp WHERE lp.organization_id = ? AND lp.id = ?`, orgID, id))
	return p, mapErr(err)
}

// GetLandingPageByID loads a landing page without scoping.
func (s *Store) GetLandingPageByID(ctx context.Context, id string) (model.LandingPage, error) {
	p, err := scanPage(s.q(ctx).QueryRowContext(ctx, `SELECT `+pageColumns+` FROM landing_pages lp WHERE lp.id = ?`, id))
	return p, mapErr(err)
}

// UpdateLandingPage writes landing page content.
func (s *Store) UpdateLandingPage(ctx context.Context, p *model.LandingPage) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `
	UPDATE landing_pages SET name = ?, html_content = ?, css_content = ?, redirect_url = ?, page_type = ?,
		capture_credentials = ?, capture_form_data = ?, show_awareness_message = ?, awareness_message = ?
	WHERE organization_id = ? AND id = ?`,
		p.Name, p.HTMLContent, p.CSSContent, p.RedirectURL, p.PageType, b2i(p.CaptureCredentials),
		b2i(p.CaptureFormData), b2i(p.ShowAwarenessMessage), p.AwarenessMessage, p.OrganizationID, p.ID))
}

// DeleteLandingPage removes a landing page.
func (s *Store) DeleteLandingPage(ctx context.Context, orgID, id string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `DELETE FROM landing_pages WHERE organization_id = ? AND id = ?`, orgID, id))
}

// ListLandingPages lists an organization's landing pages.
func (s *Store) ListLandingPages(ctx context.Context, orgID string, p ListParams) (Page[model.LandingPage], error) {
	var w where
	w.add("lp.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), pageColumns, "landing_pages lp", "lp.id", w, pageList, p, scanPage)
}

// CountLandingPages counts an organization's landing pages.
func (s *Store) CountLandingPages(ctx context.Context, orgID string) (int, error) {
	return scalarInt(ctx, s.q(ctx), `SELECT COUNT(*) FROM landing_pages WHERE organization_id = ?`, orgID)
}

// Campaigns

const campaignColumns = `c.id, c.organization_id, c.name, c.description, c.template_id, et.name,
	COALESCE(c.landing_page_id, ''), COALESCE(lp.name, ''), c.status, c.scheduled_start, c.actual_start,
	c.end_date, c.send_interval_minutes, c.track_opens, c.track_clicks, c.capture_credentials, c.capture_data,
	COALESCE(c.created_by, ''),
	COALESCE((SELECT TRIM(u.first_name || ' ' || u.last_name) FROM users u WHERE u.id = c.created_by), ''),
	c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM campaign_targets ct WHERE ct.campaign_id = c.id),
	(SELECT COUNT(*) FROM campaign_targets ct WHERE ct.campaign_id = c.id AND ct.email_sent_at IS NOT NULL),
	(SELECT COUNT(*) FROM campaign_targets ct WHERE ct.campaign_id = c.id AND ct.email_opened_at IS NOT NULL),
	(SELECT COUNT(*) FROM campaign_targets ct WHERE ct.campaign_id = c.id AND ct.link_clicked_at IS NOT NULL),
	(SELECT COUNT(*) FROM campaign_targets ct WHERE ct.campaign_id = c.id AND ct.data_submitted_at IS NOT NULL)`

const campaignFrom = `campaigns c
	JOIN email_templates et ON et.id = c.template_id
	LEFT JOIN landing_pages lp ON lp.id = c.landing_page_id`

var campaignList = ListSpec{
	Filters: map[string]Filter{
		"status":        {Column: "c.status"},
		"template_type": {Column: "et.template_type"},
	},
	Search: []string{"c.name", "c.description"},
	Ordering: map[string]string{
		"name": "c.name", "created_at": "c.created_at", "scheduled_start": "c.scheduled_start",
	},
	Default: "c.created_at DESC",
}

func scanCampaign(r scanner) (model.Campaign, error) {
	var c model.Campaign
	var sched, start, end sql.NullInt64
	var created, updated int64
	err := r.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Description, &c.TemplateID, &c.TemplateName,
		&c.LandingPageID, &c.LandingPageName, &c.Status, &sched, &start,
		&end, &c.SendIntervalMinutes, &c.TrackOpens, &c.TrackClicks, &c.CaptureCredentials, &c.CaptureData,
		&c.CreatedBy, &c.CreatedByName, &created, &updated,
		&c.TotalTargets, &c.EmailsSent, &c.EmailsOpened, &c.LinksClicked, &c.DataSubmitted)
	c.ScheduledStart = timePtr(sched)
	c.ActualStart = timePtr(start)
	c.EndDate = timePtr(end)
	c.CreatedAt = fromMS(created)
	c.UpdatedAt = fromMS(updated)
	return c, err
}

// CreateCampaign inserts a campaign with its group and individual target links
// and materializes its campaign targets.
func (s *Store) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	return s.InTx(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO campaigns (id, organization_id, name, description, template_id, landing_page_id, status,
			scheduled_start, actual_start, end_date, send_interval_minutes, track_opens, track_clicks,
			capture_credentials, capture_data, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.OrganizationID, c.Name, c.Description, c.TemplateID, nullStr(c.LandingPageID), c.Status,
			nullMS(c.ScheduledStart), nullMS(c.ActualStart), nullMS(c.EndDate), c.SendIntervalMinutes,
			b2i(c.TrackOpens), b2i(c.TrackClicks), b2i(c.CaptureCredentials), b2i(c.CaptureData),
			nullStr(c.CreatedBy), ms(now), ms(now))
		if err != nil {
			return mapErr(err)
		}
		if err := s.setCampaignLinks(ctx, c.ID, c.TargetGroupIDs, c.IndividualTargetIDs); err != nil {
			return err
		}
		return s.RebuildCampaignTargets(ctx, c.ID)
	})
}

func (s *Store) setCampaignLinks(ctx context.Context, campaignID string, groupIDs, targetIDs []string) error {
	q := s.q(ctx)
	if groupIDs != nil {
		if _, err := q.ExecContext(ctx, `DELETE FROM campaign_groups WHERE campaign_id = ?`, campaignID); err != nil {
			return err
		}
		for _, id := range groupIDs {
			if _, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO campaign_groups (campaign_id, group_id) VALUES (?, ?)`, campaignID, id); err != nil {
				return mapErr(err)
			}
		}
	}
	if targetIDs != nil {
		if _, err := q.ExecContext(ctx, `DELETE FROM campaign_individual_targets WHERE campaign_id = ?`, campaignID); err != nil {
			return err
		}
		for _, id := range targetIDs {
			if _, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO campaign_individual_targets (campaign_id, target_id) VALUES (?, ?)`, campaignID, id); err != nil {
				return mapErr(err)
			}
		}
	}
	return nil
}

// RebuildCampaignTargets replaces the campaign targets with the distinct union
// of the active members of the campaign's groups and its individual targets.
func (s *Store) RebuildCampaignTargets(ctx context.Context, campaignID string) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		q := s.q(ctx)
		if _, err := q.ExecContext(ctx, `DELETE FROM campaign_targets WHERE campaign_id = ?`, campaignID); err != nil {
			return err
		}
		ids, err := queryStrings(ctx, q, `
		SELECT t.id FROM targets t WHERE t.is_active = 1 AND t.id IN (
			SELECT m.target_id FROM target_group_members m
			JOIN campaign_groups cg ON cg.group_id = m.group_id WHERE cg.campaign_id = ?
			UNION
			SELECT ci.target_id FROM campaign_individual_targets ci WHERE ci.campaign_id = ?
		) ORDER BY t.id`, campaignID, campaignID)
		if err != nil {
			return err
		}
		now := ms(s.now())
		for _, id := range ids {
			if _, err := q.ExecContext(ctx, `
			INSERT INTO campaign_targets (id, campaign_id, target_id, status, created_at, updated_at)
			VALUES (?, ?, ?, 'pending', ?, ?)`, newID(), campaignID, id, now, now); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}

// GetCampaign loads a campaign within orgID with its link ids.
func (s *Store) GetCampaign(ctx context.Context, orgID, id string) (model.Campaign, error) {
	c, err := scanCampaign(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM `+campaignFrom+` WHERE c.organization_id = ? AND c.id = ?`, orgID, id))
	if err != nil {
		return c, mapErr(err)
	}
	return c, s.attachCampaignLinks(ctx, &c)
}

// GetCampaignByID loads a campaign without scoping.
func (s *Store) GetCampaignByID(ctx context.Context, id string) (model.Campaign, error) {
	c, err := scanCampaign(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM `+campaignFrom+` WHERE c.id = ?`, id))
	if err != nil {
		return c, mapErr(err)
	}
	return c, s.attachCampaignLinks(ctx, &c)
}

func (s *Store) attachCampaignLinks(ctx context.Context, c *model.Campaign) error {
	var err error
	if c.TargetGroupIDs, err = queryStrings(ctx, s.q(ctx),
		`SELECT group_id FROM campaign_groups WHERE campaign_id = ? ORDER BY group_id`, c.ID); err != nil {
		return err
	}
	c.IndividualTargetIDs, err = queryStrings(ctx, s.q(ctx),
		`SELECT target_id FROM campaign_individual_targets WHERE campaign_id = ? ORDER BY target_id`, c.ID)
	return err
}

// UpdateCampaign writes content and lifecycle columns. When links is true
// the group and individual target sets are replaced by the ones on c.
func (s *Store) UpdateCampaign(ctx context.Context, c *model.Campaign, links bool) error {
	c.UpdatedAt = s.now()
	return s.InTx(ctx, func(ctx context.Context) error {
		err := exactlyOne(s.q(ctx).ExecContext(ctx, `
		UPDATE campaigns SET name = ?, description = ?, template_id = ?, landing_page_id = ?, status = ?,
			scheduled_start = ?, actual_start = ?, end_date = ?, send_interval_minutes = ?, track_opens = ?,
			track_clicks = ?, capture_credentials = ?, capture_data = ?, updated_at = ?
		WHERE organization_id = ? AND id = ?`,
			c.Name, c.Description, c.TemplateID, nullStr(c.LandingPageID), c.Status,
			nullMS(c.ScheduledStart), nullMS(c.ActualStart), nullMS(c.EndDate), c.SendIntervalMinutes,
			b2i(c.TrackOpens), b2i(c.TrackClicks), b2i(c.CaptureCredentials), b2i(c.CaptureData), ms(c.UpdatedAt),
			c.OrganizationID, c.ID))
		if err != nil || !links {
			return err
		}
		groups, targets := c.TargetGroupIDs, c.IndividualTargetIDs
		if groups == nil {
			groups = []string{}
		}
		if targets == nil {
			targets = []string{}
		}
		return s.setCampaignLinks(ctx, c.ID, groups, targets)
	})
}

// TransitionCampaign moves a campaign from one of from to status, setting the
// lifecycle timestamps that are non-nil. It returns ErrConflict when the
// campaign is no longer in an allowed state.
func (s *Store) TransitionCampaign(ctx context.Context, id string, from []string, status string, actualStart, endDate *time.Time) error {
	args := []any{status, nullMS(actualStart), nullMS(endDate), ms(s.now()), id}
	args = append(args, anyArgs(from)...)
	res, err := s.q(ctx).ExecContext(ctx, `
	UPDATE campaigns SET status = ?,
		actual_start = COALESCE(?, actual_start),
		end_date = COALESCE(?, end_date),
		updated_at = ?
	WHERE id = ? AND status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteCampaign removes a campaign.
func (s *Store) DeleteCampaign(ctx context.Context, orgID, id string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `DELETE FROM campaigns WHERE organization_id = ? AND id = ?`, orgID, id))
}

// ListCampaigns lists an organization's campaigns.
func (s *Store) ListCampaigns(ctx context.Context, orgID string, p ListParams) (Page[model.Campaign], error) {
	var w where
	w.add("c.organization_id = ?", orgID)
	page, err := list(ctx, s.q(ctx), campaignColumns, campaignFrom, "c.id", w, campaignList, p, scanCampaign)
	if err != nil {
		return page, err
	}
	for i := range page.Results {
		if err := s.attachCampaignLinks(ctx, &page.Results[i]); err != nil {
			return page, err
		}
	}
	return page, nil
}

// CampaignsByStatus returns the campaigns in any of statuses across organizations.
func (s *Store) CampaignsByStatus(ctx context.Context, statuses ...string) ([]model.Campaign, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+campaignColumns+` FROM `+campaignFrom+`
	WHERE c.status IN (`+placeholders(len(statuses))+`) ORDER BY c.created_at`, anyArgs(statuses)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCampaignsSince counts campaigns created by orgID at or after since.
func (s *Store) CountCampaignsSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	return scalarInt(ctx, s.q(ctx),
		`SELECT COUNT(*) FROM campaigns WHERE organization_id = ? AND created_at >= ?`, orgID, ms(since))
}

// Campaign targets

const campaignTargetColumns = `ct.id, ct.campaign_id, ct.target_id, ct.status, ct.email_sent_at, ct.email_opened_at,
	ct.link_clicked_at, ct.data_submitted_at, ct.reported_at, ct.ip_address, ct.user_agent, ct.submitted_data,
	ct.created_at, ct.updated_at, ` + targetColumns

const campaignTargetFrom = `campaign_targets ct JOIN targets t ON t.id = ct.target_id`

var campaignTargetList = ListSpec{
	Filters: map[string]Filter{"status": {Column: "ct.status"}},
	Search:  []string{"t.first_name", "t.last_name", "t.email"},
	Ordering: map[string]string{
		"target__last_name": "t.last_name", "last_name": "t.last_name",
		"email_sent_at": "ct.email_sent_at", "status": "ct.status",
	},
	Default: "t.last_name ASC",
}

func scanCampaignTarget(r scanner) (model.CampaignTarget, error) {
	var ct model.CampaignTarget
	var t model.Target
	var sent, opened, clicked, submitted, reported sql.NullInt64
	var created, updated, tCreated int64
	var data string
	err := r.Scan(&ct.ID, &ct.CampaignID, &ct.TargetID, &ct.Status, &sent, &opened,
		&clicked, &submitted, &reported, &ct.IPAddress, &ct.UserAgent, &data,
		&created, &updated,
		&t.ID, &t.OrganizationID, &t.Email, &t.FirstName, &t.LastName, &t.Department, &t.JobTitle,
		&t.Phone, &t.RiskLevel, &t.IsActive, &tCreated)
	if err != nil {
		return ct, err
	}
	ct.EmailSentAt = timePtr(sent)
	ct.EmailOpenedAt = timePtr(opened)
	ct.LinkClickedAt = timePtr(clicked)
	ct.DataSubmittedAt = timePtr(submitted)
	ct.ReportedAt = timePtr(reported)
	ct.SubmittedData = decodeMap(data)
	ct.CreatedAt = fromMS(created)
	ct.UpdatedAt = fromMS(updated)
	t.CreatedAt = fromMS(tCreated)
	ct.Target = &t
	return ct, nil
}

// GetCampaignTarget loads one campaign target with its target.
func (s *Store) GetCampaignTarget(ctx context.Context, id string) (model.CampaignTarget, error) {
	ct, err := scanCampaignTarget(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+campaignTargetColumns+` FROM `+campaignTargetFrom+` WHERE ct.id = ?`, id))
	return ct, mapErr(err)
}

// ListCampaignTargets lists the recipients of a campaign.
func (s *Store) ListCampaignTargets(ctx context.Context, campaignID string, p ListParams) (Page[model.CampaignTarget], error) {
	var w where
	w.add("ct.campaign_id = ?", campaignID)
	page, err := list(ctx, s.q(ctx), campaignTargetColumns, campaignTargetFrom, "ct.id", w, campaignTargetList, p, scanCampaignTarget)
	if err != nil {
		return page, err
	}
	targets := make([]model.Target, len(page.Results))
	for i, ct := range page.Results {
		targets[i] = *ct.Target
	}
	if err := s.attachTags(ctx, targets); err != nil {
		return page, err
	}
	for i := range page.Results {
		t := targets[i]
		page.Results[i].Target = &t
	}
	return page, nil
}

// AllCampaignTargets returns every recipient of a campaign.
func (s *Store) AllCampaignTargets(ctx context.Context, campaignID string) ([]model.CampaignTarget, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+campaignTargetColumns+` FROM `+campaignTargetFrom+`
	WHERE ct.campaign_id = ? ORDER BY t.department, t.last_name`, campaignID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.CampaignTarget
	for rows.Next() {
		ct, err := scanCampaignTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

// targetStatusMerge picks the stored recipient status after an incoming
// one (bound as n) with the same rules as model.AdvanceStatus.
var targetStatusMerge = func() string {
	rank := func(col string) string {
		return fmt.Sprintf("CASE %s WHEN '%s' THEN 0 WHEN '%s' THEN 1 WHEN '%s' THEN 2 WHEN '%s' THEN 3 WHEN '%s' THEN 4 ELSE 0 END",
			col, model.TargetPending, model.TargetSent, model.TargetOpened, model.TargetClicked, model.TargetSubmitted)
	}
	cur := "campaign_targets.status"
	return fmt.Sprintf(`(SELECT CASE
		WHEN %[1]s = '%[2]s' THEN %[1]s
		WHEN n = '%[2]s' THEN n
		WHEN n = '%[3]s' THEN CASE WHEN %[1]s = '%[4]s' THEN n ELSE %[1]s END
		WHEN %[1]s = '%[3]s' THEN CASE WHEN n = '%[5]s' THEN n ELSE %[1]s END
		WHEN %[6]s > %[7]s THEN n
		ELSE %[1]s END FROM (SELECT ? AS n))`,
		cur, model.TargetReported, model.TargetFailed, model.TargetPending, model.TargetSent, rank("n"), rank(cur))
}()

// SaveCampaignTarget merges the tracking columns of ct into the stored row
// and reloads ct. The status only advances, first-event timestamps are kept
// and submitted data is merged key by key, so concurrent events for the
// same recipient never undo each other.
func (s *Store) SaveCampaignTarget(ctx context.Context, ct *model.CampaignTarget) error {
	err := exactlyOne(s.q(ctx).ExecContext(ctx, `
	UPDATE campaign_targets SET status = `+targetStatusMerge+`,
		email_sent_at = COALESCE(email_sent_at, ?),
		email_opened_at = COALESCE(email_opened_at, ?),
		link_clicked_at = COALESCE(link_clicked_at, ?),
		data_submitted_at = COALESCE(data_submitted_at, ?),
		reported_at = COALESCE(reported_at, ?),
		ip_address = COALESCE(NULLIF(?, ''), ip_address),
		user_agent = COALESCE(NULLIF(?, ''), user_agent),
		submitted_data = json_patch(submitted_data, ?),
		updated_at = ?
	WHERE id = ?`,
		ct.Status, nullMS(ct.EmailSentAt), nullMS(ct.EmailOpenedAt), nullMS(ct.LinkClickedAt),
		nullMS(ct.DataSubmittedAt), nullMS(ct.ReportedAt), ct.IPAddress, ct.UserAgent, encodeJSON(ct.SubmittedData),
		ms(s.now()), ct.ID))
	if err != nil {
		return err
	}
	fresh, err := s.GetCampaignTarget(ctx, ct.ID)
	if err != nil {
		return err
	}
	*ct = fresh
	return nil
}

// PendingUnqueued returns up to limit pending campaign targets of a campaign
// without a queued, sending or sent queue entry.
func (s *Store) PendingUnqueued(ctx context.Context, campaignID string, limit int) ([]model.CampaignTarget, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+campaignTargetColumns+` FROM `+campaignTargetFrom+`
	WHERE ct.campaign_id = ? AND ct.status = 'pending' AND NOT EXISTS (
		SELECT 1 FROM email_queue q WHERE q.campaign_target_id = ct.id AND q.status IN ('queued', 'sending', 'sent')
	)
	ORDER BY ct.created_at, ct.id LIMIT ?`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.CampaignTarget
	for rows.Next() {
		ct, err := scanCampaignTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

// CountUnfinishedTargets counts recipients still pending or with a live queue entry.
func (s *Store) CountUnfinishedTargets(ctx context.Context, campaignID string) (int, error) {
	return scalarInt(ctx, s.q(ctx), `
	SELECT COUNT(*) FROM campaign_targets ct WHERE ct.campaign_id = ? AND (
		ct.status = 'pending' OR EXISTS (
			SELECT 1 FROM email_queue q WHERE q.campaign_target_id = ct.id AND q.status IN ('queued', 'sending')
		)
	)`, campaignID)
}

// CampaignStatusBreakdown counts recipients per status.
func (s *Store) CampaignStatusBreakdown(ctx context.Context, campaignID string) (map[string]int, error) {
	return countBy(ctx, s.q(ctx), model.CampaignTargetStatuses,
		`SELECT status, COUNT(*) FROM campaign_targets WHERE campaign_id = ? GROUP BY status`, campaignID)
}

// CampaignEmailStats are the email counters of one campaign.
type CampaignEmailStats struct {
	TotalTargets    int `json:"total_targets"`
	EmailsSent      int `json:"emails_sent"`
	EmailsDelivered int `json:"emails_delivered"`
	EmailsOpened    int `json:"emails_opened"`
	LinksClicked    int `json:"links_clicked"`
	DataSubmitted   int `json:"data_submitted"`
	EmailsReported  int `json:"emails_reported"`
}

// CampaignEmailCounters computes CampaignEmailStats.
func (s *Store) CampaignEmailCounters(ctx context.Context, campaignID string) (CampaignEmailStats, error) {
	var st CampaignEmailStats
	err := s.q(ctx).QueryRowContext(ctx, `
	SELECT COUNT(*),
		COALESCE(SUM(email_sent_at IS NOT NULL), 0),
		COALESCE(SUM(status IN ('sent', 'opened', 'clicked', 'submitted')), 0),
		COALESCE(SUM(email_opened_at IS NOT NULL), 0),
		COALESCE(SUM(link_clicked_at IS NOT NULL), 0),
		COALESCE(SUM(data_submitted_at IS NOT NULL), 0),
		COALESCE(SUM(reported_at IS NOT NULL), 0)
	FROM campaign_targets WHERE campaign_id = ?`, campaignID).
		Scan(&st.TotalTargets, &st.EmailsSent, &st.EmailsDelivered, &st.EmailsOpened, &st.LinksClicked,
			&st.DataSubmitted, &st.EmailsReported)
	return st, err
}

// CampaignOverview summarizes campaigns, templates and landing pages.
type CampaignOverview struct {
	TotalCampaigns    int            `json:"total_campaigns"`
	CampaignsByStatus map[string]int `json:"campaigns_by_status"`
	TemplateStats     struct {
		TotalTemplates  int            `json:"total_templates"`
		TemplatesByType map[string]int `json:"templates_by_type"`
	} `json:"template_stats"`
	LandingPageStats struct {
		TotalPages  int            `json:"total_pages"`
		PagesByType map[string]int `json:"pages_by_type"`
	} `json:"landing_page_stats"`
}

// CampaignStatistics computes CampaignOverview for orgID.
func (s *Store) CampaignStatistics(ctx context.Context, orgID string) (CampaignOverview, error) {
	q := s.q(ctx)
	var ov CampaignOverview
	var err error
	if ov.CampaignsByStatus, err = countBy(ctx, q, model.CampaignStatuses,
		`SELECT status, COUNT(*) FROM campaigns WHERE organization_id = ? GROUP BY status`, orgID); err != nil {
		return ov, err
	}
	for _, n := range ov.CampaignsByStatus {
		ov.TotalCampaigns += n
	}
	if ov.TemplateStats.TemplatesByType, err = countBy(ctx, q, model.TemplateTypes,
		`SELECT template_type, COUNT(*) FROM email_templates WHERE organization_id = ? GROUP BY template_type`, orgID); err != nil {
		return ov, err
	}
	for _, n := range ov.TemplateStats.TemplatesByType {
		ov.TemplateStats.TotalTemplates += n
	}
	if ov.LandingPageStats.PagesByType, err = countBy(ctx, q, model.PageTypes,
		`SELECT page_type, COUNT(*) FROM landing_pages WHERE organization_id = ? GROUP BY page_type`, orgID); err != nil {
		return ov, err
	}
	for _, n := range ov.LandingPageStats.PagesByType {
		ov.LandingPageStats.TotalPages += n
	}
	return ov, nil
}

// CampaignCountsByStatus counts campaigns per status across all organizations.
func (s *Store) CampaignCountsByStatus(ctx context.Context) (map[string]int, error) {
	return countBy(ctx, s.q(ctx), model.CampaignStatuses, `SELECT status, COUNT(*) FROM campaigns GROUP BY status`)
}
