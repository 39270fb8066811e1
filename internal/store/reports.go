// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ManuGH/lure/internal/model"
)

// Campaign reports

const campaignReportColumns = `cr.id, cr.campaign_id, c.name, c.status, cr.total_emails, cr.emails_sent,
	cr.emails_delivered, cr.emails_bounced, cr.emails_opened, cr.emails_clicked, cr.page_visits,
	cr.credentials_captured, cr.data_submitted, cr.emails_reported, cr.delivery_rate, cr.open_rate,
	cr.click_rate, cr.susceptibility_rate, cr.awareness_rate, cr.click_through_rate, cr.last_updated`

const campaignReportFrom = `campaign_reports cr JOIN campaigns c ON c.id = cr.campaign_id`

var campaignReportList = ListSpec{
	Filters: map[string]Filter{"campaign_status": {Column: "c.status"}, "campaign__status": {Column: "c.status"}},
	Ordering: map[string]string{
		"last_updated": "cr.last_updated", "delivery_rate": "cr.delivery_rate",
		"open_rate": "cr.open_rate", "click_rate": "cr.click_rate",
	},
	Default: "cr.last_updated DESC",
}

func scanCampaignReport(r scanner) (model.CampaignReport, error) {
	var cr model.CampaignReport
	var updated int64
	err := r.Scan(&cr.ID, &cr.CampaignID, &cr.CampaignName, &cr.CampaignStatus, &cr.TotalEmails, &cr.EmailsSent,
		&cr.EmailsDelivered, &cr.EmailsBounced, &cr.EmailsOpened, &cr.EmailsClicked, &cr.PageVisits,
		&cr.CredentialsCaptured, &cr.DataSubmitted, &cr.EmailsReported, &cr.DeliveryRate, &cr.OpenRate,
		&cr.ClickRate, &cr.SusceptibilityRate, &cr.AwarenessRate, &cr.ClickThroughRate, &updated)
	cr.LastUpdated = fromMS(updated)
	return cr, err
}

// UpsertCampaignReport writes the report of one campaign.
func (s *Store) UpsertCampaignReport(ctx context.Context, cr *model.CampaignReport) error {
	if cr.ID == "" {
		cr.ID = newID()
	}
	cr.LastUpdated = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO campaign_reports (id, campaign_id, total_emails, emails_sent, emails_delivered, emails_bounced,
		emails_opened, emails_clicked, page_visits, credentials_captured, data_submitted, emails_reported,
		delivery_rate, open_rate, click_rate, susceptibility_rate, awareness_rate, click_through_rate, last_updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(campaign_id) DO UPDATE SET
		total_emails = excluded.total_emails, emails_sent = excluded.emails_sent,
		emails_delivered = excluded.emails_delivered, emails_bounced = excluded.emails_bounced,
		emails_opened = excluded.emails_opened, emails_clicked = excluded.emails_clicked,
		page_visits = excluded.page_visits, credentials_captured = excluded.credentials_captured,
		data_submitted = excluded.data_submitted, emails_reported = excluded.emails_reported,
		delivery_rate = excluded.delivery_rate, open_rate = excluded.open_rate, click_rate = excluded.click_rate,
		susceptibility_rate = excluded.susceptibility_rate, awareness_rate = excluded.awareness_rate,
		click_through_rate = excluded.click_through_rate, last_updated = excluded.last_updated`,
		cr.ID, cr.CampaignID, cr.TotalEmails, cr.EmailsSent, cr.EmailsDelivered, cr.EmailsBounced,
		cr.EmailsOpened, cr.EmailsClicked, cr.PageVisits, cr.CredentialsCaptured, cr.DataSubmitted, cr.EmailsReported,
		cr.DeliveryRate, cr.OpenRate, cr.ClickRate, cr.SusceptibilityRate, cr.AwarenessRate, cr.ClickThroughRate,
		ms(cr.LastUpdated))
	return mapErr(err)
}

// GetCampaignReport loads a report by its id within orgID.
func (s *Store) GetCampaignReport(ctx context.Context, orgID, id string) (model.CampaignReport, error) {
	cr, err := scanCampaignReport(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+campaignReportColumns+` FROM `+campaignReportFrom+` WHERE c.organization_id = ? AND cr.id = ?`, orgID, id))
	return cr, mapErr(err)
}

// GetCampaignReportByCampaign loads the report of campaignID.
func (s *Store) GetCampaignReportByCampaign(ctx context.Context, campaignID string) (model.CampaignReport, error) {
	cr, err := scanCampaignReport(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+campaignReportColumns+` FROM `+campaignReportFrom+` WHERE cr.campaign_id = ?`, campaignID))
	return cr, mapErr(err)
}

// ListCampaignReports lists reports of an organization's campaigns.
func (s *Store) ListCampaignReports(ctx context.Context, orgID string, p ListParams) (Page[model.CampaignReport], error) {
	var w where
	w.add("c.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), campaignReportColumns, campaignReportFrom, "cr.id", w, campaignReportList, p, scanCampaignReport)
}

// CampaignsNeedingReport returns non-draft campaigns whose report is missing
// or older than the campaign's last change or tracking activity.
func (s *Store) CampaignsNeedingReport(ctx context.Context, limit int) ([]string, error) {
	return queryStrings(ctx, s.q(ctx), `
	SELECT c.id FROM campaigns c
	LEFT JOIN campaign_reports cr ON cr.campaign_id = c.id
	WHERE c.status != 'draft' AND (
		cr.id IS NULL
		OR cr.last_updated < c.updated_at
		OR EXISTS (SELECT 1 FROM campaign_targets ct WHERE ct.campaign_id = c.id AND ct.updated_at > cr.last_updated)
	)
	ORDER BY c.updated_at LIMIT ?`, limit)
}

// ReportableCampaigns returns the ids of orgID's non-draft campaigns, oldest
// start first.
func (s *Store) ReportableCampaigns(ctx context.Context, orgID string) ([]string, error) {
	return queryStrings(ctx, s.q(ctx), `
	SELECT id FROM campaigns WHERE organization_id = ? AND status != 'draft'
	ORDER BY COALESCE(actual_start, created_at), id`, orgID)
}

// Department reports

const deptReportColumns = `dr.id, dr.campaign_id, c.name, dr.department, dr.total_employees, dr.emails_sent,
	dr.emails_opened, dr.links_clicked, dr.data_submitted, dr.emails_reported, dr.risk_score,
	dr.improvement_percentage, dr.created_at`

const deptReportFrom = `department_reports dr JOIN campaigns c ON c.id = dr.campaign_id`

var deptReportList = ListSpec{
	Filters: map[string]Filter{"department": {Column: "dr.department"}, "campaign": {Column: "dr.campaign_id"}},
	Search:  []string{"dr.department"},
	Ordering: map[string]string{
		"risk_score": "dr.risk_score", "improvement_percentage": "dr.improvement_percentage", "created_at": "dr.created_at",
	},
	Default: "dr.risk_score DESC",
}

func scanDeptReport(r scanner) (model.DepartmentReport, error) {
	var d model.DepartmentReport
	var created int64
	err := r.Scan(&d.ID, &d.CampaignID, &d.CampaignName, &d.Department, &d.TotalEmployees, &d.EmailsSent,
		&d.EmailsOpened, &d.LinksClicked, &d.DataSubmitted, &d.EmailsReported, &d.RiskScore,
		&d.ImprovementPercentage, &created)
	d.CreatedAt = fromMS(created)
	return d, err
}

// UpsertDepartmentReport writes the report for one campaign and department.
func (s *Store) UpsertDepartmentReport(ctx context.Context, d *model.DepartmentReport) error {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO department_reports (id, campaign_id, department, total_employees, emails_sent, emails_opened,
		links_clicked, data_submitted, emails_reported, risk_score, improvement_percentage, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(campaign_id, department) DO UPDATE SET
		total_employees = excluded.total_employees, emails_sent = excluded.emails_sent,
		emails_opened = excluded.emails_opened, links_clicked = excluded.links_clicked,
		data_submitted = excluded.data_submitted, emails_reported = excluded.emails_reported,
		risk_score = excluded.risk_score, improvement_percentage = excluded.improvement_percentage`,
		d.ID, d.CampaignID, d.Department, d.TotalEmployees, d.EmailsSent, d.EmailsOpened,
		d.LinksClicked, d.DataSubmitted, d.EmailsReported, d.RiskScore, d.ImprovementPercentage, ms(d.CreatedAt))
	return mapErr(err)
}

// PreviousDepartmentScore returns the risk score of the most recent other
// campaign of orgID that started before before and has a report for department.
func (s *Store) PreviousDepartmentScore(ctx context.Context, orgID, campaignID, department string, before time.Time) (float64, bool, error) {
	var score float64
	err := s.q(ctx).QueryRowContext(ctx, `
	SELECT dr.risk_score FROM department_reports dr JOIN campaigns c ON c.id = dr.campaign_id
	WHERE c.organization_id = ? AND dr.campaign_id != ? AND dr.department = ?
		AND COALESCE(c.actual_start, c.created_at) < ?
	ORDER BY COALESCE(c.actual_start, c.created_at) DESC LIMIT 1`,
		orgID, campaignID, department, ms(before)).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	return score, err == nil, err
}

// ListDepartmentReports lists department reports of an organization's campaigns.
func (s *Store) ListDepartmentReports(ctx context.Context, orgID string, p ListParams) (Page[model.DepartmentReport], error) {
	var w where
	w.add("c.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), deptReportColumns, deptReportFrom, "dr.id", w, deptReportList, p, scanDeptReport)
}

// DepartmentReportsForCampaign returns every department report of a campaign.
func (s *Store) DepartmentReportsForCampaign(ctx context.Context, campaignID string) ([]model.DepartmentReport, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+deptReportColumns+` FROM `+deptReportFrom+`
	WHERE dr.campaign_id = ? ORDER BY dr.risk_score DESC, dr.department`, campaignID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.DepartmentReport
	for rows.Next() {
		d, err := scanDeptReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Scheduled reports

const scheduledColumns = `sr.id, sr.organization_id, sr.name, sr.report_type, sr.frequency, sr.recipients,
	sr.next_run, sr.last_run, sr.last_file, sr.is_active, COALESCE(sr.created_by, ''),
	COALESCE((SELECT TRIM(u.first_name || ' ' || u.last_name) FROM users u WHERE u.id = sr.created_by), ''),
	sr.created_at`

var scheduledList = ListSpec{
	Filters: map[string]Filter{
		"report_type": {Column: "sr.report_type"},
		"frequency":   {Column: "sr.frequency"},
		"is_active":   {Column: "sr.is_active", Bool: true},
	},
	Search:   []string{"sr.name"},
	Ordering: map[string]string{"name": "sr.name", "next_run": "sr.next_run", "created_at": "sr.created_at"},
	Default:  "sr.created_at DESC",
}

func scanScheduled(r scanner) (model.ScheduledReport, error) {
	var sr model.ScheduledReport
	var recipients string
	var next, created int64
	var last sql.NullInt64
	err := r.Scan(&sr.ID, &sr.OrganizationID, &sr.Name, &sr.ReportType, &sr.Frequency, &recipients,
		&next, &last, &sr.LastFile, &sr.IsActive, &sr.CreatedBy, &sr.CreatedByName, &created)
	sr.Recipients = decodeStrings(recipients)
	sr.NextRun = fromMS(next)
	sr.LastRun = timePtr(last)
	sr.CreatedAt = fromMS(created)
	return sr, err
}

func encodeList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// CreateScheduledReport inserts a scheduled report and its campaign links.
func (s *Store) CreateScheduledReport(ctx context.Context, sr *model.ScheduledReport) error {
	if sr.ID == "" {
		sr.ID = newID()
	}
	sr.CreatedAt = s.now()
	return s.InTx(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO scheduled_reports (id, organization_id, name, report_type, frequency, recipients, next_run,
			last_run, last_file, is_active, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sr.ID, sr.OrganizationID, sr.Name, sr.ReportType, sr.Frequency, encodeList(sr.Recipients), ms(sr.NextRun),
			nullMS(sr.LastRun), sr.LastFile, b2i(sr.IsActive), nullStr(sr.CreatedBy), ms(sr.CreatedAt))
		if err != nil {
			return mapErr(err)
		}
		return s.setReportCampaigns(ctx, sr.ID, sr.IncludeCampaigns)
	})
}

func (s *Store) setReportCampaigns(ctx context.Context, reportID string, ids []string) error {
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM scheduled_report_campaigns WHERE report_id = ?`, reportID); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := s.q(ctx).ExecContext(ctx,
			`INSERT OR IGNORE INTO scheduled_report_campaigns (report_id, campaign_id) VALUES (?, ?)`, reportID, id); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (s *Store) attachReportCampaigns(ctx context.Context, sr *model.ScheduledReport) error {
	ids, err := queryStrings(ctx, s.q(ctx),
		`SELECT campaign_id FROM scheduled_report_campaigns WHERE report_id = ? ORDER BY campaign_id`, sr.ID)
	if ids == nil {
		ids = []string{}
	}
	sr.IncludeCampaigns = ids
	return err
}

// GetScheduledReport loads a scheduled report within orgID.
func (s *Store) GetScheduledReport(ctx context.Context, orgID, id string) (model.ScheduledReport, error) {
	sr, err := scanScheduled(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_reports sr WHERE sr.organization_id = ? AND sr.id = ?`, orgID, id))
	if err != nil {
		return sr, mapErr(err)
	}
	return sr, s.attachReportCampaigns(ctx, &sr)
}

// UpdateScheduledReport writes a scheduled report. Campaign links are replaced
// when IncludeCampaigns is non-nil.
func (s *Store) UpdateScheduledReport(ctx context.Context, sr *model.ScheduledReport) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		err := exactlyOne(s.q(ctx).ExecContext(ctx, `
		UPDATE scheduled_reports SET name = ?, report_type = ?, frequency = ?, recipients = ?, next_run = ?,
			last_run = ?, last_file = ?, is_active = ?
		WHERE organization_id = ? AND id = ?`,
			sr.Name, sr.ReportType, sr.Frequency, encodeList(sr.Recipients), ms(sr.NextRun),
			nullMS(sr.LastRun), sr.LastFile, b2i(sr.IsActive), sr.OrganizationID, sr.ID))
		if err != nil || sr.IncludeCampaigns == nil {
			return err
		}
		return s.setReportCampaigns(ctx, sr.ID, sr.IncludeCampaigns)
	})
}

// DeleteScheduledReport removes a scheduled report.
func (s *Store) DeleteScheduledReport(ctx context.Context, orgID, id string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx,
		`DELETE FROM scheduled_reports WHERE organization_id = ? AND id = ?`, orgID, id))
}

// ListScheduledReports lists an organization's scheduled reports.
func (s *Store) ListScheduledReports(ctx context.Context, orgID string, p ListParams) (Page[model.ScheduledReport], error) {
	var w where
	w.add("sr.organization_id = ?", orgID)
	page, err := list(ctx, s.q(ctx), scheduledColumns, "scheduled_reports sr", "sr.id", w, scheduledList, p, scanScheduled)
	if err != nil {
		return page, err
	}
	for i := range page.Results {
		if err := s.attachReportCampaigns(ctx, &page.Results[i]); err != nil {
			return page, err
		}
	}
	return page, nil
}

// DueScheduledReports returns active scheduled reports with next_run at or before now.
func (s *Store) DueScheduledReports(ctx context.Context, now time.Time) ([]model.ScheduledReport, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_reports sr
	WHERE sr.is_active = 1 AND sr.next_run <= ? ORDER BY sr.next_run`, ms(now))
	if err != nil {
		return nil, err
	}
	var out []model.ScheduledReport
	for rows.Next() {
		sr, err := scanScheduled(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, sr)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.attachReportCampaigns(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReportStats is the organization-wide reporting overview.
type ReportStats struct {
	Overview struct {
		TotalCampaigns  int `json:"total_campaigns"`
		ActiveCampaigns int `json:"active_campaigns"`
		TotalTargets    int `json:"total_targets"`
		TotalEmailsSent int `json:"total_emails_sent"`
	} `json:"overview"`
	CampaignPerformance struct {
		AverageOpenRate           float64 `json:"average_open_rate"`
		AverageClickRate          float64 `json:"average_click_rate"`
		AverageSusceptibilityRate float64 `json:"average_susceptibility_rate"`
	} `json:"campaign_performance"`
	DepartmentBreakdown []DepartmentRisk `json:"department_breakdown"`
	RecentActivity      struct {
		CampaignsThisMonth  int `json:"campaigns_this_month"`
		EmailsSentThisMonth int `json:"emails_sent_this_month"`
	} `json:"recent_activity"`
}

// DepartmentRisk is one row of the department risk ranking.
type DepartmentRisk struct {
	Department     string  `json:"department"`
	AvgRiskScore   float64 `json:"avg_risk_score"`
	TotalEmployees int     `json:"total_employees"`
}

// ReportStatistics computes ReportStats for orgID.
func (s *Store) ReportStatistics(ctx context.Context, orgID string) (ReportStats, error) {
	q := s.q(ctx)
	var st ReportStats
	month := ms(monthStart(s.now()))

	err := q.QueryRowContext(ctx, `
	SELECT COUNT(*),
		COALESCE(SUM(status IN ('running', 'scheduled')), 0),
		COALESCE(SUM(created_at >= ?), 0)
	FROM campaigns WHERE organization_id = ?`, month, orgID).
		Scan(&st.Overview.TotalCampaigns, &st.Overview.ActiveCampaigns, &st.RecentActivity.CampaignsThisMonth)
	if err != nil {
		return st, err
	}
	if st.Overview.TotalTargets, err = s.CountTargets(ctx, orgID); err != nil {
		return st, err
	}
	err = q.QueryRowContext(ctx, `
	SELECT COALESCE(SUM(ct.email_sent_at IS NOT NULL), 0),
		COALESCE(SUM(ct.email_sent_at >= ?), 0)
	FROM campaign_targets ct JOIN campaigns c ON c.id = ct.campaign_id
	WHERE c.organization_id = ?`, month, orgID).
		Scan(&st.Overview.TotalEmailsSent, &st.RecentActivity.EmailsSentThisMonth)
	if err != nil {
		return st, err
	}

	var open, click, sus sql.NullFloat64
	err = q.QueryRowContext(ctx, `
	SELECT AVG(cr.open_rate), AVG(cr.click_rate), AVG(cr.susceptibility_rate)
	FROM campaign_reports cr JOIN campaigns c ON c.id = cr.campaign_id
	WHERE c.organization_id = ?`, orgID).Scan(&open, &click, &sus)
	if err != nil {
		return st, err
	}
	st.CampaignPerformance.AverageOpenRate = model.Round2(open.Float64)
	st.CampaignPerformance.AverageClickRate = model.Round2(click.Float64)
	st.CampaignPerformance.AverageSusceptibilityRate = model.Round2(sus.Float64)

	rows, err := q.QueryContext(ctx, `
	SELECT dr.department, AVG(dr.risk_score) AS avg_risk, SUM(dr.total_employees)
	FROM department_reports dr JOIN campaigns c ON c.id = dr.campaign_id
	WHERE c.organization_id = ?
	GROUP BY dr.department ORDER BY avg_risk DESC, dr.department LIMIT 10`, orgID)
	if err != nil {
		return st, err
	}
	defer func() { _ = rows.Close() }()
	st.DepartmentBreakdown = []DepartmentRisk{}
	for rows.Next() {
		var d DepartmentRisk
		if err := rows.Scan(&d.Department, &d.AvgRiskScore, &d.TotalEmployees); err != nil {
			return st, err
		}
		d.AvgRiskScore = model.Round2(d.AvgRiskScore)
		st.DepartmentBreakdown = append(st.DepartmentBreakdown, d)
	}
	return st, rows.Err()
}
