// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reports

import (
	"math"
	"sort"

	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/tracking"
)

// UnassignedDepartment groups targets without a department.
const UnassignedDepartment = "Unassigned"

// Risk score weights per engagement step.
const (
	weightOpened    = 0.2
	weightClicked   = 0.3
	weightSubmitted = 0.5
	weightReported  = 0.2
)

func hasCredentials(ct model.CampaignTarget) bool {
	for k := range ct.SubmittedData {
		if tracking.IsCredentialField(k) {
			return true
		}
	}
	return false
}

// BuildCampaignReport aggregates the recipients and event counts of one
// campaign. Engagement rates are relative to delivered emails.
func BuildCampaignReport(c model.Campaign, cts []model.CampaignTarget, events map[string]int) model.CampaignReport {
	r := model.CampaignReport{
		CampaignID:     c.ID,
		CampaignName:   c.Name,
		CampaignStatus: c.Status,
		TotalEmails:    len(cts),
	}
	for _, ct := range cts {
		if ct.EmailSentAt != nil {
			r.EmailsSent++
		}
		if ct.EmailOpenedAt != nil {
			r.EmailsOpened++
		}
		if ct.LinkClickedAt != nil {
			r.EmailsClicked++
		}
		if ct.DataSubmittedAt != nil {
			r.DataSubmitted++
			if hasCredentials(ct) {
				r.CredentialsCaptured++
			}
		}
		if ct.ReportedAt != nil {
			r.EmailsReported++
		}
	}
	r.EmailsBounced = events[model.EventBounced]
	r.PageVisits = events[model.EventClicked]
	r.EmailsDelivered = max(r.EmailsSent-r.EmailsBounced, 0)

	r.DeliveryRate = model.Percent(r.EmailsDelivered, r.EmailsSent)
	r.OpenRate = model.Percent(r.EmailsOpened, r.EmailsDelivered)
	r.ClickRate = model.Percent(r.EmailsClicked, r.EmailsDelivered)
	r.SusceptibilityRate = model.Percent(r.DataSubmitted, r.EmailsDelivered)
	r.AwarenessRate = model.Percent(r.EmailsReported, r.EmailsDelivered)
	r.ClickThroughRate = model.Percent(r.EmailsClicked, r.EmailsOpened)
	return r
}

// RiskScore weighs engagement against reporting, scaled to 0..100.
func RiskScore(sent, opened, clicked, submitted, reported int) float64 {
	if sent <= 0 {
		return 0
	}
	raw := weightOpened*float64(opened) + weightClicked*float64(clicked) +
		weightSubmitted*float64(submitted) - weightReported*float64(reported)
	score := 100 * raw / float64(sent)
	return model.Round2(math.Max(0, math.Min(100, score)))
}

// BuildDepartmentReports groups a campaign's recipients by department and
// scores each group. Reports come back sorted by department.
func BuildDepartmentReports(campaignID string, cts []model.CampaignTarget) []model.DepartmentReport {
	byDept := make(map[string]*model.DepartmentReport)
	for _, ct := range cts {
		dept := UnassignedDepartment
		if ct.Target != nil && ct.Target.Department != "" {
			dept = ct.Target.Department
		}
		d, ok := byDept[dept]
		if !ok {
			d = &model.DepartmentReport{CampaignID: campaignID, Department: dept}
			byDept[dept] = d
		}
		d.TotalEmployees++
		if ct.EmailSentAt != nil {
			d.EmailsSent++
		}
		if ct.EmailOpenedAt != nil {
			d.EmailsOpened++
		}
		if ct.LinkClickedAt != nil {
			d.LinksClicked++
		}
		if ct.DataSubmittedAt != nil {
			d.DataSubmitted++
		}
		if ct.ReportedAt != nil {
			d.EmailsReported++
		}
	}
	out := make([]model.DepartmentReport, 0, len(byDept))
	for _, d := range byDept {
		d.RiskScore = RiskScore(d.EmailsSent, d.EmailsOpened, d.LinksClicked, d.DataSubmitted, d.EmailsReported)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Department < out[j].Department })
	return out
}

// Improvement is the drop in risk score against the previous campaign. It is
// positive when the department got better.
func Improvement(previous, current float64, hasPrevious bool) float64 {
	if !hasPrevious {
		return 0
	}
	return model.Round2(previous - current)
}
