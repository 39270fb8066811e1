// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/tracking"
)

// Default thresholds for rules without threshold_value.
const (
	DefaultClickRateThreshold = 20
	DefaultSameIPClicks       = 3
	DefaultFailedEmails       = 10
)

// Alerts turns engagement, lifecycle and delivery events into notifications.
type Alerts struct {
	store  *store.Store
	svc    *Service
	logger zerolog.Logger
}

// NewAlerts returns an alert evaluator delivering through svc.
func NewAlerts(st *store.Store, svc *Service) *Alerts {
	return &Alerts{store: st, svc: svc, logger: log.WithComponent("alerts")}
}

func campaignURL(id string) string { return "/campaigns/" + id }

func window(r model.AlertRule) time.Duration {
	m := r.TimeWindowMinutes
	if m <= 0 {
		m = 60
	}
	return time.Duration(m) * time.Minute
}

// recipients returns the rule's notify users or the organization managers.
func (a *Alerts) recipients(ctx context.Context, orgID string, r *model.AlertRule) ([]string, error) {
	if r != nil && len(r.NotifyUsers) > 0 {
		return r.NotifyUsers, nil
	}
	managers, err := a.store.OrgManagers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(managers))
	for i, u := range managers {
		ids[i] = u.ID
	}
	return ids, nil
}

func (a *Alerts) fire(ctx context.Context, orgID string, r model.AlertRule, req Request) error {
	ids, err := a.recipients(ctx, orgID, &r)
	if err != nil {
		return err
	}
	req.DedupeWindow = window(r)
	n, err := a.svc.NotifyUsers(ctx, ids, req)
	if err == nil && n > 0 {
		a.logger.Info().
			Str(log.FieldEvent, "alerts.fired").
			Str(log.FieldOrgID, orgID).
			Str("rule_id", r.ID).
			Str("trigger", r.TriggerType).
			Int("recipients", n).
			Msg("alert rule fired")
	}
	return err
}

// TrackingEvent evaluates the click and submission triggers.
func (a *Alerts) TrackingEvent(ctx context.Context, ev tracking.Event) error {
	var errs []error
	switch ev.Type {
	case model.EventClicked:
		errs = append(errs,
			a.clickRate(ctx, ev),
			a.sameIPClicks(ctx, ev),
			a.highRiskClick(ctx, ev),
		)
	case model.EventSubmitted:
		if ev.Credentials {
			errs = append(errs, a.credentialSubmission(ctx, ev))
		}
	}
	return errors.Join(errs...)
}

func (a *Alerts) clickRate(ctx context.Context, ev tracking.Event) error {
	rules, err := a.store.ActiveRules(ctx, ev.Campaign.OrganizationID, model.TriggerClickRate)
	if err != nil || len(rules) == 0 {
		return err
	}
	st, err := a.store.CampaignEmailCounters(ctx, ev.Campaign.ID)
	if err != nil || st.EmailsSent == 0 {
		return err
	}
	rate := float64(st.LinksClicked) / float64(st.EmailsSent) * 100
	for _, r := range rules {
		if rate < r.Threshold(DefaultClickRateThreshold) {
			continue
		}
		if err := a.fire(ctx, ev.Campaign.OrganizationID, r, Request{
			Type:        model.NotifySecurityBreach,
			Priority:    model.PriorityHigh,
			Title:       "Click rate threshold exceeded",
			Message:     fmt.Sprintf("%.1f%% of recipients of %q clicked the simulation link.", rate, ev.Campaign.Name),
			CampaignID:  ev.Campaign.ID,
			ActionURL:   campaignURL(ev.Campaign.ID),
			ActionLabel: "View campaign",
			DedupeKey:   "rule:" + r.ID + ":campaign:" + ev.Campaign.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Alerts) sameIPClicks(ctx context.Context, ev tracking.Event) error {
	if ev.IP == "" {
		return nil
	}
	rules, err := a.store.ActiveRules(ctx, ev.Campaign.OrganizationID, model.TriggerMultipleClicksIP)
	if err != nil {
		return err
	}
	now := a.store.Now()
	for _, r := range rules {
		n, err := a.store.CountEventsFromIP(ctx, ev.Campaign.ID, model.EventClicked, ev.IP, now.Add(-window(r)))
		if err != nil {
			return err
		}
		if float64(n) < r.Threshold(DefaultSameIPClicks) {
			continue
		}
		if err := a.fire(ctx, ev.Campaign.OrganizationID, r, Request{
			Type:        model.NotifySecurityBreach,
			Priority:    model.PriorityHigh,
			Title:       "Multiple clicks from one address",
			Message:     fmt.Sprintf("%d clicks from %s in campaign %q.", n, ev.IP, ev.Campaign.Name),
			CampaignID:  ev.Campaign.ID,
			ActionURL:   campaignURL(ev.Campaign.ID),
			ActionLabel: "View campaign",
			DedupeKey:   "rule:" + r.ID + ":ip:" + ev.IP + ":campaign:" + ev.Campaign.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Alerts) highRiskClick(ctx context.Context, ev tracking.Event) error {
	if ev.Target.RiskLevel != model.LevelHigh && ev.Target.RiskLevel != model.LevelCritical {
		return nil
	}
	rules, err := a.store.ActiveRules(ctx, ev.Campaign.OrganizationID, model.TriggerHighRiskClick)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if err := a.fire(ctx, ev.Campaign.OrganizationID, r, Request{
			Type:        model.NotifyHighRiskClick,
			Priority:    model.PriorityHigh,
			Title:       "High risk user clicked",
			Message:     fmt.Sprintf("%s (%s risk) clicked the link in %q.", ev.Target.Email, ev.Target.RiskLevel, ev.Campaign.Name),
			CampaignID:  ev.Campaign.ID,
			TargetID:    ev.Target.ID,
			ActionURL:   campaignURL(ev.Campaign.ID),
			ActionLabel: "View campaign",
			DedupeKey:   "rule:" + r.ID + ":target:" + ev.Target.ID + ":campaign:" + ev.Campaign.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Alerts) credentialSubmission(ctx context.Context, ev tracking.Event) error {
	rules, err := a.store.ActiveRules(ctx, ev.Campaign.OrganizationID, model.TriggerCredentialSubmit)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if err := a.fire(ctx, ev.Campaign.OrganizationID, r, Request{
			Type:        model.NotifySecurityBreach,
			Priority:    model.PriorityUrgent,
			Title:       "Credentials submitted",
			Message:     fmt.Sprintf("%s submitted credentials on the landing page of %q.", ev.Target.Email, ev.Campaign.Name),
			CampaignID:  ev.Campaign.ID,
			TargetID:    ev.Target.ID,
			ActionURL:   campaignURL(ev.Campaign.ID),
			ActionLabel: "View campaign",
			DedupeKey:   "rule:" + r.ID + ":target:" + ev.Target.ID + ":campaign:" + ev.Campaign.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// lifecycleRecipients is the campaign creator, or the managers when the
// creator is gone.
func (a *Alerts) lifecycleRecipients(ctx context.Context, c model.Campaign) ([]string, error) {
	if c.CreatedBy != "" {
		return []string{c.CreatedBy}, nil
	}
	return a.recipients(ctx, c.OrganizationID, nil)
}

// CampaignStarted notifies the campaign creator.
func (a *Alerts) CampaignStarted(ctx context.Context, c model.Campaign) error {
	ids, err := a.lifecycleRecipients(ctx, c)
	if err != nil {
		return err
	}
	_, err = a.svc.NotifyUsers(ctx, ids, Request{
		Type:        model.NotifyCampaignStarted,
		Priority:    model.PriorityMedium,
		Title:       "Campaign started",
		Message:     fmt.Sprintf("Campaign %q is now running.", c.Name),
		CampaignID:  c.ID,
		ActionURL:   campaignURL(c.ID),
		ActionLabel: "View campaign",
		DedupeKey:   "campaign:" + c.ID + ":started",
	})
	return err
}

// CampaignCompleted notifies the creator and fires campaign_completion rules.
func (a *Alerts) CampaignCompleted(ctx context.Context, c model.Campaign) error {
	req := Request{
		Type:        model.NotifyCampaignCompleted,
		Priority:    model.PriorityMedium,
		Title:       "Campaign completed",
		Message:     fmt.Sprintf("Campaign %q has finished. Its report is available.", c.Name),
		CampaignID:  c.ID,
		ActionURL:   campaignURL(c.ID),
		ActionLabel: "View campaign",
		DedupeKey:   "campaign:" + c.ID + ":completed",
	}
	ids, err := a.lifecycleRecipients(ctx, c)
	if err != nil {
		return err
	}
	if _, err := a.svc.NotifyUsers(ctx, ids, req); err != nil {
		return err
	}
	rules, err := a.store.ActiveRules(ctx, c.OrganizationID, model.TriggerCampaignCompleted)
	if err != nil {
		return err
	}
	for _, r := range rules {
		rr := req
		rr.DedupeKey = "rule:" + r.ID + ":campaign:" + c.ID
		if err := a.fire(ctx, c.OrganizationID, r, rr); err != nil {
			return err
		}
	}
	return nil
}

// EmailFailed evaluates failed_email_threshold rules.
func (a *Alerts) EmailFailed(ctx context.Context, c model.Campaign, _ model.Target) error {
	rules, err := a.store.ActiveRules(ctx, c.OrganizationID, model.TriggerFailedEmails)
	if err != nil {
		return err
	}
	now := a.store.Now()
	for _, r := range rules {
		n, err := a.store.CountFailedSince(ctx, c.OrganizationID, now.Add(-window(r)))
		if err != nil {
			return err
		}
		if float64(n) < r.Threshold(DefaultFailedEmails) {
			continue
		}
		if err := a.fire(ctx, c.OrganizationID, r, Request{
			Type:        model.NotifySystemAlert,
			Priority:    model.PriorityHigh,
			Title:       "Email delivery failures",
			Message:     fmt.Sprintf("%d simulation emails failed in the last %d minutes.", n, int(window(r)/time.Minute)),
			CampaignID:  c.ID,
			ActionURL:   "/emails/queue?status=failed",
			ActionLabel: "View queue",
			DedupeKey:   "rule:" + r.ID + ":failed",
		}); err != nil {
			return err
		}
	}
	return nil
}

// OrgAlert notifies an organization's managers, used for billing and report
// notifications that are not driven by rules.
func (a *Alerts) OrgAlert(ctx context.Context, orgID string, req Request) (int, error) {
	ids, err := a.recipients(ctx, orgID, nil)
	if err != nil {
		return 0, err
	}
	return a.svc.NotifyUsers(ctx, ids, req)
}

// Service returns the delivery service.
func (a *Alerts) Service() *Service { return a.svc }
