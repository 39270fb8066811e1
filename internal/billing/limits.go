// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package billing enforces plan limits and runs the subscription lifecycle:
// trials, usage metrics, invoices and overdue tracking.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/notify"
	"github.com/ManuGH/lure/internal/store"
)

// ErrPlanLimit is matched by every LimitError.
var ErrPlanLimit = errors.New("plan limit exceeded")

// LimitError reports which quota a write would exceed.
type LimitError struct {
	Resource string
	Limit    int
	Current  int
	Adding   int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("plan limit exceeded: %s allows %d, have %d, adding %d", e.Resource, e.Limit, e.Current, e.Adding)
}

// Is makes errors.Is(err, ErrPlanLimit) true.
func (e *LimitError) Is(target error) bool { return target == ErrPlanLimit }

// Alerter delivers billing_alert notifications to an organization's managers.
type Alerter interface {
	OrgAlert(ctx context.Context, orgID string, req notify.Request) (int, error)
}

// Service checks quotas and runs billing jobs.
type Service struct {
	store  *store.Store
	alerts Alerter
	logger zerolog.Logger
}

// NewService returns a billing Service. alerts may be nil.
func NewService(st *store.Store, alerts Alerter) *Service {
	return &Service{store: st, alerts: alerts, logger: log.WithComponent("billing")}
}

// monthStart is midnight UTC on the first day of now's month.
func monthStart(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// subscription returns orgID's subscription, or false when the organization
// has none and is therefore unlimited.
func (s *Service) subscription(ctx context.Context, orgID string) (model.Subscription, bool, error) {
	sub, err := s.store.GetSubscription(ctx, orgID)
	if errors.Is(err, store.ErrNotFound) {
		return sub, false, nil
	}
	if err != nil {
		return sub, false, err
	}
	return sub, true, nil
}

type counter func(ctx context.Context, orgID string) (int, error)

func (s *Service) check(ctx context.Context, orgID, resource string, limit func(model.Subscription) int, count counter, adding int) error {
	sub, ok, err := s.subscription(ctx, orgID)
	if err != nil || !ok {
		return err
	}
	max := limit(sub)
	if max <= 0 {
		return nil
	}
	current, err := count(ctx, orgID)
	if err != nil {
		return err
	}
	if current+adding > max {
		s.logger.Info().
			Str(log.FieldEvent, "billing.limit_hit").
			Str(log.FieldOrgID, orgID).
			Str("resource", resource).
			Int("limit", max).
			Int("current", current).
			Msg("plan limit reached")
		return &LimitError{Resource: resource, Limit: max, Current: current, Adding: adding}
	}
	return nil
}

// CheckTargets fails when adding more targets would exceed max_targets.
func (s *Service) CheckTargets(ctx context.Context, orgID string, adding int) error {
	return s.check(ctx, orgID, "targets", func(sub model.Subscription) int { return sub.MaxTargets },
		s.store.CountTargets, adding)
}

// CheckTemplates fails when another template would exceed max_templates.
func (s *Service) CheckTemplates(ctx context.Context, orgID string) error {
	return s.check(ctx, orgID, "templates", func(sub model.Subscription) int { return sub.MaxTemplates },
		s.store.CountTemplates, 1)
}

// CheckLandingPages fails when another page would exceed max_landing_pages.
func (s *Service) CheckLandingPages(ctx context.Context, orgID string) error {
	return s.check(ctx, orgID, "landing_pages", func(sub model.Subscription) int { return sub.MaxLandingPages },
		s.store.CountLandingPages, 1)
}

// CheckCampaigns fails when another campaign this month would exceed
// max_campaigns_per_month.
func (s *Service) CheckCampaigns(ctx context.Context, orgID string) error {
	since := monthStart(s.store.Now())
	return s.check(ctx, orgID, "campaigns_per_month", func(sub model.Subscription) int { return sub.MaxCampaignsPerMonth },
		func(ctx context.Context, orgID string) (int, error) {
			return s.store.CountCampaignsSince(ctx, orgID, since)
		}, 1)
}

// EmailsAllowed reports whether orgID may send another email this month.
func (s *Service) EmailsAllowed(ctx context.Context, orgID string) (bool, error) {
	since := monthStart(s.store.Now())
	err := s.check(ctx, orgID, "emails_per_month", func(sub model.Subscription) int { return sub.MaxEmailsPerMonth },
		func(ctx context.Context, orgID string) (int, error) {
			return s.store.CountEmailsSentSince(ctx, orgID, since)
		}, 1)
	if errors.Is(err, ErrPlanLimit) {
		return false, nil
	}
	return err == nil, err
}

// StartTrial grants orgID the basic trial unless it already has a subscription.
func (s *Service) StartTrial(ctx context.Context, orgID string) (model.Subscription, error) {
	sub, ok, err := s.subscription(ctx, orgID)
	if err != nil || ok {
		return sub, err
	}
	sub = model.NewTrialSubscription(orgID, s.store.Now())
	if err := s.store.CreateSubscription(ctx, &sub); err != nil {
		return sub, err
	}
	s.logger.Info().
		Str(log.FieldEvent, "billing.trial_started").
		Str(log.FieldOrgID, orgID).
		Time("trial_end", *sub.TrialEndDate).
		Msg("trial subscription created")
	return sub, nil
}
