// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/metrics"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
)

// Notifier is told about lifecycle milestones. Failures are logged only.
type Notifier interface {
	CampaignStarted(ctx context.Context, c model.Campaign) error
	CampaignCompleted(ctx context.Context, c model.Campaign) error
}

type nopNotifier struct{}

func (nopNotifier) CampaignStarted(context.Context, model.Campaign) error   { return nil }
func (nopNotifier) CampaignCompleted(context.Context, model.Campaign) error { return nil }

// Service applies lifecycle actions to stored campaigns.
type Service struct {
	store    *store.Store
	notifier Notifier
	logger   zerolog.Logger
}

// NewService returns a Service. A nil notifier discards notifications.
func NewService(st *store.Store, n Notifier) *Service {
	if n == nil {
		n = nopNotifier{}
	}
	return &Service{store: st, notifier: n, logger: log.WithComponent("campaign")}
}

// Result is the outcome of an applied action.
type Result struct {
	Campaign model.Campaign
	Message  string
}

// Apply runs action a on the campaign id within orgID.
func (s *Service) Apply(ctx context.Context, orgID, id string, a Action) (Result, error) {
	c, err := s.store.GetCampaign(ctx, orgID, id)
	if err != nil {
		return Result{}, err
	}
	return s.apply(ctx, c, a)
}

// SetStatus performs the action that moves c to status. It is a no-op when
// the status is unchanged.
func (s *Service) SetStatus(ctx context.Context, c model.Campaign, status string) (Result, error) {
	a, err := ActionForStatus(c.Status, status)
	if err != nil {
		metrics.IncCampaignTransition("status", false)
		return Result{}, err
	}
	if a == "" {
		return Result{Campaign: c}, nil
	}
	return s.apply(ctx, c, a)
}

// Complete moves a running campaign to completed.
func (s *Service) Complete(ctx context.Context, id string) error {
	c, err := s.store.GetCampaignByID(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.apply(ctx, c, ActionComplete)
	return err
}

func (s *Service) apply(ctx context.Context, c model.Campaign, a Action) (Result, error) {
	tr, err := TransitionFor(c.Status, a)
	if err != nil {
		metrics.IncCampaignTransition(string(a), false)
		return Result{}, err
	}

	now := s.store.Now()
	var start, end *time.Time
	firstStart := false
	switch a {
	case ActionStart:
		stats, err := s.store.CampaignEmailCounters(ctx, c.ID)
		if err != nil {
			return Result{}, err
		}
		if stats.TotalTargets == 0 {
			metrics.IncCampaignTransition(string(a), false)
			return Result{}, refuse(a, c.Status, "Campaign has no targets")
		}
		if c.ActualStart == nil {
			start, firstStart = &now, true
		}
	case ActionSchedule:
		if c.ScheduledStart == nil || !c.ScheduledStart.After(now) {
			metrics.IncCampaignTransition(string(a), false)
			return Result{}, refuse(a, c.Status, "Scheduled start time must be in the future")
		}
	case ActionCancel, ActionComplete:
		end = &now
	}

	cancelled := 0
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.TransitionCampaign(ctx, c.ID, tr.From, tr.To, start, end); err != nil {
			return err
		}
		if a == ActionCancel {
			n, err := s.store.CancelQueuedEmails(ctx, c.ID)
			cancelled = n
			return err
		}
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		metrics.IncCampaignTransition(string(a), false)
		return Result{}, refuse(a, c.Status, tr.Refusal)
	}
	if err != nil {
		return Result{}, fmt.Errorf("campaign %s: %w", a, err)
	}
	metrics.IncCampaignTransition(string(a), true)

	updated, err := s.store.GetCampaignByID(ctx, c.ID)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info().
		Str(log.FieldEvent, "campaign.transition").
		Str(log.FieldCampaignID, c.ID).
		Str(log.FieldOrgID, c.OrganizationID).
		Str(log.FieldAction, string(a)).
		Str(log.FieldOldState, c.Status).
		Str(log.FieldNewState, tr.To).
		Int("emails_cancelled", cancelled).
		Msg("campaign transitioned")

	// callers may run the transition inside a wider transaction
	s.store.AfterCommit(ctx, func(ctx context.Context) {
		switch {
		case firstStart:
			if err := s.notifier.CampaignStarted(ctx, updated); err != nil {
				s.logger.Warn().Err(err).Str(log.FieldEvent, "campaign.notify_failed").Str(log.FieldCampaignID, c.ID).Msg("campaign started notification failed")
			}
		case a == ActionComplete:
			if err := s.notifier.CampaignCompleted(ctx, updated); err != nil {
				s.logger.Warn().Err(err).Str(log.FieldEvent, "campaign.notify_failed").Str(log.FieldCampaignID, c.ID).Msg("campaign completed notification failed")
			}
		}
	})
	return Result{Campaign: updated, Message: tr.Success}, nil
}

// Advance starts scheduled campaigns whose start time has passed and
// completes running campaigns with no recipient left to send to. It returns
// the number of campaigns it moved.
func (s *Service) Advance(ctx context.Context) (int, error) {
	now := s.store.Now()
	moved := 0

	scheduled, err := s.store.CampaignsByStatus(ctx, model.CampaignScheduled)
	if err != nil {
		return 0, err
	}
	for _, c := range scheduled {
		if c.ScheduledStart == nil || c.ScheduledStart.After(now) {
			continue
		}
		if _, err := s.apply(ctx, c, ActionStart); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				s.logger.Warn().Err(err).Str(log.FieldEvent, "campaign.autostart_refused").Str(log.FieldCampaignID, c.ID).Msg("scheduled campaign not started")
				continue
			}
			return moved, err
		}
		moved++
	}

	running, err := s.store.CampaignsByStatus(ctx, model.CampaignRunning)
	if err != nil {
		return moved, err
	}
	for _, c := range running {
		n, err := s.store.CountUnfinishedTargets(ctx, c.ID)
		if err != nil {
			return moved, err
		}
		if n > 0 {
			continue
		}
		if _, err := s.apply(ctx, c, ActionComplete); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}
