// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reports computes campaign and department reports, serves the
// organization statistics and generates scheduled CSV exports.
package reports

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/cache"
	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
)

const refreshBatch = 100

// Service maintains report rows and cached statistics.
type Service struct {
	store  *store.Store
	stats  *cache.Loader[store.ReportStats]
	logger zerolog.Logger
}

// NewService returns a Service caching statistics in c for ttl. c may be nil.
func NewService(st *store.Store, c cache.Cache, ttl time.Duration) *Service {
	return &Service{
		store:  st,
		stats:  cache.NewLoader[store.ReportStats](c, ttl),
		logger: log.WithComponent("reports"),
	}
}

func statsKey(orgID string) string { return "stats:reports:" + orgID }

// Statistics returns the organization overview, cached per organization.
func (s *Service) Statistics(ctx context.Context, orgID string) (store.ReportStats, error) {
	return s.stats.Get(ctx, statsKey(orgID), func(ctx context.Context) (store.ReportStats, error) {
		return s.store.ReportStatistics(ctx, orgID)
	})
}

// RefreshCampaign recomputes the campaign report and department reports of id.
func (s *Service) RefreshCampaign(ctx context.Context, id string) (model.CampaignReport, error) {
	var report model.CampaignReport
	var orgID string
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		c, err := s.store.GetCampaignByID(ctx, id)
		if err != nil {
			return err
		}
		orgID = c.OrganizationID
		cts, err := s.store.AllCampaignTargets(ctx, id)
		if err != nil {
			return err
		}
		events, err := s.store.CountEvents(ctx, id)
		if err != nil {
			return err
		}
		report = BuildCampaignReport(c, cts, events)
		if existing, err := s.store.GetCampaignReportByCampaign(ctx, id); err == nil {
			report.ID = existing.ID
		}
		if err := s.store.UpsertCampaignReport(ctx, &report); err != nil {
			return err
		}

		started := c.CreatedAt
		if c.ActualStart != nil {
			started = *c.ActualStart
		}
		for _, d := range BuildDepartmentReports(id, cts) {
			prev, ok, err := s.store.PreviousDepartmentScore(ctx, c.OrganizationID, id, d.Department, started)
			if err != nil {
				return err
			}
			d.ImprovementPercentage = Improvement(prev, d.RiskScore, ok)
			if err := s.store.UpsertDepartmentReport(ctx, &d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	s.stats.Invalidate(ctx, statsKey(orgID))
	return report, nil
}

// Refresh recomputes reports of campaigns changed since their last report and
// returns how many were refreshed.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	ids, err := s.store.CampaignsNeedingReport(ctx, refreshBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := s.RefreshCampaign(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.Info().Str(log.FieldEvent, "reports.refreshed").Int("count", n).Msg("campaign reports refreshed")
	}
	return n, nil
}
