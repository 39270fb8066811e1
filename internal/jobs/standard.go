// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"time"

	"github.com/ManuGH/lure/internal/billing"
	"github.com/ManuGH/lure/internal/campaign"
	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/mailer"
	"github.com/ManuGH/lure/internal/notify"
	"github.com/ManuGH/lure/internal/reports"
	"github.com/ManuGH/lure/internal/store"
)

// Job names.
const (
	JobDispatch         = "dispatch"
	JobSend             = "send"
	JobLifecycle        = "lifecycle"
	JobReports          = "reports"
	JobScheduledReports = "scheduled_reports"
	JobBilling          = "billing"
	JobDigest           = "digest"
	JobExpire           = "notification_expiry"
)

const expireInterval = time.Hour

// Services are the components the standard jobs drive. Nil entries skip
// their jobs.
type Services struct {
	Store     *store.Store
	Mailer    *mailer.Queue
	Campaigns *campaign.Service
	Reports   *reports.Service
	Generator *reports.Generator
	Billing   *billing.Service
	Notify    *notify.Service
}

// Standard returns lure's background jobs.
func Standard(cfg config.JobsConfig, s Services) []Job {
	var out []Job
	if s.Mailer != nil {
		out = append(out,
			Job{Name: JobDispatch, Every: cfg.DispatchInterval, Run: s.Mailer.Dispatch},
			Job{Name: JobSend, Every: cfg.SendInterval, Run: s.Mailer.Send},
		)
	}
	if s.Campaigns != nil {
		out = append(out, Job{Name: JobLifecycle, Every: cfg.LifecycleInterval, Run: s.Campaigns.Advance})
	}
	if s.Reports != nil {
		out = append(out, Job{Name: JobReports, Every: cfg.ReportInterval, Run: s.Reports.Refresh})
	}
	if s.Generator != nil {
		out = append(out, Job{Name: JobScheduledReports, Every: cfg.ReportInterval, Run: s.Generator.RunDue})
	}
	if s.Billing != nil {
		b := s.Billing
		out = append(out, Job{Name: JobBilling, Every: cfg.BillingInterval, Run: func(ctx context.Context) (int, error) {
			return 0, b.Run(ctx)
		}})
	}
	if s.Notify != nil {
		out = append(out, Job{Name: JobDigest, Every: cfg.DigestInterval, Run: s.Notify.Digest})
	}
	if s.Store != nil {
		st := s.Store
		out = append(out, Job{Name: JobExpire, Every: expireInterval, Run: func(ctx context.Context) (int, error) {
			return st.DeleteExpiredNotifications(ctx, st.Now())
		}})
	}
	return out
}
