// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/metrics"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/secret"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/tracking"
)

const (
	dispatchBatch   = 100
	maxErrorMessage = 1000
	staleSending    = 10 * time.Minute
)

// Quota reports whether an organization may send more email this month.
type Quota interface {
	EmailsAllowed(ctx context.Context, orgID string) (bool, error)
}

// FailureObserver is told when a delivery is given up.
type FailureObserver interface {
	EmailFailed(ctx context.Context, c model.Campaign, t model.Target) error
}

// Dialer builds a Sender for an organization's SMTP server.
type Dialer func(SMTPSettings) Sender

// Options tune the queue workers.
type Options struct {
	SendRate         float64
	BatchSize        int
	MaxRetries       int
	RetryBackoff     time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// OptionsFromConfig copies the mailer block.
func OptionsFromConfig(c config.MailerConfig) Options {
	return Options{
		SendRate:         c.SendRate,
		BatchSize:        c.BatchSize,
		MaxRetries:       c.MaxRetries,
		RetryBackoff:     c.RetryBackoff,
		BreakerThreshold: c.BreakerThreshold,
		BreakerCooldown:  c.BreakerCooldown,
	}
}

// Queue enqueues campaign recipients and delivers due queue entries.
type Queue struct {
	store    *store.Store
	tracking *tracking.Service
	box      *secret.Box
	fallback Sender
	dial     Dialer
	limiter  *rate.Limiter
	opts     Options
	quota    Quota
	failures FailureObserver
	relays   *breakers
	logger   zerolog.Logger
}

// NewQueue returns a Queue. box opens organization SMTP passwords; fallback
// is used when an organization has no configuration with capacity left.
func NewQueue(st *store.Store, tr *tracking.Service, box *secret.Box, fallback Sender, opts Options) *Queue {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.SendRate <= 0 {
		opts.SendRate = 5
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Minute
	}
	return &Queue{
		store:    st,
		tracking: tr,
		box:      box,
		fallback: fallback,
		dial:     func(s SMTPSettings) Sender { return NewSMTPTransport(s) },
		limiter:  rate.NewLimiter(rate.Limit(opts.SendRate), max(1, int(opts.SendRate))),
		opts:     opts,
		relays: &breakers{
			m:         map[string]*Breaker{},
			threshold: opts.BreakerThreshold,
			cooldown:  opts.BreakerCooldown,
			now:       st.Now,
		},
		logger: log.WithComponent("mailer"),
	}
}

// WithQuota sets the monthly email limit check.
func (q *Queue) WithQuota(quota Quota) *Queue { q.quota = quota; return q }

// WithFailureObserver sets the observer told about abandoned deliveries.
func (q *Queue) WithFailureObserver(f FailureObserver) *Queue { q.failures = f; return q }

// WithDialer replaces the SMTP transport factory.
func (q *Queue) WithDialer(d Dialer) *Queue { q.dial = d; return q }

// SetSendRate changes the pacing limit. It is safe to call while sending.
func (q *Queue) SetSendRate(perSecond float64) {
	if perSecond <= 0 {
		return
	}
	q.limiter.SetLimit(rate.Limit(perSecond))
	q.limiter.SetBurst(max(1, int(perSecond)))
}

// Dispatch enqueues pending recipients of running campaigns, staggered by
// the campaign's send interval. It returns the number of entries created.
func (q *Queue) Dispatch(ctx context.Context) (int, error) {
	campaigns, err := q.store.CampaignsByStatus(ctx, model.CampaignRunning)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range campaigns {
		n, err := q.dispatchCampaign(ctx, c)
		if err != nil {
			return total, fmt.Errorf("dispatch campaign %s: %w", c.ID, err)
		}
		total += n
	}
	return total, nil
}

func (q *Queue) dispatchCampaign(ctx context.Context, c model.Campaign) (int, error) {
	n := 0
	err := q.store.InTx(ctx, func(ctx context.Context) error {
		pending, err := q.store.PendingUnqueued(ctx, c.ID, dispatchBatch)
		if err != nil || len(pending) == 0 {
			return err
		}
		interval := time.Duration(max(c.SendIntervalMinutes, model.MinSendInterval)) * time.Minute
		now := q.store.Now()
		next := now
		latest, err := q.store.LatestScheduled(ctx, c.ID)
		if err != nil {
			return err
		}
		if latest != nil && latest.Add(interval).After(now) {
			next = latest.Add(interval)
		}
		for _, ct := range pending {
			if err := q.store.EnqueueEmail(ctx, &model.EmailQueue{
				CampaignID:       c.ID,
				TargetID:         ct.TargetID,
				CampaignTargetID: ct.ID,
				ScheduledTime:    next,
			}); err != nil {
				return err
			}
			next = next.Add(interval)
			n++
		}
		return nil
	})
	if err == nil && n > 0 {
		q.logger.Info().
			Str(log.FieldEvent, "mail.dispatched").
			Str(log.FieldCampaignID, c.ID).
			Int("count", n).
			Msg("recipients queued")
	}
	return n, err
}

type batchCache struct {
	campaigns map[string]model.Campaign
	templates map[string]model.EmailTemplate
	orgs      map[string]model.Organization
	quota     map[string]bool
}

// Send delivers up to BatchSize due entries and returns how many were sent.
func (q *Queue) Send(ctx context.Context) (int, error) {
	now := q.store.Now()
	if n, err := q.store.RequeueStale(ctx, now.Add(-staleSending)); err != nil {
		return 0, err
	} else if n > 0 {
		q.logger.Warn().Str(log.FieldEvent, "mail.requeued_stale").Int("count", n).Msg("stale sending entries requeued")
	}
	entries, err := q.store.ClaimDueEmails(ctx, now, q.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	cache := batchCache{
		campaigns: map[string]model.Campaign{},
		templates: map[string]model.EmailTemplate{},
		orgs:      map[string]model.Organization{},
		quota:     map[string]bool{},
	}
	sent := 0
	for i := range entries {
		err := ctx.Err()
		if err == nil {
			var ok bool
			ok, err = q.deliver(ctx, &cache, &entries[i])
			if ok {
				sent++
			}
		}
		if err != nil {
			q.release(ctx, entries[i+1:])
			return sent, err
		}
	}
	return sent, nil
}

// release returns claimed entries that were not attempted to the queue.
func (q *Queue) release(ctx context.Context, entries []model.EmailQueue) {
	ctx = context.WithoutCancel(ctx)
	for i := range entries {
		entries[i].Status = model.QueueQueued
		if err := q.store.SaveQueueEntry(ctx, &entries[i]); err != nil {
			q.logger.Warn().Err(err).
				Str(log.FieldEvent, "mail.release_failed").
				Str(log.FieldQueueID, entries[i].ID).
				Msg("claimed entry left in sending")
		}
	}
}

func (q *Queue) campaign(ctx context.Context, cache *batchCache, id string) (model.Campaign, error) {
	if c, ok := cache.campaigns[id]; ok {
		return c, nil
	}
	c, err := q.store.GetCampaignByID(ctx, id)
	if err == nil {
		cache.campaigns[id] = c
	}
	return c, err
}

func (q *Queue) template(ctx context.Context, cache *batchCache, c model.Campaign) (model.EmailTemplate, error) {
	if t, ok := cache.templates[c.TemplateID]; ok {
		return t, nil
	}
	t, err := q.store.GetTemplate(ctx, c.OrganizationID, c.TemplateID)
	if err == nil {
		cache.templates[c.TemplateID] = t
	}
	return t, err
}

func (q *Queue) organization(ctx context.Context, cache *batchCache, id string) (model.Organization, error) {
	if o, ok := cache.orgs[id]; ok {
		return o, nil
	}
	o, err := q.store.GetOrganization(ctx, id)
	if err == nil {
		cache.orgs[id] = o
	}
	return o, err
}

func (q *Queue) allowed(ctx context.Context, cache *batchCache, orgID string) (bool, error) {
	if q.quota == nil {
		return true, nil
	}
	if ok, seen := cache.quota[orgID]; seen {
		return ok, nil
	}
	ok, err := q.quota.EmailsAllowed(ctx, orgID)
	if err != nil {
		return false, err
	}
	cache.quota[orgID] = ok
	return ok, nil
}

// deliver handles one claimed entry. The returned error is reserved for
// storage failures; transport failures are recorded on the entry.
func (q *Queue) deliver(ctx context.Context, cache *batchCache, e *model.EmailQueue) (bool, error) {
	c, err := q.campaign(ctx, cache, e.CampaignID)
	if err != nil {
		return false, err
	}
	switch c.Status {
	case model.CampaignRunning:
	case model.CampaignCompleted, model.CampaignCancelled:
		e.Status = model.QueueCancelled
		return false, q.store.SaveQueueEntry(ctx, e)
	default:
		e.Status = model.QueueQueued
		return false, q.store.SaveQueueEntry(ctx, e)
	}

	ok, err := q.allowed(ctx, cache, c.OrganizationID)
	if err != nil {
		return false, err
	}
	if !ok {
		q.logger.Debug().
			Str(log.FieldEvent, "mail.quota_reached").
			Str(log.FieldOrgID, c.OrganizationID).
			Msg("monthly email limit reached, entry stays queued")
		e.Status = model.QueueQueued
		return false, q.store.SaveQueueEntry(ctx, e)
	}

	ct, err := q.store.GetCampaignTarget(ctx, e.CampaignTargetID)
	if err != nil {
		return false, err
	}
	tmpl, err := q.template(ctx, cache, c)
	if err != nil {
		return false, err
	}
	org, err := q.organization(ctx, cache, c.OrganizationID)
	if err != nil {
		return false, err
	}
	links := q.tracking.Signer().Links(q.tracking.BaseURL(), ct.ID)
	r, err := Render(tmpl, c, VarsFor(*ct.Target, org, tmpl, links), links)
	if err != nil {
		return false, q.fail(ctx, c, ct, e, fmt.Errorf("render: %w", err), false)
	}

	sender, slotID, err := q.transport(ctx, c.OrganizationID)
	if err != nil {
		return false, err
	}
	if err := q.limiter.Wait(ctx); err != nil {
		if slotID != "" {
			_ = q.store.ReleaseSMTPSlot(context.WithoutCancel(ctx), slotID)
		}
		q.release(ctx, []model.EmailQueue{*e})
		return false, err
	}
	relay := slotID
	if relay == "" {
		relay = "default"
	}
	var msgID string
	sendErr := q.relays.get(relay).Call(func() (err error) {
		msgID, err = sender.Send(ctx, Message{
			FromName: tmpl.SenderName,
			From:     tmpl.SenderEmail,
			To:       []string{ct.Target.Email},
			Subject:  r.Subject,
			HTML:     r.HTML,
			Text:     r.Text,
			Headers:  map[string]string{"X-Lure-Campaign": c.ID},
		})
		return err
	})
	if sendErr != nil {
		if slotID != "" {
			if err := q.store.ReleaseSMTPSlot(ctx, slotID); err != nil {
				return false, err
			}
		}
		if errors.Is(sendErr, ErrRelayUnavailable) {
			metrics.IncEmailSent("deferred")
			q.logger.Debug().
				Str(log.FieldEvent, "mail.relay_open").
				Str("relay", relay).
				Str(log.FieldQueueID, e.ID).
				Msg("relay disabled, entry stays queued")
			e.Status = model.QueueQueued
			return false, q.store.SaveQueueEntry(ctx, e)
		}
		return false, q.fail(ctx, c, ct, e, sendErr, true)
	}
	return true, q.succeed(ctx, c, ct, e, msgID)
}

// transport picks an organization SMTP configuration with capacity, falling
// back to the global transport.
func (q *Queue) transport(ctx context.Context, orgID string) (Sender, string, error) {
	cfg, err := q.store.ReserveSMTPSlot(ctx, orgID, q.store.Now())
	if errors.Is(err, store.ErrNotFound) {
		return q.fallback, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	password := ""
	if cfg.PasswordEnc != "" {
		if q.box == nil {
			return nil, "", errors.New("mailer: smtp password set but no secret box configured")
		}
		if password, err = q.box.Open(cfg.PasswordEnc); err != nil {
			return nil, "", fmt.Errorf("open smtp password of %s: %w", cfg.ID, err)
		}
	}
	return q.dial(SettingsFromModel(cfg, password)), cfg.ID, nil
}

func (q *Queue) succeed(ctx context.Context, c model.Campaign, ct model.CampaignTarget, e *model.EmailQueue, msgID string) error {
	now := q.store.Now()
	err := q.store.InTx(ctx, func(ctx context.Context) error {
		e.Status = model.QueueSent
		e.SentTime = &now
		e.MessageID = msgID
		e.ErrorMessage = ""
		if err := q.store.SaveQueueEntry(ctx, e); err != nil {
			return err
		}
		ct.Status = model.AdvanceStatus(ct.Status, model.TargetSent)
		if ct.EmailSentAt == nil {
			ct.EmailSentAt = &now
		}
		if err := q.store.SaveCampaignTarget(ctx, &ct); err != nil {
			return err
		}
		return q.store.RecordEvent(ctx, &model.EmailEvent{
			CampaignID: c.ID,
			TargetID:   ct.TargetID,
			EventType:  model.EventSent,
			MessageID:  msgID,
		})
	})
	if err != nil {
		return err
	}
	metrics.IncEmailSent("sent")
	q.logger.Debug().
		Str(log.FieldEvent, "mail.sent").
		Str(log.FieldCampaignID, c.ID).
		Str(log.FieldTargetID, ct.TargetID).
		Str("message_id", msgID).
		Msg("simulation email sent")
	return nil
}

// fail schedules a retry with exponential backoff, or gives up once the
// retry budget is spent.
func (q *Queue) fail(ctx context.Context, c model.Campaign, ct model.CampaignTarget, e *model.EmailQueue, cause error, retry bool) error {
	msg := cause.Error()
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	e.ErrorMessage = msg
	e.RetryCount++

	if retry && e.RetryCount <= q.opts.MaxRetries {
		e.Status = model.QueueQueued
		e.ScheduledTime = q.store.Now().Add(q.opts.RetryBackoff << (e.RetryCount - 1))
		if err := q.store.SaveQueueEntry(ctx, e); err != nil {
			return err
		}
		metrics.IncEmailSent("retry")
		q.logger.Warn().Err(cause).
			Str(log.FieldEvent, "mail.retry").
			Str(log.FieldCampaignID, c.ID).
			Int("attempt", e.RetryCount).
			Time("next_attempt", e.ScheduledTime).
			Msg("send failed, retry scheduled")
		return nil
	}

	err := q.store.InTx(ctx, func(ctx context.Context) error {
		e.Status = model.QueueFailed
		if err := q.store.SaveQueueEntry(ctx, e); err != nil {
			return err
		}
		ct.Status = model.AdvanceStatus(ct.Status, model.TargetFailed)
		if err := q.store.SaveCampaignTarget(ctx, &ct); err != nil {
			return err
		}
		return q.store.RecordEvent(ctx, &model.EmailEvent{
			CampaignID:   c.ID,
			TargetID:     ct.TargetID,
			EventType:    model.EventBounced,
			BounceReason: msg,
		})
	})
	if err != nil {
		return err
	}
	metrics.IncEmailSent("failed")
	q.logger.Error().Err(cause).
		Str(log.FieldEvent, "mail.failed").
		Str(log.FieldCampaignID, c.ID).
		Str(log.FieldTargetID, ct.TargetID).
		Int("attempts", e.RetryCount).
		Msg("delivery abandoned")

	if q.failures != nil && ct.Target != nil {
		if err := q.failures.EmailFailed(ctx, c, *ct.Target); err != nil {
			q.logger.Warn().Err(err).
				Str(log.FieldEvent, "mail.alert_failed").
				Str(log.FieldCampaignID, c.ID).
				Msg("failed email alert evaluation failed")
		}
	}
	return nil
}

// SendTest sends a test message through an organization SMTP configuration.
func (q *Queue) SendTest(ctx context.Context, cfg model.SMTPConfig, to string) (string, error) {
	password := ""
	if cfg.PasswordEnc != "" && q.box != nil {
		p, err := q.box.Open(cfg.PasswordEnc)
		if err != nil {
			return "", err
		}
		password = p
	}
	return q.dial(SettingsFromModel(cfg, password)).Send(ctx, Message{
		From:    cfg.FromEmail,
		To:      []string{to},
		Subject: "Lure SMTP test",
		Text:    fmt.Sprintf("This is a test message from the SMTP configuration %q.", cfg.Name),
	})
}
