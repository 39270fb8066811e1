// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tracking

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/metrics"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
)

// ErrNotTracked is returned when the token is valid but the campaign does not
// accept the event (draft, disabled tracking or capture). Nothing is recorded,
// but Click, Submit and Report still return the page the recipient would see.
var ErrNotTracked = errors.New("tracking: event not tracked")

// Redacted replaces captured credential values.
const Redacted = "[redacted]"

var credentialHints = []string{"pass", "pwd", "secret", "pin", "otp", "token"}

// IsCredentialField reports whether a form field name looks like a secret.
func IsCredentialField(name string) bool {
	n := strings.ToLower(name)
	for _, h := range credentialHints {
		if strings.Contains(n, h) {
			return true
		}
	}
	return false
}

// Event describes one recorded engagement.
type Event struct {
	Campaign    model.Campaign
	Target      model.Target
	Type        string
	IP          string
	Credentials bool
}

// Observer is told about every recorded event. Alert evaluation hangs off it.
type Observer interface {
	TrackingEvent(ctx context.Context, ev Event) error
}

// Client identifies the browser that followed a link.
type Client struct {
	IP        string
	UserAgent string
}

// Page is what the recipient sees after a click, submit or report: either
// HTML to render or a redirect.
type Page struct {
	HTML     string
	Redirect string
}

// Empty reports whether p has nothing to show.
func (p Page) Empty() bool { return p.HTML == "" && p.Redirect == "" }

// Service resolves tokens and records events.
type Service struct {
	store    *store.Store
	signer   *Signer
	baseURL  string
	observer Observer
	logger   zerolog.Logger
}

// NewService returns a tracking Service. observer may be nil.
func NewService(st *store.Store, signer *Signer, baseURL string, observer Observer) *Service {
	return &Service{
		store:    st,
		signer:   signer,
		baseURL:  baseURL,
		observer: observer,
		logger:   log.WithComponent("tracking"),
	}
}

// Signer returns the token signer used for outgoing links.
func (s *Service) Signer() *Signer { return s.signer }

// BaseURL is the public origin tracking links point at.
func (s *Service) BaseURL() string { return s.baseURL }

type resolved struct {
	campaign model.Campaign
	ct       model.CampaignTarget
	links    Links
}

func (s *Service) resolve(ctx context.Context, token string) (resolved, error) {
	id, err := s.signer.Verify(token)
	if err != nil {
		return resolved{}, store.ErrNotFound
	}
	ct, err := s.store.GetCampaignTarget(ctx, id)
	if err != nil {
		return resolved{}, err
	}
	c, err := s.store.GetCampaignByID(ctx, ct.CampaignID)
	if err != nil {
		return resolved{}, err
	}
	r := resolved{campaign: c, ct: ct, links: s.signer.Links(s.baseURL, ct.ID)}
	if c.Status == model.CampaignDraft || c.Status == model.CampaignScheduled {
		return r, ErrNotTracked
	}
	return r, nil
}

func (s *Service) record(ctx context.Context, r *resolved, eventType string, cl Client, credentials bool, meta map[string]any) error {
	r.ct.IPAddress = cl.IP
	r.ct.UserAgent = cl.UserAgent
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.SaveCampaignTarget(ctx, &r.ct); err != nil {
			return err
		}
		return s.store.RecordEvent(ctx, &model.EmailEvent{
			CampaignID: r.campaign.ID,
			TargetID:   r.ct.TargetID,
			EventType:  eventType,
			IPAddress:  cl.IP,
			UserAgent:  cl.UserAgent,
			Metadata:   meta,
		})
	})
	if err != nil {
		return err
	}
	metrics.IncTrackingEvent(eventType)
	s.logger.Debug().
		Str(log.FieldEvent, "tracking."+eventType).
		Str(log.FieldCampaignID, r.campaign.ID).
		Str(log.FieldTargetID, r.ct.TargetID).
		Msg("tracking event recorded")

	if s.observer != nil {
		var target model.Target
		if r.ct.Target != nil {
			target = *r.ct.Target
		}
		ev := Event{Campaign: r.campaign, Target: target, Type: eventType, IP: cl.IP, Credentials: credentials}
		if err := s.observer.TrackingEvent(ctx, ev); err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldEvent, "tracking.observer_failed").
				Str(log.FieldCampaignID, r.campaign.ID).
				Msg("alert evaluation failed")
		}
	}
	return nil
}

// Open records an email open.
func (s *Service) Open(ctx context.Context, token string, cl Client) error {
	r, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}
	if !r.campaign.TrackOpens {
		return ErrNotTracked
	}
	now := s.store.Now()
	if r.ct.EmailOpenedAt == nil {
		r.ct.EmailOpenedAt = &now
	}
	r.ct.Status = model.AdvanceStatus(r.ct.Status, model.TargetOpened)
	return s.record(ctx, &r, model.EventOpened, cl, false, nil)
}

// Click records a link click and returns the landing page.
func (s *Service) Click(ctx context.Context, token string, cl Client) (Page, error) {
	r, err := s.resolve(ctx, token)
	if err != nil && !errors.Is(err, ErrNotTracked) {
		return Page{}, err
	}
	tracked := err == nil
	if tracked {
		now := s.store.Now()
		if r.ct.LinkClickedAt == nil {
			r.ct.LinkClickedAt = &now
		}
		if r.ct.EmailOpenedAt == nil {
			r.ct.EmailOpenedAt = &now
		}
		r.ct.Status = model.AdvanceStatus(r.ct.Status, model.TargetClicked)
		if err := s.record(ctx, &r, model.EventClicked, cl, false, nil); err != nil {
			return Page{}, err
		}
	}

	page, err := s.landingPage(ctx, r)
	if err != nil {
		return Page{}, err
	}
	return page, untracked(tracked)
}

func (s *Service) landingPage(ctx context.Context, r resolved) (Page, error) {
	if r.campaign.LandingPageID == "" {
		return s.awareness(ctx, r, "")
	}
	lp, err := s.store.GetLandingPageByID(ctx, r.campaign.LandingPageID)
	if err != nil {
		return Page{}, err
	}
	body, err := renderLanding(lp.HTMLContent, lp.CSSContent, r.links.Submit)
	if err != nil {
		return Page{}, err
	}
	return Page{HTML: body}, nil
}

func untracked(tracked bool) error {
	if tracked {
		return nil
	}
	return ErrNotTracked
}

// Submit records posted form data and returns the follow-up page.
func (s *Service) Submit(ctx context.Context, token string, cl Client, form url.Values) (Page, error) {
	r, err := s.resolve(ctx, token)
	if err != nil && !errors.Is(err, ErrNotTracked) {
		return Page{}, err
	}
	c := r.campaign
	tracked := err == nil && (c.CaptureData || c.CaptureCredentials)
	if tracked {
		data, credentials := captureForm(form, c.CaptureData, c.CaptureCredentials)
		now := s.store.Now()
		if r.ct.DataSubmittedAt == nil {
			r.ct.DataSubmittedAt = &now
		}
		if r.ct.LinkClickedAt == nil {
			r.ct.LinkClickedAt = &now
		}
		if r.ct.EmailOpenedAt == nil {
			r.ct.EmailOpenedAt = &now
		}
		// the store merges these keys into what was captured before
		r.ct.SubmittedData = data
		r.ct.Status = model.AdvanceStatus(r.ct.Status, model.TargetSubmitted)
		meta := map[string]any{"fields": sortedKeys(form), "credentials": credentials}
		if err := s.record(ctx, &r, model.EventSubmitted, cl, credentials, meta); err != nil {
			return Page{}, err
		}
	}

	page, err := s.followUpPage(ctx, r)
	if err != nil {
		return Page{}, err
	}
	return page, untracked(tracked)
}

func (s *Service) followUpPage(ctx context.Context, r resolved) (Page, error) {
	if r.campaign.LandingPageID == "" {
		return s.awareness(ctx, r, "")
	}
	lp, err := s.store.GetLandingPageByID(ctx, r.campaign.LandingPageID)
	if err != nil {
		return Page{}, err
	}
	if lp.ShowAwarenessMessage || lp.RedirectURL == "" {
		return s.awareness(ctx, r, lp.AwarenessMessage)
	}
	return Page{Redirect: lp.RedirectURL}, nil
}

// Report records that the recipient reported the email as phishing.
func (s *Service) Report(ctx context.Context, token string, cl Client) (Page, error) {
	r, err := s.resolve(ctx, token)
	if err != nil && !errors.Is(err, ErrNotTracked) {
		return Page{}, err
	}
	tracked := err == nil
	if tracked {
		now := s.store.Now()
		if r.ct.ReportedAt == nil {
			r.ct.ReportedAt = &now
		}
		r.ct.Status = model.AdvanceStatus(r.ct.Status, model.TargetReported)
		if err := s.record(ctx, &r, model.EventReported, cl, false, nil); err != nil {
			return Page{}, err
		}
	}
	body, err := renderAwareness("Thank you for reporting",
		"You correctly reported a simulated phishing email. Reporting suspicious messages is the best thing you can do to protect your organization.", "")
	if err != nil {
		return Page{}, err
	}
	return Page{HTML: body}, untracked(tracked)
}

func (s *Service) awareness(_ context.Context, r resolved, message string) (Page, error) {
	report := r.links.Report
	if r.ct.Status == model.TargetReported {
		report = ""
	}
	body, err := renderAwareness("This was a phishing simulation", message, report)
	if err != nil {
		return Page{}, err
	}
	return Page{HTML: body}, nil
}

// captureForm keeps the fields allowed by the capture flags. Credential
// values are never stored verbatim.
func captureForm(form url.Values, captureData, captureCredentials bool) (map[string]any, bool) {
	out := make(map[string]any)
	credentials := false
	for k, vs := range form {
		if IsCredentialField(k) {
			if captureCredentials {
				out[k] = Redacted
				credentials = true
			}
			continue
		}
		if captureData {
			out[k] = strings.Join(vs, ",")
		}
	}
	return out, credentials
}

func sortedKeys(form url.Values) []string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
