// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/mailer"
	"github.com/ManuGH/lure/internal/metrics"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/notify"
	"github.com/ManuGH/lure/internal/store"
)

// Notifier delivers the report_ready notification.
type Notifier interface {
	Notify(ctx context.Context, req notify.Request) (model.Notification, bool, error)
}

// Generator produces scheduled report exports.
type Generator struct {
	store    *store.Store
	reports  *Service
	mail     mailer.Sender
	notifier Notifier
	dir      string
	logger   zerolog.Logger
}

// NewGenerator writes exports below dir. mail and n may be nil.
func NewGenerator(st *store.Store, svc *Service, mail mailer.Sender, n Notifier, dir string) *Generator {
	return &Generator{
		store:    st,
		reports:  svc,
		mail:     mail,
		notifier: n,
		dir:      dir,
		logger:   log.WithComponent("reports.export"),
	}
}

// RunDue generates every active scheduled report whose next run has passed.
func (g *Generator) RunDue(ctx context.Context) (int, error) {
	due, err := g.store.DueScheduledReports(ctx, g.store.Now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sr := range due {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := g.Generate(ctx, sr); err != nil {
			g.logger.Error().Err(err).
				Str(log.FieldEvent, "reports.generate_failed").
				Str(log.FieldReportID, sr.ID).
				Str(log.FieldOrgID, sr.OrganizationID).
				Msg("scheduled report failed")
			continue
		}
		n++
	}
	return n, nil
}

// Generate writes the export of sr, mails it to the recipients, advances the
// schedule and notifies the creator. It returns the updated report.
func (g *Generator) Generate(ctx context.Context, sr model.ScheduledReport) (model.ScheduledReport, error) {
	data, err := g.build(ctx, sr)
	if err == nil {
		var path string
		path, err = g.write(sr, data)
		if err == nil {
			sr, err = g.finish(ctx, sr, path, data)
		}
	}
	metrics.RecordReportGenerated(err)
	return sr, err
}

func (g *Generator) build(ctx context.Context, sr model.ScheduledReport) ([]byte, error) {
	ids := sr.IncludeCampaigns
	if len(ids) == 0 {
		var err error
		if ids, err = g.store.ReportableCampaigns(ctx, sr.OrganizationID); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	var err error
	if sr.ReportType == "department_breakdown" {
		err = g.writeDepartments(ctx, w, ids)
	} else {
		err = g.writeCampaigns(ctx, w, sr.ReportType, ids)
	}
	if err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

type column struct {
	name  string
	value func(model.CampaignReport) string
}

func itoa(v int) string { return strconv.Itoa(v) }

func pct(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

var (
	colCampaign = column{"campaign", func(r model.CampaignReport) string { return r.CampaignName }}
	colStatus   = column{"status", func(r model.CampaignReport) string { return r.CampaignStatus }}
	colSent     = column{"emails_sent", func(r model.CampaignReport) string { return itoa(r.EmailsSent) }}
	colOpenRate = column{"open_rate", func(r model.CampaignReport) string { return pct(r.OpenRate) }}
	colClick    = column{"click_rate", func(r model.CampaignReport) string { return pct(r.ClickRate) }}
	colSuscept  = column{"susceptibility_rate", func(r model.CampaignReport) string { return pct(r.SusceptibilityRate) }}
	colAware    = column{"awareness_rate", func(r model.CampaignReport) string { return pct(r.AwarenessRate) }}
)

// columnsFor selects the campaign columns of a report type.
func columnsFor(reportType string) []column {
	switch reportType {
	case "security_metrics":
		return []column{
			colCampaign, colSent,
			{"emails_clicked", func(r model.CampaignReport) string { return itoa(r.EmailsClicked) }},
			{"credentials_captured", func(r model.CampaignReport) string { return itoa(r.CredentialsCaptured) }},
			{"data_submitted", func(r model.CampaignReport) string { return itoa(r.DataSubmitted) }},
			{"emails_reported", func(r model.CampaignReport) string { return itoa(r.EmailsReported) }},
			colSuscept, colAware,
		}
	case "executive_summary", "trend_analysis":
		return []column{colCampaign, colStatus, colSent, colOpenRate, colClick, colSuscept, colAware}
	default:
		return []column{
			colCampaign, colStatus,
			{"total_emails", func(r model.CampaignReport) string { return itoa(r.TotalEmails) }},
			colSent,
			{"emails_delivered", func(r model.CampaignReport) string { return itoa(r.EmailsDelivered) }},
			{"emails_bounced", func(r model.CampaignReport) string { return itoa(r.EmailsBounced) }},
			{"emails_opened", func(r model.CampaignReport) string { return itoa(r.EmailsOpened) }},
			{"emails_clicked", func(r model.CampaignReport) string { return itoa(r.EmailsClicked) }},
			{"page_visits", func(r model.CampaignReport) string { return itoa(r.PageVisits) }},
			{"credentials_captured", func(r model.CampaignReport) string { return itoa(r.CredentialsCaptured) }},
			{"data_submitted", func(r model.CampaignReport) string { return itoa(r.DataSubmitted) }},
			{"emails_reported", func(r model.CampaignReport) string { return itoa(r.EmailsReported) }},
			{"delivery_rate", func(r model.CampaignReport) string { return pct(r.DeliveryRate) }},
			colOpenRate, colClick, colSuscept, colAware,
			{"click_through_rate", func(r model.CampaignReport) string { return pct(r.ClickThroughRate) }},
		}
	}
}

func (g *Generator) writeCampaigns(ctx context.Context, w *csv.Writer, reportType string, ids []string) error {
	cols := columnsFor(reportType)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.name
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, id := range ids {
		r, err := g.reports.RefreshCampaign(ctx, id)
		if err != nil {
			return fmt.Errorf("campaign %s: %w", id, err)
		}
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = c.value(r)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) writeDepartments(ctx context.Context, w *csv.Writer, ids []string) error {
	if err := w.Write([]string{
		"campaign", "department", "total_employees", "emails_sent", "emails_opened", "links_clicked",
		"data_submitted", "emails_reported", "risk_score", "improvement_percentage",
	}); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := g.reports.RefreshCampaign(ctx, id); err != nil {
			return fmt.Errorf("campaign %s: %w", id, err)
		}
		depts, err := g.store.DepartmentReportsForCampaign(ctx, id)
		if err != nil {
			return err
		}
		for _, d := range depts {
			if err := w.Write([]string{
				d.CampaignName, d.Department, itoa(d.TotalEmployees), itoa(d.EmailsSent), itoa(d.EmailsOpened),
				itoa(d.LinksClicked), itoa(d.DataSubmitted), itoa(d.EmailsReported), pct(d.RiskScore),
				pct(d.ImprovementPercentage),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

var slugFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// letters that do not decompose into an ASCII base
var slugLetters = strings.NewReplacer("ß", "ss", "æ", "ae", "œ", "oe", "ø", "o", "đ", "d", "ł", "l", "þ", "th")

// Slug turns a report name into a file name fragment.
func Slug(name string) string {
	lower := slugLetters.Replace(strings.ToLower(name))
	folded, _, err := transform.String(slugFold, lower)
	if err != nil {
		folded = lower
	}
	var b strings.Builder
	dash := false
	for _, r := range folded {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "report"
	}
	return s
}

func (g *Generator) write(sr model.ScheduledReport, data []byte) (string, error) {
	dir := filepath.Join(g.dir, sr.OrganizationID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.csv", Slug(sr.Name), g.store.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(dir, name)

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o640))
	if err != nil {
		return "", fmt.Errorf("create pending export: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			g.logger.Debug().Err(err).Str(log.FieldEvent, "reports.cleanup").Msg("cleanup pending export")
		}
	}()
	if _, err := pending.Write(data); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("replace export: %w", err)
	}
	return path, nil
}

func (g *Generator) finish(ctx context.Context, sr model.ScheduledReport, path string, data []byte) (model.ScheduledReport, error) {
	now := g.store.Now()
	if g.mail != nil && len(sr.Recipients) > 0 {
		_, err := g.mail.Send(ctx, mailer.Message{
			FromName: "Lure",
			To:       sr.Recipients,
			Subject:  "[Lure] Scheduled report: " + sr.Name,
			Text: fmt.Sprintf("Attached is the %s report %q generated at %s.\n",
				strings.ReplaceAll(sr.ReportType, "_", " "), sr.Name, now.UTC().Format("2006-01-02 15:04 MST")),
			Attachments: []mailer.Attachment{{Name: filepath.Base(path), ContentType: "text/csv", Data: data}},
		})
		metrics.IncNotificationEmail("report", err)
		if err != nil {
			g.logger.Warn().Err(err).
				Str(log.FieldEvent, "reports.mail_failed").
				Str(log.FieldReportID, sr.ID).
				Msg("report email failed")
		}
	}

	sr.LastRun = &now
	sr.LastFile = path
	sr.NextRun = model.NextRunAfter(sr.Frequency, sr.NextRun, now)
	links := sr.IncludeCampaigns
	sr.IncludeCampaigns = nil
	err := g.store.UpdateScheduledReport(ctx, &sr)
	sr.IncludeCampaigns = links
	if err != nil {
		return sr, err
	}
	g.logger.Info().
		Str(log.FieldEvent, "reports.generated").
		Str(log.FieldReportID, sr.ID).
		Str(log.FieldOrgID, sr.OrganizationID).
		Str("file", path).
		Time("next_run", sr.NextRun).
		Msg("scheduled report generated")

	if g.notifier != nil && sr.CreatedBy != "" {
		_, _, err := g.notifier.Notify(ctx, notify.Request{
			RecipientID: sr.CreatedBy,
			Type:        model.NotifyReportReady,
			Priority:    model.PriorityLow,
			Title:       "Scheduled report ready",
			Message:     fmt.Sprintf("Your scheduled report %q is ready.", sr.Name),
			ActionURL:   "/reports/scheduled/" + sr.ID,
			ActionLabel: "View report",
		})
		if err != nil {
			g.logger.Warn().Err(err).Str(log.FieldEvent, "reports.notify_failed").Str(log.FieldReportID, sr.ID).Msg("report notification failed")
		}
	}
	return sr, nil
}
