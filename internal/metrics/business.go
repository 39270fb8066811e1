// SPDX-License-Identifier: MIT

// Package metrics exposes lure's Prometheus business metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	emailsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_emails_sent_total",
		Help: "Simulation emails handed to a transport, by result",
	}, []string{"result"}) // result=sent|retry|failed

	trackingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_tracking_events_total",
		Help: "Recipient tracking events by type",
	}, []string{"type"}) // type=opened|clicked|submitted|reported

	campaignTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_campaign_transitions_total",
		Help: "Campaign state machine transitions by action and outcome",
	}, []string{"action", "outcome"}) // outcome=ok|rejected

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_notifications_total",
		Help: "Notifications created by type",
	}, []string{"type"})

	notificationEmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_notification_emails_total",
		Help: "Notification and digest emails by kind and result",
	}, []string{"kind", "result"}) // kind=realtime|digest|report

	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_job_runs_total",
		Help: "Background job runs by job and outcome",
	}, []string{"job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lure_job_duration_seconds",
		Help:    "Background job run duration",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
	}, []string{"job"})

	authAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_auth_attempts_total",
		Help: "Authentication attempts by kind and result",
	}, []string{"kind", "result"}) // kind=login|refresh|verify|logout

	rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_rate_limit_rejections_total",
		Help: "Requests rejected by a rate limiter",
	}, []string{"scope"}) // scope=api|tracking

	websocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lure_websocket_connections",
		Help: "Open notification websocket connections",
	})

	targetsImportedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_targets_imported_total",
		Help: "Bulk import rows by outcome",
	}, []string{"outcome"}) // outcome=created|rejected

	brokerDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_notify_broker_drops_total",
		Help: "Realtime notification frames dropped before reaching a subscriber",
	}, []string{"broker", "reason"}) // reason=full|closed|error

	reportsGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_reports_generated_total",
		Help: "Scheduled report exports by outcome",
	}, []string{"outcome"})

	invoicesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lure_invoices_issued_total",
		Help: "Invoices issued by the billing job",
	})

	configReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lure_config_reloads_total",
		Help: "Configuration reload attempts by outcome",
	}, []string{"outcome"})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func IncEmailSent(result string)         { emailsSentTotal.WithLabelValues(result).Inc() }
func IncTrackingEvent(kind string)       { trackingEventsTotal.WithLabelValues(kind).Inc() }
func IncNotification(kind string)        { notificationsTotal.WithLabelValues(kind).Inc() }
func IncRateLimitRejection(scope string) { rateLimitRejections.WithLabelValues(scope).Inc() }
func IncInvoiceIssued()                  { invoicesIssuedTotal.Inc() }

// IncCampaignTransition records one state machine attempt.
func IncCampaignTransition(action string, ok bool) {
	o := "ok"
	if !ok {
		o = "rejected"
	}
	campaignTransitionsTotal.WithLabelValues(action, o).Inc()
}

// IncNotificationEmail records a notification email attempt.
func IncNotificationEmail(kind string, err error) {
	notificationEmailsTotal.WithLabelValues(kind, outcome(err)).Inc()
}

// RecordJobRun records the outcome and duration of one job run.
func RecordJobRun(job string, d time.Duration, err error) {
	jobRunsTotal.WithLabelValues(job, outcome(err)).Inc()
	jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// IncAuthAttempt records an authentication attempt; result is ok or a short reason.
func IncAuthAttempt(kind, result string) { authAttemptsTotal.WithLabelValues(kind, result).Inc() }

// WebsocketOpened and WebsocketClosed track live notification sockets.
func WebsocketOpened() { websocketConnections.Inc() }
func WebsocketClosed() { websocketConnections.Dec() }

// IncBrokerDrop counts a realtime frame that was not delivered.
func IncBrokerDrop(broker, reason string) { brokerDropsTotal.WithLabelValues(broker, reason).Inc() }

// RecordImport records the rows of one bulk import.
func RecordImport(created, rejected int) {
	targetsImportedTotal.WithLabelValues("created").Add(float64(created))
	targetsImportedTotal.WithLabelValues("rejected").Add(float64(rejected))
}

func RecordReportGenerated(err error) { reportsGeneratedTotal.WithLabelValues(outcome(err)).Inc() }
func RecordConfigReload(err error)    { configReloadsTotal.WithLabelValues(outcome(err)).Inc() }
