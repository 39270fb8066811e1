// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	OrgIDKey      = "lure.org_id"
	CampaignIDKey = "lure.campaign_id"

	JobNameKey     = "job.name"
	JobStatusKey   = "job.status"
	JobItemsKey    = "job.items"
	JobDurationKey = "job.duration_ms"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes describes one served request.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// JobAttributes describes one background job run.
func JobAttributes(name, status string, items int, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobNameKey, name),
		attribute.String(JobStatusKey, status),
		attribute.Int(JobItemsKey, items),
		attribute.Int64(JobDurationKey, durationMS),
	}
}

// CampaignAttributes identifies the campaign a span works on.
func CampaignAttributes(orgID, campaignID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(OrgIDKey, orgID),
		attribute.String(CampaignIDKey, campaignID),
	}
}

// ErrorAttributes classifies a failure.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
