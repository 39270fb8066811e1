// SPDX-License-Identifier: MIT

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func toMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestHTTPAttributes(t *testing.T) {
	m := toMap(HTTPAttributes("POST", "/api/v1/campaigns", 201))
	assert.Equal(t, "POST", m[HTTPMethodKey].AsString())
	assert.Equal(t, "/api/v1/campaigns", m[HTTPRouteKey].AsString())
	assert.Equal(t, int64(201), m[HTTPStatusCodeKey].AsInt64())
}

func TestJobAttributes(t *testing.T) {
	m := toMap(JobAttributes("send", "success", 12, 340))
	assert.Equal(t, "send", m[JobNameKey].AsString())
	assert.Equal(t, "success", m[JobStatusKey].AsString())
	assert.Equal(t, int64(12), m[JobItemsKey].AsInt64())
	assert.Equal(t, int64(340), m[JobDurationKey].AsInt64())
}

func TestCampaignAttributes(t *testing.T) {
	m := toMap(CampaignAttributes("org-1", "cmp-1"))
	assert.Equal(t, "org-1", m[OrgIDKey].AsString())
	assert.Equal(t, "cmp-1", m[CampaignIDKey].AsString())
}

func TestErrorAttributes(t *testing.T) {
	m := toMap(ErrorAttributes("smtp"))
	assert.True(t, m[ErrorKey].AsBool())
	assert.Equal(t, "smtp", m[ErrorTypeKey].AsString())
}
