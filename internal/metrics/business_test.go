// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromhttpExposure(t *testing.T) {
	IncEmailSent("sent")
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "lure_emails_sent_total"))
}

func TestCampaignTransitionOutcome(t *testing.T) {
	before := testutil.ToFloat64(campaignTransitionsTotal.WithLabelValues("start", "rejected"))
	IncCampaignTransition("start", false)
	IncCampaignTransition("start", true)
	assert.Equal(t, before+1, testutil.ToFloat64(campaignTransitionsTotal.WithLabelValues("start", "rejected")))
}

func TestRecordJobRun(t *testing.T) {
	before := testutil.ToFloat64(jobRunsTotal.WithLabelValues("send", "error"))
	RecordJobRun("send", 20*time.Millisecond, errors.New("smtp down"))
	RecordJobRun("send", 20*time.Millisecond, nil)
	assert.Equal(t, before+1, testutil.ToFloat64(jobRunsTotal.WithLabelValues("send", "error")))
}

func TestRecordImport(t *testing.T) {
	created := testutil.ToFloat64(targetsImportedTotal.WithLabelValues("created"))
	RecordImport(3, 2)
	assert.Equal(t, created+3, testutil.ToFloat64(targetsImportedTotal.WithLabelValues("created")))
}

func TestWebsocketGauge(t *testing.T) {
	before := testutil.ToFloat64(websocketConnections)
	WebsocketOpened()
	WebsocketOpened()
	WebsocketClosed()
	assert.Equal(t, before+1, testutil.ToFloat64(websocketConnections))
}
