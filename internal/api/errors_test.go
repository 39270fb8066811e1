// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lure/internal/billing"
	"github.com/ManuGH/lure/internal/campaign"
	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/store"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
		wantMsg  string
	}{
		{"not found", fmt.Errorf("get target: %w", store.ErrNotFound), http.StatusNotFound, "not_found", "Not found."},
		{"conflict", store.ErrConflict, http.StatusConflict, "conflict", ""},
		{"field errors", fieldErrors{"email": {"This field is required."}}, http.StatusBadRequest, "validation_error", ""},
		{"plan limit", &billing.LimitError{Resource: "landing_pages", Limit: 3, Current: 3, Adding: 1},
			http.StatusForbidden, "plan_limit_exceeded", "Plan limit reached: your subscription allows 3 landing pages."},
		{"transition", &campaign.TransitionError{Action: campaign.ActionPause, From: "draft", Message: "Only running campaigns can be paused"},
			http.StatusBadRequest, "bad_request", "Only running campaigns can be paused"},
		{"api error", permissionDenied("nope"), http.StatusForbidden, "permission_denied", "nope"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/x", nil)
			req = req.WithContext(log.ContextWithRequestID(req.Context(), "req-1"))
			w := httptest.NewRecorder()
			writeServiceError(w, req, tt.err)

			assert.Equal(t, tt.wantCode, w.Code)
			var body errorEnvelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantErr, body.Error.Code)
			assert.Equal(t, "req-1", body.RequestID)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body.Error.Message)
			}
		})
	}
}

func TestRespondErrorSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	respondError(w, httptest.NewRequest(http.MethodGet, "/", nil), ErrRateLimited)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}
