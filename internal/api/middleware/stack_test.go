// SPDX-License-Identifier: MIT

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lure/internal/log"
)

func TestStackHeaders(t *testing.T) {
	r := NewRouter(StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        []string{"https://app.example.com"},
		EnableSecurityHeaders: true,
	})
	r.Get("/x", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(log.RequestIDFromContext(r.Context())))
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(HeaderRequestID)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, w.Body.String())
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, DefaultCSP, w.Header().Get("Content-Security-Policy"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler())

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/campaigns/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.net")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://anything.example")
		w := httptest.NewRecorder()
		CORS([]string{"*"})(okHandler()).ServeHTTP(w, req)
		assert.Equal(t, "https://anything.example", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRequestIDKeepsWellFormedInbound(t *testing.T) {
	h := RequestID(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "bad id\nwith newline")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.NotEqual(t, "bad id\nwith newline", w.Header().Get(HeaderRequestID))
	assert.Len(t, w.Header().Get(HeaderRequestID), 36)
}

func TestRecovererReturnsJSON(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"error":{"code":"internal_error","message":"An unexpected error occurred. Please try again later.","details":null},"request_id":""}`, w.Body.String())
}

func TestAccessLogRecordsRouteAndUser(t *testing.T) {
	var buf bytes.Buffer
	log.Configure(log.Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { log.Configure(log.Config{Level: "info"}) })

	r := chi.NewRouter()
	r.Use(AccessLog)
	r.Get("/api/v1/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		SetUser(r.Context(), "user-1")
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/42", nil))

	out := buf.String()
	assert.Contains(t, out, `"event":"http.request"`)
	assert.Contains(t, out, `"route":"/api/v1/campaigns/{id}"`)
	assert.Contains(t, out, `"user_id":"user-1"`)
	assert.Contains(t, out, `"status":404`)
	assert.Contains(t, out, `"level":"`+zerolog.WarnLevel.String()+`"`)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/t/o/{id}", normalizePath("/t/o/eyJhbGciOiJIUzI1NiJ9.abcdefghijk"))
	assert.Equal(t, "/api/v1/targets/{id}/", normalizePath("/api/v1/targets/6f1c7d2e-8f0a-4f3b-9c1e-2d4a5b6c7d8e/"))
	assert.Equal(t, "/api/v1/targets/", normalizePath("/api/v1/targets/"))
}
