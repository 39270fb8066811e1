// SPDX-License-Identifier: MIT

package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterGlobal(t *testing.T) {
	limiter := New(Config{
		Scope:       "test",
		GlobalRate:  10,
		GlobalBurst: 20,
		PerIPRate:   100,
		PerIPBurst:  200,
		IdleTTL:     time.Minute,
	})

	// First 20 should pass (burst)
	allowed := 0
	for i := 0; i < 25; i++ {
		if limiter.Allow(fmt.Sprintf("192.168.1.%d", i)) {
			allowed++
		}
	}

	if allowed < 19 || allowed > 21 {
		t.Errorf("expected ~20 requests to pass with burst=20, got %d", allowed)
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	limiter := New(Config{
		Scope:       "test",
		GlobalRate:  100,
		GlobalBurst: 200,
		PerIPRate:   5,
		PerIPBurst:  10,
		IdleTTL:     time.Minute,
	})

	// Each IP gets 5 req/s with burst 10
	allowed := 0
	for i := 0; i < 20; i++ {
		if limiter.Allow("192.168.1.3") {
			allowed++
		}
	}
	if allowed < 9 || allowed > 11 {
		t.Errorf("expected ~10 per-IP requests to pass with burst=10, got %d", allowed)
	}

	// Different IP should have its own bucket
	allowed2 := 0
	for i := 0; i < 20; i++ {
		if limiter.Allow("192.168.1.4") {
			allowed2++
		}
	}
	if allowed2 < 9 || allowed2 > 11 {
		t.Errorf("expected ~10 requests for second IP, got %d", allowed2)
	}
}

func TestClientIP(t *testing.T) {
	require.NoError(t, TrustProxies([]string{"192.168.0.0/16", "127.0.0.1"}))
	t.Cleanup(func() { _ = TrustProxies(nil) })

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "X-Forwarded-For single IP",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.1",
		},
		{
			name:       "X-Forwarded-For multiple IPs",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 192.168.1.1, 10.0.0.1"},
			remoteAddr: "127.0.0.1:12345",
			want:       "203.0.113.1",
		},
		{
			name:       "X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.2"},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.2",
		},
		{
			name:       "Fallback to RemoteAddr",
			headers:    map[string]string{},
			remoteAddr: "192.168.1.100:54321",
			want:       "192.168.1.100",
		},
		{
			name:       "untrusted peer ignores headers",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9"},
			remoteAddr: "10.0.0.7:4000",
			want:       "10.0.0.7",
		},
		{
			name:       "X-Forwarded-For with spaces",
			headers:    map[string]string{"X-Forwarded-For": "  203.0.113.5  "},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			req.RemoteAddr = tt.remoteAddr

			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := New(Config{
		Scope:       "test",
		GlobalRate:  100,
		GlobalBurst: 200,
		PerIPRate:   10,
		PerIPBurst:  20,
		IdleTTL:     time.Minute,
	})
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	limiter.lastCleanup = now

	for i := 0; i < 10; i++ {
		limiter.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	if got := limiter.Tracked(); got != 10 {
		t.Fatalf("expected 10 IP limiters, got %d", got)
	}

	now = now.Add(30 * time.Second)
	limiter.Allow("10.0.0.1")
	if got := limiter.Tracked(); got != 10 {
		t.Errorf("cleanup ran early: %d limiters", got)
	}

	// 10.0.0.1 was seen 40s ago, the rest 70s ago.
	now = now.Add(40 * time.Second)
	limiter.Allow("10.0.1.1")
	if got := limiter.Tracked(); got != 2 {
		t.Errorf("expected 2 IP limiters after cleanup, got %d", got)
	}
}

func TestMiddlewareRejects(t *testing.T) {
	limiter := New(Config{Scope: "test", GlobalRate: 100, GlobalBurst: 100, PerIPRate: 0.001, PerIPBurst: 1})
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/t/o/x", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func BenchmarkRateLimiterAllow(b *testing.B) {
	limiter := New(DefaultConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow("192.168.1.1")
	}
}

func BenchmarkClientIP(b *testing.B) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.1, 192.168.1.1")
	req.RemoteAddr = "192.168.1.100:54321"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ClientIP(req)
	}
}

func TestTrustProxiesRejectsGarbage(t *testing.T) {
	require.Error(t, TrustProxies([]string{"not-a-cidr"}))
}
