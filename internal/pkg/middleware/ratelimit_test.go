package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ricesearch/rankeval/internal/config"
	apperrors "github.com/ricesearch/rankeval/internal/pkg/errors"
)

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.RequestsPerSecond != 100 {
		t.Errorf("expected RequestsPerSecond=100, got %f", cfg.RequestsPerSecond)
	}
	if cfg.Burst != 200 {
		t.Errorf("expected Burst=200, got %d", cfg.Burst)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("expected CleanupInterval=1m, got %v", cfg.CleanupInterval)
	}
	if cfg.IdleTTL != 5*time.Minute {
		t.Errorf("expected IdleTTL=5m, got %v", cfg.IdleTTL)
	}
}

func TestConfigFromSecurity(t *testing.T) {
	tests := []struct {
		name   string
		sec    config.SecurityConfig
		wantOK bool
		rps    float64
		burst  int
	}{
		{name: "disabled", sec: config.SecurityConfig{RateLimit: 0, Burst: 50}},
		{name: "enabled", sec: config.SecurityConfig{RateLimit: 20, Burst: 40}, wantOK: true, rps: 20, burst: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, ok := ConfigFromSecurity(tt.sec)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if cfg.RequestsPerSecond != tt.rps || cfg.Burst != tt.burst {
				t.Errorf("got %f/%d, want %f/%d", cfg.RequestsPerSecond, cfg.Burst, tt.rps, tt.burst)
			}
			if cfg.CleanupInterval != time.Minute {
				t.Errorf("expected default cleanup interval, got %v", cfg.CleanupInterval)
			}
		})
	}
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 10,
		Burst:             20,
	})
	defer rl.Stop()

	if rl.rate != 10 {
		t.Errorf("expected rate=10, got %f", rl.rate)
	}
	if rl.burst != 20 {
		t.Errorf("expected burst=20, got %d", rl.burst)
	}
	if rl.cleanup != time.Minute || rl.idleTTL != 5*time.Minute {
		t.Errorf("expected default intervals, got %v/%v", rl.cleanup, rl.idleTTL)
	}
	if rl.Clients() != 0 {
		t.Errorf("expected no clients, got %d", rl.Clients())
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 2,
		Burst:             2,
	})
	defer rl.Stop()

	clientIP := "192.168.1.100"

	// Burst
	if !rl.Allow(clientIP) {
		t.Error("expected first request to be allowed")
	}
	if !rl.Allow(clientIP) {
		t.Error("expected second request to be allowed")
	}
	if rl.Allow(clientIP) {
		t.Error("expected third request to be denied")
	}

	time.Sleep(600 * time.Millisecond)

	if !rl.Allow(clientIP) {
		t.Error("expected request to be allowed after waiting")
	}
}

func TestRateLimiter_MultipleClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 5,
		Burst:             5,
	})
	defer rl.Stop()

	client1 := "192.168.1.100"
	client2 := "192.168.1.101"

	for i := 0; i < 5; i++ {
		if !rl.Allow(client1) {
			t.Errorf("client1 request %d should be allowed", i)
		}
		if !rl.Allow(client2) {
			t.Errorf("client2 request %d should be allowed", i)
		}
	}

	if rl.Allow(client1) {
		t.Error("client1 should be rate limited")
	}
	if rl.Allow(client2) {
		t.Error("client2 should be rate limited")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 100,
		Burst:             100,
	})
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(clientNum int) {
			defer wg.Done()
			clientIP := "192.168.1." + strconv.Itoa(clientNum)
			for j := 0; j < 10; j++ {
				rl.Allow(clientIP)
			}
		}(i)
	}
	wg.Wait()

	if rl.Clients() != 10 {
		t.Errorf("expected 10 clients, got %d", rl.Clients())
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 0.5,
		Burst:             2,
	})
	defer rl.Stop()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/evaluation/mrr", nil)
		req.RemoteAddr = "192.168.1.100:12345"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluation/mrr", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After 2, got %q", got)
	}

	var resp apperrors.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if resp.Code != apperrors.CodeRateLimited {
		t.Errorf("expected code %s, got %s", apperrors.CodeRateLimited, resp.Code)
	}
	if resp.Details["retry_after"] != "2" {
		t.Errorf("expected retry_after detail 2, got %q", resp.Details["retry_after"])
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.168.1.100:12345", want: "192.168.1.100"},
		{
			name:       "x-forwarded-for",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"},
			want:       "203.0.113.1",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Real-IP": "203.0.113.50"},
			want:       "203.0.113.50",
		},
		{
			name:       "forwarded-for wins",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1", "X-Real-IP": "203.0.113.50"},
			want:       "203.0.113.1",
		},
		{name: "ipv6", remoteAddr: "[2001:db8::1]:12345", want: "[2001:db8::1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 100,
		Burst:             100,
		IdleTTL:           time.Minute,
	})
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow("192.168.1." + strconv.Itoa(i))
	}

	if n := rl.evictIdle(time.Now()); n != 0 {
		t.Errorf("expected no eviction of fresh clients, got %d", n)
	}
	if n := rl.evictIdle(time.Now().Add(2 * time.Minute)); n != 5 {
		t.Errorf("expected 5 evicted clients, got %d", n)
	}
	if rl.Clients() != 0 {
		t.Errorf("expected no clients left, got %d", rl.Clients())
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1,
		Burst:             1,
		CleanupInterval:   10 * time.Millisecond,
	})
	rl.Stop()
	rl.Stop()
}
