package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, rps float64, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: rps, Burst: burst, CleanupInterval: time.Hour})
	t.Cleanup(rl.Stop)
	return rl
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 10})
	defer rl.Stop()

	if rl.burst != 1 {
		t.Errorf("burst = %d, want 1", rl.burst)
	}
	if rl.idleTTL != 5*time.Minute {
		t.Errorf("idleTTL = %v, want 5m", rl.idleTTL)
	}
	if rl.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", rl.Clients())
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := newTestLimiter(t, 2, 2)
	ip := "192.168.1.100"

	if !rl.Allow(ip) || !rl.Allow(ip) {
		t.Fatal("burst requests should be allowed")
	}
	if rl.Allow(ip) {
		t.Error("third request should be denied")
	}

	time.Sleep(600 * time.Millisecond)
	if !rl.Allow(ip) {
		t.Error("request should be allowed after refill")
	}
}

func TestRateLimiter_MultipleClients(t *testing.T) {
	rl := newTestLimiter(t, 5, 5)

	for i := 0; i < 5; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Errorf("client1 request %d should be allowed", i)
		}
		if !rl.Allow("10.0.0.2") {
			t.Errorf("client2 request %d should be allowed", i)
		}
	}
	if rl.Allow("10.0.0.1") || rl.Allow("10.0.0.2") {
		t.Error("both clients should be limited")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := newTestLimiter(t, 100, 100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ip := fmt.Sprintf("192.168.1.%d", n)
			for j := 0; j < 10; j++ {
				rl.Allow(ip)
			}
		}(i)
	}
	wg.Wait()

	if rl.Clients() != 10 {
		t.Errorf("Clients() = %d, want 10", rl.Clients())
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := newTestLimiter(t, 2, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
		req.RemoteAddr = "192.168.1.100:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := do(); w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, w.Code)
		}
	}
	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"remote addr", "192.168.1.100:12345", nil, "192.168.1.100"},
		{"forwarded for", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"}, "203.0.113.1"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.50"}, "203.0.113.50"},
		{"forwarded for wins", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.1", "X-Real-IP": "203.0.113.50"}, "203.0.113.1"},
		{"ipv6", "[2001:db8::1]:12345", nil, "2001:db8::1"},
		{"no port", "unix", nil, "unix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := newTestLimiter(t, 100, 100)
	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("192.168.1.%d", i))
	}

	rl.sweep(time.Now())
	if rl.Clients() != 5 {
		t.Errorf("fresh clients swept: Clients() = %d, want 5", rl.Clients())
	}

	rl.sweep(time.Now().Add(10 * time.Minute))
	if rl.Clients() != 0 {
		t.Errorf("idle clients kept: Clients() = %d, want 0", rl.Clients())
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}
