package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edupolicy/policychat-go/internal/logging"
)

func Test_RateLimit_BurstExhaustionReturns429(t *testing.T) {
	t.Parallel()
	rl, stop := newRateLimiter(1, 2, logging.New())
	t.Cleanup(stop)

	handler := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var got []int
	for range 4 {
		req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		got = append(got, rec.Code)
	}

	if got[0] != http.StatusOK || got[1] != http.StatusOK {
		t.Errorf("burst requests rejected: %v", got)
	}
	if got[2] != http.StatusTooManyRequests || got[3] != http.StatusTooManyRequests {
		t.Errorf("over-limit requests not rejected: %v", got)
	}
}

func Test_RateLimit_PerIPIsolation(t *testing.T) {
	t.Parallel()
	rl, stop := newRateLimiter(1, 1, logging.New())
	t.Cleanup(stop)

	handler := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Exhaust IP A.
	reqA := httptest.NewRequest(http.MethodGet, "/", nil)
	reqA.RemoteAddr = "10.0.0.1:1"
	handler.ServeHTTP(httptest.NewRecorder(), reqA)

	reqA2 := httptest.NewRequest(http.MethodGet, "/", nil)
	reqA2.RemoteAddr = "10.0.0.1:2"
	recA2 := httptest.NewRecorder()
	handler.ServeHTTP(recA2, reqA2)
	if recA2.Code != http.StatusTooManyRequests {
		t.Errorf("IP A second request = %d, want 429", recA2.Code)
	}

	// IP B is unaffected.
	reqB := httptest.NewRequest(http.MethodGet, "/", nil)
	reqB.RemoteAddr = "10.0.0.2:1"
	recB := httptest.NewRecorder()
	handler.ServeHTTP(recB, reqB)
	if recB.Code != http.StatusOK {
		t.Errorf("IP B request = %d, want 200", recB.Code)
	}
}

func Test_RateLimit_RetryAfterHeader(t *testing.T) {
	t.Parallel()
	rl, stop := newRateLimiter(1, 1, logging.New())
	t.Cleanup(stop)

	handler := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.3:1"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
}

func Test_ClientIP(t *testing.T) {
	t.Parallel()
	cases := []struct {
		addr string
		want string
	}{
		{"10.0.0.1:1234", "10.0.0.1"},
		{"[::1]:8080", "[::1]"},
		{"bare-host", "bare-host"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.addr
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.addr, got, tc.want)
		}
	}
}

func Test_RateLimit_Eviction(t *testing.T) {
	t.Parallel()
	rl, stop := newRateLimiter(1, 1, logging.New())
	t.Cleanup(stop)

	rl.getLimiter("10.0.0.9")
	rl.mu.Lock()
	rl.limiters["10.0.0.9"].lastSeen = rl.limiters["10.0.0.9"].lastSeen.Add(-10 * time.Minute)
	rl.mu.Unlock()

	rl.evict()

	rl.mu.Lock()
	_, ok := rl.limiters["10.0.0.9"]
	rl.mu.Unlock()
	if ok {
		t.Error("stale entry not evicted")
	}
}

func Test_RateLimit_AppliedToChatEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeRunner{result: groundedResult()}, nil, func(c *Config) {
		c.RateLimit = 1
		c.RateBurst = 1
	})

	req1 := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"q"}`))
	req1.RemoteAddr = "10.1.1.1:1"
	rec1 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"q"}`))
	req2.RemoteAddr = "10.1.1.1:2"
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", rec2.Code)
	}
}
