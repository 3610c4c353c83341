package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/mcpbroker/pkg/httpx"
	"github.com/aussiebroadwan/mcpbroker/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func fromIP(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":40000"
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetRemoteIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "192.168.1.1:12345", want: "192.168.1.1"},
		{
			name:    "forwarded for wins",
			remote:  "10.0.0.1:1",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"},
			want:    "203.0.113.1",
		},
		{
			name:    "real ip when no forwarded for",
			remote:  "10.0.0.1:1",
			headers: map[string]string{"X-Real-IP": "203.0.113.2"},
			want:    "203.0.113.2",
		},
		{name: "remote without port", remote: "192.168.1.9", want: "192.168.1.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tt.want, httpx.GetRemoteIP(req))
		})
	}
}

func TestKeyFuncs(t *testing.T) {
	t.Run("form value from query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?client_id=cli", nil)
		require.Equal(t, "cli", httpx.FormValueKey("client_id")(req))
	})

	t.Run("form value from body", func(t *testing.T) {
		form := url.Values{"client_id": {"cli-2"}}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		require.Equal(t, "cli-2", httpx.FormValueKey("client_id")(req))
	})

	t.Run("join skips empty parts", func(t *testing.T) {
		req := fromIP("192.168.1.1")
		key := httpx.JoinKeys(":", httpx.IPKey, httpx.FormValueKey("client_id"))
		require.Equal(t, "192.168.1.1", key(req))
	})

	t.Run("subject when authenticated", func(t *testing.T) {
		req := fromIP("192.168.1.1")
		require.Equal(t, "ip:192.168.1.1", httpx.SubjectKey(req))

		c := jwtx.Claims{}
		c.Subject = "u1"
		req = req.WithContext(httpx.WithClaims(req.Context(), c))
		require.Equal(t, "sub:u1", httpx.SubjectKey(req))
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("burst then reject", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1700000000, 0)}
		h := httpx.RateLimitByIP(
			httpx.RateLimit{Requests: 3, Window: time.Minute, Burst: 3},
			httpx.WithRateLimitClock(clock.Now),
		)(okHandler)

		for i := range 3 {
			require.Equal(t, http.StatusOK, serve(h, fromIP("192.168.1.1")).Code, "request %d", i+1)
		}

		rec := serve(h, fromIP("192.168.1.1"))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.Equal(t, "20", rec.Header().Get("Retry-After"))
		require.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		require.Contains(t, rec.Body.String(), "rate_limit_exceeded")
	})

	t.Run("refills over time", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1700000000, 0)}
		h := httpx.RateLimitByIP(
			httpx.RateLimit{Requests: 60, Window: time.Minute, Burst: 1},
			httpx.WithRateLimitClock(clock.Now),
		)(okHandler)

		require.Equal(t, http.StatusOK, serve(h, fromIP("10.0.0.1")).Code)
		require.Equal(t, http.StatusTooManyRequests, serve(h, fromIP("10.0.0.1")).Code)

		clock.Advance(time.Second)
		require.Equal(t, http.StatusOK, serve(h, fromIP("10.0.0.1")).Code)
	})

	t.Run("keys are independent", func(t *testing.T) {
		h := httpx.RateLimitByIP(httpx.RateLimit{Requests: 1, Window: time.Minute, Burst: 1})(okHandler)

		require.Equal(t, http.StatusOK, serve(h, fromIP("192.168.1.1")).Code)
		require.Equal(t, http.StatusTooManyRequests, serve(h, fromIP("192.168.1.1")).Code)
		require.Equal(t, http.StatusOK, serve(h, fromIP("192.168.1.2")).Code)
	})

	t.Run("empty key bypasses", func(t *testing.T) {
		h := httpx.RateLimitMiddleware(
			httpx.RateLimit{Requests: 1, Window: time.Minute, Burst: 1},
			func(*http.Request) string { return "" },
		)(okHandler)

		for range 3 {
			require.Equal(t, http.StatusOK, serve(h, fromIP("192.168.1.1")).Code)
		}
	})

	t.Run("ip and field", func(t *testing.T) {
		h := httpx.RateLimitByIPAndField(
			httpx.RateLimit{Requests: 1, Window: time.Minute, Burst: 1}, "client_id",
		)(okHandler)

		req := func(client string) *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/?client_id="+client, nil)
			r.RemoteAddr = "192.168.1.1:1"
			return r
		}

		require.Equal(t, http.StatusOK, serve(h, req("a")).Code)
		require.Equal(t, http.StatusTooManyRequests, serve(h, req("a")).Code)
		require.Equal(t, http.StatusOK, serve(h, req("b")).Code)
	})
}

func TestRateLimitFromEnv(t *testing.T) {
	def := httpx.RateLimit{Requests: 10, Window: time.Minute, Burst: 10}

	t.Run("defaults", func(t *testing.T) {
		require.Equal(t, def, httpx.RateLimitFromEnv("UNSET", def))
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("RATELIMIT_TOKEN_REQUESTS", "200")
		t.Setenv("RATELIMIT_TOKEN_WINDOW_SEC", "30")
		t.Setenv("RATELIMIT_TOKEN_BURST", "250")

		got := httpx.RateLimitFromEnv("token", def)
		require.Equal(t, httpx.RateLimit{Requests: 200, Window: 30 * time.Second, Burst: 250}, got)
	})

	t.Run("invalid and zero values are ignored", func(t *testing.T) {
		t.Setenv("RATELIMIT_BAD_REQUESTS", "invalid")
		t.Setenv("RATELIMIT_BAD_WINDOW_SEC", "-10")
		t.Setenv("RATELIMIT_BAD_BURST", "0")

		require.Equal(t, def, httpx.RateLimitFromEnv("BAD", def))
	})
}
