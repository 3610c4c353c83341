package httpx

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimit is a token bucket: Requests per Window on average, with Burst
// requests available at once.
type RateLimit struct {
	Requests int
	Window   time.Duration
	Burst    int
}

func (l RateLimit) limit() rate.Limit {
	if l.Window <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(l.Requests) / l.Window.Seconds())
}

// Profiles for the broker's endpoint groups. Each can be overridden with
// RATELIMIT_{NAME}_REQUESTS, RATELIMIT_{NAME}_WINDOW_SEC and
// RATELIMIT_{NAME}_BURST, see RateLimitFromEnv.
var (
	// AuthorizeLimit covers /authorize and /device/code.
	AuthorizeLimit = RateLimit{Requests: 30, Window: time.Minute, Burst: 10}

	// ConsentLimit covers the user-facing approval endpoints.
	ConsentLimit = RateLimit{Requests: 20, Window: time.Minute, Burst: 5}

	// TokenLimit covers /token. Device clients poll every few seconds.
	TokenLimit = RateLimit{Requests: 60, Window: time.Minute, Burst: 20}

	// MCPLimit covers the MCP transport, keyed by user.
	MCPLimit = RateLimit{Requests: 600, Window: time.Minute, Burst: 100}
)

// RateLimitFromEnv applies RATELIMIT_{name}_* overrides to def. Values that
// don't parse or aren't positive are ignored.
func RateLimitFromEnv(name string, def RateLimit) RateLimit {
	prefix := "RATELIMIT_" + strings.ToUpper(name) + "_"
	out := def
	if n, ok := positiveEnvInt(prefix + "REQUESTS"); ok {
		out.Requests = n
	}
	if n, ok := positiveEnvInt(prefix + "WINDOW_SEC"); ok {
		out.Window = time.Duration(n) * time.Second
	}
	if n, ok := positiveEnvInt(prefix + "BURST"); ok {
		out.Burst = n
	}
	return out
}

func positiveEnvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// KeyFunc derives the bucket key of a request. An empty key bypasses the
// limiter.
type KeyFunc func(*http.Request) string

// IPKey keys by client address.
func IPKey(r *http.Request) string { return GetRemoteIP(r) }

// SubjectKey keys by the authenticated user, falling back to the client
// address for anonymous requests.
func SubjectKey(r *http.Request) string {
	if sub := SubjectFromContext(r.Context()); sub != "" {
		return "sub:" + sub
	}
	return "ip:" + GetRemoteIP(r)
}

// FormValueKey keys by a query or form parameter.
func FormValueKey(field string) KeyFunc {
	return func(r *http.Request) string {
		if err := r.ParseForm(); err != nil {
			return ""
		}
		return r.FormValue(field)
	}
}

// JoinKeys concatenates the non-empty keys of fns with sep.
func JoinKeys(sep string, fns ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(fns))
		for _, fn := range fns {
			if k := fn(r); k != "" {
				parts = append(parts, k)
			}
		}
		return strings.Join(parts, sep)
	}
}

// RateLimitOption configures RateLimitMiddleware.
type RateLimitOption func(*buckets)

// WithRateLimitClock replaces time.Now, for tests.
func WithRateLimitClock(now func() time.Time) RateLimitOption {
	return func(b *buckets) { b.now = now }
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// buckets holds one limiter per key. Keys idle for longer than a full
// window are pruned at most once per window.
type buckets struct {
	mu      sync.Mutex
	cfg     RateLimit
	now     func() time.Time
	entries map[string]*bucket
	pruned  time.Time
}

func newBuckets(cfg RateLimit, opts ...RateLimitOption) *buckets {
	b := &buckets{cfg: cfg, now: time.Now, entries: make(map[string]*bucket)}
	for _, o := range opts {
		o(b)
	}
	b.pruned = b.now()
	return b
}

// take consumes one token for key. When the bucket is empty it returns the
// wait until the next token.
func (b *buckets) take(key string) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.pruneLocked(now)

	e, ok := b.entries[key]
	if !ok {
		e = &bucket{lim: rate.NewLimiter(b.cfg.limit(), b.cfg.Burst)}
		b.entries[key] = e
	}
	e.seen = now

	res := e.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, b.cfg.Window
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (b *buckets) pruneLocked(now time.Time) {
	idle := b.cfg.Window
	if idle <= 0 || now.Sub(b.pruned) < idle {
		return
	}
	b.pruned = now
	for k, e := range b.entries {
		if now.Sub(e.seen) > idle {
			delete(b.entries, k)
		}
	}
}

func (b *buckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// RateLimitMiddleware limits requests per key. Rejected requests get 429
// with Retry-After.
func RateLimitMiddleware(cfg RateLimit, key KeyFunc, opts ...RateLimitOption) Middleware {
	b := newBuckets(cfg, opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, wait := b.take(k)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := max(int((wait + time.Second - 1) / time.Second), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
			w.Header().Set("X-RateLimit-Window", cfg.Window.String())

			slogx.FromContext(r.Context()).Warn("rate limit exceeded",
				"key", k,
				"path", r.URL.Path,
				"retry_after", retryAfter,
			)

			WriteJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":             "rate_limit_exceeded",
				"error_description": "too many requests, retry later",
			})
		})
	}
}

// RateLimitByIP limits by client address.
func RateLimitByIP(cfg RateLimit, opts ...RateLimitOption) Middleware {
	return RateLimitMiddleware(cfg, IPKey, opts...)
}

// RateLimitBySubject limits by authenticated user. It must run after
// Authenticate to see the user.
func RateLimitBySubject(cfg RateLimit, opts ...RateLimitOption) Middleware {
	return RateLimitMiddleware(cfg, SubjectKey, opts...)
}

// RateLimitByIPAndField limits by client address plus a request parameter,
// e.g. client_id on the token endpoint.
func RateLimitByIPAndField(cfg RateLimit, field string, opts ...RateLimitOption) Middleware {
	return RateLimitMiddleware(cfg, JoinKeys(":", IPKey, FormValueKey(field)), opts...)
}
