package httpx

import (
	"net"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain wraps h with mws. The first middleware is the outermost, so
// Chain(h, a, b) serves a(b(h)).
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recoverer turns a panicking handler into a 500 and logs the stack.
func Recoverer() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slogx.FromContext(r.Context()).Error("handler panic",
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				WriteJSON(w, http.StatusInternalServerError, map[string]string{
					"error":             "server_error",
					"error_description": "internal error",
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodyBytes caps the request body size.
func MaxBodyBytes(n int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetRemoteIP returns the client address, honouring X-Forwarded-For and
// X-Real-IP from a fronting proxy.
func GetRemoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
