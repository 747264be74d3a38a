package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/flemzord/ragchat/internal/security"
)

// authMiddleware validates a Bearer token or Basic credentials using
// constant-time comparison. The config is read per request so a reload
// takes effect immediately; an empty config lets every request through.
func authMiddleware(current func() AuthConfig, audit *security.AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := current()
			if !cfg.IsConfigured() {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				deny(w, r, audit, "missing authorization header")
				return
			}

			if cfg.BearerToken != "" {
				if after, ok := strings.CutPrefix(auth, "Bearer "); ok && constantTimeEqual(after, cfg.BearerToken) {
					next.ServeHTTP(w, r)
					return
				}
			}

			if cfg.BasicUser != "" && cfg.BasicPass != "" {
				user, pass, ok := r.BasicAuth()
				if ok && constantTimeEqual(user, cfg.BasicUser) && constantTimeEqual(pass, cfg.BasicPass) {
					next.ServeHTTP(w, r)
					return
				}
			}

			deny(w, r, audit, "invalid credentials")
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, audit *security.AuditLogger, detail string) {
	audit.Log(security.AuditEvent{
		Type:   security.EventAuthFailure,
		Remote: r.RemoteAddr,
		Route:  r.Method + " " + r.URL.Path,
		Detail: detail,
	})
	w.Header().Set("WWW-Authenticate", `Bearer realm="ragchat"`)
	writeProblem(w, kindUnauthorized, "unauthorized")
}

// rateLimitMiddleware applies the per-client token bucket keyed by the
// remote IP. Run it after middleware.RealIP when behind a proxy.
func rateLimitMiddleware(limiter *security.RateLimiter, audit *security.AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r.RemoteAddr)
			if err := limiter.Allow(key); err != nil {
				audit.Log(security.AuditEvent{
					Type:   security.EventRateLimit,
					Remote: key,
					Route:  r.Method + " " + r.URL.Path,
				})
				w.Header().Set("Retry-After", "1")
				writeProblem(w, kindRateLimited, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey strips the port from a host:port remote address.
func clientKey(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
