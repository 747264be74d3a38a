package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/ragchat/internal/security"
	"github.com/flemzord/ragchat/internal/security/securitytest"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     AuthConfig
		prepare func(*http.Request)
		want    int
	}{
		{"no auth configured", AuthConfig{}, func(*http.Request) {}, http.StatusOK},
		{"valid bearer", AuthConfig{BearerToken: "secret-token"}, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer secret-token")
		}, http.StatusOK},
		{"invalid bearer", AuthConfig{BearerToken: "secret-token"}, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer wrong-token")
		}, http.StatusUnauthorized},
		{"missing header", AuthConfig{BearerToken: "secret-token"}, func(*http.Request) {}, http.StatusUnauthorized},
		{"valid basic", AuthConfig{BasicUser: "admin", BasicPass: "pass123"}, func(r *http.Request) {
			r.SetBasicAuth("admin", "pass123")
		}, http.StatusOK},
		{"invalid basic", AuthConfig{BasicUser: "admin", BasicPass: "pass123"}, func(r *http.Request) {
			r.SetBasicAuth("admin", "wrong")
		}, http.StatusUnauthorized},
		{"bearer when only basic set", AuthConfig{BasicUser: "admin", BasicPass: "pass123"}, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer pass123")
		}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			audit, events := securitytest.NewTestAuditLogger()
			cfg := tt.cfg
			handler := authMiddleware(func() AuthConfig { return cfg }, audit)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
			tt.prepare(req)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			failed := len(events()) == 1 && events()[0].Type == security.EventAuthFailure
			if failed != (tt.want == http.StatusUnauthorized) {
				t.Errorf("audit events = %+v", events())
			}
		})
	}
}

func TestRoutes_PublicAndProtected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) { c.Auth.BearerToken = "tok" })

	for _, path := range []string{"/", "/health", "/metrics"} {
		expectStatus(t, env.do(t, http.MethodGet, path, ""), http.StatusOK)
	}
	for _, path := range []string{"/sessions", "/status", "/admin/config"} {
		resp := env.do(t, http.MethodGet, path, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, resp.StatusCode)
		}
	}
	expectStatus(t, env.do(t, http.MethodGet, "/status", "", "Authorization", "Bearer tok"), http.StatusOK)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) {
		c.RateLimit = security.RateLimitConfig{RequestsPerMinute: 1, Burst: 1}
	})

	expectStatus(t, env.do(t, http.MethodGet, "/sessions", ""), http.StatusOK)
	resp := env.do(t, http.MethodGet, "/sessions", "")
	expectStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if body := decode[errorBody](t, resp); body.Error.Kind != kindRateLimited {
		t.Errorf("kind = %q", body.Error.Kind)
	}

	// Health stays reachable for liveness checks.
	expectStatus(t, env.do(t, http.MethodGet, "/health", ""), http.StatusOK)

	events := env.audit()
	if len(events) != 1 || events[0].Type != security.EventRateLimit || events[0].Remote != "127.0.0.1" {
		t.Errorf("audit = %+v", events)
	}
}
