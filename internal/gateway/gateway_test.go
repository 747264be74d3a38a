package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/ragchat/internal/core"
)

func mustYAMLNode(t *testing.T, content string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if len(doc.Content) == 0 {
		t.Fatal("empty YAML document")
	}
	return doc.Content[0]
}

func TestGateway_ModuleInfo(t *testing.T) {
	t.Parallel()

	info := (&Gateway{}).ModuleInfo()
	if info.ID != "gateway.http" {
		t.Errorf("ID = %q, want %q", info.ID, "gateway.http")
	}
	if _, ok := info.New().(*Gateway); !ok {
		t.Error("New() should return *Gateway")
	}
}

func TestGateway_ConfigureAndDefaults(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	node := mustYAMLNode(t, `
bind: "0.0.0.0:9090"
auth:
  bearer_token: "my-token"
rate_limit:
  requests_per_minute: 120
history_limit: 4
`)
	if err := g.Configure(node); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := g.Provision(core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	c := g.config
	if c.Bind != "0.0.0.0:9090" || c.Auth.BearerToken != "my-token" || c.HistoryLimit != 4 {
		t.Errorf("config = %+v", c)
	}
	if c.RateLimit.RequestsPerMinute != 120 {
		t.Errorf("rate limit = %+v", c.RateLimit)
	}
	if c.ReadTimeout != 10*time.Second || c.ShutdownTimeout != 5*time.Second || c.WriteTimeout != 0 {
		t.Errorf("timeouts = %v/%v/%v", c.ReadTimeout, c.WriteTimeout, c.ShutdownTimeout)
	}
	if c.MaxBodyBytes != 1<<20 {
		t.Errorf("MaxBodyBytes = %d", c.MaxBodyBytes)
	}
}

func TestGateway_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"ok", Config{Bind: "127.0.0.1:0"}, ""},
		{"bad bind", Config{Bind: "not an address"}, "bind"},
		{"half basic auth", Config{Bind: "127.0.0.1:0", Auth: AuthConfig{BasicUser: "admin"}}, "basic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := &Gateway{config: tt.cfg}
			err := g.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestGateway_StartRequiresChat(t *testing.T) {
	t.Parallel()

	g := &Gateway{config: Config{Bind: "127.0.0.1:0"}}
	if err := g.Provision(core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())); err != nil {
		t.Fatal(err)
	}
	if err := g.Start(); err == nil || !strings.Contains(err.Error(), "chat.orchestrator") {
		t.Errorf("err = %v, want missing service error", err)
	}
}

func TestGateway_StartStop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	appCtx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())
	appCtx.RegisterService("chat.orchestrator", env.g.chat)

	g := &Gateway{config: Config{Bind: "127.0.0.1:0"}}
	if err := g.Provision(appCtx.ForModule(moduleID)); err != nil {
		t.Fatal(err)
	}
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGateway_ReloadAuth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) { c.Auth.BearerToken = "old-token" })

	resp := env.do(t, http.MethodGet, "/sessions", "", "Authorization", "Bearer new-token")
	expectStatus(t, resp, http.StatusUnauthorized)

	reloadCtx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir()).
		WithModuleConfigs(map[string]yaml.Node{
			moduleID: *mustYAMLNode(t, "auth:\n  bearer_token: new-token\n"),
		})
	if err := env.g.Reload(reloadCtx.ForModule(moduleID)); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	resp = env.do(t, http.MethodGet, "/sessions", "", "Authorization", "Bearer new-token")
	expectStatus(t, resp, http.StatusOK)
}
