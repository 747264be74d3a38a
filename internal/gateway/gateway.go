package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/ragchat/internal/chat"
	"github.com/flemzord/ragchat/internal/core"
	"github.com/flemzord/ragchat/internal/provider"
	"github.com/flemzord/ragchat/internal/security"
	"github.com/flemzord/ragchat/internal/session"
)

const moduleID = "gateway.http"

func init() {
	core.RegisterModule(&Gateway{})
}

// Chat is the conversation surface the gateway serves.
type Chat interface {
	StartSession(ctx context.Context) session.State
	GetSession(id string) (session.State, error)
	ListSessions() []session.Info
	DeleteSession(ctx context.Context, id string) error
	ForceSummarize(ctx context.Context, id string) (session.State, error)
	SubmitTurn(ctx context.Context, req chat.TurnRequest) (chat.TurnResult, error)
	StreamTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnStream, error)
	RAGEnabled() bool
	Providers() []provider.EntryStatus
	Stats() (sessions int, turns int64)
}

var _ Chat = (*chat.Orchestrator)(nil)

// ConfigReloader reloads the application configuration from a file.
type ConfigReloader interface {
	HandleReload(ctx context.Context, configPath string) error
}

// JobRunner runs a named background job outside its schedule.
type JobRunner interface {
	RunNow(ctx context.Context, name string) bool
}

// Gateway is the HTTP gateway module. It exposes the chat API, health,
// Prometheus metrics, and a small authenticated admin surface.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	auth     atomic.Pointer[AuthConfig]
	limiter  *security.RateLimiter
	audit    *security.AuditLogger
	metrics  *httpMetrics
	gatherer prometheus.Gatherer

	// Resolved at Start() via the service registry.
	chat Chat

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  moduleID,
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.auth.Store(&g.config.Auth)
	g.limiter = security.NewRateLimiter(g.config.RateLimit)
	g.audit, _ = core.Service[*security.AuditLogger](ctx, "security.audit")

	reg, ok := core.Service[prometheus.Registerer](ctx, "metrics.registerer")
	if !ok {
		reg = prometheus.NewRegistry()
	}
	g.gatherer, ok = core.Service[prometheus.Gatherer](ctx, "metrics.gatherer")
	if !ok {
		g.gatherer = prometheus.DefaultGatherer
	}
	g.metrics = newHTTPMetrics(reg)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	a := g.config.Auth
	if (a.BasicUser == "") != (a.BasicPass == "") {
		return errors.New("gateway: basic auth needs both basic_user and basic_pass")
	}
	return nil
}

// Start implements core.Starter. It resolves the chat service and starts
// the HTTP server.
func (g *Gateway) Start() error {
	c, ok := core.Service[Chat](g.appCtx, "chat.orchestrator")
	if !ok {
		return errors.New("gateway: chat.orchestrator service not registered")
	}
	g.chat = c
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:              g.config.Bind,
		Handler:           g.buildRouter(),
		ReadHeaderTimeout: g.config.ReadTimeout,
		ReadTimeout:       g.config.ReadTimeout,
		WriteTimeout:      g.config.WriteTimeout,
		IdleTimeout:       g.config.IdleTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	g.wg.Go(func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	})
	g.wg.Go(func() { g.sweepLimiter(ctx) })
	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.cancel()

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	err := g.server.Shutdown(shutdownCtx)
	g.wg.Wait()
	return err
}

// Reload implements core.Reloader. Auth and rate limits apply to the next
// request; the bind address needs a restart.
func (g *Gateway) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig(moduleID)
	if !ok {
		return nil
	}
	var next Config
	if err := node.Decode(&next); err != nil {
		return fmt.Errorf("gateway: decoding config: %w", err)
	}
	next.defaults()
	if next.Bind != g.config.Bind {
		g.logger.Warn("gateway bind address changed, restart to apply", "bind", next.Bind)
	}

	g.auth.Store(&next.Auth)
	g.limiter.Update(next.RateLimit)
	g.audit.Log(security.AuditEvent{Type: security.EventConfigReload, Detail: moduleID})
	g.logger.Info("gateway configuration reloaded")
	return nil
}

func (g *Gateway) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.limiter.Cleanup(); n > 0 {
				g.logger.Debug("rate limiter buckets evicted", "count", n)
			}
		}
	}
}
