// Package app provides the shared entry point for the ragchat commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flemzord/ragchat/internal/chat"
	"github.com/flemzord/ragchat/internal/config"
	"github.com/flemzord/ragchat/internal/core"
	"github.com/flemzord/ragchat/internal/reload"
	"github.com/flemzord/ragchat/internal/security"
	"github.com/flemzord/ragchat/internal/telemetry"
)

// auditFile is the audit trail file name under the data directory.
const auditFile = "audit.jsonl"

// shutdownTimeout bounds Close work after modules have stopped.
const shutdownTimeout = 10 * time.Second

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides data_dir from the configuration.
	DataDir string

	// Debug forces the debug log level regardless of log.level.
	Debug bool

	// Headless leaves gateway modules unloaded, for surfaces such as MCP
	// over stdio that drive the orchestrator directly.
	Headless bool

	// LogOutput receives process logs. Defaults to os.Stderr.
	LogOutput io.Writer
}

// Runtime is a fully wired but not yet started application.
type Runtime struct {
	App          *core.App
	AppCtx       *core.AppContext
	Config       *config.Config
	ConfigPath   string
	DataDir      string
	Logger       *slog.Logger
	Orchestrator *chat.Orchestrator
	Reload       *reload.Handler

	level       *slog.LevelVar
	credentials *security.CredentialStore
	redactor    *security.Redactor
	closers     []func(context.Context) error
}

// Build loads and validates the configuration, provisions every module,
// and assembles the chat orchestrator. Nothing is started.
func Build(ctx context.Context, params RunParams) (*Runtime, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config:      cfg,
		ConfigPath:  cfgPath,
		DataDir:     ResolveDataDir(params.DataDir, cfg),
		level:       new(slog.LevelVar),
		credentials: security.NewCredentialStore(),
		redactor:    security.NewRedactor(),
	}

	level, _ := cfg.Log.SlogLevel()
	if params.Debug {
		level = slog.LevelDebug
	}
	rt.level.Set(level)

	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := security.NewLogger(out, rt.level, cfg.Log.Format, rt.redactor)
	slog.SetDefault(logger)
	rt.Logger = logger

	if err := os.MkdirAll(rt.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, params.Version)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, shutdownTracing)

	audit, err := rt.openAudit()
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	appCtx := core.NewAppContext(logger, rt.DataDir).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService("security.credentials", rt.credentials)
	appCtx.RegisterService("security.redactor", rt.redactor)
	appCtx.RegisterService("security.audit", audit)
	appCtx.RegisterService("metrics.registerer", prometheus.Registerer(registry))
	appCtx.RegisterService("metrics.gatherer", prometheus.Gatherer(registry))
	appCtx.RegisterService("config.path", cfgPath)
	rt.AppCtx = appCtx

	ids := config.Resolve(cfg)
	backends, frontends := config.Phases(ids)
	if params.Headless {
		frontends = nil
	}

	application := core.NewApp(appCtx)
	rt.App = application
	if err := application.LoadModules(backends); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	orch, err := wireChat(ctx, application, appCtx, cfg, registry, logger)
	if err != nil {
		application.Discard()
		rt.Close(ctx)
		return nil, err
	}
	rt.Orchestrator = orch

	// Frontends load last so they start after the chat core and stop first.
	if err := application.LoadModules(frontends); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.Reload = reload.NewHandler(application, logger, rt.DataDir, ids, reload.WithLevel(rt.level))
	appCtx.RegisterService("reload.handler", rt.Reload)
	return rt, nil
}

// Start starts every module and refreshes log redaction with the
// credentials modules registered.
func (rt *Runtime) Start() error {
	if err := rt.App.Start(); err != nil {
		return err
	}
	rt.redactor.SyncCredentials(rt.credentials)
	rt.Logger.Debug("log redaction covers module keys", "modules", rt.credentials.Modules())
	return nil
}

// Shutdown stops every module and releases process-wide resources.
func (rt *Runtime) Shutdown(ctx context.Context) {
	rt.App.Stop()
	rt.Close(ctx)
}

// Close releases the resources Build acquired outside the module lifecycle.
func (rt *Runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil && rt.Logger != nil {
			rt.Logger.Warn("shutdown step failed", "error", err)
		}
	}
	rt.closers = nil
}

func (rt *Runtime) openAudit() (*security.AuditLogger, error) {
	f, err := os.OpenFile(filepath.Join(rt.DataDir, auditFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return f.Close() })
	return security.NewAuditLogger(security.AuditLoggerConfig{
		Writer:   f,
		Redactor: rt.redactor,
	}), nil
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received. SIGHUP and config file changes trigger a live reload.
func Run(params RunParams) error {
	ctx := context.Background()
	rt, err := Build(ctx, params)
	if err != nil {
		return err
	}
	if err := rt.Start(); err != nil {
		rt.Close(ctx)
		return err
	}
	rt.Logger.Info("ragchat started",
		"version", params.Version,
		"config", rt.ConfigPath,
		"data_dir", rt.DataDir,
		"rag", rt.Orchestrator.RAGEnabled(),
	)
	return rt.Serve(ctx)
}

// Serve reloads the configuration on SIGHUP or when the file changes, and
// shuts the runtime down on SIGINT, SIGTERM, or when ctx is done.
func (rt *Runtime) Serve(ctx context.Context) error {
	logger := rt.Logger

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	watcher := reload.NewWatcher(reload.WatcherConfig{ConfigPath: rt.ConfigPath})
	watcher.Start(watchCtx)
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown requested")
			rt.shutdownWithTimeout()
			return nil
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				if err := rt.Reload.HandleReload(watchCtx, rt.ConfigPath); err != nil {
					logger.Error("reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutdown signal received", "signal", sig.String())
			rt.shutdownWithTimeout()
			return nil
		case evt := <-watcher.Events():
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			if err := rt.Reload.HandleReload(watchCtx, evt.ConfigPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}

func (rt *Runtime) shutdownWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	rt.Shutdown(ctx)
	rt.Logger.Info("shutdown complete")
}

// ResolveDataDir picks the data directory: override first, then data_dir
// from cfg, then DefaultDataDir.
func ResolveDataDir(override string, cfg *config.Config) string {
	switch {
	case override != "":
		return override
	case cfg != nil && cfg.DataDir != "":
		return expandHome(cfg.DataDir)
	default:
		return DefaultDataDir()
	}
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/ragchat/ragchat.yaml → ~/.config/ragchat/ragchat.yaml → ./ragchat.yaml
func ResolveConfigPath() (string, error) {
	candidates := configCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultConfigPath is where `ragchat init` writes when no path is given.
func DefaultConfigPath() string {
	return configCandidates()[0]
}

func configCandidates() []string {
	var candidates []string
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "ragchat", "ragchat.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "ragchat", "ragchat.yaml"))
	}
	return append(candidates, "ragchat.yaml")
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/ragchat if set, otherwise ~/.local/share/ragchat.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "ragchat")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "ragchat")
}

// errNoProvider is returned when no module registered a provider chain.
var errNoProvider = errors.New("app: no provider module registered provider.chain")
