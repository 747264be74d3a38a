package reload

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/flemzord/ragchat/internal/config"
	"github.com/flemzord/ragchat/internal/core"
)

// Handler applies a new configuration to a running application. Module
// sections are pushed to every core.Reloader; log.level takes effect
// immediately when a LevelVar is attached. Adding or removing modules
// needs a restart and is only reported.
type Handler struct {
	app     *core.App
	logger  *slog.Logger
	dataDir string
	level   *slog.LevelVar

	mu      sync.Mutex
	modules []string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLevel lets reloads change the process log level.
func WithLevel(v *slog.LevelVar) Option {
	return func(h *Handler) { h.level = v }
}

// NewHandler creates a reload handler. modules is the sorted set of
// module IDs the application was started with.
func NewHandler(app *core.App, logger *slog.Logger, dataDir string, modules []string, opts ...Option) *Handler {
	h := &Handler{
		app:     app,
		logger:  logger,
		dataDir: dataDir,
		modules: slices.Clone(modules),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// HandleReload loads a fresh config from disk, validates it, and applies it.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.handleReload(ctx, cfg)
}

// HandleReloadFromConfig applies an already-validated config.
func (h *Handler) HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error {
	return h.handleReload(ctx, cfg)
}

func (h *Handler) handleReload(ctx context.Context, cfg *config.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	if ids := config.Resolve(cfg); !slices.Equal(ids, h.modules) {
		h.logger.Warn("module set changed; restart to apply",
			"running", h.modules, "configured", ids)
	}

	appCtx := core.NewAppContext(h.logger, h.dataDir).WithModuleConfigs(cfg.Modules)
	if err := h.app.ReloadModules(appCtx); err != nil {
		return fmt.Errorf("reloading modules: %w", err)
	}

	if h.level != nil {
		level, err := cfg.Log.SlogLevel()
		if err != nil {
			return err
		}
		if level != h.level.Level() {
			h.logger.Info("log level changed", "from", h.level.Level(), "to", level)
			h.level.Set(level)
		}
	}

	h.logger.Info("configuration reloaded")
	return nil
}
