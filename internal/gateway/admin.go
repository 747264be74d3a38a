// Package gateway serves the chat API over HTTP, Server-Sent Events and
// WebSocket. It binds to loopback by default and follows the module system
// pattern.
package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/ragchat/internal/chat"
	"github.com/flemzord/ragchat/internal/config"
	"github.com/flemzord/ragchat/internal/core"
	"github.com/flemzord/ragchat/internal/security"
)

func (g *Gateway) configPath() (string, bool) {
	p, ok := core.Service[string](g.appCtx, "config.path")
	return p, ok && p != ""
}

// handleGetConfig returns the config file as loaded, with secrets redacted.
func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		path, ok := g.configPath()
		if !ok {
			writeProblem(w, kindUnavailable, "config path not set")
			return
		}
		cfg, err := config.Load(path)
		if err != nil {
			g.logger.Error("loading config for display failed", "error", err)
			writeProblem(w, chat.KindInternal, "failed to load config")
			return
		}
		out, err := config.Redacted(cfg)
		if err != nil {
			writeProblem(w, chat.KindInternal, "failed to serialize config")
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleReloadConfig triggers a hot-reload of the configuration.
func (g *Gateway) handleReloadConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, ok := g.configPath()
		reloader, found := core.Service[ConfigReloader](g.appCtx, "reload.handler")
		if !ok || !found {
			writeProblem(w, kindUnavailable, "reload is not available")
			return
		}

		if err := reloader.HandleReload(r.Context(), path); err != nil {
			g.logger.Error("config reload failed", "error", err)
			writeProblem(w, chat.KindInvalidRequest, err.Error())
			return
		}
		g.audit.Log(security.AuditEvent{
			Type:   security.EventConfigReload,
			Remote: r.RemoteAddr,
			Route:  r.Method + " " + r.URL.Path,
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	}
}

// handleRunJob runs a background job (session_cleanup, compaction_sweep)
// immediately. A job that is unknown or already running is reported as 409.
func (g *Gateway) handleRunJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, ok := core.Service[JobRunner](g.appCtx, "cron.scheduler")
		if !ok {
			writeProblem(w, kindUnavailable, "no job scheduler")
			return
		}
		name := chi.URLParam(r, "name")
		if !jobs.RunNow(r.Context(), name) {
			writeProblem(w, kindConflict, "job "+name+" is unknown or already running")
			return
		}
		g.audit.Log(security.AuditEvent{
			Type:   security.EventJobRun,
			Remote: r.RemoteAddr,
			Route:  r.Method + " " + r.URL.Path,
			Detail: name,
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "done", "job": name})
	}
}
