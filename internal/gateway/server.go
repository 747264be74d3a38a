package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	if g.config.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(g.metrics.middleware)

	// Public.
	r.Get("/", g.handleHealth())
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(g.currentAuth, g.audit))
		r.Use(rateLimitMiddleware(g.limiter, g.audit))

		r.Get("/status", g.handleStatus())

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", g.handleStartSession())
			r.Get("/", g.handleListSessions())
			r.Get("/{id}", g.handleGetSession())
			r.Delete("/{id}", g.handleDeleteSession())
			r.Post("/{id}/summarize", g.handleSummarize())
		})

		r.Route("/chat", func(r chi.Router) {
			r.Post("/", g.handleChat())
			r.Post("/stream", g.handleChatStream())
			r.Get("/ws", g.handleChatWS())
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/config", g.handleGetConfig())
			r.Post("/reload", g.handleReloadConfig())
			r.Post("/jobs/{name}/run", g.handleRunJob())
		})
	})

	return r
}

func (g *Gateway) currentAuth() AuthConfig {
	return *g.auth.Load()
}
