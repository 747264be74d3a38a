package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/ragchat/internal/provider"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status         string                 `json:"status"` // "healthy" or "degraded"
	Timestamp      time.Time              `json:"timestamp"`
	ModelAvailable bool                   `json:"model_available"`
	RAGAvailable   bool                   `json:"rag_available"`
	ActiveSessions int                    `json:"active_sessions"`
	TotalTurns     int64                  `json:"total_turns"`
	Providers      []provider.EntryStatus `json:"providers"`
}

// handleHealth reports 200 while at least one model provider is usable and
// 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:       "healthy",
			Timestamp:    time.Now().UTC(),
			RAGAvailable: g.chat.RAGEnabled(),
			Providers:    g.chat.Providers(),
		}
		resp.ActiveSessions, resp.TotalTurns = g.chat.Stats()

		for _, p := range resp.Providers {
			if p.State != "dead" {
				resp.ModelAvailable = true
			}
			if p.State != "healthy" {
				resp.Status = "degraded"
			}
		}

		code := http.StatusOK
		if !resp.ModelAvailable {
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}
