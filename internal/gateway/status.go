package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/ragchat/internal/core"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime   int64    `json:"uptime_seconds"`
	Sessions int      `json:"sessions"`
	Turns    int64    `json:"turns"`
	RAG      bool     `json:"rag_enabled"`
	Modules  []string `json:"compiled_modules"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime: int64(time.Since(g.startedAt).Seconds()),
			RAG:    g.chat.RAGEnabled(),
		}
		resp.Sessions, resp.Turns = g.chat.Stats()
		for _, m := range core.GetModules() {
			resp.Modules = append(resp.Modules, string(m.ID))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
