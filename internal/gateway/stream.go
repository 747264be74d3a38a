package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flemzord/ragchat/internal/chat"
)

// handleChatStream runs a streamed turn as Server-Sent Events. Setup errors
// are plain JSON responses; once the stream starts, failures arrive as an
// error event.
func (g *Gateway) handleChatStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, g.config.MaxBodyBytes, &req) {
			return
		}
		stream, err := g.chat.StreamTurn(r.Context(), req.turn())
		if err != nil {
			g.logTurnError(req.SessionID, err)
			writeError(w, err)
			return
		}
		defer stream.Close()

		rc := http.NewResponseController(w)
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		for ev := range stream.Events() {
			if ev.Type == chat.EventError {
				g.logTurnError(stream.SessionID(), ev.Err)
			}
			if err := writeSSE(w, frameOf(ev)); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// writeSSE writes one "data:" event.
func writeSSE(w http.ResponseWriter, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
