package gateway

import (
	"net/http"

	"github.com/flemzord/ragchat/internal/chat"
	ctxengine "github.com/flemzord/ragchat/internal/context"
)

// chatRequest is the body of POST /chat, POST /chat/stream and each
// WebSocket message.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`

	// UseRAG defaults to true when absent.
	UseRAG *bool `json:"use_rag,omitempty"`
}

func (c chatRequest) turn() chat.TurnRequest {
	useRAG := true
	if c.UseRAG != nil {
		useRAG = *c.UseRAG
	}
	return chat.TurnRequest{SessionID: c.SessionID, Message: c.Message, UseRAG: useRAG}
}

// handleChat runs a buffered turn.
func (g *Gateway) handleChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, g.config.MaxBodyBytes, &req) {
			return
		}
		res, err := g.chat.SubmitTurn(r.Context(), req.turn())
		if err != nil {
			g.logTurnError(req.SessionID, err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// frame is the wire form of a chat.StreamEvent, shared by SSE and
// WebSocket.
type frame struct {
	Type         chat.EventType       `json:"type"`
	SessionID    string               `json:"session_id,omitempty"`
	Content      string               `json:"content,omitempty"`
	MessageCount int64                `json:"message_count,omitempty"`
	UsedRAG      *bool                `json:"used_rag,omitempty"`
	ContextUsed  *string              `json:"context_used,omitempty"`
	Context      *ctxengine.Inclusion `json:"context,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
	Error        string               `json:"error,omitempty"`
	Kind         chat.Kind            `json:"kind,omitempty"`
}

func frameOf(ev chat.StreamEvent) frame {
	switch ev.Type {
	case chat.EventChunk:
		return frame{Type: ev.Type, SessionID: ev.SessionID, Content: ev.Content}
	case chat.EventMetadata:
		res := ev.Result
		return frame{
			Type:         ev.Type,
			SessionID:    res.SessionID,
			MessageCount: res.MessageCount,
			UsedRAG:      &res.UsedRAG,
			ContextUsed:  &res.ContextUsed,
			Context:      &res.Context,
			Warnings:     res.Warnings,
		}
	case chat.EventError:
		return errorFrame(ev.SessionID, ev.Err)
	default:
		return frame{Type: ev.Type}
	}
}

func errorFrame(sessionID string, err error) frame {
	te := chat.NewTurnError(err)
	return frame{Type: chat.EventError, SessionID: sessionID, Error: te.Err.Error(), Kind: te.Kind}
}

func (g *Gateway) logTurnError(sessionID string, err error) {
	kind := chat.KindOf(err)
	switch kind {
	case chat.KindInvalidRequest, chat.KindSessionNotFound, chat.KindCanceled:
		g.logger.Debug("turn rejected", "session_id", sessionID, "kind", kind, "error", err)
	default:
		g.logger.Warn("turn failed", "session_id", sessionID, "kind", kind, "error", err)
	}
}
