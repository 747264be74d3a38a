package gateway

import (
	"bytes"
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/flemzord/ragchat/internal/chat"
	"github.com/flemzord/ragchat/internal/security"
)

// handleChatWS serves turns over one WebSocket connection. Each inbound
// message is a chatRequest; its events are written back as frames before
// the next request is read. A malformed request gets an error frame and
// the connection stays open.
func (g *Gateway) handleChatWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()
		conn.SetReadLimit(int64(g.config.MaxBodyBytes))

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					_ = conn.Close(websocket.StatusNormalClosure, "")
				}
				return
			}

			var req chatRequest
			if err := security.DecodeJSON(bytes.NewReader(data), g.config.MaxBodyBytes, &req); err != nil {
				f := frame{Type: chat.EventError, Error: err.Error(), Kind: chat.KindInvalidRequest}
				if err := wsjson.Write(ctx, conn, f); err != nil {
					return
				}
				continue
			}
			if err := g.serveWSTurn(ctx, conn, req); err != nil {
				g.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (g *Gateway) serveWSTurn(ctx context.Context, conn *websocket.Conn, req chatRequest) error {
	stream, err := g.chat.StreamTurn(ctx, req.turn())
	if err != nil {
		g.logTurnError(req.SessionID, err)
		return wsjson.Write(ctx, conn, errorFrame(req.SessionID, err))
	}
	defer stream.Close()

	for ev := range stream.Events() {
		if ev.Type == chat.EventError {
			g.logTurnError(stream.SessionID(), ev.Err)
		}
		if err := wsjson.Write(ctx, conn, frameOf(ev)); err != nil {
			return err
		}
	}
	return nil
}
