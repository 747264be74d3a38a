package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/ragchat/internal/security"
	"github.com/flemzord/ragchat/internal/session"
)

type sessionCreated struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionList struct {
	Total    int            `json:"total_sessions"`
	Sessions []session.Info `json:"sessions"`
}

// turnJSON is one retained exchange.
type turnJSON struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
	UsedRAG   bool      `json:"used_rag"`
}

type sessionDetail struct {
	SessionID    string     `json:"session_id"`
	MessageCount int64      `json:"message_count"`
	Summary      string     `json:"summary"`
	Messages     []turnJSON `json:"messages"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUpdated  time.Time  `json:"last_updated"`
}

type summarizeResponse struct {
	SessionID    string `json:"session_id"`
	Summary      string `json:"summary"`
	MessageCount int64  `json:"message_count"`
}

func (g *Gateway) handleStartSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := g.chat.StartSession(r.Context())
		g.auditSession(r, security.EventSessionCreate, st.ID)
		writeJSON(w, http.StatusCreated, sessionCreated{SessionID: st.ID, CreatedAt: st.CreatedAt})
	}
}

func (g *Gateway) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		infos := g.chat.ListSessions()
		if infos == nil {
			infos = []session.Info{}
		}
		writeJSON(w, http.StatusOK, sessionList{Total: len(infos), Sessions: infos})
	}
}

// handleGetSession returns the session with its most recent turns.
func (g *Gateway) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := g.chat.GetSession(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}

		turns := st.Turns
		if n := g.config.HistoryLimit; len(turns) > n {
			turns = turns[len(turns)-n:]
		}
		out := sessionDetail{
			SessionID:    st.ID,
			MessageCount: st.TurnCount,
			Summary:      st.Summary,
			Messages:     make([]turnJSON, 0, len(turns)),
			CreatedAt:    st.CreatedAt,
			LastUpdated:  st.LastActivityAt,
		}
		for _, t := range turns {
			out.Messages = append(out.Messages, turnJSON{
				User:      t.User.Text,
				Assistant: t.Assistant.Text,
				Timestamp: t.Assistant.Timestamp,
				UsedRAG:   t.UsedRAG,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (g *Gateway) handleDeleteSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := g.chat.DeleteSession(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		g.auditSession(r, security.EventSessionDelete, id)
		writeJSON(w, http.StatusOK, map[string]string{"message": "session " + id + " deleted"})
	}
}

// handleSummarize compacts the session immediately.
func (g *Gateway) handleSummarize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		st, err := g.chat.ForceSummarize(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		g.auditSession(r, security.EventSessionSummarize, id)
		writeJSON(w, http.StatusOK, summarizeResponse{
			SessionID:    st.ID,
			Summary:      st.Summary,
			MessageCount: st.TurnCount,
		})
	}
}

func (g *Gateway) auditSession(r *http.Request, t security.EventType, id string) {
	g.audit.Log(security.AuditEvent{
		Type:      t,
		SessionID: id,
		Remote:    r.RemoteAddr,
		Route:     r.Method + " " + r.URL.Path,
	})
}
