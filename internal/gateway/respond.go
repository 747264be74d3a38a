package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flemzord/ragchat/internal/chat"
	"github.com/flemzord/ragchat/internal/security"
)

// Gateway-level error kinds, alongside chat.Kind values.
const (
	kindUnauthorized chat.Kind = "unauthorized"
	kindRateLimited  chat.Kind = "rate_limited"
	kindTooLarge     chat.Kind = "request_too_large"
	kindUnavailable  chat.Kind = "unavailable"
	kindConflict     chat.Kind = "conflict"
)

// statusClientClosed is reported when the client went away mid-request.
const statusClientClosed = 499

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    chat.Kind `json:"kind"`
	Message string    `json:"message"`
}

func statusFor(kind chat.Kind) int {
	switch kind {
	case chat.KindInvalidRequest:
		return http.StatusBadRequest
	case chat.KindSessionNotFound:
		return http.StatusNotFound
	case chat.KindContextTooLarge, kindTooLarge:
		return http.StatusRequestEntityTooLarge
	case chat.KindGenerationFailed, chat.KindStreamInterrupted,
		chat.KindSummarizationFailed, chat.KindRetrievalFailed:
		return http.StatusBadGateway
	case chat.KindCanceled:
		return statusClientClosed
	case kindUnauthorized:
		return http.StatusUnauthorized
	case kindRateLimited:
		return http.StatusTooManyRequests
	case kindUnavailable:
		return http.StatusServiceUnavailable
	case kindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status code and the JSON error body.
func writeError(w http.ResponseWriter, err error) {
	te := chat.NewTurnError(err)
	msg := te.Err.Error()
	if te.Kind == chat.KindInternal {
		msg = "internal error"
	}
	writeProblem(w, te.Kind, msg)
}

func writeProblem(w http.ResponseWriter, kind chat.Kind, msg string) {
	writeJSON(w, statusFor(kind), errorBody{Error: errorDetail{Kind: kind, Message: msg}})
}

// decodeBody reads a JSON request body and reports problems as 400 or 413.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int, v any) bool {
	err := security.DecodeJSON(r.Body, limit, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, security.ErrMessageTooLarge):
		writeProblem(w, kindTooLarge, err.Error())
	default:
		writeProblem(w, chat.KindInvalidRequest, err.Error())
	}
	return false
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
