package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flemzord/ragchat/internal/chat"
	ctxengine "github.com/flemzord/ragchat/internal/context"
	"github.com/flemzord/ragchat/internal/session"
)

func TestWriteError_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
		kind chat.Kind
	}{
		{session.ErrSessionNotFound, http.StatusNotFound, chat.KindSessionNotFound},
		{fmt.Errorf("assembling: %w", ctxengine.ErrContextTooLarge), http.StatusRequestEntityTooLarge, chat.KindContextTooLarge},
		{fmt.Errorf("%w: timeout", chat.ErrGenerationFailed), http.StatusBadGateway, chat.KindGenerationFailed},
		{chat.ErrEmptyMessage, http.StatusBadRequest, chat.KindInvalidRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError, chat.KindInternal},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		writeError(rr, tt.err)
		if rr.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rr.Code, tt.want)
		}
		if got := rr.Body.String(); !strings.Contains(got, string(tt.kind)) {
			t.Errorf("%v: body = %s", tt.err, got)
		}
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	writeError(rr, errors.New("open /var/lib/ragchat/db: permission denied"))
	if strings.Contains(rr.Body.String(), "/var/lib") {
		t.Errorf("internal detail leaked: %s", rr.Body.String())
	}
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"10.0.0.1:5555": "10.0.0.1",
		"[::1]:8080":    "::1",
		"10.0.0.2":      "10.0.0.2",
		"::1":           "::1",
	}
	for in, want := range tests {
		if got := clientKey(in); got != want {
			t.Errorf("clientKey(%q) = %q, want %q", in, got, want)
		}
	}
}
