package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/flemzord/ragchat/internal/chat"
	"github.com/flemzord/ragchat/internal/provider"
)

func TestChatStream_SSE(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodPost, "/chat/stream", `{"message":"capital of France?"}`)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	frames := readSSE(t, resp.Body)
	if got := frameTypes(frames); got != "chunk,chunk,metadata,done" {
		t.Fatalf("frames = %s", got)
	}
	if frames[0].Content+frames[1].Content != "Paris." {
		t.Errorf("content = %q", frames[0].Content+frames[1].Content)
	}
	meta := frames[2]
	if meta.SessionID == "" || meta.SessionID != frames[0].SessionID {
		t.Errorf("session ids differ: %q vs %q", meta.SessionID, frames[0].SessionID)
	}
	if meta.MessageCount != 1 || meta.UsedRAG == nil || !*meta.UsedRAG {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.ContextUsed == nil || *meta.ContextUsed != "The capital of France is Paris." {
		t.Errorf("context_used = %v", meta.ContextUsed)
	}

	st, err := env.store.Get(meta.SessionID)
	if err != nil || st.TurnCount != 1 || st.Turns[0].Assistant.Text != "Paris." {
		t.Errorf("committed state = %+v, %v", st, err)
	}
}

func TestChatStream_SetupErrorIsJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	st := env.store.Create(t.Context())
	if err := env.store.Delete(t.Context(), st.ID); err != nil {
		t.Fatal(err)
	}
	resp := env.do(t, http.MethodPost, "/chat/stream", `{"message":"hi","session_id":"`+st.ID+`"}`)
	expectStatus(t, resp, http.StatusNotFound)
	if body := decode[errorBody](t, resp); body.Error.Kind != chat.KindSessionNotFound {
		t.Errorf("kind = %q", body.Error.Kind)
	}
}

func TestChatStream_MidStreamFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.model.StreamFunc = func(context.Context, provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
		ch := make(chan provider.StreamChunk, 2)
		ch <- provider.StreamChunk{Content: "Par"}
		ch <- provider.StreamChunk{Err: errors.New("connection reset")}
		close(ch)
		return ch, nil
	}

	resp := env.do(t, http.MethodPost, "/chat/stream", `{"message":"capital?"}`)
	expectStatus(t, resp, http.StatusOK)

	frames := readSSE(t, resp.Body)
	if got := frameTypes(frames); got != "chunk,error" {
		t.Fatalf("frames = %s", got)
	}
	if frames[1].Kind != chat.KindStreamInterrupted || frames[1].Error == "" {
		t.Errorf("error frame = %+v", frames[1])
	}
	if env.store.TotalTurns() != 0 {
		t.Error("interrupted stream must not be committed")
	}
}

func TestChatWS_Turns(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(env.srv.URL, "http")+"/chat/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	readTurn := func() []frame {
		var frames []frame
		for {
			var f frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				t.Fatalf("Read: %v", err)
			}
			frames = append(frames, f)
			if f.Type == chat.EventDone || f.Type == chat.EventError {
				return frames
			}
		}
	}

	if err := wsjson.Write(ctx, conn, chatRequest{Message: "capital of France?"}); err != nil {
		t.Fatal(err)
	}
	first := readTurn()
	if got := frameTypes(first); got != "chunk,chunk,metadata,done" {
		t.Fatalf("first turn frames = %s", got)
	}
	id := first[2].SessionID

	// A malformed request is reported and the connection stays usable.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"message":`)); err != nil {
		t.Fatal(err)
	}
	if bad := readTurn(); len(bad) != 1 || bad[0].Kind != chat.KindInvalidRequest {
		t.Fatalf("malformed frames = %+v", bad)
	}

	if err := wsjson.Write(ctx, conn, chatRequest{Message: "and Spain?", SessionID: id}); err != nil {
		t.Fatal(err)
	}
	second := readTurn()
	if meta := second[len(second)-2]; meta.MessageCount != 2 || meta.SessionID != id {
		t.Errorf("second metadata = %+v", meta)
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Errorf("Close: %v", err)
	}
}
