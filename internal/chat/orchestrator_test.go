package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/ragchat/internal/chat"
	ctxengine "github.com/flemzord/ragchat/internal/context"
	"github.com/flemzord/ragchat/internal/provider"
	"github.com/flemzord/ragchat/internal/provider/providertest"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/retrieval/retrievaltest"
	"github.com/flemzord/ragchat/internal/session"
)

func TestSubmitTurn_NewSession(t *testing.T) {
	t.Parallel()

	model := &providertest.MockProvider{CompleteFunc: providertest.Reply("Hi there")}
	f := newFixture(t, chat.Settings{}, model, nil)

	res, err := f.orch.SubmitTurn(context.Background(), chat.TurnRequest{Message: "Hello"})
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionID == "" || res.Response != "Hi there" || res.MessageCount != 1 || res.UsedRAG {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(promptOf(t, model), "Hello") {
		t.Error("prompt should carry the user message")
	}

	st, err := f.orch.GetSession(res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Turns) != 1 || st.Turns[0].User.Text != "Hello" || st.Turns[0].Assistant.Text != "Hi there" {
		t.Errorf("stored turns = %+v", st.Turns)
	}
	if got := f.counter(t, "ragchat_turns_total", map[string]string{"mode": "buffered", "outcome": "ok"}); got != 1 {
		t.Errorf("turns_total{ok} = %v, want 1", got)
	}
}

func TestSubmitTurn_HistoryReachesPrompt(t *testing.T) {
	t.Parallel()

	model := &providertest.MockProvider{CompleteFunc: providertest.Reply("Paris.")}
	f := newFixture(t, chat.Settings{}, model, nil)
	ctx := context.Background()

	first, err := f.orch.SubmitTurn(ctx, chat.TurnRequest{Message: "Capital of France?"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.SubmitTurn(ctx, chat.TurnRequest{SessionID: first.SessionID, Message: "And its population?"}); err != nil {
		t.Fatal(err)
	}
	p := promptOf(t, model)
	if !strings.Contains(p, "User: Capital of France?") || !strings.Contains(p, "Assistant: Paris.") {
		t.Errorf("prompt lacks history:\n%s", p)
	}
}

func TestSubmitTurn_RejectsBeforeModelCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings chat.Settings
		req      chat.TurnRequest
		want     error
		kind     chat.Kind
	}{
		{
			name: "invalid session id",
			req:  chat.TurnRequest{SessionID: "a/b", Message: "hi"},
			want: session.ErrInvalidID,
			kind: chat.KindInvalidRequest,
		},
		{
			name: "empty message",
			req:  chat.TurnRequest{Message: "   "},
			want: chat.ErrEmptyMessage,
			kind: chat.KindInvalidRequest,
		},
		{
			name:     "message over budget",
			settings: chat.Settings{Config: ctxengine.Config{MaxContextLength: 100}},
			req:      chat.TurnRequest{Message: strings.Repeat("x", 200)},
			want:     ctxengine.ErrContextTooLarge,
			kind:     chat.KindContextTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			model := &providertest.MockProvider{CompleteFunc: providertest.Reply("unused")}
			f := newFixture(t, tt.settings, model, nil)

			_, err := f.orch.SubmitTurn(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if k := chat.KindOf(err); k != tt.kind {
				t.Errorf("KindOf = %q, want %q", k, tt.kind)
			}
			if c, _ := model.Calls(); c != 0 {
				t.Errorf("model called %d times", c)
			}
			if n := f.store.Len(); n != 0 {
				t.Errorf("rejected turn left %d sessions", n)
			}
		})
	}
}

func TestSubmitTurn_GenerationFailureCommitsNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error)
	}{
		{"error", func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, errors.New("model exploded")
		}},
		{"empty reply", providertest.Reply("  ")},
		{"deadline", func(ctx context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			<-ctx.Done()
			return provider.CompletionResponse{}, ctx.Err()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			model := &providertest.MockProvider{CompleteFunc: tt.reply}
			f := newFixture(t, chat.Settings{ModelTimeout: 20 * time.Millisecond}, model, nil)
			st := f.orch.StartSession(context.Background())

			_, err := f.orch.SubmitTurn(context.Background(), chat.TurnRequest{SessionID: st.ID, Message: "hi"})
			if !errors.Is(err, chat.ErrGenerationFailed) {
				t.Fatalf("err = %v, want ErrGenerationFailed", err)
			}
			after, _ := f.orch.GetSession(st.ID)
			if after.TurnCount != 0 || len(after.Turns) != 0 {
				t.Errorf("failed turn was committed: %+v", after)
			}
			if got := f.counter(t, "ragchat_turns_total", map[string]string{"outcome": "generation_failed"}); got != 1 {
				t.Errorf("turns_total{generation_failed} = %v, want 1", got)
			}
		})
	}
}

func TestSubmitTurn_GroundedInPassages(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 150)
	rag := &retrievaltest.MockRetriever{Passages: []retrieval.Passage{
		{Text: "low", Score: 0.1},
		{Text: long, Score: 0.9},
		{Text: strings.Repeat("b", 100), Score: 0.5},
	}}
	model := &providertest.MockProvider{CompleteFunc: providertest.Reply("grounded")}
	f := newFixture(t, chat.Settings{}, model, rag)

	res, err := f.orch.SubmitTurn(context.Background(), chat.TurnRequest{Message: "q", UseRAG: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.UsedRAG || len(res.Context.Passages) != 3 {
		t.Fatalf("UsedRAG=%v passages=%d", res.UsedRAG, len(res.Context.Passages))
	}
	if !strings.HasPrefix(res.ContextUsed, long) || !strings.HasSuffix(res.ContextUsed, "...") {
		t.Errorf("context preview should start with the best passage and be truncated: %q", res.ContextUsed)
	}
	if n := len([]rune(res.ContextUsed)); n != 203 {
		t.Errorf("preview length = %d, want 203", n)
	}
	if !strings.Contains(promptOf(t, model), long) {
		t.Error("prompt should carry the passages")
	}

	st, _ := f.orch.GetSession(res.SessionID)
	if !st.Turns[0].UsedRAG {
		t.Error("stored turn should record retrieval use")
	}
}

func TestSubmitTurn_RAGOptOut(t *testing.T) {
	t.Parallel()

	rag := &retrievaltest.MockRetriever{Passages: []retrieval.Passage{{Text: "p", Score: 1}}}
	model := &providertest.MockProvider{CompleteFunc: providertest.Reply("plain")}
	f := newFixture(t, chat.Settings{}, model, rag)

	res, err := f.orch.SubmitTurn(context.Background(), chat.TurnRequest{Message: "q", UseRAG: false})
	if err != nil {
		t.Fatal(err)
	}
	if res.UsedRAG || res.ContextUsed != "" || rag.Calls() != 0 {
		t.Errorf("UsedRAG=%v preview=%q retriever calls=%d", res.UsedRAG, res.ContextUsed, rag.Calls())
	}
}

func TestSubmitTurn_RetrievalFailureDegrades(t *testing.T) {
	t.Parallel()

	rag := &retrievaltest.MockRetriever{Err: errors.New("index offline")}
	model := &providertest.MockProvider{CompleteFunc: providertest.Reply("answer anyway")}
	f := newFixture(t, chat.Settings{}, model, rag)

	res, err := f.orch.SubmitTurn(context.Background(), chat.TurnRequest{Message: "q", UseRAG: true})
	if err != nil {
		t.Fatalf("retrieval failure should not fail the turn: %v", err)
	}
	if res.UsedRAG || len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "index offline") {
		t.Errorf("result = %+v", res)
	}
	if got := f.counter(t, "ragchat_retrieval_failures_total", nil); got != 1 {
		t.Errorf("retrieval_failures_total = %v, want 1", got)
	}
}

func TestSubmitTurn_SchedulesCompaction(t *testing.T) {
	t.Parallel()

	model := &providertest.MockProvider{CompleteFunc: providertest.Reply("ok")}
	f := newFixture(t, chat.Settings{Config: ctxengine.Config{SummarizeThreshold: 3, MaxHistoryMessages: 1}}, model, nil)
	ctx := context.Background()

	st := f.orch.StartSession(ctx)
	for range 3 {
		if _, err := f.orch.SubmitTurn(ctx, chat.TurnRequest{SessionID: st.ID, Message: "m"}); err != nil {
			t.Fatal(err)
		}
	}
	f.orch.Wait()

	got, _ := f.orch.GetSession(st.ID)
	if got.Summary != "summary of earlier turns" || len(got.Turns) != 1 || got.TurnCount != 3 {
		t.Errorf("after compaction: summary=%q turns=%d count=%d", got.Summary, len(got.Turns), got.TurnCount)
	}
	if c := f.counter(t, "ragchat_compactions_total", map[string]string{"outcome": ctxengine.OutcomeCompacted}); c != 1 {
		t.Errorf("compactions_total{compacted} = %v, want 1", c)
	}

	// The summary replaces the dropped turns in the next prompt.
	if _, err := f.orch.SubmitTurn(ctx, chat.TurnRequest{SessionID: st.ID, Message: "next"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(promptOf(t, model), "summary of earlier turns") {
		t.Error("prompt should carry the summary")
	}
}

func TestForceSummarize(t *testing.T) {
	t.Parallel()

	model := &providertest.MockProvider{CompleteFunc: providertest.Reply("ok")}
	f := newFixture(t, chat.Settings{Config: ctxengine.Config{SummarizeThreshold: 100, MaxHistoryMessages: 1}}, model, nil)
	ctx := context.Background()

	if _, err := f.orch.ForceSummarize(ctx, "missing"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}

	st := f.orch.StartSession(ctx)
	for range 2 {
		if _, err := f.orch.SubmitTurn(ctx, chat.TurnRequest{SessionID: st.ID, Message: "m"}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := f.orch.ForceSummarize(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary == "" || len(got.Turns) != 1 {
		t.Errorf("state = %+v", got)
	}

	f.sum.mu.Lock()
	f.sum.err = errors.New("summarizer down")
	f.sum.mu.Unlock()
	if _, err := f.orch.SubmitTurn(ctx, chat.TurnRequest{SessionID: st.ID, Message: "m"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.ForceSummarize(ctx, st.ID); chat.KindOf(err) != chat.KindSummarizationFailed {
		t.Errorf("KindOf(%v) = %q", err, chat.KindOf(err))
	}
}

func TestSubmitTurn_ClientChosenSessionID(t *testing.T) {
	t.Parallel()

	model := &providertest.MockProvider{CompleteFunc: providertest.Reply("hello")}
	f := newFixture(t, chat.Settings{}, model, nil)
	ctx := context.Background()
	const id = "client-generated-uuid"

	res, err := f.orch.SubmitTurn(ctx, chat.TurnRequest{SessionID: id, Message: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionID != id || res.MessageCount != 1 {
		t.Errorf("result = %+v", res)
	}
	st, err := f.orch.GetSession(id)
	if err != nil || st.TurnCount != 1 {
		t.Fatalf("GetSession = %+v, %v", st, err)
	}

	if err := f.orch.DeleteSession(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.SubmitTurn(ctx, chat.TurnRequest{SessionID: id, Message: "again"}); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("deleted id err = %v, want ErrSessionNotFound", err)
	}
	if f.store.Len() != 0 {
		t.Errorf("deleted id was recreated")
	}
}

func TestSubmitTurn_FailedTurnsCreateNoSession(t *testing.T) {
	t.Parallel()

	model := &providertest.MockProvider{
		CompleteFunc: func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, errors.New("model exploded")
		},
		StreamFunc: providertest.Chunks("partial"),
	}
	f := newFixture(t, chat.Settings{Config: ctxengine.Config{MaxContextLength: 100}}, model, nil)
	ctx := context.Background()

	if _, err := f.orch.SubmitTurn(ctx, chat.TurnRequest{Message: "hi"}); !errors.Is(err, chat.ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	for range 3 {
		_, err := f.orch.SubmitTurn(ctx, chat.TurnRequest{Message: strings.Repeat("x", 200)})
		if !errors.Is(err, ctxengine.ErrContextTooLarge) {
			t.Fatalf("err = %v, want ErrContextTooLarge", err)
		}
	}
	ts, err := f.orch.StreamTurn(ctx, chat.TurnRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	for range ts.Events() {
		break
	}
	ts.Close()

	if n := f.store.Len(); n != 0 {
		t.Errorf("sessions after failed turns = %d, want 0", n)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	model := &providertest.MockProvider{CompleteFunc: providertest.Reply("ok")}
	f := newFixture(t, chat.Settings{}, model, nil)
	ctx := context.Background()

	a := f.orch.StartSession(ctx)
	b := f.orch.StartSession(ctx)
	if n := len(f.orch.ListSessions()); n != 2 {
		t.Fatalf("sessions = %d, want 2", n)
	}
	if err := f.orch.DeleteSession(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.DeleteSession(ctx, a.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("second delete err = %v", err)
	}
	list := f.orch.ListSessions()
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("list = %+v", list)
	}
	if sessions, _ := f.orch.Stats(); sessions != 1 {
		t.Errorf("Stats sessions = %d", sessions)
	}
}

func TestSubmitTurn_SerializedTurnsSeePredecessor(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var prompts []string
	model := &providertest.MockProvider{}
	model.CompleteFunc = func(_ context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
		mu.Lock()
		prompts = append(prompts, req.Messages[1].Content)
		first := len(prompts) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
			return provider.CompletionResponse{Content: "first reply"}, nil
		}
		return provider.CompletionResponse{Content: "second reply"}, nil
	}
	f := newFixture(t, chat.Settings{SerializeTurns: true}, model, nil)
	st := f.orch.StartSession(context.Background())

	var wg sync.WaitGroup
	wg.Go(func() {
		_, _ = f.orch.SubmitTurn(context.Background(), chat.TurnRequest{SessionID: st.ID, Message: "one"})
	})
	<-entered
	wg.Go(func() {
		_, _ = f.orch.SubmitTurn(context.Background(), chat.TurnRequest{SessionID: st.ID, Message: "two"})
	})
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(prompts) != 2 || !strings.Contains(prompts[1], "first reply") {
		t.Errorf("second turn did not see the first reply: %q", prompts)
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want chat.Kind
	}{
		{nil, chat.KindNone},
		{chat.ErrEmptyMessage, chat.KindInvalidRequest},
		{session.ErrSessionNotFound, chat.KindSessionNotFound},
		{ctxengine.ErrContextTooLarge, chat.KindContextTooLarge},
		{chat.ErrGenerationFailed, chat.KindGenerationFailed},
		{errors.Join(chat.ErrStreamInterrupted, context.Canceled), chat.KindStreamInterrupted},
		{ctxengine.ErrSummarizationFailed, chat.KindSummarizationFailed},
		{retrieval.ErrRetrievalFailed, chat.KindRetrievalFailed},
		{context.Canceled, chat.KindCanceled},
		{errors.New("other"), chat.KindInternal},
	}
	for _, tt := range tests {
		if got := chat.KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
