package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/ragchat/internal/chat"
	"github.com/flemzord/ragchat/internal/core"
	"github.com/flemzord/ragchat/internal/provider"
	"github.com/flemzord/ragchat/internal/provider/providertest"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/retrieval/retrievaltest"
	"github.com/flemzord/ragchat/internal/security"
	"github.com/flemzord/ragchat/internal/security/securitytest"
	"github.com/flemzord/ragchat/internal/session"
)

type stubSummarizer struct{ text string }

func (s stubSummarizer) Summarize(context.Context, string) (string, error) {
	return s.text, nil
}

// testEnv is a gateway served by httptest in front of a real orchestrator
// backed by mocks.
type testEnv struct {
	g      *Gateway
	srv    *httptest.Server
	appCtx *core.AppContext
	model  *providertest.MockProvider
	store  *session.Store
	audit  func() []security.AuditEvent
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	model := &providertest.MockProvider{
		Model:        "mock-model",
		CompleteFunc: providertest.Reply("Paris."),
		StreamFunc:   providertest.Chunks("Par", "is."),
	}
	chain, err := provider.NewChain([]provider.ChainEntry{
		{Name: "mock", Provider: model, Role: provider.RolePrimary},
	})
	if err != nil {
		t.Fatal(err)
	}
	rag := &retrievaltest.MockRetriever{Passages: []retrieval.Passage{
		{Text: "The capital of France is Paris.", Score: 0.9},
	}}

	store := session.NewStore()
	orch, err := chat.New(chat.Config{
		Settings:   chat.Settings{SystemPrompt: "You answer geography questions."},
		Store:      store,
		Chain:      chain,
		Gate:       retrieval.NewGate(rag, retrieval.GateConfig{Enabled: true}),
		Summarizer: stubSummarizer{text: "The user asked about France."},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(orch.Wait)

	audit, events := securitytest.NewTestAuditLogger()
	reg := prometheus.NewRegistry()
	appCtx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())
	appCtx.RegisterService("security.audit", audit)
	appCtx.RegisterService("metrics.registerer", reg)
	appCtx.RegisterService("metrics.gatherer", reg)
	appCtx.RegisterService("chat.orchestrator", orch)

	g := &Gateway{}
	if mutate != nil {
		mutate(&g.config)
	}
	if err := g.Provision(appCtx.ForModule(moduleID)); err != nil {
		t.Fatal(err)
	}
	g.chat = orch
	g.startedAt = time.Now()

	srv := httptest.NewServer(g.buildRouter())
	t.Cleanup(srv.Close)

	return &testEnv{g: g, srv: srv, appCtx: appCtx, model: model, store: store, audit: events}
}

// do sends a request with an optional JSON body and returns the response.
func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, e.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, want, b)
	}
}

// readSSE collects every data frame of an event stream.
func readSSE(t *testing.T, body io.Reader) []frame {
	t.Helper()
	var frames []frame
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var f frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func frameTypes(frames []frame) string {
	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = string(f.Type)
	}
	return strings.Join(types, ",")
}
