package chat_test

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/ragchat/internal/chat"
	"github.com/flemzord/ragchat/internal/provider"
	"github.com/flemzord/ragchat/internal/provider/providertest"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/retrieval/retrievaltest"
	"github.com/flemzord/ragchat/internal/session"
)

type stubSummarizer struct {
	mu     sync.Mutex
	result string
	err    error
	calls  int
}

func (s *stubSummarizer) Summarize(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, s.err
}

type fixture struct {
	orch     *chat.Orchestrator
	store    *session.Store
	model    *providertest.MockProvider
	rag      *retrievaltest.MockRetriever
	sum      *stubSummarizer
	registry *prometheus.Registry
}

// newFixture wires an orchestrator to mocks. A nil rag disables retrieval.
func newFixture(t *testing.T, settings chat.Settings, model *providertest.MockProvider, rag *retrievaltest.MockRetriever) *fixture {
	t.Helper()

	chain, err := provider.NewChain([]provider.ChainEntry{
		{Name: "mock", Provider: model, Role: provider.RolePrimary},
	})
	if err != nil {
		t.Fatal(err)
	}

	var r retrieval.Retriever
	if rag != nil {
		r = rag
	}
	if settings.SystemPrompt == "" {
		settings.SystemPrompt = "You are a test assistant."
	}

	f := &fixture{
		store:    session.NewStore(),
		model:    model,
		rag:      rag,
		sum:      &stubSummarizer{result: "summary of earlier turns"},
		registry: prometheus.NewRegistry(),
	}
	metrics := chat.NewMetrics(f.registry, func() float64 { return float64(f.store.Len()) })
	f.orch, err = chat.New(chat.Config{
		Settings:   settings,
		Store:      f.store,
		Chain:      chain,
		Gate:       retrieval.NewGate(r, retrieval.GateConfig{Enabled: true, TopK: 5}),
		Summarizer: f.sum,
		Metrics:    metrics,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(f.orch.Wait)
	return f
}

// counter returns the value of the named counter series whose labels
// include every pair in labels.
func (f *fixture) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	series:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func promptOf(t *testing.T, m *providertest.MockProvider) string {
	t.Helper()
	req, ok := m.LastRequest()
	if !ok {
		t.Fatal("model was never called")
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != provider.MessageRoleSystem {
		t.Fatalf("messages = %+v, want system then user", req.Messages)
	}
	return req.Messages[1].Content
}
