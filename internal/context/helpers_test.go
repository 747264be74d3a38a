package ctxengine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/flemzord/ragchat/internal/prompt"
	"github.com/flemzord/ragchat/internal/session"
)

// mockSummarizer returns a fixed result and records the prompts it saw.
type mockSummarizer struct {
	mu      sync.Mutex
	result  string
	err     error
	prompts []string
	entered chan struct{}
	block   chan struct{}
}

func (m *mockSummarizer) Summarize(_ context.Context, p string) (string, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, p)
	return m.result, m.err
}

func (m *mockSummarizer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func makeTurns(n int) []session.Turn {
	turns := make([]session.Turn, n)
	for i := range turns {
		turns[i] = session.Turn{
			Seq:       int64(i + 1),
			User:      session.Message{Role: session.RoleUser, Text: fmt.Sprintf("question %d", i)},
			Assistant: session.Message{Role: session.RoleAssistant, Text: fmt.Sprintf("answer %d", i)},
		}
	}
	return turns
}

// fill creates a session holding n exchanges.
func fill(t *testing.T, store *session.Store, n int) string {
	t.Helper()
	st := store.Create(context.Background())
	for _, turn := range makeTurns(n) {
		if _, _, err := store.AppendTurn(context.Background(), st.ID, turn.User, turn.Assistant, false); err != nil {
			t.Fatal(err)
		}
	}
	return st.ID
}

func size(t *testing.T, kind prompt.Kind, f prompt.Fields) int {
	t.Helper()
	p, err := prompt.Render(kind, f)
	if err != nil {
		t.Fatal(err)
	}
	return len([]rune(p))
}

func history(turns []session.Turn) []prompt.Exchange {
	out := make([]prompt.Exchange, len(turns))
	for i, t := range turns {
		out[i] = prompt.Exchange{User: t.User.Text, Assistant: t.Assistant.Text}
	}
	return out
}
