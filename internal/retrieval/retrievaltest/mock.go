// Package retrievaltest provides test doubles for the retrieval package.
package retrievaltest

import (
	"context"
	"sync"

	"github.com/flemzord/ragchat/internal/retrieval"
)

// MockRetriever returns fixed passages or a fixed error. When Block is set
// it waits for the context to end before answering.
type MockRetriever struct {
	Passages []retrieval.Passage
	Err      error
	Block    bool

	mu      sync.Mutex
	Queries []retrieval.Query
}

// Retrieve records q and returns the configured outcome.
func (m *MockRetriever) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.Passage, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, q)
	m.mu.Unlock()

	if m.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Passages, nil
}

// Calls returns the number of Retrieve calls.
func (m *MockRetriever) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Queries)
}

var _ retrieval.Retriever = (*MockRetriever)(nil)
