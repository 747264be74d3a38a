// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/flemzord/ragchat/internal/cron"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu    sync.Mutex
	calls int
}

var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockSessions implements cron.SessionPruner and cron.CompactionSweeper.
type MockSessions struct {
	Pruned    []string
	Scheduled int

	PruneCalls atomic.Int32
	SweepCalls atomic.Int32
}

var (
	_ cron.SessionPruner     = (*MockSessions)(nil)
	_ cron.CompactionSweeper = (*MockSessions)(nil)
)

// PruneIdle returns Pruned.
func (m *MockSessions) PruneIdle(context.Context) []string {
	m.PruneCalls.Add(1)
	return m.Pruned
}

// SweepCompactions returns Scheduled.
func (m *MockSessions) SweepCompactions() int {
	m.SweepCalls.Add(1)
	return m.Scheduled
}
