package ctxengine_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	ctxengine "github.com/flemzord/ragchat/internal/context"
	"github.com/flemzord/ragchat/internal/session"
)

func TestShouldCompact_Policies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy ctxengine.TriggerPolicy
		state  session.State
		want   bool
	}{
		{"count below", ctxengine.PolicyCount, session.State{SinceCompaction: 4, TurnCount: 9}, false},
		{"count reached", ctxengine.PolicyCount, session.State{SinceCompaction: 5, TurnCount: 9}, true},
		{"modulo hit", ctxengine.PolicyModulo, session.State{TurnCount: 10}, true},
		{"modulo miss", ctxengine.PolicyModulo, session.State{TurnCount: 11}, false},
		{"modulo zero", ctxengine.PolicyModulo, session.State{}, false},
		{"size within", ctxengine.PolicySize, session.State{Turns: makeTurns(3)}, false},
		{"size over", ctxengine.PolicySize, session.State{Turns: makeTurns(4)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := ctxengine.NewCompactor(session.NewStore(), &mockSummarizer{}, ctxengine.Config{
				SummarizeThreshold: 5,
				MaxHistoryMessages: 3,
				Policy:             tt.policy,
			})
			if got := c.ShouldCompact(tt.state); got != tt.want {
				t.Errorf("ShouldCompact = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompactor_ReplacesPrefix(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	id := fill(t, store, 10)
	sum := &mockSummarizer{result: "  the gist  "}
	var outcomes []string
	c := ctxengine.NewCompactor(store, sum, ctxengine.Config{SummarizeThreshold: 10, MaxHistoryMessages: 5},
		ctxengine.WithResultHook(func(o string) { outcomes = append(outcomes, o) }))

	st, compacted, err := c.MaybeCompact(context.Background(), id)
	if err != nil || !compacted {
		t.Fatalf("MaybeCompact = %v, %v", compacted, err)
	}
	if st.Summary != "the gist" {
		t.Errorf("summary = %q", st.Summary)
	}
	if len(st.Turns) != 5 || st.Turns[0].Seq != 6 || st.TurnCount != 10 || st.SinceCompaction != 0 {
		t.Errorf("state after compaction: turns=%d first=%d count=%d since=%d",
			len(st.Turns), st.Turns[0].Seq, st.TurnCount, st.SinceCompaction)
	}

	p := sum.prompts[0]
	if !strings.Contains(p, "question 4") || strings.Contains(p, "question 5") {
		t.Error("summarization prompt should hold exactly the older prefix")
	}
	if len(outcomes) != 1 || outcomes[0] != ctxengine.OutcomeCompacted {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestCompactor_FoldsPreviousSummary(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	id := fill(t, store, 6)
	sum := &mockSummarizer{result: "first"}
	c := ctxengine.NewCompactor(store, sum, ctxengine.Config{SummarizeThreshold: 6, MaxHistoryMessages: 2})

	if _, _, err := c.MaybeCompact(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	for _, turn := range makeTurns(6) {
		_, _, _ = store.AppendTurn(context.Background(), id, turn.User, turn.Assistant, false)
	}
	sum.result = "second"
	st, compacted, _ := c.MaybeCompact(context.Background(), id)
	if !compacted || st.Summary != "second" {
		t.Fatalf("second compaction: compacted=%v summary=%q", compacted, st.Summary)
	}
	if !strings.Contains(sum.prompts[1], "Earlier summary: first") {
		t.Error("second summarization should fold in the previous summary")
	}
}

func TestCompactor_FailureLeavesHistory(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		sum  *mockSummarizer
	}{
		{"error", &mockSummarizer{err: errors.New("model down")}},
		{"empty", &mockSummarizer{result: "   "}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := session.NewStore()
			id := fill(t, store, 5)
			c := ctxengine.NewCompactor(store, tc.sum, ctxengine.Config{SummarizeThreshold: 5, MaxHistoryMessages: 3})

			st, compacted, err := c.MaybeCompact(context.Background(), id)
			if err != nil || compacted {
				t.Fatalf("MaybeCompact = %v, %v; want absorbed failure", compacted, err)
			}
			if len(st.Turns) != 5 || st.Summary != "" || st.SinceCompaction != 5 {
				t.Errorf("history changed on failure: %+v", st)
			}

			// The trigger is still armed, so the next exchange retries.
			if !c.ShouldCompact(st) {
				t.Error("failed compaction should leave the trigger armed")
			}
		})
	}
}

func TestCompactor_ForceBypassesTrigger(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	id := fill(t, store, 4)
	sum := &mockSummarizer{result: "forced"}
	c := ctxengine.NewCompactor(store, sum, ctxengine.Config{SummarizeThreshold: 100, MaxHistoryMessages: 3})

	st, err := c.Force(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Summary != "forced" || len(st.Turns) != 3 {
		t.Errorf("state = %+v", st)
	}

	// Nothing older than the retained window: no model call.
	if _, err := c.Force(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if sum.calls() != 1 {
		t.Errorf("summarizer calls = %d, want 1", sum.calls())
	}
}

func TestCompactor_ForceErrors(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	c := ctxengine.NewCompactor(store, &mockSummarizer{err: errors.New("boom")}, ctxengine.Config{MaxHistoryMessages: 1})

	if _, err := c.Force(context.Background(), "missing"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("unknown id: err = %v", err)
	}

	id := fill(t, store, 3)
	if _, err := c.Force(context.Background(), id); !errors.Is(err, ctxengine.ErrSummarizationFailed) {
		t.Errorf("err = %v, want ErrSummarizationFailed", err)
	}
}

func TestCompactor_PreservesConcurrentAppends(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	id := fill(t, store, 5)
	sum := &mockSummarizer{result: "sum", entered: make(chan struct{}, 1), block: make(chan struct{})}
	c := ctxengine.NewCompactor(store, sum, ctxengine.Config{SummarizeThreshold: 5, MaxHistoryMessages: 2})

	c.Schedule(id)
	<-sum.entered
	for _, turn := range makeTurns(2) {
		if _, _, err := store.AppendTurn(context.Background(), id, turn.User, turn.Assistant, false); err != nil {
			t.Fatal(err)
		}
	}
	close(sum.block)
	c.Wait()

	st, _ := store.Get(id)
	if st.Summary != "sum" {
		t.Fatalf("compaction did not apply: %+v", st)
	}
	// Retained: seq 4 and 5 from the snapshot, plus 6 and 7 appended meanwhile.
	if len(st.Turns) != 4 || st.Turns[0].Seq != 4 || st.Turns[3].Seq != 7 {
		t.Errorf("turns = %d (first seq %d)", len(st.Turns), st.Turns[0].Seq)
	}
	if st.TurnCount != 7 || st.SinceCompaction != 2 {
		t.Errorf("counters = %d/%d, want 7/2", st.TurnCount, st.SinceCompaction)
	}
}

func TestCompactor_NoPrefixIsNoop(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	id := fill(t, store, 2)
	sum := &mockSummarizer{result: "x"}
	c := ctxengine.NewCompactor(store, sum, ctxengine.Config{SummarizeThreshold: 1, MaxHistoryMessages: 3})

	_, compacted, err := c.MaybeCompact(context.Background(), id)
	if err != nil || compacted || sum.calls() != 0 {
		t.Errorf("compacted=%v err=%v calls=%d; want no-op", compacted, err, sum.calls())
	}
}
