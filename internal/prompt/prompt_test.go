package prompt

import (
	"errors"
	"strings"
	"testing"
)

func TestRender_PlainChat(t *testing.T) {
	t.Parallel()

	got, err := Render(KindPlainChat, Fields{Message: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "CONVERSATION HISTORY:") {
		t.Error("empty history should omit the history section")
	}
	if !strings.Contains(got, "CURRENT USER MESSAGE:\nhello\n") {
		t.Errorf("message section missing:\n%s", got)
	}
	if !strings.HasSuffix(got, "RESPONSE:") {
		t.Errorf("prompt should end with RESPONSE:, got %q", got[len(got)-20:])
	}
}

func TestRender_RAGChat(t *testing.T) {
	t.Parallel()

	got, err := Render(KindRAGChat, Fields{
		Message:  "what is go?",
		Summary:  "talked about languages",
		History:  []Exchange{{User: "hi", Assistant: "hey"}},
		Passages: []string{"Go is a language.", "It has goroutines."},
	})
	if err != nil {
		t.Fatal(err)
	}

	order := []string{
		"CONVERSATION HISTORY:",
		"Previous conversation summary:\ntalked about languages",
		"User: hi\n\nAssistant: hey",
		"KNOWLEDGE BASE CONTEXT:\nGo is a language.\n\nIt has goroutines.",
		"CURRENT USER MESSAGE:\nwhat is go?",
		"RESPONSE:",
	}
	pos := 0
	for _, want := range order {
		i := strings.Index(got[pos:], want)
		if i < 0 {
			t.Fatalf("missing %q after offset %d in:\n%s", want, pos, got)
		}
		pos += i + len(want)
	}
}

func TestRender_Summarize(t *testing.T) {
	t.Parallel()

	got, err := Render(KindSummarize, Fields{
		Summary: "old",
		History: []Exchange{{User: "a", Assistant: "b"}, {User: "c", Assistant: "d"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "CONVERSATION TO SUMMARIZE:\nEarlier summary: old\nUser: a\nAssistant: b\nUser: c\nAssistant: d\n"
	if !strings.Contains(got, want) {
		t.Errorf("transcript section missing:\n%s", got)
	}
	if !strings.HasSuffix(got, "SUMMARY:") {
		t.Error("summarize prompt should end with SUMMARY:")
	}
}

func TestRender_UnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := Render("nope", Fields{}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestMustRender(t *testing.T) {
	t.Parallel()

	want, err := Render(KindPlainChat, Fields{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if got := MustRender(KindPlainChat, Fields{Message: "hi"}); got != want {
		t.Errorf("MustRender = %q, want %q", got, want)
	}

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrUnknownKind) {
			t.Errorf("recovered %v, want ErrUnknownKind", r)
		}
	}()
	MustRender("nope", Fields{})
	t.Error("MustRender did not panic on an unknown kind")
}

func TestRender_Deterministic(t *testing.T) {
	t.Parallel()

	f := Fields{Message: "m", History: []Exchange{{User: "u", Assistant: "a"}}, Passages: []string{"p"}}
	a, _ := Render(KindRAGChat, f)
	b, _ := Render(KindRAGChat, f)
	if a != b {
		t.Error("rendering the same fields twice produced different prompts")
	}
}

func TestConversationContext_Empty(t *testing.T) {
	t.Parallel()

	if got := ConversationContext("", nil); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
