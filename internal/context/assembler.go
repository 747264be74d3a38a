package ctxengine

import (
	"fmt"

	"github.com/flemzord/ragchat/internal/prompt"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/session"
)

// AssemblyRequest contains the inputs for context assembly.
type AssemblyRequest struct {
	// System is the system instruction sent alongside the prompt. It counts
	// against the budget.
	System string

	// Message is the new user message. It is always included in full.
	Message string

	// Summary is the session's rolling summary, if any.
	Summary string

	// Turns are the retained exchanges, oldest first.
	Turns []session.Turn

	// Passages are retrieved passages, best first.
	Passages []retrieval.Passage
}

// Inclusion records what made it into the prompt.
type Inclusion struct {
	Summary         bool                `json:"summary"`
	SummaryDropped  bool                `json:"summary_dropped,omitempty"`
	Turns           int                 `json:"turns"`
	TurnsDropped    int                 `json:"turns_dropped,omitempty"`
	Passages        []retrieval.Passage `json:"passages,omitempty"`
	PassagesDropped int                 `json:"passages_dropped,omitempty"`
}

// Assembly is the output of context assembly.
type Assembly struct {
	Prompt   string      `json:"-"`
	Kind     prompt.Kind `json:"kind"`
	Used     Inclusion   `json:"used"`
	Estimate int         `json:"estimate"`
	Budget   int         `json:"budget"`
}

// ContextAssembler builds the prompt for one turn under a fixed budget.
type ContextAssembler struct {
	estimator TokenEstimator
	budget    int
}

// NewContextAssembler creates an assembler from cfg.
func NewContextAssembler(cfg Config) *ContextAssembler {
	cfg = cfg.WithDefaults()
	return &ContextAssembler{
		estimator: cfg.Estimator(),
		budget:    cfg.MaxContextLength,
	}
}

// Budget returns the configured budget.
func (a *ContextAssembler) Budget() int {
	return a.budget
}

// Assemble builds the prompt for req. Every candidate is measured by
// rendering the full prompt, so section headers are always accounted for.
// Inclusion follows a fixed precedence:
//
//  1. The new message and system instruction; ErrContextTooLarge if even
//     these alone exceed the budget.
//  2. The summary, all or nothing.
//  3. The longest suffix of recent exchanges that fits.
//  4. The longest prefix of ranked passages that fits. The grounded
//     template is used only when at least one passage is included.
func (a *ContextAssembler) Assemble(req AssemblyRequest) (Assembly, error) {
	fixed := a.estimator.Estimate(req.System)
	fields := prompt.Fields{Message: req.Message}

	measure := func(kind prompt.Kind, f prompt.Fields) (string, int) {
		p := prompt.MustRender(kind, f)
		return p, fixed + a.estimator.Estimate(p)
	}

	best, size := measure(prompt.KindPlainChat, fields)
	if size > a.budget {
		return Assembly{}, fmt.Errorf("%w: message needs %d, budget is %d", ErrContextTooLarge, size, a.budget)
	}

	var used Inclusion

	if req.Summary != "" {
		f := fields
		f.Summary = req.Summary
		if p, n := measure(prompt.KindPlainChat, f); n <= a.budget {
			fields, best, size = f, p, n
			used.Summary = true
		} else {
			used.SummaryDropped = true
		}
	}

	for i := len(req.Turns) - 1; i >= 0; i-- {
		f := fields
		f.History = exchanges(req.Turns[i:])
		p, n := measure(prompt.KindPlainChat, f)
		if n > a.budget {
			break
		}
		fields, best, size = f, p, n
		used.Turns = len(req.Turns) - i
	}
	used.TurnsDropped = len(req.Turns) - used.Turns

	kind := prompt.KindPlainChat
	for j := range req.Passages {
		f := fields
		f.Passages = retrieval.Texts(req.Passages[:j+1])
		p, n := measure(prompt.KindRAGChat, f)
		if n > a.budget {
			break
		}
		best, size, kind = p, n, prompt.KindRAGChat
		used.Passages = req.Passages[:j+1]
	}
	used.PassagesDropped = len(req.Passages) - len(used.Passages)

	return Assembly{
		Prompt:   best,
		Kind:     kind,
		Used:     used,
		Estimate: size,
		Budget:   a.budget,
	}, nil
}

func exchanges(turns []session.Turn) []prompt.Exchange {
	out := make([]prompt.Exchange, len(turns))
	for i, t := range turns {
		out[i] = prompt.Exchange{User: t.User.Text, Assistant: t.Assistant.Text}
	}
	return out
}
