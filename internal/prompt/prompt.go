// Package prompt renders the text templates sent to the model: grounded chat,
// plain chat and conversation summarization. Rendering is pure; the same
// fields always produce the same prompt.
package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// Kind selects a template.
type Kind string

// Template kinds.
const (
	KindRAGChat   Kind = "rag_chat"
	KindPlainChat Kind = "plain_chat"
	KindSummarize Kind = "summarize"
)

// ErrUnknownKind is returned by Render for an unrecognized template kind.
var ErrUnknownKind = errors.New("prompt: unknown template kind")

// System is the default system instruction sent ahead of every chat prompt.
const System = "You are a helpful, accurate, and conversational AI assistant. " +
	"Provide clear, concise, and relevant responses to user queries. " +
	"When using knowledge base information, cite it appropriately. " +
	"When information is uncertain or unavailable, be transparent about limitations."

// Exchange is one user message and the reply it received.
type Exchange struct {
	User      string
	Assistant string
}

// Fields carries the values substituted into a template. Chat templates read
// Message, Summary, History and Passages; the summarize template reads
// Summary and History.
type Fields struct {
	Message  string
	Summary  string
	History  []Exchange
	Passages []string
}

// Render produces the prompt text for kind.
func Render(kind Kind, f Fields) (string, error) {
	var b strings.Builder
	switch kind {
	case KindRAGChat:
		renderRAGChat(&b, f)
	case KindPlainChat:
		renderPlainChat(&b, f)
	case KindSummarize:
		renderSummarize(&b, f)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return b.String(), nil
}

// MustRender is like Render but panics if kind is unknown. It is meant for
// callers passing one of the Kind constants.
func MustRender(kind Kind, f Fields) string {
	p, err := Render(kind, f)
	if err != nil {
		panic(err)
	}
	return p
}

func renderRAGChat(b *strings.Builder, f Fields) {
	lines(b,
		"You are a helpful AI assistant with access to a knowledge base.",
		"Use the provided context to answer questions accurately and comprehensively.",
		"If the context doesn't contain relevant information, clearly state this and provide a helpful response based on your general knowledge.",
		"",
	)
	writeHistory(b, f)
	if len(f.Passages) > 0 {
		lines(b, "KNOWLEDGE BASE CONTEXT:", strings.Join(f.Passages, "\n\n"), "")
	}
	lines(b,
		"CURRENT USER MESSAGE:",
		f.Message,
		"",
		"INSTRUCTIONS:",
		"- Use the knowledge base context to answer the user's question if relevant",
		"- Consider the conversation history to maintain context and continuity",
		"- If the knowledge base doesn't contain relevant information, clearly mention this",
		"- Provide a helpful, accurate, and conversational response",
		"- Be concise but comprehensive",
		"",
	)
	b.WriteString("RESPONSE:")
}

func renderPlainChat(b *strings.Builder, f Fields) {
	lines(b,
		"You are a helpful AI assistant engaged in a conversation.",
		"Use the conversation history to maintain context and provide relevant, coherent responses.",
		"Be conversational and natural.",
		"",
	)
	writeHistory(b, f)
	lines(b,
		"CURRENT USER MESSAGE:",
		f.Message,
		"",
		"INSTRUCTIONS:",
		"- Consider the conversation history to maintain context and continuity",
		"- Provide a helpful, accurate, and conversational response",
		"- Be natural and engaging in your communication style",
		"",
	)
	b.WriteString("RESPONSE:")
}

func renderSummarize(b *strings.Builder, f Fields) {
	lines(b,
		"You are tasked with summarizing conversation history.",
		"Create a concise summary that captures the key topics discussed, important information shared, and the general context of the conversation.",
		"",
		"CONVERSATION TO SUMMARIZE:",
		Transcript(f.Summary, f.History),
		"",
		"INSTRUCTIONS:",
		"- Create a brief but comprehensive summary (2-3 sentences)",
		"- Focus on key topics, decisions, and important information",
		"- Maintain the context and flow of the conversation",
		"- Use clear, concise language",
		"",
	)
	b.WriteString("SUMMARY:")
}

func writeHistory(b *strings.Builder, f Fields) {
	if ctx := ConversationContext(f.Summary, f.History); ctx != "" {
		lines(b, "CONVERSATION HISTORY:", ctx, "")
	}
}

func lines(b *strings.Builder, ls ...string) {
	for _, l := range ls {
		b.WriteString(l)
		b.WriteByte('\n')
	}
}

// ConversationContext formats the summary and recent exchanges the way the
// chat templates embed them. It returns "" when both are empty.
func ConversationContext(summary string, history []Exchange) string {
	var parts []string
	if summary != "" {
		parts = append(parts, "Previous conversation summary:\n"+summary)
	}
	if len(history) > 0 {
		parts = append(parts, "Recent conversation:")
		for _, ex := range history {
			parts = append(parts, "User: "+ex.User, "Assistant: "+ex.Assistant)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Transcript formats exchanges one line per message, preceded by an earlier
// summary when there is one.
func Transcript(summary string, history []Exchange) string {
	var b strings.Builder
	if summary != "" {
		b.WriteString("Earlier summary: ")
		b.WriteString(summary)
		b.WriteByte('\n')
	}
	for i, ex := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("User: ")
		b.WriteString(ex.User)
		b.WriteString("\nAssistant: ")
		b.WriteString(ex.Assistant)
	}
	return b.String()
}
