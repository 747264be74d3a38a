package ctxengine

import (
	"context"

	"github.com/flemzord/ragchat/internal/provider"
)

// ChainSummarizer summarizes through a provider chain. It prefers providers
// configured for the internal role and falls back to the primary role when
// none exists.
type ChainSummarizer struct {
	Chain       *provider.Chain
	MaxTokens   int
	Temperature *float64
}

// Summarize sends p as a single user message and returns the reply.
func (s *ChainSummarizer) Summarize(ctx context.Context, p string) (string, error) {
	role := provider.RoleInternal
	if !s.Chain.HasRole(role) {
		role = provider.RolePrimary
	}
	resp, err := s.Chain.Complete(ctx, role, provider.CompletionRequest{
		Messages:    []provider.LLMMessage{{Role: provider.MessageRoleUser, Content: p}},
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
