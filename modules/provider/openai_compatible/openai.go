// Package openaicompat provides an OpenAI-compatible model provider module.
// It works with any API that implements the OpenAI chat completions interface
// (OpenAI, Mistral, Groq, vLLM, LiteLLM, Ollama, etc.) via a configurable
// base_url.
package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/flemzord/ragchat/internal/core"
	"github.com/flemzord/ragchat/internal/provider"
	"github.com/flemzord/ragchat/internal/security"
	"gopkg.in/yaml.v3"
)

const moduleID = "provider.openai_compatible"

func init() {
	core.RegisterModule(&Provider{})
}

// Provider is an OpenAI-compatible model provider. One module instance
// provisions the primary entry and, with summarizer_model, a second entry
// sharing its client and keys.
type Provider struct {
	config Config
	model  string
	client *http.Client
	auth   *provider.AuthProfile
	logger *slog.Logger
	chain  *provider.Chain
}

// ModuleInfo implements core.Module.
func (p *Provider) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  moduleID,
		New: func() core.Module { return &Provider{} },
	}
}

// Configure implements core.Configurable.
func (p *Provider) Configure(node *yaml.Node) error {
	if err := node.Decode(&p.config); err != nil {
		return err
	}
	p.config.defaults()
	return nil
}

// Provision implements core.Provisioner. It registers the provider.chain
// service and hands the API keys to the credential store so logs redact
// them.
func (p *Provider) Provision(ctx *core.AppContext) error {
	p.config.defaults()
	if err := p.config.validate(); err != nil {
		return err
	}

	p.logger = ctx.Logger
	p.model = p.config.Model
	// A global client timeout would kill long SSE streams; per-request
	// contexts bound those.
	p.client = &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: p.config.Timeout,
		},
	}

	keys := p.config.keys()
	auth, err := provider.NewAuthProfile(keys...)
	if err != nil {
		return fmt.Errorf("create auth profile: %w", err)
	}
	p.auth = auth

	if creds, ok := core.Service[*security.CredentialStore](ctx, "security.credentials"); ok {
		creds.SetKeys(moduleID, keys...)
	}

	entries := []provider.ChainEntry{{
		Name:     "openai_compatible",
		Provider: p,
		Role:     provider.RolePrimary,
		Auth:     auth,
	}}
	if m := p.config.SummarizerModel; m != "" && m != p.config.Model {
		entries = append(entries, provider.ChainEntry{
			Name:     "openai_compatible.summarizer",
			Provider: p.withModel(m),
			Role:     provider.RoleInternal,
			Auth:     auth,
		})
	}

	chain, err := provider.NewChain(entries, provider.WithLogger(p.logger))
	if err != nil {
		return fmt.Errorf("create provider chain: %w", err)
	}
	p.chain = chain

	ctx.RegisterService("provider.chain", chain)
	return nil
}

// Validate implements core.Validator.
func (p *Provider) Validate() error {
	return p.config.validate()
}

// Start implements core.Starter. It launches the chain's health checks.
func (p *Provider) Start() error {
	p.chain.Start(context.Background())
	return nil
}

// Stop implements core.Stopper.
func (p *Provider) Stop(context.Context) error {
	p.chain.Stop()
	return nil
}

// withModel returns a provider sharing p's transport and keys that talks to
// a different model.
func (p *Provider) withModel(model string) *Provider {
	cp := *p
	cp.model = model
	return &cp
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	resp, err := p.doRequest(ctx, buildRequest(p.model, p.config, req, false))
	if err != nil {
		return provider.CompletionResponse{}, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return provider.CompletionResponse{}, handleErrorResponse(resp)
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("%w: decode response: %w", provider.ErrProviderDown, err)
	}
	return parseResponse(oaiResp), nil
}

// Stream implements provider.Provider.
func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	resp, err := p.doRequest(ctx, buildRequest(p.model, p.config, req, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		return nil, handleErrorResponse(resp)
	}
	return parseSSEStream(ctx, resp.Body), nil
}

// ContextWindowSize implements provider.Provider.
func (p *Provider) ContextWindowSize() int {
	return p.config.ContextWindow
}

// ModelName implements provider.Provider.
func (p *Provider) ModelName() string {
	return p.model
}

// HealthCheck implements provider.HealthChecker by calling /models.
func (p *Provider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/models", nil)
	if err != nil {
		return err
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health check: %w", provider.ErrProviderDown, err)
	}
	defer resp.Body.Close()               //nolint:errcheck // best-effort close
	_, _ = io.Copy(io.Discard, resp.Body) // drain body

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: health check returned HTTP %d", provider.ErrProviderDown, resp.StatusCode)
	}
	return nil
}

// Compile-time interface assertions.
var (
	_ core.Module            = (*Provider)(nil)
	_ core.Configurable      = (*Provider)(nil)
	_ core.Provisioner       = (*Provider)(nil)
	_ core.Validator         = (*Provider)(nil)
	_ core.Starter           = (*Provider)(nil)
	_ core.Stopper           = (*Provider)(nil)
	_ provider.Provider      = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
)
