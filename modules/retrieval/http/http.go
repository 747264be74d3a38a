// Package http provides a retrieval backend that delegates to a remote
// search endpoint, such as a managed RAG corpus behind a small adapter.
//
// The endpoint receives
//
//	POST {url}
//	{"query": "...", "top_k": 5, "distance_threshold": 0.3}
//
// and answers with
//
//	{"passages": [{"text": "...", "source": "...", "score": 0.8, "distance": 0.2}]}
//
// where score and distance are both optional.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/flemzord/ragchat/internal/core"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/security"
	"gopkg.in/yaml.v3"
)

const moduleID = "retrieval.http"

// maxResponseSize caps how much of a search response is read.
const maxResponseSize = 4 << 20

func init() {
	core.RegisterModule(&Retriever{})
}

// Config holds the remote endpoint configuration.
type Config struct {
	URL       string            `yaml:"url"`
	APIKey    string            `yaml:"api_key"`
	APIKeyEnv string            `yaml:"api_key_env"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   time.Duration     `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

func (c *Config) key() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

func (c *Config) validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("retrieval.http: url is required"))
	} else if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("retrieval.http: url must be an http(s) URL, got %q", c.URL))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("retrieval.http: timeout must not be negative"))
	}
	return errors.Join(errs...)
}

type searchRequest struct {
	Query             string  `json:"query"`
	TopK              int     `json:"top_k"`
	DistanceThreshold float64 `json:"distance_threshold"`
}

type searchResponse struct {
	Passages []remotePassage `json:"passages"`
}

type remotePassage struct {
	Text     string   `json:"text"`
	Source   string   `json:"source"`
	Score    *float64 `json:"score"`
	Distance *float64 `json:"distance"`
}

// Retriever is the retrieval.http module. It implements retrieval.Retriever.
type Retriever struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (r *Retriever) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  moduleID,
		New: func() core.Module { return &Retriever{} },
	}
}

// Configure implements core.Configurable.
func (r *Retriever) Configure(node *yaml.Node) error {
	if err := node.Decode(&r.config); err != nil {
		return fmt.Errorf("retrieval.http: decode config: %w", err)
	}
	r.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (r *Retriever) Provision(ctx *core.AppContext) error {
	r.config.defaults()
	r.logger = ctx.Logger
	r.client = &http.Client{Timeout: r.config.Timeout}

	if key := r.config.key(); key != "" {
		if creds, ok := core.Service[*security.CredentialStore](ctx, "security.credentials"); ok {
			creds.SetKeys(moduleID, key)
		}
	}
	ctx.RegisterService("retrieval.retriever", retrieval.Retriever(r))
	return nil
}

// Validate implements core.Validator.
func (r *Retriever) Validate() error {
	return r.config.validate()
}

// Retrieve implements retrieval.Retriever.
func (r *Retriever) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.Passage, error) {
	payload, err := json.Marshal(searchRequest{
		Query:             q.Text,
		TopK:              q.TopK,
		DistanceThreshold: q.DistanceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval.http: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("retrieval.http: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if key := r.config.key(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for k, v := range r.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval.http: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	body := io.LimitReader(resp.Body, maxResponseSize)
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(body, 512))
		return nil, fmt.Errorf("retrieval.http: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var sr searchResponse
	if err := json.NewDecoder(body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("retrieval.http: decode response: %w", err)
	}
	return toPassages(sr.Passages, q.DistanceThreshold), nil
}

// toPassages converts remote passages, dropping empty texts and any
// passage farther than threshold. A missing score is derived from the
// distance.
func toPassages(in []remotePassage, threshold float64) []retrieval.Passage {
	out := make([]retrieval.Passage, 0, len(in))
	for _, rp := range in {
		if rp.Text == "" {
			continue
		}
		if rp.Distance != nil && threshold > 0 && *rp.Distance > threshold {
			continue
		}
		p := retrieval.Passage{Text: rp.Text, Source: rp.Source}
		switch {
		case rp.Score != nil:
			p.Score = *rp.Score
		case rp.Distance != nil:
			p.Score = 1 - *rp.Distance
		}
		out = append(out, p)
	}
	return out
}

var (
	_ core.Configurable   = (*Retriever)(nil)
	_ core.Provisioner    = (*Retriever)(nil)
	_ core.Validator      = (*Retriever)(nil)
	_ retrieval.Retriever = (*Retriever)(nil)
)
