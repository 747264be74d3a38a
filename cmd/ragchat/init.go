package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"text/template"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/ragchat/pkg/app"
)

// Retrieval backends offered by `ragchat init`.
const (
	retrievalSQLite = "sqlite"
	retrievalHTTP   = "http"
	retrievalNone   = "none"
)

// initAnswers holds what the init form collects.
type initAnswers struct {
	BaseURL         string
	Model           string
	APIKeyEnv       string
	SummarizerModel string
	Retrieval       string
	RetrievalURL    string
	Bind            string
	BearerTokenEnv  string
	Durable         bool
}

func defaultAnswers() initAnswers {
	return initAnswers{
		BaseURL:   "https://api.openai.com/v1",
		Model:     "gpt-4o-mini",
		APIKeyEnv: "OPENAI_API_KEY",
		Retrieval: retrievalSQLite,
		Bind:      "127.0.0.1:8080",
		Durable:   true,
	}
}

var starterTemplate = template.Must(template.New("ragchat.yaml").Funcs(template.FuncMap{
	"q": strconv.Quote,
}).Parse(`version: "1"

log:
  level: info
  format: text

chat:
  max_history_messages: 3
  summarize_threshold: 5
  max_context_length: 4000
  summarize_policy: count
  budget_unit: chars

rag:
  enabled: {{ ne .Retrieval "none" }}
  top_k: 5
  distance_threshold: 0.3
  timeout: 10s

modules:
  gateway.http:
    bind: {{ q .Bind }}
{{- if .BearerTokenEnv }}
    auth:
      bearer_token: ${ {{- .BearerTokenEnv -}} }
{{- end }}

  provider.openai_compatible:
    base_url: {{ q .BaseURL }}
    api_key_env: {{ q .APIKeyEnv }}
    model: {{ q .Model }}
{{- if .SummarizerModel }}
    summarizer_model: {{ q .SummarizerModel }}
{{- end }}
{{- if .Durable }}

  store.sqlite: {}
{{- end }}
{{- if eq .Retrieval "sqlite" }}

  retrieval.sqlite: {}
{{- else if eq .Retrieval "http" }}

  retrieval.http:
    url: {{ q .RetrievalURL }}
{{- end }}
`))

func renderConfig(a initAnswers) ([]byte, error) {
	var buf bytes.Buffer
	if err := starterTemplate.Execute(&buf, a); err != nil {
		return nil, fmt.Errorf("rendering config: %w", err)
	}
	return buf.Bytes(), nil
}

func validateHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

func notEmpty(s string) error {
	if s == "" {
		return errors.New("required")
	}
	return nil
}

func askInit(a *initAnswers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Model endpoint").
				Description("Any OpenAI-compatible base URL").
				Value(&a.BaseURL).
				Validate(validateHTTPURL),
			huh.NewInput().
				Title("Model").
				Value(&a.Model).
				Validate(notEmpty),
			huh.NewInput().
				Title("API key environment variable").
				Value(&a.APIKeyEnv).
				Validate(notEmpty),
			huh.NewInput().
				Title("Summarizer model").
				Description("Optional cheaper model for compaction summaries").
				Value(&a.SummarizerModel),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Retrieval backend").
				Options(
					huh.NewOption("Local SQLite corpus", retrievalSQLite),
					huh.NewOption("Remote HTTP endpoint", retrievalHTTP),
					huh.NewOption("None", retrievalNone),
				).
				Value(&a.Retrieval),
			huh.NewConfirm().
				Title("Keep sessions across restarts?").
				Value(&a.Durable),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Retrieval endpoint URL").
				Value(&a.RetrievalURL).
				Validate(validateHTTPURL),
		).WithHideFunc(func() bool { return a.Retrieval != retrievalHTTP }),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway bind address").
				Value(&a.Bind).
				Validate(notEmpty),
			huh.NewInput().
				Title("Bearer token environment variable").
				Description("Leave empty for an unauthenticated gateway").
				Value(&a.BearerTokenEnv),
		),
	)
	return form.Run()
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("output")
			force, _ := cmd.Flags().GetBool("force")
			yes, _ := cmd.Flags().GetBool("yes")
			if out == "" {
				out = app.DefaultConfigPath()
			}
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", out)
			}

			answers := defaultAnswers()
			if !yes {
				if err := askInit(&answers); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return errors.New("init aborted")
					}
					return err
				}
			}
			if err := writeStarter(out, answers); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nCheck it with: ragchat config check %s\n", out, out)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Destination file (default: user config directory)")
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	cmd.Flags().BoolP("yes", "y", false, "Accept defaults without prompting")
	return cmd
}

func writeStarter(path string, a initAnswers) error {
	raw, err := renderConfig(a)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}
