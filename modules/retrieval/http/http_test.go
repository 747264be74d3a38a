package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/ragchat/internal/core"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/security"
	"gopkg.in/yaml.v3"
)

func provisioned(t *testing.T, cfg string) (*Retriever, *core.AppContext) {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(cfg), &node); err != nil {
		t.Fatal(err)
	}
	r := &Retriever{}
	if err := r.Configure(node.Content[0]); err != nil {
		t.Fatal(err)
	}
	appCtx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())
	appCtx.RegisterService("security.credentials", security.NewCredentialStore())
	if err := r.Provision(appCtx.ForModule(moduleID)); err != nil {
		t.Fatal(err)
	}
	return r, appCtx
}

func TestRetrieve(t *testing.T) {
	t.Parallel()

	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization = %q", auth)
		}
		if v := r.Header.Get("X-Corpus"); v != "docs" {
			t.Errorf("X-Corpus = %q", v)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"passages":[
			{"text":"Paris is the capital.","source":"geo","distance":0.25},
			{"text":"Scored.","score":0.42},
			{"text":"Too far.","distance":0.9},
			{"text":""}
		]}`))
	}))
	defer srv.Close()

	r, _ := provisioned(t, "url: "+srv.URL+"\napi_key: secret\nheaders:\n  X-Corpus: docs\n")
	passages, err := r.Retrieve(context.Background(), retrieval.Query{Text: "capital?", TopK: 3, DistanceThreshold: 0.3})
	if err != nil {
		t.Fatal(err)
	}

	if got.Query != "capital?" || got.TopK != 3 || got.DistanceThreshold != 0.3 {
		t.Errorf("request = %+v", got)
	}
	if len(passages) != 2 {
		t.Fatalf("passages = %+v", passages)
	}
	if passages[0].Source != "geo" || passages[0].Score != 0.75 {
		t.Errorf("first = %+v", passages[0])
	}
	if passages[1].Score != 0.42 {
		t.Errorf("second = %+v", passages[1])
	}
}

func TestRetrieve_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "index offline", http.StatusServiceUnavailable)
		}, "HTTP 503: index offline"},
		{"bad json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{"))
		}, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			r, _ := provisioned(t, "url: "+srv.URL+"\n")
			_, err := r.Retrieve(context.Background(), retrieval.Query{Text: "q"})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestRetrieve_HonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-release }))
	defer srv.Close()
	defer close(release)

	r, _ := provisioned(t, "url: "+srv.URL+"\n")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := r.Retrieve(ctx, retrieval.Query{Text: "q"}); err == nil {
		t.Fatal("expected error after deadline")
	}
}

func TestProvision_RegistersServiceAndCredential(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_RETRIEVAL_KEY", "from-env")

	r, appCtx := provisioned(t, "url: https://search.example\napi_key_env: RAGCHAT_TEST_RETRIEVAL_KEY\n")
	if r.config.Timeout != 10*time.Second {
		t.Errorf("default timeout = %v", r.config.Timeout)
	}
	svc, ok := core.Service[retrieval.Retriever](appCtx, "retrieval.retriever")
	if !ok || svc != retrieval.Retriever(r) {
		t.Error("retrieval.retriever not registered")
	}
	creds, _ := core.Service[*security.CredentialStore](appCtx, "security.credentials")
	if got := creds.Keys(moduleID); len(got) != 1 || got[0] != "from-env" {
		t.Errorf("credential = %v", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{URL: "https://x"}, ""},
		{Config{}, "url is required"},
		{Config{URL: "file:///etc/passwd"}, "http(s)"},
		{Config{URL: "https://x", Timeout: -time.Second}, "timeout"},
	}
	for _, tt := range tests {
		err := tt.cfg.validate()
		switch {
		case tt.want == "" && err != nil:
			t.Errorf("%+v: unexpected error %v", tt.cfg, err)
		case tt.want != "" && (err == nil || !strings.Contains(err.Error(), tt.want)):
			t.Errorf("%+v: err = %v, want %q", tt.cfg, err, tt.want)
		}
	}
}
