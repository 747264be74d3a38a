package config

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRedacted(t *testing.T) {
	cfg, err := Parse([]byte(`
version: "1"
modules:
  provider.openai_compatible:
    base_url: https://api.example.com/v1
    api_key: plain-secret-value
    headers:
      X-Trace: sk-abcdefghijklmnopqrstuvwxyz
`))
	if err != nil {
		t.Fatal(err)
	}

	out, err := Redacted(cfg)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := yaml.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	for _, secret := range []string{"plain-secret-value", "sk-abcdefghijklmnopqrstuvwxyz"} {
		if strings.Contains(text, secret) {
			t.Errorf("secret %q survived redaction:\n%s", secret, text)
		}
	}
	if !strings.Contains(text, "https://api.example.com/v1") {
		t.Errorf("non-secret value was lost:\n%s", text)
	}
}
