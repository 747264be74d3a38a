package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/ragchat/internal/security"
)

// Redacted renders cfg as a generic map with secret-looking values
// replaced, ready to print or serve.
func Redacted(cfg *Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	security.NewRedactor().RedactMap(out)
	return out, nil
}
