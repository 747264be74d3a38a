// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for ragchat.
package config

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/ragchat/internal/chat"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/telemetry"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir holds SQLite databases. Defaults to the XDG data directory.
	DataDir string `yaml:"data_dir"`

	Log       LogConfig            `yaml:"log"`
	Chat      chat.Settings        `yaml:"chat"`
	RAG       retrieval.GateConfig `yaml:"rag"`
	Telemetry telemetry.Config     `yaml:"telemetry"`
	Jobs      JobsConfig           `yaml:"jobs"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "retrieval.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}

// JobsConfig overrides the schedules of background jobs. Empty strings keep
// the defaults.
type JobsConfig struct {
	SessionCleanup  string `yaml:"session_cleanup"`
	CompactionSweep string `yaml:"compaction_sweep"`
}

// Default returns the configuration used for keys absent from the file.
// Retrieval is on unless switched off explicitly.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		RAG: retrieval.GateConfig{Enabled: true, TopK: 5},
	}
}
