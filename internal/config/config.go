// Package config loads brainstormd's configuration from
// ~/.brainstormd/config.json, a local .env file, and explicit environment
// variables, in that increasing order of precedence — the same layering the
// teacher used for its ~/.brainmcp/config.json.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// ProbeConfig selects and configures the branch probe (SPEC_FULL.md §4.4).
type ProbeConfig struct {
	Kind           string `json:"kind,omitempty"` // "rules" (default) | "llm"
	GeminiAPIKey   string `json:"gemini_api_key,omitempty"`
	GeminiModel    string `json:"gemini_model,omitempty"`
}

// FindingsConfig selects the findings index's vector backend.
type FindingsConfig struct {
	Backend         string `json:"backend,omitempty"` // "local" (default) | "qdrant"
	QdrantHost      string `json:"qdrant_host,omitempty"`
	QdrantPort      int    `json:"qdrant_port,omitempty"`
	QdrantAPIKey    string `json:"qdrant_api_key,omitempty"`
	QdrantUseTLS    bool   `json:"qdrant_use_tls,omitempty"`
}

// AuditConfig configures the badger-backed audit log.
type AuditConfig struct {
	Dir string `json:"dir,omitempty"`
}

// NotifyConfig configures the optional Slack completion notifier.
type NotifyConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url,omitempty"`
}

// Config is brainstormd's full runtime configuration.
type Config struct {
	Port        int            `json:"port"`
	StateDir    string         `json:"state_dir"`
	SkipBrowser bool           `json:"skip_browser"`
	Probe       ProbeConfig    `json:"probe,omitempty"`
	Findings    FindingsConfig `json:"findings,omitempty"`
	Audit       AuditConfig    `json:"audit,omitempty"`
	Notify      NotifyConfig   `json:"notify,omitempty"`
}

func defaultConfig(homeDir string) *Config {
	stateDir := filepath.Join(homeDir, ".brainstormd", "state")
	return &Config{
		Port:        0,
		StateDir:    stateDir,
		SkipBrowser: false,
		Probe:       ProbeConfig{Kind: "rules"},
		Findings:    FindingsConfig{Backend: "local"},
		Audit:       AuditConfig{Dir: filepath.Join(stateDir, "audit")},
	}
}

// Load reads configuration from ~/.brainstormd/config.json, a local .env
// file (if present, never required), and environment variables, returning
// sensible defaults when none of those are present.
func Load(logger *log.Logger) (*Config, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	_ = godotenv.Load() // best-effort; absence of .env is not an error

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: home directory: %w", err)
	}
	cfg := defaultConfig(homeDir)

	configPath := filepath.Join(homeDir, ".brainstormd", "config.json")
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", configPath, err)
		}
		logger.Printf("config: loaded %s", configPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %q: %w", configPath, err)
	} else {
		logger.Printf("config: no config file at %s, using defaults and environment", configPath)
	}

	applyEnvOverrides(cfg)

	if cfg.Audit.Dir == "" {
		cfg.Audit.Dir = filepath.Join(cfg.StateDir, "audit")
	}
	if cfg.Probe.Kind == "" {
		cfg.Probe.Kind = "rules"
	}
	if cfg.Findings.Backend == "" {
		cfg.Findings.Backend = "local"
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRAINSTORMD_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("BRAINSTORMD_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("BRAINSTORMD_SKIP_BROWSER"); v != "" {
		cfg.SkipBrowser = v == "1" || v == "true"
	}

	if v := os.Getenv("BRAINSTORMD_PROBE_KIND"); v != "" {
		cfg.Probe.Kind = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Probe.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Probe.GeminiModel = v
	}

	if v := os.Getenv("BRAINSTORMD_FINDINGS_BACKEND"); v != "" {
		cfg.Findings.Backend = v
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		cfg.Findings.QdrantHost = v
	}
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Findings.QdrantPort = p
		}
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.Findings.QdrantAPIKey = v
	}
	if v := os.Getenv("QDRANT_USE_TLS"); v != "" {
		cfg.Findings.QdrantUseTLS = v == "1" || v == "true"
	}

	if v := os.Getenv("BRAINSTORMD_AUDIT_DIR"); v != "" {
		cfg.Audit.Dir = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notify.SlackWebhookURL = v
	}
}
