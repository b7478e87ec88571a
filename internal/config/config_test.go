package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/newthinker/switchboard/internal/core"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestLoad_FromFile(t *testing.T) {
	cfgPath := writeConfig(t, "config.json", `{
  "server": {"host": "127.0.0.1", "port": 9090},
  "dispatch": {"probe_before_dispatch": true, "health_timeout": "3s"},
  "providers": [
    {"name": "local", "type": "ollama", "base_url": "http://localhost:11434", "priority": 1, "timeout": 120, "cost_multiplier": 0},
    {"name": "cloud", "type": "openai", "api_key": "sk-test", "priority": 2, "enabled": false}
  ],
  "usage": {"storage": {"type": "localfs", "path": "/tmp/switchboard"}}
}`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Dispatch.ProbeBeforeDispatch {
		t.Error("expected probe_before_dispatch true")
	}
	if cfg.Dispatch.HealthTimeout != 3*time.Second {
		t.Errorf("expected health timeout 3s, got %s", cfg.Dispatch.HealthTimeout)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(cfg.Providers))
	}

	local := cfg.Providers[0]
	if local.Timeout != 120*time.Second {
		t.Errorf("numeric timeout should be seconds, got %s", local.Timeout)
	}
	if !local.Enabled {
		t.Error("enabled should default to true")
	}
	if local.CostMultiplier != 0 {
		t.Errorf("explicit zero multiplier should be kept, got %f", local.CostMultiplier)
	}

	cloud := cfg.Providers[1]
	if cloud.Enabled {
		t.Error("explicit enabled=false should be kept")
	}
	if cloud.Timeout != DefaultProviderTimeout {
		t.Errorf("expected default timeout, got %s", cloud.Timeout)
	}
	if cloud.CostMultiplier != DefaultCostMultiplier {
		t.Errorf("expected default multiplier, got %f", cloud.CostMultiplier)
	}

	// untouched sections keep defaults
	if cfg.Usage.History.Driver != "memory" {
		t.Errorf("expected default history driver, got %s", cfg.Usage.History.Driver)
	}
}

func TestLoad_YAML(t *testing.T) {
	cfgPath := writeConfig(t, "config.yaml", `
server:
  port: 8081
  job_timeout: 90s
alerts:
  cooldown: 15m
providers:
  - type: claude
    api_key: sk-ant
    priority: 1
    timeout: 30s
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Providers[0].Name != "claude" {
		t.Errorf("name should default to type, got %q", cfg.Providers[0].Name)
	}
	if cfg.Providers[0].Timeout != 30*time.Second {
		t.Errorf("expected 30s, got %s", cfg.Providers[0].Timeout)
	}
	if cfg.Server.JobTimeout != 90*time.Second {
		t.Errorf("expected job timeout 90s, got %s", cfg.Server.JobTimeout)
	}
	if cfg.Alerts.Cooldown != 15*time.Minute {
		t.Errorf("expected alert cooldown 15m, got %s", cfg.Alerts.Cooldown)
	}
}

func TestLoad_ResolvesSecrets(t *testing.T) {
	t.Setenv("SWB_TEST_OPENAI_KEY", "sk-from-env")
	t.Setenv("SWB_TEST_GEMINI_KEY", "gm-from-env")

	cfgPath := writeConfig(t, "config.json", `{
  "providers": [
    {"name": "a", "type": "openai", "api_key": "${SWB_TEST_OPENAI_KEY}", "priority": 1},
    {"name": "b", "type": "gemini", "api_key_env": "SWB_TEST_GEMINI_KEY", "priority": 2}
  ]
}`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("expected ${} expansion, got %q", cfg.Providers[0].APIKey)
	}
	if cfg.Providers[1].APIKey != "gm-from-env" {
		t.Errorf("expected api_key_env lookup, got %q", cfg.Providers[1].APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, core.ErrConfigMissing) {
		t.Errorf("expected ErrConfigMissing, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Dispatch.HealthTimeout != 5*time.Second {
		t.Errorf("expected default health timeout 5s, got %s", cfg.Dispatch.HealthTimeout)
	}
	if cfg.Server.JobTimeout != 5*time.Minute {
		t.Errorf("expected default job timeout 5m, got %s", cfg.Server.JobTimeout)
	}
	if cfg.Alerts.Cooldown != 5*time.Minute {
		t.Errorf("expected default alert cooldown 5m, got %s", cfg.Alerts.Cooldown)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	provider := func(mut func(*ProviderConfig)) ProviderConfig {
		p := ProviderConfig{Name: "p", Type: "openai", Priority: 1, Timeout: time.Second, Enabled: true, CostMultiplier: 1}
		if mut != nil {
			mut(&p)
		}
		return p
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr *core.Error
	}{
		{
			name: "valid config",
			cfg: Config{
				Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
				Providers: []ProviderConfig{provider(nil)},
			},
		},
		{
			name:    "negative job timeout",
			cfg:     Config{Server: ServerConfig{Port: 8080, JobTimeout: -time.Second}},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "invalid port - zero",
			cfg:     Config{Server: ServerConfig{Host: "0.0.0.0", Port: 0}},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "invalid port - too high",
			cfg:     Config{Server: ServerConfig{Host: "0.0.0.0", Port: 70000}},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name: "unknown provider type",
			cfg: Config{
				Server:    ServerConfig{Port: 8080},
				Providers: []ProviderConfig{provider(func(p *ProviderConfig) { p.Type = "mistral" })},
			},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name: "duplicate names",
			cfg: Config{
				Server:    ServerConfig{Port: 8080},
				Providers: []ProviderConfig{provider(nil), provider(nil)},
			},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name: "zero timeout",
			cfg: Config{
				Server:    ServerConfig{Port: 8080},
				Providers: []ProviderConfig{provider(func(p *ProviderConfig) { p.Timeout = 0 })},
			},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name: "negative multiplier",
			cfg: Config{
				Server:    ServerConfig{Port: 8080},
				Providers: []ProviderConfig{provider(func(p *ProviderConfig) { p.CostMultiplier = -1 })},
			},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name: "compatible without base url",
			cfg: Config{
				Server:    ServerConfig{Port: 8080},
				Providers: []ProviderConfig{provider(func(p *ProviderConfig) { p.Type = "openai_compatible" })},
			},
			wantErr: core.ErrConfigMissing,
		},
		{
			name: "s3 without bucket",
			cfg: Config{
				Server: ServerConfig{Port: 8080},
				Usage:  UsageConfig{Storage: StorageConfig{Type: "s3"}},
			},
			wantErr: core.ErrConfigMissing,
		},
		{
			name: "sqlite without dsn",
			cfg: Config{
				Server: ServerConfig{Port: 8080},
				Usage:  UsageConfig{History: HistoryConfig{Driver: "sqlite"}},
			},
			wantErr: core.ErrConfigMissing,
		},
		{
			name: "webhook without url",
			cfg: Config{
				Server:    ServerConfig{Port: 8080},
				Notifiers: map[string]NotifierConfig{"ops": {Enabled: true}},
			},
			wantErr: core.ErrConfigMissing,
		},
		{
			name: "disabled notifier not checked",
			cfg: Config{
				Server:    ServerConfig{Port: 8080},
				Notifiers: map[string]NotifierConfig{"ops": {Type: "pager"}},
			},
		},
		{
			name: "unknown notifier type",
			cfg: Config{
				Server:    ServerConfig{Port: 8080},
				Notifiers: map[string]NotifierConfig{"ops": {Enabled: true, Type: "pager"}},
			},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name: "telegram without chat",
			cfg: Config{
				Server:    ServerConfig{Port: 8080},
				Notifiers: map[string]NotifierConfig{"tg": {Enabled: true, Type: "telegram", BotToken: "t"}},
			},
			wantErr: core.ErrConfigMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %s", err, tt.wantErr.Code)
			}
		})
	}
}

func TestProviderConfig_Redacted(t *testing.T) {
	p := ProviderConfig{Name: "a", APIKey: "sk-secret"}
	if got := p.Redacted().APIKey; got != "****" {
		t.Errorf("expected redacted key, got %q", got)
	}
	if p.APIKey != "sk-secret" {
		t.Error("Redacted should not modify the receiver")
	}
}
