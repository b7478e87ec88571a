package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Dispatch  DispatchConfig            `mapstructure:"dispatch"`
	Providers []ProviderConfig          `mapstructure:"providers"`
	Models    []ModelConfig             `mapstructure:"models"`
	Usage     UsageConfig               `mapstructure:"usage"`
	Notifiers map[string]NotifierConfig `mapstructure:"notifiers"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	Alerts    AlertsConfig              `mapstructure:"alerts"`
}

type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	APIKey      string        `mapstructure:"api_key"`
	JobTTLHours int           `mapstructure:"job_ttl_hours"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
	MaxJobs     int           `mapstructure:"max_jobs"`
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
}

// DispatchConfig controls the provider failover loop.
type DispatchConfig struct {
	ProbeBeforeDispatch bool          `mapstructure:"probe_before_dispatch"`
	HealthTimeout       time.Duration `mapstructure:"health_timeout"`
	HealthInterval      time.Duration `mapstructure:"health_interval"`
	DefaultMaxTokens    int           `mapstructure:"default_max_tokens"`
}

// ProviderConfig identifies one configured LLM backend.
type ProviderConfig struct {
	Name           string        `mapstructure:"name" json:"name"`
	Type           string        `mapstructure:"type" json:"type"`
	BaseURL        string        `mapstructure:"base_url" json:"base_url,omitempty"`
	APIKey         string        `mapstructure:"api_key" json:"-"`
	APIKeyEnv      string        `mapstructure:"api_key_env" json:"api_key_env,omitempty"`
	Model          string        `mapstructure:"model" json:"model,omitempty"`
	Priority       int           `mapstructure:"priority" json:"priority"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
	Enabled        bool          `mapstructure:"enabled" json:"enabled"`
	CostMultiplier float64       `mapstructure:"cost_multiplier" json:"cost_multiplier"`
}

// ModelConfig describes a model offered by a provider.
type ModelConfig struct {
	Name            string   `mapstructure:"name" json:"name" yaml:"name"`
	Provider        string   `mapstructure:"provider" json:"provider" yaml:"provider"`
	ContextWindow   int      `mapstructure:"context_window" json:"context_window" yaml:"context_window"`
	MaxOutputTokens int      `mapstructure:"max_output_tokens" json:"max_output_tokens" yaml:"max_output_tokens"`
	InputCostPer1K  float64  `mapstructure:"input_cost_per_1k" json:"input_cost_per_1k" yaml:"input_cost_per_1k"`
	OutputCostPer1K float64  `mapstructure:"output_cost_per_1k" json:"output_cost_per_1k" yaml:"output_cost_per_1k"`
	Capabilities    []string `mapstructure:"capabilities" json:"capabilities" yaml:"capabilities"`
}

type UsageConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	SnapshotKey   string        `mapstructure:"snapshot_key"`
	Storage       StorageConfig `mapstructure:"storage"`
	History       HistoryConfig `mapstructure:"history"`
}

type StorageConfig struct {
	Type string   `mapstructure:"type"` // "localfs", "s3" or "none"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// HistoryConfig selects where per-attempt usage records go.
type HistoryConfig struct {
	Driver     string `mapstructure:"driver"` // "memory", "sqlite" or "none"
	DSN        string `mapstructure:"dsn"`
	MaxRecords int    `mapstructure:"max_records"`
}

// NotifierConfig configures one notifier, keyed by name in Config.Notifiers.
// Type defaults to "webhook".
type NotifierConfig struct {
	Type     string            `mapstructure:"type"` // "webhook" or "telegram"
	Enabled  bool              `mapstructure:"enabled"`
	URL      string            `mapstructure:"url"`
	Headers  map[string]string `mapstructure:"headers"`
	Events   []string          `mapstructure:"events"` // empty means all
	BotToken string            `mapstructure:"bot_token"`
	ChatID   string            `mapstructure:"chat_id"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AlertsConfig holds alerts configuration.
type AlertsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Cooldown      time.Duration `mapstructure:"cooldown"` // minimum gap between firings of one rule
	Rules         []AlertRule   `mapstructure:"rules"`
}

// AlertRule defines a single alert rule.
type AlertRule struct {
	Name     string        `mapstructure:"name"`
	Expr     string        `mapstructure:"expr"`
	For      time.Duration `mapstructure:"for"`
	Severity string        `mapstructure:"severity"`
	Message  string        `mapstructure:"message"`
}

// Provider defaults applied to every entry that leaves the field out.
const (
	DefaultProviderTimeout = 60 * time.Second
	DefaultCostMultiplier  = 1.0
)

// Load reads configuration from file, on top of Defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("reading config: %w", err))
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			v.Set(key, expandEnv(val))
		}
	}

	if raw, ok := v.Get("providers").([]any); ok {
		v.Set("providers", withProviderDefaults(raw))
	}

	cfg := Defaults()
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDuration(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	cfg.resolveProviders()
	return cfg, nil
}

// withProviderDefaults fills keys missing from each raw provider entry.
func withProviderDefaults(raw []any) []any {
	out := make([]any, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			out = append(out, item)
			continue
		}
		entry := make(map[string]any, len(m)+3)
		for k, val := range m {
			entry[strings.ToLower(k)] = val
		}
		if _, ok := entry["enabled"]; !ok {
			entry["enabled"] = true
		}
		if _, ok := entry["timeout"]; !ok {
			entry["timeout"] = DefaultProviderTimeout.String()
		}
		if _, ok := entry["cost_multiplier"]; !ok {
			entry["cost_multiplier"] = DefaultCostMultiplier
		}
		out = append(out, entry)
	}
	return out
}

// resolveProviders names unnamed providers and resolves their secrets.
func (c *Config) resolveProviders() {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			p.Name = p.Type
		}
		p.APIKey = expandEnv(p.APIKey)
		p.BaseURL = expandEnv(p.BaseURL)
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
	}
}

// secondsToDuration lets JSON configs write timeouts as plain seconds.
func secondsToDuration() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch n := data.(type) {
		case float64:
			return time.Duration(n * float64(time.Second)), nil
		case int:
			return time.Duration(n) * time.Second, nil
		case int64:
			return time.Duration(n) * time.Second, nil
		}
		return data, nil
	}
}

func expandEnv(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}"))
	}
	return val
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			JobTTLHours: 1,
			JobTimeout:  5 * time.Minute,
			MaxJobs:     100,
			Workers:     4,
			QueueSize:   64,
		},
		Dispatch: DispatchConfig{
			ProbeBeforeDispatch: false,
			HealthTimeout:       5 * time.Second,
			HealthInterval:      60 * time.Second,
			DefaultMaxTokens:    4096,
		},
		Usage: UsageConfig{
			FlushInterval: 5 * time.Minute,
			SnapshotKey:   "usage/usage.json",
			Storage: StorageConfig{
				Type: "localfs",
				Path: "./data",
			},
			History: HistoryConfig{
				Driver:     "memory",
				MaxRecords: 10000,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Alerts: AlertsConfig{
			Enabled:       false,
			CheckInterval: 60 * time.Second,
			Cooldown:      5 * time.Minute,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if c.Server.JobTimeout < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("job_timeout cannot be negative, got %s", c.Server.JobTimeout))
	}

	if c.Dispatch.HealthTimeout < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("health_timeout cannot be negative, got %s", c.Dispatch.HealthTimeout))
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("duplicate provider name %q", p.Name))
		}
		seen[p.Name] = true
	}

	switch c.Usage.Storage.Type {
	case "", "localfs", "none":
	case "s3":
		if c.Usage.Storage.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("s3 bucket required when usage storage is s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown usage storage type %q", c.Usage.Storage.Type))
	}

	for name, n := range c.Notifiers {
		if !n.Enabled {
			continue
		}
		switch n.Type {
		case "", "webhook":
			if n.URL == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("notifier %s: url required", name))
			}
		case "telegram":
			if n.BotToken == "" || n.ChatID == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("notifier %s: bot_token and chat_id required", name))
			}
		default:
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("notifier %s: unknown type %q", name, n.Type))
		}
	}

	switch c.Usage.History.Driver {
	case "", "memory", "none":
	case "sqlite":
		if c.Usage.History.DSN == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("history dsn required when driver is sqlite"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown history driver %q", c.Usage.History.Driver))
	}

	return nil
}

// Validate checks a single provider entry.
func (p ProviderConfig) Validate() error {
	if p.Name == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("provider name required"))
	}
	if !core.ProviderType(p.Type).IsValid() {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("provider %s: unknown type %q", p.Name, p.Type))
	}
	if p.Timeout <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("provider %s: timeout must be positive, got %s", p.Name, p.Timeout))
	}
	if p.CostMultiplier < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("provider %s: cost_multiplier cannot be negative, got %f", p.Name, p.CostMultiplier))
	}
	if core.ProviderType(p.Type) == core.ProviderOpenAICompatible && p.BaseURL == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("provider %s: base_url required for openai_compatible", p.Name))
	}
	return nil
}

// Redacted returns a copy safe to show in listings.
func (p ProviderConfig) Redacted() ProviderConfig {
	if p.APIKey != "" {
		p.APIKey = "****"
	}
	return p
}
