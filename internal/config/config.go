// Package config loads the gateway configuration from an optional YAML file
// merged with JIMINI_* environment variables (environment wins), validates
// it fail-fast at startup, and masks secrets on export.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SecretMask replaces secret material in every exported view of the config.
const SecretMask = "***"

// Config is the full gateway configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security"`
	Notifiers NotifiersConfig `mapstructure:"notifiers" yaml:"notifiers"`
	SIEM      SIEMConfig      `mapstructure:"siem" yaml:"siem"`
	OTel      OTelConfig      `mapstructure:"otel" yaml:"otel"`
	Breaker   BreakerConfig   `mapstructure:"breaker" yaml:"breaker"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	DLQ       DLQConfig       `mapstructure:"dlq" yaml:"dlq"`
}

// AppConfig contains core service settings.
type AppConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	ShadowMode   bool   `mapstructure:"shadow_mode" yaml:"shadow_mode"`
	RulesPath    string `mapstructure:"rules_path" yaml:"rules_path"`
	AuditLogPath string `mapstructure:"audit_log_path" yaml:"audit_log_path"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	AuthEnabled bool   `mapstructure:"auth_enabled" yaml:"auth_enabled"`
	APIKey      string `mapstructure:"api_key" yaml:"api_key"`
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// NotifiersConfig contains alert notifier settings.
type NotifiersConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
}

// WebhookConfig configures the alert webhook.
type WebhookConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	URL           string `mapstructure:"url" yaml:"url"`
	RatePerMinute int    `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
}

// SIEMConfig configures the decision event forwarders.
type SIEMConfig struct {
	File    FileForwarderConfig    `mapstructure:"file" yaml:"file"`
	HEC     HECForwarderConfig     `mapstructure:"hec" yaml:"hec"`
	Elastic ElasticForwarderConfig `mapstructure:"elastic" yaml:"elastic"`

	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
}

// FileForwarderConfig configures the JSONL file forwarder.
type FileForwarderConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// HECForwarderConfig configures the Splunk-compatible HEC forwarder.
type HECForwarderConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	Token   string `mapstructure:"token" yaml:"token"`
}

// ElasticForwarderConfig configures the bulk-index forwarder.
type ElasticForwarderConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	Index   string `mapstructure:"index" yaml:"index"`
}

// OTelConfig configures tracing.
type OTelConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// BreakerConfig configures the per-target circuit breakers.
type BreakerConfig struct {
	FailureThreshold   int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout    time.Duration `mapstructure:"recovery_timeout" yaml:"recovery_timeout"`
	HalfOpenProbeLimit int           `mapstructure:"half_open_probe_limit" yaml:"half_open_probe_limit"`
}

// RetryConfig configures delivery retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// DLQConfig configures the dead letter store.
type DLQConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 9000)
	v.SetDefault("app.shadow_mode", false)
	v.SetDefault("app.rules_path", "rules.yaml")
	v.SetDefault("app.audit_log_path", "audit.jsonl")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("security.auth_enabled", true)
	v.SetDefault("security.api_key", "")
	v.SetDefault("security.jwt_secret", "")

	v.SetDefault("notifiers.webhook.enabled", false)
	v.SetDefault("notifiers.webhook.url", "")
	v.SetDefault("notifiers.webhook.rate_per_minute", 30)

	v.SetDefault("siem.queue_size", 1024)
	v.SetDefault("siem.flush_interval", 5*time.Second)
	v.SetDefault("siem.batch_size", 50)
	v.SetDefault("siem.file.enabled", false)
	v.SetDefault("siem.file.path", "events.jsonl")
	v.SetDefault("siem.hec.enabled", false)
	v.SetDefault("siem.hec.url", "")
	v.SetDefault("siem.hec.token", "")
	v.SetDefault("siem.elastic.enabled", false)
	v.SetDefault("siem.elastic.url", "")
	v.SetDefault("siem.elastic.index", "jimini-decisions")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.endpoint", "localhost:4317")
	v.SetDefault("otel.service_name", "jimini")

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout", 30*time.Second)
	v.SetDefault("breaker.half_open_probe_limit", 1)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 10*time.Second)

	v.SetDefault("dlq.path", "dlq.db")
}

// Load reads the config file at path (optional; defaults apply when path is
// empty or the file is absent) and merges JIMINI_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("JIMINI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate fails fast on configuration the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Security.AuthEnabled && c.Security.APIKey == "" {
		return fmt.Errorf("security.api_key is required when auth is enabled")
	}
	if c.App.RulesPath == "" {
		return fmt.Errorf("app.rules_path is required")
	}
	if _, err := os.Stat(c.App.RulesPath); err != nil {
		return fmt.Errorf("app.rules_path: %w", err)
	}
	if c.App.AuditLogPath == "" {
		return fmt.Errorf("app.audit_log_path is required")
	}
	if c.Notifiers.Webhook.Enabled {
		if err := validateURL("notifiers.webhook.url", c.Notifiers.Webhook.URL); err != nil {
			return err
		}
	}
	if c.SIEM.HEC.Enabled {
		if err := validateURL("siem.hec.url", c.SIEM.HEC.URL); err != nil {
			return err
		}
		if c.SIEM.HEC.Token == "" {
			return fmt.Errorf("siem.hec.token is required when the HEC forwarder is enabled")
		}
	}
	if c.SIEM.Elastic.Enabled {
		if err := validateURL("siem.elastic.url", c.SIEM.Elastic.URL); err != nil {
			return err
		}
	}
	if c.SIEM.File.Enabled && c.SIEM.File.Path == "" {
		return fmt.Errorf("siem.file.path is required when the file forwarder is enabled")
	}
	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s: malformed URL %q", field, raw)
	}
	return nil
}

// Redacted returns a copy safe to log or expose: API keys, tokens, secrets,
// and webhook URLs are replaced with the fixed mask.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Security.APIKey != "" {
		out.Security.APIKey = SecretMask
	}
	if out.Security.JWTSecret != "" {
		out.Security.JWTSecret = SecretMask
	}
	if out.SIEM.HEC.Token != "" {
		out.SIEM.HEC.Token = SecretMask
	}
	if out.Notifiers.Webhook.URL != "" {
		out.Notifiers.Webhook.URL = SecretMask
	}
	return &out
}
