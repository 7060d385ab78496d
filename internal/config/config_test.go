package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.App.Port)
	assert.False(t, cfg.App.ShadowMode)
	assert.True(t, cfg.Security.AuthEnabled)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 1, cfg.Breaker.HalfOpenProbeLimit)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.SIEM.FlushInterval)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jimini.yaml")
	content := `
app:
  port: 8080
  shadow_mode: true
  rules_path: /etc/jimini/rules.yaml
security:
  api_key: super-secret
siem:
  hec:
    enabled: true
    url: https://splunk.example.com/services/collector
    token: hec-token
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.True(t, cfg.App.ShadowMode)
	assert.Equal(t, "super-secret", cfg.Security.APIKey)
	assert.True(t, cfg.SIEM.HEC.Enabled)
	assert.Equal(t, "hec-token", cfg.SIEM.HEC.Token)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jimini.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  port: 8080\n"), 0o600))

	t.Setenv("JIMINI_APP_PORT", "9999")
	t.Setenv("JIMINI_SECURITY_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.App.Port)
	assert.Equal(t, "from-env", cfg.Security.APIKey)
}

func TestValidate(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("rules: []\n"), 0o600))

	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Security.APIKey = "key"
		cfg.App.RulesPath = rulesPath
		return cfg
	}

	require.NoError(t, valid().Validate())

	t.Run("missing api key", func(t *testing.T) {
		cfg := valid()
		cfg.Security.APIKey = ""
		assert.ErrorContains(t, cfg.Validate(), "api_key")
	})

	t.Run("auth disabled allows empty key", func(t *testing.T) {
		cfg := valid()
		cfg.Security.AuthEnabled = false
		cfg.Security.APIKey = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing rules file", func(t *testing.T) {
		cfg := valid()
		cfg.App.RulesPath = filepath.Join(t.TempDir(), "absent.yaml")
		assert.ErrorContains(t, cfg.Validate(), "rules_path")
	})

	t.Run("malformed webhook url", func(t *testing.T) {
		cfg := valid()
		cfg.Notifiers.Webhook.Enabled = true
		cfg.Notifiers.Webhook.URL = "not a url"
		assert.ErrorContains(t, cfg.Validate(), "webhook")
	})

	t.Run("hec needs token", func(t *testing.T) {
		cfg := valid()
		cfg.SIEM.HEC.Enabled = true
		cfg.SIEM.HEC.URL = "https://splunk.example.com"
		cfg.SIEM.HEC.Token = ""
		assert.ErrorContains(t, cfg.Validate(), "token")
	})
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Security.APIKey = "secret-key"
	cfg.Security.JWTSecret = "jwt-secret"
	cfg.SIEM.HEC.Token = "hec-token"
	cfg.Notifiers.Webhook.URL = "https://hooks.example.com/T123/secret"

	red := cfg.Redacted()
	assert.Equal(t, SecretMask, red.Security.APIKey)
	assert.Equal(t, SecretMask, red.Security.JWTSecret)
	assert.Equal(t, SecretMask, red.SIEM.HEC.Token)
	assert.Equal(t, SecretMask, red.Notifiers.Webhook.URL)

	// Original untouched.
	assert.Equal(t, "secret-key", cfg.Security.APIKey)
}
