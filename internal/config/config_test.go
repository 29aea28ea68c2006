package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BANKING_API_URL", "BANKING_API_TIMEOUT", "BANKING_USERNAME", "BANKING_PASSWORD",
		"BANKING_USE_AUTH", "BANKING_AUTH_SCOPE", "BANKING_MAX_RETRIES", "BANKING_RETRY_BACKOFF",
		"BANKING_RETRY_STATUS", "BANKING_LOG_LEVEL", "BANKING_BATCH_WORKERS", "BANKING_CONFIG", "DB_SOURCE",
	} {
		t.Setenv(k, "")
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, []int{500, 502, 503, 504}, cfg.RetryStatus)
	assert.True(t, cfg.UseAuth)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "banking.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: http://file:9000
timeout: 2.5
username: bob
use_auth: false
max_retries: 5
retry_backoff_factor: 0.5
retry_on_status: [503]
`), 0o600))

	t.Setenv("BANKING_USERNAME", "carol")
	t.Setenv("BANKING_RETRY_STATUS", "502, 504")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://file:9000", cfg.BaseURL)
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, "carol", cfg.Username)
	assert.False(t, cfg.UseAuth)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, []int{502, 504}, cfg.RetryStatus)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	for _, k := range []string{"BANKING_API_URL", "BANKING_MAX_RETRIES"} {
		require.NoError(t, os.Unsetenv(k))
	}
	require.NoError(t, os.WriteFile(".env", []byte("BANKING_API_URL=http://dotenv:1\nBANKING_MAX_RETRIES=7\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("BANKING_API_URL")
		os.Unsetenv("BANKING_MAX_RETRIES")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://dotenv:1", cfg.BaseURL)
	assert.Equal(t, 7, cfg.MaxRetries)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"BANKING_USE_AUTH":      "maybe",
		"BANKING_API_TIMEOUT":   "soon",
		"BANKING_MAX_RETRIES":   "0",
		"BANKING_RETRY_STATUS":  "700",
		"BANKING_BATCH_WORKERS": "x",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = ParseDuration("250ms")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.DBSource = "postgres://u:p@h/db"
	r := cfg.Redacted()

	assert.Equal(t, "[REDACTED]", r.Password)
	assert.Equal(t, "[REDACTED]", r.DBSource)
	assert.Equal(t, DefaultPassword, cfg.Password)
	assert.Equal(t, cfg.Username, r.Username)
}
