package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL      = "http://localhost:8123"
	DefaultTimeout      = 10 * time.Second
	DefaultUsername     = "alice"
	DefaultPassword     = "password123"
	DefaultAuthScope    = "transfer"
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
	DefaultLogLevel     = "info"
	DefaultBatchWorkers = 10
)

// DefaultRetryStatus is the set of status codes retried with backoff.
var DefaultRetryStatus = []int{500, 502, 503, 504}

// Config is resolved once at startup and passed by value afterwards.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	Username     string
	Password     string
	UseAuth      bool
	AuthScope    string
	MaxRetries   int
	RetryBackoff time.Duration
	RetryStatus  []int
	LogLevel     string
	BatchWorkers int
	DBSource     string
}

// fileConfig mirrors the YAML config file. Durations are in seconds.
type fileConfig struct {
	BaseURL            *string  `yaml:"base_url"`
	Timeout            *float64 `yaml:"timeout"`
	Username           *string  `yaml:"username"`
	Password           *string  `yaml:"password"`
	UseAuth            *bool    `yaml:"use_auth"`
	AuthScope          *string  `yaml:"auth_scope"`
	MaxRetries         *int     `yaml:"max_retries"`
	RetryBackoffFactor *float64 `yaml:"retry_backoff_factor"`
	RetryOnStatus      []int    `yaml:"retry_on_status"`
	LogLevel           *string  `yaml:"log_level"`
	BatchWorkers       *int     `yaml:"batch_workers"`
	DBSource           *string  `yaml:"db_source"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Timeout:      DefaultTimeout,
		Username:     DefaultUsername,
		Password:     DefaultPassword,
		UseAuth:      true,
		AuthScope:    DefaultAuthScope,
		MaxRetries:   DefaultMaxRetries,
		RetryBackoff: DefaultRetryBackoff,
		RetryStatus:  append([]int(nil), DefaultRetryStatus...),
		LogLevel:     DefaultLogLevel,
		BatchWorkers: DefaultBatchWorkers,
	}
}

// Load resolves configuration with priority env > file > defaults. path may
// be empty, in which case BANKING_CONFIG is consulted. A .env file in the
// working directory is loaded first if present.
func Load(path string) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, fmt.Errorf("loading .env: %w", err)
		}
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("BANKING_CONFIG")
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.BaseURL != nil {
		c.BaseURL = *fc.BaseURL
	}
	if fc.Timeout != nil {
		c.Timeout = seconds(*fc.Timeout)
	}
	if fc.Username != nil {
		c.Username = *fc.Username
	}
	if fc.Password != nil {
		c.Password = *fc.Password
	}
	if fc.UseAuth != nil {
		c.UseAuth = *fc.UseAuth
	}
	if fc.AuthScope != nil {
		c.AuthScope = *fc.AuthScope
	}
	if fc.MaxRetries != nil {
		c.MaxRetries = *fc.MaxRetries
	}
	if fc.RetryBackoffFactor != nil {
		c.RetryBackoff = seconds(*fc.RetryBackoffFactor)
	}
	if len(fc.RetryOnStatus) > 0 {
		c.RetryStatus = fc.RetryOnStatus
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	if fc.BatchWorkers != nil {
		c.BatchWorkers = *fc.BatchWorkers
	}
	if fc.DBSource != nil {
		c.DBSource = *fc.DBSource
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("BANKING_API_URL", &c.BaseURL)
	str("BANKING_USERNAME", &c.Username)
	str("BANKING_PASSWORD", &c.Password)
	str("BANKING_AUTH_SCOPE", &c.AuthScope)
	str("BANKING_LOG_LEVEL", &c.LogLevel)
	str("DB_SOURCE", &c.DBSource)

	if v, ok := lookup("BANKING_USE_AUTH"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BANKING_USE_AUTH: %w", err)
		}
		c.UseAuth = b
	}
	if v, ok := lookup("BANKING_API_TIMEOUT"); ok && v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BANKING_API_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v, ok := lookup("BANKING_RETRY_BACKOFF"); ok && v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BANKING_RETRY_BACKOFF: %w", err)
		}
		c.RetryBackoff = d
	}
	if v, ok := lookup("BANKING_MAX_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BANKING_MAX_RETRIES: %w", err)
		}
		c.MaxRetries = n
	}
	if v, ok := lookup("BANKING_BATCH_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BANKING_BATCH_WORKERS: %w", err)
		}
		c.BatchWorkers = n
	}
	if v, ok := lookup("BANKING_RETRY_STATUS"); ok && v != "" {
		codes, err := parseStatusList(v)
		if err != nil {
			return fmt.Errorf("BANKING_RETRY_STATUS: %w", err)
		}
		c.RetryStatus = codes
	}
	return nil
}

// Validate checks the invariants the client depends on.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base URL is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry backoff must not be negative, got %s", c.RetryBackoff))
	}
	if c.BatchWorkers < 1 {
		errs = append(errs, fmt.Errorf("batch workers must be at least 1, got %d", c.BatchWorkers))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy that is safe to log.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "[REDACTED]"
	}
	if c.DBSource != "" {
		c.DBSource = "[REDACTED]"
	}
	c.RetryStatus = append([]int(nil), c.RetryStatus...)
	return c
}

// ParseDuration accepts a Go duration ("750ms") or a bare number of seconds ("1.5").
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return seconds(f), nil
	}
	return time.ParseDuration(v)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func parseStatusList(v string) ([]int, error) {
	var codes []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 100 || n > 599 {
			return nil, fmt.Errorf("invalid status code %q", part)
		}
		codes = append(codes, n)
	}
	return codes, nil
}
