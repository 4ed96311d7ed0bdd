// Package config loads application configuration from an optional YAML file
// and NSSYNC_ environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// Fetch modes.
const (
	FetchSequential = "sequential"
	FetchParallel   = "parallel"
)

// MaxPageSize is the largest page the list endpoint accepts.
const MaxPageSize = 1000

// Config holds the application configuration.
type Config struct {
	Account     AccountConfig `yaml:"account"`
	DBPath      string        `yaml:"db_path"`
	ListenAddr  string        `yaml:"listen_addr"`
	SecretKey   string        `yaml:"secret_key"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	Sync        SyncConfig    `yaml:"sync"`
	Cache       CacheConfig   `yaml:"cache"`
	Retry       RetryConfig   `yaml:"retry"`
	Log         LogConfig     `yaml:"log"`
}

// AccountConfig identifies the remote account and how to authenticate to it.
type AccountConfig struct {
	ID             string `yaml:"id"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	TokenID        string `yaml:"token_id"`
	TokenSecret    string `yaml:"token_secret"`
	AuthMethod     string `yaml:"auth_method"`
	// BaseURL is the REST root; empty derives it from the account id.
	BaseURL string `yaml:"base_url"`
	// TokenSafetyMargin refreshes bearer tokens this long before expiry.
	TokenSafetyMargin time.Duration `yaml:"token_safety_margin"`
}

// SyncConfig controls the passes the scheduler runs.
type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Entities    []string      `yaml:"entities"`
	PageSize    int           `yaml:"page_size"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	FetchMode   string        `yaml:"fetch_mode"`
}

// CacheConfig controls the per-record fetch cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// RetryConfig controls backoff on throttled and transient failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      float64       `yaml:"jitter"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Account: AccountConfig{
			AuthMethod:        string(model.AuthLegacy),
			TokenSafetyMargin: 5 * time.Minute,
		},
		DBPath:      "nssync.db",
		ListenAddr:  "127.0.0.1:8080",
		HTTPTimeout: 60 * time.Second,
		Sync: SyncConfig{
			Interval:    time.Hour,
			Entities:    []string{string(model.EntityVendor), string(model.EntityVendorBill)},
			PageSize:    100,
			BatchSize:   100,
			Concurrency: 5,
			FetchMode:   FetchParallel,
		},
		Cache: CacheConfig{
			Enabled: false,
			TTL:     24 * time.Hour,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2,
			Jitter:      0.2,
			MaxDelay:    30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then non-empty NSSYNC_ environment variables. The
// result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with the variable's value. Bare $VAR is
// left alone so secrets containing '$' survive.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(envRef.FindStringSubmatch(ref)[1])
	})
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"NSSYNC_ACCOUNT_ID":      &c.Account.ID,
		"NSSYNC_CONSUMER_KEY":    &c.Account.ConsumerKey,
		"NSSYNC_CONSUMER_SECRET": &c.Account.ConsumerSecret,
		"NSSYNC_TOKEN_ID":        &c.Account.TokenID,
		"NSSYNC_TOKEN_SECRET":    &c.Account.TokenSecret,
		"NSSYNC_AUTH_METHOD":     &c.Account.AuthMethod,
		"NSSYNC_BASE_URL":        &c.Account.BaseURL,
		"NSSYNC_DB_PATH":         &c.DBPath,
		"NSSYNC_LISTEN_ADDR":     &c.ListenAddr,
		"NSSYNC_SECRET_KEY":      &c.SecretKey,
		"NSSYNC_FETCH_MODE":      &c.Sync.FetchMode,
		"NSSYNC_LOG_LEVEL":       &c.Log.Level,
		"NSSYNC_LOG_FORMAT":      &c.Log.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"NSSYNC_SYNC_INTERVAL":       &c.Sync.Interval,
		"NSSYNC_CACHE_TTL":           &c.Cache.TTL,
		"NSSYNC_HTTP_TIMEOUT":        &c.HTTPTimeout,
		"NSSYNC_TOKEN_SAFETY_MARGIN": &c.Account.TokenSafetyMargin,
		"NSSYNC_RETRY_BASE_DELAY":    &c.Retry.BaseDelay,
		"NSSYNC_RETRY_MAX_DELAY":     &c.Retry.MaxDelay,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
			}
			*dst = parsed
		}
	}

	ints := map[string]*int{
		"NSSYNC_PAGE_SIZE":    &c.Sync.PageSize,
		"NSSYNC_BATCH_SIZE":   &c.Sync.BatchSize,
		"NSSYNC_CONCURRENCY":  &c.Sync.Concurrency,
		"NSSYNC_MAX_ATTEMPTS": &c.Retry.MaxAttempts,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
			}
			*dst = parsed
		}
	}

	if v := os.Getenv("NSSYNC_CACHE_ENABLED"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NSSYNC_CACHE_ENABLED has invalid boolean %q: %w", v, err)
		}
		c.Cache.Enabled = parsed
	}

	if v, ok := os.LookupEnv("NSSYNC_ENTITIES"); ok {
		c.Sync.Entities = nil
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				c.Sync.Entities = append(c.Sync.Entities, name)
			}
		}
	}

	return nil
}

// Validate checks value ranges. Credentials are not required here: they may
// be supplied from the encrypted store after the database is opened; see
// CredentialSet and model.CredentialSet.Validate.
func (c *Config) Validate() error {
	var errs []error

	if _, err := model.ParseAuthMethod(c.Account.AuthMethod); err != nil {
		errs = append(errs, err)
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path must not be empty"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync interval must be positive"))
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("page size must be between 1 and %d", MaxPageSize))
	}
	if c.Sync.BatchSize < 1 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Sync.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.Sync.FetchMode != FetchSequential && c.Sync.FetchMode != FetchParallel {
		errs = append(errs, fmt.Errorf("fetch mode must be %s or %s", FetchSequential, FetchParallel))
	}
	if _, err := c.EntityTypes(); err != nil {
		errs = append(errs, err)
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache ttl must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		errs = append(errs, errors.New("retry jitter must be in [0, 1)"))
	}
	if _, err := c.SecretKeyBytes(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// EntityTypes parses the configured entity type names.
func (c *Config) EntityTypes() ([]model.EntityType, error) {
	if len(c.Sync.Entities) == 0 {
		return nil, errors.New("at least one entity type must be configured")
	}
	types := make([]model.EntityType, 0, len(c.Sync.Entities))
	for _, name := range c.Sync.Entities {
		t, err := model.ParseEntityType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// CredentialSet returns the account credentials from configuration.
func (c *Config) CredentialSet() model.CredentialSet {
	method, err := model.ParseAuthMethod(c.Account.AuthMethod)
	if err != nil {
		method = model.AuthLegacy
	}
	return model.CredentialSet{
		AccountID:      c.Account.ID,
		ConsumerKey:    c.Account.ConsumerKey,
		ConsumerSecret: c.Account.ConsumerSecret,
		TokenID:        c.Account.TokenID,
		TokenSecret:    c.Account.TokenSecret,
		AuthMethod:     method,
	}
}

// SecretKeyBytes decodes the hex credential-encryption key. It returns nil
// when no key is configured.
func (c *Config) SecretKeyBytes() ([]byte, error) {
	if c.SecretKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("secret key must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes (64 hex characters), got %d bytes", len(key))
	}
	return key, nil
}
