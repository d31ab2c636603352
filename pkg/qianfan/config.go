package qianfan

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/qianfan-go/pkg/qferr"
)

// Config is an immutable snapshot of the SDK configuration.
//
// Snapshots are built by layering, lowest precedence first: built-in
// defaults, the dotenv file, process environment variables (QIANFAN_ prefix),
// programmatic options passed to SetConfig. A snapshot is never mutated after
// it is published; SetConfig installs a fresh copy, and calls already in
// flight keep the snapshot they captured.
type Config struct {
	// AccessKey / SecretKey is the admin-grade key pair. When both are set,
	// requests carry a bce-auth-v1 signature and every platform API
	// (inference and console) is reachable.
	AccessKey string
	SecretKey string

	// AK / SK is the application key pair, exchanged for a bearer token that
	// authorizes inference APIs only.
	AK string
	SK string

	// AccessToken is a pre-minted bearer token. It disables refresh: when it
	// expires the caller must supply a new one.
	AccessToken string

	// BaseURL is the inference API origin. Default: https://aip.baidubce.com.
	BaseURL string

	// ConsoleBaseURL is the management API origin used for endpoint registry
	// refresh. Default: https://qianfan.baidubce.com.
	ConsoleBaseURL string

	// IAMBaseURL is the IAM service origin. Default: https://iam.bj.baidubce.com.
	IAMBaseURL string

	// SignExpiration is the validity window stamped into each request
	// signature. Default: 300s.
	SignExpiration time.Duration

	// AccessTokenRefreshMinInterval debounces bearer refresh: within the
	// window a refresh request returns the cached token. Default: 1h.
	AccessTokenRefreshMinInterval time.Duration

	// Retry policy for inference APIs. RetryCount 0 means unbounded attempts
	// within RetryTimeout; RetryTimeout 0 means no per-call deadline.
	// Backoff before attempt n is min(RetryMaxWaitInterval,
	// RetryBackoffFactor * 2^(n-1)).
	RetryCount           int
	RetryTimeout         time.Duration
	RetryBackoffFactor   float64
	RetryMaxWaitInterval time.Duration

	// Separate retry policy for console APIs.
	ConsoleRetryCount           int
	ConsoleRetryTimeout         time.Duration
	ConsoleRetryBackoffFactor   float64
	ConsoleRetryMaxWaitInterval time.Duration

	// Default rate-limit parameters, applied per limit key. Zero disables the
	// corresponding bucket.
	QPSLimit float64
	RPMLimit int
	TPMLimit int

	// EnableStressTest bypasses local limiter waits so a load driver can push
	// the platform directly.
	EnableStressTest bool

	// CacheDir is where the SDK persists its endpoint registry between
	// processes. Empty disables disk caching. Default: ~/.qianfan_cache.
	CacheDir string

	// NoAuth skips request authorization entirely. Only useful against mocks.
	NoAuth bool

	// Version is the SDK version indicator sent as telemetry on every
	// inference request.
	Version string
}

// recognized QIANFAN_* environment keys; anything else with the prefix draws
// a warning so typos do not fail silently.
var knownConfigKeys = map[string]bool{
	"ACCESS_KEY": true, "SECRET_KEY": true,
	"AK": true, "SK": true, "ACCESS_TOKEN": true,
	"BASE_URL": true, "CONSOLE_API_BASE_URL": true, "IAM_BASE_URL": true,
	"IAM_SIGN_EXPIRATION_SEC": true, "ACCESS_TOKEN_REFRESH_MIN_INTERVAL": true,
	"LLM_API_RETRY_COUNT": true, "LLM_API_RETRY_TIMEOUT": true,
	"LLM_API_RETRY_BACKOFF_FACTOR": true, "LLM_RETRY_MAX_WAIT_INTERVAL": true,
	"CONSOLE_API_RETRY_COUNT": true, "CONSOLE_API_RETRY_TIMEOUT": true,
	"CONSOLE_API_RETRY_BACKOFF_FACTOR": true, "CONSOLE_API_RETRY_MAX_WAIT_INTERVAL": true,
	"QPS_LIMIT": true, "RPM_LIMIT": true, "TPM_LIMIT": true,
	"DOT_ENV_CONFIG_FILE": true, "ENABLE_STRESS_TEST": true,
	"CACHE_DIR": true, "NO_AUTH": true,
}

// LoadConfig builds a configuration snapshot from the environment.
//
// The dotenv file (QIANFAN_DOT_ENV_CONFIG_FILE, default ".env") is loaded
// first without overriding variables already present in the process
// environment, so env always beats the dotfile.
func LoadConfig() (*Config, error) {
	dotenv := os.Getenv("QIANFAN_DOT_ENV_CONFIG_FILE")
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := loadDotEnv(dotenv); err != nil {
		return nil, err
	}
	warnUnknownKeys()

	v := viper.New()
	v.SetEnvPrefix("QIANFAN")
	v.AutomaticEnv()

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("BASE_URL", "https://aip.baidubce.com")
	v.SetDefault("CONSOLE_API_BASE_URL", "https://qianfan.baidubce.com")
	v.SetDefault("IAM_BASE_URL", "https://iam.bj.baidubce.com")
	v.SetDefault("IAM_SIGN_EXPIRATION_SEC", 300)
	v.SetDefault("ACCESS_TOKEN_REFRESH_MIN_INTERVAL", 3600)

	v.SetDefault("LLM_API_RETRY_COUNT", 1)
	v.SetDefault("LLM_API_RETRY_TIMEOUT", 60)
	v.SetDefault("LLM_API_RETRY_BACKOFF_FACTOR", 0)
	v.SetDefault("LLM_RETRY_MAX_WAIT_INTERVAL", 120)

	v.SetDefault("CONSOLE_API_RETRY_COUNT", 1)
	v.SetDefault("CONSOLE_API_RETRY_TIMEOUT", 60)
	v.SetDefault("CONSOLE_API_RETRY_BACKOFF_FACTOR", 0)
	v.SetDefault("CONSOLE_API_RETRY_MAX_WAIT_INTERVAL", 120)

	// Rate limits: 0 = disabled.
	v.SetDefault("QPS_LIMIT", 0)
	v.SetDefault("RPM_LIMIT", 0)
	v.SetDefault("TPM_LIMIT", 0)

	v.SetDefault("CACHE_DIR", defaultCacheDir())

	// ── Build snapshot ────────────────────────────────────────────────────────
	cfg := &Config{
		AccessKey:   v.GetString("ACCESS_KEY"),
		SecretKey:   v.GetString("SECRET_KEY"),
		AK:          v.GetString("AK"),
		SK:          v.GetString("SK"),
		AccessToken: v.GetString("ACCESS_TOKEN"),

		BaseURL:        v.GetString("BASE_URL"),
		ConsoleBaseURL: v.GetString("CONSOLE_API_BASE_URL"),
		IAMBaseURL:     v.GetString("IAM_BASE_URL"),

		EnableStressTest: v.GetBool("ENABLE_STRESS_TEST"),
		CacheDir:         v.GetString("CACHE_DIR"),
		NoAuth:           v.GetBool("NO_AUTH"),

		Version: VersionIndicator,
	}

	// Numeric fields parse strictly so a malformed value fails load instead
	// of silently becoming zero.
	var err error
	if cfg.SignExpiration, err = secondsField(v, "IAM_SIGN_EXPIRATION_SEC"); err != nil {
		return nil, err
	}
	if cfg.AccessTokenRefreshMinInterval, err = secondsField(v, "ACCESS_TOKEN_REFRESH_MIN_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.RetryCount, err = intField(v, "LLM_API_RETRY_COUNT"); err != nil {
		return nil, err
	}
	if cfg.RetryTimeout, err = secondsField(v, "LLM_API_RETRY_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.RetryBackoffFactor, err = floatField(v, "LLM_API_RETRY_BACKOFF_FACTOR"); err != nil {
		return nil, err
	}
	if cfg.RetryMaxWaitInterval, err = secondsField(v, "LLM_RETRY_MAX_WAIT_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.ConsoleRetryCount, err = intField(v, "CONSOLE_API_RETRY_COUNT"); err != nil {
		return nil, err
	}
	if cfg.ConsoleRetryTimeout, err = secondsField(v, "CONSOLE_API_RETRY_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.ConsoleRetryBackoffFactor, err = floatField(v, "CONSOLE_API_RETRY_BACKOFF_FACTOR"); err != nil {
		return nil, err
	}
	if cfg.ConsoleRetryMaxWaitInterval, err = secondsField(v, "CONSOLE_API_RETRY_MAX_WAIT_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.QPSLimit, err = floatField(v, "QPS_LIMIT"); err != nil {
		return nil, err
	}
	if cfg.RPMLimit, err = intField(v, "RPM_LIMIT"); err != nil {
		return nil, err
	}
	if cfg.TPMLimit, err = intField(v, "TPM_LIMIT"); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	for _, u := range []struct{ name, val string }{
		{"QIANFAN_BASE_URL", c.BaseURL},
		{"QIANFAN_CONSOLE_API_BASE_URL", c.ConsoleBaseURL},
		{"QIANFAN_IAM_BASE_URL", c.IAMBaseURL},
	} {
		parsed, err := url.Parse(u.val)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return &qferr.ConfigError{Msg: fmt.Sprintf("%s must be an absolute URL, got %q", u.name, u.val)}
		}
	}
	if c.SignExpiration <= 0 {
		return &qferr.ConfigError{Msg: "QIANFAN_IAM_SIGN_EXPIRATION_SEC must be > 0"}
	}
	if c.RetryCount < 0 || c.ConsoleRetryCount < 0 {
		return &qferr.ConfigError{Msg: "retry count must be >= 0 (0 = unbounded)"}
	}
	if c.RetryBackoffFactor < 0 || c.ConsoleRetryBackoffFactor < 0 {
		return &qferr.ConfigError{Msg: "retry backoff factor must be >= 0"}
	}
	if c.QPSLimit < 0 || c.RPMLimit < 0 || c.TPMLimit < 0 {
		return &qferr.ConfigError{Msg: "rate limits must be >= 0 (0 = disabled)"}
	}
	return nil
}

// HasAccessKeyPair reports whether the admin key pair is complete.
func (c *Config) HasAccessKeyPair() bool { return c.AccessKey != "" && c.SecretKey != "" }

// HasAKSK reports whether the application key pair is complete.
func (c *Config) HasAKSK() bool { return c.AK != "" && c.SK != "" }

// HasCredentials reports whether any credential variant is usable.
func (c *Config) HasCredentials() bool {
	return c.HasAccessKeyPair() || c.HasAKSK() || c.AccessToken != ""
}

// ── Global snapshot ───────────────────────────────────────────────────────────

var (
	configMu      sync.Mutex
	currentConfig atomic.Pointer[Config]
)

// GetConfig returns the current snapshot, loading it from the environment on
// first use.
func GetConfig() (*Config, error) {
	if c := currentConfig.Load(); c != nil {
		return c, nil
	}
	configMu.Lock()
	defer configMu.Unlock()
	if c := currentConfig.Load(); c != nil {
		return c, nil
	}
	c, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	currentConfig.Store(c)
	return c, nil
}

// SetConfig applies opts to a copy of the current snapshot, validates it and
// installs the result atomically. Pipelines created afterwards observe the new
// snapshot; in-flight calls keep the one they captured.
func SetConfig(opts ...ConfigOption) (*Config, error) {
	configMu.Lock()
	defer configMu.Unlock()
	base := currentConfig.Load()
	if base == nil {
		var err error
		base, err = LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	next := *base
	for _, opt := range opts {
		opt(&next)
	}
	if err := next.validate(); err != nil {
		return nil, err
	}
	currentConfig.Store(&next)
	return &next, nil
}

// resetConfig drops the global snapshot so the next GetConfig reloads from
// the environment. Test hook.
func resetConfig() { currentConfig.Store(nil) }

// ConfigOption mutates a pending snapshot inside SetConfig.
type ConfigOption func(*Config)

// WithAccessKeyPair sets the admin key pair used for request signing.
func WithAccessKeyPair(accessKey, secretKey string) ConfigOption {
	return func(c *Config) { c.AccessKey, c.SecretKey = accessKey, secretKey }
}

// WithAKSK sets the application key pair used for bearer-token exchange.
func WithAKSK(ak, sk string) ConfigOption {
	return func(c *Config) { c.AK, c.SK = ak, sk }
}

// WithAccessToken sets a pre-minted bearer token and disables refresh.
func WithAccessToken(token string) ConfigOption {
	return func(c *Config) { c.AccessToken = token }
}

// WithBaseURL overrides the inference API origin.
func WithBaseURL(u string) ConfigOption { return func(c *Config) { c.BaseURL = u } }

// WithConsoleBaseURL overrides the management API origin.
func WithConsoleBaseURL(u string) ConfigOption { return func(c *Config) { c.ConsoleBaseURL = u } }

// WithRetry overrides the inference retry policy.
func WithRetry(count int, timeout time.Duration, backoffFactor float64, maxWait time.Duration) ConfigOption {
	return func(c *Config) {
		c.RetryCount = count
		c.RetryTimeout = timeout
		c.RetryBackoffFactor = backoffFactor
		c.RetryMaxWaitInterval = maxWait
	}
}

// WithRateLimits overrides the default rate-limit parameters.
func WithRateLimits(qps float64, rpm, tpm int) ConfigOption {
	return func(c *Config) {
		c.QPSLimit = qps
		c.RPMLimit = rpm
		c.TPMLimit = tpm
	}
}

// WithNoAuth disables request authorization. Only useful against mocks.
func WithNoAuth(on bool) ConfigOption { return func(c *Config) { c.NoAuth = on } }

// WithCacheDir overrides where the endpoint registry is persisted. Empty
// disables disk caching.
func WithCacheDir(dir string) ConfigOption { return func(c *Config) { c.CacheDir = dir } }

// ── Helpers ───────────────────────────────────────────────────────────────────

// loadDotEnv populates process env vars from a dotenv file when present.
// Existing variables are never overridden.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &qferr.ConfigError{Msg: fmt.Sprintf("failed to stat %s: %v", path, err)}
	}
	if info.IsDir() {
		return &qferr.ConfigError{Msg: fmt.Sprintf("%s is a directory, expected a file", path)}
	}
	if err := gotenv.Load(path); err != nil {
		return &qferr.ConfigError{Msg: fmt.Sprintf("failed to load %s: %v", path, err)}
	}
	return nil
}

// warnUnknownKeys logs QIANFAN_-prefixed env vars the SDK does not recognize.
func warnUnknownKeys() {
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		key, ok := strings.CutPrefix(name, "QIANFAN_")
		if !ok || knownConfigKeys[key] {
			continue
		}
		activeLogger().Warn("ignoring unknown config key", slog.String("key", name))
	}
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".qianfan_cache")
}

func intField(v *viper.Viper, key string) (int, error) {
	s := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &qferr.ConfigError{Msg: fmt.Sprintf("QIANFAN_%s: not an integer: %q", key, s)}
	}
	return n, nil
}

func floatField(v *viper.Viper, key string) (float64, error) {
	s := strings.TrimSpace(v.GetString(key))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &qferr.ConfigError{Msg: fmt.Sprintf("QIANFAN_%s: not a number: %q", key, s)}
	}
	return f, nil
}

// secondsField parses a numeric field expressed in seconds.
func secondsField(v *viper.Viper, key string) (time.Duration, error) {
	f, err := floatField(v, key)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}
