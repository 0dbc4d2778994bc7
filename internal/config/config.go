// Package config loads the JSON-format process configuration,
// including the legacy proxy_url migration and the nested proxy object.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Claude      ClaudeConfig      `mapstructure:"claude"`
	Proxy       ProxySettings     `mapstructure:"proxy"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Health      HealthConfig      `mapstructure:"health"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`

	// PerAccountSessionCap is "per_account_session_cap": the
	// maximum live sessions per account. 0 means unset/unbounded.
	PerAccountSessionCap int `mapstructure:"per_account_session_cap"`

	// SessionTTL is how long an idle (clientKey -> account) binding
	// survives in the Session Manager before it's swept.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// ClaudeConfig carries the upstream endpoints and OAuth refresh
// deployment credentials the two Upstream Drivers dial against.
type ClaudeConfig struct {
	APIURL        string `mapstructure:"api_url"`
	WebURL        string `mapstructure:"web_url"`
	OAuthClientID string `mapstructure:"oauth_client_id"`
	OAuthTokenURL string `mapstructure:"oauth_token_url"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type JWTConfig struct {
	Secret        string        `mapstructure:"secret"`
	DefaultExpiry time.Duration `mapstructure:"default_expiry"`
	Issuer        string        `mapstructure:"issuer"`
}

type AdminConfig struct {
	Key string `mapstructure:"key"`
}

type StorageConfig struct {
	AccountsPath string `mapstructure:"accounts_path"` // accounts.json
	ProxiesPath  string `mapstructure:"proxies_path"`  // proxies.txt
	ConfigPath   string `mapstructure:"config_path"`   // config.json, for rewrite-on-migrate
	DBPath       string `mapstructure:"db_path"`       // ambient sqlite enrichment store
}

// ProxySettings configures the Proxy Pool, JSON-nested under "proxy".
type ProxySettings struct {
	Mode                    string `mapstructure:"mode"` // disabled | fixed | dynamic
	FixedURL                string `mapstructure:"fixed_url"`
	RotationStrategy        string `mapstructure:"rotation_strategy"` // sequential | random | random_no_repeat | per_account
	RotationIntervalSeconds int    `mapstructure:"rotation_interval"`
	CooldownDurationSeconds int    `mapstructure:"cooldown_duration"`
	FallbackStrategy        string `mapstructure:"fallback_strategy"`
}

// RetryConfig configures the orchestrator's retry_* options.
type RetryConfig struct {
	RetryAttempts           int `mapstructure:"retry_attempts"`          // default 3
	RetryIntervalSeconds    int `mapstructure:"retry_interval"`          // default 1
	OverloadRetryAttempts   int `mapstructure:"overload_retry_attempts"` // default 5
	OverloadCooldownSeconds int `mapstructure:"overload_cooldown"`       // default 30
}

type ConcurrencyConfig struct {
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests"` // default 100
}

type HealthConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	CheckInterval      time.Duration `mapstructure:"check_interval"`
	TokenRefreshBefore time.Duration `mapstructure:"token_refresh_before"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads config.json (or CLAUDE_RELAY_-prefixed env overrides), applies
// defaults, migrates a legacy top-level proxy_url if present, and returns
// the parsed Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix("CLAUDE_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		configFileFound = false
	}

	migrated := migrateLegacyProxyURL(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	parseDurations(v, cfg)

	if migrated && configFileFound {
		if err := rewriteConfigFile(cfg, v.ConfigFileUsed()); err != nil {
			log.Warn().Err(err).Msg("failed to rewrite config.json after legacy proxy_url migration")
		} else {
			log.Info().Msg("migrated legacy proxy_url into proxy{mode:fixed} and rewrote config.json")
		}
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 300)

	v.SetDefault("jwt.default_expiry", "720h")
	v.SetDefault("jwt.issuer", "claude-relay")

	v.SetDefault("storage.accounts_path", "./accounts.json")
	v.SetDefault("storage.proxies_path", "./proxies.txt")
	v.SetDefault("storage.config_path", "./config.json")
	v.SetDefault("storage.db_path", "./relayd.db")

	v.SetDefault("claude.api_url", "https://api.anthropic.com")
	v.SetDefault("claude.web_url", "https://claude.ai")
	v.SetDefault("claude.oauth_token_url", "https://console.anthropic.com/v1/oauth/token")

	v.SetDefault("session_ttl", "1h")

	v.SetDefault("proxy.mode", "disabled")
	v.SetDefault("proxy.rotation_strategy", "sequential")
	v.SetDefault("proxy.rotation_interval", 60)
	v.SetDefault("proxy.cooldown_duration", 300)
	v.SetDefault("proxy.fallback_strategy", "random")

	v.SetDefault("retry.retry_attempts", 3)
	v.SetDefault("retry.retry_interval", 1)
	v.SetDefault("retry.overload_retry_attempts", 5)
	v.SetDefault("retry.overload_cooldown", 30)

	v.SetDefault("concurrency.max_concurrent_requests", 100)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.check_interval", "5m")
	v.SetDefault("health.token_refresh_before", "30m")
	v.SetDefault("health.timeout", "30s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("per_account_session_cap", 50)
}

// migrateLegacyProxyURL detects a top-level "proxy_url" key and
// translates it into ProxySettings{mode:fixed, fixed_url:...}. Returns true
// if a migration happened.
func migrateLegacyProxyURL(v *viper.Viper) bool {
	legacy := v.GetString("proxy_url")
	if legacy == "" {
		return false
	}
	if v.GetString("proxy.fixed_url") != "" || v.GetString("proxy.mode") == "fixed" {
		// New schema already present; legacy key is stale, ignore it.
		return false
	}
	v.Set("proxy.mode", "fixed")
	v.Set("proxy.fixed_url", legacy)
	return true
}

func parseDurations(v *viper.Viper, cfg *Config) {
	if d, err := time.ParseDuration(v.GetString("jwt.default_expiry")); err == nil {
		cfg.JWT.DefaultExpiry = d
	}
	if d, err := time.ParseDuration(v.GetString("health.check_interval")); err == nil {
		cfg.Health.CheckInterval = d
	}
	if d, err := time.ParseDuration(v.GetString("health.token_refresh_before")); err == nil {
		cfg.Health.TokenRefreshBefore = d
	}
	if d, err := time.ParseDuration(v.GetString("health.timeout")); err == nil {
		cfg.Health.Timeout = d
	}
	if d, err := time.ParseDuration(v.GetString("session_ttl")); err == nil {
		cfg.SessionTTL = d
	}
}

// rewriteConfigFile persists the migrated schema once, to the file Load read
// (storage.config_path when that is unknown), so subsequent reads go through
// proxy{} only.
func rewriteConfigFile(cfg *Config, path string) error {
	out := map[string]any{
		"server":                  cfg.Server,
		"jwt":                     map[string]any{"secret": cfg.JWT.Secret, "default_expiry": cfg.JWT.DefaultExpiry.String(), "issuer": cfg.JWT.Issuer},
		"admin":                   cfg.Admin,
		"storage":                 cfg.Storage,
		"claude":                  cfg.Claude,
		"proxy":                   cfg.Proxy,
		"retry":                   cfg.Retry,
		"concurrency":             cfg.Concurrency,
		"health":                  map[string]any{"enabled": cfg.Health.Enabled, "check_interval": cfg.Health.CheckInterval.String(), "token_refresh_before": cfg.Health.TokenRefreshBefore.String(), "timeout": cfg.Health.Timeout.String()},
		"metrics":                 cfg.Metrics,
		"per_account_session_cap": cfg.PerAccountSessionCap,
		"session_ttl":             cfg.SessionTTL.String(),
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		path = cfg.Storage.ConfigPath
	}
	if path == "" {
		path = "./config.json"
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
