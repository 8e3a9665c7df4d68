// Package config loads follow-reconciler settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/follow-reconciler/pkg/logging"
)

const (
	// FileName is the config file name searched in ./ and ./config (without extension).
	FileName = "follow-reconciler"

	// EnvPrefix prefixes every environment override, e.g. FOLLOW_RECONCILER_SERVER_PORT.
	EnvPrefix = "FOLLOW_RECONCILER"
)

// Token environment variables, in order of preference.
var tokenEnv = []string{
	EnvPrefix + "_GITHUB_TOKEN",
	"GH_TOKEN",
	"GITHUB_TOKEN",
	"GITHUB_API_TOKEN",
}

type Config struct {
	GitHub     GitHubConfig     `mapstructure:"github"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Batch      BatchConfig      `mapstructure:"batch"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Server     ServerConfig     `mapstructure:"server"`
	Session    SessionConfig    `mapstructure:"session"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
}

type GitHubConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	UserAgent  string        `mapstructure:"user_agent"`
	APIVersion string        `mapstructure:"api_version"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// Token is only used by the CLI; the HTTP API takes the caller's token per request.
	Token string `mapstructure:"token"`
}

type PaginationConfig struct {
	PageSize int           `mapstructure:"page_size"`
	MaxPages int           `mapstructure:"max_pages"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type BatchConfig struct {
	WaveSize int `mapstructure:"wave_size"`
}

type RateLimitConfig struct {
	ThrottleDelay time.Duration `mapstructure:"throttle_delay"`
	StateTTL      time.Duration `mapstructure:"state_ttl"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type SessionConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// RedisConfig is optional: with an empty Address, rate limit state and stats stay in memory.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration. An empty path searches ./follow-reconciler.yaml and
// ./config/follow-reconciler.yaml and tolerates their absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Token falls back to the variables the gh CLI and GitHub Actions use.
	if err := v.BindEnv(append([]string{"github.token"}, tokenEnv...)...); err != nil {
		return nil, fmt.Errorf("bind token env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.GitHub.Token = strings.TrimSpace(cfg.GitHub.Token)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.user_agent", "follow-reconciler/1.0 (+https://github.com/Sternrassler/follow-reconciler)")
	v.SetDefault("github.api_version", "2022-11-28")
	v.SetDefault("github.timeout", "20s")
	v.SetDefault("pagination.page_size", 100)
	v.SetDefault("pagination.max_pages", 50)
	v.SetDefault("pagination.timeout", "20s")
	v.SetDefault("batch.wave_size", 6)
	v.SetDefault("rate_limit.throttle_delay", "1s")
	v.SetDefault("rate_limit.state_ttl", "1h")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("session.idle_timeout", "1h")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.GitHub.UserAgent == "" {
		errs = append(errs, errors.New("github.user_agent is required"))
	}
	if c.GitHub.Timeout <= 0 {
		errs = append(errs, errors.New("github.timeout must be > 0"))
	}
	if c.Pagination.PageSize < 1 || c.Pagination.PageSize > 100 {
		errs = append(errs, fmt.Errorf("pagination.page_size must be between 1 and 100 (got %d)", c.Pagination.PageSize))
	}
	if c.Pagination.MaxPages < 1 {
		errs = append(errs, errors.New("pagination.max_pages must be > 0"))
	}
	if c.Pagination.Timeout <= 0 {
		errs = append(errs, errors.New("pagination.timeout must be > 0"))
	}
	if c.Batch.WaveSize < 1 {
		errs = append(errs, errors.New("batch.wave_size must be > 0"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range (got %d)", c.Server.Port))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
