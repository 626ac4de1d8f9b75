// Package config loads debategraph settings from a YAML file, DEBATE_*
// environment variables and built-in defaults.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kataras/golog"
	"github.com/smallnest/debategraph/debate"
	"github.com/smallnest/debategraph/graph"
	"github.com/smallnest/debategraph/llm"
	"github.com/smallnest/debategraph/log"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override file values.
// DEBATE_LLM_MODEL overrides llm.model.
const EnvPrefix = "DEBATE"

// Config represents the complete debategraph configuration
type Config struct {
	LLM    LLMConfig    `mapstructure:"llm"`
	Store  StoreConfig  `mapstructure:"store"`
	Debate DebateConfig `mapstructure:"debate"`
	Log    LogConfig    `mapstructure:"log"`
	Retry  RetryConfig  `mapstructure:"retry"`
	Server ServerConfig `mapstructure:"server"`
}

// LLMConfig selects the text generation backend
type LLMConfig struct {
	// Provider is one of "ollama", "openai", "echo"
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Temperature float64 `mapstructure:"temperature"`
}

// StoreConfig selects the checkpoint backend
type StoreConfig struct {
	// Backend is one of "memory", "file", "sqlite", "postgres", "redis"
	Backend string `mapstructure:"backend"`
	// Path is the database file for sqlite and the checkpoint directory for file
	Path string `mapstructure:"path"`
	// DSN is the postgres connection string
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`

	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// DebateConfig shapes the debate graph
type DebateConfig struct {
	Rebuttals bool `mapstructure:"rebuttals"`
	Rounds    int  `mapstructure:"rounds"`
}

// LogConfig controls logging
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error", "none"
	Level string `mapstructure:"level"`
}

// RetryConfig controls in-run stage retries
type RetryConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
	// Backoff is one of "fixed", "exponential", "linear"
	Backoff      string        `mapstructure:"backoff"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
}

// ServerConfig controls the HTTP front-end
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "qwen2.5:1.5b",
			Temperature: 0.4,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "memory.db",
			Prefix:  "debate:",
		},
		Debate: DebateConfig{
			Rebuttals: true,
			Rounds:    1,
		},
		Log: LogConfig{
			Level: "info",
		},
		Retry: RetryConfig{
			Backoff:   "exponential",
			BaseDelay: time.Second,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// SetDefaults registers every default value with v so that unset keys and
// environment-only keys resolve.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("llm.provider", defaults.LLM.Provider)
	v.SetDefault("llm.model", defaults.LLM.Model)
	v.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	v.SetDefault("llm.api_key", defaults.LLM.APIKey)
	v.SetDefault("llm.temperature", defaults.LLM.Temperature)

	v.SetDefault("store.backend", defaults.Store.Backend)
	v.SetDefault("store.path", defaults.Store.Path)
	v.SetDefault("store.dsn", defaults.Store.DSN)
	v.SetDefault("store.table", defaults.Store.Table)
	v.SetDefault("store.addr", defaults.Store.Addr)
	v.SetDefault("store.password", defaults.Store.Password)
	v.SetDefault("store.db", defaults.Store.DB)
	v.SetDefault("store.prefix", defaults.Store.Prefix)
	v.SetDefault("store.ttl", defaults.Store.TTL)

	v.SetDefault("debate.rebuttals", defaults.Debate.Rebuttals)
	v.SetDefault("debate.rounds", defaults.Debate.Rounds)

	v.SetDefault("log.level", defaults.Log.Level)

	v.SetDefault("retry.max_retries", defaults.Retry.MaxRetries)
	v.SetDefault("retry.backoff", defaults.Retry.Backoff)
	v.SetDefault("retry.base_delay", defaults.Retry.BaseDelay)
	v.SetDefault("retry.stage_timeout", defaults.Retry.StageTimeout)

	v.SetDefault("server.addr", defaults.Server.Addr)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidationError represents a single invalid setting
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting found by Validate
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for _, err := range e {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

var (
	validProviders = []string{"", "ollama", "openai", "echo"}
	validBackends  = []string{"memory", "file", "sqlite", "postgres", "redis"}
)

// Validate reports all invalid settings, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if !slices.Contains(validProviders, c.LLM.Provider) {
		add("llm.provider", c.LLM.Provider, "must be one of ollama, openai, echo")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", c.LLM.Temperature, "must be between 0 and 2")
	}

	switch {
	case !slices.Contains(validBackends, c.Store.Backend):
		add("store.backend", c.Store.Backend, "must be one of "+strings.Join(validBackends, ", "))
	case (c.Store.Backend == "sqlite" || c.Store.Backend == "file") && c.Store.Path == "":
		add("store.path", c.Store.Path, "is required for the "+c.Store.Backend+" backend")
	case c.Store.Backend == "postgres" && c.Store.DSN == "":
		add("store.dsn", c.Store.DSN, "is required for the postgres backend")
	case c.Store.Backend == "redis" && c.Store.Addr == "":
		add("store.addr", c.Store.Addr, "is required for the redis backend")
	}
	if c.Store.TTL < 0 {
		add("store.ttl", c.Store.TTL, "must not be negative")
	}

	if err := c.DebateOptions().Validate(); err != nil {
		add("debate.rounds", c.Debate.Rounds, err.Error())
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level", c.Log.Level, "must be one of debug, info, warn, error, none")
	}

	if c.Retry.MaxRetries < 0 {
		add("retry.max_retries", c.Retry.MaxRetries, "must not be negative")
	}
	if _, ok := graph.ParseBackoffStrategy(c.Retry.Backoff); !ok {
		add("retry.backoff", c.Retry.Backoff, "must be one of fixed, exponential, linear")
	}
	if c.Retry.BaseDelay < 0 {
		add("retry.base_delay", c.Retry.BaseDelay, "must not be negative")
	}
	if c.Retry.StageTimeout < 0 {
		add("retry.stage_timeout", c.Retry.StageTimeout, "must not be negative")
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// LLMOptions converts the llm section for llm.New.
func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		BaseURL:     c.LLM.BaseURL,
		APIKey:      c.LLM.APIKey,
		Temperature: c.LLM.Temperature,
	}
}

// DebateOptions converts the debate section for debate.NewGraph.
func (c *Config) DebateOptions() debate.Options {
	return debate.Options{Rebuttals: c.Debate.Rebuttals, Rounds: c.Debate.Rounds}
}

// RetryPolicy returns the in-run retry policy, or nil when retries are off.
func (c *Config) RetryPolicy() *graph.RetryPolicy {
	if c.Retry.MaxRetries == 0 {
		return nil
	}
	backoff, _ := graph.ParseBackoffStrategy(c.Retry.Backoff)
	return &graph.RetryPolicy{
		MaxRetries:      c.Retry.MaxRetries,
		BackoffStrategy: backoff,
		BaseDelay:       c.Retry.BaseDelay,
	}
}

// Logger returns a golog-backed logger at the configured level.
func (c *Config) Logger() (log.Logger, error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	if level == log.LogLevelNone {
		return &log.NoOpLogger{}, nil
	}
	l := log.NewGologLogger(golog.New())
	l.SetLevel(level)
	return l, nil
}
