// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.coursepilot/config.yaml)
//  3. Default values
//
// The per-principal AI configuration held by the platform backend
// (/ai/config) is merged on top at runtime via ApplyRemote; the locally
// cached provider key survives that merge when the remote copy carries none.
//
// Security: secrets (session token, provider key) are masked in MarshalJSON
// and never logged in the clear.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/coursepilot/assistant/internal/backend"
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidBackendURL indicates the backend base URL cannot be parsed.
	ErrInvalidBackendURL = errors.New("invalid backend base URL")

	// ErrInvalidProviderURL indicates the provider base URL cannot be parsed.
	ErrInvalidProviderURL = errors.New("invalid provider base URL")

	// ErrInvalidSearchLimit indicates search_limit is out of range.
	ErrInvalidSearchLimit = errors.New("invalid search limit")

	// ErrMissingModel indicates the chat model name is empty.
	ErrMissingModel = errors.New("missing chat model name")
)

// Defaults.
const (
	DefaultChatModel      = "deepseek-chat"
	DefaultDeepThinkModel = "deepseek-reasoner"
	DefaultProviderURL    = "https://api.deepseek.com"
	DefaultSearchLimit    = 5
	MaxSearchLimit        = 20
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON. When
// adding new secrets, update MarshalJSON.
type Config struct {
	// Platform backend
	BackendBaseURL string `mapstructure:"backend_base_url" json:"backend_base_url"`
	SessionToken   string `mapstructure:"session_token" json:"session_token"` // SENSITIVE
	Identity       string `mapstructure:"identity" json:"identity"`

	// Direct provider
	ProviderBaseURL string `mapstructure:"provider_base_url" json:"provider_base_url"`
	ProviderAPIKey  string `mapstructure:"provider_api_key" json:"provider_api_key"` // SENSITIVE

	// Models
	ChatModel      string `mapstructure:"chat_model" json:"chat_model"`
	DeepThinkModel string `mapstructure:"deep_think_model" json:"deep_think_model"`
	SystemPrompt   string `mapstructure:"system_prompt" json:"system_prompt"`

	// Web search
	WebSearch   bool `mapstructure:"web_search" json:"web_search"`
	AutoSearch  bool `mapstructure:"auto_search" json:"auto_search"`
	SearchLimit int  `mapstructure:"search_limit" json:"search_limit"`

	// Local history cache
	CachePath string `mapstructure:"cache_path" json:"cache_path"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".coursepilot")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults", "search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("backend_base_url", "http://localhost:8080/api")
	v.SetDefault("provider_base_url", DefaultProviderURL)
	v.SetDefault("chat_model", DefaultChatModel)
	v.SetDefault("deep_think_model", DefaultDeepThinkModel)
	v.SetDefault("system_prompt", "你是课程平台的学习助手，回答要准确、简洁，引用资料时注明来源。")
	v.SetDefault("web_search", false)
	v.SetDefault("auto_search", true)
	v.SetDefault("search_limit", DefaultSearchLimit)
	v.SetDefault("cache_path", filepath.Join(configDir, "history.db"))
	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("backend_base_url", "COURSEPILOT_BACKEND_URL")
	mustBind("session_token", "COURSEPILOT_TOKEN")
	mustBind("identity", "COURSEPILOT_IDENTITY")
	mustBind("provider_api_key", "COURSEPILOT_PROVIDER_KEY")
	mustBind("provider_base_url", "COURSEPILOT_PROVIDER_URL")
	mustBind("chat_model", "COURSEPILOT_CHAT_MODEL")
	mustBind("deep_think_model", "COURSEPILOT_DEEP_THINK_MODEL")
}

// Validate fails fast on unusable configuration.
func (c *Config) Validate() error {
	if c.BackendBaseURL != "" {
		if _, err := url.ParseRequestURI(c.BackendBaseURL); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidBackendURL, c.BackendBaseURL)
		}
	}
	if c.ProviderBaseURL != "" {
		if _, err := url.ParseRequestURI(c.ProviderBaseURL); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidProviderURL, c.ProviderBaseURL)
		}
	}
	if c.SearchLimit < 1 || c.SearchLimit > MaxSearchLimit {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidSearchLimit, c.SearchLimit, MaxSearchLimit)
	}
	if c.ChatModel == "" {
		return ErrMissingModel
	}
	return nil
}

// ApplyRemote merges the principal's server-side AI configuration on top of
// the local one. Empty remote fields leave local values alone, so a locally
// cached provider key survives a remote config that carries none.
func (c *Config) ApplyRemote(rc *backend.AIConfig) {
	if rc == nil {
		return
	}
	if rc.ChatModel != "" {
		c.ChatModel = rc.ChatModel
	}
	if rc.DeepThinkModel != "" {
		c.DeepThinkModel = rc.DeepThinkModel
	}
	if rc.BaseURL != "" {
		c.ProviderBaseURL = rc.BaseURL
	}
	if rc.SystemPrompt != "" {
		c.SystemPrompt = rc.SystemPrompt
	}
	if rc.ProviderKey != "" {
		c.ProviderAPIKey = rc.ProviderKey
	}
}

// Level converts the configured log level name to a slog.Level.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// maskedValue is the placeholder for masked sensitive data. Full-width blocks
// avoid accidental substring matches against real secret characters.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 chars or fewer are
// fully masked; longer ones show the first and last two characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit secret masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.SessionToken = maskSecret(a.SessionToken)
	a.ProviderAPIKey = maskSecret(a.ProviderAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
