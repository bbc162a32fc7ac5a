package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursepilot/assistant/internal/backend"
)

func validConfig() *Config {
	return &Config{
		BackendBaseURL:  "http://localhost:8080/api",
		ProviderBaseURL: DefaultProviderURL,
		ChatModel:       DefaultChatModel,
		DeepThinkModel:  DefaultDeepThinkModel,
		SearchLimit:     DefaultSearchLimit,
		LogLevel:        "info",
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultChatModel, cfg.ChatModel)
	assert.Equal(t, DefaultDeepThinkModel, cfg.DeepThinkModel)
	assert.Equal(t, DefaultProviderURL, cfg.ProviderBaseURL)
	assert.Equal(t, DefaultSearchLimit, cfg.SearchLimit)
	assert.False(t, cfg.WebSearch)
	assert.True(t, cfg.AutoSearch)
	assert.NotEmpty(t, cfg.CachePath)
	assert.Empty(t, cfg.SessionToken)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("COURSEPILOT_BACKEND_URL", "https://edu.example.com/api")
	t.Setenv("COURSEPILOT_TOKEN", "env-token")
	t.Setenv("COURSEPILOT_IDENTITY", "alice")
	t.Setenv("COURSEPILOT_CHAT_MODEL", "env-model")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://edu.example.com/api", cfg.BackendBaseURL)
	assert.Equal(t, "env-token", cfg.SessionToken)
	assert.Equal(t, "alice", cfg.Identity)
	assert.Equal(t, "env-model", cfg.ChatModel)
}

func TestLoadReadsConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".coursepilot")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("identity: bob\nsearch_limit: 10\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Identity)
	assert.Equal(t, 10, cfg.SearchLimit)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	bad := validConfig()
	bad.BackendBaseURL = "not a url"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidBackendURL)

	bad = validConfig()
	bad.ProviderBaseURL = "://broken"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidProviderURL)

	bad = validConfig()
	bad.SearchLimit = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSearchLimit)

	bad = validConfig()
	bad.SearchLimit = MaxSearchLimit + 1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSearchLimit)

	bad = validConfig()
	bad.ChatModel = ""
	assert.ErrorIs(t, bad.Validate(), ErrMissingModel)
}

func TestValidateAllowsEmptyURLs(t *testing.T) {
	cfg := validConfig()
	cfg.BackendBaseURL = ""
	cfg.ProviderBaseURL = ""
	assert.NoError(t, cfg.Validate())
}

func TestApplyRemote(t *testing.T) {
	cfg := validConfig()
	cfg.ProviderAPIKey = "sk-local-key"
	cfg.SystemPrompt = "local prompt"

	cfg.ApplyRemote(&backend.AIConfig{
		ChatModel:    "custom-chat",
		BaseURL:      "https://proxy.example.com",
		SystemPrompt: "remote prompt",
	})

	assert.Equal(t, "custom-chat", cfg.ChatModel)
	assert.Equal(t, "https://proxy.example.com", cfg.ProviderBaseURL)
	assert.Equal(t, "remote prompt", cfg.SystemPrompt)
	// Remote carried no key and no deep-think model; local values survive.
	assert.Equal(t, "sk-local-key", cfg.ProviderAPIKey)
	assert.Equal(t, DefaultDeepThinkModel, cfg.DeepThinkModel)
}

func TestApplyRemoteNil(t *testing.T) {
	cfg := validConfig()
	before := *cfg
	cfg.ApplyRemote(nil)
	assert.Equal(t, before, *cfg)
}

func TestMaskSecret(t *testing.T) {
	assert.Empty(t, maskSecret(""))
	assert.Equal(t, maskedValue, maskSecret("short"))
	assert.Equal(t, maskedValue, maskSecret("12345678"))

	masked := maskSecret("sk-abcdefghijklmnop")
	assert.True(t, strings.HasPrefix(masked, "sk"))
	assert.True(t, strings.HasSuffix(masked, "op"))
	assert.NotContains(t, masked, "abcdefghijklmn")
}

func TestMarshalJSONMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.SessionToken = "session-token-value"
	cfg.ProviderAPIKey = "sk-provider-key-value"

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	out := string(data)
	assert.NotContains(t, out, "session-token-value")
	assert.NotContains(t, out, "sk-provider-key-value")
	assert.Contains(t, out, maskedValue)
	// Non-secret fields pass through untouched.
	assert.Contains(t, out, DefaultChatModel)
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.SessionToken = "super-secret-token"
	assert.NotContains(t, cfg.String(), "super-secret-token")
}

func TestLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "DEBUG",
		"info":  "INFO",
		"warn":  "WARN",
		"error": "ERROR",
		"":      "INFO",
		"bogus": "INFO",
	}
	for in, want := range cases {
		cfg := validConfig()
		cfg.LogLevel = in
		assert.Equal(t, want, cfg.Level().String(), "level %q", in)
	}
}
