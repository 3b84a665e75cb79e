// Package config tests.
package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/infragen/internal/project"
)

func validConfig() *Config {
	return &Config{
		LLMProvider:          "gemini",
		GeminiAPIKey:         "g-key",
		APIAuthMode:          "api-key",
		APIKey:               "secret",
		DefaultTemplate:      "standard",
		DefaultThinkingLevel: "medium",
		MaxUploadBytes:       1024,
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "api-key", cfg.APIAuthMode)
	assert.Equal(t, "gemini", cfg.LLMProvider)
	assert.Equal(t, 200, cfg.ModuleMaxFiles)
	assert.Equal(t, int64(262144), cfg.ModuleMaxFileBytes)
	assert.Equal(t, 20971520, cfg.MaxUploadBytes)
	assert.Equal(t, 720*time.Hour, cfg.HistoryRetention)
	assert.False(t, cfg.HistoryEnabled())
	assert.False(t, cfg.SlackEnabled())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "a-key")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DATABASE_PATH", "/var/lib/infragen/runs.db")
	t.Setenv("MODULE_MAX_FILES", "10")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLMProvider)
	assert.Equal(t, "a-key", cfg.AnthropicAPIKey)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 10, cfg.ModuleMaxFiles)
	assert.True(t, cfg.HistoryEnabled())
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("MODULE_MAX_FILES", "lots")
	_, err := Load()
	assert.Error(t, err)
}

func TestConfig_EnabledFlags(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.SlackEnabled())

	cfg.SlackBotToken = "xoxb-test"
	assert.False(t, cfg.SlackEnabled())
	cfg.SlackChannel = "#infra-runs"
	assert.True(t, cfg.SlackEnabled())

	cfg.DatabasePath = "runs.db"
	assert.True(t, cfg.HistoryEnabled())
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing gemini key", func(c *Config) { c.GeminiAPIKey = "" }, "GEMINI_API_KEY"},
		{"missing anthropic key", func(c *Config) { c.LLMProvider = "anthropic" }, "ANTHROPIC_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLMProvider = "other" }, "LLM_PROVIDER"},
		{"missing api key", func(c *Config) { c.APIKey = "" }, "API_KEY"},
		{"unknown auth mode", func(c *Config) { c.APIAuthMode = "mtls" }, "API_AUTH_MODE"},
		{"bad template", func(c *Config) { c.DefaultTemplate = "monolith" }, "DEFAULT_TEMPLATE"},
		{"bad thinking", func(c *Config) { c.DefaultThinkingLevel = "max" }, "DEFAULT_THINKING_LEVEL"},
		{"bad upload size", func(c *Config) { c.MaxUploadBytes = 0 }, "MAX_UPLOAD_BYTES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	cfg := validConfig()
	cfg.APIAuthMode = "none"
	cfg.APIKey = ""
	assert.NoError(t, cfg.Validate())
}

func TestDefaultAgentConfig(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultTemplate = "serverless"
	cfg.DefaultThinkingLevel = "high"
	assert.Equal(t, project.AgentConfig{
		Template:      project.TemplateServerless,
		ThinkingLevel: project.ThinkingHigh,
	}, cfg.DefaultAgentConfig())
}
