package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/p-blackswan/infragen/internal/project"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP API
	HTTPAddr          string `envconfig:"HTTP_ADDR" default:":8080"`
	APIAuthMode       string `envconfig:"API_AUTH_MODE" default:"api-key"` // "api-key" or "none"
	APIKey            string `envconfig:"API_KEY"`
	APICORSOrigins    string `envconfig:"API_CORS_ORIGINS"`
	APIRateLimitRPS   int    `envconfig:"API_RATE_LIMIT_RPS" default:"10"`
	APIRateLimitBurst int    `envconfig:"API_RATE_LIMIT_BURST" default:"20"`
	MaxUploadBytes    int    `envconfig:"MAX_UPLOAD_BYTES" default:"20971520"`

	// Generation service
	LLMProvider     string `envconfig:"LLM_PROVIDER" default:"gemini"` // "gemini" or "anthropic"
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	GeminiModel     string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-pro"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-5"`

	// Run history (optional, disabled when empty)
	DatabasePath     string        `envconfig:"DATABASE_PATH"`
	HistoryRetention time.Duration `envconfig:"HISTORY_RETENTION" default:"720h"`

	// Slack notifications (optional)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel  string `envconfig:"SLACK_CHANNEL"`

	// Module context archives
	ModuleMaxFiles     int   `envconfig:"MODULE_MAX_FILES" default:"200"`
	ModuleMaxFileBytes int64 `envconfig:"MODULE_MAX_FILE_BYTES" default:"262144"`

	// Run defaults when the request omits them
	DefaultTemplate      string `envconfig:"DEFAULT_TEMPLATE" default:"standard"`
	DefaultThinkingLevel string `envconfig:"DEFAULT_THINKING_LEVEL" default:"medium"`
}

// SlackEnabled returns true if run summaries should be posted to Slack.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// HistoryEnabled returns true if runs are recorded in SQLite.
func (c *Config) HistoryEnabled() bool {
	return c.DatabasePath != ""
}

// DefaultAgentConfig returns the run configuration used for omitted fields.
func (c *Config) DefaultAgentConfig() project.AgentConfig {
	return project.AgentConfig{
		Template:      project.Template(c.DefaultTemplate),
		ThinkingLevel: project.ThinkingLevel(c.DefaultThinkingLevel),
	}
}

// Validate checks settings that have no safe fallback.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLMProvider) {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (want gemini or anthropic)", c.LLMProvider)
	}

	switch c.APIAuthMode {
	case "none":
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("API_KEY is required when API_AUTH_MODE=api-key")
		}
	default:
		return fmt.Errorf("unknown API_AUTH_MODE %q (want api-key or none)", c.APIAuthMode)
	}

	switch project.Template(c.DefaultTemplate) {
	case project.TemplateStandard, project.TemplateMicroservices, project.TemplateServerless:
	default:
		return fmt.Errorf("invalid DEFAULT_TEMPLATE %q", c.DefaultTemplate)
	}
	switch project.ThinkingLevel(c.DefaultThinkingLevel) {
	case project.ThinkingLow, project.ThinkingMedium, project.ThinkingHigh:
	default:
		return fmt.Errorf("invalid DEFAULT_THINKING_LEVEL %q", c.DefaultThinkingLevel)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
