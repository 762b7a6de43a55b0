// Package config loads runtime configuration from solstice.yaml, layered
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/solsticehq/solstice/internal/agent"
	"github.com/solsticehq/solstice/internal/agent/providers"
)

// Config is the top-level runtime configuration.
type Config struct {
	// LLM selection
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // custom OpenAI-compatible endpoint

	// Loop parameters
	PersonalityName string  `yaml:"personality_name"`
	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`

	// Tool-group gates
	EnableTerminal bool `yaml:"enable_terminal"`
	EnableWeb      bool `yaml:"enable_web"`
	EnableSkills   bool `yaml:"enable_skills"`
	EnableCron     bool `yaml:"enable_cron"`
	EnableRegistry bool `yaml:"enable_registry"`

	// Gateway
	GatewayEnabled  bool                      `yaml:"gateway_enabled"`
	GatewayChannels map[string]map[string]any `yaml:"gateway_channels"`
	GatewayHost     string                    `yaml:"gateway_host"`
	GatewayPort     int                       `yaml:"gateway_port"`
	GatewayToken    string                    `yaml:"gateway_token"`

	// Multi-agent
	Agents  map[string]map[string]any `yaml:"agents"`
	Routing RoutingConfig             `yaml:"routing"`

	// Local models
	OllamaBaseURL string `yaml:"ollama_base_url"`

	// Paths. Empty = defaults under the home directory.
	DataRoot  string `yaml:"data_root"`
	Workspace string `yaml:"workspace"`

	Logging LoggingConfig `yaml:"logging"`
}

// RoutingConfig selects a routing strategy for multi-agent setups.
type RoutingConfig struct {
	Strategy string            `yaml:"strategy"`
	Rules    map[string]string `yaml:"rules"`
	Default  string            `yaml:"default"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// defaultModels maps a provider name to the model used when none is set.
var defaultModels = map[string]string{
	"openai":    "gpt-4o",
	"anthropic": "claude-sonnet-4-5-20250929",
	"gemini":    "gemini-2.5-flash",
	"ollama":    "llama3.1",
}

// DefaultModelFor returns the default model for a provider name.
func DefaultModelFor(provider string) string {
	if m, ok := defaultModels[provider]; ok {
		return m
	}
	return defaultModels["openai"]
}

// New returns a Config populated with defaults only.
func New() *Config {
	return &Config{
		Provider:        "openai",
		PersonalityName: "default",
		Temperature:     0.7,
		MaxTokens:       4096,
		EnableTerminal:  true,
		EnableWeb:       true,
		EnableSkills:    true,
		EnableCron:      true,
		EnableRegistry:  true,
		GatewayHost:     "127.0.0.1",
		GatewayPort:     8787,
		OllamaBaseURL:   "http://localhost:11434",
	}
}

// DataDir returns the persistence root, defaulting to ~/.solstice.
func (c *Config) DataDir() string {
	if c.DataRoot != "" {
		return c.DataRoot
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".solstice"
	}
	return filepath.Join(home, ".solstice")
}

// CreateProvider builds the LLM provider selected by the config.
func (c *Config) CreateProvider() (agent.Provider, error) {
	opts := providers.Options{
		APIKey:  c.APIKey,
		Model:   c.Model,
		BaseURL: c.BaseURL,
	}
	switch c.Provider {
	case "openai":
		return providers.NewOpenAI(opts), nil
	case "anthropic":
		return providers.NewAnthropic(opts), nil
	case "gemini":
		return providers.NewGemini(opts), nil
	case "ollama":
		opts.BaseURL = c.OllamaBaseURL
		return providers.NewOllama(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider %q, valid: openai, anthropic, gemini, ollama", c.Provider)
	}
}

// HasMultiAgent reports whether multi-agent routing is configured.
func (c *Config) HasMultiAgent() bool {
	return len(c.Agents) > 0
}
