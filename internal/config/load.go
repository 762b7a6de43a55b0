package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configFilename = "solstice.yaml"

// searchPaths returns the config file locations in priority order:
// cwd, ~/.config/solstice/, ~/.solstice/.
func searchPaths() []string {
	paths := []string{configFilename}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "solstice", configFilename),
			filepath.Join(home, ".solstice", configFilename),
		)
	}
	return paths
}

// Load reads configuration from path (or the search paths when path is
// empty), then applies environment overrides and model defaults. A missing
// config file is not an error; defaults and the environment carry it.
func Load(path string) (*Config, error) {
	cfg := New()

	yamlPath := path
	if yamlPath == "" {
		for _, candidate := range searchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				yamlPath = candidate
				break
			}
		}
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", yamlPath, err)
		}
		slog.Info("loaded config", "path", yamlPath)
	}

	cfg.loadEnv()

	if cfg.Model == "" {
		cfg.Model = DefaultModelFor(cfg.Provider)
	}
	return cfg, nil
}

// loadEnv applies environment overrides. Provider-specific API keys select
// a provider only when SOLSTICE_PROVIDER is unset; the SOLSTICE_* variables
// always win.
func (c *Config) loadEnv() {
	if os.Getenv("SOLSTICE_PROVIDER") == "" && c.APIKey == "" {
		detections := []struct {
			envVar   string
			provider string
		}{
			{"OPENAI_API_KEY", "openai"},
			{"ANTHROPIC_API_KEY", "anthropic"},
			{"GEMINI_API_KEY", "gemini"},
			{"GOOGLE_API_KEY", "gemini"},
		}
		for _, d := range detections {
			if key := os.Getenv(d.envVar); key != "" {
				c.Provider = d.provider
				c.APIKey = key
				break
			}
		}
	}

	if v := os.Getenv("SOLSTICE_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("SOLSTICE_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("SOLSTICE_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("SOLSTICE_GATEWAY_TOKEN"); v != "" {
		c.GatewayToken = v
	}
}
