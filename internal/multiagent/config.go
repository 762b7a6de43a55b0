// Package multiagent maps inbound messages to named agents and manages
// their instances with per-sender isolation.
package multiagent

import "fmt"

// defaultToolFlags enables every tool group; per-agent overrides subtract
// or re-add groups.
var defaultToolFlags = map[string]bool{
	"enable_terminal": true,
	"enable_web":      true,
	"enable_memory":   true,
	"enable_skills":   true,
	"enable_cron":     true,
	"enable_registry": true,
}

// AgentConfig is the per-agent configuration block. Empty fields inherit
// from the global config when the pool factory builds the agent.
type AgentConfig struct {
	Name        string
	Provider    string
	Model       string
	APIKey      string
	Temperature float64 // 0 = inherit global
	Personality any     // builtin name, or inline map with name/role/tone/rules
	ToolFlags   map[string]bool
}

// ParseAgentConfig reads one agent block from its YAML map form.
func ParseAgentConfig(name string, data map[string]any) AgentConfig {
	cfg := AgentConfig{Name: name, Personality: "default"}
	if s, ok := data["provider"].(string); ok {
		cfg.Provider = s
	}
	if s, ok := data["model"].(string); ok {
		cfg.Model = s
	}
	if s, ok := data["api_key"].(string); ok {
		cfg.APIKey = s
	}
	switch v := data["temperature"].(type) {
	case float64:
		cfg.Temperature = v
	case int:
		cfg.Temperature = float64(v)
	}
	if p, ok := data["personality"]; ok {
		cfg.Personality = p
	}
	if tools, ok := data["tools"].(map[string]any); ok {
		cfg.ToolFlags = map[string]bool{}
		for k, v := range tools {
			if b, ok := v.(bool); ok {
				cfg.ToolFlags[k] = b
			}
		}
	}
	return cfg
}

// ParseAgentConfigs reads the whole agents block.
func ParseAgentConfigs(agents map[string]map[string]any) map[string]AgentConfig {
	out := make(map[string]AgentConfig, len(agents))
	for name, data := range agents {
		out[name] = ParseAgentConfig(name, data)
	}
	return out
}

// ResolvedToolFlags returns the effective flag set: defaults overlaid
// with this agent's overrides.
func (c AgentConfig) ResolvedToolFlags() map[string]bool {
	flags := make(map[string]bool, len(defaultToolFlags))
	for k, v := range defaultToolFlags {
		flags[k] = v
	}
	for k, v := range c.ToolFlags {
		flags[k] = v
	}
	return flags
}

func (c AgentConfig) String() string {
	return fmt.Sprintf("agent %s (provider=%s model=%s)", c.Name, c.Provider, c.Model)
}
