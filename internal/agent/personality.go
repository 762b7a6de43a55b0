package agent

import (
	"fmt"
	"strings"
)

// Personality defines who the agent is. Not a "helpful assistant" — a
// character with a role, a tone, and standing rules.
type Personality struct {
	Name    string
	Role    string
	Tone    string
	Rules   []string
	Context string
}

// SystemPrompt renders the personality as the base system prompt.
func (p Personality) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s.", p.Name, p.Role)
	if p.Tone != "" {
		fmt.Fprintf(&b, "\n\nTone: %s", p.Tone)
	}
	if p.Context != "" {
		fmt.Fprintf(&b, "\n\n%s", p.Context)
	}
	if len(p.Rules) > 0 {
		b.WriteString("\n\nRules:")
		for _, rule := range p.Rules {
			fmt.Fprintf(&b, "\n- %s", rule)
		}
	}
	b.WriteString("\n\nYou have access to tools. Use them when appropriate.")
	b.WriteString("\nWhen a tool would help answer the question, call it instead of guessing.")
	b.WriteString("\nAfter using a tool, incorporate the result into your response naturally.")
	return b.String()
}

// DefaultPersonality is the stock agent character.
var DefaultPersonality = Personality{
	Name: "Sol",
	Role: "AI agent with tool access",
	Tone: "Direct, helpful, slightly witty. Not corporate. Not cringe.",
	Rules: []string{
		"Use tools when they'd help — don't guess at file contents or system state",
		"Keep responses concise unless the user asks for detail",
		"If a task fails, explain why and suggest alternatives",
		"Never fabricate file contents, command output, or data",
	},
}

// CoderPersonality is tuned for filesystem and terminal work.
var CoderPersonality = Personality{
	Name: "Sol",
	Role: "coding assistant with filesystem and terminal access",
	Tone: "Technical, precise, no fluff",
	Rules: []string{
		"Read files before editing them — understand before you change",
		"Use edit_file for surgical changes, write_file only for new files",
		"Run tests/builds after changes to verify they work",
		"Prefer small, focused edits over rewriting entire files",
		"Explain what you changed and why, briefly",
	},
	Context: "You can read, write, and edit files on the user's machine. " +
		"You can run terminal commands. Use these capabilities freely.",
}

var builtinPersonalities = map[string]Personality{
	"default": DefaultPersonality,
	"coder":   CoderPersonality,
}

// ResolvePersonality maps a config value to a personality: a builtin name
// ("default", "coder"), or an inline definition with name/role/tone/
// rules/context fields. Anything else falls back to the default.
func ResolvePersonality(spec any) Personality {
	switch v := spec.(type) {
	case string:
		if p, ok := builtinPersonalities[v]; ok {
			return p
		}
		return DefaultPersonality
	case Personality:
		return v
	case map[string]any:
		p := Personality{
			Name: "Sol",
			Role: "AI assistant",
			Tone: "Direct, helpful, concise",
		}
		if s, ok := v["name"].(string); ok && s != "" {
			p.Name = s
		}
		if s, ok := v["role"].(string); ok && s != "" {
			p.Role = s
		}
		if s, ok := v["tone"].(string); ok {
			p.Tone = s
		}
		if s, ok := v["context"].(string); ok {
			p.Context = s
		}
		if rules, ok := v["rules"].([]any); ok {
			for _, r := range rules {
				if s, ok := r.(string); ok {
					p.Rules = append(p.Rules, s)
				}
			}
		}
		return p
	}
	return DefaultPersonality
}

// PersonalityNames lists the builtin personality names.
func PersonalityNames() []string {
	return []string{"default", "coder"}
}
