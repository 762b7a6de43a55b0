// Package skills loads markdown skill guides that teach the model
// domain-specific workflows.
//
// Three-tier loading: tier 1 is the name + description block injected into
// every system prompt; tier 2 is the full guide body, loaded on demand via
// the skill_get tool; tier 3 is reference material below a <!-- tier3 -->
// marker, loaded on further demand.
package skills

import (
	"fmt"
	"regexp"
	"strings"
)

// Tier3Marker separates the guide body from optional reference docs.
const Tier3Marker = "<!-- tier3 -->"

// Skill is a parsed skill file.
type Skill struct {
	Name        string
	Description string
	Tools       []string
	Trigger     string
	SourcePath  string

	tier2     string
	tier3     string
	triggerRE *regexp.Regexp
}

// Tier1Summary is the one-line entry used in the system prompt block.
func (s *Skill) Tier1Summary() string {
	return fmt.Sprintf("- **%s**: %s", s.Name, s.Description)
}

// Tier2Full returns the full guide body.
func (s *Skill) Tier2Full() string {
	return strings.TrimSpace(s.tier2)
}

// Tier3Reference returns the reference docs ("" when absent).
func (s *Skill) Tier3Reference() string {
	return strings.TrimSpace(s.tier3)
}

// Matches reports whether the skill's trigger pattern matches the message.
func (s *Skill) Matches(message string) bool {
	return s.triggerRE != nil && s.triggerRE.MatchString(message)
}

var frontmatterRE = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n`)

// Parse parses skill file content. It returns nil (no error) for files
// without valid frontmatter or missing name/description; such files are
// skipped, not fatal.
func Parse(text, sourcePath string) *Skill {
	m := frontmatterRE.FindStringSubmatchIndex(text)
	if m == nil {
		return nil
	}
	fm := parseFrontmatter(text[m[2]:m[3]])
	body := text[m[1]:]

	name := fm["name"]
	description := fm["description"]
	if name == "" || description == "" {
		return nil
	}

	var tools []string
	if raw := strings.Trim(strings.TrimSpace(fm["tools"]), "[]"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tools = append(tools, t)
			}
		}
	}

	skill := &Skill{
		Name:        name,
		Description: description,
		Tools:       tools,
		Trigger:     fm["trigger"],
		SourcePath:  sourcePath,
	}

	if i := strings.Index(body, Tier3Marker); i >= 0 {
		skill.tier2 = body[:i]
		skill.tier3 = body[i+len(Tier3Marker):]
	} else {
		skill.tier2 = body
	}

	if skill.Trigger != "" {
		// Invalid patterns disable the trigger rather than failing the skill.
		if re, err := regexp.Compile("(?i)" + skill.Trigger); err == nil {
			skill.triggerRE = re
		}
	}
	return skill
}

// parseFrontmatter reads colon-separated key: value pairs, one per line,
// stripping surrounding quotes. Deliberately not full YAML.
func parseFrontmatter(text string) map[string]string {
	result := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"`)
		value = strings.Trim(value, `'`)
		result[strings.TrimSpace(key)] = value
	}
	return result
}
