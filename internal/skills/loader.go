package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Loader scans skill directories and serves skills by name.
type Loader struct {
	log    *slog.Logger
	dirs   []string
	skills map[string]*Skill
	order  []string // load order, for stable listings
}

// NewLoader builds a loader over <dataRoot>/skills, ./skills (when present),
// and any extra directories, then scans them. Later directories win on
// name collisions.
func NewLoader(dataRoot string, extraDirs ...string) *Loader {
	l := &Loader{
		log:    slog.Default().With("component", "skills"),
		skills: map[string]*Skill{},
	}
	if dataRoot != "" {
		l.dirs = append(l.dirs, filepath.Join(dataRoot, "skills"))
	}
	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, "skills")
		if info, err := os.Stat(local); err == nil && info.IsDir() {
			l.dirs = append(l.dirs, local)
		}
	}
	l.dirs = append(l.dirs, extraDirs...)
	l.Reload()
	return l
}

// Reload rescans every skill directory.
func (l *Loader) Reload() {
	l.skills = map[string]*Skill{}
	l.order = nil

	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				l.log.Warn("failed to read skill", "path", path, "error", err)
				continue
			}
			skill := Parse(string(data), path)
			if skill == nil {
				l.log.Warn("skipping skill without valid frontmatter", "path", path)
				continue
			}
			if _, exists := l.skills[skill.Name]; !exists {
				l.order = append(l.order, skill.Name)
			}
			l.skills[skill.Name] = skill
			l.log.Debug("loaded skill", "name", skill.Name, "path", path)
		}
	}
	l.log.Info("skills loaded", "count", len(l.skills), "dirs", len(l.dirs))
}

// Get returns a skill by name, or nil.
func (l *Loader) Get(name string) *Skill {
	return l.skills[name]
}

// List returns all skills in load order.
func (l *Loader) List() []*Skill {
	out := make([]*Skill, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.skills[name])
	}
	return out
}

// Tier1Block builds the system-prompt skills block. Empty when no skills
// are loaded.
func (l *Loader) Tier1Block() string {
	if len(l.skills) == 0 {
		return ""
	}
	lines := []string{
		"\n## Available Skills",
		"You have access to specialized skill guides. " +
			"Use `skill_get` to load the full guide for any skill before attempting the task.",
	}
	for _, skill := range l.List() {
		lines = append(lines, skill.Tier1Summary())
	}
	return strings.Join(lines, "\n")
}

// MatchTriggers returns the names of skills whose trigger pattern matches
// the user message.
func (l *Loader) MatchTriggers(message string) []string {
	var matches []string
	for _, skill := range l.List() {
		if skill.Matches(message) {
			matches = append(matches, skill.Name)
		}
	}
	return matches
}

// EnsureDirs creates the primary skills directory when missing.
func (l *Loader) EnsureDirs() error {
	if len(l.dirs) == 0 {
		return nil
	}
	return os.MkdirAll(l.dirs[0], 0o755)
}

// Describe renders a skill at the requested tier for the skill_get tool.
func (l *Loader) Describe(name string, tier int) string {
	skill := l.Get(name)
	if skill == nil {
		var available []string
		for _, s := range l.List() {
			available = append(available, s.Name)
		}
		joined := strings.Join(available, ", ")
		if joined == "" {
			joined = "none"
		}
		return fmt.Sprintf("Skill '%s' not found. Available: %s", name, joined)
	}
	if tier >= 3 && skill.Tier3Reference() != "" {
		return fmt.Sprintf("# %s (Full Guide + Reference)\n\n%s\n\n---\n\n%s",
			skill.Name, skill.Tier2Full(), skill.Tier3Reference())
	}
	return fmt.Sprintf("# %s\n\n%s", skill.Name, skill.Tier2Full())
}

// DescribeAll renders the skill_list tool output.
func (l *Loader) DescribeAll() string {
	all := l.List()
	if len(all) == 0 {
		return "No skills loaded. Add .md files to the skills directory."
	}
	lines := []string{fmt.Sprintf("Available skills (%d):", len(all))}
	for _, s := range all {
		toolsStr := ""
		if len(s.Tools) > 0 {
			toolsStr = fmt.Sprintf(" (tools: %s)", strings.Join(s.Tools, ", "))
		}
		lines = append(lines, fmt.Sprintf("  %s: %s%s", s.Name, s.Description, toolsStr))
	}
	return strings.Join(lines, "\n")
}
