package security

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Paths that must never be touched regardless of the workspace root.
var blockedPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[\\/]\.ssh[\\/]`),
	regexp.MustCompile(`(?i)[\\/]\.gnupg[\\/]`),
	regexp.MustCompile(`(?i)[\\/]\.aws[\\/]credentials`),
	regexp.MustCompile(`(?i)[\\/]\.env$`),
	regexp.MustCompile(`(?i)[\\/]\.docker[\\/]config\.json`),
}

// Sandbox restricts file operations to a workspace root and a set of
// always-blocked sensitive paths. The zero value blocks only the
// sensitive patterns (no workspace boundary).
type Sandbox struct {
	root string // canonical workspace root, empty = unrestricted
}

// NewSandbox builds a sandbox rooted at root. An empty root disables the
// workspace boundary but keeps the sensitive-path patterns.
func NewSandbox(root string) (*Sandbox, error) {
	s := &Sandbox{}
	if root != "" {
		resolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			// Root may not exist yet; fall back to a lexical clean.
			resolved = filepath.Clean(root)
		}
		abs, err := filepath.Abs(resolved)
		if err != nil {
			return nil, fmt.Errorf("resolve workspace root: %w", err)
		}
		s.root = abs
	}
	return s, nil
}

// Root returns the canonical workspace root ("" when unset).
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve canonicalizes path (expanding ~ and following symlinks) and
// validates it. It returns the resolved path, or an error describing why
// the operation must be refused.
func (s *Sandbox) Resolve(path, operation string) (string, error) {
	expanded := expandHome(path)
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("cannot %s: invalid path %q", operation, path)
	}

	// Follow symlinks on the longest existing prefix so a link inside the
	// workspace cannot escape it.
	resolved := resolveExisting(abs)

	for _, pattern := range blockedPathPatterns {
		if pattern.MatchString(resolved) {
			return "", fmt.Errorf("cannot %s: path matches a sensitive file pattern", operation)
		}
	}

	if s.root != "" {
		if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(os.PathSeparator)) {
			return "", fmt.Errorf("cannot %s: path %q is outside the workspace directory %q", operation, path, s.root)
		}
	}

	return resolved, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// resolveExisting resolves symlinks over the longest existing ancestor of
// abs, then rejoins the non-existing suffix lexically.
func resolveExisting(abs string) string {
	remainder := ""
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Clean(filepath.Join(resolved, remainder))
		}
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Clean(abs)
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}
