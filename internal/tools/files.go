package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/solsticehq/solstice/internal/security"
	"github.com/solsticehq/solstice/pkg/models"
)

const maxReadBytes = 5 * 1024 * 1024

// FileTools is the sandboxed file operation group. Always registered.
type FileTools struct {
	sandbox *security.Sandbox
}

// NewFileTools wraps a sandbox.
func NewFileTools(sandbox *security.Sandbox) *FileTools {
	return &FileTools{sandbox: sandbox}
}

// Register adds the file tools to a registry.
func (f *FileTools) Register(r *Registry) {
	r.Register("read_file", f.readFile, models.ToolSchema{
		Name:        "read_file",
		Description: "Read a file and return its contents with line numbers.",
		Parameters: objSchema(map[string]any{
			"path":      map[string]any{"type": "string", "description": "Path to the file"},
			"max_lines": map[string]any{"type": "integer", "description": "Max lines to return (default 500)"},
		}, "path"),
	})
	r.Register("write_file", f.writeFile, models.ToolSchema{
		Name:        "write_file",
		Description: "Write content to a file. Creates parent directories if needed.",
		Parameters: objSchema(map[string]any{
			"path":    map[string]any{"type": "string", "description": "Path to write"},
			"content": map[string]any{"type": "string", "description": "Content to write"},
		}, "path", "content"),
	})
	r.Register("edit_file", f.editFile, models.ToolSchema{
		Name: "edit_file",
		Description: "Surgical find/replace in a file. Replaces the FIRST occurrence of " +
			"old_text with new_text; everything else stays exactly the same.",
		Parameters: objSchema(map[string]any{
			"path":     map[string]any{"type": "string", "description": "Path to edit"},
			"old_text": map[string]any{"type": "string", "description": "Exact text to find"},
			"new_text": map[string]any{"type": "string", "description": "Replacement text"},
		}, "path", "old_text", "new_text"),
	})
	r.Register("list_files", f.listFiles, models.ToolSchema{
		Name:        "list_files",
		Description: "List files in a directory, optionally filtered by glob pattern.",
		Parameters: objSchema(map[string]any{
			"path":        map[string]any{"type": "string", "description": "Directory (default .)"},
			"pattern":     map[string]any{"type": "string", "description": "Glob pattern (default *)"},
			"max_results": map[string]any{"type": "integer", "description": "Cap on results (default 100)"},
		}),
	})
	r.Register("find_files", f.findFiles, models.ToolSchema{
		Name:        "find_files",
		Description: "Find files by name pattern (glob). Searches recursively.",
		Parameters: objSchema(map[string]any{
			"pattern":     map[string]any{"type": "string", "description": "Name pattern, e.g. *.go"},
			"path":        map[string]any{"type": "string", "description": "Root directory (default .)"},
			"max_results": map[string]any{"type": "integer", "description": "Cap on results (default 100)"},
		}, "pattern"),
	})
	r.Register("grep_files", f.grepFiles, models.ToolSchema{
		Name:        "grep_files",
		Description: "Search file contents by regex. Returns matching lines with file paths and line numbers.",
		Parameters: objSchema(map[string]any{
			"pattern":     map[string]any{"type": "string", "description": "Regex pattern (case-insensitive)"},
			"path":        map[string]any{"type": "string", "description": "Root directory (default .)"},
			"glob":        map[string]any{"type": "string", "description": "File filter glob (default all files)"},
			"max_results": map[string]any{"type": "integer", "description": "Cap on matches (default 50)"},
		}, "pattern"),
	})
	r.Register("delete_file", f.deleteFile, models.ToolSchema{
		Name:        "delete_file",
		Description: "Delete a file. Use with caution.",
		Parameters: objSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Path to delete"},
		}, "path"),
	})
}

// objSchema builds the standard object-parameters shape.
func objSchema(properties map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func (f *FileTools) readFile(_ context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path", "")
	maxLines := intArg(args, "max_lines", 500)

	resolved, err := f.sandbox.Resolve(path, "read")
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Sprintf("Error: File not found: %s", path), nil
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Not a file: %s", path), nil
	}
	if info.Size() > maxReadBytes {
		return fmt.Sprintf("Error: File too large (>5MB): %s", path), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Sprintf("Error reading %s: %v", path, err), nil
	}

	lines := strings.Split(string(data), "\n")
	truncated := 0
	if len(lines) > maxLines {
		truncated = len(lines) - maxLines
		lines = lines[:maxLines]
	}

	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%4d | %s\n", i+1, line)
	}
	if truncated > 0 {
		fmt.Fprintf(&b, "... (%d more lines truncated)", truncated)
	}
	return b.String(), nil
}

func (f *FileTools) writeFile(_ context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path", "")
	content := stringArg(args, "content", "")

	resolved, err := f.sandbox.Resolve(path, "write")
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Sprintf("Error writing %s: %v", path, err), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error writing %s: %v", path, err), nil
	}
	return fmt.Sprintf("Written: %s (%d chars)", resolved, len(content)), nil
}

func (f *FileTools) editFile(_ context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path", "")
	oldText := stringArg(args, "old_text", "")
	newText := stringArg(args, "new_text", "")

	resolved, err := f.sandbox.Resolve(path, "edit")
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Sprintf("Error: File not found: %s", path), nil
	}
	original := string(data)

	if !strings.Contains(original, oldText) {
		// Help the model retarget: show lines resembling the first line.
		firstLine := strings.TrimSpace(strings.SplitN(oldText, "\n", 2)[0])
		if len(firstLine) > 30 {
			firstLine = firstLine[:30]
		}
		var hints []string
		for i, line := range strings.Split(original, "\n") {
			if firstLine != "" && strings.Contains(line, firstLine) {
				hints = append(hints, fmt.Sprintf("  Line %d: %s", i+1, strings.TrimSpace(line)))
				if len(hints) == 5 {
					break
				}
			}
		}
		hint := ""
		if len(hints) > 0 {
			hint = "\n\nDid you mean one of these?\n" + strings.Join(hints, "\n")
		}
		return fmt.Sprintf("Error: old_text not found in %s.%s", path, hint), nil
	}

	if count := strings.Count(original, oldText); count > 1 {
		return fmt.Sprintf("Warning: old_text appears %d times in %s. "+
			"Only replacing the first occurrence. "+
			"Use more surrounding context for precision.", count, path), nil
	}

	updated := strings.Replace(original, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return fmt.Sprintf("Error editing %s: %v", path, err), nil
	}
	return fmt.Sprintf("Edited: %s (replaced %d chars with %d chars)", resolved, len(oldText), len(newText)), nil
}

func (f *FileTools) listFiles(_ context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path", ".")
	pattern := stringArg(args, "pattern", "*")
	maxResults := intArg(args, "max_results", 100)

	resolved, err := f.sandbox.Resolve(path, "list")
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Sprintf("Error: Directory not found: %s", path), nil
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: Not a directory: %s", path), nil
	}

	matches, err := filepath.Glob(filepath.Join(resolved, pattern))
	if err != nil {
		return fmt.Sprintf("Error listing %s: %v", path, err), nil
	}
	sort.Strings(matches)
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No files matching '%s' in %s", pattern, path), nil
	}

	var lines []string
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		if fi.IsDir() {
			lines = append(lines, fmt.Sprintf("  %s  %s", "DIR", fi.Name()))
		} else {
			lines = append(lines, fmt.Sprintf("  %8dB  %s", fi.Size(), fi.Name()))
		}
	}

	out := fmt.Sprintf("%s/  (%d items)\n%s", path, len(matches), strings.Join(lines, "\n"))
	if len(matches) >= maxResults {
		out += fmt.Sprintf("\n  ... (truncated at %d)", maxResults)
	}
	return out, nil
}

// noiseDirs are skipped by recursive search tools.
var noiseDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	".git":         true,
}

func skipNoise(rel string) bool {
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		if strings.HasPrefix(part, ".") || noiseDirs[part] {
			return true
		}
	}
	return false
}

func (f *FileTools) findFiles(_ context.Context, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern", "*")
	path := stringArg(args, "path", ".")
	maxResults := intArg(args, "max_results", 100)

	root, err := f.sandbox.Resolve(path, "list")
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	if _, err := os.Stat(root); err != nil {
		return fmt.Sprintf("Error: Path not found: %s", path), nil
	}

	var results []string
	filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || len(results) >= maxResults {
			return filepath.SkipAll
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr != nil || rel == "." {
			return nil
		}
		if skipNoise(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		matched, _ := filepath.Match(pattern, filepath.Base(p))
		if !matched {
			return nil
		}
		if info.IsDir() {
			results = append(results, fmt.Sprintf("      DIR  %s/", rel))
		} else {
			results = append(results, fmt.Sprintf("  %8dB  %s", info.Size(), rel))
		}
		return nil
	})

	if len(results) == 0 {
		return fmt.Sprintf("No files matching '%s' in %s", pattern, path), nil
	}
	plural := "s"
	if len(results) == 1 {
		plural = ""
	}
	out := fmt.Sprintf("%d result%s for '%s':\n%s", len(results), plural, pattern, strings.Join(results, "\n"))
	if len(results) >= maxResults {
		out += fmt.Sprintf("\n  ... (truncated at %d)", maxResults)
	}
	return out, nil
}

func (f *FileTools) grepFiles(_ context.Context, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern", "")
	path := stringArg(args, "path", ".")
	glob := stringArg(args, "glob", "")
	maxResults := intArg(args, "max_results", 50)

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Sprintf("Error: Invalid regex pattern: %v", err), nil
	}

	root, rerr := f.sandbox.Resolve(path, "read")
	if rerr != nil {
		return fmt.Sprintf("Error: %v", rerr), nil
	}
	if _, err := os.Stat(root); err != nil {
		return fmt.Sprintf("Error: Path not found: %s", path), nil
	}

	var results []string
	filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || len(results) >= maxResults {
			return filepath.SkipAll
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr != nil || rel == "." {
			return nil
		}
		if skipNoise(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if info.Size() > 2*1024*1024 {
			return nil
		}
		if glob != "" {
			if matched, _ := filepath.Match(glob, filepath.Base(p)); !matched {
				return nil
			}
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		for num, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				results = append(results, fmt.Sprintf("  %s:%d: %s", rel, num+1, strings.TrimRight(line, " \t\r")))
				if len(results) >= maxResults {
					break
				}
			}
		}
		return nil
	})

	if len(results) == 0 {
		return fmt.Sprintf("No matches for /%s/ in %s", pattern, path), nil
	}
	plural := "es"
	if len(results) == 1 {
		plural = ""
	}
	out := fmt.Sprintf("%d match%s for /%s/:\n%s", len(results), plural, pattern, strings.Join(results, "\n"))
	if len(results) >= maxResults {
		out += fmt.Sprintf("\n  ... (truncated at %d)", maxResults)
	}
	return out, nil
}

func (f *FileTools) deleteFile(_ context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path", "")

	resolved, err := f.sandbox.Resolve(path, "delete")
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Sprintf("Error: File not found: %s", path), nil
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Not a file (use with caution): %s", path), nil
	}
	if err := os.Remove(resolved); err != nil {
		return fmt.Sprintf("Error deleting %s: %v", path, err), nil
	}
	return fmt.Sprintf("Deleted: %s", resolved), nil
}
