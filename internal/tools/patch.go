package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/solsticehq/solstice/pkg/models"
)

// patchHunk is one old→new replacement within a file.
type patchHunk struct {
	oldLines []string
	newLines []string
}

type patchFile struct {
	path  string
	hunks []patchHunk
}

// RegisterPatch adds the multi-file apply_patch tool.
func (f *FileTools) RegisterPatch(r *Registry) {
	r.Register("apply_patch", f.applyPatch, models.ToolSchema{
		Name: "apply_patch",
		Description: "Apply a structured patch to one or more files. Format: '--- path' starts a file, " +
			"'@@' separates hunks, '-' lines are removed, '+' lines are inserted, ' ' lines are context.",
		Parameters: objSchema(map[string]any{
			"patch": map[string]any{"type": "string", "description": "The patch text"},
		}, "patch"),
	})
}

func (f *FileTools) applyPatch(_ context.Context, args map[string]any) (string, error) {
	patch := stringArg(args, "patch", "")
	if strings.TrimSpace(patch) == "" {
		return "Error: Empty patch", nil
	}

	files := parsePatch(patch)
	if len(files) == 0 {
		return "Error: Could not parse patch. Expected format:\n--- path/to/file\n@@\n-old line\n+new line", nil
	}

	var results, errors []string
	for _, pf := range files {
		resolved, err := f.sandbox.Resolve(pf.path, "patch")
		if err != nil {
			errors = append(errors, err.Error())
			continue
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			errors = append(errors, fmt.Sprintf("File not found: %s", pf.path))
			continue
		}
		content := string(data)
		original := content

		for i, hunk := range pf.hunks {
			oldText := strings.Join(hunk.oldLines, "\n")
			newText := strings.Join(hunk.newLines, "\n")

			if oldText != "" && !strings.Contains(content, oldText) {
				// Fuzzy fallback: match with trailing whitespace stripped.
				if updated, ok := fuzzyReplace(content, hunk.oldLines, hunk.newLines); ok {
					content = updated
					continue
				}
				errors = append(errors, fmt.Sprintf("Hunk %d failed for %s: old text not found", i+1, pf.path))
				continue
			}

			if oldText != "" {
				content = strings.Replace(content, oldText, newText, 1)
			} else {
				// Pure insertion appends to the file.
				if content != "" && !strings.HasSuffix(content, "\n") {
					content += "\n"
				}
				content += newText
			}
		}

		if content != original {
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				errors = append(errors, fmt.Sprintf("Error patching %s: %v", pf.path, err))
				continue
			}
			plural := "s"
			if len(pf.hunks) == 1 {
				plural = ""
			}
			results = append(results, fmt.Sprintf("Patched: %s (%d hunk%s)", pf.path, len(pf.hunks), plural))
		} else {
			results = append(results, fmt.Sprintf("No changes: %s", pf.path))
		}
	}

	out := strings.Join(results, "\n")
	if len(errors) > 0 {
		out += "\n\nErrors:\n  - " + strings.Join(errors, "\n  - ")
	}
	return out, nil
}

func parsePatch(text string) []patchFile {
	var files []patchFile
	var current *patchFile
	var old, new_ []string
	inHunk := false

	flushHunk := func() {
		if current != nil && inHunk && (len(old) > 0 || len(new_) > 0) {
			current.hunks = append(current.hunks, patchHunk{oldLines: old, newLines: new_})
		}
		old, new_ = nil, nil
	}

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "):
			flushHunk()
			if current != nil {
				files = append(files, *current)
			}
			current = &patchFile{path: strings.TrimSpace(line[4:])}
			inHunk = false
		case strings.TrimSpace(line) == "@@":
			flushHunk()
			inHunk = true
		case !inHunk:
			// Ignore text between the file header and the first hunk.
		case strings.HasPrefix(line, "+++ "):
			// Some models emit unified-diff destination headers; skip them.
		case strings.HasPrefix(line, "-"):
			old = append(old, line[1:])
		case strings.HasPrefix(line, "+"):
			new_ = append(new_, line[1:])
		case strings.HasPrefix(line, " "):
			old = append(old, line[1:])
			new_ = append(new_, line[1:])
		default:
			// Bare line: treat as context.
			old = append(old, line)
			new_ = append(new_, line)
		}
	}
	flushHunk()
	if current != nil {
		files = append(files, *current)
	}
	return files
}

// fuzzyReplace retries a hunk with trailing whitespace stripped on both
// sides, splicing the replacement at the matched line range.
func fuzzyReplace(content string, oldLines, newLines []string) (string, bool) {
	lines := strings.Split(content, "\n")
	stripped := make([]string, len(lines))
	for i, l := range lines {
		stripped[i] = strings.TrimRight(l, " \t")
	}
	oldStripped := make([]string, len(oldLines))
	for i, l := range oldLines {
		oldStripped[i] = strings.TrimRight(l, " \t")
	}

	start := findSubsequence(stripped, oldStripped)
	if start < 0 {
		return "", false
	}
	out := append([]string{}, lines[:start]...)
	out = append(out, newLines...)
	out = append(out, lines[start+len(oldLines):]...)
	return strings.Join(out, "\n"), true
}

func findSubsequence(haystack, needle []string) int {
	if len(needle) == 0 {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
