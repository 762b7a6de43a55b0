package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/solsticehq/solstice/internal/security"
)

func newFileTools(t *testing.T) (*FileTools, string) {
	t.Helper()
	root := t.TempDir()
	sandbox, err := security.NewSandbox(root)
	if err != nil {
		t.Fatal(err)
	}
	return NewFileTools(sandbox), sandbox.Root()
}

func TestWriteReadRoundTrip(t *testing.T) {
	f, root := newFileTools(t)
	path := filepath.Join(root, "notes", "a.txt")

	out, _ := f.writeFile(context.Background(), map[string]any{
		"path": path, "content": "first\nsecond",
	})
	if !strings.HasPrefix(out, "Written: ") {
		t.Fatalf("writeFile = %q", out)
	}

	out, _ = f.readFile(context.Background(), map[string]any{"path": path})
	if !strings.Contains(out, "   1 | first") || !strings.Contains(out, "   2 | second") {
		t.Errorf("readFile = %q", out)
	}
}

func TestReadFileTruncation(t *testing.T) {
	f, root := newFileTools(t)
	path := filepath.Join(root, "big.txt")
	os.WriteFile(path, []byte(strings.Repeat("line\n", 20)), 0o644)

	out, _ := f.readFile(context.Background(), map[string]any{
		"path": path, "max_lines": 5,
	})
	if !strings.Contains(out, "more lines truncated") {
		t.Errorf("truncation note missing: %q", out)
	}
}

func TestEditFileFirstOccurrence(t *testing.T) {
	f, root := newFileTools(t)
	path := filepath.Join(root, "code.go")
	os.WriteFile(path, []byte("x := 1\ny := 2\n"), 0o644)

	out, _ := f.editFile(context.Background(), map[string]any{
		"path": path, "old_text": "y := 2", "new_text": "y := 3",
	})
	if !strings.HasPrefix(out, "Edited: ") {
		t.Fatalf("editFile = %q", out)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "x := 1\ny := 3\n" {
		t.Errorf("content = %q", data)
	}
}

func TestEditFileAmbiguous(t *testing.T) {
	f, root := newFileTools(t)
	path := filepath.Join(root, "dup.txt")
	os.WriteFile(path, []byte("same\nsame\n"), 0o644)

	out, _ := f.editFile(context.Background(), map[string]any{
		"path": path, "old_text": "same", "new_text": "other",
	})
	if !strings.Contains(out, "appears 2 times") {
		t.Errorf("ambiguity warning missing: %q", out)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "same\nsame\n" {
		t.Error("file changed despite ambiguity warning")
	}
}

func TestEditFileNotFoundHints(t *testing.T) {
	f, root := newFileTools(t)
	path := filepath.Join(root, "hint.txt")
	os.WriteFile(path, []byte("func doThing() {\n\treturn\n}\n"), 0o644)

	out, _ := f.editFile(context.Background(), map[string]any{
		"path": path, "old_text": "func doThing() {\n\tpanic(1)\n}", "new_text": "x",
	})
	if !strings.Contains(out, "old_text not found") {
		t.Fatalf("editFile = %q", out)
	}
	if !strings.Contains(out, "Did you mean one of these?") || !strings.Contains(out, "Line 1:") {
		t.Errorf("retarget hints missing: %q", out)
	}
}

func TestSandboxEnforcedOnFileTools(t *testing.T) {
	f, _ := newFileTools(t)
	out, _ := f.readFile(context.Background(), map[string]any{"path": "/etc/hostname"})
	if !strings.Contains(out, "outside the workspace") {
		t.Errorf("escape not blocked: %q", out)
	}
}

func TestGrepFiles(t *testing.T) {
	f, root := newFileTools(t)
	os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\nfunc Main() {}\n"), 0o644)
	os.WriteFile(filepath.Join(root, "b.txt"), []byte("nothing here\n"), 0o644)

	out, _ := f.grepFiles(context.Background(), map[string]any{
		"pattern": "func main", "path": root,
	})
	// Case-insensitive: "func Main" matches.
	if !strings.Contains(out, "a.go:2:") {
		t.Errorf("grepFiles = %q", out)
	}

	out, _ = f.grepFiles(context.Background(), map[string]any{
		"pattern": "[invalid", "path": root,
	})
	if !strings.Contains(out, "Invalid regex") {
		t.Errorf("bad regex = %q", out)
	}
}

func TestFindFilesSkipsNoise(t *testing.T) {
	f, root := newFileTools(t)
	os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755)
	os.WriteFile(filepath.Join(root, "node_modules", "pkg", "x.go"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(root, "y.go"), []byte("y"), 0o644)

	out, _ := f.findFiles(context.Background(), map[string]any{
		"pattern": "*.go", "path": root,
	})
	if strings.Contains(out, "node_modules") {
		t.Errorf("noise dir not skipped: %q", out)
	}
	if !strings.Contains(out, "y.go") {
		t.Errorf("findFiles = %q", out)
	}
}

func TestApplyPatch(t *testing.T) {
	f, root := newFileTools(t)
	path := filepath.Join(root, "main.go")
	os.WriteFile(path, []byte("package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"), 0o644)

	patch := "--- " + path + "\n@@\n-\tprintln(\"hi\")\n+\tprintln(\"hello\")\n"
	out, _ := f.applyPatch(context.Background(), map[string]any{"patch": patch})
	if !strings.Contains(out, "Patched: "+path+" (1 hunk)") {
		t.Fatalf("applyPatch = %q", out)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `println("hello")`) {
		t.Errorf("content = %q", data)
	}
}

func TestApplyPatchFuzzyWhitespace(t *testing.T) {
	f, root := newFileTools(t)
	path := filepath.Join(root, "ws.txt")
	// Trailing spaces in the file, not in the patch.
	os.WriteFile(path, []byte("alpha  \nbeta\n"), 0o644)

	patch := "--- " + path + "\n@@\n-alpha\n+omega\n"
	out, _ := f.applyPatch(context.Background(), map[string]any{"patch": patch})
	if !strings.Contains(out, "Patched: ") {
		t.Fatalf("fuzzy match failed: %q", out)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "omega\n") {
		t.Errorf("content = %q", data)
	}
}

func TestApplyPatchHunkMiss(t *testing.T) {
	f, root := newFileTools(t)
	path := filepath.Join(root, "m.txt")
	os.WriteFile(path, []byte("one\n"), 0o644)

	patch := "--- " + path + "\n@@\n-does not exist\n+replacement\n"
	out, _ := f.applyPatch(context.Background(), map[string]any{"patch": patch})
	if !strings.Contains(out, "old text not found") {
		t.Errorf("applyPatch = %q", out)
	}
}

func TestApplyPatchUnparseable(t *testing.T) {
	f, _ := newFileTools(t)
	out, _ := f.applyPatch(context.Background(), map[string]any{"patch": "just some text"})
	if !strings.Contains(out, "Could not parse patch") {
		t.Errorf("applyPatch = %q", out)
	}
}
