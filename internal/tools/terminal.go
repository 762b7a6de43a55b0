package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/solsticehq/solstice/internal/security"
	"github.com/solsticehq/solstice/pkg/models"
)

const (
	defaultCommandTimeout = 60 * time.Second
	maxCommandTimeout     = 300 * time.Second
	outputCap             = 10_000
	outputHead            = 5_000
	outputTail            = 3_000
)

// Terminal runs shell commands through the destructive-command gate.
type Terminal struct {
	gate    *security.CommandGate
	sandbox *security.Sandbox
	bg      *BackgroundManager
}

// NewTerminal builds the terminal tool group. The sandbox supplies the
// default working directory and validates cwd overrides.
func NewTerminal(gate *security.CommandGate, sandbox *security.Sandbox) *Terminal {
	return &Terminal{gate: gate, sandbox: sandbox, bg: NewBackgroundManager()}
}

// Register wires run_command and the background session tools.
func (t *Terminal) Register(r *Registry) {
	r.Register("run_command", t.runCommand, models.ToolSchema{
		Name:        "run_command",
		Description: "Run a shell command and return its output. Destructive commands require confirmation.",
		Parameters: objSchema(map[string]any{
			"command": map[string]any{"type": "string", "description": "The shell command to run"},
			"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds (default 60, max 300)"},
			"cwd":     map[string]any{"type": "string", "description": "Working directory (defaults to the workspace)"},
		}, "command"),
	})
	t.bg.Register(r, t.gate, t.sandbox)
}

// Shutdown terminates any background sessions still running.
func (t *Terminal) Shutdown() {
	t.bg.KillAll()
}

func (t *Terminal) runCommand(ctx context.Context, args map[string]any) (string, error) {
	command := strings.TrimSpace(stringArg(args, "command", ""))
	if command == "" {
		return "Error: Empty command", nil
	}

	if blocked := t.gate.Authorize(command); blocked != "" {
		return blocked, nil
	}

	timeout := time.Duration(intArg(args, "timeout", 60)) * time.Second
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	if timeout > maxCommandTimeout {
		timeout = maxCommandTimeout
	}

	cwd := t.sandbox.Root()
	if raw := stringArg(args, "cwd", ""); raw != "" {
		resolved, err := t.sandbox.Resolve(raw, "run in")
		if err != nil {
			return err.Error(), nil
		}
		cwd = resolved
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: Command timed out after %d seconds", int(timeout.Seconds())), nil
	}

	var parts []string
	if s := strings.TrimRight(stdout.String(), "\n"); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimRight(stderr.String(), "\n"); s != "" {
		parts = append(parts, "[stderr]\n"+s)
	}
	if err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		parts = append(parts, fmt.Sprintf("[exit code: %d]", exitCode))
	}

	output := strings.Join(parts, "\n")
	if output == "" {
		output = "(no output)"
	}
	return truncateOutput(output), nil
}

// truncateOutput keeps the head and tail of oversized command output.
func truncateOutput(output string) string {
	if len(output) <= outputCap {
		return output
	}
	return output[:outputHead] + "\n\n... (truncated) ...\n\n" + output[len(output)-outputTail:]
}
