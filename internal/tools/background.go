package tools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/solsticehq/solstice/internal/security"
	"github.com/solsticehq/solstice/pkg/models"
)

const (
	maxBackgroundSessions = 10
	bgBufferLines         = 5_000
	bgStartGrace          = 300 * time.Millisecond
)

// bgSession is one long-running process with a rolling output buffer.
type bgSession struct {
	mu      sync.Mutex
	id      string
	command string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   []string
	started time.Time
	done    bool
	exit    int
}

func (s *bgSession) appendLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	if len(s.lines) > bgBufferLines {
		s.lines = s.lines[len(s.lines)-bgBufferLines:]
	}
}

func (s *bgSession) tail(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.lines) {
		n = len(s.lines)
	}
	out := make([]string, n)
	copy(out, s.lines[len(s.lines)-n:])
	return out
}

func (s *bgSession) status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		return "running"
	}
	return fmt.Sprintf("exited (%d)", s.exit)
}

func (s *bgSession) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.done
}

// BackgroundManager tracks interactive background processes (dev servers,
// REPLs, watchers) addressed by session id.
type BackgroundManager struct {
	mu       sync.Mutex
	log      *slog.Logger
	sessions map[string]*bgSession
	nextID   int
}

func NewBackgroundManager() *BackgroundManager {
	return &BackgroundManager{
		log:      slog.Default().With("component", "background"),
		sessions: map[string]*bgSession{},
	}
}

// Register wires bg_run, bg_status, bg_log, bg_write, and bg_kill.
func (m *BackgroundManager) Register(r *Registry, gate *security.CommandGate, sandbox *security.Sandbox) {
	r.Register("bg_run", func(ctx context.Context, args map[string]any) (string, error) {
		return m.run(args, gate, sandbox)
	}, models.ToolSchema{
		Name:        "bg_run",
		Description: "Start a long-running command in the background (dev server, REPL, watcher). Returns a session id for bg_log/bg_write/bg_kill.",
		Parameters: objSchema(map[string]any{
			"command": map[string]any{"type": "string", "description": "The shell command to start"},
			"cwd":     map[string]any{"type": "string", "description": "Working directory (defaults to the workspace)"},
		}, "command"),
	})
	r.Register("bg_status", func(context.Context, map[string]any) (string, error) {
		return m.statusAll(), nil
	}, models.ToolSchema{
		Name:        "bg_status",
		Description: "List background sessions and their states.",
		Parameters:  objSchema(map[string]any{}),
	})
	r.Register("bg_log", func(_ context.Context, args map[string]any) (string, error) {
		return m.logOutput(stringArg(args, "session_id", ""), intArg(args, "lines", 50)), nil
	}, models.ToolSchema{
		Name:        "bg_log",
		Description: "Show recent output from a background session.",
		Parameters: objSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session id from bg_run"},
			"lines":      map[string]any{"type": "integer", "description": "Number of recent lines (default 50)"},
		}, "session_id"),
	})
	r.Register("bg_write", func(_ context.Context, args map[string]any) (string, error) {
		return m.write(stringArg(args, "session_id", ""), stringArg(args, "input", "")), nil
	}, models.ToolSchema{
		Name:        "bg_write",
		Description: "Send a line of input to a background session's stdin.",
		Parameters: objSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session id from bg_run"},
			"input":      map[string]any{"type": "string", "description": "Text to send (a newline is appended)"},
		}, "session_id", "input"),
	})
	r.Register("bg_kill", func(_ context.Context, args map[string]any) (string, error) {
		return m.kill(stringArg(args, "session_id", "")), nil
	}, models.ToolSchema{
		Name:        "bg_kill",
		Description: "Terminate a background session.",
		Parameters: objSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session id from bg_run"},
		}, "session_id"),
	})
}

func (m *BackgroundManager) run(args map[string]any, gate *security.CommandGate, sandbox *security.Sandbox) (string, error) {
	command := strings.TrimSpace(stringArg(args, "command", ""))
	if command == "" {
		return "Error: Empty command", nil
	}
	if blocked := gate.Authorize(command); blocked != "" {
		return blocked, nil
	}

	cwd := sandbox.Root()
	if raw := stringArg(args, "cwd", ""); raw != "" {
		resolved, err := sandbox.Resolve(raw, "run in")
		if err != nil {
			return err.Error(), nil
		}
		cwd = resolved
	}

	m.mu.Lock()
	active := 0
	for _, s := range m.sessions {
		if s.running() {
			active++
		}
	}
	if active >= maxBackgroundSessions {
		m.mu.Unlock()
		return fmt.Sprintf("Error: Maximum of %d concurrent background processes reached. Kill existing sessions with bg_kill first.", maxBackgroundSessions), nil
	}
	m.nextID++
	id := fmt.Sprintf("bg_%d", m.nextID)
	m.mu.Unlock()

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = cwd
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Sprintf("Error: Could not start process: %v", err), nil
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Sprintf("Error: Could not start process: %v", err), nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Sprintf("Error: Could not start process: %v", err), nil
	}

	session := &bgSession{id: id, command: command, cmd: cmd, stdin: stdin, started: time.Now()}
	if err := cmd.Start(); err != nil {
		return fmt.Sprintf("Error: Could not start process: %v", err), nil
	}

	go m.readPipe(session, stdout, "")
	go m.readPipe(session, stderr, "[stderr] ")
	go func() {
		err := cmd.Wait()
		session.mu.Lock()
		session.done = true
		if ee, ok := err.(*exec.ExitError); ok {
			session.exit = ee.ExitCode()
		} else if err != nil {
			session.exit = -1
		}
		session.mu.Unlock()
		m.log.Info("background session exited", "session", session.id, "exit", session.exit)
	}()

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()
	m.log.Info("background session started", "session", id, "command", command)

	// Fail fast on commands that die immediately (typos, missing binaries).
	time.Sleep(bgStartGrace)
	if !session.running() {
		lines := session.tail(20)
		return fmt.Sprintf("Process exited immediately (%s):\n%s", session.status(), strings.Join(lines, "\n")), nil
	}
	return fmt.Sprintf("Started background session %s: %s\nUse bg_log('%s') to see output.", id, command, id), nil
}

func (m *BackgroundManager) readPipe(s *bgSession, pipe io.Reader, prefix string) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		s.appendLine(prefix + scanner.Text())
	}
}

func (m *BackgroundManager) get(id string) *bgSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *BackgroundManager) statusAll() string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	if len(ids) == 0 {
		return "No background sessions."
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "Background sessions (%d):\n", len(ids))
	for _, id := range ids {
		s := m.get(id)
		fmt.Fprintf(&b, "  %s: %s | %s (started %s ago)\n",
			id, s.status(), s.command, time.Since(s.started).Round(time.Second))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *BackgroundManager) logOutput(id string, lines int) string {
	s := m.get(id)
	if s == nil {
		return fmt.Sprintf("Error: No background session '%s'. Use bg_status to list sessions.", id)
	}
	tail := s.tail(lines)
	header := fmt.Sprintf("[%s] %s | %s", s.id, s.status(), s.command)
	if len(tail) == 0 {
		return header + "\n(no output yet)"
	}
	return header + "\n" + strings.Join(tail, "\n")
}

func (m *BackgroundManager) write(id, input string) string {
	s := m.get(id)
	if s == nil {
		return fmt.Sprintf("Error: No background session '%s'. Use bg_status to list sessions.", id)
	}
	if !s.running() {
		return fmt.Sprintf("Error: Session %s has exited.", id)
	}
	if !strings.HasSuffix(input, "\n") {
		input += "\n"
	}
	if _, err := io.WriteString(s.stdin, input); err != nil {
		return fmt.Sprintf("Error writing to %s: %v", id, err)
	}
	return fmt.Sprintf("Sent input to %s.", id)
}

func (m *BackgroundManager) kill(id string) string {
	s := m.get(id)
	if s == nil {
		return fmt.Sprintf("Error: No background session '%s'. Use bg_status to list sessions.", id)
	}
	if !s.running() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return fmt.Sprintf("Session %s had already exited (%s); removed.", id, s.status())
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.log.Info("background session killed", "session", id)
	return fmt.Sprintf("Killed background session %s.", id)
}

// KillAll terminates every running session. Called on shutdown.
func (m *BackgroundManager) KillAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.running() && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		delete(m.sessions, id)
	}
}
