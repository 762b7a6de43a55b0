// Package memory persists cross-session notes and conversation histories
// as JSON files under the data root.
//
// Layout:
//
//	<root>/memory/conversations/<session-id>.json
//	<root>/memory/notes.json
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/solsticehq/solstice/pkg/models"
)

// Note is a single remembered fact.
type Note struct {
	Value   string `json:"value"`
	SavedAt string `json:"saved_at"`
	Session string `json:"session"`
}

// Conversation is the on-disk shape of a saved history.
type Conversation struct {
	SessionID    string               `json:"session_id"`
	SavedAt      string               `json:"saved_at"`
	MessageCount int                  `json:"message_count"`
	Messages     []models.ChatMessage `json:"messages"`
}

// Store is the persistent memory for the agent: key facts that survive
// restarts, and per-session conversation histories.
type Store struct {
	mu               sync.Mutex
	log              *slog.Logger
	root             string
	conversationsDir string
	notesPath        string
	sessionID        string
	notes            map[string]Note
}

// NewStore opens (creating if needed) a memory store rooted at
// <dataRoot>/memory with a fresh session id.
func NewStore(dataRoot string) (*Store, error) {
	root := filepath.Join(dataRoot, "memory")
	s := &Store{
		log:              slog.Default().With("component", "memory"),
		root:             root,
		conversationsDir: filepath.Join(root, "conversations"),
		notesPath:        filepath.Join(root, "notes.json"),
		sessionID:        models.NewSessionID(),
		notes:            map[string]Note{},
	}
	if err := os.MkdirAll(s.conversationsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dirs: %w", err)
	}
	s.loadNotes()
	s.log.Info("memory initialized", "root", root, "session", s.sessionID)
	return s, nil
}

// SessionID returns the current session id (s-<8 hex>).
func (s *Store) SessionID() string {
	return s.sessionID
}

// Remember stores a key fact that persists across sessions.
func (s *Store) Remember(key, value string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[key] = Note{
		Value:   value,
		SavedAt: time.Now().UTC().Format(time.RFC3339),
		Session: s.sessionID,
	}
	if err := s.saveNotes(); err != nil {
		s.log.Warn("failed to save notes", "error", err)
	}
	return fmt.Sprintf("Remembered: %s = %s", key, value)
}

// Recall returns a specific fact, a fuzzy-matched set, or all facts when
// key is empty.
func (s *Store) Recall(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.notes) == 0 {
		return "No saved memories."
	}

	if key != "" {
		if entry, ok := s.notes[key]; ok {
			saved := entry.SavedAt
			if len(saved) > 10 {
				saved = saved[:10]
			}
			return fmt.Sprintf("%s: %s (saved %s)", key, entry.Value, saved)
		}
		// Fuzzy: case-insensitive substring over keys.
		var matches []string
		for k := range s.notes {
			if strings.Contains(strings.ToLower(k), strings.ToLower(key)) {
				matches = append(matches, k)
			}
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			lines := []string{fmt.Sprintf("No exact match for '%s'. Similar:", key)}
			for _, m := range matches {
				lines = append(lines, fmt.Sprintf("  %s: %s", m, s.notes[m].Value))
			}
			return strings.Join(lines, "\n")
		}
		return fmt.Sprintf("No memory found for '%s'.", key)
	}

	keys := make([]string, 0, len(s.notes))
	for k := range s.notes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := []string{fmt.Sprintf("Saved memories (%d):", len(keys))}
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", k, s.notes[k].Value))
	}
	return strings.Join(lines, "\n")
}

// Forget removes a remembered fact.
func (s *Store) Forget(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[key]; !ok {
		return fmt.Sprintf("No memory found for '%s'.", key)
	}
	delete(s.notes, key)
	if err := s.saveNotes(); err != nil {
		s.log.Warn("failed to save notes", "error", err)
	}
	return fmt.Sprintf("Forgot: %s", key)
}

// SaveConversation writes the history for the current session.
func (s *Store) SaveConversation(history []models.ChatMessage) string {
	if len(history) == 0 {
		return "Nothing to save."
	}
	conv := Conversation{
		SessionID:    s.sessionID,
		SavedAt:      time.Now().UTC().Format(time.RFC3339),
		MessageCount: len(history),
		Messages:     history,
	}
	path := filepath.Join(s.conversationsDir, s.sessionID+".json")
	if err := writeJSONAtomic(path, conv); err != nil {
		return fmt.Sprintf("Failed to save conversation: %v", err)
	}
	return fmt.Sprintf("Conversation saved (%d messages) to %s", len(history), filepath.Base(path))
}

// LoadConversation loads a saved history. An empty sessionID loads the
// most recently saved session. Suspicious session ids load nothing.
func (s *Store) LoadConversation(sessionID string) []models.ChatMessage {
	if sessionID != "" {
		safe := filepath.Base(sessionID)
		safe = strings.ReplaceAll(safe, "..", "")
		if safe == "" || safe != sessionID {
			s.log.Warn("rejected suspicious session id", "session_id", sessionID)
			return nil
		}
		path := filepath.Join(s.conversationsDir, safe+".json")
		conv, err := readConversation(path)
		if err != nil {
			return nil
		}
		return conv.Messages
	}

	files := s.conversationFiles()
	if len(files) == 0 {
		return nil
	}
	conv, err := readConversation(files[0])
	if err != nil {
		return nil
	}
	s.log.Info("loaded previous conversation", "file", filepath.Base(files[0]))
	return conv.Messages
}

// ListConversations describes saved sessions, most recent first.
func (s *Store) ListConversations() string {
	files := s.conversationFiles()
	if len(files) == 0 {
		return "No saved conversations."
	}
	lines := []string{fmt.Sprintf("Saved conversations (%d):", len(files))}
	shown := files
	if len(shown) > 20 {
		shown = shown[:20]
	}
	for _, path := range shown {
		conv, err := readConversation(path)
		if err != nil {
			continue
		}
		saved := conv.SavedAt
		if len(saved) > 16 {
			saved = saved[:16]
		}
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		lines = append(lines, fmt.Sprintf("  %s: %d messages (saved %s)", name, conv.MessageCount, saved))
	}
	if len(files) > 20 {
		lines = append(lines, fmt.Sprintf("  ... and %d more", len(files)-20))
	}
	return strings.Join(lines, "\n")
}

// conversationFiles returns s-*.json paths sorted by mtime, newest first.
func (s *Store) conversationFiles() []string {
	matches, err := filepath.Glob(filepath.Join(s.conversationsDir, "s-*.json"))
	if err != nil {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, erri := os.Stat(matches[i])
		fj, errj := os.Stat(matches[j])
		if erri != nil || errj != nil {
			return matches[i] > matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches
}

func readConversation(path string) (*Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) loadNotes() {
	data, err := os.ReadFile(s.notesPath)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &s.notes); err != nil {
		s.log.Warn("failed to load notes, starting fresh", "error", err)
		s.notes = map[string]Note{}
	}
}

func (s *Store) saveNotes() error {
	return writeJSONAtomic(s.notesPath, s.notes)
}

// writeJSONAtomic writes v as indented JSON via write-to-temp + rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
