// Package security enforces the hard safety invariants shared by the tool
// surface: destructive shell command gating, filesystem path sandboxing,
// and outbound URL validation.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// ConfirmFunc asks whether a flagged command may run. It receives the
// command and the reason it was flagged; returning true allows execution.
type ConfirmFunc func(command, reason string) bool

// Destructive-intent patterns. A match anywhere in the command (or in any
// chained segment or substitution) requires confirmation.
var dangerousPatterns = []string{
	// File deletion
	`\brm\s+(-[a-zA-Z]*f|-[a-zA-Z]*r|--force|--recursive)`,
	`\brm\s+-[a-zA-Z]*\s+/`,
	`\brmdir\b`,
	// Disk / partition
	`\bmkfs\b`,
	`\bformat\b`,
	`\bdd\s+`,
	`\b>\s*/dev/sd`,
	// Destructive git
	`\bgit\s+push\s+.*--force`,
	`\bgit\s+reset\s+--hard`,
	`\bgit\s+clean\s+-[a-zA-Z]*f`,
	`\bgit\s+branch\s+-[a-zA-Z]*D`,
	// Database
	`\bdrop\s+(table|database)\b`,
	`\btruncate\s+table\b`,
	// System control
	`\bshutdown\b`,
	`\breboot\b`,
	`\bkill\s+-9\b`,
	`\bkillall\b`,
	// Permissions
	`\bchmod\s+777\b`,
	`\bchown\s+-R\b.*/`,
	// Pipe-to-shell downloads
	`\bcurl\b.*\|\s*(ba)?sh`,
	`\bwget\b.*\|\s*(ba)?sh`,
	`\bcurl\b.*\|\s*python`,
	`\bwget\b.*\|\s*python`,
	`\bcurl\b.*\|\s*perl`,
	// System file modification
	`\b>\s*/etc/`,
	`\bsudo\s+rm\b`,
	// Interpreters with inline code
	`\bpython[23]?\s+-c\b`,
	`\bnode\s+-e\b`,
	`\bperl\s+-e\b`,
	`\bruby\s+-e\b`,
	`\bpowershell(?:\.exe)?\s+(?:-c|-command|-encodedcommand|-enc)\b`,
	`\bpwsh(?:\.exe)?\s+(?:-c|-command|-encodedcommand|-enc)\b`,
	`\bcmd(?:\.exe)?\s+(?:/c|/k)\b`,
	`\bbash\s+-c\b`,
	`\bsh\s+-c\b`,
	`\bzsh\s+-c\b`,
	// Base64 decode streams
	`\bbase64\s+(-d|--decode)\b`,
	// Network listeners
	`\bnc\s+-[a-zA-Z]*\b`,
	`\bncat\b`,
	// SSH key files
	`\.ssh/authorized_keys`,
	`\.ssh/id_`,
	// Crontab edits
	`\bcrontab\s+-[re]\b`,
}

var dangerousRE = regexp.MustCompile(`(?i)` + strings.Join(dangerousPatterns, "|"))

var (
	ifsRE          = regexp.MustCompile(`\$\{?IFS\}?`)
	backslashRE    = regexp.MustCompile(`\\([a-zA-Z])`)
	innerQuoteRE   = regexp.MustCompile(`([a-zA-Z])['"]([a-zA-Z])`)
	leadingQuoteRE = regexp.MustCompile(`['"]([a-zA-Z])`)
	segmentRE      = regexp.MustCompile(`\s*(?:;|&&|\|\||\|)\s*`)
	dollarParenRE  = regexp.MustCompile(`\$\(([^)]+)\)`)
	backtickRE     = regexp.MustCompile("`([^`]+)`")
)

// NormalizeCommand rewrites a command to defeat obfuscation before the
// safety check: ${IFS}/$IFS word-splitting, inserted backslashes (r\m),
// and quotes splitting a token (r"m").
func NormalizeCommand(command string) string {
	n := ifsRE.ReplaceAllString(command, " ")
	n = backslashRE.ReplaceAllString(n, "$1")
	// Run the quote collapse twice so r"m" -> rm survives adjacent pairs.
	for i := 0; i < 2; i++ {
		n = innerQuoteRE.ReplaceAllString(n, "$1$2")
	}
	n = leadingQuoteRE.ReplaceAllString(n, "$1")
	return n
}

// CheckCommand returns a non-empty reason if the command matches a
// destructive-intent pattern. The raw command, its normalized form, every
// chained segment (split on ; | && ||), and every $( ) or backtick
// substitution are all checked.
func CheckCommand(command string) string {
	if m := dangerousRE.FindString(command); m != "" {
		return fmt.Sprintf("potentially destructive pattern detected: %s", m)
	}

	if n := NormalizeCommand(command); n != command {
		if m := dangerousRE.FindString(n); m != "" {
			return fmt.Sprintf("potentially destructive pattern detected (obfuscated): %s", m)
		}
	}

	for _, segment := range segmentRE.Split(command, -1) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if m := dangerousRE.FindString(segment); m != "" {
			return fmt.Sprintf("potentially destructive pattern in chained command: %s", m)
		}
		if n := NormalizeCommand(segment); n != segment {
			if m := dangerousRE.FindString(n); m != "" {
				return fmt.Sprintf("potentially destructive pattern in chained command (obfuscated): %s", m)
			}
		}
	}

	for _, groups := range dollarParenRE.FindAllStringSubmatch(command, -1) {
		if m := dangerousRE.FindString(groups[1]); m != "" {
			return fmt.Sprintf("potentially destructive pattern in subcommand: %s", m)
		}
	}
	for _, groups := range backtickRE.FindAllStringSubmatch(command, -1) {
		if m := dangerousRE.FindString(groups[1]); m != "" {
			return fmt.Sprintf("potentially destructive pattern in subcommand: %s", m)
		}
	}

	return ""
}

// CommandGate gates flagged commands behind a confirmation callback.
// With no callback configured every flagged command is blocked.
type CommandGate struct {
	confirm ConfirmFunc
}

// NewCommandGate builds a gate. confirm may be nil (block-by-default).
func NewCommandGate(confirm ConfirmFunc) *CommandGate {
	return &CommandGate{confirm: confirm}
}

// Authorize checks the command and consults the confirmation callback for
// flagged commands. It returns a non-empty blocked message when the
// command must not run.
func (g *CommandGate) Authorize(command string) string {
	reason := CheckCommand(command)
	if reason == "" {
		return ""
	}
	if g.confirm == nil {
		return fmt.Sprintf("Blocked: %s. Command: %s", reason, command)
	}
	if !g.confirm(command, reason) {
		return fmt.Sprintf("Command blocked by user: %s", command)
	}
	return ""
}
