package security

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// In-page JavaScript evaluation gate. Expressions are normalized (unicode
// and hex escapes decoded, full-width characters folded) and refused when
// they touch network APIs, storage, navigation, or credential surfaces —
// directly or through bracket notation.
var jsBlockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfetch\s*\(`),
	regexp.MustCompile(`(?i)\bXMLHttpRequest\b`),
	regexp.MustCompile(`(?i)\bWebSocket\b`),
	regexp.MustCompile(`(?i)\bEventSource\b`),
	regexp.MustCompile(`(?i)\bnavigator\s*\.\s*sendBeacon\b`),
	regexp.MustCompile(`(?i)\bdocument\s*\.\s*cookie\b`),
	regexp.MustCompile(`(?i)\blocalStorage\b`),
	regexp.MustCompile(`(?i)\bsessionStorage\b`),
	regexp.MustCompile(`(?i)\bindexedDB\b`),
	regexp.MustCompile(`(?i)\bwindow\s*\.\s*location\b`),
	regexp.MustCompile(`(?i)\bdocument\s*\.\s*location\b`),
	regexp.MustCompile(`(?i)\blocation\s*\.\s*(href|assign|replace)\b`),
	regexp.MustCompile(`(?i)\binnerHTML\b`),
	regexp.MustCompile(`(?i)\bouterHTML\b`),
	regexp.MustCompile(`(?i)\bdocument\s*\.\s*write\b`),
	regexp.MustCompile(`(?i)\bcredentials\b`),
	regexp.MustCompile(`(?i)\bPasswordCredential\b`),
	regexp.MustCompile(`(?i)\bnavigator\s*\.\s*credentials\b`),
	regexp.MustCompile(`(?i)\bimportScripts\s*\(`),
	// Bracket-notation reach: window["fet"+"ch"], document['cookie'], …
	regexp.MustCompile(`(?i)\[\s*['"]\s*(fetch|cookie|localStorage|sessionStorage|location|innerHTML|credentials|XMLHttpRequest|WebSocket)`),
}

var (
	jsUnicodeEscapeRE = regexp.MustCompile(`\\u\{?([0-9a-fA-F]{1,6})\}?`)
	jsHexEscapeRE     = regexp.MustCompile(`\\x([0-9a-fA-F]{2})`)
)

// NormalizeJS decodes \uXXXX / \u{…} / \xXX escapes and folds full-width
// ASCII variants so obfuscated references match the block patterns.
func NormalizeJS(expr string) string {
	n := jsUnicodeEscapeRE.ReplaceAllStringFunc(expr, func(m string) string {
		groups := jsUnicodeEscapeRE.FindStringSubmatch(m)
		code, err := strconv.ParseInt(groups[1], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
	n = jsHexEscapeRE.ReplaceAllStringFunc(n, func(m string) string {
		groups := jsHexEscapeRE.FindStringSubmatch(m)
		code, err := strconv.ParseInt(groups[1], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
	// Full-width forms (U+FF01–U+FF5E) fold to ASCII.
	n = strings.Map(func(r rune) rune {
		if r >= 0xFF01 && r <= 0xFF5E {
			return r - 0xFEE0
		}
		return r
	}, n)
	return n
}

// CheckJS returns an error when the expression must not be evaluated in a
// page context.
func CheckJS(expr string) error {
	normalized := NormalizeJS(expr)
	for _, pattern := range jsBlockedPatterns {
		if m := pattern.FindString(normalized); m != "" {
			return fmt.Errorf("blocked JavaScript expression: %q touches a restricted API", strings.TrimSpace(m))
		}
	}
	return nil
}
