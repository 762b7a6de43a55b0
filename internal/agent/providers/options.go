// Package providers adapts remote model APIs to the agent.Provider
// contract. Four families are covered: the OpenAI chat-completions wire
// (OpenAI), Anthropic content blocks (Anthropic), Gemini function
// declarations (Gemini), and Ollama's local line-delimited JSON API
// (Ollama). Each adapter owns its family's tool-message pairing shape
// via FormatToolTurn / FormatToolResults so the agent loop never
// switches on provider identity.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/solsticehq/solstice/pkg/models"
)

// Options configures a provider adapter. Model and BaseURL fall back to
// per-provider defaults when empty.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
}

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// parseToolArgs decodes a JSON arguments payload into a structured map.
// Malformed or empty payloads yield an empty object so one bad model
// emission cannot abort the turn.
func parseToolArgs(raw string) map[string]any {
	args := map[string]any{}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return args
	}
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// marshalArgs encodes structured arguments back to the JSON-string form
// Family A expects on assistant tool_calls.
func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// splitSystem collects every system turn into one prompt string (joined
// by blank lines, so triggered skill injections stay separate sections)
// and returns the remaining messages. Used by the families that carry
// the system prompt in a dedicated request field.
func splitSystem(messages []models.ChatMessage) (string, []models.ChatMessage) {
	var parts []string
	rest := make([]models.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if text := msg.Content.PlainText(); text != "" {
				parts = append(parts, text)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(parts, "\n\n"), rest
}

// formatToolTurnA is the Family A assistant-with-tool-calls shape: text
// content plus a separate tool_calls array.
func formatToolTurnA(resp *models.LLMResponse) models.ChatMessage {
	return models.ChatMessage{
		Role:      models.RoleAssistant,
		Content:   models.TextContent(resp.Text),
		ToolCalls: resp.ToolCalls,
	}
}

// formatToolResultsA is the Family A result shape: one role:tool message
// per executed call, linked by tool_call_id.
func formatToolResultsA(execs []models.ToolExecution) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(execs))
	for _, exec := range execs {
		out = append(out, models.ChatMessage{
			Role:       models.RoleTool,
			Content:    models.TextContent(exec.Result),
			ToolCallID: exec.Call.ID,
		})
	}
	return out
}

// retryable classifies transient failures: rate limits, 5xx responses,
// and timeouts are worth retrying; auth and validation errors are not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "429", "too many requests", "resource exhausted",
		"500", "502", "503", "504", "overloaded",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetries runs fn up to defaultMaxRetries times with exponential
// backoff, honoring context cancellation between attempts.
func withRetries(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultRetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("max retries exceeded: %w", err)
}
