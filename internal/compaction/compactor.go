// Package compaction replaces hard history trimming with LLM
// summarization: older messages are condensed into a digest that preserves
// facts, decisions, paths, and errors, while recent messages stay verbatim.
//
// Token counting is approximate (chars/4) to avoid a tokenizer dependency.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solsticehq/solstice/pkg/models"
)

// Model context windows (tokens).
var modelContextWindows = map[string]int{
	// OpenAI
	"gpt-4o":      128_000,
	"gpt-4o-mini": 128_000,
	"gpt-4-turbo": 128_000,
	"gpt-4":       8_192,
	"o1":          200_000,
	"o1-mini":     128_000,
	"o3":          200_000,
	"o3-mini":     128_000,
	// Anthropic
	"claude-sonnet-4-5-20250929": 200_000,
	"claude-opus-4-5-20250929":   200_000,
	"claude-3-5-sonnet-20241022": 200_000,
	"claude-3-5-haiku-20241022":  200_000,
	// Gemini
	"gemini-2.5-flash": 1_048_576,
	"gemini-2.5-pro":   1_048_576,
	"gemini-2.0-flash": 1_048_576,
	// Ollama (conservative defaults)
	"llama3.1":  128_000,
	"llama3.2":  128_000,
	"mistral":   32_000,
	"mixtral":   32_000,
	"codellama": 16_000,
	"phi3":      128_000,
	"qwen2":     32_000,
}

const defaultContextWindow = 128_000

// SummaryPrefix marks compaction summaries in the history.
const SummaryPrefix = "[Summary of earlier conversation]"

const summarizationPrompt = `Summarize the following conversation history into a concise digest.

PRESERVE:
- Key facts and data mentioned
- Decisions made and their reasoning
- File paths, URLs, commands used
- Errors encountered and their resolutions
- User preferences expressed
- Task progress and status

FORMAT:
- Use bullet points
- Group by topic/task
- Be concise but don't lose critical details
- Start with: "%s"

CONVERSATION TO SUMMARIZE:
%s`

// ChatProvider is the slice of the provider surface the compactor needs.
type ChatProvider interface {
	Chat(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (*models.LLMResponse, error)
	Model() string
}

// Config parameterizes the compactor.
type Config struct {
	Threshold     float64 // compact at this fraction of the window (default 0.75)
	KeepRecent    int     // last N messages always kept verbatim (default 10)
	ModelName     string  // for context window lookup; "" = provider's model
	ContextWindow int     // override; 0 = resolve from model name
}

// Compactor summarizes older history when the estimated token count
// approaches the model's context window.
type Compactor struct {
	provider ChatProvider
	cfg      Config
	window   int
	log      *slog.Logger
}

// New builds a compactor. Zero config fields take their defaults.
func New(provider ChatProvider, cfg Config) *Compactor {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.75
	}
	if cfg.KeepRecent == 0 {
		cfg.KeepRecent = 10
	}
	c := &Compactor{
		provider: provider,
		cfg:      cfg,
		log:      slog.Default().With("component", "compactor"),
	}
	c.window = c.resolveContextWindow()
	return c
}

// ContextWindow returns the resolved window size in tokens.
func (c *Compactor) ContextWindow() int {
	return c.window
}

func (c *Compactor) resolveContextWindow() int {
	if c.cfg.ContextWindow > 0 {
		return c.cfg.ContextWindow
	}
	model := c.cfg.ModelName
	if model == "" && c.provider != nil {
		model = c.provider.Model()
	}
	if window, ok := modelContextWindows[model]; ok {
		return window
	}
	// Prefix match so dated variants (gpt-4o-2024-…) resolve. Longest
	// prefix wins: gpt-4o-mini-x must not resolve through gpt-4.
	best, bestLen := 0, -1
	for key, window := range modelContextWindows {
		if strings.HasPrefix(model, key) && len(key) > bestLen {
			best, bestLen = window, len(key)
		}
	}
	if bestLen >= 0 {
		return best
	}
	c.log.Info("unknown model, using default context window", "model", model, "window", defaultContextWindow)
	return defaultContextWindow
}

// EstimateTokens approximates token usage: 1 token ~ 4 characters, images
// count as ~1000 tokens, plus per-message framing overhead.
func EstimateTokens(messages []models.ChatMessage) int {
	totalChars := 0
	for _, msg := range messages {
		if msg.Content.IsBlocks() {
			for _, block := range msg.Content.Blocks {
				switch block.Type {
				case models.BlockText:
					totalChars += len(block.Text)
				case models.BlockToolResult:
					totalChars += len(block.Content)
				case models.BlockImage:
					totalChars += 4000
				}
			}
		} else {
			totalChars += len(msg.Content.Text)
		}
		totalChars += len(msg.Role) + 4
	}
	return totalChars / 4
}

// NeedsCompaction reports whether the history exceeds the threshold.
func (c *Compactor) NeedsCompaction(history []models.ChatMessage) bool {
	if len(history) <= c.cfg.KeepRecent {
		return false
	}
	estimated := EstimateTokens(history)
	threshold := int(float64(c.window) * c.cfg.Threshold)
	c.log.Debug("token estimate", "estimated", estimated, "window", c.window,
		"threshold", threshold, "messages", len(history))
	return estimated > threshold
}

// Compact summarizes older messages, returning a new history of
// [summary] + recent messages. The original slice is never mutated. Tool
// call/result pairs are never split across the summary boundary. When
// summarization fails the recent messages are returned alone.
func (c *Compactor) Compact(ctx context.Context, history []models.ChatMessage) []models.ChatMessage {
	if !c.NeedsCompaction(history) {
		return history
	}

	splitIdx := c.safeSplitPoint(history, len(history)-c.cfg.KeepRecent)
	if splitIdx <= 0 {
		return history
	}

	oldMessages := history[:splitIdx]
	recent := history[splitIdx:]
	c.log.Info("compacting history", "summarized", len(oldMessages), "kept", len(recent))

	summary := c.summarize(ctx, formatForSummary(oldMessages))
	if summary == "" {
		c.log.Warn("summarization failed, keeping recent messages only")
		return append([]models.ChatMessage(nil), recent...)
	}

	out := make([]models.ChatMessage, 0, len(recent)+1)
	out = append(out, models.UserText(summary))
	return append(out, recent...)
}

// safeSplitPoint walks the split index backwards past assistant messages
// with pending tool calls and past tool results, so no pair is orphaned.
func (c *Compactor) safeSplitPoint(history []models.ChatMessage, target int) int {
	idx := target
	for idx > 0 {
		msg := history[idx]
		if msg.Role == models.RoleAssistant && msg.HasToolUse() {
			idx--
			continue
		}
		if msg.HasToolResult() {
			idx--
			continue
		}
		break
	}
	if idx < 0 {
		return 0
	}
	return idx
}

// formatForSummary renders messages as readable text for the summarizer.
func formatForSummary(messages []models.ChatMessage) string {
	var lines []string
	for _, msg := range messages {
		role := strings.ToUpper(string(msg.Role))

		if msg.Content.IsBlocks() {
			var parts []string
			for _, block := range msg.Content.Blocks {
				switch block.Type {
				case models.BlockText:
					parts = append(parts, block.Text)
				case models.BlockToolUse:
					parts = append(parts, fmt.Sprintf("[called %s]", block.Name))
				case models.BlockToolResult:
					result := block.Content
					if len(result) > 500 {
						result = result[:500]
					}
					parts = append(parts, fmt.Sprintf("[result: %s]", result))
				}
			}
			if len(parts) > 0 {
				lines = append(lines, fmt.Sprintf("%s: %s", role, strings.Join(parts, " ")))
			}
		} else {
			content := msg.Content.Text
			if strings.HasPrefix(content, SummaryPrefix) {
				lines = append(lines, fmt.Sprintf("[PREVIOUS SUMMARY]\n%s\n", content))
			} else {
				if len(content) > 2000 {
					content = content[:2000] + "..."
				}
				lines = append(lines, fmt.Sprintf("%s: %s", role, content))
			}
		}

		for _, tc := range msg.ToolCalls {
			lines = append(lines, fmt.Sprintf("  [called tool: %s]", tc.Name))
		}
	}
	return strings.Join(lines, "\n")
}

// summarize calls the model; "" signals failure.
func (c *Compactor) summarize(ctx context.Context, conversationText string) string {
	prompt := fmt.Sprintf(summarizationPrompt, SummaryPrefix, conversationText)
	messages := []models.ChatMessage{
		models.SystemText("You are a conversation summarizer. Be concise and accurate."),
		models.UserText(prompt),
	}

	resp, err := c.provider.Chat(ctx, messages, nil, models.ChatOptions{
		Temperature: 0.3,
		MaxTokens:   2048,
	})
	if err != nil {
		c.log.Error("summarization failed", "error", err)
		return ""
	}

	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return ""
	}
	if !strings.HasPrefix(summary, SummaryPrefix) {
		summary = SummaryPrefix + "\n" + summary
	}
	c.log.Info("generated summary", "chars", len(summary))
	return summary
}
