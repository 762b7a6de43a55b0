// Package agent implements the tool-calling loop: user message in, model
// called with tool schemas, requested tools executed and fed back, until
// the model answers with text or the iteration cap trips.
//
// Conversation history only ever receives the user turn and the committed
// final assistant text. The intermediate tool turns live on a per-call
// working list, so histories stay portable across providers.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/solsticehq/solstice/internal/skills"
	"github.com/solsticehq/solstice/pkg/models"
)

// MaxToolIterations bounds a single Chat call's tool loop.
const MaxToolIterations = 10

const toolLoopFallback = "I got stuck in a tool loop. Try rephrasing?"

// hardTrimMessages bounds history when no compactor is configured.
const hardTrimMessages = 40

// ToolDispatcher is the slice of the tool registry the loop needs.
type ToolDispatcher interface {
	Schemas() []models.ToolSchema
	Len() int
	Dispatch(ctx context.Context, call models.ToolCall) string
}

// HistoryCompactor condenses history after each committed turn.
type HistoryCompactor interface {
	Compact(ctx context.Context, history []models.ChatMessage) []models.ChatMessage
}

// Options configures an agent. Zero fields take defaults.
type Options struct {
	Personality Personality
	Temperature float64
	MaxTokens   int
	Skills      *skills.Loader
	Compactor   HistoryCompactor
	Tools       ToolDispatcher
}

// Agent couples a provider with a personality, tools, skills, and
// conversation history. Safe for use from multiple goroutines.
type Agent struct {
	log         *slog.Logger
	provider    Provider
	personality Personality
	temperature float64
	maxTokens   int
	skills      *skills.Loader
	compactor   HistoryCompactor
	tools       ToolDispatcher

	mu      sync.Mutex
	history []models.ChatMessage
}

// New builds an agent.
func New(provider Provider, opts Options) *Agent {
	if opts.Personality.Name == "" {
		opts.Personality = DefaultPersonality
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.7
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	a := &Agent{
		log:         slog.Default().With("component", "agent"),
		provider:    provider,
		personality: opts.Personality,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		skills:      opts.Skills,
		compactor:   opts.Compactor,
		tools:       opts.Tools,
	}
	a.log.Info("agent initialized", "personality", a.personality.Name, "provider", provider.Name())
	return a
}

// Provider returns the agent's model backend.
func (a *Agent) Provider() Provider { return a.provider }

// Personality returns the agent's character.
func (a *Agent) Personality() Personality { return a.personality }

// ToolNames lists the registered tool names, for display surfaces.
func (a *Agent) ToolNames() []string {
	if a.tools == nil {
		return nil
	}
	schemas := a.tools.Schemas()
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	return names
}

// History returns a copy of the conversation history.
func (a *Agent) History() []models.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.ChatMessage(nil), a.history...)
}

// SetHistory replaces the conversation history (e.g. when resuming a
// saved session).
func (a *Agent) SetHistory(history []models.ChatMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append([]models.ChatMessage(nil), history...)
}

// ClearHistory resets the conversation.
func (a *Agent) ClearHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
}

func (a *Agent) chatOpts() models.ChatOptions {
	return models.ChatOptions{Temperature: a.temperature, MaxTokens: a.maxTokens}
}

// Chat sends a message and returns the final text. Tools are executed
// automatically; at most MaxToolIterations model calls are made.
func (a *Agent) Chat(ctx context.Context, message string, images ...string) (string, error) {
	a.appendUserTurn(message, images)
	working := a.buildMessages(message)
	toolSchemas := a.toolSchemas()

	var resp *models.LLMResponse
	var err error
	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		resp, err = a.provider.Chat(ctx, working, toolSchemas, a.chatOpts())
		if err != nil {
			return "", err
		}
		if !resp.HasToolCalls() {
			final := strings.TrimSpace(resp.Text)
			a.commit(ctx, final)
			return final, nil
		}
		a.log.Info("tool calls", "iteration", iteration+1, "tools", callNames(resp.ToolCalls))
		working = a.runToolCalls(ctx, working, resp)
	}

	// Iteration cap: return whatever text the last response carried.
	fallback := resp.Text
	if fallback == "" {
		fallback = toolLoopFallback
	}
	a.commit(ctx, fallback)
	return fallback, nil
}

// ChatStream sends a message and streams the final response. Tool
// iterations run non-streaming internally; their calls are surfaced as
// tool-call events. The returned channel is closed when the turn ends;
// a failure arrives as an event with Err set.
func (a *Agent) ChatStream(ctx context.Context, message string, images ...string) <-chan models.StreamEvent {
	out := make(chan models.StreamEvent, 8)
	go func() {
		defer close(out)
		a.chatStream(ctx, out, message, images)
	}()
	return out
}

func (a *Agent) chatStream(ctx context.Context, out chan<- models.StreamEvent, message string, images []string) {
	a.appendUserTurn(message, images)
	working := a.buildMessages(message)
	toolSchemas := a.toolSchemas()

	if !a.provider.SupportsStreaming() {
		final, err := a.finishNonStreaming(ctx, working, toolSchemas)
		if err != nil {
			out <- models.StreamEvent{Type: models.StreamDone, Err: err}
			return
		}
		out <- models.StreamEvent{Type: models.StreamText, Text: final}
		out <- models.StreamEvent{Type: models.StreamDone}
		return
	}

	// Tool loop: non-streaming calls while tools keep firing. The final
	// iteration slot is left for the streaming pass.
	if toolSchemas != nil {
		for iteration := 0; iteration < MaxToolIterations-1; iteration++ {
			resp, err := a.provider.Chat(ctx, working, toolSchemas, a.chatOpts())
			if err != nil {
				out <- models.StreamEvent{Type: models.StreamDone, Err: err}
				return
			}
			if !resp.HasToolCalls() {
				// Already have the final text; emit it as one chunk.
				final := strings.TrimSpace(resp.Text)
				a.commit(ctx, final)
				out <- models.StreamEvent{Type: models.StreamText, Text: final}
				out <- models.StreamEvent{Type: models.StreamDone, Response: resp}
				return
			}
			a.log.Info("tool calls", "iteration", iteration+1, "tools", callNames(resp.ToolCalls))
			out <- models.StreamEvent{Type: models.StreamToolCalls, Response: resp}
			working = a.runToolCalls(ctx, working, resp)
		}
	}

	// Stream the final turn.
	events, err := a.provider.Stream(ctx, working, toolSchemas, a.chatOpts())
	if err != nil {
		out <- models.StreamEvent{Type: models.StreamDone, Err: err}
		return
	}

	var full strings.Builder
	for event := range events {
		switch event.Type {
		case models.StreamText:
			full.WriteString(event.Text)
			out <- event
		case models.StreamToolCalls:
			// The model asked for tools mid-stream: run them, then close
			// the turn with one non-streaming call.
			a.log.Info("late tool calls in stream", "tools", callNames(event.Response.ToolCalls))
			out <- event
			turn := &models.LLMResponse{Text: full.String(), ToolCalls: event.Response.ToolCalls}
			working = a.runToolCalls(ctx, working, turn)

			final, err := a.finalCall(ctx, working, toolSchemas)
			if err != nil {
				out <- models.StreamEvent{Type: models.StreamDone, Err: err}
				return
			}
			a.commit(ctx, final)
			out <- models.StreamEvent{Type: models.StreamText, Text: final}
			out <- models.StreamEvent{Type: models.StreamDone}
			return
		case models.StreamDone:
			if event.Err != nil {
				out <- event
				return
			}
		}
	}

	final := strings.TrimSpace(full.String())
	a.commit(ctx, final)
	out <- models.StreamEvent{Type: models.StreamDone}
}

// finishNonStreaming runs the whole loop without streaming, for providers
// that do not stream.
func (a *Agent) finishNonStreaming(ctx context.Context, working []models.ChatMessage, toolSchemas []models.ToolSchema) (string, error) {
	var resp *models.LLMResponse
	var err error
	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		resp, err = a.provider.Chat(ctx, working, toolSchemas, a.chatOpts())
		if err != nil {
			return "", err
		}
		if !resp.HasToolCalls() {
			final := strings.TrimSpace(resp.Text)
			a.commit(ctx, final)
			return final, nil
		}
		working = a.runToolCalls(ctx, working, resp)
	}
	fallback := resp.Text
	if fallback == "" {
		fallback = toolLoopFallback
	}
	a.commit(ctx, fallback)
	return fallback, nil
}

func (a *Agent) finalCall(ctx context.Context, working []models.ChatMessage, toolSchemas []models.ToolSchema) (string, error) {
	resp, err := a.provider.Chat(ctx, working, toolSchemas, a.chatOpts())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// runToolCalls appends the assistant tool turn, executes every call, and
// appends the results in the provider's own pairing shape.
func (a *Agent) runToolCalls(ctx context.Context, working []models.ChatMessage, resp *models.LLMResponse) []models.ChatMessage {
	working = append(working, a.provider.FormatToolTurn(resp))
	execs := make([]models.ToolExecution, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		execs = append(execs, models.ToolExecution{Call: call, Result: a.executeTool(ctx, call)})
	}
	return append(working, a.provider.FormatToolResults(execs)...)
}

func (a *Agent) executeTool(ctx context.Context, call models.ToolCall) string {
	if a.tools == nil {
		return "Error: Unknown tool '" + call.Name + "'"
	}
	return a.tools.Dispatch(ctx, call)
}

func (a *Agent) toolSchemas() []models.ToolSchema {
	if a.tools == nil || a.tools.Len() == 0 || !a.provider.SupportsTools() {
		return nil
	}
	return a.tools.Schemas()
}

// appendUserTurn records the user message, attaching images when the
// provider can see them.
func (a *Agent) appendUserTurn(message string, images []string) {
	msg := models.UserText(message)
	if len(images) > 0 && a.provider.SupportsVision() {
		blocks := []models.Block{models.TextBlock(message)}
		for _, path := range images {
			data, mediaType, err := EncodeImage(path)
			if err != nil {
				a.log.Warn("failed to load image", "path", path, "error", err)
				continue
			}
			blocks = append(blocks, models.ImageBlock(mediaType, data))
		}
		msg = models.ChatMessage{Role: models.RoleUser, Content: models.BlockContent(blocks...)}
	} else if len(images) > 0 {
		a.log.Warn("provider does not support vision, ignoring images",
			"provider", a.provider.Name(), "images", len(images))
	}

	a.mu.Lock()
	a.history = append(a.history, msg)
	a.mu.Unlock()
}

// buildMessages assembles the working list: system prompt (with the skill
// tier-1 block), the history, then any trigger-loaded skill guides.
func (a *Agent) buildMessages(userMessage string) []models.ChatMessage {
	systemPrompt := a.personality.SystemPrompt()
	if a.skills != nil {
		if tier1 := a.skills.Tier1Block(); tier1 != "" {
			systemPrompt += "\n" + tier1
		}
	}

	a.mu.Lock()
	messages := make([]models.ChatMessage, 0, len(a.history)+2)
	messages = append(messages, models.SystemText(systemPrompt))
	messages = append(messages, a.history...)
	a.mu.Unlock()

	if a.skills != nil && userMessage != "" {
		for _, name := range a.skills.MatchTriggers(userMessage) {
			skill := a.skills.Get(name)
			if skill == nil {
				continue
			}
			a.log.Info("auto-loading skill", "skill", name)
			messages = append(messages, models.SystemText(
				"[Auto-loaded skill: "+skill.Name+"]\n"+skill.Tier2Full()))
		}
	}
	return messages
}

// commit appends the final assistant text and compacts or trims.
func (a *Agent) commit(ctx context.Context, text string) {
	a.mu.Lock()
	a.history = append(a.history, models.AssistantText(text))
	history := a.history
	a.mu.Unlock()

	if a.compactor != nil {
		compacted := a.compactor.Compact(ctx, history)
		a.mu.Lock()
		a.history = compacted
		a.mu.Unlock()
		return
	}
	a.mu.Lock()
	if len(a.history) > hardTrimMessages {
		a.history = append([]models.ChatMessage(nil), a.history[len(a.history)-hardTrimMessages:]...)
	}
	a.mu.Unlock()
}

func callNames(calls []models.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
