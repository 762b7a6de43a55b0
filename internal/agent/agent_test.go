package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/solsticehq/solstice/internal/skills"
	"github.com/solsticehq/solstice/pkg/models"
)

// scriptedProvider replays a fixed sequence of responses and records
// every message list it was called with.
type scriptedProvider struct {
	responses []*models.LLMResponse
	streamed  []models.StreamEvent
	chatErr   error

	vision    bool
	streaming bool

	chatCalls   [][]models.ChatMessage
	streamCalls int
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) Chat(_ context.Context, messages []models.ChatMessage, _ []models.ToolSchema, _ models.ChatOptions) (*models.LLMResponse, error) {
	p.chatCalls = append(p.chatCalls, append([]models.ChatMessage(nil), messages...))
	if p.chatErr != nil {
		return nil, p.chatErr
	}
	if len(p.responses) == 0 {
		return &models.LLMResponse{Text: "out of script"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Stream(_ context.Context, messages []models.ChatMessage, _ []models.ToolSchema, _ models.ChatOptions) (<-chan models.StreamEvent, error) {
	p.streamCalls++
	ch := make(chan models.StreamEvent, len(p.streamed)+1)
	for _, ev := range p.streamed {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) SupportsTools() bool     { return true }
func (p *scriptedProvider) SupportsVision() bool    { return p.vision }
func (p *scriptedProvider) SupportsStreaming() bool { return p.streaming }

func (p *scriptedProvider) FormatToolTurn(resp *models.LLMResponse) models.ChatMessage {
	return models.ChatMessage{
		Role:      models.RoleAssistant,
		Content:   models.TextContent(resp.Text),
		ToolCalls: resp.ToolCalls,
	}
}

func (p *scriptedProvider) FormatToolResults(execs []models.ToolExecution) []models.ChatMessage {
	out := make([]models.ChatMessage, len(execs))
	for i, e := range execs {
		out[i] = models.ChatMessage{
			Role:       models.RoleTool,
			Content:    models.TextContent(e.Result),
			ToolCallID: e.Call.ID,
		}
	}
	return out
}

// recordingTools answers every dispatch with a canned string.
type recordingTools struct {
	dispatched []models.ToolCall
	result     string
}

func (r *recordingTools) Schemas() []models.ToolSchema {
	return []models.ToolSchema{{Name: "probe", Parameters: map[string]any{"type": "object"}}}
}
func (r *recordingTools) Len() int { return 1 }
func (r *recordingTools) Dispatch(_ context.Context, call models.ToolCall) string {
	r.dispatched = append(r.dispatched, call)
	return r.result
}

func toolCallResponse(id, name string) *models.LLMResponse {
	return &models.LLMResponse{
		ToolCalls: []models.ToolCall{{ID: id, Name: name, Args: map[string]any{}}},
	}
}

func TestChatPlainResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{{Text: "  hello there  "}}}
	a := New(provider, Options{})

	got, err := a.Chat(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello there" {
		t.Errorf("Chat = %q", got)
	}

	history := a.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Content.PlainText() != "hello there" {
		t.Errorf("history = %+v", history)
	}
}

func TestChatSystemPromptFirst(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{{Text: "ok"}}}
	a := New(provider, Options{Personality: CoderPersonality})

	if _, err := a.Chat(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	first := provider.chatCalls[0][0]
	if first.Role != models.RoleSystem {
		t.Fatalf("first message role = %s", first.Role)
	}
	if !strings.Contains(first.Content.PlainText(), "coding assistant") {
		t.Errorf("system prompt = %q", first.Content.PlainText())
	}
}

func TestChatToolLoop(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{
		toolCallResponse("t1", "probe"),
		{Text: "done with tools"},
	}}
	reg := &recordingTools{result: "probe says 42"}
	a := New(provider, Options{Tools: reg})

	got, err := a.Chat(context.Background(), "use the probe")
	if err != nil {
		t.Fatal(err)
	}
	if got != "done with tools" {
		t.Errorf("Chat = %q", got)
	}
	if len(reg.dispatched) != 1 || reg.dispatched[0].Name != "probe" {
		t.Errorf("dispatched = %+v", reg.dispatched)
	}

	// Second model call sees the tool turn and its result.
	second := provider.chatCalls[1]
	var sawToolTurn, sawResult bool
	for _, m := range second {
		if m.Role == models.RoleAssistant && len(m.ToolCalls) == 1 {
			sawToolTurn = true
		}
		if m.Role == models.RoleTool && m.Content.PlainText() == "probe says 42" {
			sawResult = true
		}
	}
	if !sawToolTurn || !sawResult {
		t.Errorf("tool pairing missing from working list: %+v", second)
	}

	// History holds only the user turn and the final text.
	history := a.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d (tool turns must not persist)", len(history))
	}
}

func TestChatIterationCap(t *testing.T) {
	responses := make([]*models.LLMResponse, 0, MaxToolIterations)
	for i := 0; i < MaxToolIterations; i++ {
		responses = append(responses, toolCallResponse(fmt.Sprintf("t%d", i), "probe"))
	}
	provider := &scriptedProvider{responses: responses}
	a := New(provider, Options{Tools: &recordingTools{result: "more"}})

	got, err := a.Chat(context.Background(), "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	if got != toolLoopFallback {
		t.Errorf("Chat = %q", got)
	}
	if len(provider.chatCalls) != MaxToolIterations {
		t.Errorf("model calls = %d, want %d", len(provider.chatCalls), MaxToolIterations)
	}
}

func TestChatProviderError(t *testing.T) {
	provider := &scriptedProvider{chatErr: errors.New("rate limited")}
	a := New(provider, Options{})

	if _, err := a.Chat(context.Background(), "hi"); err == nil {
		t.Fatal("error not propagated")
	}
	// The user turn stays; no assistant turn was committed.
	history := a.History()
	if len(history) != 1 || history[0].Role != models.RoleUser {
		t.Errorf("history = %+v", history)
	}
}

func TestChatHardTrimWithoutCompactor(t *testing.T) {
	provider := &scriptedProvider{}
	for i := 0; i < 30; i++ {
		provider.responses = append(provider.responses, &models.LLMResponse{Text: "r"})
	}
	a := New(provider, Options{})
	for i := 0; i < 30; i++ {
		if _, err := a.Chat(context.Background(), "m"); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(a.History()); got != hardTrimMessages {
		t.Errorf("history length = %d, want %d", got, hardTrimMessages)
	}
}

type trimmingCompactor struct{ called bool }

func (c *trimmingCompactor) Compact(_ context.Context, history []models.ChatMessage) []models.ChatMessage {
	c.called = true
	if len(history) > 2 {
		return history[len(history)-2:]
	}
	return history
}

func TestChatUsesCompactor(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{{Text: "a"}, {Text: "b"}}}
	comp := &trimmingCompactor{}
	a := New(provider, Options{Compactor: comp})

	a.Chat(context.Background(), "one")
	a.Chat(context.Background(), "two")
	if !comp.called {
		t.Error("compactor not invoked")
	}
	if got := len(a.History()); got != 2 {
		t.Errorf("history length = %d", got)
	}
}

func writeSkill(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".md"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestChatSkillInjection(t *testing.T) {
	dataRoot := t.TempDir()
	skillsDir := filepath.Join(dataRoot, "skills")
	os.MkdirAll(skillsDir, 0o755)
	writeSkill(t, skillsDir, "deploy", `---
name: deploy
description: Ship the service
trigger: deploy|release
---
Run the deploy checklist.
`)
	loader := skills.NewLoader(dataRoot)
	loader.Reload()

	provider := &scriptedProvider{responses: []*models.LLMResponse{{Text: "ok"}}}
	a := New(provider, Options{Skills: loader})

	if _, err := a.Chat(context.Background(), "please deploy the api"); err != nil {
		t.Fatal(err)
	}

	sent := provider.chatCalls[0]
	if !strings.Contains(sent[0].Content.PlainText(), "## Available Skills") {
		t.Error("tier1 block missing from system prompt")
	}
	last := sent[len(sent)-1]
	if last.Role != models.RoleSystem ||
		!strings.HasPrefix(last.Content.PlainText(), "[Auto-loaded skill: deploy]") ||
		!strings.Contains(last.Content.PlainText(), "Run the deploy checklist.") {
		t.Errorf("trigger injection = %+v", last)
	}
}

func TestChatImagesRequireVision(t *testing.T) {
	img := filepath.Join(t.TempDir(), "shot.png")
	os.WriteFile(img, []byte("not-really-png"), 0o644)

	provider := &scriptedProvider{responses: []*models.LLMResponse{{Text: "ok"}}}
	a := New(provider, Options{})
	a.Chat(context.Background(), "look", img)
	if a.History()[0].Content.IsBlocks() {
		t.Error("images attached despite no vision support")
	}

	provider2 := &scriptedProvider{vision: true, responses: []*models.LLMResponse{{Text: "ok"}}}
	a2 := New(provider2, Options{})
	a2.Chat(context.Background(), "look", img)
	blocks := a2.History()[0].Content.Blocks
	if len(blocks) != 2 || blocks[1].Type != models.BlockImage || blocks[1].MediaType != "image/png" {
		t.Errorf("vision blocks = %+v", blocks)
	}
}

func drain(ch <-chan models.StreamEvent) []models.StreamEvent {
	var events []models.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestChatStreamFinalTurnStreamed(t *testing.T) {
	// No tools registered: the turn goes straight to the streaming pass.
	provider := &scriptedProvider{
		streaming: true,
		streamed: []models.StreamEvent{
			{Type: models.StreamText, Text: "par"},
			{Type: models.StreamText, Text: "tial"},
			{Type: models.StreamDone},
		},
	}
	a := New(provider, Options{})

	events := drain(a.ChatStream(context.Background(), "go"))

	var text strings.Builder
	var doneEvents int
	for _, ev := range events {
		switch ev.Type {
		case models.StreamText:
			text.WriteString(ev.Text)
		case models.StreamDone:
			doneEvents++
			if ev.Err != nil {
				t.Fatalf("stream error: %v", ev.Err)
			}
		}
	}
	if text.String() != "partial" {
		t.Errorf("streamed text = %q", text.String())
	}
	if doneEvents != 1 {
		t.Errorf("doneEvents = %d", doneEvents)
	}
	if provider.streamCalls != 1 {
		t.Errorf("streamCalls = %d", provider.streamCalls)
	}
	if got := a.History()[1].Content.PlainText(); got != "partial" {
		t.Errorf("committed text = %q", got)
	}
}

func TestChatStreamToolIterations(t *testing.T) {
	// Tool iterations run non-streaming; the final text from the check
	// call is emitted as one chunk without a streaming pass.
	provider := &scriptedProvider{
		streaming: true,
		responses: []*models.LLMResponse{
			toolCallResponse("t1", "probe"),
			{Text: "final after probe"},
		},
	}
	reg := &recordingTools{result: "r"}
	a := New(provider, Options{Tools: reg})

	events := drain(a.ChatStream(context.Background(), "go"))

	var toolEvents int
	var finalText string
	for _, ev := range events {
		switch ev.Type {
		case models.StreamToolCalls:
			toolEvents++
		case models.StreamText:
			finalText = ev.Text
		}
	}
	if toolEvents != 1 || finalText != "final after probe" {
		t.Errorf("toolEvents = %d, finalText = %q", toolEvents, finalText)
	}
	if provider.streamCalls != 0 {
		t.Error("streaming pass used despite early final")
	}
	if len(reg.dispatched) != 1 {
		t.Errorf("dispatched = %+v", reg.dispatched)
	}
}

func TestChatStreamEarlyFinalIsSingleChunk(t *testing.T) {
	provider := &scriptedProvider{
		streaming: true,
		responses: []*models.LLMResponse{{Text: "quick answer"}},
	}
	a := New(provider, Options{Tools: &recordingTools{result: "r"}})

	events := drain(a.ChatStream(context.Background(), "hi"))
	if provider.streamCalls != 0 {
		t.Error("streamed despite early final response")
	}
	if len(events) != 2 || events[0].Text != "quick answer" {
		t.Errorf("events = %+v", events)
	}
}

func TestChatStreamLateToolCalls(t *testing.T) {
	provider := &scriptedProvider{
		streaming: true,
		// First call: no tool calls would end the loop, so script a
		// stream that asks for tools mid-flight instead.
		streamed: []models.StreamEvent{
			{Type: models.StreamText, Text: "let me check. "},
			{Type: models.StreamToolCalls, Response: toolCallResponse("t9", "probe")},
		},
		responses: []*models.LLMResponse{{Text: "after late tools"}},
	}
	// No registered tools: the loop goes straight to the streaming pass.
	a := New(provider, Options{})

	events := drain(a.ChatStream(context.Background(), "go"))

	var finalText string
	for _, ev := range events {
		if ev.Type == models.StreamText {
			finalText = ev.Text
		}
	}
	if finalText != "after late tools" {
		t.Errorf("final text = %q", finalText)
	}
	if got := a.History()[1].Content.PlainText(); got != "after late tools" {
		t.Errorf("committed = %q", got)
	}
}

func TestChatStreamNonStreamingProvider(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{{Text: "plain"}}}
	a := New(provider, Options{})

	events := drain(a.ChatStream(context.Background(), "hi"))
	if provider.streamCalls != 0 {
		t.Error("Stream called on non-streaming provider")
	}
	if len(events) != 2 || events[0].Text != "plain" || events[1].Type != models.StreamDone {
		t.Errorf("events = %+v", events)
	}
}

func TestResolvePersonality(t *testing.T) {
	if got := ResolvePersonality("coder"); got.Role != CoderPersonality.Role {
		t.Errorf("coder = %+v", got)
	}
	if got := ResolvePersonality("nope"); got.Name != DefaultPersonality.Name {
		t.Errorf("unknown name = %+v", got)
	}
	got := ResolvePersonality(map[string]any{
		"name": "Nova", "role": "research analyst",
		"rules": []any{"cite sources"},
	})
	if got.Name != "Nova" || got.Role != "research analyst" || len(got.Rules) != 1 {
		t.Errorf("inline = %+v", got)
	}
	prompt := got.SystemPrompt()
	if !strings.Contains(prompt, "You are Nova, a research analyst.") ||
		!strings.Contains(prompt, "- cite sources") {
		t.Errorf("prompt = %q", prompt)
	}
}
