package providers

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/solsticehq/solstice/pkg/models"
)

func TestToOpenAIMessages_ToolPairing(t *testing.T) {
	messages := []models.ChatMessage{
		models.SystemText("sys"),
		models.UserText("hi"),
		{
			Role:    models.RoleAssistant,
			Content: models.TextContent(""),
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "lookup", Args: map[string]any{"q": "test"}},
			},
		},
		{
			Role:       models.RoleTool,
			Content:    models.TextContent("ok"),
			ToolCallID: "call_1",
		},
	}

	out := toOpenAIMessages(messages)
	if len(out) != 4 {
		t.Fatalf("messages = %d, want 4", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "sys" {
		t.Errorf("system message = %+v", out[0])
	}
	if len(out[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls = %d, want 1", len(out[2].ToolCalls))
	}
	if out[2].ToolCalls[0].Function.Arguments != `{"q":"test"}` {
		t.Errorf("tool args = %s", out[2].ToolCalls[0].Function.Arguments)
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "call_1" || out[3].Content != "ok" {
		t.Errorf("tool result = %+v", out[3])
	}
}

func TestToOpenAIMessages_ImageBlocks(t *testing.T) {
	messages := []models.ChatMessage{
		{
			Role: models.RoleUser,
			Content: models.BlockContent(
				models.TextBlock("what is this?"),
				models.ImageBlock("image/png", "aGVsbG8="),
			),
		},
	}

	out := toOpenAIMessages(messages)
	if len(out) != 1 {
		t.Fatalf("messages = %d, want 1", len(out))
	}
	parts := out[0].MultiContent
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	if parts[0].Type != openai.ChatMessagePartTypeText || parts[0].Text != "what is this?" {
		t.Errorf("text part = %+v", parts[0])
	}
	if parts[1].Type != openai.ChatMessagePartTypeImageURL {
		t.Fatalf("image part type = %s", parts[1].Type)
	}
	if parts[1].ImageURL.URL != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("image URL = %q", parts[1].ImageURL.URL)
	}
}

func TestToOpenAITools(t *testing.T) {
	tools := []models.ToolSchema{
		{
			Name:        "read_file",
			Description: "Read a file",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
			},
		},
		{Name: "bare", Description: "no schema"},
	}

	out := toOpenAITools(tools)
	if len(out) != 2 {
		t.Fatalf("tools = %d, want 2", len(out))
	}
	if out[0].Function.Name != "read_file" || out[0].Function.Description != "Read a file" {
		t.Errorf("function = %+v", out[0].Function)
	}
	// Missing parameters become an empty object schema rather than nil.
	params, ok := out[1].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("bare parameters = %+v", out[1].Function.Parameters)
	}
}

func TestNewOpenAIDefaults(t *testing.T) {
	p := NewOpenAI(Options{APIKey: "sk-test"})
	if p.Model() != defaultOpenAIModel {
		t.Errorf("model = %q, want %q", p.Model(), defaultOpenAIModel)
	}
	if p.Name() != "openai" {
		t.Errorf("name = %q", p.Name())
	}
	if !p.SupportsTools() || !p.SupportsVision() || !p.SupportsStreaming() {
		t.Error("capability flags changed")
	}
}
