package providers

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/solsticehq/solstice/pkg/models"
)

func TestToAnthropicMessages_BlockShapes(t *testing.T) {
	messages := []models.ChatMessage{
		models.UserText("hi"),
		{
			Role: models.RoleAssistant,
			Content: models.BlockContent(
				models.TextBlock("let me check"),
				models.ToolUseBlock(models.ToolCall{ID: "toolu_1", Name: "lookup", Args: map[string]any{"q": "test"}}),
			),
		},
		{
			Role:    models.RoleUser,
			Content: models.BlockContent(models.ToolResultBlock("toolu_1", "ok")),
		},
	}

	out := toAnthropicMessages(messages)
	if len(out) != 3 {
		t.Fatalf("messages = %d, want 3", len(out))
	}
	if out[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("first role = %s", out[0].Role)
	}
	if out[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("assistant role = %s", out[1].Role)
	}
	if len(out[1].Content) != 2 {
		t.Fatalf("assistant blocks = %d, want 2", len(out[1].Content))
	}
	if out[1].Content[0].OfText == nil || out[1].Content[1].OfToolUse == nil {
		t.Errorf("assistant block kinds = %+v", out[1].Content)
	}
	if out[2].Content[0].OfToolResult == nil {
		t.Errorf("result block = %+v", out[2].Content[0])
	}
	if out[2].Content[0].OfToolResult.ToolUseID != "toolu_1" {
		t.Errorf("tool_use_id = %q", out[2].Content[0].OfToolResult.ToolUseID)
	}
}

func TestToAnthropicMessages_LoadedFamilyAHistory(t *testing.T) {
	// Histories loaded from disk can carry Family A bookkeeping; it must
	// be re-expressed as blocks rather than dropped.
	messages := []models.ChatMessage{
		{
			Role:      models.RoleAssistant,
			Content:   models.TextContent("checking"),
			ToolCalls: []models.ToolCall{{ID: "call_1", Name: "lookup", Args: map[string]any{}}},
		},
		{
			Role:       models.RoleTool,
			Content:    models.TextContent("ok"),
			ToolCallID: "call_1",
		},
	}

	out := toAnthropicMessages(messages)
	if len(out) != 2 {
		t.Fatalf("messages = %d, want 2", len(out))
	}
	if len(out[0].Content) != 2 || out[0].Content[1].OfToolUse == nil {
		t.Errorf("assistant blocks = %+v", out[0].Content)
	}
	if out[1].Role != anthropic.MessageParamRoleUser || out[1].Content[0].OfToolResult == nil {
		t.Errorf("tool result message = %+v", out[1])
	}
}

func TestToAnthropicMessages_ImageBlock(t *testing.T) {
	messages := []models.ChatMessage{
		{
			Role: models.RoleUser,
			Content: models.BlockContent(
				models.TextBlock("what is this?"),
				models.ImageBlock("image/png", "aGVsbG8="),
			),
		},
	}

	out := toAnthropicMessages(messages)
	if len(out) != 1 || len(out[0].Content) != 2 {
		t.Fatalf("unexpected shape: %+v", out)
	}
	if out[0].Content[1].OfImage == nil {
		t.Fatalf("image block missing: %+v", out[0].Content[1])
	}
}

func TestToAnthropicTools(t *testing.T) {
	tools := []models.ToolSchema{
		{
			Name:        "read_file",
			Description: "Read a file",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []any{"path"},
			},
		},
	}

	out, err := toAnthropicTools(tools)
	if err != nil {
		t.Fatalf("toAnthropicTools: %v", err)
	}
	if len(out) != 1 || out[0].OfTool == nil {
		t.Fatalf("tools = %+v", out)
	}
	if out[0].OfTool.Name != "read_file" {
		t.Errorf("name = %q", out[0].OfTool.Name)
	}
	if out[0].OfTool.Description.Value != "Read a file" {
		t.Errorf("description = %q", out[0].OfTool.Description.Value)
	}
}

func TestAnthropicFormatToolTurn(t *testing.T) {
	p := NewAnthropic(Options{APIKey: "sk-ant-test"})

	resp := &models.LLMResponse{
		Text: "checking",
		ToolCalls: []models.ToolCall{
			{ID: "toolu_1", Name: "lookup", Args: map[string]any{"q": "test"}},
		},
	}
	turn := p.FormatToolTurn(resp)
	if turn.Role != models.RoleAssistant || !turn.Content.IsBlocks() {
		t.Fatalf("turn = %+v", turn)
	}
	if len(turn.Content.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(turn.Content.Blocks))
	}
	if turn.Content.Blocks[1].Type != models.BlockToolUse {
		t.Errorf("second block = %s", turn.Content.Blocks[1].Type)
	}

	results := p.FormatToolResults([]models.ToolExecution{
		{Call: resp.ToolCalls[0], Result: "ok"},
	})
	if len(results) != 1 {
		t.Fatalf("results = %d messages, want 1", len(results))
	}
	if results[0].Role != models.RoleUser {
		t.Errorf("result role = %s", results[0].Role)
	}
	if results[0].Content.Blocks[0].Type != models.BlockToolResult {
		t.Errorf("result block = %s", results[0].Content.Blocks[0].Type)
	}
	if results[0].Content.Blocks[0].ToolUseID != "toolu_1" {
		t.Errorf("tool_use_id = %q", results[0].Content.Blocks[0].ToolUseID)
	}
}

func TestAnthropicBuildParams(t *testing.T) {
	p := NewAnthropic(Options{APIKey: "sk-ant-test", Model: "claude-3-haiku-20240307"})

	params, err := p.buildParams(
		[]models.ChatMessage{
			models.SystemText("base"),
			models.UserText("hi"),
		},
		[]models.ToolSchema{{Name: "echo", Parameters: map[string]any{"type": "object"}}},
		models.ChatOptions{Temperature: 0.7, MaxTokens: 512},
	)
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.Model != "claude-3-haiku-20240307" {
		t.Errorf("model = %s", params.Model)
	}
	if len(params.System) != 1 || params.System[0].Text != "base" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1 (system extracted)", len(params.Messages))
	}
	if params.MaxTokens != 512 {
		t.Errorf("max tokens = %d", params.MaxTokens)
	}
	if len(params.Tools) != 1 {
		t.Errorf("tools = %d", len(params.Tools))
	}
}
