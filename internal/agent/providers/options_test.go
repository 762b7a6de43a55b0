package providers

import (
	"errors"
	"testing"

	"github.com/solsticehq/solstice/pkg/models"
)

func TestParseToolArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"valid object", `{"path":"a.txt","limit":3}`, 2},
		{"empty string", "", 0},
		{"whitespace", "   ", 0},
		{"malformed", `{"path": "a.txt`, 0},
		{"wrong type", `[1,2,3]`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := parseToolArgs(tt.raw)
			if args == nil {
				t.Fatal("args = nil, want empty map")
			}
			if len(args) != tt.want {
				t.Errorf("len(args) = %d, want %d", len(args), tt.want)
			}
		})
	}
}

func TestMarshalArgsRoundTrip(t *testing.T) {
	if got := marshalArgs(nil); got != "{}" {
		t.Errorf("marshalArgs(nil) = %q, want {}", got)
	}
	got := marshalArgs(map[string]any{"q": "test"})
	if got != `{"q":"test"}` {
		t.Errorf("marshalArgs = %q", got)
	}
}

func TestSplitSystem(t *testing.T) {
	messages := []models.ChatMessage{
		models.SystemText("base prompt"),
		models.UserText("hi"),
		models.SystemText("[Auto-loaded skill: deploy]\nsteps"),
		models.AssistantText("hello"),
	}
	system, rest := splitSystem(messages)
	if system != "base prompt\n\n[Auto-loaded skill: deploy]\nsteps" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 2 {
		t.Fatalf("rest = %d messages, want 2", len(rest))
	}
	if rest[0].Role != models.RoleUser || rest[1].Role != models.RoleAssistant {
		t.Errorf("rest roles = %s, %s", rest[0].Role, rest[1].Role)
	}
}

func TestFamilyAFormatting(t *testing.T) {
	resp := &models.LLMResponse{
		Text: "checking",
		ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "read_file", Args: map[string]any{"path": "a.txt"}},
		},
	}
	turn := formatToolTurnA(resp)
	if turn.Role != models.RoleAssistant || len(turn.ToolCalls) != 1 {
		t.Fatalf("turn = %+v", turn)
	}
	if turn.Content.PlainText() != "checking" {
		t.Errorf("turn text = %q", turn.Content.PlainText())
	}

	results := formatToolResultsA([]models.ToolExecution{
		{Call: resp.ToolCalls[0], Result: "contents"},
	})
	if len(results) != 1 {
		t.Fatalf("results = %d messages, want 1", len(results))
	}
	if results[0].Role != models.RoleTool || results[0].ToolCallID != "call_1" {
		t.Errorf("result = %+v", results[0])
	}
	if results[0].Content.PlainText() != "contents" {
		t.Errorf("result content = %q", results[0].Content.PlainText())
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("server overloaded"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("connection refused"), true},
		{errors.New("invalid api key"), false},
		{errors.New("400 bad request"), false},
	}
	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
