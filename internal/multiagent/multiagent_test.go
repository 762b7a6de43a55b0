package multiagent

import (
	"context"
	"fmt"
	"testing"

	"github.com/solsticehq/solstice/internal/agent"
	"github.com/solsticehq/solstice/pkg/models"
)

// stubProvider satisfies agent.Provider for pool tests; no calls are
// ever made through it.
type stubProvider struct{}

func (stubProvider) Name() string  { return "stub" }
func (stubProvider) Model() string { return "stub-model" }
func (stubProvider) Chat(context.Context, []models.ChatMessage, []models.ToolSchema, models.ChatOptions) (*models.LLMResponse, error) {
	return &models.LLMResponse{Text: "ok"}, nil
}
func (stubProvider) Stream(context.Context, []models.ChatMessage, []models.ToolSchema, models.ChatOptions) (<-chan models.StreamEvent, error) {
	ch := make(chan models.StreamEvent)
	close(ch)
	return ch, nil
}
func (stubProvider) SupportsTools() bool     { return true }
func (stubProvider) SupportsVision() bool    { return false }
func (stubProvider) SupportsStreaming() bool { return false }
func (stubProvider) FormatToolTurn(resp *models.LLMResponse) models.ChatMessage {
	return models.ChatMessage{Role: models.RoleAssistant, Content: models.TextContent(resp.Text), ToolCalls: resp.ToolCalls}
}
func (stubProvider) FormatToolResults(execs []models.ToolExecution) []models.ChatMessage {
	return nil
}

func countingFactory(created *[]string) Factory {
	return func(cfg AgentConfig) (*agent.Agent, error) {
		*created = append(*created, cfg.Name)
		return agent.New(stubProvider{}, agent.Options{}), nil
	}
}

func inbound(channel models.ChannelType, sender, text string) *models.GatewayMessage {
	msg := models.NewInbound(channel, sender, text)
	return msg
}

func TestNewRouterInvalidStrategy(t *testing.T) {
	if _, err := NewRouter("roundrobin", nil, "default"); err == nil {
		t.Fatal("expected error for invalid strategy")
	}
}

func TestRouterStrategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		rules    map[string]string
		msg      *models.GatewayMessage
		want     string
	}{
		{
			name:     "sender match",
			strategy: StrategySender,
			rules:    map[string]string{"u1": "coder"},
			msg:      inbound(models.ChannelTelegram, "u1", "hi"),
			want:     "coder",
		},
		{
			name:     "sender miss falls to default",
			strategy: StrategySender,
			rules:    map[string]string{"u1": "coder"},
			msg:      inbound(models.ChannelTelegram, "u2", "hi"),
			want:     "default",
		},
		{
			name:     "channel match",
			strategy: StrategyChannel,
			rules:    map[string]string{"discord": "coder"},
			msg:      inbound(models.ChannelDiscord, "u1", "hi"),
			want:     "coder",
		},
		{
			name:     "content case-insensitive",
			strategy: StrategyContent,
			rules:    map[string]string{`deploy|release`: "ops"},
			msg:      inbound(models.ChannelSlack, "u1", "please DEPLOY the api"),
			want:     "ops",
		},
		{
			name:     "content no match",
			strategy: StrategyContent,
			rules:    map[string]string{`deploy`: "ops"},
			msg:      inbound(models.ChannelSlack, "u1", "hello"),
			want:     "default",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRouter(tt.strategy, tt.rules, "default")
			if err != nil {
				t.Fatalf("NewRouter: %v", err)
			}
			if got := r.Route(tt.msg); got != tt.want {
				t.Errorf("Route = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRouterPrefixStripsInPlace(t *testing.T) {
	r, err := NewRouter(StrategyPrefix, map[string]string{"!code": "coder", "!c": "chat"}, "default")
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	msg := inbound(models.ChannelWebChat, "u1", "!code fix the tests")
	// Longest prefix wins over the overlapping "!c".
	if got := r.Route(msg); got != "coder" {
		t.Errorf("Route = %q, want coder", got)
	}
	if msg.Text != "fix the tests" {
		t.Errorf("text after strip = %q", msg.Text)
	}

	msg = inbound(models.ChannelWebChat, "u1", "no prefix here")
	if got := r.Route(msg); got != "default" {
		t.Errorf("Route = %q, want default", got)
	}
	if msg.Text != "no prefix here" {
		t.Errorf("text mutated without a match: %q", msg.Text)
	}
}

func TestRouterContentInvalidPatternSkipped(t *testing.T) {
	r, err := NewRouter(StrategyContent, map[string]string{`[unclosed`: "a", `ok`: "b"}, "default")
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if got := r.Route(inbound(models.ChannelSlack, "u1", "ok then")); got != "b" {
		t.Errorf("Route = %q, want b", got)
	}
}

func TestPoolPerSenderIsolation(t *testing.T) {
	var created []string
	pool := NewPool(map[string]AgentConfig{
		"default": {Name: "default"},
		"coder":   {Name: "coder"},
	}, countingFactory(&created))

	a1, err := pool.Get("coder", "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	a2, err := pool.Get("coder", "bob")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a1 == a2 {
		t.Error("different senders share an instance")
	}

	again, err := pool.Get("coder", "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again != a1 {
		t.Error("same (name, sender) returned a new instance")
	}
	if len(created) != 2 {
		t.Errorf("factory calls = %d, want 2", len(created))
	}
}

func TestPoolFallbackToDefault(t *testing.T) {
	var created []string
	pool := NewPool(map[string]AgentConfig{
		"default": {Name: "default"},
	}, countingFactory(&created))

	if _, err := pool.Get("missing", "u1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(created) != 1 || created[0] != "default" {
		t.Errorf("created = %v, want [default]", created)
	}

	empty := NewPool(map[string]AgentConfig{}, countingFactory(&created))
	if _, err := empty.Get("missing", "u1"); err == nil {
		t.Error("expected error with no default agent")
	}
}

func TestPoolLRUEviction(t *testing.T) {
	var created []string
	pool := NewPool(map[string]AgentConfig{
		"default": {Name: "default"},
	}, countingFactory(&created))
	pool.max = 3

	for i := 0; i < 3; i++ {
		if _, err := pool.Get("default", fmt.Sprintf("u%d", i)); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	// Touch u0 so u1 becomes the eviction candidate.
	if _, err := pool.Get("default", "u0"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := pool.Get("default", "u3"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if pool.ActiveCount() != 3 {
		t.Errorf("active = %d, want 3", pool.ActiveCount())
	}
	before := len(created)
	if _, err := pool.Get("default", "u0"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(created) != before {
		t.Error("u0 was evicted despite being recently used")
	}
	if _, err := pool.Get("default", "u1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(created) != before+1 {
		t.Error("u1 should have been evicted and rebuilt")
	}
}

func TestParseAgentConfig(t *testing.T) {
	cfg := ParseAgentConfig("ops", map[string]any{
		"provider":    "anthropic",
		"model":       "claude-sonnet-4-5-20250929",
		"temperature": 0.2,
		"personality": map[string]any{"name": "Opsy", "role": "SRE"},
		"tools":       map[string]any{"enable_terminal": false},
	})
	if cfg.Provider != "anthropic" || cfg.Temperature != 0.2 {
		t.Errorf("cfg = %+v", cfg)
	}

	flags := cfg.ResolvedToolFlags()
	if flags["enable_terminal"] {
		t.Error("terminal override lost")
	}
	if !flags["enable_web"] || !flags["enable_cron"] {
		t.Error("defaults lost")
	}
}
