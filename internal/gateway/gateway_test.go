package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/solsticehq/solstice/internal/agent"
	"github.com/solsticehq/solstice/internal/channels"
	"github.com/solsticehq/solstice/internal/multiagent"
	"github.com/solsticehq/solstice/pkg/models"
)

// echoProvider answers every chat with a fixed prefix plus the last
// user message.
type echoProvider struct {
	err   error
	calls int
}

func (p *echoProvider) Name() string  { return "echo" }
func (p *echoProvider) Model() string { return "echo-1" }

func (p *echoProvider) Chat(_ context.Context, messages []models.ChatMessage, _ []models.ToolSchema, _ models.ChatOptions) (*models.LLMResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	last := ""
	for _, m := range messages {
		if m.Role == models.RoleUser {
			last = m.Content.PlainText()
		}
	}
	return &models.LLMResponse{Text: "echo: " + last}, nil
}

func (p *echoProvider) Stream(context.Context, []models.ChatMessage, []models.ToolSchema, models.ChatOptions) (<-chan models.StreamEvent, error) {
	ch := make(chan models.StreamEvent)
	close(ch)
	return ch, nil
}

func (p *echoProvider) SupportsTools() bool     { return true }
func (p *echoProvider) SupportsVision() bool    { return false }
func (p *echoProvider) SupportsStreaming() bool { return false }

func (p *echoProvider) FormatToolTurn(resp *models.LLMResponse) models.ChatMessage {
	return models.ChatMessage{Role: models.RoleAssistant, Content: models.TextContent(resp.Text), ToolCalls: resp.ToolCalls}
}

func (p *echoProvider) FormatToolResults([]models.ToolExecution) []models.ChatMessage { return nil }

// fakeChannel is a scriptable webhook channel.
type fakeChannel struct {
	channelType models.ChannelType
	configured  bool
	valid       bool
	inbound     *models.GatewayMessage
	syncReply   bool

	sends []string
}

func (f *fakeChannel) Type() models.ChannelType { return f.channelType }
func (f *fakeChannel) Configured() bool         { return f.configured }

func (f *fakeChannel) Validate(*channels.Request) bool { return f.valid }

func (f *fakeChannel) ParseInbound(*channels.Request) *models.GatewayMessage { return f.inbound }

func (f *fakeChannel) Send(_ context.Context, recipientID, text string, _ map[string]any) models.SendResult {
	f.sends = append(f.sends, recipientID+": "+text)
	return models.SendResult{Success: true}
}

func (f *fakeChannel) FormatWebhookResponse(text string, _ *models.GatewayMessage) any {
	if !f.syncReply {
		return nil
	}
	return map[string]any{"response": text}
}

func singleManager(p agent.Provider) *Manager {
	return New(agent.New(p, agent.Options{}))
}

func TestProcessInboundPipeline(t *testing.T) {
	msg := models.NewInbound(models.ChannelWebChat, "u1", "hello")
	ch := &fakeChannel{channelType: models.ChannelWebChat, configured: true, valid: true, inbound: msg, syncReply: true}

	m := singleManager(&echoProvider{})
	if err := m.RegisterChannel(context.Background(), ch); err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}

	res := m.ProcessInbound(context.Background(), models.ChannelWebChat, &channels.Request{})
	if !res.Success || res.Response != "echo: hello" {
		t.Fatalf("result = %+v", res)
	}
	payload, ok := res.WebhookResponse.(map[string]any)
	if !ok || payload["response"] != "echo: hello" {
		t.Errorf("webhook response = %v", res.WebhookResponse)
	}
	// WebChat is synchronous: no out-of-band send.
	if len(ch.sends) != 0 {
		t.Errorf("unexpected sends: %v", ch.sends)
	}
}

func TestProcessInboundUnknownChannel(t *testing.T) {
	m := singleManager(&echoProvider{})
	res := m.ProcessInbound(context.Background(), models.ChannelSlack, &channels.Request{})
	if res.Err != "Channel not configured" {
		t.Errorf("result = %+v", res)
	}
}

func TestProcessInboundInvalidSignature(t *testing.T) {
	ch := &fakeChannel{channelType: models.ChannelWebhook, configured: true, valid: false}
	m := singleManager(&echoProvider{})
	m.RegisterChannel(context.Background(), ch)

	res := m.ProcessInbound(context.Background(), models.ChannelWebhook, &channels.Request{})
	if res.Err != "Invalid signature" || res.Success {
		t.Errorf("result = %+v", res)
	}
}

func TestProcessInboundSkipped(t *testing.T) {
	ch := &fakeChannel{channelType: models.ChannelWebhook, configured: true, valid: true, inbound: nil}
	p := &echoProvider{}
	m := singleManager(p)
	m.RegisterChannel(context.Background(), ch)

	res := m.ProcessInbound(context.Background(), models.ChannelWebhook, &channels.Request{})
	if !res.Skipped || res.Success {
		t.Errorf("result = %+v", res)
	}
	if p.calls != 0 {
		t.Error("skipped payload still reached the agent")
	}
}

func TestProcessInboundAsyncReply(t *testing.T) {
	msg := models.NewInbound(models.ChannelTelegram, "u1", "hi")
	msg.Metadata["chat_id"] = "chat-42"
	ch := &fakeChannel{channelType: models.ChannelTelegram, configured: true, valid: true, inbound: msg}

	m := singleManager(&echoProvider{})
	m.RegisterChannel(context.Background(), ch)

	res := m.ProcessInbound(context.Background(), models.ChannelTelegram, &channels.Request{})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if len(ch.sends) != 1 || ch.sends[0] != "chat-42: echo: hi" {
		t.Errorf("sends = %v", ch.sends)
	}
	if res.WebhookResponse != nil {
		t.Errorf("async channel produced sync payload: %v", res.WebhookResponse)
	}
}

func TestProcessInboundAgentError(t *testing.T) {
	msg := models.NewInbound(models.ChannelWebChat, "u1", "boom")
	ch := &fakeChannel{channelType: models.ChannelWebChat, configured: true, valid: true, inbound: msg, syncReply: true}

	m := singleManager(&echoProvider{err: errors.New("provider down")})
	m.RegisterChannel(context.Background(), ch)

	res := m.ProcessInbound(context.Background(), models.ChannelWebChat, &channels.Request{})
	if !res.Success {
		t.Fatalf("gateway replies must succeed even on agent failure: %+v", res)
	}
	if res.Response != agentErrorReply {
		t.Errorf("response = %q", res.Response)
	}
}

func TestProcessInboundMultiAgentRouting(t *testing.T) {
	factory := func(cfg multiagent.AgentConfig) (*agent.Agent, error) {
		return agent.New(&echoProvider{}, agent.Options{}), nil
	}
	pool := multiagent.NewPool(map[string]multiagent.AgentConfig{
		"default": {Name: "default"},
		"coder":   {Name: "coder"},
	}, factory)
	router, err := multiagent.NewRouter(multiagent.StrategyPrefix, map[string]string{"!code": "coder"}, "default")
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	msg := models.NewInbound(models.ChannelWebChat, "u1", "!code fix it")
	ch := &fakeChannel{channelType: models.ChannelWebChat, configured: true, valid: true, inbound: msg, syncReply: true}

	m := NewMulti(pool, router)
	m.RegisterChannel(context.Background(), ch)

	res := m.ProcessInbound(context.Background(), models.ChannelWebChat, &channels.Request{})
	// The prefix is stripped before the agent sees the text.
	if res.Response != "echo: fix it" {
		t.Errorf("response = %q", res.Response)
	}
	if pool.ActiveCount() != 1 {
		t.Errorf("pool instances = %d", pool.ActiveCount())
	}
}

func TestSendProactive(t *testing.T) {
	ch := &fakeChannel{channelType: models.ChannelTelegram, configured: true, valid: true}
	m := singleManager(&echoProvider{})
	m.RegisterChannel(context.Background(), ch)

	if err := m.SendProactive(context.Background(), models.ChannelTelegram, "u9", "reminder"); err != nil {
		t.Fatalf("SendProactive: %v", err)
	}
	if len(ch.sends) != 1 || ch.sends[0] != "u9: reminder" {
		t.Errorf("sends = %v", ch.sends)
	}

	if err := m.SendProactive(context.Background(), models.ChannelDiscord, "u9", "x"); err == nil {
		t.Error("expected error for unregistered channel")
	}
}

func TestStatus(t *testing.T) {
	ch := &fakeChannel{channelType: models.ChannelWebhook, configured: true, valid: true}
	m := singleManager(&echoProvider{})
	m.RegisterChannel(context.Background(), ch)

	status := m.Status()
	chs, ok := status["channels"].(map[string]any)
	if !ok {
		t.Fatalf("status = %v", status)
	}
	entry, ok := chs["webhook"].(map[string]any)
	if !ok || entry["enabled"] != true {
		t.Errorf("channels = %v", chs)
	}
	if status["agent"] != "echo" {
		t.Errorf("agent = %v", status["agent"])
	}
}
