// Package gateway routes inbound channel messages to agents and sends
// agent-initiated messages back out.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/solsticehq/solstice/internal/agent"
	"github.com/solsticehq/solstice/internal/channels"
	"github.com/solsticehq/solstice/internal/multiagent"
	"github.com/solsticehq/solstice/pkg/models"
)

// agentErrorReply is what users see when the agent call fails. The HTTP
// layer still returns 200 so platforms do not retry-storm the webhook.
const agentErrorReply = "Something went wrong. Try again?"

// asyncReply lists channels whose webhook response carries no reply
// text: the answer goes back through Send instead.
var asyncReply = map[models.ChannelType]bool{
	models.ChannelTelegram: true,
	models.ChannelSlack:    true,
}

// Result is the outcome of one inbound webhook.
type Result struct {
	Success         bool
	Skipped         bool
	Err             string
	Response        string
	WebhookResponse any
}

// Manager is the gateway orchestrator: registered channels on one side,
// a single agent or a router+pool on the other.
type Manager struct {
	// chatMu serializes agent calls: agent instances are not safe for
	// concurrent chats, and webhook handlers run in parallel.
	chatMu sync.Mutex

	agent    *agent.Agent
	pool     *multiagent.Pool
	router   *multiagent.Router
	channels map[models.ChannelType]channels.Channel
	log      *slog.Logger
}

// New builds a single-agent manager.
func New(a *agent.Agent) *Manager {
	return &Manager{
		agent:    a,
		channels: map[models.ChannelType]channels.Channel{},
		log:      slog.Default().With("component", "gateway"),
	}
}

// NewMulti builds a manager that routes across a pool.
func NewMulti(pool *multiagent.Pool, router *multiagent.Router) *Manager {
	return &Manager{
		pool:     pool,
		router:   router,
		channels: map[models.ChannelType]channels.Channel{},
		log:      slog.Default().With("component", "gateway"),
	}
}

// Router returns the active router, nil in single-agent mode.
func (m *Manager) Router() *multiagent.Router { return m.router }

// Pool returns the active pool, nil in single-agent mode.
func (m *Manager) Pool() *multiagent.Pool { return m.pool }

// RegisterChannel adds a channel adapter. Background channels (Discord)
// are started immediately and deliver inbound messages through the same
// processing path as webhooks.
func (m *Manager) RegisterChannel(ctx context.Context, ch channels.Channel) error {
	m.channels[ch.Type()] = ch
	if bg, ok := ch.(channels.Background); ok {
		if err := bg.Start(ctx, func(msg *models.GatewayMessage) string {
			return m.processMessage(ctx, msg)
		}); err != nil {
			delete(m.channels, ch.Type())
			return fmt.Errorf("start %s channel: %w", ch.Type(), err)
		}
	}
	m.log.Info("registered channel", "channel", ch.Type())
	return nil
}

// Channel returns a registered adapter.
func (m *Manager) Channel(ct models.ChannelType) (channels.Channel, bool) {
	ch, ok := m.channels[ct]
	return ch, ok
}

// ChannelTypes lists registered channels, sorted.
func (m *Manager) ChannelTypes() []models.ChannelType {
	out := make([]models.ChannelType, 0, len(m.channels))
	for ct := range m.channels {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ProcessInbound runs the full webhook pipeline: validate, parse,
// route, chat, reply.
func (m *Manager) ProcessInbound(ctx context.Context, ct models.ChannelType, req *channels.Request) Result {
	ch, ok := m.channels[ct]
	if !ok || !ch.Configured() {
		return Result{Err: "Channel not configured"}
	}

	if !ch.Validate(req) {
		m.log.Warn("rejected webhook", "channel", ct, "reason", "invalid signature")
		return Result{Err: "Invalid signature"}
	}

	msg := ch.ParseInbound(req)
	if msg == nil {
		return Result{Skipped: true}
	}

	response := m.processMessage(ctx, msg)
	webhookResp := ch.FormatWebhookResponse(response, msg)

	if asyncReply[ct] {
		recipient := msg.MetaString("chat_id")
		if recipient == "" {
			recipient = msg.MetaString("channel_id")
		}
		if recipient == "" {
			recipient = msg.SenderID
		}
		if res := ch.Send(ctx, recipient, response, msg.Metadata); !res.Success {
			m.log.Error("async reply failed", "channel", ct, "error", res.Error)
		}
	}

	return Result{Success: true, Response: response, WebhookResponse: webhookResp}
}

// Chat runs one turn against a named agent (pool mode) or the single
// agent. The gateway HTTP /chat endpoint calls this directly.
func (m *Manager) Chat(ctx context.Context, agentName, senderID, text string) (string, error) {
	target, err := m.resolveAgent(agentName, senderID)
	if err != nil {
		return "", err
	}
	m.chatMu.Lock()
	defer m.chatMu.Unlock()
	return target.Chat(ctx, text)
}

// processMessage resolves the agent for an inbound message and runs the
// turn, mapping every failure to a stable user-facing string.
func (m *Manager) processMessage(ctx context.Context, msg *models.GatewayMessage) string {
	agentName := "default"
	if m.pool != nil && m.router != nil {
		// Prefix routing may rewrite msg.Text; route before chat.
		agentName = m.router.Route(msg)
	}

	target, err := m.resolveAgent(agentName, msg.SenderID)
	if err != nil {
		m.log.Error("agent resolution failed", "agent", agentName, "error", err)
		return "Agent not configured."
	}

	m.chatMu.Lock()
	response, err := target.Chat(ctx, msg.Text)
	m.chatMu.Unlock()
	if err != nil {
		m.log.Error("agent chat failed", "agent", agentName, "error", err)
		return agentErrorReply
	}

	m.log.Info("processed message",
		"channel", msg.Channel, "agent", agentName, "sender", msg.SenderID)
	return response
}

func (m *Manager) resolveAgent(agentName, senderID string) (*agent.Agent, error) {
	if m.pool != nil {
		return m.pool.Get(agentName, senderID)
	}
	if m.agent == nil {
		return nil, fmt.Errorf("no agent configured")
	}
	return m.agent, nil
}

// SendProactive delivers an agent-initiated message; the scheduler and
// outreach tools use it.
func (m *Manager) SendProactive(ctx context.Context, ct models.ChannelType, recipient, text string) error {
	ch, ok := m.channels[ct]
	if !ok || !ch.Configured() {
		return fmt.Errorf("channel %s not configured", ct)
	}
	if res := ch.Send(ctx, recipient, text, nil); !res.Success {
		return fmt.Errorf("send via %s: %s", ct, res.Error)
	}
	return nil
}

// Close stops any background channel connections.
func (m *Manager) Close() {
	for _, ch := range m.channels {
		if bg, ok := ch.(channels.Background); ok {
			bg.Stop()
		}
	}
}

// Status reports per-channel configuration and pool occupancy.
func (m *Manager) Status() map[string]any {
	chs := map[string]any{}
	for ct, ch := range m.channels {
		chs[string(ct)] = map[string]any{"enabled": ch.Configured()}
	}
	status := map[string]any{"channels": chs}
	if m.pool != nil {
		status["agents"] = m.pool.Names()
		status["active_instances"] = m.pool.ActiveCount()
	} else if m.agent != nil {
		status["agent"] = m.agent.Provider().Name()
	}
	return status
}
