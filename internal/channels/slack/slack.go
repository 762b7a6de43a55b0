// Package slack adapts the Slack Events API to the channel contract.
package slack

import (
	"context"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"github.com/solsticehq/solstice/internal/channels"
	"github.com/solsticehq/solstice/pkg/models"
)

// Channel is the Slack adapter: Events API webhooks in, Web API
// chat.postMessage out.
type Channel struct {
	botToken      string
	signingSecret string
	client        *slack.Client
	log           *slog.Logger
}

// New builds the adapter. Recognized keys: bot_token, signing_secret,
// with GATEWAY_SLACK_* environment fallbacks.
func New(cfg map[string]any) *Channel {
	token := channels.ConfigString(cfg, "bot_token", "GATEWAY_SLACK_BOT_TOKEN")
	return &Channel{
		botToken:      token,
		signingSecret: channels.ConfigString(cfg, "signing_secret", "GATEWAY_SLACK_SIGNING_SECRET"),
		client:        slack.New(token),
		log:           slog.Default().With("component", "slack"),
	}
}

func (c *Channel) Type() models.ChannelType { return models.ChannelSlack }

func (c *Channel) Configured() bool { return c.botToken != "" }

// Validate checks the v0 request signature. The verifier also rejects
// stale timestamps, closing the replay window.
func (c *Channel) Validate(req *channels.Request) bool {
	if c.signingSecret == "" {
		return true
	}
	if req == nil {
		return false
	}
	verifier, err := slack.NewSecretsVerifier(req.Header, c.signingSecret)
	if err != nil {
		return false
	}
	if _, err := verifier.Write(req.Body); err != nil {
		return false
	}
	return verifier.Ensure() == nil
}

// Events API callback envelope, only the fields we read.
type eventCallback struct {
	Event struct {
		Type     string `json:"type"`
		Subtype  string `json:"subtype"`
		BotID    string `json:"bot_id"`
		Text     string `json:"text"`
		User     string `json:"user"`
		Channel  string `json:"channel"`
		ThreadTS string `json:"thread_ts"`
		TS       string `json:"ts"`
	} `json:"event"`
}

// ParseInbound accepts plain user messages and ignores everything else:
// bot echoes, edits and joins (subtypes), and non-message events such
// as url_verification.
func (c *Channel) ParseInbound(req *channels.Request) *models.GatewayMessage {
	var cb eventCallback
	if !req.JSON(&cb) {
		return nil
	}
	ev := cb.Event
	if ev.Type != "message" || ev.Subtype != "" || ev.BotID != "" {
		return nil
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" || ev.User == "" {
		return nil
	}

	out := models.NewInbound(models.ChannelSlack, ev.User, text)
	out.Metadata["channel_id"] = ev.Channel
	out.Metadata["ts"] = ev.TS
	if ev.ThreadTS != "" {
		out.Metadata["thread_ts"] = ev.ThreadTS
	}
	out.RawPayload = req.Body
	return out
}

// Send posts to a channel or DM, threading the reply when the inbound
// message carried a thread_ts.
func (c *Channel) Send(ctx context.Context, recipientID, text string, metadata map[string]any) models.SendResult {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if metadata != nil {
		if threadTS, ok := metadata["thread_ts"].(string); ok && threadTS != "" {
			options = append(options, slack.MsgOptionTS(threadTS))
		}
	}
	if _, _, err := c.client.PostMessageContext(ctx, recipientID, options...); err != nil {
		return models.SendResult{Error: err.Error()}
	}
	return models.SendResult{Success: true}
}

// FormatWebhookResponse returns nil: Slack expects a bare 200 on event
// delivery and the reply goes out through Send.
func (c *Channel) FormatWebhookResponse(string, *models.GatewayMessage) any { return nil }
