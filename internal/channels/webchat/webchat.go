// Package webchat is the embeddable website widget channel: POST a
// message, get the reply in the same HTTP response.
package webchat

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/solsticehq/solstice/internal/channels"
	"github.com/solsticehq/solstice/pkg/models"
)

// Channel is the synchronous web chat adapter.
type Channel struct {
	apiKey         string
	allowedOrigins map[string]bool
}

// New builds the adapter. Recognized keys: api_key, allowed_origins
// (comma list), with GATEWAY_WEBCHAT_* environment fallbacks.
func New(cfg map[string]any) *Channel {
	return &Channel{
		apiKey:         channels.ConfigString(cfg, "api_key", "GATEWAY_WEBCHAT_API_KEY"),
		allowedOrigins: channels.ConfigSet(cfg, "allowed_origins", "GATEWAY_WEBCHAT_ALLOWED_ORIGINS"),
	}
}

func (c *Channel) Type() models.ChannelType { return models.ChannelWebChat }

// Configured is always true: an open widget needs no credentials.
func (c *Channel) Configured() bool { return true }

// Validate checks the bearer key (when set) and the Origin allow-list
// (when set). Requests without an Origin header pass the origin check,
// matching non-browser clients.
func (c *Channel) Validate(req *channels.Request) bool {
	if req == nil {
		return c.apiKey == ""
	}
	if c.apiKey != "" {
		auth := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(c.apiKey)) != 1 {
			return false
		}
	}
	if len(c.allowedOrigins) > 0 {
		if origin := req.Header.Get("Origin"); origin != "" && !c.allowedOrigins[origin] {
			return false
		}
	}
	return true
}

type inboundPayload struct {
	Message   string `json:"message"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	PageURL   string `json:"page_url"`
}

func (c *Channel) ParseInbound(req *channels.Request) *models.GatewayMessage {
	var p inboundPayload
	if !req.JSON(&p) {
		return nil
	}
	text := strings.TrimSpace(p.Message)
	if text == "" {
		text = strings.TrimSpace(p.Text)
	}
	if text == "" {
		return nil
	}
	session := p.SessionID
	if session == "" {
		session = p.UserID
	}
	if session == "" {
		session = "anonymous"
	}

	out := models.NewInbound(models.ChannelWebChat, session, text)
	out.SenderName = p.Name
	out.Metadata["session_id"] = session
	out.Metadata["page_url"] = p.PageURL
	out.Metadata["user_agent"] = req.Header.Get("User-Agent")
	out.RawPayload = req.Body
	return out
}

// Send succeeds trivially: web chat replies travel in the webhook
// response, there is no out-of-band path to push to.
func (c *Channel) Send(context.Context, string, string, map[string]any) models.SendResult {
	return models.SendResult{Success: true}
}

// FormatWebhookResponse carries the reply back to the widget.
func (c *Channel) FormatWebhookResponse(responseText string, inbound *models.GatewayMessage) any {
	session := ""
	if inbound != nil {
		session = inbound.SenderID
	}
	return map[string]any{
		"response":   responseText,
		"session_id": session,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
}
