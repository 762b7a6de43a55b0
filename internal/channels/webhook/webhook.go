// Package webhook is the catch-all channel: any system that can POST
// JSON can talk to the agent through it.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/solsticehq/solstice/internal/channels"
	"github.com/solsticehq/solstice/pkg/models"
)

const sendTimeout = 10 * time.Second

// Channel accepts arbitrary JSON payloads. The text and sender fields
// are configurable dot-paths so existing systems can point their
// webhooks here without reshaping their payloads.
type Channel struct {
	secret      string
	callbackURL string
	textField   string
	senderField string
	client      *http.Client
	log         *slog.Logger
}

// New builds the adapter. Recognized keys: secret, callback_url,
// text_field (default "text"), sender_field (default "sender"), with
// GATEWAY_WEBHOOK_* environment fallbacks.
func New(cfg map[string]any) *Channel {
	textField := channels.ConfigString(cfg, "text_field", "")
	if textField == "" {
		textField = "text"
	}
	senderField := channels.ConfigString(cfg, "sender_field", "")
	if senderField == "" {
		senderField = "sender"
	}
	return &Channel{
		secret:      channels.ConfigString(cfg, "secret", "GATEWAY_WEBHOOK_SECRET"),
		callbackURL: channels.ConfigString(cfg, "callback_url", "GATEWAY_WEBHOOK_CALLBACK_URL"),
		textField:   textField,
		senderField: senderField,
		client:      &http.Client{Timeout: sendTimeout},
		log:         slog.Default().With("component", "webhook"),
	}
}

func (c *Channel) Type() models.ChannelType { return models.ChannelWebhook }

// Configured is always true: the generic webhook needs no credentials.
func (c *Channel) Configured() bool { return true }

// Validate checks an HMAC-SHA256 hex signature of the raw body against
// the X-Webhook-Signature header. No configured secret accepts all.
func (c *Channel) Validate(req *channels.Request) bool {
	if c.secret == "" {
		return true
	}
	if req == nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(req.Body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(req.Header.Get("X-Webhook-Signature")))
}

func (c *Channel) ParseInbound(req *channels.Request) *models.GatewayMessage {
	var data map[string]any
	if !req.JSON(&data) {
		return nil
	}
	text := extract(data, c.textField)
	if text == "" {
		return nil
	}
	sender := extract(data, c.senderField)
	if sender == "" {
		sender = "webhook"
	}

	out := models.NewInbound(models.ChannelWebhook, sender, text)
	out.Metadata["source"] = req.Header.Get("User-Agent")
	out.RawPayload = req.Body
	return out
}

// extract walks a dot-path ("message.text") through nested JSON objects.
func extract(data map[string]any, path string) string {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = obj[part]
	}
	switch v := current.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Send posts the reply to the configured callback URL.
func (c *Channel) Send(ctx context.Context, recipientID, text string, metadata map[string]any) models.SendResult {
	if c.callbackURL == "" {
		return models.SendResult{Error: "no callback URL configured"}
	}
	payload := map[string]any{"text": text, "recipient": recipientID}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.SendResult{Error: err.Error()}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.callbackURL, bytes.NewReader(body))
	if err != nil {
		return models.SendResult{Error: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.SendResult{Error: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 202 {
		return models.SendResult{Error: fmt.Sprintf("callback returned status %d", resp.StatusCode)}
	}
	return models.SendResult{Success: true}
}

// FormatWebhookResponse echoes the reply inline so simple callers can
// work request/response without a callback URL.
func (c *Channel) FormatWebhookResponse(responseText string, _ *models.GatewayMessage) any {
	return map[string]any{"response": responseText}
}
