// Package channels defines the adapter contract every messaging platform
// implements, plus shared helpers for config reading and truncation.
//
// Webhook channels receive platform callbacks over HTTP; background
// channels (Discord) hold a long-lived connection and deliver inbound
// messages through a handler instead.
package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/solsticehq/solstice/pkg/models"
)

// Request is an inbound webhook request with its body already read, so
// adapters can inspect it repeatedly.
type Request struct {
	Header http.Header
	Body   []byte
}

// JSON unmarshals the request body into v, reporting false on any error.
func (r *Request) JSON(v any) bool {
	if r == nil || len(r.Body) == 0 {
		return false
	}
	return json.Unmarshal(r.Body, v) == nil
}

// Handler processes one inbound message and returns the reply text.
type Handler func(msg *models.GatewayMessage) string

// Channel is the contract every platform adapter implements.
//
// ParseInbound returns nil for payloads that should be ignored
// (verification pings, echoes of our own messages, non-text events,
// disallowed senders) and must never panic on malformed input.
type Channel interface {
	Type() models.ChannelType
	Configured() bool
	Validate(req *Request) bool
	ParseInbound(req *Request) *models.GatewayMessage
	Send(ctx context.Context, recipientID, text string, metadata map[string]any) models.SendResult
	// FormatWebhookResponse builds the synchronous HTTP reply payload.
	// Channels that reply asynchronously return nil.
	FormatWebhookResponse(responseText string, inbound *models.GatewayMessage) any
}

// Background is implemented by channels that run a persistent
// connection. The gateway starts them at registration and they feed
// inbound messages through the handler.
type Background interface {
	Channel
	Start(ctx context.Context, handler Handler) error
	Stop()
}

// ConfigString reads a config key, falling back to an environment
// variable when the key is absent or empty.
func ConfigString(cfg map[string]any, key, envVar string) string {
	if cfg != nil {
		if s, ok := cfg[key].(string); ok && s != "" {
			return s
		}
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// ConfigSet parses a comma-separated config value into a membership set.
// An empty value yields an empty set, which adapters treat as "allow
// all".
func ConfigSet(cfg map[string]any, key, envVar string) map[string]bool {
	set := map[string]bool{}
	for _, part := range strings.Split(ConfigString(cfg, key, envVar), ",") {
		if part = strings.TrimSpace(part); part != "" {
			set[part] = true
		}
	}
	return set
}

// Truncate cuts text to a platform's message limit, marking the cut
// with an ellipsis.
func Truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit-3] + "..."
}
