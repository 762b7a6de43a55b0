package models

import "time"

// ChannelType identifies a messaging platform.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelWebhook  ChannelType = "webhook"
	ChannelWebChat  ChannelType = "webchat"
)

// Direction indicates whether a gateway message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// GatewayMessage is the normalized message format across all channels.
//
// Metadata is a channel-specific bag (chat_id, thread_ts, reply_token, …)
// that outbound replies must echo back so the platform can thread them.
type GatewayMessage struct {
	ID         string         `json:"id"`
	Channel    ChannelType    `json:"channel"`
	Direction  Direction      `json:"direction"`
	SenderID   string         `json:"sender_id"`
	SenderName string         `json:"sender_display_name,omitempty"`
	Text       string         `json:"text"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"channel_metadata,omitempty"`
	RawPayload []byte         `json:"-"`
}

// NewInbound builds an inbound gateway message with a fresh id.
func NewInbound(channel ChannelType, senderID, text string) *GatewayMessage {
	return &GatewayMessage{
		ID:        NewMessageID(),
		Channel:   channel,
		Direction: DirectionInbound,
		SenderID:  senderID,
		Text:      text,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{},
	}
}

// MetaString returns a string metadata value, or "" when absent.
func (m *GatewayMessage) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// SendResult reports the outcome of a channel send.
type SendResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
