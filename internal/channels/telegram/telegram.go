// Package telegram adapts the Telegram Bot API webhook flow to the
// channel contract.
package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"

	"github.com/solsticehq/solstice/internal/channels"
	"github.com/solsticehq/solstice/pkg/models"
)

const maxMessageLen = 4000

// secretHeader carries the secret token Telegram echoes back on every
// webhook delivery when one was set via setWebhook.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Channel is the Telegram adapter. The bot client is built lazily on
// first send so a bad token surfaces as a send error, not a
// construction failure.
type Channel struct {
	token   string
	secret  string
	allowed map[string]bool
	log     *slog.Logger

	once    sync.Once
	bot     *bot.Bot
	initErr error
}

// New builds the adapter from its gateway_channels block. Recognized
// keys: bot_token, webhook_secret, allowed_senders (comma list), with
// GATEWAY_TELEGRAM_* environment fallbacks.
func New(cfg map[string]any) *Channel {
	return &Channel{
		token:   channels.ConfigString(cfg, "bot_token", "GATEWAY_TELEGRAM_BOT_TOKEN"),
		secret:  channels.ConfigString(cfg, "webhook_secret", "GATEWAY_TELEGRAM_WEBHOOK_SECRET"),
		allowed: channels.ConfigSet(cfg, "allowed_senders", "GATEWAY_TELEGRAM_ALLOWED_SENDERS"),
		log:     slog.Default().With("component", "telegram"),
	}
}

func (c *Channel) Type() models.ChannelType { return models.ChannelTelegram }

func (c *Channel) Configured() bool { return c.token != "" }

// Validate checks the webhook secret header. No configured secret
// accepts everything.
func (c *Channel) Validate(req *channels.Request) bool {
	if c.secret == "" {
		return true
	}
	return req != nil && req.Header.Get(secretHeader) == c.secret
}

// telegram webhook payload, only the fields we read.
type update struct {
	Message       *message `json:"message"`
	EditedMessage *message `json:"edited_message"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	From      struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

func (c *Channel) ParseInbound(req *channels.Request) *models.GatewayMessage {
	var u update
	if !req.JSON(&u) {
		return nil
	}
	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	senderID := itoa(msg.From.ID)
	if len(c.allowed) > 0 && !c.allowed[senderID] {
		c.log.Warn("dropping message from disallowed sender", "sender", senderID)
		return nil
	}

	out := models.NewInbound(models.ChannelTelegram, senderID, text)
	out.SenderName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	if msg.Date > 0 {
		out.Timestamp = time.Unix(msg.Date, 0).UTC()
	}
	out.Metadata["chat_id"] = itoa(msg.Chat.ID)
	out.Metadata["message_id"] = msg.MessageID
	out.RawPayload = req.Body
	return out
}

// Send posts a message via the Bot API. Markdown parse failures retry
// as plain text, since model output is not guaranteed to be valid
// Telegram markdown.
func (c *Channel) Send(ctx context.Context, recipientID, text string, metadata map[string]any) models.SendResult {
	b, err := c.client()
	if err != nil {
		return models.SendResult{Error: err.Error()}
	}

	chatID := recipientID
	if metadata != nil {
		if id, ok := metadata["chat_id"].(string); ok && id != "" {
			chatID = id
		}
	}
	text = channels.Truncate(text, maxMessageLen)

	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "can't parse") {
		_, err = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	}
	if err != nil {
		return models.SendResult{Error: err.Error()}
	}
	return models.SendResult{Success: true}
}

// FormatWebhookResponse returns nil: Telegram replies go out through
// Send, not the webhook response body.
func (c *Channel) FormatWebhookResponse(string, *models.GatewayMessage) any { return nil }

func (c *Channel) client() (*bot.Bot, error) {
	c.once.Do(func() {
		c.bot, c.initErr = bot.New(c.token, bot.WithSkipGetMe())
	})
	return c.bot, c.initErr
}

func itoa(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}
