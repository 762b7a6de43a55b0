// Package discord runs a persistent Discord gateway connection and
// bridges it to the channel contract.
package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/solsticehq/solstice/internal/channels"
	"github.com/solsticehq/solstice/pkg/models"
)

const maxMessageLen = 1900

// session is the slice of discordgo.Session the adapter uses; tests
// substitute a fake.
type session interface {
	AddHandler(handler any) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Channel is the Discord adapter. Unlike webhook channels it holds a
// long-lived WebSocket connection: the gateway calls Start at
// registration and inbound messages arrive through the handler.
type Channel struct {
	token        string
	channelIDs   map[string]bool
	allowedUsers map[string]bool
	log          *slog.Logger

	mu      sync.Mutex
	session session
	handler channels.Handler

	// newSession is swapped in tests.
	newSession func(token string) (session, error)
}

// New builds the adapter. Recognized keys: bot_token, channel_ids,
// allowed_users (comma lists), with GATEWAY_DISCORD_* environment
// fallbacks.
func New(cfg map[string]any) *Channel {
	return &Channel{
		token:        channels.ConfigString(cfg, "bot_token", "GATEWAY_DISCORD_BOT_TOKEN"),
		channelIDs:   channels.ConfigSet(cfg, "channel_ids", "GATEWAY_DISCORD_CHANNEL_IDS"),
		allowedUsers: channels.ConfigSet(cfg, "allowed_users", "GATEWAY_DISCORD_ALLOWED_USERS"),
		log:          slog.Default().With("component", "discord"),
		newSession: func(token string) (session, error) {
			dg, err := discordgo.New("Bot " + token)
			if err != nil {
				return nil, err
			}
			dg.Identify.Intents = discordgo.IntentsGuildMessages |
				discordgo.IntentsDirectMessages |
				discordgo.IntentMessageContent
			return dg, nil
		},
	}
}

func (c *Channel) Type() models.ChannelType { return models.ChannelDiscord }

func (c *Channel) Configured() bool { return c.token != "" }

// Start opens the gateway connection and begins delivering messages to
// the handler.
func (c *Channel) Start(ctx context.Context, handler channels.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}

	dg, err := c.newSession(c.token)
	if err != nil {
		return err
	}
	c.handler = handler
	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessageCreate(s, m)
	})
	if err := dg.Open(); err != nil {
		return err
	}
	c.session = dg
	c.log.Info("discord bot connected")
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
}

func (c *Channel) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	msg := c.inboundFromEvent(m)
	if msg == nil {
		return
	}
	reply := c.handler(msg)
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, channels.Truncate(reply, maxMessageLen)); err != nil {
		c.log.Error("failed to send reply", "channel", m.ChannelID, "error", err)
	}
}

// inboundFromEvent filters and normalizes a message-create event. Bots,
// unlisted channels, disallowed users, and empty text all return nil.
func (c *Channel) inboundFromEvent(m *discordgo.MessageCreate) *models.GatewayMessage {
	if m.Author == nil || m.Author.Bot {
		return nil
	}
	if len(c.channelIDs) > 0 && !c.channelIDs[m.ChannelID] {
		return nil
	}
	if len(c.allowedUsers) > 0 && !c.allowedUsers[m.Author.ID] {
		return nil
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return nil
	}
	msg := models.NewInbound(models.ChannelDiscord, m.Author.ID, text)
	msg.SenderName = m.Author.Username
	msg.Metadata["channel_id"] = m.ChannelID
	return msg
}

// Validate always accepts: Discord inbound traffic arrives over the bot
// connection, not webhooks.
func (c *Channel) Validate(*channels.Request) bool { return true }

// ParseInbound returns nil: inbound is handled by the bot connection.
func (c *Channel) ParseInbound(*channels.Request) *models.GatewayMessage { return nil }

// Send posts to a channel by id over the running bot connection.
func (c *Channel) Send(_ context.Context, recipientID, text string, _ map[string]any) models.SendResult {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return models.SendResult{Error: "discord bot not running"}
	}
	if _, err := s.ChannelMessageSend(recipientID, channels.Truncate(text, maxMessageLen)); err != nil {
		return models.SendResult{Error: err.Error()}
	}
	return models.SendResult{Success: true}
}

func (c *Channel) FormatWebhookResponse(string, *models.GatewayMessage) any { return nil }
