// Package discord implements the Discord adapter (spec.md §4.2): a
// gateway-event client that publishes inbound text messages to the bus
// and streams replies back with edit-based streaming.
//
// Grounded on the teacher's internal/channels/discord/discord.go for the
// bwmarrin/discordgo session setup (intents, AddHandler, message
// chunking at Discord's 2000-char cap), trimmed of the teacher's
// pairing/DM-policy/group-history/typing-controller machinery — none of
// which has a home in this spec's single-owner scope — and rebuilt
// against the real channels.ChannelAdapter contract and
// channels.EditBuffer streaming policy.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/channels"
	"github.com/pocketpaw/pocketpaw/internal/config"
)

// maxMessageSize is Discord's per-message text cap.
const maxMessageSize = 2000

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session    *discordgo.Session
	config     config.DiscordConfig
	editBuffer *channels.EditBuffer

	mu        sync.Mutex
	botUserID string
}

// New creates a Discord channel adapter from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	c := &Channel{
		BaseChannel: channels.NewBaseChannel(bus.ChannelDiscord, msgBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}
	c.editBuffer = channels.NewEditBuffer(c, maxMessageSize)
	return c, nil
}

// Start opens the Discord gateway connection.
func (c *Channel) Start(ctx context.Context, msgBus *bus.MessageBus) error {
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, m)
	})
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("discord: fetch bot identity: %w", err)
	}
	c.mu.Lock()
	c.botUserID = user.ID
	c.mu.Unlock()

	c.SetRunning(true)
	slog.Info("discord: bot connected", "username", user.Username)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	c.mu.Lock()
	self := c.botUserID
	c.mu.Unlock()
	if m.Author.ID == self {
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		return
	}

	c.HandleMessage(ctx, m.Author.ID, m.ChannelID, content, nil, map[string]string{
		"message_id": m.ID,
		"guild_id":   m.GuildID,
	})
}

// Send routes an outbound message through the edit-based streaming
// policy, or sends a standalone message directly.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	switch {
	case msg.IsStreamChunk:
		return c.editBuffer.OnChunk(ctx, msg.ChatID, msg.Content)
	case msg.IsStreamEnd:
		return c.editBuffer.OnEnd(ctx, msg.ChatID, "")
	default:
		_, err := c.SendNew(ctx, msg.ChatID, msg.Content)
		return err
	}
}

// SendNew implements channels.EditSender.
func (c *Channel) SendNew(ctx context.Context, chatID, text string) (string, error) {
	head, _ := splitAtCap(text, maxMessageSize)
	sent, err := c.session.ChannelMessageSend(chatID, head)
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	return sent.ID, nil
}

// EditExisting implements channels.EditSender. Text beyond Discord's
// 2000-char cap is cut off here, not sent; splitting overflow into
// follow-up messages is done by channels.EditBuffer before it calls this.
func (c *Channel) EditExisting(ctx context.Context, chatID, placeholderID, text string) error {
	head, _ := splitAtCap(text, maxMessageSize)
	_, err := c.session.ChannelMessageEdit(chatID, placeholderID, head)
	return err
}

func splitAtCap(text string, cap int) (head, rest string) {
	if len(text) <= cap {
		return text, ""
	}
	cut := cap
	if idx := strings.LastIndexByte(text[:cap], '\n'); idx > cap/2 {
		cut = idx + 1
	}
	return text[:cut], text[cut:]
}
