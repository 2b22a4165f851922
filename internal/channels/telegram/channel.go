// Package telegram implements the Telegram adapter (spec.md §4.2): a
// long-polling Bot API client that publishes inbound text messages to
// the bus and streams replies back with edit-based streaming.
//
// Grounded on the teacher's internal/channels/telegram/channel.go for the
// mymmrac/telego long-polling setup (UpdatesViaLongPolling, bot option
// wiring), trimmed of the teacher's pairing/group-policy/forum-topic/
// status-reaction machinery, none of which this spec's single-owner
// scope has a home for, and rebuilt against the real
// channels.ChannelAdapter contract and channels.EditBuffer streaming
// policy (spec.md §4.2: "Telegram ... streaming-capable channels ...
// send a placeholder message on the first chunk, then edit it").
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/channels"
	"github.com/pocketpaw/pocketpaw/internal/config"
)

// maxMessageSize is Telegram's per-message text cap.
const maxMessageSize = 4096

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	editBuffer *channels.EditBuffer

	pollCancel context.CancelFunc
	pollDone   chan struct{}

	mu        sync.Mutex
	chatIDFor map[string]int64 // chat_id string -> numeric Telegram chat id
}

// New creates a Telegram channel adapter from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*Channel, error) {
	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("telegram: invalid proxy url %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	c := &Channel{
		BaseChannel: channels.NewBaseChannel(bus.ChannelTelegram, msgBus, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
		chatIDFor:   make(map[string]int64),
	}
	c.editBuffer = channels.NewEditBuffer(c, maxMessageSize)
	return c, nil
}

// Start begins long-polling for Telegram updates.
func (c *Channel) Start(ctx context.Context, msgBus *bus.MessageBus) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram: bot connected")

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: polling goroutine did not exit in time")
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.Text == "" {
		return
	}
	chatIDStr := strconv.FormatInt(msg.Chat.ID, 10)
	senderID := chatIDStr
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
	}

	c.mu.Lock()
	c.chatIDFor[chatIDStr] = msg.Chat.ID
	c.mu.Unlock()

	c.HandleMessage(ctx, senderID, chatIDStr, msg.Text, nil, nil)
}

// Send routes an outbound message through the edit-based streaming
// policy (placeholder-then-edit chunks, final flush on stream end) or,
// for a standalone non-streamed send, directly to the bot API.
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

// SendNew implements channels.EditSender: sends a new message, returning
// its Telegram message id as the placeholder handle.
func (c *Channel) SendNew(ctx context.Context, chatID, text string) (string, error) {
	id, err := c.chatID(chatID)
	if err != nil {
		return "", err
	}
	if text == "" {
		text = "…"
	}
	sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(id), text))
	if err != nil {
		return "", fmt.Errorf("telegram: send message: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// EditExisting implements channels.EditSender.
func (c *Channel) EditExisting(ctx context.Context, chatID, placeholderID, text string) error {
	id, err := c.chatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(placeholderID)
	if err != nil {
		return fmt.Errorf("telegram: invalid placeholder id %q: %w", placeholderID, err)
	}
	if text == "" {
		return nil
	}
	_, err = c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(id),
		MessageID: msgID,
		Text:      text,
	})
	return err
}

func (c *Channel) chatID(chatIDStr string) (int64, error) {
	c.mu.Lock()
	id, ok := c.chatIDFor[chatIDStr]
	c.mu.Unlock()
	if ok {
		return id, nil
	}
	return strconv.ParseInt(chatIDStr, 10, 64)
}
