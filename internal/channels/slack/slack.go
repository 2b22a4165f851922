// Package slack implements the Slack adapter (spec.md §4.2) using Socket
// Mode, so no public webhook endpoint is required: a bot-token client
// for sending, and an app-level-token Socket Mode connection for
// receiving message events. Streams replies with edit-based streaming
// via chat.update.
//
// The teacher has no Slack adapter; this package is grounded on the
// github.com/slack-go/slack API shape directly — a dependency added from
// another pack member's go.mod (see DESIGN.md) — following this repo's
// Telegram/Discord adapters for the surrounding BaseChannel/EditBuffer
// wiring.
package slack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/channels"
	"github.com/pocketpaw/pocketpaw/internal/config"
)

// maxMessageSize is Slack's per-message text cap.
const maxMessageSize = 40000

// Channel connects to Slack via Socket Mode.
type Channel struct {
	*channels.BaseChannel
	config     config.SlackConfig
	api        *slack.Client
	sock       *socketmode.Client
	editBuffer *channels.EditBuffer
	cancel     context.CancelFunc
}

// New creates a Slack channel adapter from config.
func New(cfg config.SlackConfig, msgBus *bus.MessageBus) (*Channel, error) {
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	sock := socketmode.New(api)

	c := &Channel{
		BaseChannel: channels.NewBaseChannel(bus.ChannelSlack, msgBus, cfg.AllowFrom),
		config:      cfg,
		api:         api,
		sock:        sock,
	}
	c.editBuffer = channels.NewEditBuffer(c, maxMessageSize)
	return c, nil
}

// Start opens the Socket Mode connection and begins dispatching events.
func (c *Channel) Start(ctx context.Context, msgBus *bus.MessageBus) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		for evt := range c.sock.Events {
			c.handleEvent(runCtx, evt)
		}
	}()

	go func() {
		if err := c.sock.RunContext(runCtx); err != nil {
			slog.Error("slack: socket mode connection ended", "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("slack: socket mode connected")
	return nil
}

// Stop cancels the Socket Mode connection.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Channel) handleEvent(ctx context.Context, evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	c.sock.Ack(*evt.Request)

	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	inner := eventsAPIEvent.InnerEvent
	msgEvent, ok := inner.Data.(*slackevents.MessageEvent)
	if !ok || msgEvent.BotID != "" || msgEvent.SubType != "" {
		return
	}
	c.HandleMessage(ctx, msgEvent.User, msgEvent.Channel, msgEvent.Text, nil, map[string]string{
		"ts":      msgEvent.TimeStamp,
		"team_id": eventsAPIEvent.TeamID,
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
	_, ts, err := c.api.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack: post message: %w", err)
	}
	return ts, nil
}

// EditExisting implements channels.EditSender.
func (c *Channel) EditExisting(ctx context.Context, chatID, placeholderID, text string) error {
	_, _, _, err := c.api.UpdateMessageContext(ctx, chatID, placeholderID, slack.MsgOptionText(text, false))
	return err
}
