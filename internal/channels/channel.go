// Package channels provides the channel adapter contract plus reference
// behavior for streaming and non-streaming channels, and the allow-list
// gating every adapter must apply before publishing inbound messages.
package channels

import (
	"context"
	"strings"
	"time"

	"github.com/pocketpaw/pocketpaw/internal/bus"
)

// InternalChannels are excluded from outbound dispatch (no external adapter).
var InternalChannels = map[bus.Channel]bool{
	bus.ChannelCLI:    true,
	bus.ChannelSystem: true,
}

// IsInternalChannel reports whether a channel has no external adapter.
func IsInternalChannel(ch bus.Channel) bool {
	return InternalChannels[ch]
}

// ChannelAdapter is the contract every concrete messaging adapter
// implements (spec.md §6). Each adapter declares a channel identity and
// supports Start/Stop/Send; on Start it subscribes to its own outbound
// channel, on Stop it unsubscribes before releasing I/O.
type ChannelAdapter interface {
	Channel() bus.Channel
	Start(ctx context.Context, b *bus.MessageBus) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// StreamingChannel extends ChannelAdapter for channels that show
// incremental response updates instead of waiting for the full reply.
type StreamingChannel interface {
	ChannelAdapter
	// StreamEnabled reports whether this channel currently wants
	// streaming mode.
	StreamEnabled() bool
	OnStreamStart(ctx context.Context, chatID string) error
	OnChunkEvent(ctx context.Context, chatID string, fullText string) error
	OnStreamEnd(ctx context.Context, chatID string, finalText string) error
}

// ReactionChannel extends ChannelAdapter with status-reaction support
// (thinking/tool/done/error indicators attached to the triggering message).
type ReactionChannel interface {
	ChannelAdapter
	OnReactionEvent(ctx context.Context, chatID string, messageID string, status string) error
}

// BaseChannel provides the allow-list gating and inbound publish helper
// shared by every concrete adapter. Concrete adapters embed this struct.
type BaseChannel struct {
	channel   bus.Channel
	bus       *bus.MessageBus
	running   bool
	allowList []string
}

// NewBaseChannel creates a BaseChannel for the given channel identity.
func NewBaseChannel(ch bus.Channel, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{channel: ch, bus: msgBus, allowList: allowList}
}

func (c *BaseChannel) Channel() bus.Channel    { return c.channel }
func (c *BaseChannel) IsRunning() bool         { return c.running }
func (c *BaseChannel) SetRunning(running bool) { c.running = running }
func (c *BaseChannel) Bus() *bus.MessageBus    { return c.bus }
func (c *BaseChannel) HasAllowList() bool      { return len(c.allowList) > 0 }

// IsAllowed checks a sender against the configured allow-list. An empty
// allow-list permits everyone. Supports the compound "id|username" form.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart, userPart := senderID, ""
	if idx := strings.IndexByte(senderID, '|'); idx > 0 {
		idPart, userPart = senderID[:idx], senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID, allowedUser := trimmed, ""
		if idx := strings.IndexByte(trimmed, '|'); idx > 0 {
			allowedID, allowedUser = trimmed[:idx], trimmed[idx+1:]
		}

		if senderID == allowed || idPart == allowed ||
			senderID == trimmed || idPart == trimmed || idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}
	return false
}

// HandleMessage builds an InboundMessage and publishes it to the bus,
// after checking the allow-list. Non-matching events are dropped
// silently per spec.md §4.2's authorization rule.
func (c *BaseChannel) HandleMessage(ctx context.Context, senderID, chatID, content string, media []bus.MediaAttachment, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}
	msg := bus.InboundMessage{
		Channel:   c.channel,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Media:     media,
		Metadata:  metadata,
	}
	_ = c.bus.PublishInbound(ctx, msg)
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
