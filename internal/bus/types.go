// Package bus implements the in-process message bus that decouples channel
// adapters from the orchestrator: a bounded inbound FIFO, per-channel
// outbound fan-out, and a system-event fan-out.
package bus

import "time"

// Channel is the closed set of messaging channel identifiers.
type Channel string

const (
	ChannelTelegram   Channel = "telegram"
	ChannelWebSocket  Channel = "websocket"
	ChannelCLI        Channel = "cli"
	ChannelDiscord    Channel = "discord"
	ChannelSlack      Channel = "slack"
	ChannelWhatsApp   Channel = "whatsapp"
	ChannelSignal     Channel = "signal"
	ChannelMatrix     Channel = "matrix"
	ChannelTeams      Channel = "teams"
	ChannelGoogleChat Channel = "google_chat"
	ChannelWebhook    Channel = "webhook"
	ChannelSystem     Channel = "system"
)

// MediaAttachment is a local file reference attached to an inbound or
// outbound message. Adapters populate local paths only; transcoding is
// out of the orchestrator's scope.
type MediaAttachment struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
	Kind     string `json:"kind,omitempty"` // "image", "audio", "video", "file"
}

// InboundMessage is produced by a channel adapter and consumed exactly
// once by the orchestrator. It is treated as immutable after creation.
type InboundMessage struct {
	Channel   Channel
	SenderID  string // opaque external-user identifier
	ChatID    string // opaque external-conversation identifier
	Content   string
	Timestamp time.Time
	Media     []MediaAttachment
	Metadata  map[string]string
}

// SessionKey derives the base session key "{channel}:{chat_id}".
// This is the *base* key; alias resolution may redirect it to a
// different target (see internal/memory).
func (m InboundMessage) SessionKey() string {
	return string(m.Channel) + ":" + m.ChatID
}

// OutboundMessage flows from the orchestrator to an adapter via
// publish_outbound. IsStreamChunk and IsStreamEnd are mutually exclusive;
// a message with neither is a standalone, non-streamed send.
type OutboundMessage struct {
	Channel       Channel
	ChatID        string
	Content       string
	Media         []MediaAttachment
	Metadata      map[string]string
	IsStreamChunk bool
	IsStreamEnd   bool
}

// SystemEvent types.
const (
	EventThinking     = "thinking"
	EventThinkingDone = "thinking_done"
	EventToolStart    = "tool_start"
	EventToolResult   = "tool_result"
	EventError        = "error"
	EventAuditEntry   = "audit_entry"
	EventHealthUpdate = "health_update"
)

// SystemEvent carries out-of-band orchestrator activity to observers
// (UI, logs, audit trail). Never delivered to an end-user channel.
type SystemEvent struct {
	EventType string
	Data      map[string]any
	Timestamp time.Time
}

// AgentEvent types — the backend→orchestrator stream token.
const (
	AgentEventMessage      = "message"
	AgentEventThinking     = "thinking"
	AgentEventThinkingDone = "thinking_done"
	AgentEventToolUse      = "tool_use"
	AgentEventToolResult   = "tool_result"
	AgentEventCode         = "code"
	AgentEventOutput       = "output"
	AgentEventError        = "error"
	AgentEventDone         = "done"
)

// AgentEvent is one token of a backend's streamed response.
type AgentEvent struct {
	Type     string
	Content  string
	Metadata map[string]any
}
