// Package protocol defines the small JSON wire vocabulary the dashboard
// WebSocket channel (internal/gateway) speaks with browser clients.
//
// Trimmed from the teacher's much larger managed-mode/multi-tenant event
// surface (cron, team delegation, device pairing, Zalo QR login) down to
// the chat and health events this spec's single-owner, single-process
// dashboard actually needs.
package protocol

// ProtocolVersion is the dashboard WebSocket wire protocol version,
// bumped on any breaking change to Frame's shape.
const ProtocolVersion = 1

// WebSocket event names pushed from server to client, and accepted from
// client to server.
const (
	EventChat   = "chat"   // inbound user message / outbound streamed reply
	EventHealth = "health" // outbound: thinking/tool/error system events
)

// Chat event subtypes (in Frame.Subtype).
const (
	ChatEventMessage  = "message" // inbound: one full user message
	ChatEventChunk    = "chunk"   // outbound: one streamed reply chunk
	ChatEventThinking = "thinking"
	ChatEventEnd      = "end" // outbound: stream_end marker
)

// Frame is the single JSON envelope exchanged over the dashboard
// WebSocket in both directions.
type Frame struct {
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype,omitempty"`
	ChatID    string         `json:"chat_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}
