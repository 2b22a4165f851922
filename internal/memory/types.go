// Package memory implements the layered memory store: long_term, daily,
// and session tiers, the session index, the alias table, per-sender
// scoping, and history compaction (spec.md §4.3).
//
// Grounded on the teacher's internal/sessions/manager.go atomic-file-write
// pattern (temp file + fsync + rename), generalized from a single session
// tier to the three-tier model, plus the persisted layout in spec.md §6.
package memory

import "time"

// EntryType is the tier a MemoryEntry belongs to.
type EntryType string

const (
	TypeLongTerm EntryType = "long_term"
	TypeDaily    EntryType = "daily"
	TypeSession  EntryType = "session"
)

// Role is the speaker of a session-tier entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Entry is one memory record, in any of the three tiers.
type Entry struct {
	ID         string            `json:"id"`
	Type       EntryType         `json:"type"`
	Content    string            `json:"content"`
	Role       Role              `json:"role,omitempty"`        // session only
	SessionKey string            `json:"session_key,omitempty"` // session only
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"` // may carry header, user_id, source
}

// IndexEntry is the lightweight per-session metadata record kept in
// _index.json, keyed by the session key.
type IndexEntry struct {
	SessionKey   string    `json:"session_key"`
	Title        string    `json:"title"`
	UserTitle    string    `json:"user_title,omitempty"` // set on /rename; protects title from auto-overwrite
	Channel      string    `json:"channel"`
	Created      time.Time `json:"created"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// HistoryMessage is a single role/content pair returned by compaction and
// raw history reads — the shape the context builder and providers consume.
type HistoryMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// compactionCache is the per-session tier-2 summary cache
// (memory/sessions/<key>_compaction.json).
type compactionCache struct {
	Watermark  int    `json:"watermark"`
	Summary    string `json:"summary"`
	OlderCount int    `json:"older_count"`
}
