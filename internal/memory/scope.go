package memory

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultScope is the constant scope id for the owner, or for retrieval
// helpers called with no sender_id at all.
const DefaultScope = "default"

// ScopeForSender maps a sender_id to its long-term-memory scope per
// spec.md §3/§4.3: "default" for the owner (or when unscoped), otherwise
// a 16-hex truncation of SHA-256 over the sender_id. Kept pure — never
// cached across sender_ids (spec.md §9 design note).
func ScopeForSender(ownerID, senderID string) string {
	if ownerID == "" || senderID == "" || senderID == ownerID {
		return DefaultScope
	}
	sum := sha256.Sum256([]byte(senderID))
	return hex.EncodeToString(sum[:])[:16]
}
