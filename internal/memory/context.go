package memory

import (
	"context"
	"fmt"
	"strings"
)

const (
	contextMaxChars      = 8000
	contextLongTermLimit = 50
	contextDailyLimit    = 20
	contextEntryMaxChars = 500
)

// SetSemanticIndex wires an optional embedding-backed index for
// SemanticContext. Without one, SemanticContext falls back to
// ContextForAgent — matching the original's "falls back to
// get_context_for_agent() for file backend or on any error" behavior.
func (s *Store) SetSemanticIndex(si *SemanticIndex) { s.semantic = si }

// ContextForAgent assembles the long-term + daily memory block injected
// into the system prompt (spec.md §4.4). Grounded on
// original_source/.../memory/manager.py's get_context_for_agent: scoped
// long-term memories first, the most recent daily notes (across all days,
// not only today's) second, truncated to a fixed character budget.
func (s *Store) ContextForAgent(senderID string) (string, error) {
	userID := s.resolveUserID(senderID)

	var parts []string

	longTerm, err := s.GetByType(TypeLongTerm, contextLongTermLimit, userID)
	if err != nil {
		return "", fmt.Errorf("context: long-term lookup: %w", err)
	}
	if len(longTerm) > 0 {
		parts = append(parts, "## Long-term Memory\n")
		for _, e := range longTerm {
			parts = append(parts, "- "+truncatePreview(e.Content, contextEntryMaxChars))
		}
	}

	daily, err := s.GetByType(TypeDaily, contextDailyLimit, "")
	if err != nil {
		return "", fmt.Errorf("context: daily lookup: %w", err)
	}
	if len(daily) > 0 {
		parts = append(parts, "\n## Today's Notes\n")
		for _, e := range daily {
			parts = append(parts, "- "+truncatePreview(e.Content, contextEntryMaxChars))
		}
	}

	out := strings.Join(parts, "\n")
	if len(out) > contextMaxChars {
		out = out[:contextMaxChars] + "\n...(truncated)"
	}
	return out, nil
}

// SemanticContext ranks memories by similarity to query via the optional
// SemanticIndex; with none configured, or on any query error, it falls
// back to ContextForAgent exactly as the original does.
func (s *Store) SemanticContext(query, senderID string) (string, error) {
	if s.semantic == nil {
		return s.ContextForAgent(senderID)
	}

	ids, err := s.semantic.Query(context.Background(), query, 5)
	if err != nil || len(ids) == 0 {
		return s.ContextForAgent(senderID)
	}

	parts := []string{"## Relevant Memories\n"}
	found := false
	for _, id := range ids {
		e, ok := s.Get(id)
		if !ok || e.Content == "" {
			continue
		}
		found = true
		parts = append(parts, "- "+truncatePreview(e.Content, contextEntryMaxChars))
	}
	if !found {
		return s.ContextForAgent(senderID)
	}
	return strings.Join(parts, "\n"), nil
}

// resolveUserID maps a sender_id to its long-term-memory scope, deferring
// to ScopeForSender; with no owner set on the store, or an empty
// senderID, it returns DefaultScope.
func (s *Store) resolveUserID(senderID string) string {
	if senderID == "" {
		return DefaultScope
	}
	return ScopeForSender(s.ownerID, senderID)
}

// SetOwnerID configures the owner identity ContextForAgent/SemanticContext
// scope against (spec.md §3's sender-id scoping rule).
func (s *Store) SetOwnerID(ownerID string) { s.ownerID = ownerID }
