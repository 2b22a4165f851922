package memory

import (
	"context"
	"testing"
	"unicode/utf8"
)

func TestTruncateTier1ReturnsNonEmptySummary(t *testing.T) {
	older := []HistoryMessage{
		{Role: RoleUser, Content: "hello there"},
		{Role: RoleAssistant, Content: "hi, how can I help"},
	}
	summary := truncateTier1(older, 100)
	if summary == "" {
		t.Fatalf("expected a non-empty summary")
	}
}

func TestGetCompactedHistoryPrependsSummaryAsUserRole(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	const key = "telegram:123"
	for i, content := range []string{"one", "two", "three", "four", "five"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := s.Save(Entry{Type: TypeSession, SessionKey: key, Role: role, Content: content}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	history, err := s.GetCompactedHistory(context.Background(), key, 1, 10000, 200, false)
	if err != nil {
		t.Fatalf("GetCompactedHistory: %v", err)
	}
	if len(history) == 0 {
		t.Fatalf("expected compacted history to contain at least the summary")
	}
	if history[0].Role != RoleUser {
		t.Fatalf("expected the prepended compaction summary to use RoleUser, got %q", history[0].Role)
	}
}

func TestTruncateAtWordBoundaryBacksUpToWhitespace(t *testing.T) {
	content := "the quick brown fox jumps over the lazy dog"
	got := truncateAtWordBoundary(content, 12)
	if got != "the quick" {
		t.Fatalf("expected truncation to back up to the last word boundary, got %q", got)
	}
}

func TestTruncateAtWordBoundaryNoOpUnderLimit(t *testing.T) {
	content := "short"
	if got := truncateAtWordBoundary(content, 100); got != content {
		t.Fatalf("expected content under the limit to pass through unchanged, got %q", got)
	}
}

func TestTruncateAtWordBoundaryNeverSplitsMultibyteRune(t *testing.T) {
	content := "café au lait" // é is 2 bytes in UTF-8
	got := truncateAtWordBoundary(content, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string %q is not valid UTF-8", got)
	}
}
