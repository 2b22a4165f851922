package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode/utf8"
)

// GetCompactedHistory implements the five-step history-compaction
// algorithm: split older/recent at recentWindow; summarize the older
// portion (LLM tier-2 with watermark reuse, or per-message truncation
// tier-1); prepend the summary to the recent window; then drop-from-front
// and finally truncate-last-message if the result still exceeds
// charBudget.
func (s *Store) GetCompactedHistory(ctx context.Context, sessionKey string, recentWindow, charBudget, summaryChars int, llmSummarize bool) ([]HistoryMessage, error) {
	entries, err := s.GetSession(sessionKey)
	if err != nil {
		return nil, err
	}
	all := make([]HistoryMessage, 0, len(entries))
	for _, e := range entries {
		all = append(all, HistoryMessage{Role: e.Role, Content: e.Content})
	}
	if len(all) == 0 {
		return nil, nil
	}

	// Step 1: split older / recent.
	splitAt := len(all) - recentWindow
	if splitAt < 0 {
		splitAt = 0
	}
	older := all[:splitAt]
	recent := all[splitAt:]

	if len(older) == 0 {
		return applyCharBudget(recent, charBudget), nil
	}

	var summary string
	if llmSummarize && s.summarizer != nil {
		summary, err = s.summarizeOlder(ctx, sessionKey, older)
		if err != nil {
			// Falls back to tier-1 rather than failing the turn —
			// a degraded history beats no reply at all.
			summary = truncateTier1(older, summaryChars)
		}
	} else {
		summary = truncateTier1(older, summaryChars)
	}

	// Step 4: prepend.
	out := make([]HistoryMessage, 0, len(recent)+1)
	out = append(out, HistoryMessage{
		Role:    RoleUser,
		Content: "[Earlier conversation]\n" + summary,
	})
	out = append(out, recent...)

	// Step 5: budget enforcement.
	return applyCharBudget(out, charBudget), nil
}

// summarizeLock serializes compaction for a single session so two
// concurrent turns never race on the watermark cache file.
func (s *Store) summarizeLock(key string) *sync.Mutex {
	v, _ := s.summarizeMu.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) summarizeOlder(ctx context.Context, key string, older []HistoryMessage) (string, error) {
	lock := s.summarizeLock(key)
	lock.Lock()
	defer lock.Unlock()

	cache, _ := s.loadCompactionCache(key)

	// Watermark reuse: only the messages added since the cached
	// watermark need summarizing; the cached summary covers the rest.
	newCount := len(older) - cache.Watermark
	if newCount <= 0 {
		return cache.Summary, nil
	}

	var toSummarize []HistoryMessage
	if cache.Summary != "" {
		toSummarize = older[cache.Watermark:]
	} else {
		toSummarize = older
	}

	var b strings.Builder
	if cache.Summary != "" {
		b.WriteString("Existing summary:\n")
		b.WriteString(cache.Summary)
		b.WriteString("\n\nNew messages to fold in:\n")
	} else {
		b.WriteString("Summarize this conversation history concisely:\n")
	}
	for _, m := range toSummarize {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	summary, err := s.summarizer.Summarize(ctx, b.String())
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)

	if err := s.saveCompactionCache(key, compactionCache{
		Watermark:  len(older),
		Summary:    summary,
		OlderCount: len(older),
	}); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Store) loadCompactionCache(key string) (compactionCache, error) {
	data, err := os.ReadFile(s.compactionCachePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return compactionCache{}, nil
		}
		return compactionCache{}, err
	}
	var c compactionCache
	if err := json.Unmarshal(data, &c); err != nil {
		return compactionCache{}, err
	}
	return c, nil
}

func (s *Store) saveCompactionCache(key string, c compactionCache) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.compactionCachePath(key), data, 0o600)
}

// truncateTier1 is the no-LLM fallback: truncate each older message to
// summaryChars and join them, newest first is not applied here — order
// is preserved so the summary still reads chronologically.
func truncateTier1(older []HistoryMessage, summaryChars int) string {
	var b strings.Builder
	for i, m := range older {
		if i > 0 {
			b.WriteString("\n")
		}
		content := m.Content
		if len(content) > summaryChars {
			content = truncateAtWordBoundary(content, summaryChars) + "…"
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, content)
	}
	return b.String()
}

// truncateAtWordBoundary cuts content to at most n bytes, backing up to the
// last whitespace before the cut so a word (and any multibyte rune) is never
// split mid-sequence.
func truncateAtWordBoundary(content string, n int) string {
	if len(content) <= n {
		return content
	}
	cut := content[:n]
	if i := strings.LastIndexAny(cut, " \t\n"); i > 0 {
		cut = cut[:i]
	} else {
		for n > 0 && !utf8.RuneStart(content[n]) {
			n--
		}
		cut = content[:n]
	}
	return cut
}

func applyCharBudget(msgs []HistoryMessage, charBudget int) []HistoryMessage {
	total := totalChars(msgs)
	out := msgs
	for total > charBudget && len(out) > 1 {
		total -= len(out[0].Content)
		out = out[1:]
	}
	if total > charBudget && len(out) == 1 {
		overflow := total - charBudget
		last := out[0]
		if overflow < len(last.Content) {
			last.Content = last.Content[:len(last.Content)-overflow]
			out = []HistoryMessage{last}
		}
	}
	return out
}

func totalChars(msgs []HistoryMessage) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return n
}
