package memory

import (
	"context"
	"regexp"
	"strings"
)

// Summarizer is the minimal backend-router contract AutoLearn needs. It
// lives here (not in internal/providers) so memory never imports the
// backend package — callers inject it after both packages are wired up in
// cmd/gateway.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// SetSummarizer wires an optional LLM-backed fact extractor. Without one,
// AutoLearn falls back to pattern-based extraction only.
func (s *Store) SetSummarizer(sum Summarizer) { s.summarizer = sum }

var autoLearnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is ([a-z][\w .'-]{1,40})`),
	regexp.MustCompile(`(?i)\bi(?:'m| am) ([a-z][\w .'-]{1,40}) years old\b`),
	regexp.MustCompile(`(?i)\bi (?:live in|work at|work for) ([a-z][\w .'-]{1,60})`),
	regexp.MustCompile(`(?i)\bi (?:prefer|like|love|hate|dislike) ([a-z][\w .'-]{1,60})`),
	regexp.MustCompile(`(?i)\bremember that (.{4,120})`),
}

// AutoLearn scans user-authored messages for durable facts and persists
// each as a long_term entry scoped to userID. With a Summarizer configured
// it is used as the primary extractor (one call over the whole batch,
// tolerant of failure); the pattern-based pass always runs afterward as a
// deterministic backstop so learning never depends solely on an LLM call
// succeeding.
func (s *Store) AutoLearn(ctx context.Context, messages []HistoryMessage, userID string) (int, error) {
	var facts []string

	if s.summarizer != nil {
		var b strings.Builder
		for _, m := range messages {
			if m.Role != RoleUser {
				continue
			}
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		if b.Len() > 0 {
			if out, err := s.summarizer.Summarize(ctx, b.String()); err == nil {
				for _, line := range strings.Split(out, "\n") {
					line = strings.TrimSpace(strings.TrimPrefix(line, "-"))
					if line != "" {
						facts = append(facts, line)
					}
				}
			}
		}
	}

	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		for _, re := range autoLearnPatterns {
			if match := re.FindStringSubmatch(m.Content); match != nil {
				facts = append(facts, strings.TrimSpace(match[0]))
			}
		}
	}

	facts = dedupeStrings(facts)
	count := 0
	for _, f := range facts {
		_, err := s.Save(Entry{
			Type:    TypeLongTerm,
			Content: f,
			Metadata: map[string]string{
				"user_id": userID,
				"header":  truncatePreview(f, 40),
				"source":  "auto_learn",
			},
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
