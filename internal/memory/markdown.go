package memory

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Long-term and daily tiers persist as Markdown: one `##` header per
// entry, an HTML-comment id marker so entries stay addressable by id
// without leaving the human-readable format spec.md §6 specifies, and an
// optional trailing "#tag #tag" line.

func mdEntryID(e Entry) string { return e.ID }

// renderMarkdownEntry formats one entry as a Markdown block.
func renderMarkdownEntry(e Entry) string {
	var b strings.Builder
	header := e.Metadata["header"]
	if header == "" {
		header = firstLine(e.Content)
	}
	fmt.Fprintf(&b, "## %s\n", header)
	fmt.Fprintf(&b, "<!-- id:%s created:%s -->\n", e.ID, e.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString(strings.TrimRight(e.Content, "\n"))
	b.WriteString("\n")
	if len(e.Tags) > 0 {
		for _, t := range e.Tags {
			b.WriteString("#")
			b.WriteString(t)
			b.WriteString(" ")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// parseMarkdownEntries parses a MEMORY.md/daily file back into entries.
// Malformed or missing id markers are tolerated (id left empty; such
// entries are addressable only via search/get_by_type, not Get(id)).
func parseMarkdownEntries(data []byte, typ EntryType, source string) []Entry {
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	blocks := splitOnHeaders(text)
	entries := make([]Entry, 0, len(blocks))
	for _, blk := range blocks {
		e := parseOneBlock(blk, typ, source)
		entries = append(entries, e)
	}
	return entries
}

func splitOnHeaders(text string) []string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var cur []string
	for _, ln := range lines {
		if strings.HasPrefix(ln, "## ") && len(cur) > 0 {
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = nil
		}
		cur = append(cur, ln)
	}
	if len(cur) > 0 {
		blocks = append(blocks, strings.Join(cur, "\n"))
	}
	return blocks
}

func parseOneBlock(block string, typ EntryType, source string) Entry {
	lines := strings.Split(block, "\n")
	e := Entry{Type: typ, Metadata: map[string]string{"source": source}}
	if len(lines) == 0 {
		return e
	}

	header := strings.TrimPrefix(lines[0], "## ")
	e.Metadata["header"] = strings.TrimSpace(header)

	bodyStart := 1
	if len(lines) > 1 && strings.HasPrefix(lines[1], "<!-- id:") {
		id, created := parseIDComment(lines[1])
		e.ID = id
		e.CreatedAt = created
		e.UpdatedAt = created
		bodyStart = 2
	}

	body := lines[bodyStart:]
	var tags []string
	contentLines := make([]string, 0, len(body))
	for _, ln := range body {
		trimmed := strings.TrimSpace(ln)
		if trimmed != "" && isTagLine(trimmed) {
			for _, tok := range strings.Fields(trimmed) {
				tags = append(tags, strings.TrimPrefix(tok, "#"))
			}
			continue
		}
		contentLines = append(contentLines, ln)
	}
	e.Content = strings.TrimSpace(strings.Join(contentLines, "\n"))
	e.Tags = tags
	return e
}

func isTagLine(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if !strings.HasPrefix(f, "#") {
			return false
		}
	}
	return true
}

func parseIDComment(line string) (id string, created time.Time) {
	line = strings.TrimPrefix(line, "<!--")
	line = strings.TrimSuffix(strings.TrimSpace(line), "-->")
	for _, part := range strings.Fields(line) {
		if v, ok := strings.CutPrefix(part, "id:"); ok {
			id = v
		}
		if v, ok := strings.CutPrefix(part, "created:"); ok {
			created, _ = time.Parse(time.RFC3339, v)
		}
	}
	return id, created
}

func readMarkdownFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
