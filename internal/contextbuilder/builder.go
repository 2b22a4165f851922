// Package contextbuilder assembles the per-turn system prompt from the
// static identity sources, memory context, sender identity, and channel
// format hint (spec.md §4.4).
//
// Grounded on original_source/src/pocketclaw/bootstrap/context_builder.py's
// AgentContextBuilder.build_system_prompt, read in full: the same five
// ordered sections (identity, memory, sender identity, channel hint,
// session key) are assembled here, in Go, against this repo's
// internal/memory.Store instead of the original's MemoryManager. The four
// static identity files are loaded once and cached, then hot-reloaded via
// github.com/fsnotify/fsnotify (a teacher dependency) so an operator
// editing identity.md does not require a process restart.
package contextbuilder

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/pocketpaw/pocketpaw/internal/bus"
)

// ChannelFormatHints mirrors the original's CHANNEL_FORMAT_HINTS table:
// per-channel guidance for how the backend should format its reply
// (spec.md §4.4 "channel formatting hint").
var ChannelFormatHints = map[bus.Channel]string{
	bus.ChannelTelegram: "Use Telegram-flavored Markdown (*bold*, _italic_, `code`). Keep messages concise; long replies are split automatically.",
	bus.ChannelDiscord:   "Use Discord-flavored Markdown (**bold**, *italic*, `code`, ```code blocks```).",
	bus.ChannelSlack:     "Use Slack mrkdwn (*bold*, _italic_, `code`); avoid standard Markdown headers.",
	bus.ChannelWhatsApp:  "Plain text only, no Markdown. WhatsApp renders *bold* and _italic_ but nothing else.",
	bus.ChannelWebSocket: "Standard Markdown is fine; the dashboard renders it directly.",
}

// IdentitySources names the four static text files the builder loads, in
// the order they're concatenated.
type IdentitySources struct {
	IdentityFile    string
	SoulFile        string
	StyleFile       string
	UserProfileFile string
}

// MemoryContext is the minimal memory-store contract the builder needs:
// assembled long-term + recent-daily context for a sender, and an
// optional semantic variant when a user query is available for
// similarity search. Lives here so contextbuilder never imports the
// concrete internal/memory.Store type directly, keeping it swappable in
// tests.
type MemoryContext interface {
	ContextForAgent(senderID string) (string, error)
	SemanticContext(query, senderID string) (string, error)
}

// Builder assembles system prompts (spec.md §4.4).
type Builder struct {
	sources IdentitySources
	memory  MemoryContext
	ownerID string

	mu     sync.RWMutex
	cached map[string]string // file path -> contents

	watcher *fsnotify.Watcher
}

// New creates a Builder and performs the initial load of all configured
// identity files. A missing file is treated as empty content, not an
// error — an operator may not have written soul.md yet.
func New(sources IdentitySources, memory MemoryContext, ownerID string) (*Builder, error) {
	b := &Builder{sources: sources, memory: memory, ownerID: ownerID, cached: map[string]string{}}
	for _, p := range b.filePaths() {
		b.reload(p)
	}
	return b, nil
}

func (b *Builder) filePaths() []string {
	var out []string
	for _, p := range []string{b.sources.IdentityFile, b.sources.SoulFile, b.sources.StyleFile, b.sources.UserProfileFile} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (b *Builder) reload(path string) {
	data, err := os.ReadFile(path)
	content := ""
	if err == nil {
		content = string(data)
	}
	b.mu.Lock()
	b.cached[path] = content
	b.mu.Unlock()
}

func (b *Builder) get(path string) string {
	if path == "" {
		return ""
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cached[path]
}

// WatchForChanges starts an fsnotify watcher over every configured
// identity file and reloads the in-memory cache on write events. Callers
// stop it by calling the returned stop func, which ends the watcher
// goroutine and closes the watcher.
func (b *Builder) WatchForChanges() (stop func(), err error) {
	paths := b.filePaths()
	if len(paths) == 0 {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("contextbuilder: create watcher: %w", err)
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			// A file that doesn't exist yet can't be watched; that's fine,
			// it just won't hot-reload until the operator creates it and
			// restarts. Not fatal to the rest.
			continue
		}
	}
	b.watcher = w

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					b.reload(ev.Name)
				}
			case <-w.Errors:
				// Watcher errors are non-fatal; the cache simply stops
				// refreshing for that file until the next successful event.
			case <-done:
				return
			}
		}
	}()

	return func() { close(done); w.Close() }, nil
}

// identityBlock concatenates the four static sources, skipping any that
// are empty, matching DefaultBootstrapProvider.get_context().to_system_prompt().
func (b *Builder) identityBlock() string {
	var parts []string
	for _, p := range []string{b.sources.IdentityFile, b.sources.SoulFile, b.sources.StyleFile, b.sources.UserProfileFile} {
		if c := strings.TrimSpace(b.get(p)); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}

// BuildOptions configures one call to Build.
type BuildOptions struct {
	IncludeMemory bool
	UserQuery     string // non-empty enables semantic memory lookup
	Channel       bus.Channel
	SenderID      string
	SessionKey    string
}

// Build assembles the full system prompt for one turn, in the same
// five-section order as the original's build_system_prompt.
func (b *Builder) Build(opts BuildOptions) string {
	var parts []string

	if id := b.identityBlock(); id != "" {
		parts = append(parts, id)
	}

	if opts.IncludeMemory && b.memory != nil {
		var memCtx string
		var err error
		if opts.UserQuery != "" {
			memCtx, err = b.memory.SemanticContext(opts.UserQuery, opts.SenderID)
		} else {
			memCtx, err = b.memory.ContextForAgent(opts.SenderID)
		}
		if err == nil && strings.TrimSpace(memCtx) != "" {
			parts = append(parts, "# Memory Context (already loaded — use this directly, "+
				"do NOT call recall unless you need something not listed here)\n"+memCtx)
		}
	}

	if opts.SenderID != "" && b.ownerID != "" {
		isOwner := opts.SenderID == b.ownerID
		role := "external user"
		block := fmt.Sprintf("# Current Conversation\nYou are speaking with sender_id=%s (role: %s).", opts.SenderID, role)
		if isOwner {
			role = "owner"
			block = fmt.Sprintf("# Current Conversation\nYou are speaking with sender_id=%s (role: %s).\nThis is your owner.", opts.SenderID, role)
		} else {
			block += "\nThis is NOT your owner. Be helpful but do not share owner-private information."
		}
		parts = append(parts, block)
	}

	if opts.Channel != "" {
		if hint, ok := ChannelFormatHints[opts.Channel]; ok && hint != "" {
			parts = append(parts, "# Response Format\n"+hint)
		}
	}

	if opts.SessionKey != "" {
		parts = append(parts, fmt.Sprintf(
			"# Session Management\nCurrent session_key: %s\n"+
				"Pass this value to any session tool (new, sessions, resume, clear, rename, status, delete).",
			opts.SessionKey))
	}

	return strings.Join(parts, "\n\n")
}
