package commands

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/memory"
)

var commandSet = map[string]bool{
	"/new": true, "/sessions": true, "/resume": true, "/help": true,
	"/clear": true, "/rename": true, "/status": true, "/delete": true,
}

// cmdRe matches "/cmd" or "!cmd" (optionally "@BotName"-suffixed) plus
// trailing args — the "!" fallback exists for channels where "/" is
// intercepted client-side (e.g. Matrix/Element).
var cmdRe = regexp.MustCompile(`(?s)^([/!]\w+)(?:@\S+)?\s*(.*)`)

func normalizeCmd(raw string) string {
	if strings.HasPrefix(raw, "!") {
		return "/" + raw[1:]
	}
	return raw
}

// Handler is the unified cross-channel slash-command handler (spec.md
// §4.5). It never invokes the agent backend — every command is answered
// directly from the memory store.
type Handler struct {
	ops         *Ops
	backendName func() string

	mu        sync.Mutex
	lastShown map[string][]memory.IndexEntry // session_key -> last listed sessions, for /resume <n>
}

// New creates a command Handler. backendName, if non-nil, supplies the
// active backend's display name for the /status line.
func New(ops *Ops, backendName func() string) *Handler {
	return &Handler{ops: ops, backendName: backendName, lastShown: map[string][]memory.IndexEntry{}}
}

// IsCommand reports whether content parses as a recognized command.
func (h *Handler) IsCommand(content string) bool {
	m := cmdRe.FindStringSubmatch(strings.TrimSpace(content))
	return m != nil && commandSet[normalizeCmd(strings.ToLower(m[1]))]
}

// Handle parses and dispatches a command, returning the reply to send
// back on the same channel, or ok=false if content isn't a command.
func (h *Handler) Handle(msg bus.InboundMessage) (reply bus.OutboundMessage, ok bool) {
	m := cmdRe.FindStringSubmatch(strings.TrimSpace(msg.Content))
	if m == nil {
		return bus.OutboundMessage{}, false
	}
	cmd := normalizeCmd(strings.ToLower(m[1]))
	if !commandSet[cmd] {
		return bus.OutboundMessage{}, false
	}
	args := strings.TrimSpace(m[2])
	baseKey := msg.SessionKey()

	content := h.dispatch(cmd, args, baseKey)
	return bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: content}, true
}

func (h *Handler) dispatch(cmd, args, baseKey string) string {
	switch cmd {
	case "/new":
		return h.cmdNew(baseKey)
	case "/sessions":
		return h.cmdSessions(baseKey)
	case "/resume":
		return h.cmdResume(baseKey, args)
	case "/clear":
		return h.cmdClear(baseKey)
	case "/rename":
		return h.cmdRename(baseKey, args)
	case "/status":
		return h.cmdStatus(baseKey)
	case "/delete":
		return h.cmdDelete(baseKey)
	case "/help":
		return h.cmdHelp()
	}
	return ""
}

func (h *Handler) cmdNew(baseKey string) string {
	if _, err := h.ops.New(baseKey); err != nil {
		return fmt.Sprintf("Could not start a new session: %v", err)
	}
	return "Started a new conversation. Previous sessions are preserved — use /sessions to list them."
}

func (h *Handler) cmdSessions(baseKey string) string {
	sessions, err := h.ops.Sessions(baseKey)
	if err != nil {
		return fmt.Sprintf("Could not list sessions: %v", err)
	}
	if len(sessions) == 0 {
		return "No sessions found. Start chatting to create one!"
	}

	h.mu.Lock()
	h.lastShown[baseKey] = sessions
	h.mu.Unlock()

	active := h.ops.ActiveKey(baseKey)
	lines := []string{"**Sessions:**\n"}
	for i, s := range sessions {
		marker := ""
		if s.SessionKey == active {
			marker = " (active)"
		}
		title := s.Title
		if title == "" {
			title = "New Chat"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%d msgs)%s", i+1, title, s.MessageCount, marker))
	}
	lines = append(lines, "\nUse /resume <number> to switch.")
	return strings.Join(lines, "\n")
}

func (h *Handler) cmdResume(baseKey, args string) string {
	if args == "" {
		return h.cmdSessions(baseKey)
	}

	if n, err := strconv.Atoi(args); err == nil {
		h.mu.Lock()
		shown := h.lastShown[baseKey]
		h.mu.Unlock()
		if shown == nil {
			sessions, err := h.ops.Sessions(baseKey)
			if err != nil {
				return fmt.Sprintf("Could not list sessions: %v", err)
			}
			shown = sessions
			h.mu.Lock()
			h.lastShown[baseKey] = shown
			h.mu.Unlock()
		}
		if len(shown) == 0 {
			return "No sessions found."
		}
		target, err := h.ops.ResumeByNumber(baseKey, n, shown)
		if err != nil {
			return err.Error()
		}
		return fmt.Sprintf("Resumed session: %s", target.Title)
	}

	matches, err := h.ops.ResumeByText(baseKey, args)
	if err != nil {
		return fmt.Sprintf("Could not search sessions: %v", err)
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No sessions matching %q. Use /sessions to see all.", args)
	}
	if len(matches) == 1 {
		if err := h.ops.ResumeMatch(baseKey, matches[0]); err != nil {
			return fmt.Sprintf("Could not resume session: %v", err)
		}
		return fmt.Sprintf("Resumed session: %s", matches[0].Title)
	}

	h.mu.Lock()
	h.lastShown[baseKey] = matches
	h.mu.Unlock()

	active := h.ops.ActiveKey(baseKey)
	lines := []string{fmt.Sprintf("Multiple sessions match %q:\n", args)}
	for i, s := range matches {
		marker := ""
		if s.SessionKey == active {
			marker = " (active)"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%d msgs)%s", i+1, s.Title, s.MessageCount, marker))
	}
	lines = append(lines, "\nUse /resume <number> to switch.")
	return strings.Join(lines, "\n")
}

func (h *Handler) cmdClear(baseKey string) string {
	count, err := h.ops.Clear(baseKey)
	if err != nil {
		return fmt.Sprintf("Could not clear session: %v", err)
	}
	if count > 0 {
		return fmt.Sprintf("Cleared %d messages from the current session.", count)
	}
	return "Session is already empty."
}

func (h *Handler) cmdRename(baseKey, args string) string {
	if args == "" {
		return "Usage: /rename <new title>"
	}
	ok, err := h.ops.Rename(baseKey, args)
	if err != nil {
		return fmt.Sprintf("Could not rename: %v", err)
	}
	if ok {
		return fmt.Sprintf("Session renamed to %q.", args)
	}
	return "Could not rename — session not found in index."
}

func (h *Handler) cmdStatus(baseKey string) string {
	info, err := h.ops.Status(baseKey)
	if err != nil {
		return fmt.Sprintf("Could not get status: %v", err)
	}
	backend := "unknown"
	if h.backendName != nil {
		backend = h.backendName()
	}
	lines := []string{
		"**Session Status:**\n",
		fmt.Sprintf("Title: %s", info.Title),
		fmt.Sprintf("Messages: %d", info.MessageCount),
		fmt.Sprintf("Session key: %s", info.ResolvedKey),
		fmt.Sprintf("Backend: %s", backend),
	}
	if info.Aliased {
		lines = append(lines, fmt.Sprintf("Base key: %s", info.BaseKey))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) cmdDelete(baseKey string) string {
	deleted, err := h.ops.Delete(baseKey)
	if err != nil {
		return fmt.Sprintf("Could not delete session: %v", err)
	}
	if deleted {
		return "Session deleted. Your next message will start a fresh conversation."
	}
	return "No session to delete."
}

func (h *Handler) cmdHelp() string {
	return "**PocketPaw Commands:**\n\n" +
		"/new — Start a fresh conversation\n" +
		"/sessions — List your conversation sessions\n" +
		"/resume <n> — Resume session #n from the list\n" +
		"/resume <text> — Search and resume a session by title\n" +
		"/clear — Clear the current session history\n" +
		"/rename <title> — Rename the current session\n" +
		"/status — Show current session info\n" +
		"/delete — Delete the current session\n" +
		"/help — Show this help message\n\n" +
		"_Tip: Use !command instead of /command on channels where / is intercepted (e.g. Matrix)._"
}
