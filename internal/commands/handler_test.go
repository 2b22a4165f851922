package commands

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/memory"
)

type fakeStore struct {
	aliases  map[string]string
	sessions map[string]memory.IndexEntry // session_key -> entry
	cleared  map[string]int
	deleted  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		aliases:  map[string]string{},
		sessions: map[string]memory.IndexEntry{},
		cleared:  map[string]int{},
		deleted:  map[string]bool{},
	}
}

func (f *fakeStore) GetSessionKeysForChat(baseKey string) ([]memory.IndexEntry, error) {
	var out []memory.IndexEntry
	for k, v := range f.sessions {
		if k == baseKey || strings.HasPrefix(k, baseKey+"#") {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) ResolveSessionAlias(key string) string {
	if t, ok := f.aliases[key]; ok {
		return t
	}
	return key
}

func (f *fakeStore) SetSessionAlias(source, target string) error {
	f.aliases[source] = target
	return nil
}

func (f *fakeStore) RemoveSessionAlias(source string) error {
	delete(f.aliases, source)
	return nil
}

func (f *fakeStore) ClearSession(key string) (int, error) {
	n := f.sessions[key].MessageCount
	f.cleared[key] = n
	e := f.sessions[key]
	e.MessageCount = 0
	f.sessions[key] = e
	return n, nil
}

func (f *fakeStore) UpdateSessionTitle(key, title string) (bool, error) {
	e, ok := f.sessions[key]
	if !ok {
		return false, nil
	}
	e.Title = title
	f.sessions[key] = e
	return true, nil
}

func (f *fakeStore) DeleteSession(key string) (bool, error) {
	_, ok := f.sessions[key]
	delete(f.sessions, key)
	f.deleted[key] = ok
	return ok, nil
}

func seedSession(f *fakeStore, key, title string, count int) {
	f.sessions[key] = memory.IndexEntry{
		SessionKey:   key,
		Title:        title,
		MessageCount: count,
		Created:      time.Now(),
		LastActivity: time.Now(),
	}
}

func TestIsCommandRecognizesSlashAndBang(t *testing.T) {
	h := New(NewOps(newFakeStore()), nil)
	cases := map[string]bool{
		"/sessions":        true,
		"!sessions":        true,
		"/resume 2":        true,
		"/unknown":         false,
		"hello /sessions":  false,
		"/sessions@MyBot":  true,
	}
	for content, want := range cases {
		if got := h.IsCommand(content); got != want {
			t.Errorf("IsCommand(%q) = %v, want %v", content, got, want)
		}
	}
}

func TestHandleNonCommandReturnsFalse(t *testing.T) {
	h := New(NewOps(newFakeStore()), nil)
	_, ok := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "hi there"})
	if ok {
		t.Fatalf("expected ok=false for non-command content")
	}
}

func TestHandleSessionsEmpty(t *testing.T) {
	h := New(NewOps(newFakeStore()), nil)
	reply, ok := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/sessions"})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !strings.Contains(reply.Content, "No sessions found") {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
}

func TestHandleSessionsListsWithActiveMarker(t *testing.T) {
	store := newFakeStore()
	seedSession(store, "telegram:1", "Default", 3)
	seedSession(store, "telegram:1#abcd1234", "Side quest", 1)
	store.aliases["telegram:1"] = "telegram:1#abcd1234"

	h := New(NewOps(store), nil)
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/sessions"})
	if !strings.Contains(reply.Content, "Side quest") || !strings.Contains(reply.Content, "(active)") {
		t.Fatalf("expected active marker on resumed session: %s", reply.Content)
	}
}

func TestHandleNewAliasesToSuffixedKey(t *testing.T) {
	store := newFakeStore()
	h := New(NewOps(store), nil)
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/new"})
	if !strings.Contains(reply.Content, "Started a new conversation") {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
	resolved := store.aliases["telegram:1"]
	if !strings.HasPrefix(resolved, "telegram:1#") {
		t.Fatalf("expected suffixed key with '#', got %q", resolved)
	}
}

func TestHandleResumeNoArgsShowsSessions(t *testing.T) {
	store := newFakeStore()
	seedSession(store, "telegram:1", "Default", 2)
	h := New(NewOps(store), nil)
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/resume"})
	if !strings.Contains(reply.Content, "Sessions:") {
		t.Fatalf("expected /resume with no args to behave like /sessions, got: %s", reply.Content)
	}
}

func TestHandleResumeByNumber(t *testing.T) {
	store := newFakeStore()
	seedSession(store, "telegram:1", "First", 1)
	seedSession(store, "telegram:1#zz", "Second", 1)
	h := New(NewOps(store), nil)

	h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/sessions"})
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/resume 1"})
	if !strings.Contains(reply.Content, "Resumed session:") {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
}

func TestHandleResumeByNumberOutOfRange(t *testing.T) {
	store := newFakeStore()
	seedSession(store, "telegram:1", "First", 1)
	h := New(NewOps(store), nil)
	h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/sessions"})
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/resume 9"})
	if !strings.Contains(reply.Content, "Invalid session number") {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
}

func TestHandleResumeByTextSingleMatch(t *testing.T) {
	store := newFakeStore()
	seedSession(store, "telegram:1", "Vacation planning", 4)
	h := New(NewOps(store), nil)
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/resume vacation"})
	if !strings.Contains(reply.Content, "Resumed session: Vacation planning") {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
}

func TestHandleResumeByTextNoMatch(t *testing.T) {
	store := newFakeStore()
	seedSession(store, "telegram:1", "Vacation planning", 4)
	h := New(NewOps(store), nil)
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/resume xyz"})
	if !strings.Contains(reply.Content, "No sessions matching") {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
}

func TestHandleClear(t *testing.T) {
	store := newFakeStore()
	seedSession(store, "telegram:1", "Default", 5)
	h := New(NewOps(store), nil)
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/clear"})
	if !strings.Contains(reply.Content, "Cleared 5 messages") {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
}

func TestHandleRenameRequiresArgs(t *testing.T) {
	h := New(NewOps(newFakeStore()), nil)
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/rename"})
	if !strings.Contains(reply.Content, "Usage: /rename") {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
}

func TestHandleRenameSuccess(t *testing.T) {
	store := newFakeStore()
	seedSession(store, "telegram:1", "Default", 1)
	h := New(NewOps(store), nil)
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/rename My Title"})
	if !strings.Contains(reply.Content, `renamed to "My Title"`) {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
}

func TestHandleStatusShowsBackend(t *testing.T) {
	store := newFakeStore()
	seedSession(store, "telegram:1", "Default", 2)
	h := New(NewOps(store), func() string { return "anthropic" })
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/status"})
	if !strings.Contains(reply.Content, "Backend: anthropic") {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
}

func TestHandleDeleteRemovesAliasToo(t *testing.T) {
	store := newFakeStore()
	seedSession(store, "telegram:1#abc", "Side", 1)
	store.aliases["telegram:1"] = "telegram:1#abc"
	h := New(NewOps(store), nil)
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/delete"})
	if !strings.Contains(reply.Content, "Session deleted") {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
	if _, aliased := store.aliases["telegram:1"]; aliased {
		t.Fatalf("expected alias to be removed after delete")
	}
}

func TestHandleHelp(t *testing.T) {
	h := New(NewOps(newFakeStore()), nil)
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/help"})
	if !strings.Contains(reply.Content, "PocketPaw Commands") {
		t.Fatalf("unexpected reply: %s", reply.Content)
	}
}

func TestHandleBangPrefixNormalizesToSlash(t *testing.T) {
	h := New(NewOps(newFakeStore()), nil)
	reply, ok := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "!help"})
	if !ok || !strings.Contains(reply.Content, "PocketPaw Commands") {
		t.Fatalf("expected !help to behave like /help, got ok=%v content=%s", ok, reply.Content)
	}
}

func ExampleHandler_cmdSessions() {
	store := newFakeStore()
	seedSession(store, "telegram:1", "Default", 1)
	h := New(NewOps(store), nil)
	reply, _ := h.Handle(bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "1", Content: "/sessions"})
	fmt.Println(strings.Contains(reply.Content, "Default"))
	// Output: true
}
