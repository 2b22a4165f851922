package contextbuilder

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pocketpaw/pocketpaw/internal/bus"
)

type fakeMemory struct {
	context  string
	semantic string
	err      error
}

func (f fakeMemory) ContextForAgent(senderID string) (string, error) { return f.context, f.err }
func (f fakeMemory) SemanticContext(query, senderID string) (string, error) {
	return f.semantic, f.err
}

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBuildConcatenatesIdentitySources(t *testing.T) {
	dir := t.TempDir()
	sources := IdentitySources{
		IdentityFile: writeTemp(t, dir, "identity.md", "You are PocketPaw."),
		SoulFile:     writeTemp(t, dir, "soul.md", "Be kind."),
	}
	b, err := New(sources, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	out := b.Build(BuildOptions{})
	if !strings.Contains(out, "You are PocketPaw.") || !strings.Contains(out, "Be kind.") {
		t.Fatalf("expected both identity sources in prompt, got: %s", out)
	}
}

func TestBuildMissingFilesAreEmptyNotError(t *testing.T) {
	sources := IdentitySources{IdentityFile: "/nonexistent/identity.md"}
	b, err := New(sources, nil, "")
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if out := b.Build(BuildOptions{}); out != "" {
		t.Fatalf("expected empty prompt, got %q", out)
	}
}

func TestBuildOwnerVsExternalSenderBlock(t *testing.T) {
	b, _ := New(IdentitySources{}, nil, "owner-1")

	ownerOut := b.Build(BuildOptions{SenderID: "owner-1"})
	if !strings.Contains(ownerOut, "This is your owner.") {
		t.Fatalf("expected owner block, got: %s", ownerOut)
	}

	externalOut := b.Build(BuildOptions{SenderID: "someone-else"})
	if !strings.Contains(externalOut, "This is NOT your owner") {
		t.Fatalf("expected external-user block, got: %s", externalOut)
	}
}

func TestBuildIncludesMemoryContext(t *testing.T) {
	b, _ := New(IdentitySources{}, fakeMemory{context: "User likes Go."}, "")
	out := b.Build(BuildOptions{IncludeMemory: true, SenderID: "x"})
	if !strings.Contains(out, "User likes Go.") {
		t.Fatalf("expected memory context in prompt, got: %s", out)
	}
}

func TestBuildUsesSemanticContextWhenQueryGiven(t *testing.T) {
	b, _ := New(IdentitySources{}, fakeMemory{context: "general", semantic: "specific match"}, "")
	out := b.Build(BuildOptions{IncludeMemory: true, UserQuery: "find my notes", SenderID: "x"})
	if !strings.Contains(out, "specific match") {
		t.Fatalf("expected semantic context to be used, got: %s", out)
	}
	if strings.Contains(out, "general") {
		t.Fatalf("expected plain context to be skipped when query present, got: %s", out)
	}
}

func TestBuildMemoryErrorIsSkippedSilently(t *testing.T) {
	b, _ := New(IdentitySources{}, fakeMemory{err: errors.New("boom")}, "")
	out := b.Build(BuildOptions{IncludeMemory: true, SenderID: "x"})
	if out != "" {
		t.Fatalf("expected empty prompt on memory error, got: %s", out)
	}
}

func TestBuildChannelFormatHint(t *testing.T) {
	b, _ := New(IdentitySources{}, nil, "")
	out := b.Build(BuildOptions{Channel: bus.ChannelWhatsApp})
	if !strings.Contains(out, "Plain text only") {
		t.Fatalf("expected whatsapp format hint, got: %s", out)
	}
}

func TestBuildSessionKeyBlock(t *testing.T) {
	b, _ := New(IdentitySources{}, nil, "")
	out := b.Build(BuildOptions{SessionKey: "telegram:123"})
	if !strings.Contains(out, "telegram:123") {
		t.Fatalf("expected session key in prompt, got: %s", out)
	}
}

func TestWatchForChangesReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "identity.md", "v1")
	b, _ := New(IdentitySources{IdentityFile: path}, nil, "")
	stop, err := b.WatchForChanges()
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	// The watcher goroutine updates the cache asynchronously; poll until
	// the write event has been applied.
	deadline := time.Now().Add(2 * time.Second)
	for b.get(path) != "v2" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := b.get(path); got != "v2" {
		t.Fatalf("expected reloaded content v2, got %q", got)
	}
}
