// Package commands implements the cross-channel command handler and
// session-management operations (spec.md §4.5).
//
// Grounded directly on
// original_source/src/pocketclaw/bus/commands.py's CommandHandler, read
// in full, for exact reply text and edge-case behavior (substring
// matching on /resume <text>, the "(active)" marker, /delete removing the
// base key's alias). Ops holds the operations shared by both the
// text-command Handler (handler.go) and the tool-call equivalents
// (internal/tools/sessions.go), so the two surfaces never drift out of
// sync with each other.
package commands

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pocketpaw/pocketpaw/internal/memory"
)

// Store is the subset of *memory.Store the session operations need.
type Store interface {
	GetSessionKeysForChat(baseKey string) ([]memory.IndexEntry, error)
	ResolveSessionAlias(key string) string
	SetSessionAlias(source, target string) error
	RemoveSessionAlias(source string) error
	ClearSession(key string) (int, error)
	UpdateSessionTitle(key, title string) (bool, error)
	DeleteSession(key string) (bool, error)
}

// Ops implements the eight session operations spec.md §4.5 names,
// against a base session key (spec.md §3: "{channel}:{chat_id}").
type Ops struct {
	store Store
}

// NewOps wraps a memory store for command/tool use.
func NewOps(store Store) *Ops {
	return &Ops{store: store}
}

// StatusInfo is the structured result of Status, rendered differently by
// the text handler and the tool wrapper.
type StatusInfo struct {
	Title        string
	MessageCount int
	ResolvedKey  string
	BaseKey      string
	Aliased      bool
}

// New starts a fresh session under baseKey: a new suffixed key is
// aliased from baseKey so future messages route to it, while prior
// sessions remain listed under /sessions. The suffix uses "#" (not the
// original's ":") because internal/memory.GetSessionKeysForChat matches
// sessions by "baseKey + \"#\"" prefix — using ":" would let
// "telegram:42" collide with an unrelated "telegram:423" base key.
func (o *Ops) New(baseKey string) (string, error) {
	newKey := fmt.Sprintf("%s#%s", baseKey, uuid.NewString()[:8])
	if err := o.store.SetSessionAlias(baseKey, newKey); err != nil {
		return "", err
	}
	return newKey, nil
}

// Sessions lists every session indexed under baseKey, most-recent first.
func (o *Ops) Sessions(baseKey string) ([]memory.IndexEntry, error) {
	return o.store.GetSessionKeysForChat(baseKey)
}

// ActiveKey returns the session key baseKey currently resolves to.
func (o *Ops) ActiveKey(baseKey string) string {
	return o.store.ResolveSessionAlias(baseKey)
}

// ResumeByNumber switches baseKey's alias to the nth entry (1-indexed)
// of a previously shown list.
func (o *Ops) ResumeByNumber(baseKey string, n int, shown []memory.IndexEntry) (memory.IndexEntry, error) {
	if n < 1 || n > len(shown) {
		return memory.IndexEntry{}, fmt.Errorf("Invalid session number: choose 1-%d", len(shown))
	}
	target := shown[n-1]
	if err := o.store.SetSessionAlias(baseKey, target.SessionKey); err != nil {
		return memory.IndexEntry{}, err
	}
	return target, nil
}

// ResumeByText searches sessions under baseKey by case-insensitive
// substring match against title or preview and returns every match; it
// resumes nothing itself. The caller resumes a single match via
// ResumeMatch or presents several as a numbered list.
func (o *Ops) ResumeByText(baseKey, query string) ([]memory.IndexEntry, error) {
	sessions, err := o.store.GetSessionKeysForChat(baseKey)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var matches []memory.IndexEntry
	for _, s := range sessions {
		if strings.Contains(strings.ToLower(s.Title), q) || strings.Contains(strings.ToLower(s.Preview), q) {
			matches = append(matches, s)
		}
	}
	return matches, nil
}

// ResumeMatch aliases baseKey to the single matched session (called after
// ResumeByText returns exactly one match).
func (o *Ops) ResumeMatch(baseKey string, target memory.IndexEntry) error {
	return o.store.SetSessionAlias(baseKey, target.SessionKey)
}

// Clear empties the session baseKey currently resolves to, keeping its
// alias and index entry intact.
func (o *Ops) Clear(baseKey string) (int, error) {
	resolved := o.store.ResolveSessionAlias(baseKey)
	return o.store.ClearSession(resolved)
}

// Rename sets the user-chosen title on the session baseKey resolves to.
func (o *Ops) Rename(baseKey, title string) (bool, error) {
	resolved := o.store.ResolveSessionAlias(baseKey)
	return o.store.UpdateSessionTitle(resolved, title)
}

// Status reports the active session's title, message count, and key
// aliasing state.
func (o *Ops) Status(baseKey string) (StatusInfo, error) {
	resolved := o.store.ResolveSessionAlias(baseKey)
	sessions, err := o.store.GetSessionKeysForChat(baseKey)
	if err != nil {
		return StatusInfo{}, err
	}
	info := StatusInfo{ResolvedKey: resolved, BaseKey: baseKey, Aliased: resolved != baseKey, Title: "Default"}
	for _, s := range sessions {
		if s.SessionKey == resolved {
			info.Title = s.Title
			info.MessageCount = s.MessageCount
			break
		}
	}
	return info, nil
}

// Delete removes the session baseKey resolves to and drops the alias, so
// the next message starts fresh under baseKey itself.
func (o *Ops) Delete(baseKey string) (bool, error) {
	resolved := o.store.ResolveSessionAlias(baseKey)
	deleted, err := o.store.DeleteSession(resolved)
	if err != nil {
		return deleted, err
	}
	if err := o.store.RemoveSessionAlias(baseKey); err != nil {
		return deleted, err
	}
	return deleted, nil
}
