package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the file-backed implementation of the three-tier memory
// backend contract (spec.md §4.3). Session-log appends are serialized per
// session_key via sessionWriteLocks; the session index RMW is serialized
// by indexMu; the alias table by aliasMu — matching spec.md §5's named
// locks (session_index_lock, session_write_locks, alias_lock) exactly.
type Store struct {
	baseDir string // ~/.pocketpaw/memory

	indexMu sync.Mutex
	aliasMu sync.Mutex

	writeLocksMu sync.Mutex
	writeLocks   map[string]*sync.Mutex

	// per-session compaction lock, keyed by session key — prevents
	// concurrent summarization races. Grounded on the teacher's
	// summarizeMu sync.Map idiom in internal/agent/loop_history.go.
	summarizeMu sync.Map

	summarizer Summarizer

	// ownerID scopes ContextForAgent/SemanticContext via ScopeForSender;
	// set once during wiring by SetOwnerID.
	ownerID string

	// semantic is the optional embedding-backed index used by
	// SemanticContext when memory_backend is "semantic"; nil falls back
	// to ContextForAgent. Set via SetSemanticIndex.
	semantic *SemanticIndex
}

// NewStore creates a Store rooted at baseDir (typically ~/.pocketpaw/memory).
func NewStore(baseDir string) (*Store, error) {
	for _, d := range []string{baseDir, filepath.Join(baseDir, "sessions"), filepath.Join(baseDir, "users")} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("create memory dir %s: %w", d, err)
		}
	}
	return &Store{baseDir: baseDir, writeLocks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) sessionsDir() string { return filepath.Join(s.baseDir, "sessions") }

func (s *Store) sessionLogPath(key string) string {
	return filepath.Join(s.sessionsDir(), safeKey(key)+".json")
}

func (s *Store) compactionCachePath(key string) string {
	return filepath.Join(s.sessionsDir(), safeKey(key)+"_compaction.json")
}

func (s *Store) indexPath() string  { return filepath.Join(s.sessionsDir(), "_index.json") }
func (s *Store) aliasesPath() string { return filepath.Join(s.sessionsDir(), "_aliases.json") }

func (s *Store) longTermPath(scope string) string {
	if scope == "" || scope == DefaultScope {
		return filepath.Join(s.baseDir, "MEMORY.md")
	}
	return filepath.Join(s.baseDir, "users", scope, "MEMORY.md")
}

func (s *Store) dailyPath(date time.Time) string {
	return filepath.Join(s.baseDir, date.UTC().Format("2006-01-02")+".md")
}

func (s *Store) sessionWriteLock(key string) *sync.Mutex {
	s.writeLocksMu.Lock()
	defer s.writeLocksMu.Unlock()
	l, ok := s.writeLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.writeLocks[key] = l
	}
	return l
}

// Save persists an entry. For long_term/daily it deduplicates by
// (source, header, content) and returns the existing id on a match; for
// session it always appends. Returns the entry's stable id.
func (s *Store) Save(e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}

	switch e.Type {
	case TypeLongTerm:
		scope := e.Metadata["user_id"]
		id, err := s.saveMarkdown(s.longTermPath(scope), e)
		if err == nil && s.semantic != nil {
			if idxErr := s.semantic.Index(context.Background(), e); idxErr != nil {
				slog.Warn("memory: semantic index failed", "error", idxErr)
			}
		}
		return id, err
	case TypeDaily:
		return s.saveMarkdown(s.dailyPath(e.CreatedAt), e)
	case TypeSession:
		return s.appendSession(e)
	default:
		return "", fmt.Errorf("unknown entry type %q", e.Type)
	}
}

func (s *Store) saveMarkdown(path string, e Entry) (string, error) {
	existing := parseMarkdownEntries(mustRead(path), e.Type, e.Metadata["source"])
	header := e.Metadata["header"]
	if header == "" {
		header = firstLine(e.Content)
	}
	for _, ex := range existing {
		if ex.Metadata["source"] == e.Metadata["source"] && ex.Metadata["header"] == header && ex.Content == e.Content {
			return ex.ID, nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(renderMarkdownEntry(e)); err != nil {
		return "", err
	}
	return e.ID, nil
}

func mustRead(path string) []byte {
	data, _ := readMarkdownFile(path)
	return data
}

// Get retrieves an entry by id, searching the long-term and daily
// markdown files only; entries held in session logs are not found.
func (s *Store) Get(id string) (Entry, bool) {
	entries, _ := s.walkAllMarkdown()
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Delete removes an entry by id from whichever markdown file holds it.
// Session-tier entries are immutable within a turn per spec.md §3 and are
// not individually deletable (use ClearSession/DeleteSession instead).
func (s *Store) Delete(id string) error {
	files, err := s.allMarkdownFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		entries := parseMarkdownEntries(mustRead(f.path), f.typ, f.source)
		kept := make([]Entry, 0, len(entries))
		found := false
		for _, e := range entries {
			if e.ID == id {
				found = true
				continue
			}
			kept = append(kept, e)
		}
		if found {
			return s.rewriteMarkdown(f.path, kept)
		}
	}
	return fmt.Errorf("entry %s not found", id)
}

func (s *Store) rewriteMarkdown(path string, entries []Entry) error {
	var b []byte
	for _, e := range entries {
		b = append(b, []byte(renderMarkdownEntry(e))...)
	}
	return writeFileAtomic(path, b, 0o600)
}

type markdownFile struct {
	path   string
	typ    EntryType
	source string
}

func (s *Store) allMarkdownFiles() ([]markdownFile, error) {
	var files []markdownFile
	files = append(files, markdownFile{s.longTermPath(DefaultScope), TypeLongTerm, "owner"})

	usersDir := filepath.Join(s.baseDir, "users")
	entries, err := os.ReadDir(usersDir)
	if err == nil {
		for _, de := range entries {
			if de.IsDir() {
				files = append(files, markdownFile{filepath.Join(usersDir, de.Name(), "MEMORY.md"), TypeLongTerm, de.Name()})
			}
		}
	}

	dayFiles, err := filepath.Glob(filepath.Join(s.baseDir, "????-??-??.md"))
	if err == nil {
		for _, p := range dayFiles {
			files = append(files, markdownFile{p, TypeDaily, "daily"})
		}
	}
	return files, nil
}

func (s *Store) walkAllMarkdown() ([]Entry, error) {
	files, err := s.allMarkdownFiles()
	if err != nil {
		return nil, err
	}
	var all []Entry
	for _, f := range files {
		all = append(all, parseMarkdownEntries(mustRead(f.path), f.typ, f.source)...)
	}
	return all, nil
}

// GetByType returns up to limit entries of the given type. When userID is
// set and typ is long_term, only that scope's file is consulted;
// otherwise the owner's ("default") file is used.
func (s *Store) GetByType(typ EntryType, limit int, userID string) ([]Entry, error) {
	var entries []Entry
	switch typ {
	case TypeLongTerm:
		scope := userID
		if scope == "" {
			scope = DefaultScope
		}
		entries = parseMarkdownEntries(mustRead(s.longTermPath(scope)), TypeLongTerm, scope)
	case TypeDaily:
		files, _ := filepath.Glob(filepath.Join(s.baseDir, "????-??-??.md"))
		sort.Strings(files)
		for i := len(files) - 1; i >= 0; i-- {
			entries = append(entries, parseMarkdownEntries(mustRead(files[i]), TypeDaily, "daily")...)
		}
	case TypeSession:
		return nil, fmt.Errorf("GetByType: use GetSession for session tier")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// --- Session tier ---

func (s *Store) readSessionLog(key string) ([]Entry, error) {
	data, err := os.ReadFile(s.sessionLogPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) writeSessionLog(key string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.sessionLogPath(key), data, 0o600)
}

// appendSession appends a session-tier entry under the session's write
// lock, then performs the session-index read-modify-write under the
// store-wide index lock.
func (s *Store) appendSession(e Entry) (string, error) {
	key := e.SessionKey
	lock := s.sessionWriteLock(key)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.readSessionLog(key)
	if err != nil {
		return "", err
	}
	entries = append(entries, e)
	if err := s.writeSessionLog(key, entries); err != nil {
		return "", err
	}

	if err := s.updateIndexOnAppend(key, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

// GetSession returns the full ordered session log.
func (s *Store) GetSession(key string) ([]Entry, error) {
	lock := s.sessionWriteLock(key)
	lock.Lock()
	defer lock.Unlock()
	return s.readSessionLog(key)
}

// ClearSession removes all entries for key; returns the count removed.
// The index entry and alias are left intact (spec.md §3 lifecycle:
// "Cleared (contents gone, alias kept)").
func (s *Store) ClearSession(key string) (int, error) {
	lock := s.sessionWriteLock(key)
	lock.Lock()
	entries, err := s.readSessionLog(key)
	if err != nil {
		lock.Unlock()
		return 0, err
	}
	count := len(entries)
	if count > 0 {
		if err := os.Remove(s.sessionLogPath(key)); err != nil && !os.IsNotExist(err) {
			lock.Unlock()
			return 0, err
		}
	}
	os.Remove(s.compactionCachePath(key))
	lock.Unlock()

	if count > 0 {
		if err := s.resetIndexCounts(key); err != nil {
			return count, err
		}
	}
	return count, nil
}

// DeleteSession removes contents, the compaction cache, and the
// session-index entry for key, atomically with respect to the caller
// (spec.md §3: "deletion removes both atomically").
func (s *Store) DeleteSession(key string) (bool, error) {
	lock := s.sessionWriteLock(key)
	lock.Lock()
	existed := false
	if _, err := os.Stat(s.sessionLogPath(key)); err == nil {
		existed = true
		os.Remove(s.sessionLogPath(key))
	}
	os.Remove(s.compactionCachePath(key))
	lock.Unlock()

	s.writeLocksMu.Lock()
	delete(s.writeLocks, key)
	s.writeLocksMu.Unlock()

	if err := s.removeIndexEntry(key); err != nil {
		return existed, err
	}
	return existed, nil
}

// UpdateSessionTitle sets user_title in the index and marks it protected
// from future auto-overwrite. Returns false if the session has no index
// entry yet.
func (s *Store) UpdateSessionTitle(key, title string) (bool, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	idx, err := s.loadIndex()
	if err != nil {
		return false, err
	}
	e, ok := idx[key]
	if !ok {
		return false, nil
	}
	e.Title = title
	e.UserTitle = title
	idx[key] = e
	return true, s.saveIndex(idx)
}
