package memory

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
)

// The session index (_index.json) is a map keyed by session_key, giving
// O(1) lookup for /sessions and /resume without scanning every session
// log file. All access goes through loadIndex/saveIndex under indexMu.

func (s *Store) loadIndex() (map[string]IndexEntry, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]IndexEntry{}, nil
		}
		return nil, err
	}
	idx := map[string]IndexEntry{}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *Store) saveIndex(idx map[string]IndexEntry) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.indexPath(), data, 0o600)
}

// updateIndexOnAppend updates (or creates) the index entry for key after a
// session-tier Save. The title auto-derives from the first user message
// unless UserTitle is already set (protects /rename from being clobbered).
func (s *Store) updateIndexOnAppend(key string, e Entry) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	idx, err := s.loadIndex()
	if err != nil {
		return err
	}

	entry, ok := idx[key]
	if !ok {
		entry = IndexEntry{
			SessionKey: key,
			Channel:    channelFromKey(key),
			Created:    e.CreatedAt,
		}
	}
	entry.LastActivity = e.CreatedAt
	entry.MessageCount++
	if e.Role == RoleUser {
		entry.Preview = truncatePreview(e.Content, 80)
		if entry.UserTitle == "" {
			entry.Title = truncatePreview(e.Content, 40)
		}
	}
	idx[key] = entry
	return s.saveIndex(idx)
}

func (s *Store) resetIndexCounts(key string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	idx, err := s.loadIndex()
	if err != nil {
		return err
	}
	entry, ok := idx[key]
	if !ok {
		return nil
	}
	entry.MessageCount = 0
	entry.Preview = ""
	idx[key] = entry
	return s.saveIndex(idx)
}

func (s *Store) removeIndexEntry(key string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	idx, err := s.loadIndex()
	if err != nil {
		return err
	}
	delete(idx, key)
	return s.saveIndex(idx)
}

// GetSessionKeysForChat returns every indexed session sharing baseKey's
// channel+chat prefix (i.e. the base key itself, plus any alternate
// sessions created under it), sorted by last activity descending — the
// listing /sessions shows.
func (s *Store) GetSessionKeysForChat(baseKey string) ([]IndexEntry, error) {
	s.indexMu.Lock()
	idx, err := s.loadIndex()
	s.indexMu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []IndexEntry
	for k, v := range idx {
		if k == baseKey || strings.HasPrefix(k, baseKey+"#") {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func channelFromKey(key string) string {
	if idx := strings.IndexByte(key, ':'); idx >= 0 {
		return key[:idx]
	}
	return ""
}

func truncatePreview(s string, n int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
