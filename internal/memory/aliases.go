package memory

import (
	"encoding/json"
	"os"
)

// Session aliasing is single-hop: resolve(k) = aliases[k] or k. Aliases
// persist in _aliases.json as a flat map, guarded by aliasMu.

func (s *Store) loadAliases() (map[string]string, error) {
	data, err := os.ReadFile(s.aliasesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) saveAliases(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.aliasesPath(), data, 0o600)
}

// ResolveSessionAlias returns aliases[key] if set, else key unchanged.
func (s *Store) ResolveSessionAlias(key string) string {
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()

	m, err := s.loadAliases()
	if err != nil {
		return key
	}
	if target, ok := m[key]; ok {
		return target
	}
	return key
}

// SetSessionAlias maps source -> target (single hop; does not chase an
// existing alias on target).
func (s *Store) SetSessionAlias(source, target string) error {
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()

	m, err := s.loadAliases()
	if err != nil {
		return err
	}
	m[source] = target
	return s.saveAliases(m)
}

// RemoveSessionAlias drops any alias mapping for source.
func (s *Store) RemoveSessionAlias(source string) error {
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()

	m, err := s.loadAliases()
	if err != nil {
		return err
	}
	delete(m, source)
	return s.saveAliases(m)
}
