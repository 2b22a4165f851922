// Package credentials implements the Credential Store (spec.md §4.9):
// get/set/delete/get_all over a small set of named secrets, encrypted at
// rest with a key derived from machine-local identity plus a random
// salt, stored in an owner-only-permission file.
//
// Grounded on the pack's password-hashing convention
// (_examples/go-mizu-mizu/blueprints/bi/pkg/password/argon2.go): the same
// Argon2id KDF from golang.org/x/crypto/argon2, here deriving a
// symmetric key instead of a verifiable password hash. Encryption itself
// uses the standard library's crypto/aes + crypto/cipher AES-256-GCM,
// matching this repo's "no hand-rolled crypto primitives, only a vetted
// AEAD" approach — no example repo in the pack implements at-rest secret
// storage, so the wire format here is this package's own design.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	saltLength   = 16
	nonceLength  = 12
	keyLength    = 32
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 2
)

// fileFormat is the on-disk layout: a random salt and the AEAD-sealed
// JSON blob of the secret map.
type fileFormat struct {
	Salt       []byte `json:"salt"`
	Ciphertext []byte `json:"ciphertext"`
}

// Store is a small encrypted-at-rest key/value secret store (spec.md
// §4.9). All operations are serialized by mu; the whole secret map is
// held decrypted in memory and re-encrypted as a unit on every write,
// since the expected record count is small (API keys, tokens).
type Store struct {
	mu       sync.Mutex
	path     string
	identity func() ([]byte, error)
	secrets  map[string]string
	degraded bool
}

// Open loads path (creating an empty store if it doesn't exist yet),
// decrypting it with a key derived from identity() plus the file's
// stored salt. A decryption failure degrades to an empty, in-memory-only
// store with a warning rather than failing startup (spec.md §4.9: "decryption
// failures must degrade to an empty store with a warning, never crash
// the core").
func Open(path string, identity func() ([]byte, error)) *Store {
	s := &Store{path: path, identity: identity, secrets: make(map[string]string)}
	s.load()
	return s
}

// MachineIdentity is the default identity() source: the host's hostname
// plus the store file's own directory path, a stand-in for a hardware or
// OS-keychain-bound identifier that is stable across restarts on the
// same machine. Operators who need stronger binding (TPM, OS keychain)
// can pass their own identity function to Open.
func MachineIdentity(baseDir string) func() ([]byte, error) {
	return func() ([]byte, error) {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown-host"
		}
		return []byte(host + "|" + baseDir), nil
	}
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		slog.Warn("credentials: read store failed, starting empty", "error", err)
		s.degraded = true
		return
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("credentials: corrupt store, starting empty", "error", err)
		s.degraded = true
		return
	}

	key, err := s.deriveKey(f.Salt)
	if err != nil {
		slog.Warn("credentials: derive key failed, starting empty", "error", err)
		s.degraded = true
		return
	}

	plaintext, err := decrypt(key, f.Ciphertext)
	if err != nil {
		slog.Warn("credentials: decrypt store failed, starting empty", "error", err)
		s.degraded = true
		return
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		slog.Warn("credentials: decode store failed, starting empty", "error", err)
		s.degraded = true
		return
	}
	s.secrets = secrets
}

func (s *Store) deriveKey(salt []byte) ([]byte, error) {
	idBytes, err := s.identity()
	if err != nil {
		return nil, fmt.Errorf("credentials: identity: %w", err)
	}
	return argon2.IDKey(idBytes, salt, argonTime, argonMemory, argonThreads, keyLength), nil
}

// Get returns the named secret, or ok=false if it isn't set.
func (s *Store) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.secrets[name]
	return v, ok
}

// GetAll returns a copy of every stored secret.
func (s *Store) GetAll() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.secrets))
	for k, v := range s.secrets {
		out[k] = v
	}
	return out
}

// Set stores name=value and persists the whole store.
func (s *Store) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
	return s.persistLocked()
}

// Delete removes name and persists the whole store. Deleting a name that
// isn't set is a no-op, not an error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, name)
	return s.persistLocked()
}

// Degraded reports whether the store failed to load its on-disk state
// and is currently running empty (spec.md §4.9's degrade path).
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Store) persistLocked() error {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("credentials: generate salt: %w", err)
	}
	key, err := s.deriveKey(salt)
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(s.secrets)
	if err != nil {
		return fmt.Errorf("credentials: encode: %w", err)
	}
	ciphertext, err := encrypt(key, plaintext)
	if err != nil {
		return fmt.Errorf("credentials: encrypt: %w", err)
	}
	data, err := json.Marshal(fileFormat{Salt: salt, Ciphertext: ciphertext})
	if err != nil {
		return fmt.Errorf("credentials: encode file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("credentials: create dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credentials: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("credentials: rename temp file: %w", err)
	}
	s.degraded = false
	return nil
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < nonceLength {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceLength], data[nonceLength:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
