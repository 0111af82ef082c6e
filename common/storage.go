package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage keys owned by the session layer. These are the only process-wide
// durable state the SDK writes.
const (
	StorageKeyAccessToken = "access_token"
	StorageKeyProfile     = "user_profile"
)

// SessionStore is the durable key/value storage behind session persistence.
// Implementations must tolerate missing keys (found=false, no error).
type SessionStore interface {
	Get(key string) (value []byte, found bool, err error)
	Set(key string, value []byte) error
	// DeleteAll removes the given keys as one batch; it keeps going past
	// individual failures and returns the first error encountered.
	DeleteAll(keys ...string) error
}

// ---------------------------------------------------
// File-backed store
// ---------------------------------------------------

// fileSessionStore writes one file per key under a directory. Suited to CLI
// and desktop hosts where the app owns a config directory.
type fileSessionStore struct {
	dir string
}

// NewFileSessionStore creates the directory if needed and returns a
// SessionStore over it.
func NewFileSessionStore(dir string) (SessionStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session store directory: %w", err)
	}
	return &fileSessionStore{dir: dir}, nil
}

func (s *fileSessionStore) path(key string) string {
	return filepath.Join(s.dir, key)
}

func (s *fileSessionStore) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read session key %q: %w", key, err)
	}
	return data, true, nil
}

func (s *fileSessionStore) Set(key string, value []byte) error {
	// write-then-rename so a crash mid-write never leaves a torn value
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return fmt.Errorf("failed to write session key %q: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("failed to commit session key %q: %w", key, err)
	}
	return nil
}

func (s *fileSessionStore) DeleteAll(keys ...string) error {
	var firstErr error
	for _, key := range keys {
		if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to delete session key %q: %w", key, err)
			}
		}
	}
	return firstErr
}

// ---------------------------------------------------
// In-memory store (tests, ephemeral hosts)
// ---------------------------------------------------

type memorySessionStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemorySessionStore returns a map-backed SessionStore.
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{values: make(map[string][]byte)}
}

func (s *memorySessionStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.values[key]
	return val, ok, nil
}

func (s *memorySessionStore) Set(key string, value []byte) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

func (s *memorySessionStore) DeleteAll(keys ...string) error {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.values, key)
	}
	s.mu.Unlock()
	return nil
}
