// Package session persists the active team identity between page loads.
// Absence means logged out; everything else about a session is rebuilt in
// memory by the game engine.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store holds the single durable identity value.
type Store interface {
	Get() (string, bool)
	Set(team string) error
	Clear() error
}

// FileStore keeps the team name in a single file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath places the session file under the user cache directory,
// falling back to the system temp dir.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "escape-room", "session")
}

func (s *FileStore) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", false
	}
	team := strings.TrimSpace(string(data))
	return team, team != ""
}

func (s *FileStore) Set(team string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(team+"\n"), 0o600); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests and per-connection sessions.
type MemStore struct {
	mu   sync.Mutex
	team string
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.team, s.team != ""
}

func (s *MemStore) Set(team string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.team = team
	return nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.team = ""
	return nil
}
