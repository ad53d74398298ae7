package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// State is everything stockdeck persists between runs.
type State struct {
	AccessToken     string `toml:"access_token"`
	RefreshToken    string `toml:"refresh_token"`
	UserEmail       string `toml:"user_email,omitempty"`
	RememberedEmail string `toml:"remembered_email,omitempty"`
}

// Store persists the session State.
type Store interface {
	Load() (State, error)
	Save(State) error
	Clear() error
}

// FileStore keeps the session in a TOML file readable only by the current user.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore backed by path. The file is created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the session file. A missing file yields an empty State without error.
func (s *FileStore) Load() (State, error) {
	var st State
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if _, err := toml.DecodeFile(s.path, &st); err != nil {
		return State{}, fmt.Errorf("decoding session file: %w", err)
	}
	return st, nil
}

// Save writes st, creating parent directories as needed.
// Permissions on the written file are 0600.
func (s *FileStore) Save(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening session file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(st); encErr != nil {
		f.Close()
		return fmt.Errorf("encoding session file: %w", encErr)
	}
	return f.Close()
}

// Clear removes the session file. Removing a missing file is not an error.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// MemoryStore keeps the session in memory only.
type MemoryStore struct {
	mu sync.Mutex
	st State
}

// NewMemoryStore creates a MemoryStore seeded with st.
func NewMemoryStore(st State) *MemoryStore {
	return &MemoryStore{st: st}
}

func (m *MemoryStore) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st, nil
}

func (m *MemoryStore) Save(st State) error {
	m.mu.Lock()
	m.st = st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.st = State{}
	m.mu.Unlock()
	return nil
}
