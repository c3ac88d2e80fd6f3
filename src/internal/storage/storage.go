package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"pushguard/src/internal/tasks"
)

const (
	credentialsState = "credentials"
	snapshotState    = "snapshot"
)

type Storage struct {
	baseDir string
	mu      sync.RWMutex
}

// Credentials is what the web client keeps in localStorage after login.
type Credentials struct {
	Token   string         `json:"token"`
	User    map[string]any `json:"user,omitempty"`
	SavedAt time.Time      `json:"saved_at"`
}

// SavedSnapshot is the last sanitized task listing seen by the interceptor.
// It is kept as msgpack next to the JSON state files.
type SavedSnapshot struct {
	Version uint64         `json:"version" msgpack:"version"`
	URL     string         `json:"url" msgpack:"url"`
	At      time.Time      `json:"at" msgpack:"at"`
	Records []tasks.Record `json:"records" msgpack:"records"`
	Repairs int            `json:"repairs" msgpack:"repairs"`
}

func New(baseDir string) (*Storage, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, err
		}
	}
	return &Storage{baseDir: baseDir}, nil
}

func (s *Storage) GetBaseDir() string {
	return s.baseDir
}

func (s *Storage) SaveState(name string, state interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, name+".json")
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (s *Storage) LoadState(name string, state interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.baseDir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, state)
}

func (s *Storage) removeState(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.baseDir, name+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Storage) SaveCredentials(token string, user map[string]any) error {
	return s.SaveState(credentialsState, Credentials{Token: token, User: user, SavedAt: time.Now()})
}

// Credentials returns the stored login, or a zero value when nobody is
// logged in.
func (s *Storage) Credentials() (Credentials, error) {
	var c Credentials
	err := s.LoadState(credentialsState, &c)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, nil
	}
	return c, err
}

// Token returns the bearer token, empty when none is stored or the file is
// unreadable.
func (s *Storage) Token() string {
	c, err := s.Credentials()
	if err != nil {
		return ""
	}
	return c.Token
}

// ClearCredentials drops token and user together, matching a 401 or an
// explicit logout.
func (s *Storage) ClearCredentials() error {
	return s.removeState(credentialsState)
}

func (s *Storage) SaveSnapshot(snap SavedSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.baseDir, snapshotState+".msgpack"), data, 0600)
}

// LoadSnapshot returns the last saved listing. ok is false when nothing has
// been saved yet.
func (s *Storage) LoadSnapshot() (snap SavedSnapshot, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, snapshotState+".msgpack"))
	if errors.Is(err, os.ErrNotExist) {
		return SavedSnapshot{}, false, nil
	}
	if err != nil {
		return SavedSnapshot{}, false, err
	}

	// numbers come back as int64/uint64/float64, like the wire decoder's
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&snap); err != nil {
		return SavedSnapshot{}, false, err
	}
	return snap, true, nil
}
