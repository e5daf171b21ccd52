package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TokenStore holds the session token between calls
type TokenStore interface {
	Token() string
	SetToken(token string, expiresAt time.Time)
	Clear()
}

// MemoryTokenStore keeps the token in process memory. Expired tokens read
// as empty.
type MemoryTokenStore struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// NewMemoryTokenStore creates an empty MemoryTokenStore
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{now: time.Now}
}

func (s *MemoryTokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || (!s.expiresAt.IsZero() && !s.now().Before(s.expiresAt)) {
		return ""
	}
	return s.token
}

// ExpiresAt returns the expiry of the held token
func (s *MemoryTokenStore) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

func (s *MemoryTokenStore) SetToken(token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiresAt = expiresAt
}

func (s *MemoryTokenStore) Clear() {
	s.SetToken("", time.Time{})
}

type tokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// FileTokenStore persists the token to a JSON file so separate CLI runs
// share one session. Write failures are returned by Err.
type FileTokenStore struct {
	*MemoryTokenStore
	path string

	mu  sync.Mutex
	err error
}

// NewFileTokenStore loads the token stored at path, if any
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	s := &FileTokenStore{MemoryTokenStore: NewMemoryTokenStore(), path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	s.MemoryTokenStore.SetToken(f.Token, f.ExpiresAt)
	return s, nil
}

func (s *FileTokenStore) SetToken(token string, expiresAt time.Time) {
	s.MemoryTokenStore.SetToken(token, expiresAt)
	s.save(tokenFile{Token: token, ExpiresAt: expiresAt})
}

func (s *FileTokenStore) Clear() {
	s.MemoryTokenStore.Clear()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.err = err
	}
}

// Err returns the last persistence error
func (s *FileTokenStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *FileTokenStore) save(f tokenFile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(f)
	if err != nil {
		s.err = err
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		s.err = err
		return
	}
	s.err = os.WriteFile(s.path, data, 0o600)
}
