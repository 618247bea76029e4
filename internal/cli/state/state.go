package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TokenKey is the storage key the bearer token is persisted under.
const TokenKey = "jwtToken"

// TokenState is the persisted credential record.
type TokenState struct {
	Token    string `json:"jwtToken"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

// Session is an immutable snapshot of the credential, taken right before an
// authenticated call and handed to it explicitly.
type Session struct {
	Token  string
	UserID string
}

// Valid reports whether the session carries a token.
func (s Session) Valid() bool {
	return s.Token != ""
}

// Store is the process-wide token holder. Writes go straight to disk.
type Store struct {
	mu    sync.RWMutex
	path  string
	state TokenState
}

// Open loads the token state at path. An empty path keeps the store in memory.
func Open(path string) (*Store, error) {
	st, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, state: st}, nil
}

// NewMemory returns a store that never touches disk.
func NewMemory(token string) *Store {
	return &Store{state: TokenState{Token: token}}
}

// Get returns the current token and whether one is present.
func (s *Store) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token, s.state.Token != ""
}

// Session snapshots the current credential.
func (s *Store) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{Token: s.state.Token, UserID: s.state.UserID}
}

// State returns a copy of the persisted record.
func (s *Store) State() TokenState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Path returns the backing file, empty for memory stores.
func (s *Store) Path() string {
	return s.path
}

// Set stores a new token, dropping any cached user identity.
func (s *Store) Set(token string) error {
	return s.SetWithUser(token, "", "")
}

// SetWithUser stores a token along with the user it belongs to.
func (s *Store) SetWithUser(token, userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = TokenState{Token: token, UserID: userID, Username: username}
	if s.path == "" {
		return nil
	}
	return Save(s.path, s.state)
}

// Clear drops the token and removes the backing file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = TokenState{}
	if s.path == "" {
		return nil
	}
	return Clear(s.path)
}

func Load(path string) (TokenState, error) {
	var st TokenState
	if path == "" {
		return st, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read token state failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse token state failed: %w", err)
	}
	return st, nil
}

func Save(path string, st TokenState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create token state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write token state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token state failed: %w", err)
	}
	return nil
}
