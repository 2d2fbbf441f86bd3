package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// SessionState contains the credential of a logged-in user.
type SessionState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Username is the account the tokens belong to (informational).
	Username string `json:"username,omitempty"`

	// AccessToken is the bearer token sent with every request.
	AccessToken string `json:"access_token"`

	// RefreshToken is exchanged for a new access token when it expires.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is when AccessToken stops being accepted. Zero means unknown.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// SessionStore manages persistence of session state to a JSON file.
type SessionStore struct {
	mu   sync.Mutex
	path string
}

// NewSessionStore creates a new session store.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Path returns the file the store writes to.
func (s *SessionStore) Path() string {
	return s.path
}

// Save persists the session state to disk.
func (s *SessionStore) Save(state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.Version = StateVersion
	state.SavedAt = time.Now()
	return writeJSON(s.path, state, 0600)
}

// Load reads the session state from disk.
// Returns nil, nil if the file doesn't exist (no session).
func (s *SessionStore) Load() (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &SessionState{}
	ok, err := readJSON(s.path, state)
	if !ok {
		return nil, err
	}
	return state, nil
}

// Clear removes the state file.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path)
}

// WatchState contains the subscriptions a client restores on start.
type WatchState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Subscriptions are the saved scope/prefix pairs in creation order.
	Subscriptions []SavedSubscription `json:"subscriptions,omitempty"`
}

// SavedSubscription is one persisted subscription.
type SavedSubscription struct {
	// Scope is the scope in "public", "mine" or "device:<id>" form.
	Scope string `json:"scope"`

	// Prefix is the event name prefix; empty matches everything.
	Prefix string `json:"prefix,omitempty"`

	// CreatedAt is when the subscription was first made.
	CreatedAt time.Time `json:"created_at"`
}

// WatchStore manages persistence of watch state to a JSON file.
type WatchStore struct {
	mu   sync.Mutex
	path string
}

// NewWatchStore creates a new watch state store.
func NewWatchStore(path string) *WatchStore {
	return &WatchStore{path: path}
}

// Save persists the watch state to disk.
func (s *WatchStore) Save(state *WatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}
	return writeJSON(s.path, state, 0644)
}

// Load reads the watch state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *WatchStore) Load() (*WatchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &WatchState{}
	ok, err := readJSON(s.path, state)
	if !ok {
		return nil, err
	}
	return state, nil
}

// Clear removes the state file.
func (s *WatchStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path)
}

func writeJSON(path string, v any, perm os.FileMode) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	// Replace atomically.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readJSON returns false with a nil error if the file does not exist.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func removeFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
