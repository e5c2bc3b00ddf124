// Package auth persists the CLI's session tokens in the OS keychain/credential
// manager, falling back to process memory when no keyring is available.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zalando/go-keyring"
)

const service = "stashd-cli"

// TokenPair is the persisted session state: the access token plus the optional
// refresh token and user id that came with it. It is stored as one keyring item,
// so a save either lands completely or not at all.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// TokenStore persists and retrieves the session token pair.
// Read returns (nil, nil) when no pair is stored.
type TokenStore interface {
	Save(pair TokenPair) error
	Read() (*TokenPair, error)
	Clear() error
}

// keyringKey returns the keyring item name for an API host, so sessions against
// different endpoints don't clobber each other
func keyringKey(host string) string {
	return fmt.Sprintf("session-%s", host)
}

// Store is the default TokenStore. It writes to the OS keyring; if the keyring
// is unavailable it degrades to memory-only storage (session won't survive the
// process) and logs a single warning.
type Store struct {
	host   string
	logger zerolog.Logger

	mu      sync.Mutex
	memOnly bool
	mem     *TokenPair
}

// NewStore creates a token store scoped to the given API host
func NewStore(host string, logger zerolog.Logger) *Store {
	return &Store{host: host, logger: logger}
}

// Save overwrites the stored token pair
func (s *Store) Save(pair TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}

	if !s.memOnly {
		if err := keyring.Set(service, keyringKey(s.host), string(data)); err != nil {
			s.degrade(err)
		} else {
			s.mem = nil
			return nil
		}
	}

	copied := pair
	s.mem = &copied
	return nil
}

// Read retrieves the stored token pair, or nil when not authenticated
func (s *Store) Read() (*TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.memOnly {
		return s.mem, nil
	}

	data, err := keyring.Get(service, keyringKey(s.host))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		s.degrade(err)
		return s.mem, nil
	}

	var pair TokenPair
	if err := json.Unmarshal([]byte(data), &pair); err != nil {
		return nil, fmt.Errorf("failed to decode stored tokens: %w", err)
	}
	return &pair, nil
}

// Clear removes the stored token pair. Clearing an empty store is a no-op.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem = nil
	if s.memOnly {
		return nil
	}

	if err := keyring.Delete(service, keyringKey(s.host)); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

// degrade switches to memory-only mode after a keyring failure
func (s *Store) degrade(err error) {
	if s.memOnly {
		return
	}
	s.memOnly = true
	s.logger.Warn().Err(err).
		Msg("OS keyring unavailable, keeping session in memory only")
}

// MemoryStore is an in-memory TokenStore for tests
type MemoryStore struct {
	mu   sync.Mutex
	pair *TokenPair
}

// NewMemoryStore creates an empty in-memory token store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save overwrites the stored token pair
func (m *MemoryStore) Save(pair TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := pair
	m.pair = &copied
	return nil
}

// Read retrieves the stored token pair, or nil when empty
func (m *MemoryStore) Read() (*TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair, nil
}

// Clear removes the stored token pair
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = nil
	return nil
}
