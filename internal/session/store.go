package session

import (
	"strings"
	"sync"
)

// Pair is the credential pair issued at login.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (p Pair) Empty() bool {
	return strings.TrimSpace(p.AccessToken) == "" && strings.TrimSpace(p.RefreshToken) == ""
}

// Store is the single owner of the credential pair. The API client reads
// and writes it; the realtime channel only reads the access token.
type Store interface {
	Credentials() Pair
	Set(Pair) error
	SetAccessToken(token string) error
	Clear() error
}

type MemoryStore struct {
	mu   sync.RWMutex
	pair Pair
}

func NewMemoryStore(initial Pair) *MemoryStore {
	return &MemoryStore{pair: initial}
}

func (s *MemoryStore) Credentials() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

func (s *MemoryStore) Set(pair Pair) error {
	s.mu.Lock()
	s.pair = pair
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetAccessToken(token string) error {
	s.mu.Lock()
	s.pair.AccessToken = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.pair = Pair{}
	s.mu.Unlock()
	return nil
}

// AccessToken adapts a Store to the token accessor the realtime channel
// evaluates on every connection attempt.
func AccessToken(store Store) func() string {
	return func() string {
		return store.Credentials().AccessToken
	}
}
