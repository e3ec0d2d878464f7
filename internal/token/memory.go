package token

import (
	"context"
	"sync"
)

// MemoryStore keeps the token record in process
type MemoryStore struct {
	mu    sync.Mutex
	token *Token
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil, nil
	}
	t := *s.token
	return &t, nil
}

func (s *MemoryStore) Insert(ctx context.Context, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != nil {
		return ErrDuplicate
	}
	s.token = &t
	return nil
}

func (s *MemoryStore) Replace(ctx context.Context, previous, next Token) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil || s.token.AccessToken != previous.AccessToken {
		return false, nil
	}
	s.token = &next
	return true, nil
}
