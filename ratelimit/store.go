package ratelimit

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultStoreSize is the number of scopes a Store tracks.
const DefaultStoreSize = 128

// Store hands out one Bucket per scope. The least recently used scope is
// dropped once the store is full, and starts over disabled if seen again.
type Store struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *Bucket]
	options []Option
}

// NewStore creates a Store holding up to size buckets, each created with
// options.
func NewStore(size int, options ...Option) (*Store, error) {
	buckets, err := lru.New[string, *Bucket](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter store: %w", err)
	}
	return &Store{buckets: buckets, options: options}, nil
}

// ForScope returns the bucket of scope, creating it when needed.
func (s *Store) ForScope(scope string) (*Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets.Get(scope); ok {
		return b, nil
	}
	b, err := New(s.options...)
	if err != nil {
		return nil, err
	}
	s.buckets.Add(scope, b)
	return b, nil
}

func (s *Store) Len() int {
	return s.buckets.Len()
}
