package retry

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultBudgetCapacity is the retry budget of a scope.
	DefaultBudgetCapacity = 500
	// DefaultRetryCost is the budget a retry consumes.
	DefaultRetryCost = 5
	// LegacyThrottlingRetryCost is what a throttling retry costs in
	// ModeLegacy.
	LegacyThrottlingRetryCost = 0

	scopeStoreSize = 128
)

type acquireResult struct {
	requested int
	acquired  int
	remaining int
	max       int
	ok        bool
}

// budget is the retry budget of one scope. Failed attempts take from it,
// successful calls give back.
type budget struct {
	mu       sync.Mutex
	capacity int
	max      int
}

func (b *budget) tryAcquire(n int) acquireResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := acquireResult{requested: n, max: b.max}
	if n > b.capacity {
		res.remaining = b.capacity
		return res
	}
	b.capacity -= n
	res.acquired = n
	res.remaining = b.capacity
	res.ok = true
	return res
}

func (b *budget) release(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = min(b.capacity+n, b.max)
	return b.capacity
}

func (b *budget) current() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity, b.max
}

type budgetStore struct {
	mu       sync.Mutex
	budgets  *lru.Cache[string, *budget]
	capacity int
}

func newBudgetStore(capacity int) (*budgetStore, error) {
	budgets, err := lru.New[string, *budget](scopeStoreSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry budget store: %w", err)
	}
	return &budgetStore{budgets: budgets, capacity: capacity}, nil
}

func (s *budgetStore) forScope(scope string) *budget {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.budgets.Get(scope); ok {
		return b
	}
	b := &budget{capacity: s.capacity, max: s.capacity}
	s.budgets.Add(scope, b)
	return b
}
