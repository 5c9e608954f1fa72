package store

import (
	"context"
	"sync"

	"github.com/frauddesk/sentinel/internal/model"
)

// MemoryDecisionStore is an in-memory DecisionStore for demo/test use.
type MemoryDecisionStore struct {
	mu        sync.RWMutex
	decisions map[string]*model.Decision
	order     []string // transaction ids in insertion order
}

// NewMemoryDecisionStore creates an in-memory decision store.
func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{decisions: make(map[string]*model.Decision)}
}

func (s *MemoryDecisionStore) Exists(ctx context.Context, transactionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.decisions[transactionID]
	return ok, nil
}

func (s *MemoryDecisionStore) Save(ctx context.Context, d *model.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.Reasons = append([]string(nil), d.Reasons...)
	if _, ok := s.decisions[d.TransactionID]; !ok {
		s.order = append(s.order, d.TransactionID)
	}
	s.decisions[d.TransactionID] = &cp
	return nil
}

func (s *MemoryDecisionStore) ListRecent(ctx context.Context, limit int) ([]*model.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.order) - limit
	if start < 0 {
		start = 0
	}
	result := make([]*model.Decision, 0, len(s.order)-start)
	for i := len(s.order) - 1; i >= start; i-- {
		cp := *s.decisions[s.order[i]]
		cp.Reasons = append([]string(nil), cp.Reasons...)
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryDecisionStore) CountByLabel(ctx context.Context) (map[model.Label]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[model.Label]int64)
	for _, d := range s.decisions {
		counts[d.Decision]++
	}
	return counts, nil
}

// MemoryTransactionStore is an in-memory TransactionStore for demo/test use.
type MemoryTransactionStore struct {
	mu  sync.RWMutex
	txs []*model.Transaction
}

// NewMemoryTransactionStore creates an in-memory transaction store.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{}
}

func (s *MemoryTransactionStore) Save(ctx context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.txs = append(s.txs, &cp)
	return nil
}

func (s *MemoryTransactionStore) ListRecent(ctx context.Context, limit int) ([]*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.txs) - limit
	if start < 0 {
		start = 0
	}
	result := make([]*model.Transaction, 0, len(s.txs)-start)
	for i := len(s.txs) - 1; i >= start; i-- {
		cp := *s.txs[i]
		result = append(result, &cp)
	}
	return result, nil
}
