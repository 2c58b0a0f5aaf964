package store

import (
	"sync"
	"time"

	"github.com/eventpass/ticketpay/internal/models"
)

// MemoryStore keeps transactions in a mutex-guarded map for the lifetime of
// the process. Records are never evicted.
type MemoryStore struct {
	mutex        sync.RWMutex
	transactions map[string]*models.Transaction
}

// NewMemoryStore creates an empty in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*models.Transaction),
	}
}

func (s *MemoryStore) Create(tx *models.Transaction) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.transactions[tx.ID]; exists {
		return ErrExists
	}

	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	stored := cloneTransaction(tx)
	s.transactions[tx.ID] = stored
	return nil
}

func (s *MemoryStore) Get(id string) (*models.Transaction, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tx, exists := s.transactions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneTransaction(tx), nil
}

// Update holds the write lock for the duration of the mutator, which gives
// the per-id exclusivity the orchestrator relies on. Mutators are in-memory
// only and must not block.
func (s *MemoryStore) Update(id string, mutate func(*models.Transaction) error) (*models.Transaction, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, exists := s.transactions[id]
	if !exists {
		return nil, ErrNotFound
	}

	updated := cloneTransaction(current)
	if err := mutate(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()

	s.transactions[id] = updated
	return cloneTransaction(updated), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneTransaction(tx *models.Transaction) *models.Transaction {
	clone := *tx
	clone.Children = append([]int(nil), tx.Children...)
	return &clone
}
