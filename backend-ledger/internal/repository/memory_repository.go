package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

// MemoryRepository is an in-memory implementation of AccountRepository for tests and development
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[domain.Address]*domain.Account
	receipts map[string]*domain.Receipt
	ordered  []*domain.Receipt
}

// NewMemoryRepository creates a new MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[domain.Address]*domain.Account),
		receipts: make(map[string]*domain.Receipt),
	}
}

// GetAccount retrieves an account by address
func (r *MemoryRepository) GetAccount(ctx context.Context, addr domain.Address) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[addr]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

// GetReceipt retrieves a receipt by transaction id
func (r *MemoryRepository) GetReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.receipts[id].Clone(), nil
}

// LatestReceipt returns the most recent receipt
func (r *MemoryRepository) LatestReceipt(ctx context.Context) (*domain.Receipt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.ordered) == 0 {
		return nil, nil
	}
	return r.ordered[len(r.ordered)-1].Clone(), nil
}

// ListReceipts returns receipts after afterSeq
func (r *MemoryRepository) ListReceipts(ctx context.Context, afterSeq uint64, limit int) ([]*domain.Receipt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := sort.Search(len(r.ordered), func(i int) bool {
		return r.ordered[i].Sequence > afterSeq
	})
	var out []*domain.Receipt
	for i := start; i < len(r.ordered) && len(out) < limit; i++ {
		out = append(out, r.ordered[i].Clone())
	}
	return out, nil
}

// Commit applies the batch
func (r *MemoryRepository) Commit(ctx context.Context, batch *CommitBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.receipts[batch.Receipt.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, batch.Receipt.ID)
	}
	if n := len(r.ordered); n > 0 && r.ordered[n-1].Sequence >= batch.Receipt.Sequence {
		return fmt.Errorf("receipt sequence %d does not follow %d", batch.Receipt.Sequence, r.ordered[n-1].Sequence)
	}

	for _, acc := range batch.Accounts {
		r.accounts[acc.Address] = acc.Clone()
	}
	stored := batch.Receipt.Clone()
	r.receipts[stored.ID] = stored
	r.ordered = append(r.ordered, stored)
	return nil
}

// Ping always succeeds
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}
