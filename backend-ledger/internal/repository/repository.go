package repository

import (
	"context"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

// CommitBatch is the write set of one transaction: every touched account plus its receipt
type CommitBatch struct {
	Accounts []*domain.Account
	Receipt  *domain.Receipt
}

// AccountRepository defines the interface for ledger state access
type AccountRepository interface {
	// GetAccount retrieves an account by address, returning nil if it does not exist
	GetAccount(ctx context.Context, addr domain.Address) (*domain.Account, error)
	// GetReceipt retrieves a committed receipt by transaction id, returning nil if absent
	GetReceipt(ctx context.Context, id string) (*domain.Receipt, error)
	// LatestReceipt returns the receipt with the highest sequence, or nil on an empty ledger
	LatestReceipt(ctx context.Context) (*domain.Receipt, error)
	// ListReceipts returns up to limit receipts with sequence greater than afterSeq, in order
	ListReceipts(ctx context.Context, afterSeq uint64, limit int) ([]*domain.Receipt, error)
	// Commit atomically upserts the batch accounts and inserts the receipt.
	// A receipt id that already exists fails with domain.ErrDuplicateTransaction.
	Commit(ctx context.Context, batch *CommitBatch) error
	// Ping checks the backing store
	Ping(ctx context.Context) error
	// Close releases resources
	Close() error
}
