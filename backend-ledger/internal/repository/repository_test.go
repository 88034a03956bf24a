package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/pkg/database"
)

func testReceipt(seq uint64) *domain.Receipt {
	return &domain.Receipt{
		ID:           fmt.Sprintf("tx-%d", seq),
		Kind:         domain.ReceiptKindTransaction,
		Sequence:     seq,
		Hash:         domain.Hash{byte(seq)},
		Signers:      []domain.Address{{1}},
		Instructions: []string{"mint_ticket"},
		Accounts:     []domain.Address{{2}, {3}},
		Logs:         []string{"Ticket #0 minted for event 7"},
		Message:      []byte{0xa2, byte(seq)},
		CommittedAt:  time.Date(2025, 1, 1, 0, 0, int(seq), 0, time.UTC),
	}
}

// runRepositoryContract exercises behaviour every backend must share
func runRepositoryContract(t *testing.T, repo AccountRepository) {
	ctx := context.Background()
	addr := domain.Address{7}

	t.Run("missing account is nil", func(t *testing.T) {
		acc, err := repo.GetAccount(ctx, addr)
		require.NoError(t, err)
		assert.Nil(t, acc)
	})

	t.Run("empty ledger has no latest receipt", func(t *testing.T) {
		r, err := repo.LatestReceipt(ctx)
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("commit stores accounts and receipt", func(t *testing.T) {
		batch := &CommitBatch{
			Accounts: []*domain.Account{
				{Address: addr, Owner: domain.Address{9}, Lamports: 500, Data: []byte{1, 2, 3}},
				{Address: domain.Address{8}, Lamports: 42},
			},
			Receipt: testReceipt(1),
		}
		require.NoError(t, repo.Commit(ctx, batch))

		acc, err := repo.GetAccount(ctx, addr)
		require.NoError(t, err)
		require.NotNil(t, acc)
		assert.Equal(t, uint64(500), acc.Lamports)
		assert.Equal(t, []byte{1, 2, 3}, acc.Data)
		assert.Equal(t, domain.Address{9}, acc.Owner)

		identity, err := repo.GetAccount(ctx, domain.Address{8})
		require.NoError(t, err)
		require.NotNil(t, identity)
		assert.False(t, identity.IsInitialized())

		r, err := repo.GetReceipt(ctx, "tx-1")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, testReceipt(1).Logs, r.Logs)
		assert.Equal(t, testReceipt(1).Hash, r.Hash)
		assert.True(t, testReceipt(1).CommittedAt.Equal(r.CommittedAt))
	})

	t.Run("commit overwrites accounts", func(t *testing.T) {
		batch := &CommitBatch{
			Accounts: []*domain.Account{{Address: addr, Owner: domain.Address{9}, Lamports: 100, Data: []byte{4}}},
			Receipt:  testReceipt(2),
		}
		require.NoError(t, repo.Commit(ctx, batch))

		acc, err := repo.GetAccount(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), acc.Lamports)
		assert.Equal(t, []byte{4}, acc.Data)
	})

	t.Run("duplicate receipt rejected without effect", func(t *testing.T) {
		dup := testReceipt(3)
		dup.ID = "tx-1"
		batch := &CommitBatch{
			Accounts: []*domain.Account{{Address: addr, Lamports: 1}},
			Receipt:  dup,
		}
		err := repo.Commit(ctx, batch)
		assert.ErrorIs(t, err, domain.ErrDuplicateTransaction)

		acc, err := repo.GetAccount(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), acc.Lamports)
	})

	t.Run("receipts list in order", func(t *testing.T) {
		require.NoError(t, repo.Commit(ctx, &CommitBatch{Receipt: testReceipt(3)}))

		latest, err := repo.LatestReceipt(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), latest.Sequence)

		page, err := repo.ListReceipts(ctx, 1, 10)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "tx-2", page[0].ID)
		assert.Equal(t, "tx-3", page[1].ID)

		page, err = repo.ListReceipts(ctx, 0, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "tx-1", page[0].ID)
	})

	t.Run("unknown receipt is nil", func(t *testing.T) {
		r, err := repo.GetReceipt(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	assert.NoError(t, repo.Ping(ctx))
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	runRepositoryContract(t, repo)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	addr := domain.Address{1}

	require.NoError(t, repo.Commit(ctx, &CommitBatch{
		Accounts: []*domain.Account{{Address: addr, Data: []byte{1}}},
		Receipt:  testReceipt(1),
	}))

	acc, err := repo.GetAccount(ctx, addr)
	require.NoError(t, err)
	acc.Data[0] = 99

	again, err := repo.GetAccount(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, byte(1), again.Data[0])
}

func TestSQLiteRepository(t *testing.T) {
	repo, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer repo.Close()
	runRepositoryContract(t, repo)
}

func TestSQLiteRepository_File(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/ledger.db"

	repo, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, repo.Commit(ctx, &CommitBatch{
		Accounts: []*domain.Account{{Address: domain.Address{5}, Lamports: 10}},
		Receipt:  testReceipt(1),
	}))
	require.NoError(t, repo.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	acc, err := reopened.GetAccount(ctx, domain.Address{5})
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, uint64(10), acc.Lamports)
}

func TestPostgresRepository_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	ctx := context.Background()
	cfg := database.DefaultPostgresConfig()
	if host := os.Getenv("TEST_POSTGRES_HOST"); host != "" {
		cfg.Host = host
	}
	if password := os.Getenv("TEST_POSTGRES_PASSWORD"); password != "" {
		cfg.Password = password
	}

	db, err := database.NewPostgres(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer db.Close()

	repo := NewPostgresRepository(db)
	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, db.Exec(ctx, "TRUNCATE ledger_accounts, ledger_receipts"))

	runRepositoryContract(t, repo)
}
