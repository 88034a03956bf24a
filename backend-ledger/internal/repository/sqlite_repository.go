package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

// SQLiteRepository implements AccountRepository on an embedded SQLite database
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema exists.
// Use ":memory:" for a private in-memory ledger.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)

	repo := NewSQLiteRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLiteRepository creates a new SQLiteRepository over an open handle
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// EnsureSchema creates the ledger tables if missing
func (r *SQLiteRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create ledger schema: %w", err)
		}
	}
	return nil
}

// GetAccount retrieves an account by address
func (r *SQLiteRepository) GetAccount(ctx context.Context, addr domain.Address) (*domain.Account, error) {
	var (
		owner    []byte
		lamports int64
		data     []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT owner, lamports, data FROM ledger_accounts WHERE address = ?`, addr.Bytes(),
	).Scan(&owner, &lamports, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return buildAccount(addr, owner, lamports, data)
}

// GetReceipt retrieves a receipt by transaction id
func (r *SQLiteRepository) GetReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	return r.scanReceipt(r.db.QueryRowContext(ctx, `SELECT body FROM ledger_receipts WHERE id = ?`, id))
}

// LatestReceipt returns the receipt with the highest sequence
func (r *SQLiteRepository) LatestReceipt(ctx context.Context) (*domain.Receipt, error) {
	return r.scanReceipt(r.db.QueryRowContext(ctx, `SELECT body FROM ledger_receipts ORDER BY sequence DESC LIMIT 1`))
}

// ListReceipts returns receipts after afterSeq in sequence order
func (r *SQLiteRepository) ListReceipts(ctx context.Context, afterSeq uint64, limit int) ([]*domain.Receipt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM ledger_receipts WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`,
		int64(afterSeq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*domain.Receipt
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipt, err := decodeReceipt([]byte(body))
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipts: %w", err)
	}
	return receipts, nil
}

// Commit upserts the batch accounts and inserts the receipt in one transaction
func (r *SQLiteRepository) Commit(ctx context.Context, batch *CommitBatch) error {
	body, err := json.Marshal(batch.Receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM ledger_receipts WHERE id = ?`, batch.Receipt.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check receipt: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, batch.Receipt.ID)
	}

	for _, acc := range batch.Accounts {
		lamports, err := toInt64(acc.Lamports)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_accounts (address, owner, lamports, data) VALUES (?, ?, ?, ?)
			ON CONFLICT (address) DO UPDATE
			SET owner = excluded.owner, lamports = excluded.lamports, data = excluded.data
		`, acc.Address.Bytes(), acc.Owner.Bytes(), lamports, nonNil(acc.Data))
		if err != nil {
			return fmt.Errorf("failed to upsert account %s: %w", acc.Address, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_receipts (id, sequence, kind, hash, body, committed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		batch.Receipt.ID,
		int64(batch.Receipt.Sequence),
		string(batch.Receipt.Kind),
		batch.Receipt.Hash[:],
		string(body),
		batch.Receipt.CommittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database handle
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) scanReceipt(row *sql.Row) (*domain.Receipt, error) {
	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return decodeReceipt([]byte(body))
}
