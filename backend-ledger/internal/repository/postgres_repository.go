package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/pkg/database"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements AccountRepository using PostgreSQL
type PostgresRepository struct {
	db *database.PostgresDB
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db *database.PostgresDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the ledger tables if missing
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by address
func (r *PostgresRepository) GetAccount(ctx context.Context, addr domain.Address) (*domain.Account, error) {
	query := `SELECT owner, lamports, data FROM ledger_accounts WHERE address = $1`

	var (
		owner    []byte
		lamports int64
		data     []byte
	)
	err := r.db.QueryRow(ctx, query, addr.Bytes()).Scan(&owner, &lamports, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return buildAccount(addr, owner, lamports, data)
}

// GetReceipt retrieves a receipt by transaction id
func (r *PostgresRepository) GetReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	return r.scanReceipt(r.db.QueryRow(ctx, `SELECT body FROM ledger_receipts WHERE id = $1`, id))
}

// LatestReceipt returns the receipt with the highest sequence
func (r *PostgresRepository) LatestReceipt(ctx context.Context) (*domain.Receipt, error) {
	return r.scanReceipt(r.db.QueryRow(ctx, `SELECT body FROM ledger_receipts ORDER BY sequence DESC LIMIT 1`))
}

// ListReceipts returns receipts after afterSeq in sequence order
func (r *PostgresRepository) ListReceipts(ctx context.Context, afterSeq uint64, limit int) ([]*domain.Receipt, error) {
	query := `SELECT body FROM ledger_receipts WHERE sequence > $1 ORDER BY sequence ASC LIMIT $2`

	rows, err := r.db.Pool().Query(ctx, query, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*domain.Receipt
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipt, err := decodeReceipt(body)
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
func (r *PostgresRepository) Commit(ctx context.Context, batch *CommitBatch) error {
	body, err := json.Marshal(batch.Receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_receipts (id, sequence, kind, hash, body, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		batch.Receipt.ID,
		int64(batch.Receipt.Sequence),
		string(batch.Receipt.Kind),
		batch.Receipt.Hash[:],
		body,
		batch.Receipt.CommittedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "ledger_receipts_pkey" {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, batch.Receipt.ID)
		}
		return fmt.Errorf("failed to insert receipt: %w", err)
	}

	for _, acc := range batch.Accounts {
		lamports, err := toInt64(acc.Lamports)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_accounts (address, owner, lamports, data, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (address) DO UPDATE
			SET owner = EXCLUDED.owner, lamports = EXCLUDED.lamports, data = EXCLUDED.data, updated_at = NOW()
		`, acc.Address.Bytes(), acc.Owner.Bytes(), lamports, nonNil(acc.Data))
		if err != nil {
			return fmt.Errorf("failed to upsert account %s: %w", acc.Address, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping runs a round-trip query against the pool
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// Close closes the connection pool
func (r *PostgresRepository) Close() error {
	r.db.Close()
	return nil
}

func (r *PostgresRepository) scanReceipt(row pgx.Row) (*domain.Receipt, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return decodeReceipt(body)
}

func decodeReceipt(body []byte) (*domain.Receipt, error) {
	var receipt domain.Receipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return &receipt, nil
}

func buildAccount(addr domain.Address, owner []byte, lamports int64, data []byte) (*domain.Account, error) {
	ownerAddr, err := domain.AddressFromBytes(owner)
	if err != nil {
		return nil, fmt.Errorf("account %s has invalid owner: %w", addr, err)
	}
	if lamports < 0 {
		return nil, fmt.Errorf("account %s has negative balance", addr)
	}
	acc := &domain.Account{Address: addr, Owner: ownerAddr, Lamports: uint64(lamports)}
	if len(data) > 0 {
		acc.Data = data
	}
	return acc, nil
}

func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: balance %d exceeds storage range", domain.ErrArithmeticOverflow, v)
	}
	return int64(v), nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
