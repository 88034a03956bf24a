package service

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/address"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/journal"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/publisher"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/repository"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/txn"
	"github.com/prohmpiriya/ticket-ledger/pkg/clock"
	"github.com/prohmpiriya/ticket-ledger/pkg/logger"
	"github.com/prohmpiriya/ticket-ledger/pkg/telemetry"
)

// Journal listing page bounds
const (
	DefaultReceiptPageSize = 20
	MaxReceiptPageSize     = 100
)

// ReceiptPageSize clamps a requested journal page size
func ReceiptPageSize(limit int) int {
	switch {
	case limit <= 0:
		return DefaultReceiptPageSize
	case limit > MaxReceiptPageSize:
		return MaxReceiptPageSize
	}
	return limit
}

// LedgerService errors
var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrReceiptNotFound  = errors.New("transaction not found")
	ErrAirdropTarget    = errors.New("airdrop target must be an identity address")
	ErrAirdropAmount    = errors.New("invalid airdrop amount")
	ErrLamportsNotKept  = errors.New("transaction does not conserve lamports")
	ErrEmptyTransaction = errors.New("transaction is empty")
	ErrOperatorRequired = errors.New("airdrop requires an operator")
)

// LedgerService executes signed transactions against the account store
type LedgerService interface {
	// Submit verifies and executes tx all-or-nothing, returning its committed receipt
	Submit(ctx context.Context, tx *txn.Transaction) (*domain.Receipt, error)
	// Airdrop credits lamports to an identity account on behalf of an operator
	Airdrop(ctx context.Context, to domain.Address, lamports uint64, operator string) (*domain.Receipt, error)
	GetAccount(ctx context.Context, addr domain.Address) (*domain.Account, error)
	GetReceipt(ctx context.Context, id string) (*domain.Receipt, error)
	// ListReceipts pages through the journal in sequence order after the given sequence.
	// The bool reports whether more receipts follow the page.
	ListReceipts(ctx context.Context, after uint64, limit int) ([]*domain.Receipt, bool, error)
	// VerifyJournal recomputes the receipt hash chain from storage
	VerifyJournal(ctx context.Context) (journal.VerifyResult, error)
	// Head returns the latest journal sequence and hash
	Head() (uint64, domain.Hash)
	Deriver() *address.Deriver
	Ping(ctx context.Context) error
}

// Config holds the execution rules of the ledger
type Config struct {
	RentLamportsPerByteYear uint64
	AllowHolderRefund       bool
	MaxInstructions         int
	MaxAirdropLamports      uint64
	JournalPageSize         int
}

// DefaultConfig returns the default execution rules
func DefaultConfig() Config {
	return Config{
		RentLamportsPerByteYear: 3480,
		MaxInstructions:         8,
		MaxAirdropLamports:      1_000_000_000_000,
		JournalPageSize:         500,
	}
}

// ExecutionError attributes a rejection to one instruction of a transaction
type ExecutionError struct {
	Index       int
	Instruction string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("instruction %d (%s): %v", e.Index, e.Instruction, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Option customizes a ledger service
type Option func(*ledgerService)

// WithClock sets the clock used for registration and commit timestamps
func WithClock(c clock.Clock) Option {
	return func(s *ledgerService) { s.clock = c }
}

// WithLogger sets the service logger
func WithLogger(l *logger.Logger) Option {
	return func(s *ledgerService) { s.log = l }
}

// ledgerService implements the LedgerService interface
type ledgerService struct {
	repo      repository.AccountRepository
	deriver   *address.Deriver
	publisher publisher.ReceiptPublisher
	journal   *journal.Journal
	locker    *AccountLocker
	clock     clock.Clock
	log       *logger.Logger
	cfg       Config
	metrics   *ledgerMetrics
}

// NewLedgerService creates a new LedgerService, resuming the journal from the latest stored receipt
func NewLedgerService(
	ctx context.Context,
	repo repository.AccountRepository,
	deriver *address.Deriver,
	pub publisher.ReceiptPublisher,
	cfg Config,
	opts ...Option,
) (LedgerService, error) {
	latest, err := repo.LatestReceipt(ctx)
	if err != nil {
		return nil, fmt.Errorf("load journal head: %w", err)
	}
	if pub == nil {
		pub = publisher.NewNoopPublisher()
	}
	if cfg.MaxInstructions <= 0 {
		cfg.MaxInstructions = DefaultConfig().MaxInstructions
	}

	s := &ledgerService{
		repo:      repo,
		deriver:   deriver,
		publisher: pub,
		journal:   journal.New(latest),
		locker:    NewAccountLocker(),
		clock:     clock.Real(),
		cfg:       cfg,
		metrics:   newLedgerMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get()
	}
	return s, nil
}

// Submit verifies and executes a signed transaction
func (s *ledgerService) Submit(ctx context.Context, tx *txn.Transaction) (*domain.Receipt, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.submit")
	defer span.End()

	start := time.Now()
	receipt, err := s.submit(ctx, tx)
	if err != nil {
		telemetry.SetSpanError(ctx, err)
		span.SetStatus(codes.Error, err.Error())
		s.recordRejection(ctx, tx, err)
		return nil, err
	}

	record(ctx, s.metrics.commitLatency, time.Since(start).Seconds(), telemetry.ReceiptKindAttr(string(receipt.Kind)))
	inc(ctx, s.metrics.transactions, telemetry.ReceiptKindAttr(string(receipt.Kind)))
	span.SetAttributes(telemetry.TxIDAttr(receipt.ID))
	s.log.InfoContext(ctx, "transaction committed",
		zap.String("tx_id", receipt.ID),
		zap.Uint64("sequence", receipt.Sequence),
		zap.Strings("instructions", receipt.Instructions),
	)
	return receipt, nil
}

func (s *ledgerService) submit(ctx context.Context, tx *txn.Transaction) (*domain.Receipt, error) {
	if tx == nil || tx.Message == nil || len(tx.Message.Instructions) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInstruction, ErrEmptyTransaction)
	}
	msg := tx.Message
	if len(msg.Instructions) > s.cfg.MaxInstructions {
		return nil, fmt.Errorf("%w: %d instructions exceeds limit of %d",
			domain.ErrInvalidInstruction, len(msg.Instructions), s.cfg.MaxInstructions)
	}
	if err := tx.Verify(); err != nil {
		return nil, err
	}

	id := tx.ID()
	existing, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, id)
	}

	addrs := msg.Addresses()
	var writable, readonly []domain.Address
	for _, a := range addrs {
		if msg.Writable(a) {
			writable = append(writable, a)
		} else {
			readonly = append(readonly, a)
		}
	}
	unlock := s.locker.Lock(writable, readonly)
	defer unlock()

	set, err := loadAccounts(ctx, s.repo, addrs)
	if err != nil {
		return nil, err
	}
	before, err := set.totalLamports()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	var (
		logs  []string
		names = make([]string, 0, len(msg.Instructions))
	)
	for i := range msg.Instructions {
		ix := &msg.Instructions[i]
		ixLogs, err := s.runInstruction(ctx, tx, set, ix, now)
		if err != nil {
			return nil, &ExecutionError{Index: i, Instruction: ix.Program, Err: err}
		}
		logs = append(logs, ixLogs...)
		names = append(names, ix.Program)
	}

	after, err := set.totalLamports()
	if err != nil {
		return nil, err
	}
	if after != before {
		return nil, fmt.Errorf("%w: %d before, %d after", ErrLamportsNotKept, before, after)
	}

	dirty := set.dirty()
	for _, acc := range dirty {
		if !msg.Writable(acc.Address) {
			return nil, fmt.Errorf("%w: %s was modified", domain.ErrAccountNotWritable, acc.Address)
		}
	}

	receipt := &domain.Receipt{
		ID:           id,
		Kind:         domain.ReceiptKindTransaction,
		Signers:      tx.Signers(),
		Instructions: names,
		Accounts:     addrs,
		Logs:         logs,
		Message:      tx.Raw,
		CommittedAt:  now,
	}
	if err := s.commit(ctx, dirty, receipt); err != nil {
		return nil, err
	}

	s.recordInstructionMetrics(ctx, msg, set)
	return receipt, nil
}

// runInstruction checks an instruction's account roles and runs its handler against the overlay
func (s *ledgerService) runInstruction(ctx context.Context, tx *txn.Transaction, set *accountSet, ix *txn.Instruction, now time.Time) ([]string, error) {
	_, span := telemetry.StartSpan(ctx, "service.ledger.instruction")
	defer span.End()
	span.SetAttributes(telemetry.InstructionAttr(ix.Program))

	h, ok := instructionHandlers[ix.Program]
	if !ok {
		return nil, fmt.Errorf("%w: unknown instruction %q", domain.ErrInvalidInstruction, ix.Program)
	}
	if len(ix.Accounts) != len(h.roles) {
		return nil, fmt.Errorf("%w: %s expects %d accounts, got %d",
			domain.ErrInvalidInstruction, ix.Program, len(h.roles), len(ix.Accounts))
	}

	accounts := make([]*domain.Account, len(h.roles))
	for i, role := range h.roles {
		meta := ix.Accounts[i]
		if role.writable && !meta.Writable {
			return nil, fmt.Errorf("%w: %s (%s)", domain.ErrAccountNotWritable, role.name, meta.Address)
		}
		if role.signer && (!meta.Signer || !tx.IsSigner(meta.Address)) {
			return nil, fmt.Errorf("%w: %s (%s)", domain.ErrMissingSignature, role.name, meta.Address)
		}
		accounts[i] = set.get(meta.Address)
	}

	inv := &invocation{
		ix:       ix,
		accounts: accounts,
		deriver:  s.deriver,
		rules:    s.cfg,
		now:      now.Unix(),
	}
	balances := set.snapshotLamports()
	if err := h.execute(inv); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	var allowed *domain.Address
	if h.withdraws != nil {
		allowed = h.withdraws(inv)
	}
	if err := checkVaultCustody(balances, set, allowed); err != nil {
		return nil, err
	}
	return inv.logs, nil
}

// commit appends receipt to the journal and persists it with the write set in one step
func (s *ledgerService) commit(ctx context.Context, dirty []*domain.Account, receipt *domain.Receipt) error {
	err := s.journal.Append(receipt, func(r *domain.Receipt) error {
		return s.repo.Commit(ctx, &repository.CommitBatch{Accounts: dirty, Receipt: r})
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateTransaction) {
			return err
		}
		return fmt.Errorf("commit %s: %w", receipt.ID, err)
	}
	s.publisher.Publish(ctx, receipt.Clone())
	return nil
}

// Airdrop credits an identity account from outside the ledger
func (s *ledgerService) Airdrop(ctx context.Context, to domain.Address, lamports uint64, operator string) (*domain.Receipt, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.airdrop")
	defer span.End()
	span.SetAttributes(telemetry.AccountAttr(to.String()))

	receipt, err := s.airdrop(ctx, to, lamports, operator)
	if err != nil {
		telemetry.SetSpanError(ctx, err)
		span.SetStatus(codes.Error, err.Error())
		s.log.WarnContext(ctx, "airdrop rejected",
			zap.String("to", to.String()),
			zap.Uint64("lamports", lamports),
			zap.String("operator", operator),
			zap.Error(err),
		)
		return nil, err
	}

	inc(ctx, s.metrics.airdrops)
	s.log.InfoContext(ctx, "airdrop committed",
		zap.String("tx_id", receipt.ID),
		zap.String("to", to.String()),
		zap.Uint64("lamports", lamports),
		zap.String("operator", operator),
	)
	return receipt, nil
}

// airdropRecord is the journaled body of an airdrop
type airdropRecord struct {
	To       domain.Address `cbor:"1,keyasint"`
	Lamports uint64         `cbor:"2,keyasint"`
	Operator string         `cbor:"3,keyasint"`
	IssuedAt int64          `cbor:"4,keyasint"`
}

func (s *ledgerService) airdrop(ctx context.Context, to domain.Address, lamports uint64, operator string) (*domain.Receipt, error) {
	if operator == "" {
		return nil, ErrOperatorRequired
	}
	if lamports == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrAirdropAmount)
	}
	if s.cfg.MaxAirdropLamports > 0 && lamports > s.cfg.MaxAirdropLamports {
		return nil, fmt.Errorf("%w: %d exceeds limit of %d", ErrAirdropAmount, lamports, s.cfg.MaxAirdropLamports)
	}
	if !to.IsOnCurve() {
		return nil, fmt.Errorf("%w: %s", ErrAirdropTarget, to)
	}

	unlock := s.locker.Lock([]domain.Address{to}, nil)
	defer unlock()

	acc, err := s.repo.GetAccount(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", to, err)
	}
	if acc == nil {
		acc = domain.NewEmptyAccount(to)
	}
	if acc.Owner != domain.SystemOwner {
		return nil, fmt.Errorf("%w: %s", ErrAirdropTarget, to)
	}
	balance, carry := bits.Add64(acc.Lamports, lamports, 0)
	if carry != 0 {
		return nil, domain.ErrArithmeticOverflow
	}
	acc.Lamports = balance

	now := s.clock.Now().UTC()
	body, err := txn.Marshal(airdropRecord{To: to, Lamports: lamports, Operator: operator, IssuedAt: now.Unix()})
	if err != nil {
		return nil, fmt.Errorf("encode airdrop: %w", err)
	}
	receipt := &domain.Receipt{
		ID:          uuid.NewString(),
		Kind:        domain.ReceiptKindAirdrop,
		Accounts:    []domain.Address{to},
		Logs:        []string{fmt.Sprintf("Airdropped %d lamports to %s by operator %s", lamports, to, operator)},
		Message:     body,
		CommittedAt: now,
	}
	if err := s.commit(ctx, []*domain.Account{acc}, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetAccount returns the stored account at addr
func (s *ledgerService) GetAccount(ctx context.Context, addr domain.Address) (*domain.Account, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.get_account")
	defer span.End()

	acc, err := s.repo.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

// GetReceipt returns the committed receipt for a transaction id
func (s *ledgerService) GetReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.get_receipt")
	defer span.End()

	r, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrReceiptNotFound
	}
	return r, nil
}

func (s *ledgerService) ListReceipts(ctx context.Context, after uint64, limit int) ([]*domain.Receipt, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.list_receipts")
	defer span.End()

	limit = ReceiptPageSize(limit)
	page, err := s.repo.ListReceipts(ctx, after, limit+1)
	if err != nil {
		telemetry.SetSpanError(ctx, err)
		return nil, false, fmt.Errorf("list receipts after %d: %w", after, err)
	}
	if len(page) > limit {
		return page[:limit], true, nil
	}
	return page, false, nil
}

// VerifyJournal recomputes the chain over every stored receipt
func (s *ledgerService) VerifyJournal(ctx context.Context) (journal.VerifyResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.verify_journal")
	defer span.End()

	res, err := journal.VerifyChain(ctx, s.repo, s.cfg.JournalPageSize)
	if err != nil {
		telemetry.SetSpanError(ctx, err)
		s.log.ErrorContext(ctx, "journal verification failed", zap.Uint64("verified", res.Entries), zap.Error(err))
		return res, err
	}
	return res, nil
}

func (s *ledgerService) Head() (uint64, domain.Hash) {
	return s.journal.Head()
}

func (s *ledgerService) Deriver() *address.Deriver {
	return s.deriver
}

func (s *ledgerService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *ledgerService) recordRejection(ctx context.Context, tx *txn.Transaction, err error) {
	fields := []zap.Field{zap.Error(err)}
	if tx != nil {
		fields = append(fields, zap.String("tx_id", tx.ID()))
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		fields = append(fields, zap.Int("instruction_index", execErr.Index), zap.String("instruction", execErr.Instruction))
	}

	le, ok := domain.AsLedgerError(err)
	if !ok {
		inc(ctx, s.metrics.failures, telemetry.ErrorTypeAttr("internal"))
		s.log.ErrorContext(ctx, "transaction failed", fields...)
		return
	}
	inc(ctx, s.metrics.failures, telemetry.ErrorCodeAttr(le.Code))
	s.log.InfoContext(ctx, "transaction rejected", append(fields, zap.String("reason", le.Name))...)
}

func (s *ledgerService) recordInstructionMetrics(ctx context.Context, msg *txn.Message, set *accountSet) {
	for _, ix := range msg.Instructions {
		switch ix.Program {
		case txn.MintTicket:
			inc(ctx, s.metrics.ticketsMinted)
		case txn.Refund:
			inc(ctx, s.metrics.refunds)
		default:
			continue
		}
		vault := set.get(ix.Accounts[2].Address)
		record(ctx, s.metrics.vaultLamports, float64(vault.Lamports), telemetry.InstructionAttr(ix.Program))
	}
}
