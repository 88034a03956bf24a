package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/address"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/codec"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/repository"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/txn"
	"github.com/prohmpiriya/ticket-ledger/pkg/clock"
	"github.com/prohmpiriya/ticket-ledger/pkg/logger"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingPublisher keeps every published receipt
type recordingPublisher struct {
	mu       sync.Mutex
	receipts []*domain.Receipt
}

func (p *recordingPublisher) Publish(_ context.Context, r *domain.Receipt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts = append(p.receipts, r)
}

func (p *recordingPublisher) Close(context.Context) error { return nil }

func (p *recordingPublisher) published() []*domain.Receipt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.Receipt(nil), p.receipts...)
}

type fixture struct {
	t       *testing.T
	svc     LedgerService
	repo    repository.AccountRepository
	deriver *address.Deriver
	clock   *clock.FakeClock
	pub     *recordingPublisher

	mu    sync.Mutex
	nonce uint64
}

// noRent is the execution config most tests run under so balances stay easy to follow
func noRent() Config {
	cfg := DefaultConfig()
	cfg.RentLamportsPerByteYear = 0
	return cfg
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, cfg, repository.NewMemoryRepository())
}

func newFixtureWithRepo(t *testing.T, cfg Config, repo repository.AccountRepository) *fixture {
	t.Helper()

	deriver := address.NewDeriver(domain.MustParseAddress(address.DefaultProgramID))
	fc := clock.Fake(testEpoch)
	pub := &recordingPublisher{}

	svc, err := NewLedgerService(context.Background(), repo, deriver, pub, cfg,
		WithClock(fc),
		WithLogger(logger.NewWithCore(zapcore.NewNopCore(), "ledger-test")),
	)
	require.NoError(t, err)

	return &fixture{t: t, svc: svc, repo: repo, deriver: deriver, clock: fc, pub: pub}
}

func (f *fixture) keypair(seed byte) *txn.Keypair {
	f.t.Helper()
	kp, err := txn.KeypairFromSeed(bytes.Repeat([]byte{seed}, 32))
	require.NoError(f.t, err)
	return kp
}

func (f *fixture) fund(addr domain.Address, lamports uint64) {
	f.t.Helper()
	_, err := f.svc.Airdrop(context.Background(), addr, lamports, "operator-1")
	require.NoError(f.t, err)
}

func (f *fixture) build(signers []*txn.Keypair, ixs ...txn.Instruction) *txn.Transaction {
	f.t.Helper()
	f.mu.Lock()
	f.nonce++
	nonce := f.nonce
	f.mu.Unlock()

	tx, err := txn.Build(txn.NewMessage(nonce, ixs...), signers...)
	require.NoError(f.t, err)
	return tx
}

func (f *fixture) submit(signers []*txn.Keypair, ixs ...txn.Instruction) (*domain.Receipt, error) {
	f.t.Helper()
	return f.svc.Submit(context.Background(), f.build(signers, ixs...))
}

func (f *fixture) mustSubmit(signers []*txn.Keypair, ixs ...txn.Instruction) *domain.Receipt {
	f.t.Helper()
	r, err := f.submit(signers, ixs...)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) derive(d address.Derived, err error) domain.Address {
	f.t.Helper()
	require.NoError(f.t, err)
	return d.Address
}

func (f *fixture) createEventIx(org domain.Address, id uint32, price uint64, supply uint32, name, date string) (txn.Instruction, domain.Address) {
	f.t.Helper()
	event := f.derive(f.deriver.Event(org, id))
	ix, err := txn.NewCreateEvent(event, org, txn.CreateEventArgs{
		EventID: id,
		Price:   price,
		Supply:  supply,
		Name:    name,
		Date:    date,
	})
	require.NoError(f.t, err)
	return ix, event
}

// createEvent registers an event for org and returns its address
func (f *fixture) createEvent(org *txn.Keypair, id uint32, price uint64, supply uint32) domain.Address {
	f.t.Helper()
	ix, event := f.createEventIx(org.Public, id, price, supply, "Summer Fest", "2026-07-01")
	f.mustSubmit([]*txn.Keypair{org}, ix)
	return event
}

// mintIx builds a mint of the next ticket of event
func (f *fixture) mintIx(event, buyer domain.Address) (txn.Instruction, domain.Address) {
	f.t.Helper()
	sold := f.event(event).Sold
	ticket := f.derive(f.deriver.Ticket(event, sold))
	vault := f.derive(f.deriver.Vault(event))
	return txn.NewMintTicket(event, ticket, vault, buyer), ticket
}

func (f *fixture) mint(event domain.Address, buyer *txn.Keypair) (domain.Address, error) {
	f.t.Helper()
	ix, ticket := f.mintIx(event, buyer.Public)
	_, err := f.submit([]*txn.Keypair{buyer}, ix)
	return ticket, err
}

func (f *fixture) refundIx(event, ticket, owner, authority domain.Address) txn.Instruction {
	f.t.Helper()
	vault := f.derive(f.deriver.Vault(event))
	return txn.NewRefund(event, ticket, vault, owner, authority)
}

func (f *fixture) account(addr domain.Address) *domain.Account {
	f.t.Helper()
	acc, err := f.repo.GetAccount(context.Background(), addr)
	require.NoError(f.t, err)
	if acc == nil {
		return domain.NewEmptyAccount(addr)
	}
	return acc
}

func (f *fixture) balance(addr domain.Address) uint64 {
	return f.account(addr).Lamports
}

func (f *fixture) vaultBalance(event domain.Address) uint64 {
	return f.balance(f.derive(f.deriver.Vault(event)))
}

func (f *fixture) event(addr domain.Address) *domain.Event {
	f.t.Helper()
	e, err := codec.DecodeEvent(f.account(addr).Data)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) ticket(addr domain.Address) *domain.Ticket {
	f.t.Helper()
	tk, err := codec.DecodeTicket(f.account(addr).Data)
	require.NoError(f.t, err)
	return tk
}

func assertLedgerError(t *testing.T, err error, want *domain.LedgerError) {
	t.Helper()
	require.Error(t, err)
	got, ok := domain.AsLedgerError(err)
	require.True(t, ok, "expected a ledger error, got %v", err)
	assert.Equal(t, want.Name, got.Name, "error: %v", err)
	assert.ErrorIs(t, err, want)
}
