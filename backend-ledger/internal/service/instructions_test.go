package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/codec"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/txn"
)

func TestScenarioA_SellOut(t *testing.T) {
	f := newFixture(t, noRent())
	org, b1, b2, b3 := f.keypair(1), f.keypair(2), f.keypair(3), f.keypair(4)
	for _, b := range []*txn.Keypair{b1, b2, b3} {
		f.fund(b.Public, 1_000)
	}
	event := f.createEvent(org, 7, 100, 2)

	t1, err := f.mint(event, b1)
	require.NoError(t, err)
	t2, err := f.mint(event, b2)
	require.NoError(t, err)

	assert.Equal(t, uint32(0), f.ticket(t1).TicketID)
	assert.Equal(t, uint32(1), f.ticket(t2).TicketID)
	assert.Equal(t, uint32(2), f.event(event).Sold)
	assert.Equal(t, uint64(200), f.vaultBalance(event))

	_, err = f.mint(event, b3)
	assertLedgerError(t, err, domain.ErrEventSoldOut)
	assert.Equal(t, uint32(2), f.event(event).Sold)
	assert.Equal(t, uint64(1_000), f.balance(b3.Public))
	assert.Equal(t, uint64(200), f.vaultBalance(event))
}

func TestScenarioB_UsedTicketCannotMove(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer, friend := f.keypair(1), f.keypair(2), f.keypair(3)
	f.fund(buyer.Public, 500)
	event := f.createEvent(org, 1, 100, 10)
	ticket, err := f.mint(event, buyer)
	require.NoError(t, err)

	f.mustSubmit([]*txn.Keypair{org}, txn.NewCheckIn(event, ticket, org.Public))
	assert.True(t, f.ticket(ticket).IsUsed())

	_, err = f.submit([]*txn.Keypair{buyer}, txn.NewTransferTicket(ticket, buyer.Public, friend.Public))
	assertLedgerError(t, err, domain.ErrTicketAlreadyUsed)

	_, err = f.submit([]*txn.Keypair{org}, txn.NewCheckIn(event, ticket, org.Public))
	assertLedgerError(t, err, domain.ErrAlreadyCheckedIn)
	assert.Equal(t, buyer.Public, f.ticket(ticket).Owner)
}

func TestScenarioC_CancelAndRefund(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer := f.keypair(1), f.keypair(2)
	f.fund(buyer.Public, 500)
	event := f.createEvent(org, 3, 150, 5)
	ticket, err := f.mint(event, buyer)
	require.NoError(t, err)
	assert.Equal(t, uint64(350), f.balance(buyer.Public))

	_, err = f.submit([]*txn.Keypair{org}, f.refundIx(event, ticket, buyer.Public, org.Public))
	assertLedgerError(t, err, domain.ErrEventNotCanceled)

	r := f.mustSubmit([]*txn.Keypair{org}, txn.NewCancelEvent(event, org.Public))
	assert.Contains(t, r.Logs, "Event 'Summer Fest' (ID: 3) has been canceled by "+org.Public.String())
	assert.True(t, f.event(event).IsCanceled())

	r = f.mustSubmit([]*txn.Keypair{org}, f.refundIx(event, ticket, buyer.Public, org.Public))
	assert.Equal(t, []string{txn.Refund}, r.Instructions)
	assert.True(t, f.ticket(ticket).IsRefunded())
	assert.Equal(t, uint64(500), f.balance(buyer.Public))
	assert.Equal(t, uint64(0), f.vaultBalance(event))

	_, err = f.submit([]*txn.Keypair{org}, f.refundIx(event, ticket, buyer.Public, org.Public))
	assertLedgerError(t, err, domain.ErrTicketAlreadyRefunded)
	assert.Equal(t, uint64(500), f.balance(buyer.Public))
}

func TestScenarioD_UnauthorizedCheckIn(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer, stranger := f.keypair(1), f.keypair(2), f.keypair(3)
	f.fund(buyer.Public, 500)
	event := f.createEvent(org, 1, 100, 10)
	ticket, err := f.mint(event, buyer)
	require.NoError(t, err)

	_, err = f.submit([]*txn.Keypair{stranger}, txn.NewCheckIn(event, ticket, stranger.Public))
	assertLedgerError(t, err, domain.ErrUnauthorizedCheckIn)
	assert.False(t, f.ticket(ticket).IsUsed())
}

func TestScenarioE_DoubleRegistration(t *testing.T) {
	f := newFixture(t, noRent())
	org := f.keypair(1)
	registry := f.derive(f.deriver.Organizer(org.Public))

	r := f.mustSubmit([]*txn.Keypair{org}, txn.NewRegisterOrganizer(registry, org.Public))
	assert.Equal(t, []string{"Organizer registered: " + org.Public.String()}, r.Logs)

	rec, err := codec.DecodeOrganizer(f.account(registry).Data)
	require.NoError(t, err)
	assert.Equal(t, org.Public, rec.Organizer)
	assert.Equal(t, testEpoch.Unix(), rec.RegisteredAt)

	_, err = f.submit([]*txn.Keypair{org}, txn.NewRegisterOrganizer(registry, org.Public))
	assertLedgerError(t, err, domain.ErrAlreadyRegistered)
}

func TestRegisterOrganizer_WrongRegistryAddress(t *testing.T) {
	f := newFixture(t, noRent())
	org, other := f.keypair(1), f.keypair(2)
	wrong := f.derive(f.deriver.Organizer(other.Public))

	_, err := f.submit([]*txn.Keypair{org}, txn.NewRegisterOrganizer(wrong, org.Public))
	assertLedgerError(t, err, domain.ErrAddressConsistencyViolation)
}

func TestCreateEvent_Validation(t *testing.T) {
	longName := string(make([]byte, domain.MaxNameLen+1))
	longDate := string(make([]byte, domain.MaxDateLen+1))

	tests := []struct {
		name    string
		evName  string
		evDate  string
		wantErr *domain.LedgerError
	}{
		{name: "max lengths accepted", evName: string(make([]byte, domain.MaxNameLen)), evDate: string(make([]byte, domain.MaxDateLen))},
		{name: "name too long", evName: longName, evDate: "2026-07-01", wantErr: domain.ErrNameTooLong},
		{name: "date too long", evName: "Gig", evDate: longDate, wantErr: domain.ErrDateTooLong},
		{name: "name checked before date", evName: longName, evDate: longDate, wantErr: domain.ErrNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, noRent())
			org := f.keypair(1)
			ix, event := f.createEventIx(org.Public, 9, 10, 10, tt.evName, tt.evDate)

			_, err := f.submit([]*txn.Keypair{org}, ix)
			if tt.wantErr != nil {
				assertLedgerError(t, err, tt.wantErr)
				assert.False(t, f.account(event).IsInitialized())
				return
			}
			require.NoError(t, err)
			e := f.event(event)
			assert.Equal(t, tt.evName, e.Name)
			assert.Equal(t, uint32(0), e.Sold)
			assert.False(t, e.IsCanceled())
		})
	}
}

func TestCreateEvent_AlreadyExists(t *testing.T) {
	f := newFixture(t, noRent())
	org := f.keypair(1)
	f.createEvent(org, 1, 10, 10)

	ix, _ := f.createEventIx(org.Public, 1, 99, 99, "Other", "2027")
	_, err := f.submit([]*txn.Keypair{org}, ix)
	assertLedgerError(t, err, domain.ErrEventAlreadyExists)
}

func TestCreateEvent_WrongAddress(t *testing.T) {
	f := newFixture(t, noRent())
	org := f.keypair(1)

	wrong := f.derive(f.deriver.Event(org.Public, 2))
	ix, err := txn.NewCreateEvent(wrong, org.Public, txn.CreateEventArgs{EventID: 1, Price: 1, Supply: 1, Name: "x", Date: "y"})
	require.NoError(t, err)

	_, err = f.submit([]*txn.Keypair{org}, ix)
	assertLedgerError(t, err, domain.ErrAddressConsistencyViolation)
}

func TestCreateEvent_MissingArgs(t *testing.T) {
	f := newFixture(t, noRent())
	org := f.keypair(1)
	ix, _ := f.createEventIx(org.Public, 1, 1, 1, "x", "y")
	ix.Args = nil

	_, err := f.submit([]*txn.Keypair{org}, ix)
	assertLedgerError(t, err, domain.ErrInvalidInstruction)
}

func TestMintTicket_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture, event domain.Address, ix *txn.Instruction)
		funds   uint64
		wantErr *domain.LedgerError
	}{
		{
			name:    "insufficient funds",
			funds:   99,
			wantErr: domain.ErrInsufficientFunds,
		},
		{
			name:  "wrong vault",
			funds: 1_000,
			mutate: func(f *fixture, event domain.Address, ix *txn.Instruction) {
				ix.Accounts[2].Address = f.derive(f.deriver.Vault(ix.Accounts[1].Address))
			},
			wantErr: domain.ErrAddressConsistencyViolation,
		},
		{
			name:  "ticket id ahead of sold",
			funds: 1_000,
			mutate: func(f *fixture, event domain.Address, ix *txn.Instruction) {
				ix.Accounts[1].Address = f.derive(f.deriver.Ticket(event, 1))
			},
			wantErr: domain.ErrAddressConsistencyViolation,
		},
		{
			name:  "event not initialized",
			funds: 1_000,
			mutate: func(f *fixture, event domain.Address, ix *txn.Instruction) {
				ix.Accounts[0].Address = f.derive(f.deriver.Event(ix.Accounts[3].Address, 404))
			},
			wantErr: domain.ErrAccountNotFound,
		},
		{
			name:  "event slot not writable",
			funds: 1_000,
			mutate: func(f *fixture, event domain.Address, ix *txn.Instruction) {
				ix.Accounts[0].Writable = false
			},
			wantErr: domain.ErrAccountNotWritable,
		},
		{
			name:  "buyer not flagged as signer",
			funds: 1_000,
			mutate: func(f *fixture, event domain.Address, ix *txn.Instruction) {
				ix.Accounts[3].Signer = false
			},
			wantErr: domain.ErrMissingSignature,
		},
		{
			name:  "account count mismatch",
			funds: 1_000,
			mutate: func(f *fixture, event domain.Address, ix *txn.Instruction) {
				ix.Accounts = ix.Accounts[:3]
			},
			wantErr: domain.ErrInvalidInstruction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, noRent())
			org, buyer := f.keypair(1), f.keypair(2)
			f.fund(buyer.Public, tt.funds)
			event := f.createEvent(org, 1, 100, 3)

			ix, _ := f.mintIx(event, buyer.Public)
			if tt.mutate != nil {
				tt.mutate(f, event, &ix)
			}
			_, err := f.submit([]*txn.Keypair{buyer}, ix)
			assertLedgerError(t, err, tt.wantErr)

			assert.Equal(t, uint32(0), f.event(event).Sold)
			assert.Equal(t, tt.funds, f.balance(buyer.Public))
			assert.Equal(t, uint64(0), f.vaultBalance(event))
		})
	}
}

func TestMintTicket_CanceledEvent(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer := f.keypair(1), f.keypair(2)
	f.fund(buyer.Public, 1_000)
	event := f.createEvent(org, 1, 100, 3)
	f.mustSubmit([]*txn.Keypair{org}, txn.NewCancelEvent(event, org.Public))

	_, err := f.mint(event, buyer)
	assertLedgerError(t, err, domain.ErrEventCanceled)
}

func TestMintTicket_ReadsEventWithWrongRecordKind(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer := f.keypair(1), f.keypair(2)
	f.fund(buyer.Public, 1_000)
	event := f.createEvent(org, 1, 100, 3)
	ticket, err := f.mint(event, buyer)
	require.NoError(t, err)

	vault := f.derive(f.deriver.Vault(ticket))
	next := f.derive(f.deriver.Ticket(ticket, 0))
	_, err = f.submit([]*txn.Keypair{buyer}, txn.NewMintTicket(ticket, next, vault, buyer.Public))
	assertLedgerError(t, err, domain.ErrInvalidAccountData)
}

func TestMintTicket_Logs(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer := f.keypair(1), f.keypair(2)
	f.fund(buyer.Public, 1_000)
	event := f.createEvent(org, 42, 100, 3)

	ix, ticket := f.mintIx(event, buyer.Public)
	r := f.mustSubmit([]*txn.Keypair{buyer}, ix)
	assert.Equal(t, []string{"Ticket #0 minted for event 42"}, r.Logs)

	tk := f.ticket(ticket)
	assert.Equal(t, buyer.Public, tk.Owner)
	assert.Equal(t, event, tk.Event)
	assert.Equal(t, domain.TicketStateActive, tk.State)
}

func TestTransferTicket(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer, friend, thief := f.keypair(1), f.keypair(2), f.keypair(3), f.keypair(4)
	f.fund(buyer.Public, 1_000)
	event := f.createEvent(org, 1, 100, 3)
	ticket, err := f.mint(event, buyer)
	require.NoError(t, err)

	_, err = f.submit([]*txn.Keypair{thief}, txn.NewTransferTicket(ticket, thief.Public, thief.Public))
	assertLedgerError(t, err, domain.ErrUnauthorizedTransfer)

	r := f.mustSubmit([]*txn.Keypair{buyer}, txn.NewTransferTicket(ticket, buyer.Public, friend.Public))
	assert.Equal(t, []string{"Ticket #0 transferred to " + friend.Public.String()}, r.Logs)
	assert.Equal(t, friend.Public, f.ticket(ticket).Owner)

	_, err = f.submit([]*txn.Keypair{buyer}, txn.NewTransferTicket(ticket, buyer.Public, buyer.Public))
	assertLedgerError(t, err, domain.ErrUnauthorizedTransfer)
}

func TestTransferTicket_Refunded(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer, friend := f.keypair(1), f.keypair(2), f.keypair(3)
	f.fund(buyer.Public, 1_000)
	event := f.createEvent(org, 1, 100, 3)
	ticket, err := f.mint(event, buyer)
	require.NoError(t, err)
	f.mustSubmit([]*txn.Keypair{org}, txn.NewCancelEvent(event, org.Public))
	f.mustSubmit([]*txn.Keypair{org}, f.refundIx(event, ticket, buyer.Public, org.Public))

	_, err = f.submit([]*txn.Keypair{buyer}, txn.NewTransferTicket(ticket, buyer.Public, friend.Public))
	assertLedgerError(t, err, domain.ErrTicketAlreadyRefunded)
}

func TestCheckIn_Failures(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer := f.keypair(1), f.keypair(2)
	f.fund(buyer.Public, 1_000)
	first := f.createEvent(org, 1, 100, 3)
	second := f.createEvent(org, 2, 100, 3)
	ticket, err := f.mint(first, buyer)
	require.NoError(t, err)

	t.Run("ticket from another event", func(t *testing.T) {
		_, err := f.submit([]*txn.Keypair{org}, txn.NewCheckIn(second, ticket, org.Public))
		assertLedgerError(t, err, domain.ErrAddressConsistencyViolation)
	})

	t.Run("holder cannot check in", func(t *testing.T) {
		_, err := f.submit([]*txn.Keypair{buyer}, txn.NewCheckIn(first, ticket, buyer.Public))
		assertLedgerError(t, err, domain.ErrUnauthorizedCheckIn)
	})

	t.Run("refunded ticket", func(t *testing.T) {
		f.mustSubmit([]*txn.Keypair{org}, txn.NewCancelEvent(first, org.Public))
		f.mustSubmit([]*txn.Keypair{org}, f.refundIx(first, ticket, buyer.Public, org.Public))
		_, err := f.submit([]*txn.Keypair{org}, txn.NewCheckIn(first, ticket, org.Public))
		assertLedgerError(t, err, domain.ErrTicketAlreadyRefunded)
	})
}

func TestCheckIn_Logs(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer := f.keypair(1), f.keypair(2)
	f.fund(buyer.Public, 1_000)
	event := f.createEvent(org, 5, 100, 3)
	ticket, err := f.mint(event, buyer)
	require.NoError(t, err)

	r := f.mustSubmit([]*txn.Keypair{org}, txn.NewCheckIn(event, ticket, org.Public))
	assert.Equal(t, []string{"Ticket #0 for event 5 checked in by " + buyer.Public.String()}, r.Logs)
}

func TestCheckIn_CanceledEvent(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer := f.keypair(1), f.keypair(2)
	f.fund(buyer.Public, 1_000)
	event := f.createEvent(org, 1, 100, 3)
	ticket, err := f.mint(event, buyer)
	require.NoError(t, err)
	f.mustSubmit([]*txn.Keypair{org}, txn.NewCancelEvent(event, org.Public))

	f.mustSubmit([]*txn.Keypair{org}, txn.NewCheckIn(event, ticket, org.Public))
	assert.True(t, f.ticket(ticket).IsUsed())

	_, err = f.submit([]*txn.Keypair{org}, f.refundIx(event, ticket, buyer.Public, org.Public))
	assertLedgerError(t, err, domain.ErrCannotRefundUsedTicket)
	assert.Equal(t, uint64(100), f.vaultBalance(event))
}

func TestCancelEvent(t *testing.T) {
	f := newFixture(t, noRent())
	org, stranger := f.keypair(1), f.keypair(2)
	event := f.createEvent(org, 1, 100, 3)

	_, err := f.submit([]*txn.Keypair{stranger}, txn.NewCancelEvent(event, stranger.Public))
	assertLedgerError(t, err, domain.ErrUnauthorizedCancel)
	assert.False(t, f.event(event).IsCanceled())

	f.mustSubmit([]*txn.Keypair{org}, txn.NewCancelEvent(event, org.Public))
	_, err = f.submit([]*txn.Keypair{org}, txn.NewCancelEvent(event, org.Public))
	assertLedgerError(t, err, domain.ErrEventCanceled)
}

func TestRefund_Failures(t *testing.T) {
	tests := []struct {
		name    string
		checkIn bool
		signer  func(org, buyer, other *txn.Keypair) *txn.Keypair
		owner   func(org, buyer, other *txn.Keypair) domain.Address
		wantErr *domain.LedgerError
	}{
		{
			name:    "stranger",
			signer:  func(org, buyer, other *txn.Keypair) *txn.Keypair { return other },
			owner:   func(org, buyer, other *txn.Keypair) domain.Address { return buyer.Public },
			wantErr: domain.ErrUnauthorizedRefund,
		},
		{
			name:    "holder without holder refunds enabled",
			signer:  func(org, buyer, other *txn.Keypair) *txn.Keypair { return buyer },
			owner:   func(org, buyer, other *txn.Keypair) domain.Address { return buyer.Public },
			wantErr: domain.ErrUnauthorizedRefund,
		},
		{
			name:    "used ticket",
			checkIn: true,
			signer:  func(org, buyer, other *txn.Keypair) *txn.Keypair { return org },
			owner:   func(org, buyer, other *txn.Keypair) domain.Address { return buyer.Public },
			wantErr: domain.ErrCannotRefundUsedTicket,
		},
		{
			name:    "recipient is not the owner",
			signer:  func(org, buyer, other *txn.Keypair) *txn.Keypair { return org },
			owner:   func(org, buyer, other *txn.Keypair) domain.Address { return other.Public },
			wantErr: domain.ErrOwnerMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, noRent())
			org, buyer, other := f.keypair(1), f.keypair(2), f.keypair(3)
			f.fund(buyer.Public, 1_000)
			event := f.createEvent(org, 1, 100, 3)
			ticket, err := f.mint(event, buyer)
			require.NoError(t, err)
			if tt.checkIn {
				f.mustSubmit([]*txn.Keypair{org}, txn.NewCheckIn(event, ticket, org.Public))
			}
			f.mustSubmit([]*txn.Keypair{org}, txn.NewCancelEvent(event, org.Public))

			signer := tt.signer(org, buyer, other)
			_, err = f.submit([]*txn.Keypair{signer},
				f.refundIx(event, ticket, tt.owner(org, buyer, other), signer.Public))
			assertLedgerError(t, err, tt.wantErr)
			assert.Equal(t, uint64(100), f.vaultBalance(event))
			assert.Equal(t, uint64(900), f.balance(buyer.Public))
		})
	}
}

func TestRefund_WrongVault(t *testing.T) {
	f := newFixture(t, noRent())
	org, buyer := f.keypair(1), f.keypair(2)
	f.fund(buyer.Public, 1_000)
	event := f.createEvent(org, 1, 100, 3)
	other := f.createEvent(org, 2, 100, 3)
	ticket, err := f.mint(event, buyer)
	require.NoError(t, err)
	f.mustSubmit([]*txn.Keypair{org}, txn.NewCancelEvent(event, org.Public))

	wrongVault := f.derive(f.deriver.Vault(other))
	_, err = f.submit([]*txn.Keypair{org}, txn.NewRefund(event, ticket, wrongVault, buyer.Public, org.Public))
	assertLedgerError(t, err, domain.ErrAddressConsistencyViolation)
}

func TestRefund_RecipientIsVault(t *testing.T) {
	tests := []struct {
		name        string
		ticketEvent int // index of the event whose ticket is refunded
		holderVault int // index of the event whose vault holds the ticket
	}{
		{name: "vault of another event", ticketEvent: 0, holderVault: 1},
		{name: "vault of the same event", ticketEvent: 0, holderVault: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, noRent())
			org, buyer := f.keypair(1), f.keypair(2)
			f.fund(buyer.Public, 1_000)
			events := []domain.Address{f.createEvent(org, 1, 100, 3), f.createEvent(org, 2, 100, 3)}
			event := events[tt.ticketEvent]
			ticket, err := f.mint(event, buyer)
			require.NoError(t, err)

			vault := f.derive(f.deriver.Vault(events[tt.holderVault]))
			f.mustSubmit([]*txn.Keypair{buyer}, txn.NewTransferTicket(ticket, buyer.Public, vault))
			f.mustSubmit([]*txn.Keypair{org}, txn.NewCancelEvent(event, org.Public))

			_, err = f.submit([]*txn.Keypair{org}, f.refundIx(event, ticket, vault, org.Public))
			assertLedgerError(t, err, domain.ErrAddressConsistencyViolation)
			assert.Equal(t, uint64(100), f.vaultBalance(events[0]))
			assert.Equal(t, uint64(0), f.vaultBalance(events[1]))
			assert.False(t, f.ticket(ticket).IsRefunded())
		})
	}
}

func TestRefund_ByHolderWhenEnabled(t *testing.T) {
	cfg := noRent()
	cfg.AllowHolderRefund = true
	f := newFixture(t, cfg)
	org, buyer := f.keypair(1), f.keypair(2)
	f.fund(buyer.Public, 1_000)
	event := f.createEvent(org, 1, 100, 3)
	ticket, err := f.mint(event, buyer)
	require.NoError(t, err)
	f.mustSubmit([]*txn.Keypair{org}, txn.NewCancelEvent(event, org.Public))

	r := f.mustSubmit([]*txn.Keypair{buyer}, f.refundIx(event, ticket, buyer.Public, buyer.Public))
	assert.Equal(t, []string{"Ticket #0 refunded 100 lamports to " + buyer.Public.String() + " by ticket holder"}, r.Logs)
	assert.Equal(t, uint64(1_000), f.balance(buyer.Public))
	assert.True(t, f.ticket(ticket).IsRefunded())
}

func TestRent_ChargedToPayer(t *testing.T) {
	cfg := DefaultConfig()
	f := newFixture(t, cfg)
	org, buyer := f.keypair(1), f.keypair(2)

	eventRent := domain.RentExemptMinimum(codec.EventSpace, cfg.RentLamportsPerByteYear)
	ticketRent := domain.RentExemptMinimum(codec.TicketSpace, cfg.RentLamportsPerByteYear)
	assert.Equal(t, uint64(1_927_920), eventRent)
	assert.Equal(t, uint64(1_433_760), ticketRent)

	ix, event := f.createEventIx(org.Public, 1, 500, 2, "Gig", "Friday")
	_, err := f.submit([]*txn.Keypair{org}, ix)
	assertLedgerError(t, err, domain.ErrInsufficientFunds)

	f.fund(org.Public, eventRent+10)
	f.mustSubmit([]*txn.Keypair{org}, ix)
	assert.Equal(t, uint64(10), f.balance(org.Public))
	assert.Equal(t, eventRent, f.balance(event))
	assert.Equal(t, f.deriver.ProgramID(), f.account(event).Owner)

	f.fund(buyer.Public, 500+ticketRent-1)
	_, err = f.mint(event, buyer)
	assertLedgerError(t, err, domain.ErrInsufficientFunds)

	f.fund(buyer.Public, 1)
	ticket, err := f.mint(event, buyer)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.balance(buyer.Public))
	assert.Equal(t, ticketRent, f.balance(ticket))
	assert.Equal(t, uint64(500), f.vaultBalance(event))
}
