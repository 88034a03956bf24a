package service

import (
	"fmt"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/address"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/codec"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/txn"
)

// accountRole is the position an instruction expects an account in, and its required flags
type accountRole struct {
	name     string
	signer   bool
	writable bool
}

// invocation is everything a handler sees while it runs
type invocation struct {
	ix       *txn.Instruction
	accounts []*domain.Account
	deriver  *address.Deriver
	rules    Config
	now      int64
	logs     []string
}

type instructionHandler struct {
	roles   []accountRole
	execute func(inv *invocation) error
	// withdraws is set for the one handler allowed to debit a vault
	withdraws func(inv *invocation) *domain.Address
}

var instructionHandlers = map[string]instructionHandler{
	txn.RegisterOrganizer: {
		roles: []accountRole{
			{name: "registry", writable: true},
			{name: "organizer", signer: true, writable: true},
		},
		execute: registerOrganizer,
	},
	txn.CreateEvent: {
		roles: []accountRole{
			{name: "event", writable: true},
			{name: "authority", signer: true, writable: true},
		},
		execute: createEvent,
	},
	txn.MintTicket: {
		roles: []accountRole{
			{name: "event", writable: true},
			{name: "ticket", writable: true},
			{name: "vault", writable: true},
			{name: "buyer", signer: true, writable: true},
		},
		execute: mintTicket,
	},
	txn.TransferTicket: {
		roles: []accountRole{
			{name: "ticket", writable: true},
			{name: "current_owner", signer: true},
			{name: "new_owner"},
		},
		execute: transferTicket,
	},
	txn.CheckIn: {
		roles: []accountRole{
			{name: "event"},
			{name: "ticket", writable: true},
			{name: "authority", signer: true},
		},
		execute: checkIn,
	},
	txn.CancelEvent: {
		roles: []accountRole{
			{name: "event", writable: true},
			{name: "authority", signer: true},
		},
		execute: cancelEvent,
	},
	txn.Refund: {
		roles: []accountRole{
			{name: "event"},
			{name: "ticket", writable: true},
			{name: "vault", writable: true},
			{name: "ticket_owner", writable: true},
			{name: "authority", signer: true},
		},
		execute: refund,
		withdraws: func(inv *invocation) *domain.Address {
			addr := inv.accounts[2].Address
			return &addr
		},
	},
}

func (inv *invocation) logf(format string, args ...any) {
	inv.logs = append(inv.logs, fmt.Sprintf(format, args...))
}

// createRecord funds a new program-owned account from payer and writes data into it
func (inv *invocation) createRecord(payer, acc *domain.Account, data []byte) error {
	rent := domain.RentExemptMinimum(len(data), inv.rules.RentLamportsPerByteYear)
	if rent > acc.Lamports {
		if err := transferLamports(payer, acc, rent-acc.Lamports); err != nil {
			return err
		}
	}
	acc.Owner = inv.deriver.ProgramID()
	acc.Data = data
	return nil
}

// programRecord returns acc's data once it is known to belong to the ledger program
func (inv *invocation) programRecord(acc *domain.Account) ([]byte, error) {
	if !acc.IsInitialized() {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, acc.Address)
	}
	if acc.Owner != inv.deriver.ProgramID() {
		return nil, fmt.Errorf("%w: %s is not owned by the ledger program", domain.ErrInvalidAccountData, acc.Address)
	}
	return acc.Data, nil
}

func (inv *invocation) loadEvent(acc *domain.Account) (*domain.Event, error) {
	data, err := inv.programRecord(acc)
	if err != nil {
		return nil, err
	}
	return codec.DecodeEvent(data)
}

func (inv *invocation) loadTicket(acc *domain.Account) (*domain.Ticket, error) {
	data, err := inv.programRecord(acc)
	if err != nil {
		return nil, err
	}
	return codec.DecodeTicket(data)
}

func storeEvent(acc *domain.Account, e *domain.Event) error {
	data, err := codec.EncodeEvent(e)
	if err != nil {
		return err
	}
	acc.Data = data
	return nil
}

func storeTicket(acc *domain.Account, t *domain.Ticket) error {
	data, err := codec.EncodeTicket(t)
	if err != nil {
		return err
	}
	acc.Data = data
	return nil
}

// expectAddress fails unless got is the derived address want
func expectAddress(role string, got domain.Address, want address.Derived) error {
	if got != want.Address {
		return fmt.Errorf("%w: %s is not the expected %s address %s",
			domain.ErrAddressConsistencyViolation, got, role, want.Address)
	}
	return nil
}

func registerOrganizer(inv *invocation) error {
	registry, organizer := inv.accounts[0], inv.accounts[1]

	want, err := inv.deriver.Organizer(organizer.Address)
	if err != nil {
		return err
	}
	if err := expectAddress("registry", registry.Address, want); err != nil {
		return err
	}
	if registry.IsInitialized() {
		return domain.ErrAlreadyRegistered
	}

	data, err := codec.EncodeOrganizer(&domain.OrganizerRegistry{
		Organizer:    organizer.Address,
		RegisteredAt: inv.now,
	})
	if err != nil {
		return err
	}
	if err := inv.createRecord(organizer, registry, data); err != nil {
		return err
	}
	inv.logf("Organizer registered: %s", organizer.Address)
	return nil
}

func createEvent(inv *invocation) error {
	eventAcc, authority := inv.accounts[0], inv.accounts[1]

	var args txn.CreateEventArgs
	if err := inv.ix.DecodeArgs(&args); err != nil {
		return err
	}

	want, err := inv.deriver.Event(authority.Address, args.EventID)
	if err != nil {
		return err
	}
	if err := expectAddress("event", eventAcc.Address, want); err != nil {
		return err
	}
	if eventAcc.IsInitialized() {
		return domain.ErrEventAlreadyExists
	}
	if len(args.Name) > domain.MaxNameLen {
		return domain.ErrNameTooLong
	}
	if len(args.Date) > domain.MaxDateLen {
		return domain.ErrDateTooLong
	}

	data, err := codec.EncodeEvent(&domain.Event{
		Authority: authority.Address,
		Price:     args.Price,
		Supply:    args.Supply,
		Sold:      0,
		State:     domain.EventStateActive,
		EventID:   args.EventID,
		Name:      args.Name,
		Date:      args.Date,
	})
	if err != nil {
		return err
	}
	if err := inv.createRecord(authority, eventAcc, data); err != nil {
		return err
	}
	inv.logf("Event initialized with ID: %d", args.EventID)
	return nil
}

func mintTicket(inv *invocation) error {
	eventAcc, ticketAcc, vault, buyer := inv.accounts[0], inv.accounts[1], inv.accounts[2], inv.accounts[3]

	event, err := inv.loadEvent(eventAcc)
	if err != nil {
		return err
	}
	wantVault, err := inv.deriver.Vault(eventAcc.Address)
	if err != nil {
		return err
	}
	if err := expectAddress("vault", vault.Address, wantVault); err != nil {
		return err
	}
	if event.IsCanceled() {
		return domain.ErrEventCanceled
	}
	if event.IsSoldOut() {
		return domain.ErrEventSoldOut
	}
	wantTicket, err := inv.deriver.Ticket(eventAcc.Address, event.Sold)
	if err != nil {
		return err
	}
	if err := expectAddress("ticket", ticketAcc.Address, wantTicket); err != nil {
		return err
	}
	if ticketAcc.IsInitialized() {
		return fmt.Errorf("%w: ticket %s already exists", domain.ErrAddressConsistencyViolation, ticketAcc.Address)
	}

	ticket := &domain.Ticket{
		Owner:    buyer.Address,
		Event:    eventAcc.Address,
		TicketID: event.Sold,
		State:    domain.TicketStateActive,
	}
	data, err := codec.EncodeTicket(ticket)
	if err != nil {
		return err
	}
	rent := domain.RentExemptMinimum(len(data), inv.rules.RentLamportsPerByteYear)
	need, err := requiredPayment(event.Price, rent)
	if err != nil {
		return err
	}
	if buyer.Lamports < need {
		return fmt.Errorf("%w: buyer holds %d, needs %d", domain.ErrInsufficientFunds, buyer.Lamports, need)
	}

	if err := depositToVault(buyer, vault, event.Price); err != nil {
		return err
	}
	if err := inv.createRecord(buyer, ticketAcc, data); err != nil {
		return err
	}
	if _, err := event.RecordSale(); err != nil {
		return err
	}
	if err := storeEvent(eventAcc, event); err != nil {
		return err
	}
	inv.logf("Ticket #%d minted for event %d", ticket.TicketID, event.EventID)
	return nil
}

func transferTicket(inv *invocation) error {
	ticketAcc, currentOwner, newOwner := inv.accounts[0], inv.accounts[1], inv.accounts[2]

	ticket, err := inv.loadTicket(ticketAcc)
	if err != nil {
		return err
	}
	if ticket.Owner != currentOwner.Address {
		return domain.ErrUnauthorizedTransfer
	}
	if ticket.IsUsed() {
		return domain.ErrTicketAlreadyUsed
	}
	if ticket.IsRefunded() {
		return domain.ErrTicketAlreadyRefunded
	}
	if err := ticket.TransferTo(newOwner.Address); err != nil {
		return err
	}
	if err := storeTicket(ticketAcc, ticket); err != nil {
		return err
	}
	inv.logf("Ticket #%d transferred to %s", ticket.TicketID, newOwner.Address)
	return nil
}

func checkIn(inv *invocation) error {
	eventAcc, ticketAcc, authority := inv.accounts[0], inv.accounts[1], inv.accounts[2]

	event, err := inv.loadEvent(eventAcc)
	if err != nil {
		return err
	}
	ticket, err := inv.loadTicket(ticketAcc)
	if err != nil {
		return err
	}
	if ticket.Event != eventAcc.Address {
		return fmt.Errorf("%w: ticket belongs to event %s", domain.ErrAddressConsistencyViolation, ticket.Event)
	}
	if event.Authority != authority.Address {
		return domain.ErrUnauthorizedCheckIn
	}
	if ticket.IsUsed() {
		return domain.ErrAlreadyCheckedIn
	}
	if ticket.IsRefunded() {
		return domain.ErrTicketAlreadyRefunded
	}
	if err := ticket.TransitionTo(domain.TicketStateUsed); err != nil {
		return err
	}
	if err := storeTicket(ticketAcc, ticket); err != nil {
		return err
	}
	inv.logf("Ticket #%d for event %d checked in by %s", ticket.TicketID, event.EventID, ticket.Owner)
	return nil
}

func cancelEvent(inv *invocation) error {
	eventAcc, authority := inv.accounts[0], inv.accounts[1]

	event, err := inv.loadEvent(eventAcc)
	if err != nil {
		return err
	}
	if event.Authority != authority.Address {
		return domain.ErrUnauthorizedCancel
	}
	if event.IsCanceled() {
		return domain.ErrEventCanceled
	}
	if err := event.Cancel(); err != nil {
		return err
	}
	if err := storeEvent(eventAcc, event); err != nil {
		return err
	}
	inv.logf("Event '%s' (ID: %d) has been canceled by %s", event.Name, event.EventID, authority.Address)
	return nil
}

func refund(inv *invocation) error {
	eventAcc, ticketAcc, vault, ticketOwner, authority :=
		inv.accounts[0], inv.accounts[1], inv.accounts[2], inv.accounts[3], inv.accounts[4]

	event, err := inv.loadEvent(eventAcc)
	if err != nil {
		return err
	}
	ticket, err := inv.loadTicket(ticketAcc)
	if err != nil {
		return err
	}
	if ticket.Event != eventAcc.Address {
		return fmt.Errorf("%w: ticket belongs to event %s", domain.ErrAddressConsistencyViolation, ticket.Event)
	}
	wantVault, err := inv.deriver.Vault(eventAcc.Address)
	if err != nil {
		return err
	}
	if err := expectAddress("vault", vault.Address, wantVault); err != nil {
		return err
	}

	byAuthority := event.Authority == authority.Address
	byHolder := inv.rules.AllowHolderRefund && ticket.Owner == authority.Address
	if !byAuthority && !byHolder {
		return domain.ErrUnauthorizedRefund
	}
	if !event.IsCanceled() {
		return domain.ErrEventNotCanceled
	}
	if ticket.IsUsed() {
		return domain.ErrCannotRefundUsedTicket
	}
	if ticket.IsRefunded() {
		return domain.ErrTicketAlreadyRefunded
	}
	if ticket.Owner != ticketOwner.Address {
		return domain.ErrOwnerMismatch
	}
	// Refunds go to key-controlled accounts only; a vault never receives one
	if !ticketOwner.Address.IsOnCurve() {
		return fmt.Errorf("%w: refund recipient %s is a derived address", domain.ErrAddressConsistencyViolation, ticketOwner.Address)
	}

	if err := withdrawFromVault(vault, ticketOwner, event.Price); err != nil {
		return err
	}
	if err := ticket.TransitionTo(domain.TicketStateRefunded); err != nil {
		return err
	}
	if err := storeTicket(ticketAcc, ticket); err != nil {
		return err
	}
	if byAuthority {
		inv.logf("Ticket #%d refunded %d lamports to %s by event authority %s",
			ticket.TicketID, event.Price, ticketOwner.Address, authority.Address)
	} else {
		inv.logf("Ticket #%d refunded %d lamports to %s by ticket holder",
			ticket.TicketID, event.Price, ticketOwner.Address)
	}
	return nil
}
