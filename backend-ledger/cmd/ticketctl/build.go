package main

import (
	"fmt"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/address"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/txn"
)

// buildParams are the flag values of `ticketctl build`.
// The first key signs and pays; accounts are derived from the seeds given.
type buildParams struct {
	Keys        []*txn.Keypair
	Nonce       uint64
	Organizer   domain.Address
	EventID     uint32
	TicketID    uint32
	Price       uint64
	Supply      uint32
	Name        string
	Date        string
	NewOwner    domain.Address
	TicketOwner domain.Address
}

func (p *buildParams) payer() domain.Address {
	return p.Keys[0].Public
}

// buildTransaction assembles and signs one instruction
func buildTransaction(d *address.Deriver, instruction string, p *buildParams) (*txn.Transaction, error) {
	if len(p.Keys) == 0 {
		return nil, fmt.Errorf("at least one --key is required")
	}

	ix, err := buildInstruction(d, instruction, p)
	if err != nil {
		return nil, err
	}
	return txn.Build(txn.NewMessage(p.Nonce, ix), p.Keys...)
}

func buildInstruction(d *address.Deriver, instruction string, p *buildParams) (txn.Instruction, error) {
	switch instruction {
	case txn.RegisterOrganizer:
		registry, err := d.Organizer(p.payer())
		if err != nil {
			return txn.Instruction{}, err
		}
		return txn.NewRegisterOrganizer(registry.Address, p.payer()), nil

	case txn.CreateEvent:
		event, err := d.Event(p.payer(), p.EventID)
		if err != nil {
			return txn.Instruction{}, err
		}
		return txn.NewCreateEvent(event.Address, p.payer(), txn.CreateEventArgs{
			EventID: p.EventID,
			Price:   p.Price,
			Supply:  p.Supply,
			Name:    p.Name,
			Date:    p.Date,
		})

	case txn.MintTicket:
		event, ticket, err := eventAndTicket(d, p.Organizer, p.EventID, p.TicketID)
		if err != nil {
			return txn.Instruction{}, err
		}
		vault, err := d.Vault(event)
		if err != nil {
			return txn.Instruction{}, err
		}
		return txn.NewMintTicket(event, ticket, vault.Address, p.payer()), nil

	case txn.TransferTicket:
		if p.NewOwner.IsZero() {
			return txn.Instruction{}, fmt.Errorf("--new-owner is required")
		}
		_, ticket, err := eventAndTicket(d, p.Organizer, p.EventID, p.TicketID)
		if err != nil {
			return txn.Instruction{}, err
		}
		return txn.NewTransferTicket(ticket, p.payer(), p.NewOwner), nil

	case txn.CheckIn:
		event, ticket, err := eventAndTicket(d, p.payer(), p.EventID, p.TicketID)
		if err != nil {
			return txn.Instruction{}, err
		}
		return txn.NewCheckIn(event, ticket, p.payer()), nil

	case txn.CancelEvent:
		event, err := d.Event(p.payer(), p.EventID)
		if err != nil {
			return txn.Instruction{}, err
		}
		return txn.NewCancelEvent(event.Address, p.payer()), nil

	case txn.Refund:
		if p.TicketOwner.IsZero() {
			return txn.Instruction{}, fmt.Errorf("--ticket-owner is required")
		}
		event, ticket, err := eventAndTicket(d, p.payer(), p.EventID, p.TicketID)
		if err != nil {
			return txn.Instruction{}, err
		}
		vault, err := d.Vault(event)
		if err != nil {
			return txn.Instruction{}, err
		}
		return txn.NewRefund(event, ticket, vault.Address, p.TicketOwner, p.payer()), nil
	}
	return txn.Instruction{}, fmt.Errorf("unknown instruction %q", instruction)
}

func eventAndTicket(d *address.Deriver, organizer domain.Address, eventID, ticketID uint32) (domain.Address, domain.Address, error) {
	if organizer.IsZero() {
		return domain.Address{}, domain.Address{}, fmt.Errorf("--organizer is required")
	}
	event, err := d.Event(organizer, eventID)
	if err != nil {
		return domain.Address{}, domain.Address{}, err
	}
	ticket, err := d.Ticket(event.Address, ticketID)
	if err != nil {
		return domain.Address{}, domain.Address{}, err
	}
	return event.Address, ticket.Address, nil
}
