package txn

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

// Instruction names
const (
	RegisterOrganizer = "register_organizer"
	CreateEvent       = "create_event"
	MintTicket        = "mint_ticket"
	TransferTicket    = "transfer_ticket"
	CheckIn           = "check_in"
	CancelEvent       = "cancel_event"
	Refund            = "refund"
)

// AccountMeta names one account an instruction touches and how
type AccountMeta struct {
	Address  domain.Address `cbor:"1,keyasint"`
	Signer   bool           `cbor:"2,keyasint"`
	Writable bool           `cbor:"3,keyasint"`
}

// Instruction is a single handler invocation
type Instruction struct {
	Program  string          `cbor:"1,keyasint"`
	Accounts []AccountMeta   `cbor:"2,keyasint"`
	Args     cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// Message is the signed body of a transaction
type Message struct {
	Nonce        uint64        `cbor:"1,keyasint"`
	Instructions []Instruction `cbor:"2,keyasint"`
}

// CreateEventArgs carries the create_event parameters
type CreateEventArgs struct {
	EventID uint32 `cbor:"1,keyasint"`
	Price   uint64 `cbor:"2,keyasint"`
	Supply  uint32 `cbor:"3,keyasint"`
	Name    string `cbor:"4,keyasint"`
	Date    string `cbor:"5,keyasint"`
}

// NewMessage creates a new Message
func NewMessage(nonce uint64, instructions ...Instruction) *Message {
	return &Message{Nonce: nonce, Instructions: instructions}
}

// Encode returns the canonical bytes signers sign over
func (m *Message) Encode() ([]byte, error) {
	if len(m.Instructions) == 0 {
		return nil, fmt.Errorf("%w: message has no instructions", domain.ErrInvalidInstruction)
	}
	return Marshal(m)
}

// DecodeMessage parses canonical message bytes
func DecodeMessage(raw []byte) (*Message, error) {
	var m Message
	if err := unmarshalCanonical(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInstruction, err)
	}
	if len(m.Instructions) == 0 {
		return nil, fmt.Errorf("%w: message has no instructions", domain.ErrInvalidInstruction)
	}
	return &m, nil
}

// Addresses returns every distinct account referenced by the message in first-seen order
func (m *Message) Addresses() []domain.Address {
	seen := make(map[domain.Address]struct{})
	var out []domain.Address
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if _, ok := seen[meta.Address]; ok {
				continue
			}
			seen[meta.Address] = struct{}{}
			out = append(out, meta.Address)
		}
	}
	return out
}

// RequiredSigners returns the distinct accounts flagged as signers
func (m *Message) RequiredSigners() []domain.Address {
	seen := make(map[domain.Address]struct{})
	var out []domain.Address
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if !meta.Signer {
				continue
			}
			if _, ok := seen[meta.Address]; ok {
				continue
			}
			seen[meta.Address] = struct{}{}
			out = append(out, meta.Address)
		}
	}
	return out
}

// Writable reports whether any instruction marks addr writable
func (m *Message) Writable(addr domain.Address) bool {
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if meta.Address == addr && meta.Writable {
				return true
			}
		}
	}
	return false
}

// DecodeArgs decodes the instruction arguments into v
func (ix *Instruction) DecodeArgs(v any) error {
	if len(ix.Args) == 0 {
		return fmt.Errorf("%w: %s requires arguments", domain.ErrInvalidInstruction, ix.Program)
	}
	if err := Unmarshal(ix.Args, v); err != nil {
		return fmt.Errorf("%w: %s args: %v", domain.ErrInvalidInstruction, ix.Program, err)
	}
	return nil
}

func meta(addr domain.Address, signer, writable bool) AccountMeta {
	return AccountMeta{Address: addr, Signer: signer, Writable: writable}
}

// NewRegisterOrganizer builds a register_organizer instruction
func NewRegisterOrganizer(registry, organizer domain.Address) Instruction {
	return Instruction{
		Program:  RegisterOrganizer,
		Accounts: []AccountMeta{meta(registry, false, true), meta(organizer, true, true)},
	}
}

// NewCreateEvent builds a create_event instruction
func NewCreateEvent(event, authority domain.Address, args CreateEventArgs) (Instruction, error) {
	raw, err := Marshal(args)
	if err != nil {
		return Instruction{}, fmt.Errorf("encode create_event args: %w", err)
	}
	return Instruction{
		Program:  CreateEvent,
		Accounts: []AccountMeta{meta(event, false, true), meta(authority, true, true)},
		Args:     raw,
	}, nil
}

// NewMintTicket builds a mint_ticket instruction
func NewMintTicket(event, ticket, vault, buyer domain.Address) Instruction {
	return Instruction{
		Program: MintTicket,
		Accounts: []AccountMeta{
			meta(event, false, true),
			meta(ticket, false, true),
			meta(vault, false, true),
			meta(buyer, true, true),
		},
	}
}

// NewTransferTicket builds a transfer_ticket instruction
func NewTransferTicket(ticket, currentOwner, newOwner domain.Address) Instruction {
	return Instruction{
		Program: TransferTicket,
		Accounts: []AccountMeta{
			meta(ticket, false, true),
			meta(currentOwner, true, false),
			meta(newOwner, false, false),
		},
	}
}

// NewCheckIn builds a check_in instruction
func NewCheckIn(event, ticket, authority domain.Address) Instruction {
	return Instruction{
		Program: CheckIn,
		Accounts: []AccountMeta{
			meta(event, false, false),
			meta(ticket, false, true),
			meta(authority, true, false),
		},
	}
}

// NewCancelEvent builds a cancel_event instruction
func NewCancelEvent(event, authority domain.Address) Instruction {
	return Instruction{
		Program:  CancelEvent,
		Accounts: []AccountMeta{meta(event, false, true), meta(authority, true, false)},
	}
}

// NewRefund builds a refund instruction
func NewRefund(event, ticket, vault, ticketOwner, authority domain.Address) Instruction {
	return Instruction{
		Program: Refund,
		Accounts: []AccountMeta{
			meta(event, false, false),
			meta(ticket, false, true),
			meta(vault, false, true),
			meta(ticketOwner, false, true),
			meta(authority, true, false),
		},
	}
}
