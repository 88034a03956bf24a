package dto

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/address"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/codec"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

// AccountResponse represents an account with its decoded record
type AccountResponse struct {
	Address  domain.Address `json:"address"`
	Owner    domain.Address `json:"owner"`
	Lamports uint64         `json:"lamports"`
	Kind     string         `json:"kind"`
	Record   interface{}    `json:"record,omitempty"`
	Data     string         `json:"data"`
}

// EventView is the decoded Event record
type EventView struct {
	Authority domain.Address `json:"authority"`
	Price     uint64         `json:"price"`
	Supply    uint32         `json:"supply"`
	Sold      uint32         `json:"sold"`
	Canceled  bool           `json:"canceled"`
	EventID   uint32         `json:"event_id"`
	Name      string         `json:"name"`
	Date      string         `json:"date"`
}

// TicketView is the decoded Ticket record
type TicketView struct {
	Owner    domain.Address `json:"owner"`
	Event    domain.Address `json:"event"`
	TicketID uint32         `json:"ticket_id"`
	IsUsed   bool           `json:"is_used"`
	Refunded bool           `json:"refunded"`
}

// OrganizerView is the decoded OrganizerRegistry record
type OrganizerView struct {
	Organizer    domain.Address `json:"organizer"`
	RegisteredAt int64          `json:"registered_at"`
}

// ToAccountResponse converts an account, decoding its record when the data is recognized
func ToAccountResponse(acc *domain.Account) *AccountResponse {
	resp := &AccountResponse{
		Address:  acc.Address,
		Owner:    acc.Owner,
		Lamports: acc.Lamports,
		Data:     base64.StdEncoding.EncodeToString(acc.Data),
	}

	kind, record, err := codec.Decode(acc.Data)
	resp.Kind = string(kind)
	if err != nil {
		return resp
	}
	switch r := record.(type) {
	case *domain.Event:
		resp.Record = &EventView{
			Authority: r.Authority,
			Price:     r.Price,
			Supply:    r.Supply,
			Sold:      r.Sold,
			Canceled:  r.IsCanceled(),
			EventID:   r.EventID,
			Name:      r.Name,
			Date:      r.Date,
		}
	case *domain.Ticket:
		resp.Record = &TicketView{
			Owner:    r.Owner,
			Event:    r.Event,
			TicketID: r.TicketID,
			IsUsed:   r.IsUsed(),
			Refunded: r.IsRefunded(),
		}
	case *domain.OrganizerRegistry:
		resp.Record = &OrganizerView{Organizer: r.Organizer, RegisteredAt: r.RegisteredAt}
	}
	return resp
}

// Derivable address kinds
const (
	DeriveEvent     = "event"
	DeriveTicket    = "ticket"
	DeriveVault     = "vault"
	DeriveOrganizer = "organizer"
)

// DeriveRequest carries the seeds of an address derivation, taken from the query string
type DeriveRequest struct {
	Kind      string `form:"-"`
	Organizer string `form:"organizer"`
	Event     string `form:"event"`
	EventID   string `form:"event_id"`
	TicketID  string `form:"ticket_id"`
}

// Validate validates the DeriveRequest
func (r *DeriveRequest) Validate() (bool, string) {
	switch r.Kind {
	case DeriveEvent:
		if r.Organizer == "" || r.EventID == "" {
			return false, "organizer and event_id are required"
		}
	case DeriveTicket:
		if r.Event == "" || r.TicketID == "" {
			return false, "event and ticket_id are required"
		}
	case DeriveVault:
		if r.Event == "" {
			return false, "event is required"
		}
	case DeriveOrganizer:
		if r.Organizer == "" {
			return false, "organizer is required"
		}
	default:
		return false, "kind must be one of event, ticket, vault, organizer"
	}
	return true, ""
}

// Derive computes the requested address
func (r *DeriveRequest) Derive(d *address.Deriver) (address.Derived, error) {
	switch r.Kind {
	case DeriveEvent:
		org, err := domain.ParseAddress(r.Organizer)
		if err != nil {
			return address.Derived{}, err
		}
		id, err := parseU32(r.EventID, "event_id")
		if err != nil {
			return address.Derived{}, err
		}
		return d.Event(org, id)
	case DeriveTicket:
		event, err := domain.ParseAddress(r.Event)
		if err != nil {
			return address.Derived{}, err
		}
		id, err := parseU32(r.TicketID, "ticket_id")
		if err != nil {
			return address.Derived{}, err
		}
		return d.Ticket(event, id)
	case DeriveVault:
		event, err := domain.ParseAddress(r.Event)
		if err != nil {
			return address.Derived{}, err
		}
		return d.Vault(event)
	case DeriveOrganizer:
		org, err := domain.ParseAddress(r.Organizer)
		if err != nil {
			return address.Derived{}, err
		}
		return d.Organizer(org)
	}
	return address.Derived{}, fmt.Errorf("unknown address kind %q", r.Kind)
}

// DeriveResponse represents a derived address
type DeriveResponse struct {
	Kind      string         `json:"kind"`
	Address   domain.Address `json:"address"`
	Bump      uint8          `json:"bump"`
	ProgramID domain.Address `json:"program_id"`
}

func parseU32(s, field string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s must be an unsigned 32-bit integer", field)
	}
	return uint32(v), nil
}
