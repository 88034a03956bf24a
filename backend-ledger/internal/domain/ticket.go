package domain

import "fmt"

// TicketState represents the lifecycle state of a ticket
type TicketState string

const (
	TicketStateActive   TicketState = "ACTIVE"
	TicketStateUsed     TicketState = "USED"
	TicketStateRefunded TicketState = "REFUNDED"
)

// validTicketTransitions defines allowed ticket state transitions.
// Ownership changes keep a ticket ACTIVE and are not transitions.
var validTicketTransitions = map[TicketState][]TicketState{
	TicketStateActive:   {TicketStateUsed, TicketStateRefunded},
	TicketStateUsed:     {}, // Terminal state
	TicketStateRefunded: {}, // Terminal state
}

// IsTerminal returns true if the state is a terminal state
func (s TicketState) IsTerminal() bool {
	return s == TicketStateUsed || s == TicketStateRefunded
}

// IsValid returns true if the state is a known ticket state
func (s TicketState) IsValid() bool {
	_, exists := validTicketTransitions[s]
	return exists
}

// CanTransitionTo returns true if transition to the target state is allowed
func (s TicketState) CanTransitionTo(target TicketState) bool {
	for _, allowed := range validTicketTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Ticket is a single admission minted from an event
type Ticket struct {
	Owner    Address     `json:"owner"`
	Event    Address     `json:"event"`
	TicketID uint32      `json:"ticket_id"`
	State    TicketState `json:"state"`
}

// IsUsed reports whether the ticket has been checked in
func (t *Ticket) IsUsed() bool {
	return t.State == TicketStateUsed
}

// IsRefunded reports whether the ticket has been refunded
func (t *Ticket) IsRefunded() bool {
	return t.State == TicketStateRefunded
}

// TransitionTo moves the ticket to a new state
func (t *Ticket) TransitionTo(target TicketState) error {
	if !t.State.CanTransitionTo(target) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStateTransition, t.State, target)
	}
	t.State = target
	return nil
}

// TransferTo hands the ticket to a new owner; only active tickets move
func (t *Ticket) TransferTo(newOwner Address) error {
	if t.State != TicketStateActive {
		return fmt.Errorf("%w: %s ticket cannot change owner", ErrInvalidStateTransition, t.State)
	}
	t.Owner = newOwner
	return nil
}
