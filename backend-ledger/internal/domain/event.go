package domain

import "fmt"

const (
	// MaxNameLen is the maximum event name length in bytes
	MaxNameLen = 50
	// MaxDateLen is the maximum event date length in bytes
	MaxDateLen = 30
)

// EventState represents the lifecycle state of an event
type EventState string

const (
	EventStateActive   EventState = "ACTIVE"
	EventStateCanceled EventState = "CANCELED"
)

// validEventTransitions defines allowed event state transitions
var validEventTransitions = map[EventState][]EventState{
	EventStateActive:   {EventStateCanceled},
	EventStateCanceled: {}, // Terminal state
}

// IsTerminal returns true if the state is a terminal state
func (s EventState) IsTerminal() bool {
	return s == EventStateCanceled
}

// IsValid returns true if the state is a known event state
func (s EventState) IsValid() bool {
	_, exists := validEventTransitions[s]
	return exists
}

// CanTransitionTo returns true if transition to the target state is allowed
func (s EventState) CanTransitionTo(target EventState) bool {
	for _, allowed := range validEventTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Event is one ticketed event owned by its authority
type Event struct {
	Authority Address    `json:"authority"`
	Price     uint64     `json:"price"`
	Supply    uint32     `json:"supply"`
	Sold      uint32     `json:"sold"`
	State     EventState `json:"state"`
	EventID   uint32     `json:"event_id"`
	Name      string     `json:"name"`
	Date      string     `json:"date"`
}

// IsCanceled reports whether the event has been canceled
func (e *Event) IsCanceled() bool {
	return e.State == EventStateCanceled
}

// IsSoldOut reports whether every ticket has been minted
func (e *Event) IsSoldOut() bool {
	return e.Sold >= e.Supply
}

// RecordSale reserves the next ticket id and returns it
func (e *Event) RecordSale() (uint32, error) {
	if e.IsCanceled() {
		return 0, fmt.Errorf("%w: event is canceled", ErrInvalidStateTransition)
	}
	if e.IsSoldOut() {
		return 0, fmt.Errorf("%w: sold %d of %d", ErrInvalidStateTransition, e.Sold, e.Supply)
	}
	id := e.Sold
	e.Sold++
	return id, nil
}

// Cancel moves the event to its terminal state
func (e *Event) Cancel() error {
	if !e.State.CanTransitionTo(EventStateCanceled) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStateTransition, e.State, EventStateCanceled)
	}
	e.State = EventStateCanceled
	return nil
}
