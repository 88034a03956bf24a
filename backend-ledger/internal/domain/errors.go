package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidStateTransition is returned when a lifecycle transition is not allowed
var ErrInvalidStateTransition = errors.New("invalid state transition")

// ErrorKind separates handler failures from platform rejections
type ErrorKind string

const (
	// ErrorKindProgram errors are raised by instruction handlers
	ErrorKindProgram ErrorKind = "program"
	// ErrorKindPlatform errors are raised before or around handler execution
	ErrorKindPlatform ErrorKind = "platform"
)

// ProgramErrorOffset is the first program error code
const ProgramErrorOffset = 6000

// LedgerError is a stable, enumerated failure reason surfaced to callers
type LedgerError struct {
	Code    uint32    `json:"code"`
	Name    string    `json:"name"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind"`
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
}

var registry = map[uint32]*LedgerError{}

func newError(kind ErrorKind, code uint32, name, message string) *LedgerError {
	e := &LedgerError{Code: code, Name: name, Message: message, Kind: kind}
	if _, dup := registry[code]; dup {
		panic("domain: duplicate ledger error code " + name)
	}
	registry[code] = e
	return e
}

// Program errors. Codes are part of the external interface and must never be renumbered.
var (
	ErrEventAlreadyExists          = newError(ErrorKindProgram, 6000, "EventAlreadyExists", "Event already exists")
	ErrEventSoldOut                = newError(ErrorKindProgram, 6001, "EventSoldOut", "Event is sold out")
	ErrEventCanceled               = newError(ErrorKindProgram, 6002, "EventCanceled", "Event has been canceled")
	ErrUnauthorizedTransfer        = newError(ErrorKindProgram, 6003, "UnauthorizedTransfer", "Only the ticket owner can transfer")
	ErrTicketAlreadyUsed           = newError(ErrorKindProgram, 6004, "TicketAlreadyUsed", "Cannot transfer a used ticket")
	ErrAlreadyCheckedIn            = newError(ErrorKindProgram, 6005, "AlreadyCheckedIn", "Ticket has already been checked in")
	ErrUnauthorizedCheckIn         = newError(ErrorKindProgram, 6006, "UnauthorizedCheckIn", "Only event authority can check in tickets")
	ErrCannotRefundUsedTicket      = newError(ErrorKindProgram, 6007, "CannotRefundUsedTicket", "Cannot refund a used ticket")
	ErrTicketAlreadyRefunded       = newError(ErrorKindProgram, 6008, "TicketAlreadyRefunded", "Ticket has already been refunded")
	ErrNameTooLong                 = newError(ErrorKindProgram, 6009, "NameTooLong", "Event name is too long")
	ErrDateTooLong                 = newError(ErrorKindProgram, 6010, "DateTooLong", "Event date is too long")
	ErrAlreadyRegistered           = newError(ErrorKindProgram, 6011, "AlreadyRegistered", "Organizer is already registered")
	ErrInsufficientFunds           = newError(ErrorKindProgram, 6012, "InsufficientFunds", "Insufficient funds")
	ErrUnauthorizedCancel          = newError(ErrorKindProgram, 6013, "UnauthorizedCancel", "Only event authority can cancel the event")
	ErrEventNotCanceled            = newError(ErrorKindProgram, 6014, "EventNotCanceled", "Event has not been canceled")
	ErrUnauthorizedRefund          = newError(ErrorKindProgram, 6015, "UnauthorizedRefund", "Not allowed to refund this ticket")
	ErrOwnerMismatch               = newError(ErrorKindProgram, 6016, "OwnerMismatch", "Refund recipient is not the ticket owner")
	ErrAddressConsistencyViolation = newError(ErrorKindProgram, 6017, "AddressConsistencyViolation", "Account does not match its expected address or parent")
)

// Platform errors
var (
	ErrInvalidInstruction   = newError(ErrorKindPlatform, 1, "InvalidInstruction", "Malformed instruction")
	ErrMissingSignature     = newError(ErrorKindPlatform, 2, "MissingSignature", "Required signature is missing")
	ErrInvalidSignature     = newError(ErrorKindPlatform, 3, "InvalidSignature", "Signature verification failed")
	ErrDuplicateTransaction = newError(ErrorKindPlatform, 4, "DuplicateTransaction", "Transaction has already been processed")
	ErrAccountNotFound      = newError(ErrorKindPlatform, 5, "AccountNotFound", "Account not found")
	ErrInvalidAccountData   = newError(ErrorKindPlatform, 6, "InvalidAccountData", "Account data is invalid for this instruction")
	ErrAccountNotWritable   = newError(ErrorKindPlatform, 7, "AccountNotWritable", "Account must be marked writable")
	ErrArithmeticOverflow   = newError(ErrorKindPlatform, 8, "ArithmeticOverflow", "Balance arithmetic overflowed")
)

// AsLedgerError extracts the LedgerError carried by err, if any
func AsLedgerError(err error) (*LedgerError, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// LookupError returns the error registered under code
func LookupError(code uint32) (*LedgerError, bool) {
	e, ok := registry[code]
	return e, ok
}

// ProgramErrors returns every program error ordered by code
func ProgramErrors() []*LedgerError {
	var out []*LedgerError
	for code := uint32(ProgramErrorOffset); ; code++ {
		e, ok := registry[code]
		if !ok {
			return out
		}
		out = append(out, e)
	}
}
