package response

import (
	"net/http"
)

// Response is the JSON envelope every ledger endpoint returns
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo describes a failed request
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Ledger carries the numeric failure reason when a transaction is rejected
	Ledger *LedgerErrorInfo `json:"ledger,omitempty"`
}

// LedgerErrorInfo is the stable numeric code and name of a rejected transaction
type LedgerErrorInfo struct {
	Number           uint32 `json:"number"`
	Name             string `json:"name"`
	InstructionIndex *int   `json:"instruction_index,omitempty"`
}

// Meta describes one page of a cursor-ordered listing.
// NextCursor is passed back as the next request's cursor while HasMore is true.
type Meta struct {
	Limit      int    `json:"limit"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Operator authentication
	ErrCodeMissingToken = "MISSING_TOKEN"
	ErrCodeInvalidToken = "INVALID_TOKEN"
	ErrCodeTokenExpired = "TOKEN_EXPIRED"

	// Transaction rejections
	ErrCodeProgramError         = "PROGRAM_ERROR"
	ErrCodeInvalidTransaction   = "INVALID_TRANSACTION"
	ErrCodeSignatureRejected    = "SIGNATURE_REJECTED"
	ErrCodeDuplicateTransaction = "DUPLICATE_TRANSACTION"
	ErrCodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
	ErrCodeJournalCorrupt       = "JOURNAL_CORRUPT"
)

var httpStatus = map[string]int{
	ErrCodeBadRequest:           http.StatusBadRequest,
	ErrCodeUnauthorized:         http.StatusUnauthorized,
	ErrCodeForbidden:            http.StatusForbidden,
	ErrCodeNotFound:             http.StatusNotFound,
	ErrCodeTooManyRequests:      http.StatusTooManyRequests,
	ErrCodeInternalError:        http.StatusInternalServerError,
	ErrCodeServiceUnavailable:   http.StatusServiceUnavailable,
	ErrCodeMissingToken:         http.StatusUnauthorized,
	ErrCodeInvalidToken:         http.StatusUnauthorized,
	ErrCodeTokenExpired:         http.StatusUnauthorized,
	ErrCodeProgramError:         http.StatusUnprocessableEntity,
	ErrCodeInvalidTransaction:   http.StatusBadRequest,
	ErrCodeSignatureRejected:    http.StatusUnauthorized,
	ErrCodeDuplicateTransaction: http.StatusConflict,
	ErrCodeAccountNotFound:      http.StatusUnprocessableEntity,
	ErrCodeJournalCorrupt:       http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status for an error code; unknown codes are 500
func GetHTTPStatus(code string) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Success wraps data in a success envelope
func Success(data interface{}) *Response {
	return &Response{Success: true, Data: data}
}

// Page wraps one page of a listing
func Page(data interface{}, meta *Meta) *Response {
	return &Response{Success: true, Data: data, Meta: meta}
}

// Error builds a failure envelope
func Error(code, message string) *Response {
	return &Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	}
}

func orDefault(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}

func BadRequest(message string) *Response {
	return Error(ErrCodeBadRequest, message)
}

func Unauthorized(message string) *Response {
	return Error(ErrCodeUnauthorized, orDefault(message, "Authentication required"))
}

func Forbidden(message string) *Response {
	return Error(ErrCodeForbidden, orDefault(message, "Access denied"))
}

func NotFound(message string) *Response {
	return Error(ErrCodeNotFound, orDefault(message, "Resource not found"))
}

func InternalError(message string) *Response {
	return Error(ErrCodeInternalError, orDefault(message, "An internal error occurred"))
}

func TooManyRequests(message string) *Response {
	return Error(ErrCodeTooManyRequests, orDefault(message, "Too many requests, please try again later"))
}

func ServiceUnavailable(message string) *Response {
	return Error(ErrCodeServiceUnavailable, orDefault(message, "Service temporarily unavailable"))
}

// LedgerRejection builds the envelope of a rejected transaction.
// index is the failing instruction, or negative when the whole transaction was refused.
func LedgerRejection(code string, number uint32, name, message string, index int) *Response {
	info := &LedgerErrorInfo{Number: number, Name: name}
	if index >= 0 {
		info.InstructionIndex = &index
	}
	return &Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message, Ledger: info},
	}
}
