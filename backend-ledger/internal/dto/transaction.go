package dto

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/mr-tron/base58"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/txn"
	"github.com/prohmpiriya/ticket-ledger/pkg/response"
)

// MaxSignatures bounds how many signatures one transaction may carry
const MaxSignatures = 16

// SignatureRequest is one signer's contribution to a submitted transaction
type SignatureRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// SubmitTransactionRequest represents a signed transaction on the wire.
// Message is the base64 of the canonical CBOR message; signatures are base58.
type SubmitTransactionRequest struct {
	Message    string             `json:"message" binding:"required"`
	Signatures []SignatureRequest `json:"signatures" binding:"required"`
}

// Validate validates the SubmitTransactionRequest
func (r *SubmitTransactionRequest) Validate() (bool, string) {
	if r.Message == "" {
		return false, "Message is required"
	}
	if len(r.Signatures) == 0 {
		return false, "At least one signature is required"
	}
	if len(r.Signatures) > MaxSignatures {
		return false, fmt.Sprintf("At most %d signatures are allowed", MaxSignatures)
	}
	for i, s := range r.Signatures {
		if s.PublicKey == "" || s.Signature == "" {
			return false, fmt.Sprintf("Signature %d is incomplete", i)
		}
	}
	return true, ""
}

// FeePayer returns the first signer's public key as sent
func (r *SubmitTransactionRequest) FeePayer() string {
	if len(r.Signatures) == 0 {
		return ""
	}
	return r.Signatures[0].PublicKey
}

// ToTransaction decodes the request into a transaction ready for execution
func (r *SubmitTransactionRequest) ToTransaction() (*txn.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(r.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: message is not valid base64", domain.ErrInvalidInstruction)
	}
	sigs := make([]txn.Signature, 0, len(r.Signatures))
	for i, s := range r.Signatures {
		pub, err := domain.ParseAddress(s.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: signature %d public key: %v", domain.ErrInvalidSignature, i, err)
		}
		sig, err := base58.Decode(s.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: signature %d is not valid base58", domain.ErrInvalidSignature, i)
		}
		sigs = append(sigs, txn.Signature{PublicKey: pub, Signature: sig})
	}
	return txn.Parse(raw, sigs)
}

// NewSubmitTransactionRequest encodes a signed transaction for the wire
func NewSubmitTransactionRequest(tx *txn.Transaction) *SubmitTransactionRequest {
	req := &SubmitTransactionRequest{
		Message:    base64.StdEncoding.EncodeToString(tx.Raw),
		Signatures: make([]SignatureRequest, 0, len(tx.Signatures)),
	}
	for _, s := range tx.Signatures {
		req.Signatures = append(req.Signatures, SignatureRequest{
			PublicKey: s.PublicKey.String(),
			Signature: base58.Encode(s.Signature),
		})
	}
	return req
}

// ReceiptResponse represents a committed journal entry
type ReceiptResponse struct {
	ID           string           `json:"id"`
	Kind         string           `json:"kind"`
	Sequence     uint64           `json:"sequence"`
	PrevHash     string           `json:"prev_hash"`
	Hash         string           `json:"hash"`
	Signers      []domain.Address `json:"signers"`
	Instructions []string         `json:"instructions"`
	Accounts     []domain.Address `json:"accounts"`
	Logs         []string         `json:"logs"`
	Message      string           `json:"message"`
	CommittedAt  string           `json:"committed_at"`
}

// ToReceiptResponse converts a receipt for the API
func ToReceiptResponse(r *domain.Receipt) *ReceiptResponse {
	return &ReceiptResponse{
		ID:           r.ID,
		Kind:         string(r.Kind),
		Sequence:     r.Sequence,
		PrevHash:     r.PrevHash.String(),
		Hash:         r.Hash.String(),
		Signers:      nonNilAddresses(r.Signers),
		Instructions: nonNilStrings(r.Instructions),
		Accounts:     nonNilAddresses(r.Accounts),
		Logs:         nonNilStrings(r.Logs),
		Message:      base64.StdEncoding.EncodeToString(r.Message),
		CommittedAt:  r.CommittedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ListReceiptsRequest is the query of a journal listing.
// Cursor is the sequence of the last receipt already seen.
type ListReceiptsRequest struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

// Validate validates the ListReceiptsRequest
func (r *ListReceiptsRequest) Validate() (bool, string) {
	if r.Limit < 0 {
		return false, "Limit must not be negative"
	}
	if r.Cursor != "" {
		if _, err := strconv.ParseUint(r.Cursor, 10, 64); err != nil {
			return false, "Cursor must be a journal sequence number"
		}
	}
	return true, ""
}

// After returns the sequence the page starts after; call Validate first
func (r *ListReceiptsRequest) After() uint64 {
	after, _ := strconv.ParseUint(r.Cursor, 10, 64)
	return after
}

// ToReceiptPage converts a journal page and builds its cursor
func ToReceiptPage(receipts []*domain.Receipt, limit int, hasMore bool) ([]*ReceiptResponse, *response.Meta) {
	out := make([]*ReceiptResponse, 0, len(receipts))
	for _, r := range receipts {
		out = append(out, ToReceiptResponse(r))
	}
	meta := &response.Meta{Limit: limit, HasMore: hasMore}
	if hasMore && len(receipts) > 0 {
		meta.NextCursor = strconv.FormatUint(receipts[len(receipts)-1].Sequence, 10)
	}
	return out, meta
}

// JournalVerifyResponse reports the outcome of a chain verification
type JournalVerifyResponse struct {
	Valid   bool   `json:"valid"`
	Entries uint64 `json:"entries"`
	Head    string `json:"head"`
	Error   string `json:"error,omitempty"`
}

func nonNilAddresses(in []domain.Address) []domain.Address {
	if in == nil {
		return []domain.Address{}
	}
	return in
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
