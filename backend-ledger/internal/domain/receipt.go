package domain

import (
	"encoding/hex"
	"time"
)

// Hash is a 32-byte journal digest
type Hash [32]byte

// String returns the hex form
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != len(h) {
		return hex.ErrLength
	}
	copy(h[:], raw)
	return nil
}

// ReceiptKind distinguishes signed transactions from operator funding
type ReceiptKind string

const (
	ReceiptKindTransaction ReceiptKind = "transaction"
	ReceiptKindAirdrop     ReceiptKind = "airdrop"
)

// Receipt is the journal entry for one committed transaction
type Receipt struct {
	ID           string      `json:"id"`
	Kind         ReceiptKind `json:"kind"`
	Sequence     uint64      `json:"sequence"`
	PrevHash     Hash        `json:"prev_hash"`
	Hash         Hash        `json:"hash"`
	Signers      []Address   `json:"signers"`
	Instructions []string    `json:"instructions"`
	Accounts     []Address   `json:"accounts"`
	Logs         []string    `json:"logs"`
	Message      []byte      `json:"message"`
	CommittedAt  time.Time   `json:"committed_at"`
}

// Clone returns a deep copy
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	c := *r
	c.Signers = append([]Address(nil), r.Signers...)
	c.Instructions = append([]string(nil), r.Instructions...)
	c.Accounts = append([]Address(nil), r.Accounts...)
	c.Logs = append([]string(nil), r.Logs...)
	c.Message = append([]byte(nil), r.Message...)
	return &c
}
