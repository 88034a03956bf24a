package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

// ErrChainBroken is returned when a stored receipt does not extend its predecessor
var ErrChainBroken = errors.New("journal chain broken")

// domainKey is the BLAKE3 key for journal entries: the ASCII domain name zero-padded to 32 bytes.
var domainKey = [32]byte{
	't', 'i', 'c', 'k', 'e', 't', '-', 'l', 'e', 'd', 'g', 'e', 'r', '.',
	'j', 'o', 'u', 'r', 'n', 'a', 'l', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ReceiptLister pages through committed receipts in sequence order
type ReceiptLister interface {
	ListReceipts(ctx context.Context, afterSeq uint64, limit int) ([]*domain.Receipt, error)
}

// ComputeHash returns the chain hash of one entry
func ComputeHash(prev domain.Hash, seq uint64, txID string, message []byte) domain.Hash {
	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		panic("journal: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var scratch [8]byte
	hasher.Write(prev[:])
	binary.LittleEndian.PutUint64(scratch[:], seq)
	hasher.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(txID)))
	hasher.Write(scratch[:4])
	hasher.Write([]byte(txID))
	hasher.Write(message)

	var out domain.Hash
	copy(out[:], hasher.Sum(nil))
	return out
}

// Journal assigns sequence numbers and chain hashes to committed transactions
type Journal struct {
	mu   sync.Mutex
	seq  uint64
	head domain.Hash
}

// New creates a new Journal continuing from latest, or from genesis when latest is nil
func New(latest *domain.Receipt) *Journal {
	j := &Journal{}
	if latest != nil {
		j.seq = latest.Sequence
		j.head = latest.Hash
	}
	return j
}

// Head returns the sequence and hash of the last appended entry
func (j *Journal) Head() (uint64, domain.Hash) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq, j.head
}

// Append stamps r with the next sequence and hash, then calls commit while holding
// the journal lock so chain order equals commit order. The head only advances if commit succeeds.
func (j *Journal) Append(r *domain.Receipt, commit func(*domain.Receipt) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	r.Sequence = j.seq + 1
	r.PrevHash = j.head
	r.Hash = ComputeHash(r.PrevHash, r.Sequence, r.ID, r.Message)

	if err := commit(r); err != nil {
		return err
	}
	j.seq = r.Sequence
	j.head = r.Hash
	return nil
}

// VerifyResult summarizes a chain verification
type VerifyResult struct {
	Entries uint64      `json:"entries"`
	Head    domain.Hash `json:"head"`
}

// Verify recomputes the chain over receipts, which must start at sequence 1
func Verify(receipts []*domain.Receipt) (VerifyResult, error) {
	var (
		res  VerifyResult
		prev domain.Hash
	)
	for _, r := range receipts {
		if err := checkEntry(r, res.Entries+1, prev); err != nil {
			return res, err
		}
		res.Entries++
		prev = r.Hash
	}
	res.Head = prev
	return res, nil
}

// VerifyChain pages through every stored receipt and recomputes the chain
func VerifyChain(ctx context.Context, lister ReceiptLister, pageSize int) (VerifyResult, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	var (
		res  VerifyResult
		prev domain.Hash
	)
	for {
		page, err := lister.ListReceipts(ctx, res.Entries, pageSize)
		if err != nil {
			return res, fmt.Errorf("list receipts after %d: %w", res.Entries, err)
		}
		for _, r := range page {
			if err := checkEntry(r, res.Entries+1, prev); err != nil {
				return res, err
			}
			res.Entries++
			prev = r.Hash
		}
		res.Head = prev
		if len(page) < pageSize {
			return res, nil
		}
	}
}

func checkEntry(r *domain.Receipt, wantSeq uint64, prev domain.Hash) error {
	if r.Sequence != wantSeq {
		return fmt.Errorf("%w: expected sequence %d, found %d", ErrChainBroken, wantSeq, r.Sequence)
	}
	if r.PrevHash != prev {
		return fmt.Errorf("%w: sequence %d does not link to its predecessor", ErrChainBroken, r.Sequence)
	}
	if ComputeHash(r.PrevHash, r.Sequence, r.ID, r.Message) != r.Hash {
		return fmt.Errorf("%w: sequence %d hash mismatch", ErrChainBroken, r.Sequence)
	}
	return nil
}
