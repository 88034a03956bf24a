package service

import (
	"bytes"
	"context"
	"fmt"
	"math/bits"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/repository"
)

// accountSet is the in-memory working copy of every account a transaction references.
// Handlers mutate it freely; nothing reaches storage unless the whole transaction succeeds.
type accountSet struct {
	order    []domain.Address
	working  map[domain.Address]*domain.Account
	original map[domain.Address]*domain.Account
}

// loadAccounts reads addrs from repo. Addresses with no stored account start empty.
func loadAccounts(ctx context.Context, repo repository.AccountRepository, addrs []domain.Address) (*accountSet, error) {
	set := &accountSet{
		order:    make([]domain.Address, 0, len(addrs)),
		working:  make(map[domain.Address]*domain.Account, len(addrs)),
		original: make(map[domain.Address]*domain.Account, len(addrs)),
	}
	for _, addr := range addrs {
		if _, seen := set.working[addr]; seen {
			continue
		}
		acc, err := repo.GetAccount(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", addr, err)
		}
		if acc == nil {
			acc = domain.NewEmptyAccount(addr)
		}
		set.order = append(set.order, addr)
		set.original[addr] = acc.Clone()
		set.working[addr] = acc
	}
	return set, nil
}

func (s *accountSet) get(addr domain.Address) *domain.Account {
	return s.working[addr]
}

// totalLamports sums every balance in the set
func (s *accountSet) totalLamports() (uint64, error) {
	var total uint64
	for _, addr := range s.order {
		var carry uint64
		total, carry = bits.Add64(total, s.working[addr].Lamports, 0)
		if carry != 0 {
			return 0, domain.ErrArithmeticOverflow
		}
	}
	return total, nil
}

// dirty returns copies of the accounts that differ from what was loaded, in load order
func (s *accountSet) dirty() []*domain.Account {
	var out []*domain.Account
	for _, addr := range s.order {
		cur, orig := s.working[addr], s.original[addr]
		if cur.Owner != orig.Owner || cur.Lamports != orig.Lamports || !bytes.Equal(cur.Data, orig.Data) {
			out = append(out, cur.Clone())
		}
	}
	return out
}

// snapshotLamports records the current balance of every account
func (s *accountSet) snapshotLamports() map[domain.Address]uint64 {
	out := make(map[domain.Address]uint64, len(s.order))
	for _, addr := range s.order {
		out[addr] = s.working[addr].Lamports
	}
	return out
}
