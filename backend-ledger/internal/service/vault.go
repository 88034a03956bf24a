package service

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

// errVaultCustody means a handler moved value out of a fund pool outside of a refund
var errVaultCustody = errors.New("vault debited outside of refund")

// transferLamports moves amount from one account to another.
// Moving lamports from an account to itself leaves the balance unchanged.
func transferLamports(from, to *domain.Account, amount uint64) error {
	if from.Lamports < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", domain.ErrInsufficientFunds, from.Address, from.Lamports, amount)
	}
	if from == to {
		return nil
	}
	sum, carry := bits.Add64(to.Lamports, amount, 0)
	if carry != 0 {
		return domain.ErrArithmeticOverflow
	}
	from.Lamports -= amount
	to.Lamports = sum
	return nil
}

// depositToVault credits the event pool with a ticket payment
func depositToVault(buyer, vault *domain.Account, price uint64) error {
	return transferLamports(buyer, vault, price)
}

// withdrawFromVault pays a refund out of the event pool. Refund is its only caller.
func withdrawFromVault(vault, recipient *domain.Account, price uint64) error {
	return transferLamports(vault, recipient, price)
}

// isVault reports whether acc has the shape of a fund pool: a system-owned, data-less
// account at an address no private key controls
func isVault(acc *domain.Account) bool {
	return acc.Owner == domain.SystemOwner && !acc.IsInitialized() && !acc.Address.IsOnCurve()
}

// checkVaultCustody fails if any vault other than allowed lost lamports since before
func checkVaultCustody(before map[domain.Address]uint64, set *accountSet, allowed *domain.Address) error {
	for _, addr := range set.order {
		acc := set.get(addr)
		if acc.Lamports >= before[addr] || !isVault(acc) {
			continue
		}
		if allowed != nil && *allowed == addr {
			continue
		}
		return fmt.Errorf("%w: %s", errVaultCustody, addr)
	}
	return nil
}

// requiredPayment returns price plus rent, failing on overflow
func requiredPayment(price, rent uint64) (uint64, error) {
	sum, carry := bits.Add64(price, rent, 0)
	if carry != 0 {
		return 0, domain.ErrArithmeticOverflow
	}
	return sum, nil
}
