package domain

// AccountStorageOverhead is the per-account byte overhead charged by the rent formula
const AccountStorageOverhead = 128

// RentExemptionYears is the number of years of rent an account must hold up front
const RentExemptionYears = 2

// Account is the raw ledger record stored at an address
type Account struct {
	Address  Address `json:"address"`
	Owner    Address `json:"owner"`
	Lamports uint64  `json:"lamports"`
	Data     []byte  `json:"data"`
}

// NewEmptyAccount returns an uninitialized, unfunded account at addr
func NewEmptyAccount(addr Address) *Account {
	return &Account{Address: addr, Owner: SystemOwner}
}

// IsInitialized reports whether the account holds record data
func (a *Account) IsInitialized() bool {
	return len(a.Data) > 0
}

// Clone returns a deep copy
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := &Account{
		Address:  a.Address,
		Owner:    a.Owner,
		Lamports: a.Lamports,
	}
	if a.Data != nil {
		c.Data = make([]byte, len(a.Data))
		copy(c.Data, a.Data)
	}
	return c
}

// RentExemptMinimum returns the lamports an account of dataLen bytes must hold.
// A zero rate disables rent.
func RentExemptMinimum(dataLen int, lamportsPerByteYear uint64) uint64 {
	return uint64(AccountStorageOverhead+dataLen) * lamportsPerByteYear * RentExemptionYears
}
