package address

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

// DefaultProgramID is the program id the ledger derives addresses under unless configured otherwise
const DefaultProgramID = "5wkLPJVMaiemo3Nn5QdAgdifjZig3DWUR9pxAGAeCXZJ"

const (
	// MaxSeeds is the maximum number of seeds including the bump
	MaxSeeds = 16
	// MaxSeedLen is the maximum length of a single seed
	MaxSeedLen = 32

	pdaMarker = "ProgramDerivedAddress"
)

// Seed tags
const (
	TagEvent     = "event"
	TagTicket    = "ticket"
	TagVault     = "vault"
	TagOrganizer = "organizer"
)

var (
	ErrMaxSeedLengthExceeded = errors.New("seed exceeds maximum length")
	ErrTooManySeeds          = errors.New("too many seeds")
	ErrInvalidSeeds          = errors.New("derived address lies on the ed25519 curve")
	ErrNoViableBump          = errors.New("unable to find a viable bump seed")
)

// Derived is an address together with the bump that moved it off the curve
type Derived struct {
	Address domain.Address `json:"address"`
	Bump    uint8          `json:"bump"`
}

// Deriver computes program-derived addresses for one program id
type Deriver struct {
	programID domain.Address
}

// NewDeriver creates a Deriver for programID
func NewDeriver(programID domain.Address) *Deriver {
	return &Deriver{programID: programID}
}

// ProgramID returns the program id addresses are derived under
func (d *Deriver) ProgramID() domain.Address {
	return d.programID
}

// CreateProgramAddress hashes seeds (bump included) with the program id.
// It fails if the result is a valid curve point.
func (d *Deriver) CreateProgramAddress(seeds ...[]byte) (domain.Address, error) {
	if len(seeds) > MaxSeeds {
		return domain.Address{}, fmt.Errorf("%w: %d > %d", ErrTooManySeeds, len(seeds), MaxSeeds)
	}
	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return domain.Address{}, fmt.Errorf("%w: seed %d is %d bytes", ErrMaxSeedLengthExceeded, i, len(seed))
		}
		h.Write(seed)
	}
	h.Write(d.programID[:])
	h.Write([]byte(pdaMarker))

	var addr domain.Address
	copy(addr[:], h.Sum(nil))
	if addr.IsOnCurve() {
		return domain.Address{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down for the first off-curve address
func (d *Deriver) FindProgramAddress(seeds ...[]byte) (Derived, error) {
	if len(seeds) >= MaxSeeds {
		return Derived{}, fmt.Errorf("%w: %d seeds leave no room for a bump", ErrTooManySeeds, len(seeds))
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bump := []byte{0}
	withBump[len(seeds)] = bump

	for b := 255; b >= 0; b-- {
		bump[0] = byte(b)
		addr, err := d.CreateProgramAddress(withBump...)
		if err == nil {
			return Derived{Address: addr, Bump: uint8(b)}, nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return Derived{}, err
		}
	}
	return Derived{}, ErrNoViableBump
}

// Event derives the event address for (organizer, eventID)
func (d *Deriver) Event(organizer domain.Address, eventID uint32) (Derived, error) {
	return d.FindProgramAddress([]byte(TagEvent), organizer[:], u32LE(eventID))
}

// Ticket derives the address of ticket ticketID of event
func (d *Deriver) Ticket(event domain.Address, ticketID uint32) (Derived, error) {
	return d.FindProgramAddress([]byte(TagTicket), event[:], u32LE(ticketID))
}

// Vault derives the fund pool address of event
func (d *Deriver) Vault(event domain.Address) (Derived, error) {
	return d.FindProgramAddress([]byte(TagVault), event[:])
}

// Organizer derives the registry address of organizer
func (d *Deriver) Organizer(organizer domain.Address) (Derived, error) {
	return d.FindProgramAddress([]byte(TagOrganizer), organizer[:])
}

func u32LE(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
