package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

// DiscriminatorLength is the size of the record type tag that prefixes every account
const DiscriminatorLength = 8

// Fixed account sizes, discriminator included. String fields are sized for their maximum length.
const (
	EventSpace     = DiscriminatorLength + 32 + 8 + 4 + 4 + 1 + 4 + 4 + domain.MaxNameLen + 4 + domain.MaxDateLen
	TicketSpace    = DiscriminatorLength + 32 + 32 + 4 + 1 + 1
	OrganizerSpace = DiscriminatorLength + 32 + 8
)

// Kind names the record type stored in an account
type Kind string

const (
	KindEvent     Kind = "event"
	KindTicket    Kind = "ticket"
	KindOrganizer Kind = "organizer_registry"
	KindNone      Kind = "none"
	KindUnknown   Kind = "unknown"
)

var (
	eventDiscriminator     = discriminator("Event")
	ticketDiscriminator    = discriminator("Ticket")
	organizerDiscriminator = discriminator("OrganizerRegistry")
)

var errStringTooLong = errors.New("string exceeds field capacity")

func discriminator(name string) [DiscriminatorLength]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorLength]byte
	copy(d[:], sum[:DiscriminatorLength])
	return d
}

// KindOf identifies the record type of account data by its discriminator
func KindOf(data []byte) Kind {
	if len(data) == 0 {
		return KindNone
	}
	if len(data) < DiscriminatorLength {
		return KindUnknown
	}
	var d [DiscriminatorLength]byte
	copy(d[:], data)
	switch d {
	case eventDiscriminator:
		return KindEvent
	case ticketDiscriminator:
		return KindTicket
	case organizerDiscriminator:
		return KindOrganizer
	default:
		return KindUnknown
	}
}

// EncodeEvent serializes e into a zero-padded EventSpace buffer
func EncodeEvent(e *domain.Event) ([]byte, error) {
	if len(e.Name) > domain.MaxNameLen {
		return nil, fmt.Errorf("name: %w", errStringTooLong)
	}
	if len(e.Date) > domain.MaxDateLen {
		return nil, fmt.Errorf("date: %w", errStringTooLong)
	}
	w := newWriter(EventSpace, eventDiscriminator)
	w.address(e.Authority)
	w.u64(e.Price)
	w.u32(e.Supply)
	w.u32(e.Sold)
	w.boolean(e.State == domain.EventStateCanceled)
	w.u32(e.EventID)
	w.str(e.Name)
	w.str(e.Date)
	return w.buf, nil
}

// DecodeEvent parses an Event record
func DecodeEvent(data []byte) (*domain.Event, error) {
	r, err := newReader(data, KindEvent)
	if err != nil {
		return nil, err
	}
	e := &domain.Event{
		Authority: r.address(),
		Price:     r.u64(),
		Supply:    r.u32(),
		Sold:      r.u32(),
	}
	canceled := r.boolean()
	e.EventID = r.u32()
	e.Name = r.str(domain.MaxNameLen)
	e.Date = r.str(domain.MaxDateLen)
	if r.err != nil {
		return nil, r.fail(KindEvent)
	}
	e.State = domain.EventStateActive
	if canceled {
		e.State = domain.EventStateCanceled
	}
	if e.Sold > e.Supply {
		return nil, fmt.Errorf("%w: event sold %d exceeds supply %d", domain.ErrInvalidAccountData, e.Sold, e.Supply)
	}
	return e, nil
}

// EncodeTicket serializes t into a TicketSpace buffer
func EncodeTicket(t *domain.Ticket) ([]byte, error) {
	if !t.State.IsValid() {
		return nil, fmt.Errorf("unknown ticket state %q", t.State)
	}
	w := newWriter(TicketSpace, ticketDiscriminator)
	w.address(t.Owner)
	w.address(t.Event)
	w.u32(t.TicketID)
	w.boolean(t.State == domain.TicketStateUsed)
	w.boolean(t.State == domain.TicketStateRefunded)
	return w.buf, nil
}

// DecodeTicket parses a Ticket record. A ticket flagged both used and refunded is rejected.
func DecodeTicket(data []byte) (*domain.Ticket, error) {
	r, err := newReader(data, KindTicket)
	if err != nil {
		return nil, err
	}
	t := &domain.Ticket{
		Owner:    r.address(),
		Event:    r.address(),
		TicketID: r.u32(),
	}
	used := r.boolean()
	refunded := r.boolean()
	if r.err != nil {
		return nil, r.fail(KindTicket)
	}
	switch {
	case used && refunded:
		return nil, fmt.Errorf("%w: ticket is both used and refunded", domain.ErrInvalidAccountData)
	case used:
		t.State = domain.TicketStateUsed
	case refunded:
		t.State = domain.TicketStateRefunded
	default:
		t.State = domain.TicketStateActive
	}
	return t, nil
}

// EncodeOrganizer serializes o into an OrganizerSpace buffer
func EncodeOrganizer(o *domain.OrganizerRegistry) ([]byte, error) {
	w := newWriter(OrganizerSpace, organizerDiscriminator)
	w.address(o.Organizer)
	w.u64(uint64(o.RegisteredAt))
	return w.buf, nil
}

// DecodeOrganizer parses an OrganizerRegistry record
func DecodeOrganizer(data []byte) (*domain.OrganizerRegistry, error) {
	r, err := newReader(data, KindOrganizer)
	if err != nil {
		return nil, err
	}
	o := &domain.OrganizerRegistry{
		Organizer:    r.address(),
		RegisteredAt: int64(r.u64()),
	}
	if r.err != nil {
		return nil, r.fail(KindOrganizer)
	}
	return o, nil
}

// Decode parses any known record and reports its kind
func Decode(data []byte) (Kind, any, error) {
	kind := KindOf(data)
	var (
		record any
		err    error
	)
	switch kind {
	case KindEvent:
		record, err = DecodeEvent(data)
	case KindTicket:
		record, err = DecodeTicket(data)
	case KindOrganizer:
		record, err = DecodeOrganizer(data)
	case KindNone:
		return kind, nil, nil
	default:
		return kind, nil, fmt.Errorf("%w: unrecognized discriminator", domain.ErrInvalidAccountData)
	}
	if err != nil {
		return kind, nil, err
	}
	return kind, record, nil
}

type writer struct {
	buf []byte
	off int
}

func newWriter(space int, disc [DiscriminatorLength]byte) *writer {
	w := &writer{buf: make([]byte, space)}
	copy(w.buf, disc[:])
	w.off = DiscriminatorLength
	return w
}

func (w *writer) address(a domain.Address) {
	w.off += copy(w.buf[w.off:], a[:])
}

func (w *writer) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *writer) boolean(v bool) {
	if v {
		w.buf[w.off] = 1
	}
	w.off++
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.off += copy(w.buf[w.off:], s)
}

type reader struct {
	data []byte
	off  int
	err  error
}

func newReader(data []byte, kind Kind) (*reader, error) {
	if KindOf(data) != kind {
		return nil, fmt.Errorf("%w: expected %s record", domain.ErrInvalidAccountData, kind)
	}
	return &reader{data: data, off: DiscriminatorLength}, nil
}

func (r *reader) fail(kind Kind) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrInvalidAccountData, kind, r.err)
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("truncated at offset %d", r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) address() domain.Address {
	var a domain.Address
	copy(a[:], r.take(domain.AddressLength))
	return a
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) boolean() bool {
	b := r.take(1)
	if b == nil {
		return false
	}
	if b[0] > 1 {
		r.err = fmt.Errorf("invalid bool byte %d at offset %d", b[0], r.off-1)
		return false
	}
	return b[0] == 1
}

func (r *reader) str(max int) string {
	n := r.u32()
	if r.err != nil {
		return ""
	}
	if int(n) > max {
		r.err = fmt.Errorf("string length %d exceeds %d", n, max)
		return ""
	}
	return string(r.take(int(n)))
}
