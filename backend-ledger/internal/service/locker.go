package service

import (
	"sort"
	"sync"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

// AccountLocker hands out per-address read/write locks.
// Locks are always taken in ascending address order so overlapping transactions cannot deadlock.
type AccountLocker struct {
	mu    sync.Mutex
	locks map[domain.Address]*lockEntry
}

type lockEntry struct {
	rw   sync.RWMutex
	refs int
}

type lockRequest struct {
	addr  domain.Address
	write bool
}

// NewAccountLocker creates a new AccountLocker
func NewAccountLocker() *AccountLocker {
	return &AccountLocker{locks: make(map[domain.Address]*lockEntry)}
}

// Lock blocks until every writable address is held exclusively and every readonly
// address is held shared. An address in both sets is locked for writing.
// The returned function releases everything and must be called exactly once.
func (l *AccountLocker) Lock(writable, readonly []domain.Address) func() {
	reqs := planLocks(writable, readonly)

	entries := make([]*lockEntry, len(reqs))
	l.mu.Lock()
	for i, r := range reqs {
		e, ok := l.locks[r.addr]
		if !ok {
			e = &lockEntry{}
			l.locks[r.addr] = e
		}
		e.refs++
		entries[i] = e
	}
	l.mu.Unlock()

	for i, r := range reqs {
		if r.write {
			entries[i].rw.Lock()
		} else {
			entries[i].rw.RLock()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(reqs) - 1; i >= 0; i-- {
				if reqs[i].write {
					entries[i].rw.Unlock()
				} else {
					entries[i].rw.RUnlock()
				}
			}
			l.mu.Lock()
			for i, r := range reqs {
				entries[i].refs--
				if entries[i].refs == 0 {
					delete(l.locks, r.addr)
				}
			}
			l.mu.Unlock()
		})
	}
}

// Held returns the number of addresses with an outstanding lock or waiter
func (l *AccountLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func planLocks(writable, readonly []domain.Address) []lockRequest {
	modes := make(map[domain.Address]bool, len(writable)+len(readonly))
	for _, a := range readonly {
		if _, ok := modes[a]; !ok {
			modes[a] = false
		}
	}
	for _, a := range writable {
		modes[a] = true
	}
	reqs := make([]lockRequest, 0, len(modes))
	for a, w := range modes {
		reqs = append(reqs, lockRequest{addr: a, write: w})
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].addr.Compare(reqs[j].addr) < 0
	})
	return reqs
}
