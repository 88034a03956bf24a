package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	return a
}

func TestPlanLocks(t *testing.T) {
	reqs := planLocks(
		[]domain.Address{addr(3), addr(1)},
		[]domain.Address{addr(2), addr(1), addr(2)},
	)

	assert.Equal(t, []lockRequest{
		{addr: addr(1), write: true},
		{addr: addr(2), write: false},
		{addr: addr(3), write: true},
	}, reqs)
}

func TestAccountLocker_WritersExclude(t *testing.T) {
	l := NewAccountLocker()
	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock([]domain.Address{addr(1)}, nil)
			n := active.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, 0, l.Held())
}

func TestAccountLocker_ReadersShare(t *testing.T) {
	l := NewAccountLocker()
	first := l.Lock(nil, []domain.Address{addr(1)})

	acquired := make(chan struct{})
	go func() {
		second := l.Lock(nil, []domain.Address{addr(1)})
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked")
	}
	first()
	assert.Equal(t, 0, l.Held())
}

func TestAccountLocker_WriterWaitsForReader(t *testing.T) {
	l := NewAccountLocker()
	reader := l.Lock(nil, []domain.Address{addr(1)})

	acquired := make(chan struct{})
	go func() {
		writer := l.Lock([]domain.Address{addr(1)}, nil)
		close(acquired)
		writer()
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired while reader held the lock")
	case <-time.After(20 * time.Millisecond):
	}

	reader()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired")
	}
}

func TestAccountLocker_OverlappingSetsDoNotDeadlock(t *testing.T) {
	l := NewAccountLocker()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := l.Lock([]domain.Address{addr(1), addr(2)}, []domain.Address{addr(3)})
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := l.Lock([]domain.Address{addr(2), addr(1)}, []domain.Address{addr(3)})
			unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("locker deadlocked")
	}
	assert.Equal(t, 0, l.Held())
}

func TestAccountLocker_UnlockIsIdempotent(t *testing.T) {
	l := NewAccountLocker()
	unlock := l.Lock([]domain.Address{addr(1)}, nil)
	unlock()
	unlock()
	assert.Equal(t, 0, l.Held())
}
