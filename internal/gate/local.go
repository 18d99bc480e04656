package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charliek/semrun/internal/domain"
	"golang.org/x/sync/semaphore"
)

// Local is an in-process gate. The weighted semaphore is sized to
// MaxCapacity and the slots beyond the configured capacity stay reserved,
// which lets SetCapacity grow or shrink it.
type Local struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	capacity int

	held    atomic.Int64
	waiters atomic.Int64
	closed  atomic.Bool
}

// NewLocal returns a local gate with capacity slots
func NewLocal(capacity int) *Local {
	sem := semaphore.NewWeighted(MaxCapacity)
	sem.TryAcquire(int64(MaxCapacity - capacity))
	return &Local{sem: sem, capacity: capacity}
}

// Acquire implements Gate
func (l *Local) Acquire(ctx context.Context) error {
	if l.closed.Load() {
		return domain.ErrGateClosed
	}
	l.waiters.Add(1)
	err := l.sem.Acquire(ctx, 1)
	l.waiters.Add(-1)
	if err != nil {
		return err
	}
	if l.closed.Load() {
		l.sem.Release(1)
		return domain.ErrGateClosed
	}
	l.held.Add(1)
	return nil
}

// TryAcquire implements Gate
func (l *Local) TryAcquire() bool {
	if l.closed.Load() || !l.sem.TryAcquire(1) {
		return false
	}
	l.held.Add(1)
	return true
}

// Release implements Gate
func (l *Local) Release() error {
	for {
		n := l.held.Load()
		if n <= 0 {
			return errors.New("gate release without acquire")
		}
		if l.held.CompareAndSwap(n, n-1) {
			break
		}
	}
	l.sem.Release(1)
	return nil
}

// Info implements Gate
func (l *Local) Info() (Info, error) {
	l.mu.Lock()
	capacity := l.capacity
	l.mu.Unlock()

	held := int(l.held.Load())
	return Info{
		Kind:      KindLocal,
		Capacity:  capacity,
		Available: capacity - held,
		Held:      held,
		Waiters:   int(l.waiters.Load()),
	}, nil
}

// SetCapacity implements Gate
func (l *Local) SetCapacity(n int) error {
	if n < 1 || n > MaxCapacity {
		return fmt.Errorf("%w: capacity must be between 1 and %d", domain.ErrInvalidConfig, MaxCapacity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delta := n - l.capacity
	switch {
	case delta > 0:
		l.sem.Release(int64(delta))
	case delta < 0:
		if !l.sem.TryAcquire(int64(-delta)) {
			return fmt.Errorf("%w: cannot shrink to %d", domain.ErrGateBusy, n)
		}
	}
	l.capacity = n
	return nil
}

// Close implements Gate. Slots still held are returned.
func (l *Local) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if n := l.held.Swap(0); n > 0 {
		l.sem.Release(n)
	}
	return nil
}

// Remove implements Gate. A local gate has no kernel object.
func (l *Local) Remove() error {
	return l.Close()
}
