package logs

import (
	"sync"

	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
)

// RingBuffer keeps the most recent log entries of a run
type RingBuffer struct {
	mu      sync.RWMutex
	entries []domain.LogEntry
	next    int // slot the next write lands in
	size    int // number of valid entries
}

// NewRingBuffer creates a ring buffer holding up to capacity entries
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = constants.DefaultLogBufferSize
	}
	return &RingBuffer{entries: make([]domain.LogEntry, capacity)}
}

// Write appends an entry, overwriting the oldest when full
func (b *RingBuffer) Write(entry domain.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
	if b.size < len(b.entries) {
		b.size++
	}
}

// Read returns all entries, oldest first
func (b *RingBuffer) Read() []domain.LogEntry {
	return b.ReadLast(-1)
}

// ReadLast returns up to the last n entries, oldest first. A negative n
// returns everything.
func (b *RingBuffer) ReadLast(n int) []domain.LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 || n > b.size {
		n = b.size
	}
	if n == 0 {
		return nil
	}

	out := make([]domain.LogEntry, n)
	start := (b.next - n + len(b.entries)) % len(b.entries)
	for i := range out {
		out[i] = b.entries[(start+i)%len(b.entries)]
	}
	return out
}

// Count returns the number of entries held
func (b *RingBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the maximum number of entries held
func (b *RingBuffer) Capacity() int {
	return len(b.entries)
}

// Clear drops every entry
func (b *RingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = 0
	b.size = 0
}
