// Package logs collects job output: a ring buffer for queries, live
// subscriptions for followers and optional sinks such as per-job files.
package logs

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
)

// Sink receives every entry written to a Manager
type Sink interface {
	Write(entry domain.LogEntry) error
	Close() error
}

// ManagerConfig holds configuration for the log manager
type ManagerConfig struct {
	BufferSize         int // entries kept for queries
	SubscriptionBuffer int // per-subscriber channel size
	Sinks              []Sink
	Logger             *slog.Logger
}

// DefaultManagerConfig returns the default configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BufferSize:         constants.DefaultLogBufferSize,
		SubscriptionBuffer: constants.DefaultSubscriptionBuffer,
	}
}

// Manager stores job output and distributes it
type Manager struct {
	buffer        *RingBuffer
	subscriptions *SubscriptionManager
	sinks         []Sink
	logger        *slog.Logger

	// sinkMu serializes sink writes so each sink sees entries in order
	sinkMu     sync.Mutex
	sinkFailed map[int]bool
}

// NewManager creates a new log manager
func NewManager(config ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.SubscriptionBuffer <= 0 {
		config.SubscriptionBuffer = def.SubscriptionBuffer
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Manager{
		buffer:        NewRingBuffer(config.BufferSize),
		subscriptions: NewSubscriptionManager(config.SubscriptionBuffer, config.Logger),
		sinks:         config.Sinks,
		logger:        config.Logger,
		sinkFailed:    make(map[int]bool),
	}
}

// Write stores entry, hands it to the sinks and broadcasts it
func (m *Manager) Write(entry domain.LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	m.buffer.Write(entry)

	if len(m.sinks) > 0 {
		m.sinkMu.Lock()
		for i, s := range m.sinks {
			if err := s.Write(entry); err != nil && !m.sinkFailed[i] {
				// Report a broken sink once rather than per line
				m.sinkFailed[i] = true
				m.logger.Warn("log sink write failed", "job", entry.Job, "error", err)
			}
		}
		m.sinkMu.Unlock()
	}

	m.subscriptions.Broadcast(entry)
}

// System writes a line about job authored by semrun itself
func (m *Manager) System(job, format string, args ...any) {
	m.Write(domain.LogEntry{
		Timestamp: time.Now(),
		Job:       job,
		Stream:    domain.StreamSystem,
		Line:      fmt.Sprintf(format, args...),
	})
}

// Query returns matching entries, keeping the newest limit of them, and the
// number of matches before limiting
func (m *Manager) Query(filter domain.LogFilter, limit int) ([]domain.LogEntry, int, error) {
	return FilterEntriesLimit(m.buffer.Read(), filter, limit)
}

// QueryLast returns the last n matching entries, or all of them when n <= 0
func (m *Manager) QueryLast(filter domain.LogFilter, n int) ([]domain.LogEntry, int, error) {
	return FilterEntriesLimit(m.buffer.Read(), filter, n)
}

// Subscribe creates a subscription for log entries matching the filter
func (m *Manager) Subscribe(filter domain.LogFilter) (string, <-chan domain.LogEntry, error) {
	return m.subscriptions.Subscribe(filter)
}

// Unsubscribe removes a subscription
func (m *Manager) Unsubscribe(id string) {
	m.subscriptions.Unsubscribe(id)
}

// Stats returns statistics about the log manager
func (m *Manager) Stats() domain.LogStats {
	return domain.LogStats{
		TotalEntries: m.buffer.Count(),
		BufferSize:   m.buffer.Capacity(),
		Subscribers:  m.subscriptions.Count(),
	}
}

// Close ends all subscriptions and closes the sinks
func (m *Manager) Close() error {
	m.subscriptions.Close()

	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()

	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.sinks = nil
	return firstErr
}
