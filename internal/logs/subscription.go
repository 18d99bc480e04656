package logs

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
)

var subscriptionSeq atomic.Uint64

// Subscription delivers matching log entries to one consumer
type Subscription struct {
	id     string
	ch     chan domain.LogEntry
	filter *Filter
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	dropped int
}

func newSubscription(filter domain.LogFilter, bufferSize int, logger *slog.Logger) (*Subscription, error) {
	f, err := NewFilter(filter)
	if err != nil {
		return nil, err
	}
	return &Subscription{
		id:     "sub-" + strconv.FormatUint(subscriptionSeq.Add(1), 10),
		ch:     make(chan domain.LogEntry, bufferSize),
		filter: f,
		logger: logger,
	}, nil
}

// ID returns the subscription ID
func (s *Subscription) ID() string {
	return s.id
}

// Channel returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Channel() <-chan domain.LogEntry {
	return s.ch
}

// Send delivers entry if it matches. Entries are dropped rather than
// blocking the writer when the consumer falls behind; false is returned
// for a dropped entry or a closed subscription.
func (s *Subscription) Send(entry domain.LogEntry) bool {
	if !s.filter.Matches(entry) {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- entry:
		return true
	default:
		s.dropped++
		s.logger.Debug("log subscriber too slow, dropping entry", "subscription", s.id, "job", entry.Job, "dropped", s.dropped)
		return false
	}
}

// Dropped returns the number of entries dropped for this subscriber
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close ends the subscription
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// SubscriptionManager fans entries out to subscribers
type SubscriptionManager struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	bufferSize int
	logger     *slog.Logger
}

// NewSubscriptionManager creates a manager whose subscribers buffer bufferSize entries
func NewSubscriptionManager(bufferSize int, logger *slog.Logger) *SubscriptionManager {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultSubscriptionBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionManager{
		subs:       make(map[string]*Subscription),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers a new subscriber
func (m *SubscriptionManager) Subscribe(filter domain.LogFilter) (string, <-chan domain.LogEntry, error) {
	sub, err := newSubscription(filter, m.bufferSize, m.logger)
	if err != nil {
		return "", nil, err
	}

	m.mu.Lock()
	m.subs[sub.id] = sub
	m.mu.Unlock()

	return sub.id, sub.ch, nil
}

// Unsubscribe removes and closes a subscriber
func (m *SubscriptionManager) Unsubscribe(id string) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	delete(m.subs, id)
	m.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Broadcast sends entry to every subscriber
func (m *SubscriptionManager) Broadcast(entry domain.LogEntry) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subs {
		sub.Send(entry)
	}
}

// Count returns the number of subscribers
func (m *SubscriptionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Close ends every subscription
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
