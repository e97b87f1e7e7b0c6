// Package fanout distributes enriched vehicle updates to live subscribers.
//
// Each subscription owns a bounded queue. Publishing never blocks: when a
// subscriber's queue is full the oldest pending update is dropped and the
// next delivered update carries a delivery_skipped marker. A slow consumer
// never holds up ingestion or any other subscriber.
package fanout

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// DefaultQueueSize bounds a subscriber's pending updates unless the
// manager is configured otherwise.
const DefaultQueueSize = 64

// Filter scopes a subscription to a customer or to an explicit device set.
// An empty filter matches every update.
type Filter struct {
	CustomerID string
	DeviceIDs  []string
}

func (f Filter) matches(u *models.EnrichedUpdate) bool {
	if f.CustomerID != "" && f.CustomerID != u.CustomerID {
		return false
	}
	if len(f.DeviceIDs) > 0 {
		deviceID := ""
		if u.State != nil {
			deviceID = u.State.DeviceID
		}
		for _, id := range f.DeviceIDs {
			if id == deviceID {
				return true
			}
		}
		return false
	}
	return true
}

// Subscription is one live subscriber registration. Consume updates from
// Updates(); the channel closes when the subscription is removed.
type Subscription struct {
	id     string
	filter Filter

	mu          sync.Mutex
	queue       []models.EnrichedUpdate
	capacity    int
	skipPending bool
	dropped     uint64
	closed      bool

	notify chan struct{}
	done   chan struct{}
	out    chan models.EnrichedUpdate
}

// ID returns the subscription handle used for Unsubscribe.
func (s *Subscription) ID() string { return s.id }

// Updates is the subscriber's delivery stream.
func (s *Subscription) Updates() <-chan models.EnrichedUpdate { return s.out }

// Dropped reports how many pending updates were discarded to overflow.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) enqueue(u models.EnrichedUpdate) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		s.skipPending = true
		s.dropped++
	}
	s.queue = append(s.queue, u)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (models.EnrichedUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return models.EnrichedUpdate{}, false
	}
	u := s.queue[0]
	s.queue = s.queue[1:]
	if s.skipPending {
		u.DeliverySkipped = true
		s.skipPending = false
	}
	return u, true
}

// pump moves queued updates onto the delivery channel until the
// subscription closes. Anything still queued at close is discarded.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			u, ok := s.pop()
			if !ok {
				break
			}
			select {
			case s.out <- u:
			case <-s.done:
				return
			}
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

// Manager keeps the registry of live subscriptions.
type Manager struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	queueSize int
	closed    bool
}

// NewManager returns a manager whose subscriptions buffer up to queueSize
// pending updates each.
func NewManager(queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Manager{
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
	}
}

// Subscribe registers a new subscriber and starts its delivery stream.
func (m *Manager) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		id:       uuid.NewString(),
		filter:   filter,
		capacity: m.queueSize,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		out:      make(chan models.EnrichedUpdate),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sub.close()
		close(sub.out)
		return sub
	}
	m.subs[sub.id] = sub
	m.mu.Unlock()

	go sub.pump()

	log.WithFields(log.Fields{
		"subscription": sub.id,
		"customer":     filter.CustomerID,
		"devices":      len(filter.DeviceIDs),
	}).Debug("subscriber registered")
	return sub
}

// Unsubscribe closes the subscription's stream and removes it from the
// registry. Returns false for an unknown handle.
func (m *Manager) Unsubscribe(id string) bool {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	sub.close()
	return true
}

// Publish enqueues the update on every matching subscription. Each
// subscriber gets its own copy so overflow marking stays independent.
func (m *Manager) Publish(u *models.EnrichedUpdate) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		if sub.filter.matches(u) {
			sub.enqueue(*u)
		}
	}
}

// Count returns the number of live subscriptions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Close shuts down every subscription. Safe to call once during service
// shutdown; subscribers see their channels close.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*Subscription)
	m.closed = true
	m.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}
