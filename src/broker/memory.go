package broker

import (
	"context"
	"sync"

	"github.com/meshcast/socket/src/wire"
)

// MemoryBus is a same-process fan-out shared by one or more MemoryBrokers.
// A single-node deployment uses one bus with one broker; tests attach several
// brokers to one bus to simulate a cluster without Redis.
type MemoryBus struct {
	mu      sync.RWMutex
	brokers []*MemoryBroker
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Broker attaches a new node handle to the bus.
func (b *MemoryBus) Broker() *MemoryBroker {
	mb := &MemoryBroker{
		bus:      b,
		handlers: make(map[string]Handler),
	}
	b.mu.Lock()
	b.brokers = append(b.brokers, mb)
	b.mu.Unlock()
	return mb
}

func (b *MemoryBus) publish(topic string, env *wire.Envelope) {
	b.mu.RLock()
	brokers := make([]*MemoryBroker, len(b.brokers))
	copy(brokers, b.brokers)
	b.mu.RUnlock()

	for _, mb := range brokers {
		mb.deliver(topic, env)
	}
}

func (b *MemoryBus) detach(mb *MemoryBroker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.brokers {
		if cur == mb {
			b.brokers = append(b.brokers[:i], b.brokers[i+1:]...)
			return
		}
	}
}

// MemoryBroker is the in-process Broker variant, keyed by exact topic string.
// It never crosses process boundaries.
type MemoryBroker struct {
	bus      *MemoryBus
	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool
}

// NewMemoryBroker creates a standalone broker on a private bus.
func NewMemoryBroker() *MemoryBroker {
	return NewMemoryBus().Broker()
}

// Publish fans out env to every broker on the bus subscribed to topic,
// including this one. Delivery is synchronous.
func (m *MemoryBroker) Publish(_ context.Context, topic string, env *wire.Envelope) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrBrokerClosed
	}
	m.bus.publish(topic, env)
	return nil
}

// Subscribe registers handler for topic.
func (m *MemoryBroker) Subscribe(_ context.Context, topic string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrBrokerClosed
	}
	m.handlers[topic] = handler
	return nil
}

// Unsubscribe drops the topic subscription.
func (m *MemoryBroker) Unsubscribe(_ context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

// Close detaches the broker from its bus and drops all subscriptions.
func (m *MemoryBroker) Close() error {
	m.mu.Lock()
	m.closed = true
	m.handlers = make(map[string]Handler)
	m.mu.Unlock()
	m.bus.detach(m)
	return nil
}

// Subscribed reports whether topic currently has a handler. Used by tests
// and the admin surface.
func (m *MemoryBroker) Subscribed(topic string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handlers[topic]
	return ok
}

func (m *MemoryBroker) deliver(topic string, env *wire.Envelope) {
	m.mu.RLock()
	handler, ok := m.handlers[topic]
	m.mu.RUnlock()
	if ok {
		handler(env)
	}
}
