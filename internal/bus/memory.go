package bus

import "sync"

// MemoryBus is an in-process Bus used by tests and by multi-node unit
// tests that want several orchestrator instances sharing one broker
// without a real network.
type MemoryBus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]Handler)}
}

// Publish implements Bus; it invokes every subscriber of topic
// synchronously, in subscription order.
func (m *MemoryBus) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	handlers := append([]Handler(nil), m.handlers[topic]...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(topic, payload)
	}
	return nil
}

// Subscribe implements Bus.
func (m *MemoryBus) Subscribe(topic string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = append(m.handlers[topic], handler)
	return nil
}

// Close implements Bus.
func (m *MemoryBus) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = nil
}
