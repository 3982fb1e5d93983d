package bus

import "sync"

// TopicWildcard subscribes a handler to every topic on the in-memory bus
const TopicWildcard = "*"

// InMemoryBus is a synchronous in-process bus used in tests and when Kafka
// is disabled. Handlers run inline on the publisher's goroutine.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]func([]byte) error
	messages map[string][][]byte
}

var _ EventBus = (*InMemoryBus)(nil)

// NewInMemoryBus creates an in-memory event bus
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]func([]byte) error),
		messages: make(map[string][][]byte),
	}
}

// Publish delivers the message to topic subscribers and wildcard subscribers
func (q *InMemoryBus) Publish(topic string, message []byte) error {
	q.mu.Lock()
	q.messages[topic] = append(q.messages[topic], message)
	handlers := make([]func([]byte) error, 0, len(q.handlers[topic])+len(q.handlers[TopicWildcard]))
	handlers = append(handlers, q.handlers[topic]...)
	if topic != TopicWildcard {
		handlers = append(handlers, q.handlers[TopicWildcard]...)
	}
	q.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(message); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for a topic. Use TopicWildcard to receive
// messages from all topics.
func (q *InMemoryBus) Subscribe(topic string, handler func([]byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close releases resources (no-op for the in-memory bus)
func (q *InMemoryBus) Close() error {
	return nil
}

// Messages returns all messages published to a topic (for tests)
func (q *InMemoryBus) Messages(topic string) [][]byte {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.messages[topic]
}
