package bus

// EventBus is the publish/subscribe interface shared by the Kafka-backed and
// in-memory implementations.
type EventBus interface {
	Publish(topic string, message []byte) error
	Subscribe(topic string, handler func(message []byte) error) error
	Close() error
}
