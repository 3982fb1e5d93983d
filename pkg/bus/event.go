package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics used on the bus
const (
	TopicEvents = "neuroerp.events" // fabric and workflow lifecycle events
	TopicTasks  = "neuroerp.tasks"  // task submissions for the scheduler
)

// Event types published on TopicEvents
const (
	EventNodeCreated       = "node.created"
	EventNodeUpdated       = "node.updated"
	EventNodeDeleted       = "node.deleted"
	EventNodesConnected    = "nodes.connected"
	EventNodesDisconnected = "nodes.disconnected"
	EventWorkflowStarted   = "workflow.started"
	EventWorkflowCompleted = "workflow.completed"
	EventWorkflowFailed    = "workflow.failed"
	EventTaskCompleted     = "task.completed"
	EventTaskFailed        = "task.failed"
)

// Event is the envelope for every message published on the bus
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Version   string         `json:"version"`
}

// NewEvent creates an event with a generated ID and current timestamp
func NewEvent(eventType, source string, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Version:   "1.0",
	}
}

// Marshal serializes the event to JSON
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON
func UnmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// PublishEvent marshals and publishes an event on the given topic.
// A nil bus is a no-op so callers don't have to guard every emit.
func PublishEvent(b EventBus, topic string, event *Event) error {
	if b == nil {
		return nil
	}
	data, err := event.Marshal()
	if err != nil {
		return err
	}
	return b.Publish(topic, data)
}
