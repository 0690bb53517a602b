package inference

import (
	"github.com/go-go-golems/loom/pkg/inference/engine"
)

// Event is a normalized stream event tagged with the turn it belongs to.
type Event struct {
	ConversationID  string `json:"conversationId"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
	engine.StreamEvent
}

// EventSink represents a destination for inference events.
// Implementations can publish events to different backends like watermill,
// logging systems, or other event processing systems.
type EventSink interface {
	// PublishEvent publishes an event to the sink.
	// Returns an error if the event could not be published.
	PublishEvent(event Event) error
}

// MultiSink fans events out to several sinks, stopping at the first error.
type MultiSink []EventSink

func (m MultiSink) PublishEvent(event Event) error {
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.PublishEvent(event); err != nil {
			return err
		}
	}
	return nil
}

var _ EventSink = MultiSink(nil)
