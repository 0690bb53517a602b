package inference

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// ConversationTopicPrefix prefixes the per conversation topics used by
// NewConversationSink.
const ConversationTopicPrefix = "conversation."

// ConversationTopic is the topic events of conversationID are published on.
func ConversationTopic(conversationID string) string {
	return ConversationTopicPrefix + conversationID
}

// WatermillSink publishes events to a watermill Publisher.
// This allows events to be distributed through the watermill message bus
// to multiple subscribers.
type WatermillSink struct {
	publisher message.Publisher
	topic     func(Event) string
}

// NewWatermillSink publishes every event on topic.
func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     func(Event) string { return topic },
	}
}

// NewConversationSink publishes each event on the topic of its conversation.
func NewConversationSink(publisher message.Publisher) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic: func(e Event) string {
			return ConversationTopic(e.ConversationID)
		},
	}
}

// PublishEvent serializes the event to JSON and sends it as a watermill
// message.
func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("conversation_id", event.ConversationID)

	topic := w.topic(event)
	err = w.publisher.Publish(topic, msg)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", topic).Object("event", event.StreamEvent).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)
