package inference

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/forkchat/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	MetadataEventType      = "event_type"
	MetadataConversationID = "conversation_id"
	MetadataStreamID       = "stream_id"
)

// WatermillSink publishes events as JSON watermill messages on a single topic.
// The event type and ids are copied into the message metadata so subscribers
// can filter without decoding the payload.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	if topic == "" {
		topic = events.DefaultTopic
	}
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "could not marshal event")
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	meta := event.Metadata()
	msg.Metadata.Set(MetadataEventType, string(event.Type()))
	msg.Metadata.Set(MetadataStreamID, meta.ID.String())
	if meta.ConversationID != "" {
		msg.Metadata.Set(MetadataConversationID, meta.ConversationID)
	}

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return errors.Wrapf(err, "could not publish to %s", w.topic)
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)
