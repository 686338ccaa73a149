package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart is published when a stream has been accepted and the
	// request handed to the transport.
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
	// EventTypeInterrupt is published when the stream was stopped by the user.
	EventTypeInterrupt EventType = "interrupt"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// store payload if the event was deserialized from JSON (see NewEventFromJson), not further used
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

// EventMetadata is attached to every event of a single stream.
type EventMetadata struct {
	// ID identifies the stream.
	ID             uuid.UUID `json:"stream_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	// NodeID is the assistant node receiving the stream, once it exists.
	NodeID     string                 `json:"node_id,omitempty"`
	Model      string                 `json:"model,omitempty"`
	DurationMs int64                  `json:"duration_ms,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("stream_id", em.ID.String())
	if em.ConversationID != "" {
		e.Str("conversation_id", em.ConversationID)
	}
	if em.NodeID != "" {
		e.Str("node_id", em.NodeID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.DurationMs > 0 {
		e.Int64("duration_ms", em.DurationMs)
	}
	if len(em.Extra) > 0 {
		e.Dict("extra", zerolog.Dict().Fields(em.Extra))
	}
}

type EventStart struct {
	EventImpl
	Messages int `json:"messages"`
}

func NewStartEvent(metadata EventMetadata, messages int) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{
			Type_:     EventTypeStart,
			Metadata_: metadata,
		},
		Messages: messages,
	}
}

var _ Event = &EventStart{}

// EventPartialCompletion carries one chunk. Completion is the content of the
// assistant message so far.
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
	Chars      int    `json:"chars"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string, chars int) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl: EventImpl{
			Type_:     EventTypePartialCompletion,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
		Chars:      chars,
	}
}

var _ Event = &EventPartialCompletion{}

type EventFinal struct {
	EventImpl
	Text            string  `json:"text"`
	Reasoning       string  `json:"reasoning,omitempty"`
	ReasoningTokens int     `json:"reasoning_tokens,omitempty"`
	Chars           int     `json:"chars"`
	CharsPerSecond  float64 `json:"chars_per_second"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

// ThinkingSeconds estimates how long the model reasoned, at roughly a hundred
// reasoning tokens per second.
func (e *EventFinal) ThinkingSeconds() float64 {
	return float64(e.ReasoningTokens) / 100
}

var _ Event = &EventFinal{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	Message     string `json:"message,omitempty"`
	Code        string `json:"code,omitempty"`
	Status      int    `json:"status,omitempty"`
	CanRetry    bool   `json:"can_retry"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
	}
}

var _ Event = &EventError{}

type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{
			Type_:     EventTypeInterrupt,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventInterrupt{}

func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("empty event payload")
	}

	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		return decodeTyped[EventStart](e)
	case EventTypePartialCompletion:
		return decodeTyped[EventPartialCompletion](e)
	case EventTypeFinal:
		return decodeTyped[EventFinal](e)
	case EventTypeError:
		return decodeTyped[EventError](e)
	case EventTypeInterrupt:
		return decodeTyped[EventInterrupt](e)
	}

	return e, nil
}

// decodeTyped decodes the payload of e into T. T must embed EventImpl.
func decodeTyped[T any, PT interface {
	*T
	Event
	setPayload([]byte)
}](e *EventImpl) (Event, error) {
	ret, ok := ToTypedEvent[T](e)
	if !ok || ret == nil {
		return nil, fmt.Errorf("could not cast event to %s", e.Type_)
	}
	PT(ret).setPayload(e.payload)
	return PT(ret), nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}

func (e EventStart) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("messages", e.Messages)
}

func (e EventPartialCompletion) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("delta", e.Delta).Int("chars", e.Chars)
}

func (e EventFinal) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("chars", e.Chars).Float64("chars_per_second", e.CharsPerSecond)
	if e.ReasoningTokens > 0 {
		ev.Int("reasoning_tokens", e.ReasoningTokens)
	}
}

func (e EventError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("error", e.ErrorString).Str("code", e.Code).Int("status", e.Status).Bool("can_retry", e.CanRetry)
}

func (e EventInterrupt) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("chars", len(e.Text))
}
