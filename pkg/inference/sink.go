package inference

import "github.com/go-go-golems/forkchat/pkg/events"

// EventSink receives the events of a streaming session: start, one partial
// event per chunk, then exactly one of final, error or interrupt.
type EventSink interface {
	PublishEvent(event events.Event) error
}
