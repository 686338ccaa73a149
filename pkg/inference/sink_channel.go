package inference

import (
	"context"

	"github.com/go-go-golems/forkchat/pkg/events"
)

// ChannelSink forwards events to a channel. PublishEvent blocks while the
// channel is full, unless the sink's context is done.
type ChannelSink struct {
	ctx context.Context
	ch  chan<- events.Event
}

func NewChannelSink(ctx context.Context, ch chan<- events.Event) *ChannelSink {
	return &ChannelSink{ctx: ctx, ch: ch}
}

func (c *ChannelSink) PublishEvent(event events.Event) error {
	select {
	case c.ch <- event:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

var _ EventSink = (*ChannelSink)(nil)
