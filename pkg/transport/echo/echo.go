// Package echo is an offline transport that streams the last user message
// back one character at a time.
package echo

import (
	"context"
	"time"

	"github.com/go-go-golems/forkchat/pkg/transport"
)

type Transport struct {
	TimePerCharacter time.Duration
	// Reasoning, if set, is delivered with every completion.
	Reasoning string
}

func New() *Transport {
	return &Transport{TimePerCharacter: 20 * time.Millisecond}
}

func (e *Transport) StreamChat(ctx context.Context, req transport.Request, h transport.Handler) {
	text, ok := req.LastUserMessage()
	if !ok {
		h.OnError(transport.NewError(transport.CodeUnknown, 0, "no user message to echo"))
		return
	}

	for _, c := range text {
		if e.TimePerCharacter > 0 {
			timer := time.NewTimer(e.TimePerCharacter)
			select {
			case <-ctx.Done():
				timer.Stop()
				h.OnError(transport.AsError(ctx.Err()))
				return
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			h.OnError(transport.AsError(err))
			return
		}
		h.OnChunk(string(c))
	}

	h.OnComplete(transport.Completion{
		Reasoning:       e.Reasoning,
		ReasoningTokens: len(e.Reasoning) / 4,
	})
}

var _ transport.Transport = (*Transport)(nil)
