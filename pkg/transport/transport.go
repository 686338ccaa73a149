package transport

import (
	"context"

	"github.com/go-go-golems/forkchat/pkg/conversation"
)

type Message struct {
	Role    conversation.Role `json:"role"`
	Content string            `json:"content"`
}

type Request struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model,omitempty"`
}

func NewRequest(msgs []conversation.Message) Request {
	ret := Request{Messages: make([]Message, 0, len(msgs))}
	for _, m := range msgs {
		ret.Messages = append(ret.Messages, Message{Role: m.Role, Content: m.Content})
	}
	return ret
}

// LastUserMessage returns the content of the last user message of the request.
func (r Request) LastUserMessage() (string, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == conversation.RoleUser {
			return r.Messages[i].Content, true
		}
	}
	return "", false
}

// Completion is the trailing metadata delivered with the end of a stream.
type Completion struct {
	Reasoning       string
	ReasoningTokens int
}

// Handler receives the results of a stream. Chunks are delivered in order and
// exactly one of OnComplete or OnError terminates the stream.
type Handler interface {
	OnChunk(text string)
	OnComplete(c Completion)
	OnError(err *Error)
}

// Transport performs the network call to the model backend.
//
// StreamChat blocks until the stream has terminated. Cancelling ctx asks the
// transport to abort, which it reports through OnError.
type Transport interface {
	StreamChat(ctx context.Context, req Request, h Handler)
}

type HandlerFuncs struct {
	Chunk    func(text string)
	Complete func(c Completion)
	Error    func(err *Error)
}

func (h HandlerFuncs) OnChunk(text string) {
	if h.Chunk != nil {
		h.Chunk(text)
	}
}

func (h HandlerFuncs) OnComplete(c Completion) {
	if h.Complete != nil {
		h.Complete(c)
	}
}

func (h HandlerFuncs) OnError(err *Error) {
	if h.Error != nil {
		h.Error(err)
	}
}

var _ Handler = HandlerFuncs{}
