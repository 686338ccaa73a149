package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/transport"
	"github.com/google/uuid"
)

// Stats tracks the throughput of a stream. It is informational only.
type Stats struct {
	StartedAt    time.Time
	FirstChunkAt time.Time
	Chars        int
	Elapsed      time.Duration
}

func (s Stats) CharsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Chars) / s.Elapsed.Seconds()
}

// TimeToFirstChunk is zero if no chunk was received.
func (s Stats) TimeToFirstChunk() time.Duration {
	if s.FirstChunkAt.IsZero() {
		return 0
	}
	return s.FirstChunkAt.Sub(s.StartedAt)
}

type Result struct {
	Outcome Outcome
	// NodeID is the assistant node that received the stream, NullNode if no
	// chunk arrived.
	NodeID          conversation.NodeID
	Content         string
	Reasoning       string
	ReasoningTokens int
	Err             *transport.Error
	Stats           Stats
}

// Stream is the handle of a single accepted request.
type Stream struct {
	ID uuid.UUID

	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	result Result
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		ID:     uuid.New(),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func (st *Stream) finish(r Result) {
	st.mu.Lock()
	st.result = r
	st.mu.Unlock()
	close(st.done)
}

// Done is closed once the stream reached a terminal state.
func (st *Stream) Done() <-chan struct{} {
	return st.done
}

func (st *Stream) Wait() Result {
	<-st.done
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.result
}

func (st *Stream) IsRunning() bool {
	select {
	case <-st.done:
		return false
	default:
		return true
	}
}
