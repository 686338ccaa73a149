package session

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/events"
	"github.com/go-go-golems/forkchat/pkg/inference"
	"github.com/go-go-golems/forkchat/pkg/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionNil  = errors.New("session is nil")
	ErrSessionBusy = errors.New("session has an active stream")
)

type StateListener func(from, to State)

type TreeListener func(tree *conversation.Tree)

// Session owns the conversation tree and at most one in-flight stream.
//
// It moves Idle -> Sending -> Streaming -> Completed|Failed -> Idle. Start is
// ignored unless the session is Idle. Chunks are folded into the tree as
// they arrive; every change replaces the tree pointer with a new immutable
// snapshot, so Tree() can be called from any goroutine.
type Session struct {
	transport transport.Transport
	sinks     []inference.EventSink
	metrics   *Metrics
	model     string
	now       func() time.Time

	stateListeners []StateListener
	treeListeners  []TreeListener
	notify         *notifyQueue

	mu             sync.Mutex
	state          State
	tree           *conversation.Tree
	conversationID string
	active         *Stream
	stats          Stats
}

type Option func(*Session)

func WithSink(sinks ...inference.EventSink) Option {
	return func(s *Session) {
		s.sinks = append(s.sinks, sinks...)
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

func WithModel(model string) Option {
	return func(s *Session) {
		s.model = model
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

func WithTree(t *conversation.Tree) Option {
	return func(s *Session) {
		s.tree = t
	}
}

func WithStateListener(l StateListener) Option {
	return func(s *Session) {
		s.stateListeners = append(s.stateListeners, l)
	}
}

func WithTreeListener(l TreeListener) Option {
	return func(s *Session) {
		s.treeListeners = append(s.treeListeners, l)
	}
}

func New(t transport.Transport, opts ...Option) *Session {
	ret := &Session{
		transport: t,
		now:       time.Now,
		tree:      conversation.New(),
		notify:    newNotifyQueue(),
	}
	for _, o := range opts {
		o(ret)
	}
	return ret
}

func (s *Session) State() State {
	if s == nil {
		return StateIdle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Tree() *conversation.Tree {
	if s == nil {
		return conversation.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// Stats returns the throughput of the current stream, or of the last one if
// the session is idle.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := s.stats
	if s.state.Busy() {
		ret.Elapsed = s.now().Sub(ret.StartedAt)
	}
	return ret
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) SetConversationID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = id
}

// UpdateTree replaces the tree with f's result. It fails with ErrSessionBusy
// while a stream is active, and leaves the tree untouched if f fails.
func (s *Session) UpdateTree(f func(t *conversation.Tree) (*conversation.Tree, error)) error {
	if s == nil {
		return ErrSessionNil
	}
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	next, err := f(s.tree)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if next == nil {
		next = conversation.New()
	}
	s.tree = next
	ticket := s.notify.take()
	s.mu.Unlock()
	s.notify.wait(ticket)

	s.notifyTree(next)
	s.notify.done()
	return nil
}

// Start sends messages to the transport. It returns false without any state
// change if a stream is already outstanding.
func (s *Session) Start(ctx context.Context, messages []conversation.Message) (*Stream, bool) {
	if s == nil {
		return nil, false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		s.metrics.rejected()
		log.Debug().Str("state", state.String()).Msg("Ignoring start, stream already active")
		return nil, false
	}
	runCtx, cancel := context.WithCancel(ctx)
	st := newStream(cancel)
	s.active = st
	s.stats = Stats{StartedAt: s.now()}
	from := s.state
	s.state = StateSending
	meta := s.metadataLocked(st)
	ticket := s.notify.take()
	s.mu.Unlock()
	s.notify.wait(ticket)

	s.notifyState(from, StateSending)
	s.notify.done()

	req := transport.NewRequest(messages)
	req.Model = s.model
	log.Debug().
		Str("stream_id", st.ID.String()).
		Str("conversation_id", meta.ConversationID).
		Int("messages", len(req.Messages)).
		Msg("Starting stream")
	s.publish(events.NewStartEvent(meta, len(req.Messages)))

	go s.run(runCtx, st, req)

	return st, true
}

func (s *Session) run(ctx context.Context, st *Stream, req transport.Request) {
	defer st.cancel()
	h := &streamHandler{s: s, st: st}
	s.transport.StreamChat(ctx, req, h)
	// a transport returning without a terminal signal ends the stream
	h.OnComplete(transport.Completion{})
}

// Stop forces the session back to Idle, keeping whatever content has been
// streamed so far. The transport call is left running; its chunks are
// dropped. It returns false if no stream was active.
func (s *Session) Stop() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	st := s.active
	if st == nil {
		s.mu.Unlock()
		return false
	}
	s.active = nil
	s.tree = s.tree.CloseStream("", 0)
	tree := s.tree
	from := s.state
	s.state = StateIdle
	s.stats.Elapsed = s.now().Sub(s.stats.StartedAt)
	res := s.resultLocked(OutcomeStopped, nil)
	meta := s.metadataLocked(st)
	ticket := s.notify.take()
	s.mu.Unlock()
	s.notify.wait(ticket)

	log.Debug().Str("stream_id", st.ID.String()).Int("chars", res.Stats.Chars).Msg("Stream stopped")
	s.metrics.outcome(OutcomeStopped)
	s.notifyState(from, StateIdle)
	s.notifyTree(tree)
	s.notify.done()
	s.publish(events.NewInterruptEvent(meta, res.Content))
	st.finish(res)
	return true
}

// Active returns the running stream, if any.
func (s *Session) Active() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) metadataLocked(st *Stream) events.EventMetadata {
	ret := events.EventMetadata{
		ID:             st.ID,
		ConversationID: s.conversationID,
		Model:          s.model,
	}
	if s.stats.Chars > 0 {
		if leaf, ok := s.tree.Leaf(); ok {
			ret.NodeID = leaf.String()
		}
	}
	if !s.stats.StartedAt.IsZero() {
		ret.DurationMs = s.now().Sub(s.stats.StartedAt).Milliseconds()
	}
	return ret
}

// resultLocked must be called before the stream's tree changes are lost,
// i.e. while the leaf is still the streamed assistant node.
func (s *Session) resultLocked(o Outcome, err *transport.Error) Result {
	ret := Result{
		Outcome: o,
		NodeID:  conversation.NullNode,
		Err:     err,
		Stats:   s.stats,
	}
	if s.stats.Chars > 0 {
		if leaf, ok := s.tree.Leaf(); ok {
			n, _ := s.tree.Node(leaf)
			ret.NodeID = leaf
			ret.Content = n.Message.Content
			ret.Reasoning = n.Message.Reasoning
			ret.ReasoningTokens = n.Message.ReasoningTokens
		}
	}
	return ret
}

func (s *Session) notifyState(from, to State) {
	for _, l := range s.stateListeners {
		l(from, to)
	}
}

func (s *Session) notifyTree(t *conversation.Tree) {
	for _, l := range s.treeListeners {
		l(t)
	}
}

func (s *Session) publish(e events.Event) {
	for _, sink := range s.sinks {
		if err := sink.PublishEvent(e); err != nil {
			log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("Failed to publish event")
		}
	}
}

// streamHandler binds transport callbacks to one stream. Callbacks for a
// stream that is no longer active are dropped.
type streamHandler struct {
	s  *Session
	st *Stream
}

func (h *streamHandler) OnChunk(text string) {
	s := h.s
	s.mu.Lock()
	if s.active != h.st || text == "" {
		s.mu.Unlock()
		return
	}
	now := s.now()
	from := s.state
	first := from == StateSending
	if first {
		s.state = StateStreaming
		s.stats.FirstChunkAt = now
	}
	s.tree = s.tree.AppendStreamedChunk(text)
	tree := s.tree
	chars := utf8.RuneCountInString(text)
	s.stats.Chars += chars
	s.stats.Elapsed = now.Sub(s.stats.StartedAt)
	sinceStart := s.stats.Elapsed.Seconds()
	total := s.stats.Chars
	meta := s.metadataLocked(h.st)
	completion := ""
	if leaf, ok := tree.Leaf(); ok {
		n, _ := tree.Node(leaf)
		completion = n.Message.Content
	}
	ticket := s.notify.take()
	s.mu.Unlock()
	s.notify.wait(ticket)

	s.metrics.chunk(chars, first, sinceStart)
	if first {
		s.notifyState(from, StateStreaming)
	}
	s.notifyTree(tree)
	s.notify.done()
	s.publish(events.NewPartialCompletionEvent(meta, text, completion, total))
}

func (h *streamHandler) OnComplete(c transport.Completion) {
	s := h.s
	s.mu.Lock()
	if s.active != h.st {
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.tree = s.tree.CloseStream(c.Reasoning, c.ReasoningTokens)
	tree := s.tree
	s.stats.Elapsed = s.now().Sub(s.stats.StartedAt)
	from := s.state
	s.state = StateIdle
	res := s.resultLocked(OutcomeCompleted, nil)
	if res.NodeID == conversation.NullNode {
		// nothing was streamed, so there is no node to carry the reasoning
		res.Reasoning = c.Reasoning
		res.ReasoningTokens = c.ReasoningTokens
	}
	meta := s.metadataLocked(h.st)
	ticket := s.notify.take()
	s.mu.Unlock()
	s.notify.wait(ticket)

	log.Debug().
		Str("stream_id", h.st.ID.String()).
		Int("chars", res.Stats.Chars).
		Float64("chars_per_second", res.Stats.CharsPerSecond()).
		Msg("Stream completed")
	s.metrics.outcome(OutcomeCompleted)
	s.notifyState(from, StateCompleted)
	s.notifyState(StateCompleted, StateIdle)
	s.notifyTree(tree)
	s.notify.done()

	final := events.NewFinalEvent(meta, res.Content)
	final.Reasoning = res.Reasoning
	final.ReasoningTokens = res.ReasoningTokens
	final.Chars = res.Stats.Chars
	final.CharsPerSecond = res.Stats.CharsPerSecond()
	s.publish(final)
	h.st.finish(res)
}

func (h *streamHandler) OnError(err *transport.Error) {
	s := h.s
	if err == nil {
		err = transport.NewError(transport.CodeUnknown, 0, "unknown transport error")
	}
	s.mu.Lock()
	if s.active != h.st {
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.tree = s.tree.CloseStream("", 0)
	tree := s.tree
	s.stats.Elapsed = s.now().Sub(s.stats.StartedAt)
	from := s.state
	s.state = StateIdle
	res := s.resultLocked(OutcomeFailed, err)
	meta := s.metadataLocked(h.st)
	ticket := s.notify.take()
	s.mu.Unlock()
	s.notify.wait(ticket)

	log.Warn().
		Err(err).
		Str("stream_id", h.st.ID.String()).
		Str("code", string(err.Code)).
		Int("status", err.Status).
		Bool("can_retry", err.CanRetry).
		Msg("Stream failed")
	s.metrics.outcome(OutcomeFailed)
	s.notifyState(from, StateFailed)
	s.notifyState(StateFailed, StateIdle)
	s.notifyTree(tree)
	s.notify.done()

	ev := events.NewErrorEvent(meta, err)
	ev.Message = err.Message
	ev.Code = string(err.Code)
	ev.Status = err.Status
	ev.CanRetry = err.CanRetry
	s.publish(ev)
	h.st.finish(res)
}

var _ transport.Handler = (*streamHandler)(nil)
