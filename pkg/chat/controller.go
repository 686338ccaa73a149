package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/events"
	"github.com/go-go-golems/forkchat/pkg/inference/session"
	"github.com/go-go-golems/forkchat/pkg/loader"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/go-go-golems/forkchat/pkg/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrUnknownCategory      = errors.New("unknown category")
	ErrNotUserMessage       = errors.New("only user messages can be edited")
	ErrCannotEditRoot       = errors.New("the first message of a conversation cannot be edited")
	ErrNothingToRegenerate  = errors.New("no message to regenerate")
	ErrNotRetryable         = errors.New("last failure cannot be retried")
	ErrNoRemoteStore        = errors.New("no remote store configured")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Controller drives one chat: it owns the streaming session and wires its
// tree and state changes into the loader, the local cache and the remote
// autosave.
//
// Operations that start a stream return the accepted stream, or nil with a
// nil error if another stream is already outstanding.
type Controller struct {
	session  *session.Session
	loader   *loader.Debouncer
	adapter  *persistence.Adapter
	remote   persistence.RemoteStore
	autosave *persistence.Autosaver
	clock    loader.Clock

	mu       sync.Mutex
	category Category
	custom   string
	lastErr  *transport.Error
}

type Option func(*options)

type options struct {
	adapter       *persistence.Adapter
	remote        persistence.RemoteStore
	clock         loader.Clock
	autosaveDelay time.Duration
	category      string
	customPrompt  string
	loaderOpts    []loader.Option
	sessionOpts   []session.Option
}

// WithAdapter persists every settled tree to the local cache.
func WithAdapter(a *persistence.Adapter) Option {
	return func(o *options) {
		o.adapter = a
	}
}

// WithRemote mirrors the conversation to a remote store, debounced by delay.
func WithRemote(r persistence.RemoteStore, delay time.Duration) Option {
	return func(o *options) {
		o.remote = r
		o.autosaveDelay = delay
	}
}

func WithClock(c loader.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithCategory(id string) Option {
	return func(o *options) {
		o.category = id
	}
}

func WithSystemPrompt(p string) Option {
	return func(o *options) {
		o.customPrompt = p
	}
}

func WithLoaderOptions(opts ...loader.Option) Option {
	return func(o *options) {
		o.loaderOpts = append(o.loaderOpts, opts...)
	}
}

func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

func New(t transport.Transport, opts ...Option) (*Controller, error) {
	o := options{
		clock:    loader.RealClock,
		category: DefaultCategory,
	}
	for _, opt := range opts {
		opt(&o)
	}
	cat, ok := LookupCategory(o.category)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCategory, "category %q", o.category)
	}

	c := &Controller{
		adapter:  o.adapter,
		remote:   o.remote,
		clock:    o.clock,
		category: cat,
		custom:   o.customPrompt,
	}
	if o.remote != nil {
		c.autosave = persistence.NewAutosaver(o.remote, o.clock, o.autosaveDelay)
	}
	c.loader = loader.NewDebouncer(append([]loader.Option{loader.WithClock(o.clock)}, o.loaderOpts...)...)

	sessionOpts := []session.Option{
		session.WithNow(o.clock.Now),
		session.WithSink(errorTracker{c}),
		session.WithStateListener(c.onState),
		session.WithTreeListener(c.onTree),
	}
	c.session = session.New(t, append(sessionOpts, o.sessionOpts...)...)
	c.session.SetConversationID(persistence.NewConversationID(o.clock.Now()))

	return c, nil
}

// Restore loads the cached conversation of the session, if any.
func (c *Controller) Restore() error {
	if c.adapter == nil {
		return nil
	}
	tree, err := c.adapter.Load()
	if err != nil {
		return errors.Wrap(err, "could not load cached conversation")
	}
	id, err := c.adapter.ConversationID()
	if err != nil {
		return errors.Wrap(err, "could not load cached conversation id")
	}
	if id != "" {
		c.session.SetConversationID(id)
	} else if err := c.adapter.SaveConversationID(c.session.ConversationID()); err != nil {
		return errors.Wrap(err, "could not save conversation id")
	}
	return c.session.UpdateTree(func(*conversation.Tree) (*conversation.Tree, error) {
		return tree, nil
	})
}

func (c *Controller) onState(_, to session.State) {
	c.loader.SetBusy(to.Busy())
}

func (c *Controller) onTree(tree *conversation.Tree) {
	if c.adapter != nil && !tree.IsStreaming() {
		if err := c.adapter.Snapshot(tree); err != nil {
			log.Warn().Err(err).Str("conversation_id", c.session.ConversationID()).Msg("Failed to cache conversation")
		}
	}
	c.autosave.Schedule(c.session.ConversationID(), tree)
}

// errorTracker records the outcome of every stream before its result is
// released to waiters.
type errorTracker struct {
	c *Controller
}

func (e errorTracker) PublishEvent(ev events.Event) error {
	switch e_ := ev.(type) {
	case *events.EventStart, *events.EventFinal:
		e.c.setLastError(nil)
	case *events.EventError:
		msg := e_.Message
		if msg == "" {
			msg = e_.ErrorString
		}
		e.c.setLastError(&transport.Error{
			Code:     transport.Code(e_.Code),
			Message:  msg,
			Status:   e_.Status,
			CanRetry: e_.CanRetry,
		})
	}
	return nil
}

func (c *Controller) setLastError(err *transport.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
}

// LastError is the failure of the last stream, until it is dismissed or
// another stream starts.
func (c *Controller) LastError() *transport.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) DismissError() {
	c.setLastError(nil)
}

func (c *Controller) Session() *session.Session { return c.session }
func (c *Controller) Tree() *conversation.Tree  { return c.session.Tree() }
func (c *Controller) State() session.State      { return c.session.State() }
func (c *Controller) Stats() session.Stats      { return c.session.Stats() }
func (c *Controller) LoaderVisible() bool       { return c.loader.Visible() }
func (c *Controller) ConversationID() string    { return c.session.ConversationID() }

func (c *Controller) Category() Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.category
}

func (c *Controller) SetCategory(id string) error {
	cat, ok := LookupCategory(id)
	if !ok {
		return errors.Wrapf(ErrUnknownCategory, "category %q", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.category = cat
	return nil
}

// SetSystemPrompt overrides the category prompt. An empty prompt restores
// the default.
func (c *Controller) SetSystemPrompt(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.custom = p
}

func (c *Controller) SystemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SystemPrompt(c.category, c.custom)
}

// requestMessages is the active path with its system message set to the
// current prompt.
func (c *Controller) requestMessages(tree *conversation.Tree) []conversation.Message {
	msgs := tree.CurrentMessages()
	system := conversation.NewSystemMessage(c.SystemPrompt())
	if len(msgs) > 0 && msgs[0].Role == conversation.RoleSystem {
		system.Timestamp = msgs[0].Timestamp
		msgs[0] = system
		return msgs
	}
	return append([]conversation.Message{system}, msgs...)
}

func (c *Controller) withRoot(tree *conversation.Tree) *conversation.Tree {
	if !tree.IsEmpty() {
		return tree
	}
	return tree.AppendMessage(conversation.NewSystemMessage(c.SystemPrompt()))
}

// update applies f to the tree. A busy session is reported as ok == false.
func (c *Controller) update(f func(t *conversation.Tree) (*conversation.Tree, error)) (bool, error) {
	err := c.session.UpdateTree(f)
	if errors.Is(err, session.ErrSessionBusy) {
		log.Debug().Msg("Ignoring tree change, stream active")
		return false, nil
	}
	return err == nil, err
}

func (c *Controller) start(ctx context.Context) *session.Stream {
	st, ok := c.session.Start(ctx, c.requestMessages(c.session.Tree()))
	if !ok {
		return nil
	}
	return st
}

// Send appends text as a user message and streams the answer.
func (c *Controller) Send(ctx context.Context, text string) (*session.Stream, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	ok, err := c.update(func(t *conversation.Tree) (*conversation.Tree, error) {
		return c.withRoot(t).AppendMessage(conversation.NewUserMessage(text, conversation.WithTime(c.clock.Now().UTC()))), nil
	})
	if !ok || err != nil {
		return nil, err
	}
	return c.start(ctx), nil
}

// rewindAnswer moves the leaf back to the question of the last answer, so
// that the next stream becomes a sibling of it. A path ending with a user
// message is left as is.
func rewindAnswer(t *conversation.Tree) (*conversation.Tree, error) {
	leaf, ok := t.Leaf()
	if !ok {
		return nil, ErrNothingToRegenerate
	}
	n, _ := t.Node(leaf)
	switch n.Message.Role {
	case conversation.RoleAssistant:
		return t.Rewind(n.ParentID)
	case conversation.RoleUser:
		return t, nil
	default:
		return nil, ErrNothingToRegenerate
	}
}

// Regenerate streams a new answer as a sibling of the last assistant message
// on the active path.
func (c *Controller) Regenerate(ctx context.Context) (*session.Stream, error) {
	ok, err := c.update(rewindAnswer)
	if !ok || err != nil {
		return nil, err
	}
	return c.start(ctx), nil
}

// Edit forks the conversation at a user message: text becomes a sibling of
// nodeID and the answer to it is streamed.
func (c *Controller) Edit(ctx context.Context, nodeID conversation.NodeID, text string) (*session.Stream, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	ok, err := c.update(func(t *conversation.Tree) (*conversation.Tree, error) {
		n, found := t.Node(nodeID)
		if !found {
			return nil, errors.Wrapf(conversation.ErrNotFound, "node %s", nodeID)
		}
		if n.Message.Role != conversation.RoleUser {
			return nil, ErrNotUserMessage
		}
		if n.ParentID == conversation.NullNode {
			return nil, ErrCannotEditRoot
		}
		rewound, err := t.Rewind(n.ParentID)
		if err != nil {
			return nil, err
		}
		return rewound.AppendMessage(conversation.NewUserMessage(text, conversation.WithTime(c.clock.Now().UTC()))), nil
	})
	if !ok || err != nil {
		return nil, err
	}
	return c.start(ctx), nil
}

// Retry resends the active path after a retryable failure. Partial content
// of the failed answer is kept as a branch.
func (c *Controller) Retry(ctx context.Context) (*session.Stream, error) {
	last := c.LastError()
	if last == nil || !last.CanRetry {
		return nil, ErrNotRetryable
	}
	return c.Regenerate(ctx)
}

func (c *Controller) Stop() bool {
	return c.session.Stop()
}

func (c *Controller) Branches() []conversation.Branch {
	return c.session.Tree().ListBranches()
}

// SwitchBranch makes nodeID part of the active path. It is ignored while a
// stream is active.
func (c *Controller) SwitchBranch(nodeID conversation.NodeID) error {
	_, err := c.update(func(t *conversation.Tree) (*conversation.Tree, error) {
		return t.SwitchBranch(nodeID)
	})
	return err
}

// NewChat stops any stream, saves the previous conversation if a save was
// pending, and starts an empty conversation under a new id.
func (c *Controller) NewChat() error {
	c.session.Stop()
	c.autosave.Flush()
	c.DismissError()

	id := persistence.NewConversationID(c.clock.Now())
	c.session.SetConversationID(id)
	if _, err := c.update(func(*conversation.Tree) (*conversation.Tree, error) {
		return c.withRoot(conversation.New()), nil
	}); err != nil {
		return err
	}
	c.loader.Reset()
	log.Debug().Str("conversation_id", id).Msg("Started new conversation")

	if c.adapter == nil {
		return nil
	}
	if err := c.adapter.Clear(); err != nil {
		return errors.Wrap(err, "could not clear cached conversation")
	}
	return c.adapter.SaveConversationID(id)
}

// Load replaces the conversation with the remote one stored under id. A
// corrupt remote tree is replaced by an empty conversation.
func (c *Controller) Load(ctx context.Context, id string) error {
	if c.remote == nil {
		return ErrNoRemoteStore
	}
	tree := conversation.New()
	conv, err := c.remote.GetConversation(ctx, id)
	switch {
	case err == nil:
		tree = conv.Tree
	case errors.Is(err, persistence.ErrNotFound):
		return errors.Wrapf(ErrConversationNotFound, "conversation %s", id)
	case errors.Is(err, conversation.ErrCorruptState):
		log.Warn().Err(err).Str("conversation_id", id).Msg("Remote conversation is corrupt, starting empty")
	default:
		return errors.Wrapf(err, "could not load conversation %s", id)
	}

	c.session.Stop()
	c.autosave.Cancel()
	c.DismissError()
	c.session.SetConversationID(id)
	if _, err := c.update(func(*conversation.Tree) (*conversation.Tree, error) {
		return tree, nil
	}); err != nil {
		return err
	}
	// the tree came from the remote store, there is nothing to save back
	c.autosave.Cancel()
	if c.adapter != nil {
		return c.adapter.SaveConversationID(id)
	}
	return nil
}

func (c *Controller) ListRemote(ctx context.Context) ([]persistence.Summary, error) {
	if c.remote == nil {
		return nil, ErrNoRemoteStore
	}
	return c.remote.ListConversations(ctx)
}

// Close stops the active stream and runs a pending remote save.
func (c *Controller) Close() {
	c.session.Stop()
	c.autosave.Flush()
	c.loader.Reset()
}
