package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/loader"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/go-go-golems/forkchat/pkg/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptTransport records every request and lets script answer the n-th
// call (1-based).
type scriptTransport struct {
	mu       sync.Mutex
	requests []transport.Request
	script   func(ctx context.Context, n int, h transport.Handler)
}

func (s *scriptTransport) StreamChat(ctx context.Context, req transport.Request, h transport.Handler) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	s.mu.Unlock()
	s.script(ctx, n, h)
}

func (s *scriptTransport) request(n int) transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[n-1]
}

func numberedAnswers() *scriptTransport {
	return &scriptTransport{script: func(_ context.Context, n int, h transport.Handler) {
		h.OnChunk("answer ")
		h.OnChunk(fmt.Sprint(n))
		h.OnComplete(transport.Completion{})
	}}
}

type fixture struct {
	c     *Controller
	clock *loader.ManualClock
	cache *persistence.MemoryCache
	store *persistence.MemoryStore
}

func newFixture(t *testing.T, tr transport.Transport, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock: loader.NewManualClock(time.Unix(1700000000, 0)),
		cache: persistence.NewMemoryCache(),
		store: persistence.NewMemoryStore(),
	}
	base := []Option{
		WithClock(f.clock),
		WithAdapter(persistence.NewAdapter(f.cache, "test")),
		WithRemote(f.store, 2*time.Second),
	}
	c, err := New(tr, append(base, opts...)...)
	require.NoError(t, err)
	f.c = c
	return f
}

func lastContent(t *testing.T, tree *conversation.Tree) string {
	t.Helper()
	msgs := tree.CurrentMessages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1].Content
}

func TestSend_StartsConversationWithSystemRoot(t *testing.T) {
	tr := &scriptTransport{script: func(_ context.Context, _ int, h transport.Handler) {
		h.OnChunk("Hi")
		h.OnChunk(" there")
		h.OnChunk("!")
		h.OnComplete(transport.Completion{})
	}}
	f := newFixture(t, tr)

	st, err := f.c.Send(context.Background(), "  Hello ")
	require.NoError(t, err)
	require.NotNil(t, st)
	st.Wait()

	msgs := f.c.Tree().CurrentMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, conversation.RoleSystem, msgs[0].Role)
	assert.Equal(t, DefaultPrompt(Categories[0]), msgs[0].Content)
	assert.Equal(t, "Hello", msgs[1].Content)
	assert.Equal(t, "Hi there!", msgs[2].Content)

	req := tr.request(1)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, conversation.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Hello", req.Messages[1].Content)

	cached, err := persistence.NewAdapter(f.cache, "test").Load()
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", lastContent(t, cached))
}

func TestSend_EmptyMessage(t *testing.T) {
	f := newFixture(t, numberedAnswers())
	_, err := f.c.Send(context.Background(), " \n ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.True(t, f.c.Tree().IsEmpty())
}

func TestSend_WhileStreamingIsIgnored(t *testing.T) {
	release := make(chan struct{})
	delivered := make(chan struct{})
	tr := &scriptTransport{script: func(ctx context.Context, _ int, h transport.Handler) {
		h.OnChunk("partial")
		close(delivered)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}}
	f := newFixture(t, tr)

	st, err := f.c.Send(context.Background(), "first")
	require.NoError(t, err)
	require.NotNil(t, st)

	second, err := f.c.Send(context.Background(), "second")
	require.NoError(t, err)
	assert.Nil(t, second)

	<-delivered
	require.True(t, f.c.Stop())
	close(release)
	st.Wait()

	msgs := f.c.Tree().CurrentMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "partial", msgs[2].Content)
	assert.Nil(t, f.c.LastError())
}

func TestRegenerate_CreatesSiblingBranch(t *testing.T) {
	tr := numberedAnswers()
	f := newFixture(t, tr)
	ctx := context.Background()

	st, err := f.c.Send(ctx, "question")
	require.NoError(t, err)
	st.Wait()
	first, _ := f.c.Tree().Leaf()

	st, err = f.c.Regenerate(ctx)
	require.NoError(t, err)
	st.Wait()
	second, _ := f.c.Tree().Leaf()
	assert.Equal(t, "answer 2", lastContent(t, f.c.Tree()))

	tree := f.c.Tree()
	firstNode, _ := tree.Node(first)
	secondNode, _ := tree.Node(second)
	assert.Equal(t, firstNode.ParentID, secondNode.ParentID)
	assert.Len(t, tree.Siblings(second), 2)

	branches := f.c.Branches()
	require.Len(t, branches, 1)
	assert.Equal(t, first, branches[0].NodeID)
	assert.Equal(t, "answer 1", branches[0].Preview)

	require.NoError(t, f.c.SwitchBranch(first))
	assert.Equal(t, "answer 1", lastContent(t, f.c.Tree()))

	// the regenerated request carries the same history
	assert.Equal(t, tr.request(1).Messages, tr.request(2).Messages)
}

func TestRegenerate_NothingToRegenerate(t *testing.T) {
	f := newFixture(t, numberedAnswers())
	_, err := f.c.Regenerate(context.Background())
	require.ErrorIs(t, err, ErrNothingToRegenerate)
}

func TestSwitchBranch_UnknownNode(t *testing.T) {
	f := newFixture(t, numberedAnswers())
	st, err := f.c.Send(context.Background(), "q")
	require.NoError(t, err)
	st.Wait()
	before := f.c.Tree()

	err = f.c.SwitchBranch(conversation.NewNodeID())
	require.ErrorIs(t, err, conversation.ErrNotFound)
	assert.Same(t, before, f.c.Tree())
}

func TestEdit_ForksAtUserMessage(t *testing.T) {
	f := newFixture(t, numberedAnswers())
	ctx := context.Background()

	st, err := f.c.Send(ctx, "original")
	require.NoError(t, err)
	st.Wait()
	path := f.c.Tree().CurrentPath()
	root, user, answer := path[0], path[1], path[2]

	_, err = f.c.Edit(ctx, root, "new prompt")
	require.ErrorIs(t, err, ErrNotUserMessage)
	_, err = f.c.Edit(ctx, answer, "rewrite")
	require.ErrorIs(t, err, ErrNotUserMessage)
	_, err = f.c.Edit(ctx, user, "  ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	st, err = f.c.Edit(ctx, user, "edited")
	require.NoError(t, err)
	st.Wait()

	msgs := f.c.Tree().CurrentMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "edited", msgs[1].Content)
	assert.Equal(t, "answer 2", msgs[2].Content)

	branches := f.c.Branches()
	require.Len(t, branches, 1)
	assert.Equal(t, user, branches[0].NodeID)
	assert.Equal(t, conversation.RoleUser, branches[0].Role)
}

func TestEdit_MigratedRootCannotBeEdited(t *testing.T) {
	f := newFixture(t, numberedAnswers())
	legacy, err := conversation.EncodeMessages([]conversation.Message{
		conversation.NewUserMessage("old question"),
		conversation.NewAssistantMessage("old answer"),
	})
	require.NoError(t, err)
	require.NoError(t, f.cache.Set("test:messages", legacy))
	require.NoError(t, f.c.Restore())

	_, err = f.c.Edit(context.Background(), f.c.Tree().RootID(), "changed")
	require.ErrorIs(t, err, ErrCannotEditRoot)
}

func TestRestore_MigratedTreeGetsPromptPrepended(t *testing.T) {
	tr := numberedAnswers()
	f := newFixture(t, tr)
	legacy, err := conversation.EncodeMessages([]conversation.Message{
		conversation.NewUserMessage("old question"),
		conversation.NewAssistantMessage("old answer"),
	})
	require.NoError(t, err)
	require.NoError(t, f.cache.Set("test:messages", legacy))
	require.NoError(t, f.cache.Set("test:conversation-id", "conv_1_abcdefghi"))

	require.NoError(t, f.c.Restore())
	assert.Equal(t, "conv_1_abcdefghi", f.c.ConversationID())
	assert.Equal(t, "old answer", lastContent(t, f.c.Tree()))

	st, err := f.c.Send(context.Background(), "new question")
	require.NoError(t, err)
	st.Wait()

	req := tr.request(1)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, conversation.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "old question", req.Messages[1].Content)
	// the tree itself is not rewritten
	assert.Equal(t, conversation.RoleUser, f.c.Tree().CurrentMessages()[0].Role)
}

func TestSystemPrompt_FollowsCategoryAtSendTime(t *testing.T) {
	tr := numberedAnswers()
	f := newFixture(t, tr)
	ctx := context.Background()

	st, err := f.c.Send(ctx, "one")
	require.NoError(t, err)
	st.Wait()

	require.NoError(t, f.c.SetCategory("network"))
	st, err = f.c.Send(ctx, "two")
	require.NoError(t, err)
	st.Wait()
	network, _ := LookupCategory("network")
	assert.Equal(t, DefaultPrompt(network), tr.request(2).Messages[0].Content)

	f.c.SetSystemPrompt("Be brief.")
	st, err = f.c.Send(ctx, "three")
	require.NoError(t, err)
	st.Wait()
	assert.Equal(t, "Be brief.", tr.request(3).Messages[0].Content)
	assert.Len(t, tr.request(3).Messages, 6)

	require.ErrorIs(t, f.c.SetCategory("gardening"), ErrUnknownCategory)
	assert.Equal(t, "network", f.c.Category().ID)
}

func TestNew_UnknownCategory(t *testing.T) {
	_, err := New(numberedAnswers(), WithCategory("nope"))
	require.ErrorIs(t, err, ErrUnknownCategory)
}

func TestRetry(t *testing.T) {
	tr := &scriptTransport{script: func(_ context.Context, n int, h transport.Handler) {
		switch n {
		case 1:
			h.OnChunk("half")
			h.OnError(transport.FromStatus(429, "slow down"))
		case 2:
			h.OnChunk("whole")
			h.OnComplete(transport.Completion{})
		default:
			h.OnError(transport.FromStatus(401, "bad key"))
		}
	}}
	f := newFixture(t, tr)
	ctx := context.Background()

	_, err := f.c.Retry(ctx)
	require.ErrorIs(t, err, ErrNotRetryable)

	st, err := f.c.Send(ctx, "q")
	require.NoError(t, err)
	res := st.Wait()
	require.NotNil(t, res.Err)

	last := f.c.LastError()
	require.NotNil(t, last)
	assert.Equal(t, transport.CodeRateLimit, last.Code)
	assert.Equal(t, 429, last.Status)
	assert.Equal(t, "slow down", last.Message)
	assert.True(t, last.CanRetry)

	st, err = f.c.Retry(ctx)
	require.NoError(t, err)
	st.Wait()
	assert.Nil(t, f.c.LastError())
	assert.Equal(t, "whole", lastContent(t, f.c.Tree()))
	// the partial answer survives as a branch
	require.Len(t, f.c.Branches(), 1)
	assert.Equal(t, "half", f.c.Branches()[0].Preview)
	require.Len(t, tr.request(2).Messages, 2)

	st, err = f.c.Send(ctx, "again")
	require.NoError(t, err)
	st.Wait()
	last = f.c.LastError()
	require.NotNil(t, last)
	assert.Equal(t, transport.CodeAuth, last.Code)
	_, err = f.c.Retry(ctx)
	require.ErrorIs(t, err, ErrNotRetryable)

	f.c.DismissError()
	assert.Nil(t, f.c.LastError())
}

func TestLoader_FollowsSession(t *testing.T) {
	release := make(chan struct{})
	tr := &scriptTransport{script: func(ctx context.Context, _ int, h transport.Handler) {
		<-release
		h.OnChunk("done")
		h.OnComplete(transport.Completion{})
	}}
	f := newFixture(t, tr)

	st, err := f.c.Send(context.Background(), "slow")
	require.NoError(t, err)
	assert.False(t, f.c.LoaderVisible())

	f.clock.Advance(150 * time.Millisecond)
	assert.True(t, f.c.LoaderVisible())

	close(release)
	st.Wait()
	assert.True(t, f.c.LoaderVisible())

	f.clock.Advance(300 * time.Millisecond)
	assert.False(t, f.c.LoaderVisible())
}

func TestAutosave_MirrorsConversation(t *testing.T) {
	f := newFixture(t, numberedAnswers())
	ctx := context.Background()

	st, err := f.c.Send(ctx, "save me")
	require.NoError(t, err)
	st.Wait()

	_, err = f.store.GetConversation(ctx, f.c.ConversationID())
	require.ErrorIs(t, err, persistence.ErrNotFound)

	f.clock.Advance(2 * time.Second)
	conv, err := f.store.GetConversation(ctx, f.c.ConversationID())
	require.NoError(t, err)
	assert.Equal(t, "answer 1", lastContent(t, conv.Tree))
}

func TestNewChat(t *testing.T) {
	f := newFixture(t, numberedAnswers())
	ctx := context.Background()
	oldID := f.c.ConversationID()
	require.True(t, persistence.IsConversationID(oldID))

	st, err := f.c.Send(ctx, "first chat")
	require.NoError(t, err)
	st.Wait()

	f.clock.Advance(time.Millisecond)
	require.NoError(t, f.c.NewChat())
	assert.NotEqual(t, oldID, f.c.ConversationID())
	assert.True(t, persistence.IsConversationID(f.c.ConversationID()))

	// the pending save of the previous conversation was flushed
	_, err = f.store.GetConversation(ctx, oldID)
	require.NoError(t, err)

	tree := f.c.Tree()
	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, conversation.RoleSystem, tree.CurrentMessages()[0].Role)

	id, err := f.cache.Get("test:conversation-id")
	require.NoError(t, err)
	assert.Equal(t, f.c.ConversationID(), id)

	// an empty conversation is never mirrored
	f.clock.Advance(5 * time.Second)
	_, err = f.store.GetConversation(ctx, f.c.ConversationID())
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

type corruptStore struct {
	*persistence.MemoryStore
}

func (corruptStore) GetConversation(context.Context, string) (*persistence.Conversation, error) {
	return nil, errors.Wrap(conversation.ErrCorruptState, "bad blob")
}

func TestLoad(t *testing.T) {
	f := newFixture(t, numberedAnswers())
	ctx := context.Background()

	saved := conversation.New().
		AppendMessage(conversation.NewUserMessage("stored question")).
		AppendMessage(conversation.NewAssistantMessage("stored answer"))
	require.NoError(t, f.store.SaveConversation(ctx, "conv_42_abcdefghi", saved))

	require.NoError(t, f.c.Load(ctx, "conv_42_abcdefghi"))
	assert.Equal(t, "conv_42_abcdefghi", f.c.ConversationID())
	assert.Equal(t, "stored answer", lastContent(t, f.c.Tree()))

	err := f.c.Load(ctx, "conv_0_missing00")
	require.ErrorIs(t, err, ErrConversationNotFound)
	assert.Equal(t, "conv_42_abcdefghi", f.c.ConversationID())

	summaries, err := f.c.ListRemote(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "stored question", summaries[0].Title)
}

func TestLoad_CorruptFallsBackToEmpty(t *testing.T) {
	f := newFixture(t, numberedAnswers(), WithRemote(corruptStore{persistence.NewMemoryStore()}, time.Second))
	st, err := f.c.Send(context.Background(), "q")
	require.NoError(t, err)
	st.Wait()

	require.NoError(t, f.c.Load(context.Background(), "conv_1_abcdefghi"))
	assert.True(t, f.c.Tree().IsEmpty())
	assert.Equal(t, "conv_1_abcdefghi", f.c.ConversationID())
}

func TestLoad_NoRemote(t *testing.T) {
	c, err := New(numberedAnswers())
	require.NoError(t, err)
	require.ErrorIs(t, c.Load(context.Background(), "x"), ErrNoRemoteStore)
	_, err = c.ListRemote(context.Background())
	require.ErrorIs(t, err, ErrNoRemoteStore)
}
