package persistence

import (
	"testing"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/stretchr/testify/require"
)

func sampleTree() *conversation.Tree {
	return conversation.New().
		AppendMessage(conversation.NewUserMessage("Hello")).
		AppendMessage(conversation.NewAssistantMessage("Hi there!"))
}

func TestAdapter_SnapshotAndLoad(t *testing.T) {
	cache := NewMemoryCache()
	a := NewAdapter(cache, "s1")

	tree := sampleTree()
	require.NoError(t, a.Snapshot(tree))

	_, err := cache.Get("s1:tree")
	require.NoError(t, err)
	legacy, err := cache.Get("s1:messages")
	require.NoError(t, err)
	msgs, err := conversation.DecodeMessages(legacy)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	loaded, err := a.Load()
	require.NoError(t, err)
	require.Equal(t, tree.CurrentPath(), loaded.CurrentPath())
	require.Equal(t, tree.CurrentMessages(), loaded.CurrentMessages())
}

func TestAdapter_Load_Empty(t *testing.T) {
	a := NewAdapter(NewMemoryCache(), "s1")
	tree, err := a.Load()
	require.NoError(t, err)
	require.True(t, tree.IsEmpty())
}

func TestAdapter_Load_MigratesLegacyMessages(t *testing.T) {
	cache := NewMemoryCache()
	a := NewAdapter(cache, "s1")
	legacy, err := conversation.EncodeMessages(sampleTree().CurrentMessages())
	require.NoError(t, err)
	require.NoError(t, cache.Set(a.MessagesKey(), legacy))

	tree, err := a.Load()
	require.NoError(t, err)
	require.Equal(t, 2, tree.Len())
	msgs := tree.CurrentMessages()
	require.Equal(t, "Hello", msgs[0].Content)
	require.Equal(t, "Hi there!", msgs[1].Content)
}

func TestAdapter_Load_PrefersTreeBlob(t *testing.T) {
	cache := NewMemoryCache()
	a := NewAdapter(cache, "s1")
	require.NoError(t, a.Snapshot(sampleTree()))
	require.NoError(t, cache.Set(a.MessagesKey(), `[{"role":"user","content":"stale"}]`))

	tree, err := a.Load()
	require.NoError(t, err)
	require.Equal(t, "Hi there!", tree.CurrentMessages()[1].Content)
}

func TestAdapter_Load_CorruptFallsBackToEmpty(t *testing.T) {
	for name, setup := range map[string]func(c Cache, a *Adapter){
		"tree":     func(c Cache, a *Adapter) { _ = c.Set(a.TreeKey(), "{not json") },
		"messages": func(c Cache, a *Adapter) { _ = c.Set(a.MessagesKey(), `[{"role":"robot"}]`) },
	} {
		t.Run(name, func(t *testing.T) {
			cache := NewMemoryCache()
			a := NewAdapter(cache, "s1")
			setup(cache, a)
			tree, err := a.Load()
			require.NoError(t, err)
			require.True(t, tree.IsEmpty())
		})
	}
}

func TestAdapter_ConversationIDAndClear(t *testing.T) {
	cache := NewMemoryCache()
	a := NewAdapter(cache, "s1")
	other := NewAdapter(cache, "s2")

	id, err := a.ConversationID()
	require.NoError(t, err)
	require.Empty(t, id)

	require.NoError(t, a.SaveConversationID("conv_1_abc"))
	require.NoError(t, a.Snapshot(sampleTree()))
	require.NoError(t, other.Snapshot(sampleTree()))

	id, err = a.ConversationID()
	require.NoError(t, err)
	require.Equal(t, "conv_1_abc", id)

	require.NoError(t, a.Clear())
	tree, err := a.Load()
	require.NoError(t, err)
	require.True(t, tree.IsEmpty())

	tree, err = other.Load()
	require.NoError(t, err)
	require.Equal(t, 2, tree.Len())
}
