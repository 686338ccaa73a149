package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contents(msgs []Message) []string {
	ret := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ret = append(ret, m.Content)
	}
	return ret
}

func TestTree_New_IsEmpty(t *testing.T) {
	tree := New()
	require.True(t, tree.IsEmpty())
	require.Empty(t, tree.CurrentMessages())
	_, ok := tree.Leaf()
	require.False(t, ok)
	require.Equal(t, NullNode, tree.RootID())
}

func TestTree_NilBehavesAsEmpty(t *testing.T) {
	var tree *Tree
	require.True(t, tree.IsEmpty())
	require.Nil(t, tree.CurrentMessages())
	require.Nil(t, tree.ListBranches())

	next := tree.AppendMessage(NewUserMessage("hi"))
	require.Equal(t, []string{"hi"}, contents(next.CurrentMessages()))
}

func TestTree_AppendMessage_LinearHistory(t *testing.T) {
	tree := New()
	texts := []string{"one", "two", "three", "four"}
	for i, text := range texts {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		tree = tree.AppendMessage(NewMessage(role, text))
	}
	require.Equal(t, texts, contents(tree.CurrentMessages()))
	require.Len(t, tree.CurrentPath(), 4)
	require.Equal(t, tree.CurrentPath()[0], tree.RootID())
}

func TestTree_AppendMessage_FirstNodeIsRoot(t *testing.T) {
	tree := New().AppendMessage(NewUserMessage("root"))
	leaf, ok := tree.Leaf()
	require.True(t, ok)
	require.Equal(t, leaf, tree.RootID())

	n, ok := tree.Node(leaf)
	require.True(t, ok)
	require.Equal(t, NullNode, n.ParentID)
}

func TestTree_AppendMessage_DoesNotMutateReceiver(t *testing.T) {
	before := New().AppendMessage(NewUserMessage("a"))
	after := before.AppendMessage(NewAssistantMessage("b"))

	require.Equal(t, []string{"a"}, contents(before.CurrentMessages()))
	require.Equal(t, []string{"a", "b"}, contents(after.CurrentMessages()))
	require.Empty(t, before.Children(before.RootID()))
	require.Len(t, after.Children(after.RootID()), 1)
}

func TestTree_AppendStreamedChunk_ConcatenatesChunks(t *testing.T) {
	base := New().AppendMessage(NewUserMessage("Hello"))

	chunkings := [][]string{
		{"Hi there!"},
		{"Hi", " there", "!"},
		{"H", "i", " ", "t", "h", "e", "r", "e", "!"},
	}
	for _, chunks := range chunkings {
		tree := base
		for _, c := range chunks {
			tree = tree.AppendStreamedChunk(c)
		}
		msgs := tree.CurrentMessages()
		require.Len(t, msgs, 2)
		assert.Equal(t, RoleAssistant, msgs[1].Role)
		assert.Equal(t, "Hi there!", msgs[1].Content)
		assert.True(t, tree.IsStreaming())
	}
}

func TestTree_AppendStreamedChunk_EmptyChunkIsNoop(t *testing.T) {
	tree := New().AppendMessage(NewUserMessage("Hello"))
	next := tree.AppendStreamedChunk("")
	require.Equal(t, 1, next.Len())
	require.False(t, next.IsStreaming())
}

func TestTree_AppendStreamedChunk_ClosedAssistantStartsNewNode(t *testing.T) {
	tree := New().
		AppendMessage(NewUserMessage("Hello")).
		AppendStreamedChunk("first").
		CloseStream("", 0).
		AppendStreamedChunk("second")

	require.Equal(t, []string{"Hello", "first", "second"}, contents(tree.CurrentMessages()))
}

func TestTree_AppendStreamedChunk_FinalizedAssistantIsNotExtended(t *testing.T) {
	tree := New().
		AppendMessage(NewUserMessage("Hello")).
		AppendMessage(NewAssistantMessage("done"))

	tree = tree.AppendStreamedChunk("more")
	require.Equal(t, []string{"Hello", "done", "more"}, contents(tree.CurrentMessages()))
}

func TestTree_CloseStream_AttachesReasoning(t *testing.T) {
	tree := New().
		AppendMessage(NewUserMessage("Hello")).
		AppendStreamedChunk("Hi").
		CloseStream("thought about it", 420)

	require.False(t, tree.IsStreaming())
	msgs := tree.CurrentMessages()
	require.Equal(t, "thought about it", msgs[1].Reasoning)
	require.Equal(t, 420, msgs[1].ReasoningTokens)
}

func TestTree_CloseStream_WithoutOpenLeafIsNoop(t *testing.T) {
	tree := New().AppendMessage(NewUserMessage("Hello"))
	next := tree.CloseStream("reasoning", 3)
	require.Equal(t, 1, next.Len())
	require.False(t, next.CurrentMessages()[0].HasReasoning())
}

func buildForked(t *testing.T) (*Tree, NodeID, NodeID) {
	tree := New().
		AppendMessage(NewUserMessage("question")).
		AppendStreamedChunk("first answer").
		CloseStream("", 0)
	first, _ := tree.Leaf()
	firstNode, _ := tree.Node(first)

	tree, err := tree.Rewind(firstNode.ParentID)
	require.NoError(t, err)
	tree = tree.AppendStreamedChunk("second answer").CloseStream("", 0)
	second, _ := tree.Leaf()
	return tree, first, second
}

func TestTree_Rewind_ForksSibling(t *testing.T) {
	tree, first, second := buildForked(t)

	require.Equal(t, []string{"question", "second answer"}, contents(tree.CurrentMessages()))
	require.Equal(t, []NodeID{first, second}, tree.Siblings(second))

	idx, total := tree.BranchPosition(second)
	require.Equal(t, 1, idx)
	require.Equal(t, 2, total)
}

func TestTree_Rewind_UnknownNode(t *testing.T) {
	_, err := New().AppendMessage(NewUserMessage("a")).Rewind(NewNodeID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTree_SwitchBranch_ToOlderBranch(t *testing.T) {
	tree, first, _ := buildForked(t)

	switched, err := tree.SwitchBranch(first)
	require.NoError(t, err)
	msgs := switched.CurrentMessages()
	require.Equal(t, "first answer", msgs[len(msgs)-1].Content)
	require.Contains(t, switched.CurrentPath(), first)
}

func TestTree_SwitchBranch_Idempotent(t *testing.T) {
	tree, first, _ := buildForked(t)

	once, err := tree.SwitchBranch(first)
	require.NoError(t, err)
	twice, err := once.SwitchBranch(first)
	require.NoError(t, err)
	require.Equal(t, once.CurrentPath(), twice.CurrentPath())
}

func TestTree_SwitchBranch_ActiveLeafIsNoop(t *testing.T) {
	tree, _, second := buildForked(t)
	switched, err := tree.SwitchBranch(second)
	require.NoError(t, err)
	require.Equal(t, tree.CurrentPath(), switched.CurrentPath())
}

func TestTree_SwitchBranch_RewoundLeafIsNoop(t *testing.T) {
	tree, _, second := buildForked(t)
	root := tree.RootID()
	tree = tree.AppendMessage(NewUserMessage("follow-up"))

	rewound, err := tree.Rewind(second)
	require.NoError(t, err)
	require.Equal(t, []NodeID{root, second}, rewound.CurrentPath())

	switched, err := rewound.SwitchBranch(second)
	require.NoError(t, err)
	require.Equal(t, rewound.CurrentPath(), switched.CurrentPath())

	// other branches still descend through the remembered child
	switched, err = rewound.SwitchBranch(root)
	require.NoError(t, err)
	require.Equal(t, []string{"question", "second answer", "follow-up"}, contents(switched.CurrentMessages()))
}

func TestTree_SwitchBranch_NotFound(t *testing.T) {
	tree, _, _ := buildForked(t)
	_, err := tree.SwitchBranch(NewNodeID())
	require.ErrorIs(t, err, ErrNotFound)

	var empty *Tree
	_, err = empty.SwitchBranch(NewNodeID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTree_SwitchBranch_DescendsThroughPreviouslyActiveChild(t *testing.T) {
	// question -> a1 -> follow-up -> (b1, b2); then fork a2 under question.
	tree := New().
		AppendMessage(NewUserMessage("question")).
		AppendMessage(NewAssistantMessage("a1")).
		AppendMessage(NewUserMessage("follow-up")).
		AppendMessage(NewAssistantMessage("b1"))
	b1, _ := tree.Leaf()
	b1Node, _ := tree.Node(b1)

	tree, err := tree.Rewind(b1Node.ParentID)
	require.NoError(t, err)
	tree = tree.AppendMessage(NewAssistantMessage("b2"))

	path := tree.CurrentPath()
	a1 := path[1]
	tree, err = tree.Rewind(tree.RootID())
	require.NoError(t, err)
	tree = tree.AppendMessage(NewAssistantMessage("a2"))
	require.Equal(t, []string{"question", "a2"}, contents(tree.CurrentMessages()))

	back, err := tree.SwitchBranch(a1)
	require.NoError(t, err)
	require.Equal(t, []string{"question", "a1", "follow-up", "b2"}, contents(back.CurrentMessages()))
}

func TestFromMessages(t *testing.T) {
	tree := FromMessages([]Message{
		NewUserMessage("a"),
		NewAssistantMessage("b"),
		NewUserMessage("c"),
	})
	require.Equal(t, []string{"a", "b", "c"}, contents(tree.CurrentMessages()))
	require.Equal(t, 3, tree.Len())
}
