package cmds

import (
	"testing"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func field(t *testing.T, row types.Row, name string) interface{} {
	t.Helper()
	v, ok := row.Get(name)
	require.True(t, ok, "missing field %s", name)
	return v
}

func TestBranchRows(t *testing.T) {
	tree := conversation.New().
		AppendMessage(conversation.NewUserMessage("question")).
		AppendMessage(conversation.NewAssistantMessage("first answer"))
	first, _ := tree.Leaf()
	tree, err := tree.Rewind(tree.RootID())
	require.NoError(t, err)
	tree = tree.AppendMessage(conversation.NewAssistantMessage("second answer"))

	rows := branchRows(tree)
	require.Len(t, rows, 3)

	assert.Equal(t, "path", field(t, rows[0], "kind"))
	assert.Equal(t, 0, field(t, rows[0], "depth"))
	assert.Equal(t, "user", field(t, rows[0], "role"))
	assert.Equal(t, "", field(t, rows[0], "branch"))

	assert.Equal(t, "path", field(t, rows[1], "kind"))
	assert.Equal(t, "2/2", field(t, rows[1], "branch"))
	assert.Equal(t, "second answer", field(t, rows[1], "message"))

	assert.Equal(t, "branch", field(t, rows[2], "kind"))
	assert.Equal(t, 1, field(t, rows[2], "depth"))
	assert.Equal(t, first.String(), field(t, rows[2], "node_id"))
	assert.Equal(t, "first answer", field(t, rows[2], "message"))

	assert.Empty(t, branchRows(conversation.New()))
}

func TestSummaryRows(t *testing.T) {
	rows := summaryRows([]persistence.Summary{
		{ID: "c1", Title: "Hello", Nodes: 3, UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)},
	})
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", field(t, rows[0], "id"))
	assert.Equal(t, "2024-05-01 12:00", field(t, rows[0], "updated_at"))
	assert.Equal(t, 3, field(t, rows[0], "nodes"))
	assert.Equal(t, "Hello", field(t, rows[0], "title"))
}
