package cmds

import (
	"context"
	"fmt"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
)

type BranchesSettings struct {
	ConversationID string `glazed.parameter:"conversation-id"`
}

// BranchesCommand emits the active path and the alternative branches of a
// conversation as rows.
type BranchesCommand struct {
	*cmds.CommandDescription
	settings SettingsFunc
}

var _ cmds.GlazeCommand = (*BranchesCommand)(nil)

func NewBranchesCommand(s SettingsFunc) (*BranchesCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed parameter layer")
	}

	return &BranchesCommand{
		CommandDescription: cmds.NewCommandDescription(
			"branches",
			cmds.WithShort("Show the active path and the alternative branches of a conversation"),
			cmds.WithLong("Without an id, shows the conversation cached for the current session. "+
				"With an id, fetches the conversation from the remote store.\n\n"+
				"Rows of kind \"path\" are the active path, rows of kind \"branch\" the "+
				"alternatives that can be switched to."),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"conversation-id",
					parameters.ParameterTypeString,
					parameters.WithHelp("Id of a conversation of the remote store"),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
		settings: s,
	}, nil
}

func (c *BranchesCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &BranchesSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "could not initialize settings")
	}

	app, err := OpenApp(c.settings())
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	var tree *conversation.Tree
	if s.ConversationID == "" {
		tree, err = app.Adapter().Load()
		if err != nil {
			return err
		}
	} else {
		if app.Remote == nil {
			return errors.New("no remote store configured")
		}
		conv, err := app.Remote.GetConversation(ctx, s.ConversationID)
		if err != nil {
			return err
		}
		tree = conv.Tree
	}

	for _, row := range branchRows(tree) {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// branchRows lists the active path, root first, followed by the branches
// that are not on it.
func branchRows(tree *conversation.Tree) []types.Row {
	var ret []types.Row
	for i, id := range tree.CurrentPath() {
		n, ok := tree.Node(id)
		if !ok {
			continue
		}
		pos := ""
		if idx, count := tree.BranchPosition(id); count > 1 {
			pos = fmt.Sprintf("%d/%d", idx+1, count)
		}
		ret = append(ret, types.NewRow(
			types.MRP("kind", "path"),
			types.MRP("depth", i),
			types.MRP("node_id", id.String()),
			types.MRP("role", string(n.Message.Role)),
			types.MRP("branch", pos),
			types.MRP("message", conversation.Preview(n.Message.Content, conversation.PreviewWidth)),
		))
	}
	for _, b := range tree.ListBranches() {
		ret = append(ret, types.NewRow(
			types.MRP("kind", "branch"),
			types.MRP("depth", b.Depth),
			types.MRP("node_id", b.NodeID.String()),
			types.MRP("role", string(b.Role)),
			types.MRP("branch", ""),
			types.MRP("message", b.Preview),
		))
	}
	return ret
}
