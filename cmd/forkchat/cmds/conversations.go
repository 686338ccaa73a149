package cmds

import (
	"context"
	"fmt"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// withRemote opens the configured remote store for the duration of f.
func withRemote(settings SettingsFunc, f func(cmd *cobra.Command, args []string, remote persistence.RemoteStore) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		remote, closeRemote, err := OpenRemote(settings())
		if err != nil {
			return err
		}
		if remote == nil {
			return errors.New("no remote store configured, set remote.kind")
		}
		if closeRemote != nil {
			defer func() {
				_ = closeRemote()
			}()
		}
		return f(cmd, args, remote)
	}
}

func NewConversationsCommand(settings SettingsFunc) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage conversations of the remote store",
	}

	listCmd, err := NewListConversationsCommand(settings)
	if err != nil {
		return nil, err
	}
	listCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(listCmd)
	if err != nil {
		return nil, err
	}
	cmd.AddCommand(listCobraCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "export ID",
		Short: "Print the serialized tree of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: withRemote(settings, func(cmd *cobra.Command, args []string, remote persistence.RemoteStore) error {
			conv, err := remote.GetConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			text, err := conversation.Serialize(conv.Tree)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm ID...",
		Short: "Delete conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: withRemote(settings, func(cmd *cobra.Command, args []string, remote persistence.RemoteStore) error {
			for _, id := range args {
				if err := remote.DeleteConversation(cmd.Context(), id); err != nil {
					return errors.Wrapf(err, "could not delete %s", id)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		}),
	})

	return cmd, nil
}

// ListConversationsCommand emits one row per conversation of the remote
// store, most recent first.
type ListConversationsCommand struct {
	*cmds.CommandDescription
	settings SettingsFunc
}

var _ cmds.GlazeCommand = (*ListConversationsCommand)(nil)

func NewListConversationsCommand(s SettingsFunc) (*ListConversationsCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed parameter layer")
	}
	return &ListConversationsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List stored conversations, most recent first"),
			cmds.WithLayersList(glazedParameterLayer),
		),
		settings: s,
	}, nil
}

func (c *ListConversationsCommand) RunIntoGlazeProcessor(ctx context.Context, _ *layers.ParsedLayers, gp middlewares.Processor) error {
	remote, closeRemote, err := OpenRemote(c.settings())
	if err != nil {
		return err
	}
	if remote == nil {
		return errors.New("no remote store configured, set remote.kind")
	}
	if closeRemote != nil {
		defer func() {
			_ = closeRemote()
		}()
	}

	summaries, err := remote.ListConversations(ctx)
	if err != nil {
		return err
	}
	for _, row := range summaryRows(summaries) {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func summaryRows(summaries []persistence.Summary) []types.Row {
	ret := make([]types.Row, 0, len(summaries))
	for _, s := range summaries {
		ret = append(ret, types.NewRow(
			types.MRP("id", s.ID),
			types.MRP("updated_at", s.UpdatedAt.Local().Format("2006-01-02 15:04")),
			types.MRP("nodes", s.Nodes),
			types.MRP("title", s.Title),
		))
	}
	return ret
}
