package cmds

import (
	"context"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/forkchat/pkg/chat"
	"github.com/go-go-golems/forkchat/pkg/config"
	"github.com/go-go-golems/forkchat/pkg/events"
	"github.com/go-go-golems/forkchat/pkg/inference"
	"github.com/go-go-golems/forkchat/pkg/inference/session"
	"github.com/go-go-golems/forkchat/pkg/loader"
	"github.com/go-go-golems/forkchat/pkg/ui"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// programRef forwards messages to a program created after its senders.
type programRef struct {
	mu sync.Mutex
	p  *tea.Program
}

func (r *programRef) set(p *tea.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = p
}

func (r *programRef) Send(msg tea.Msg) {
	r.mu.Lock()
	p := r.p
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func NewChatCommand(settings SettingsFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eventsLog, _ := cmd.Flags().GetString("events-log")
			metricsAddr, _ := cmd.Flags().GetString("metrics-listen")
			return runChat(cmd.Context(), settings(), eventsLog, metricsAddr)
		},
	}
	cmd.Flags().String("events-log", "", "Append raw stream events to this file")
	cmd.Flags().String("metrics-listen", "", "Serve session metrics on this address")
	return cmd
}

func runChat(ctx context.Context, s *config.Settings, eventsLog, metricsAddr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app, err := OpenApp(s)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn().Err(err).Msg("Could not close stores")
		}
	}()

	t, err := NewTransport(s)
	if err != nil {
		return err
	}

	router, err := events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
	if err != nil {
		return errors.Wrap(err, "could not create event router")
	}
	defer func() {
		_ = router.Close()
	}()

	ref := &programRef{}
	sink := inference.NewWatermillSink(router.Publisher, events.DefaultTopic)
	ctrl, err := app.NewController(t,
		chat.WithSessionOptions(
			session.WithSink(sink),
			session.WithMetrics(ServeMetrics(ctx, metricsAddr)),
		),
		chat.WithLoaderOptions(loader.WithOnChange(func(bool) {
			// runs under the loader lock
			go ref.Send(ui.LoaderChangedMsg{})
		})),
	)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.Restore(); err != nil {
		log.Warn().Err(err).Msg("Could not restore cached conversation")
	}

	options := []tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(), // turn on mouse support so we can track the mouse wheel
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		tty, err := ui.OpenTTY()
		if err != nil {
			return errors.Wrap(err, "stdin is not a terminal and no tty is available")
		}
		defer func() {
			_ = tty.Close()
		}()
		options = append(options, tea.WithInput(tty))
	}

	p := tea.NewProgram(ui.InitialModel(ctx, ctrl), options...)
	ref.set(p)

	router.AddHandler("ui", events.DefaultTopic, events.NewChatDispatchHandler(ui.NewForwardHandler(ref)))
	if eventsLog != "" {
		f, err := os.OpenFile(eventsLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrapf(err, "could not open %s", eventsLog)
		}
		defer func() {
			_ = f.Close()
		}()
		router.AddHandler("dump", events.DefaultTopic, router.DumpRawEvents(f))
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(gctx)
	})
	eg.Go(func() error {
		defer cancel()
		select {
		case <-router.Running():
		case <-gctx.Done():
			return gctx.Err()
		}
		_, err := p.Run()
		// stop the stream and flush the autosave while the router still delivers
		ctrl.Close()
		if err != nil {
			return errors.Wrap(err, "chat ui failed")
		}
		return nil
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
