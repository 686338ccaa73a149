package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/forkchat/pkg/chat"
	"github.com/go-go-golems/forkchat/pkg/config"
	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/events"
	"github.com/go-go-golems/forkchat/pkg/inference"
	"github.com/go-go-golems/forkchat/pkg/inference/session"
	"github.com/go-go-golems/forkchat/pkg/ui"
	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	faint  = lipgloss.NewStyle().Faint(true)
	alert  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	prompt = "you> "
)

var errQuit = errors.New("quit")

const replHelp = `/new              start a new conversation
/regen            regenerate the last answer
/retry            retry the failed request
/history          show the active path
/branches         list alternative branches
/switch N         switch to branch N of /branches
/edit N TEXT      rewrite message N of /history
/category [ID]    show or set the category
/prompt [TEXT]    set the custom system prompt, empty resets it
/list             list remote conversations
/load ID          load a remote conversation
/quit             leave`

func NewReplCommand(settings SettingsFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Chat line by line on a plain terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			metricsAddr, _ := cmd.Flags().GetString("metrics-listen")
			return runRepl(cmd.Context(), settings(), os.Stdout, metricsAddr)
		},
	}
	cmd.Flags().String("metrics-listen", "", "Serve session metrics on this address")
	return cmd
}

// eventPrinter writes stream events as plain text.
type eventPrinter struct {
	out io.Writer
}

func (p *eventPrinter) HandleStart(context.Context, *events.EventStart) error {
	_, err := fmt.Fprint(p.out, "ai> ")
	return err
}

func (p *eventPrinter) HandlePartialCompletion(_ context.Context, e *events.EventPartialCompletion) error {
	_, err := fmt.Fprint(p.out, e.Delta)
	return err
}

func (p *eventPrinter) HandleFinal(_ context.Context, e *events.EventFinal) error {
	stats := fmt.Sprintf("%d chars, %.0f chars/s", e.Chars, e.CharsPerSecond)
	if l := ui.ThinkingLabel(e.ThinkingSeconds()); l != "" {
		stats += ", " + l
	}
	_, err := fmt.Fprintf(p.out, "\n%s\n", faint.Render("("+stats+")"))
	return err
}

func (p *eventPrinter) HandleError(_ context.Context, e *events.EventError) error {
	msg := e.Message
	if msg == "" {
		msg = e.ErrorString
	}
	line := fmt.Sprintf("%s %s", e.Code, msg)
	if e.Status != 0 {
		line = fmt.Sprintf("%s (%d) %s", e.Code, e.Status, msg)
	}
	if e.CanRetry {
		line += " · /retry to try again"
	}
	_, err := fmt.Fprintf(p.out, "\n%s\n", alert.Render(line))
	return err
}

func (p *eventPrinter) HandleInterrupt(context.Context, *events.EventInterrupt) error {
	_, err := fmt.Fprintf(p.out, "\n%s\n", faint.Render("(stopped)"))
	return err
}

var _ events.ChatEventHandler = (*eventPrinter)(nil)

// repl executes single input lines against a controller.
type repl struct {
	ctrl *chat.Controller
	out  io.Writer
	// branches as last printed by /branches
	branches []conversation.Branch
}

// handle runs line. It returns the stream the line started, if any, and
// errQuit when the user asked to leave.
func (r *repl) handle(ctx context.Context, line string) (*session.Stream, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if !strings.HasPrefix(line, "/") {
		return r.ctrl.Send(ctx, line)
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/quit", "/exit":
		return nil, errQuit
	case "/help":
		r.println(replHelp)
	case "/new":
		if err := r.ctrl.NewChat(); err != nil {
			return nil, err
		}
		r.printf("new conversation %s\n", r.ctrl.ConversationID())
	case "/regen":
		return r.ctrl.Regenerate(ctx)
	case "/retry":
		return r.ctrl.Retry(ctx)
	case "/history":
		r.printHistory()
	case "/branches":
		r.printBranches()
	case "/switch":
		n, err := r.index(rest, len(r.branches))
		if err != nil {
			return nil, err
		}
		if err := r.ctrl.SwitchBranch(r.branches[n].NodeID); err != nil {
			return nil, err
		}
		r.branches = nil
		r.printHistory()
	case "/edit":
		arg, text, _ := strings.Cut(rest, " ")
		path := r.ctrl.Tree().CurrentPath()
		n, err := r.index(arg, len(path))
		if err != nil {
			return nil, err
		}
		return r.ctrl.Edit(ctx, path[n], text)
	case "/category":
		if rest == "" {
			current := r.ctrl.Category()
			for _, c := range chat.Categories {
				marker := " "
				if c.ID == current.ID {
					marker = "*"
				}
				r.printf("%s %-10s %s\n", marker, c.ID, c.Label)
			}
			return nil, nil
		}
		if err := r.ctrl.SetCategory(rest); err != nil {
			return nil, err
		}
		r.printf("category %s\n", r.ctrl.Category().Label)
	case "/prompt":
		r.ctrl.SetSystemPrompt(rest)
		r.println(faint.Render(r.ctrl.SystemPrompt()))
	case "/list":
		summaries, err := r.ctrl.ListRemote(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range summaries {
			r.printf("%s  %s  %s\n", s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Title)
		}
	case "/load":
		if rest == "" {
			return nil, errors.New("usage: /load ID")
		}
		if err := r.ctrl.Load(ctx, rest); err != nil {
			return nil, err
		}
		r.branches = nil
		r.printHistory()
	default:
		return nil, errors.Errorf("unknown command %s, try /help", name)
	}
	return nil, nil
}

// index parses a 1-based index below n.
func (r *repl) index(arg string, n int) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil || i < 1 || i > n {
		return 0, errors.Errorf("expected a number between 1 and %d, got %q", n, arg)
	}
	return i - 1, nil
}

func (r *repl) printHistory() {
	tree := r.ctrl.Tree()
	for i, id := range tree.CurrentPath() {
		n, ok := tree.Node(id)
		if !ok {
			continue
		}
		marker := ""
		if idx, count := tree.BranchPosition(id); count > 1 {
			marker = fmt.Sprintf(" ‹%d/%d›", idx+1, count)
		}
		content := conversation.Preview(n.Message.Content, 72)
		if n.Message.Role == conversation.RoleSystem {
			content = faint.Render(content)
		}
		r.printf("%2d %-9s%s %s\n", i+1, n.Message.Role, marker, content)
	}
}

func (r *repl) printBranches() {
	r.branches = r.ctrl.Branches()
	if len(r.branches) == 0 {
		r.println("no other branches")
		return
	}
	for i, b := range r.branches {
		r.printf("%2d depth %d %-9s %s\n", i+1, b.Depth, b.Role, b.Preview)
	}
}

func (r *repl) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *repl) println(s string) {
	_, _ = fmt.Fprintln(r.out, s)
}

// wait blocks until st ends. An interrupt stops the stream.
func (r *repl) wait(st *session.Stream, interrupts <-chan os.Signal) session.Result {
	for {
		select {
		case <-st.Done():
			return st.Wait()
		case <-interrupts:
			r.ctrl.Stop()
		}
	}
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "forkchat", "repl_history")
}

func runRepl(ctx context.Context, s *config.Settings, out io.Writer, metricsAddr string) error {
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
	router.AddHandler("printer", events.DefaultTopic, events.NewChatDispatchHandler(&eventPrinter{out: out}))

	ctrl, err := app.NewController(t,
		chat.WithSessionOptions(
			session.WithSink(inference.NewWatermillSink(router.Publisher, events.DefaultTopic)),
			session.WithMetrics(ServeMetrics(ctx, metricsAddr)),
		),
	)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	go func() {
		if err := router.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Event router failed")
		}
	}()
	<-router.Running()

	r := &repl{ctrl: ctrl, out: out}
	if err := ctrl.Restore(); err != nil {
		log.Warn().Err(err).Msg("Could not restore cached conversation")
	}
	r.printf("forkchat · %s · %s · /help for commands\n", ctrl.Category().Label, ctrl.ConversationID())
	if len(ctrl.Tree().CurrentMessages()) > 1 {
		r.printHistory()
	}

	line := liner.NewLiner()
	defer func() {
		_ = line.Close()
	}()
	line.SetCtrlCAborts(true)

	hf := historyFile()
	if f, err := os.Open(hf); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if err := os.MkdirAll(filepath.Dir(hf), 0o700); err != nil {
			return
		}
		f, err := os.OpenFile(hf, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return
		}
		defer func() {
			_ = f.Close()
		}()
		_, _ = line.WriteHistory(f)
	}()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	for {
		input, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			r.println("")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "could not read input")
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		st, err := r.handle(ctx, input)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			r.println(alert.Render(err.Error()))
			continue
		}
		if st != nil {
			r.wait(st, interrupts)
		}
	}
}
