package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/forkchat/pkg/chat"
	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/inference/session"
)

// states:
// - user input
// - user moving around messages
// - stream completion
// - showing error
// - picking a branch

type State string

const (
	StateUserInput        State = "user_input"
	StateMovingAround     State = "moving_around"
	StateStreamCompletion State = "stream_completion"
	StateError            State = "error"
	StateBranchPicker     State = "branch_picker"
)

type model struct {
	ctrl *chat.Controller
	ctx  context.Context

	viewport viewport.Model
	textArea textarea.Model
	help     help.Model
	spinner  spinner.Model

	// index into the active path, only used while moving around
	selectedIdx int
	// user message being rewritten, NullNode when writing a new one
	editing conversation.NodeID

	branches  []conversation.Branch
	branchIdx int

	// banner is the failure of the last stream, err a local failure
	banner *StreamCompletionError
	err    error

	// the last accepted stream
	stream        *session.Stream
	lastDone      *StreamDoneMsg
	loaderVisible bool

	keyMap KeyMap
	style  *Style
	width  int
	height int

	state        State
	quitReceived bool
}

func InitialModel(ctx context.Context, ctrl *chat.Controller) model {
	ret := model{
		ctrl:     ctrl,
		ctx:      ctx,
		style:    DefaultStyles(),
		keyMap:   DefaultKeyMap,
		viewport: viewport.New(0, 0),
		help:     help.New(),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		editing:  conversation.NullNode,
	}
	ret.spinner.Style = ret.style.Loader

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Ask something..."
	ret.textArea.ShowLineNumbers = false
	ret.textArea.Focus()
	ret.state = StateUserInput

	ret.viewport.SetContent(ret.messageView())
	ret.viewport.GotoBottom()

	ret.updateKeyBindings()

	return ret
}

func (m model) Init() tea.Cmd {
	return textarea.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			m.quitReceived = true
			// keeps the partial answer
			m.ctrl.Stop()
			return m, tea.Quit

		case key.Matches(msg, m.keyMap.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.recomputeSize()

		case key.Matches(msg, m.keyMap.UnfocusMessage):
			m.textArea.Blur()
			m.editing = conversation.NullNode
			m.state = StateMovingAround
			m.selectedIdx = len(m.ctrl.Tree().CurrentPath()) - 1
			m.updateKeyBindings()
			m.refresh(false)

		case key.Matches(msg, m.keyMap.FocusMessage):
			cmds = append(cmds, m.focusInput())

		case key.Matches(msg, m.keyMap.SelectPrevMessage):
			m.moveSelection(-1)

		case key.Matches(msg, m.keyMap.SelectNextMessage):
			m.moveSelection(1)

		case key.Matches(msg, m.keyMap.SubmitMessage):
			cmds = append(cmds, m.submit())

		case key.Matches(msg, m.keyMap.CancelCompletion):
			m.ctrl.Stop()

		case key.Matches(msg, m.keyMap.EditMessage):
			cmds = append(cmds, m.startEdit())

		case key.Matches(msg, m.keyMap.Regenerate):
			cmds = append(cmds, m.started(m.ctrl.Regenerate(m.ctx)))

		case key.Matches(msg, m.keyMap.PrevBranch):
			cmds = append(cmds, m.cycleBranch(-1))

		case key.Matches(msg, m.keyMap.NextBranch):
			cmds = append(cmds, m.cycleBranch(1))

		case key.Matches(msg, m.keyMap.ShowBranches):
			m.openBranchPicker()

		case key.Matches(msg, m.keyMap.PickBranch):
			cmds = append(cmds, m.pickBranch())

		case key.Matches(msg, m.keyMap.CloseBranch):
			m.state = StateMovingAround
			m.updateKeyBindings()
			m.recomputeSize()

		case key.Matches(msg, m.keyMap.NewChat):
			cmds = append(cmds, m.newChat())

		case key.Matches(msg, m.keyMap.Retry):
			cmds = append(cmds, m.started(m.ctrl.Retry(m.ctx)))

		case key.Matches(msg, m.keyMap.DismissError):
			cmds = append(cmds, m.dismissError())

		case key.Matches(msg, m.keyMap.ScrollUp):
			m.viewport.HalfViewUp()

		case key.Matches(msg, m.keyMap.ScrollDown):
			m.viewport.HalfViewDown()

		default:
			switch m.state {
			case StateUserInput:
				m.textArea, cmd = m.textArea.Update(msg)
				cmds = append(cmds, cmd)
			case StateMovingAround, StateStreamCompletion, StateError, StateBranchPicker:
				m.viewport, cmd = m.viewport.Update(msg)
				cmds = append(cmds, cmd)
			}
		}
		return m, tea.Batch(cmds...)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recomputeSize()

	case errMsg:
		cmds = append(cmds, m.setError(msg))

	case StreamStartMsg:
		m.lastDone = nil

	case StreamCompletionMsg:
		m.refresh(true)

	case StreamDoneMsg:
		m.lastDone = &msg
		cmds = append(cmds, m.finishCompletion())

	case StreamInterruptMsg:
		cmds = append(cmds, m.finishCompletion())

	case StreamCompletionError:
		m.banner = &msg
		if m.quitReceived {
			return m, tea.Quit
		}
		m.textArea.Blur()
		m.state = StateError
		m.updateKeyBindings()
		m.recomputeSize()

	case LoaderChangedMsg:
		visible := m.ctrl.LoaderVisible()
		if visible && !m.loaderVisible {
			cmds = append(cmds, m.spinner.Tick)
		}
		m.loaderVisible = visible
		m.recomputeSize()
		cmds = append(cmds, m.syncState())

	case spinner.TickMsg:
		if m.loaderVisible {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case refreshMessageMsg:
		m.refresh(msg.GoToBottom)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *model) updateKeyBindings() {
	moving := m.state == StateMovingAround
	picking := m.state == StateBranchPicker

	m.keyMap.SelectNextMessage.SetEnabled(moving || picking)
	m.keyMap.SelectPrevMessage.SetEnabled(moving || picking)
	m.keyMap.FocusMessage.SetEnabled(moving)
	m.keyMap.UnfocusMessage.SetEnabled(m.state == StateUserInput)
	m.keyMap.SubmitMessage.SetEnabled(m.state == StateUserInput)
	m.keyMap.CancelCompletion.SetEnabled(m.state == StateStreamCompletion)

	m.keyMap.EditMessage.SetEnabled(moving)
	m.keyMap.Regenerate.SetEnabled(moving)
	m.keyMap.PrevBranch.SetEnabled(moving)
	m.keyMap.NextBranch.SetEnabled(moving)
	m.keyMap.ShowBranches.SetEnabled(moving)
	m.keyMap.PickBranch.SetEnabled(picking)
	m.keyMap.CloseBranch.SetEnabled(picking)
	m.keyMap.NewChat.SetEnabled(m.state != StateStreamCompletion)

	m.keyMap.Retry.SetEnabled(m.state == StateError && m.banner != nil && m.banner.CanRetry)
	m.keyMap.DismissError.SetEnabled(m.state == StateError)

	// "?" is a character while typing
	m.keyMap.Help.SetEnabled(m.state != StateUserInput)
}

func (m *model) recomputeSize() {
	headerHeight := lipgloss.Height(m.headerView())
	bottomHeight := lipgloss.Height(m.bottomView())
	helpViewHeight := lipgloss.Height(m.help.View(m.keyMap))

	newHeight := m.height - headerHeight - bottomHeight - helpViewHeight - 1
	if newHeight < 0 {
		newHeight = 0
	}
	m.viewport.Width = m.width
	m.viewport.Height = newHeight
	m.viewport.YPosition = headerHeight + 1

	h, _ := m.style.FocusedMessage.GetFrameSize()
	m.textArea.SetWidth(m.width - h)
	m.help.Width = m.width

	m.refresh(m.state != StateMovingAround && m.state != StateBranchPicker)
}

func (m *model) refresh(goToBottom bool) {
	m.viewport.SetContent(m.messageView())
	if goToBottom {
		m.viewport.GotoBottom()
	}
}

func (m model) headerView() string {
	cat := m.ctrl.Category()
	return m.style.Header.Render(fmt.Sprintf("FORKCHAT · %s · %s", cat.Label, m.ctrl.ConversationID()))
}

func (m model) messageWidth(style lipgloss.Style) int {
	w, _ := style.GetFrameSize()
	return m.width - w
}

func (m model) messageView() string {
	tree := m.ctrl.Tree()
	path := tree.CurrentPath()

	var b strings.Builder
	for idx, id := range path {
		n, ok := tree.Node(id)
		if !ok {
			continue
		}
		style := m.style.UnselectedMessage
		switch {
		case m.state == StateMovingAround && idx == m.selectedIdx:
			style = m.style.SelectedMessage
		case n.Message.Role == conversation.RoleSystem:
			style = m.style.SystemMessage
		}

		label := fmt.Sprintf("[%s]", n.Message.Role)
		if pos, total := tree.BranchPosition(id); total > 1 {
			label += " " + m.style.BranchMarker.Render(fmt.Sprintf("‹%d/%d›", pos+1, total))
		}
		if n.Message.HasReasoning() {
			label += " " + m.style.Status.Render(ThinkingLabel(float64(n.Message.ReasoningTokens)/100))
		}

		width := m.messageWidth(style)
		v := label + "\n" + wrapWords(n.Message.Content, width)
		if width > 0 {
			style = style.Width(width)
		}
		b.WriteString(style.Render(v))
		b.WriteString("\n")
	}

	return b.String()
}

func (m model) statusView() string {
	parts := []string{string(m.state)}
	if m.editing != conversation.NullNode {
		parts = append(parts, "editing")
	}
	stats := m.ctrl.Stats()
	if stats.Chars > 0 {
		parts = append(parts, fmt.Sprintf("%d chars", stats.Chars), fmt.Sprintf("%.0f chars/s", stats.CharsPerSecond()))
	}
	if m.lastDone != nil {
		if l := ThinkingLabel(m.lastDone.ThinkingSeconds); l != "" {
			parts = append(parts, l)
		}
	}
	if n := len(m.ctrl.Branches()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d branches", n))
	}
	return m.style.Status.Render(strings.Join(parts, " · "))
}

func (m model) errorView() string {
	var lines []string
	switch {
	case m.banner != nil:
		title := m.banner.Code
		if m.banner.Status > 0 {
			title = fmt.Sprintf("%s (%d)", title, m.banner.Status)
		}
		lines = append(lines, title, wrapWords(m.banner.Message, m.messageWidth(m.style.ErrorBanner)))
		if m.banner.CanRetry {
			lines = append(lines, "ctrl+r retry · esc dismiss")
		} else {
			lines = append(lines, "esc dismiss")
		}
	case m.err != nil:
		lines = append(lines, wrapWords(m.err.Error(), m.messageWidth(m.style.ErrorBanner)), "esc dismiss")
	}
	return m.style.ErrorBanner.Render(strings.Join(lines, "\n"))
}

func (m model) branchPickerView() string {
	if len(m.branches) == 0 {
		return m.style.BranchPicker.Render("no other branches")
	}
	tree := m.ctrl.Tree()
	var lines []string
	for i, br := range m.branches {
		pos, total := tree.BranchPosition(br.NodeID)
		line := fmt.Sprintf("%d/%d  depth %d  [%s] %s", pos+1, total, br.Depth, br.Role, br.Preview)
		if i == m.branchIdx {
			line = m.style.SelectedBranch.Render("> " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return m.style.BranchPicker.Render(strings.Join(lines, "\n"))
}

func (m model) bottomView() string {
	var parts []string
	if m.loaderVisible {
		parts = append(parts, m.spinner.View()+" thinking…")
	}
	switch m.state {
	case StateError:
		parts = append(parts, m.errorView())
	case StateBranchPicker:
		parts = append(parts, m.branchPickerView())
	case StateUserInput:
		parts = append(parts, m.style.FocusedMessage.Render(m.textArea.View()))
	default:
		parts = append(parts, m.style.UnselectedMessage.Render(m.textArea.View()))
	}
	parts = append(parts, m.statusView())
	return strings.Join(parts, "\n")
}

func (m model) View() string {
	return m.headerView() + "\n" + m.viewport.View() + "\n" + m.bottomView() + "\n" + m.help.View(m.keyMap)
}

func (m *model) focusInput() tea.Cmd {
	m.state = StateUserInput
	m.updateKeyBindings()
	m.recomputeSize()
	return m.textArea.Focus()
}

func (m *model) moveSelection(d int) {
	if m.state == StateBranchPicker {
		next := m.branchIdx + d
		if next >= 0 && next < len(m.branches) {
			m.branchIdx = next
		}
		m.recomputeSize()
		return
	}
	next := m.selectedIdx + d
	if next >= 0 && next < len(m.ctrl.Tree().CurrentPath()) {
		m.selectedIdx = next
	}
	m.refresh(false)
}

func (m *model) selectedNode() (conversation.Node, bool) {
	tree := m.ctrl.Tree()
	path := tree.CurrentPath()
	if m.selectedIdx < 0 || m.selectedIdx >= len(path) {
		return conversation.Node{}, false
	}
	return tree.Node(path[m.selectedIdx])
}

// Chat completion messages
func (m *model) submit() tea.Cmd {
	text := m.textArea.Value()
	if m.editing != conversation.NullNode {
		return m.started(m.ctrl.Edit(m.ctx, m.editing, text))
	}
	return m.started(m.ctrl.Send(m.ctx, text))
}

// started moves to the streaming state after an operation that may have
// started a stream.
func (m *model) started(st *session.Stream, err error) tea.Cmd {
	if err != nil {
		return m.setError(err)
	}
	if st == nil {
		// another stream is still running
		return nil
	}
	m.stream = st
	m.editing = conversation.NullNode
	m.textArea.SetValue("")
	m.textArea.Blur()
	m.banner = nil
	m.err = nil
	m.state = StateStreamCompletion
	m.updateKeyBindings()
	m.recomputeSize()
	return m.syncState()
}

func (m *model) startEdit() tea.Cmd {
	n, ok := m.selectedNode()
	if !ok || n.Message.Role != conversation.RoleUser {
		return m.setError(chat.ErrNotUserMessage)
	}
	m.editing = n.ID
	m.textArea.SetValue(n.Message.Content)
	return m.focusInput()
}

func (m *model) cycleBranch(d int) tea.Cmd {
	n, ok := m.selectedNode()
	if !ok {
		return nil
	}
	tree := m.ctrl.Tree()
	pos, total := tree.BranchPosition(n.ID)
	if total < 2 {
		return nil
	}
	siblings := tree.Siblings(n.ID)
	if err := m.ctrl.SwitchBranch(siblings[(pos+d+total)%total]); err != nil {
		return m.setError(err)
	}
	m.refresh(false)
	return nil
}

func (m *model) openBranchPicker() {
	m.branches = m.ctrl.Branches()
	m.branchIdx = 0
	m.state = StateBranchPicker
	m.updateKeyBindings()
	m.recomputeSize()
}

func (m *model) pickBranch() tea.Cmd {
	if m.branchIdx >= len(m.branches) {
		m.state = StateMovingAround
		m.updateKeyBindings()
		m.recomputeSize()
		return nil
	}
	br := m.branches[m.branchIdx]
	if err := m.ctrl.SwitchBranch(br.NodeID); err != nil {
		return m.setError(err)
	}
	m.selectedIdx = br.Depth
	m.state = StateMovingAround
	m.updateKeyBindings()
	m.recomputeSize()
	return nil
}

func (m *model) newChat() tea.Cmd {
	if err := m.ctrl.NewChat(); err != nil {
		return m.setError(err)
	}
	m.lastDone = nil
	m.banner = nil
	m.err = nil
	m.editing = conversation.NullNode
	m.textArea.SetValue("")
	return m.focusInput()
}

func (m *model) dismissError() tea.Cmd {
	m.ctrl.DismissError()
	m.banner = nil
	m.err = nil
	return m.focusInput()
}

// syncState leaves the streaming state once the stream ended, in case its
// terminal event was not delivered.
func (m *model) syncState() tea.Cmd {
	if m.state != StateStreamCompletion || (m.stream != nil && m.stream.IsRunning()) {
		return nil
	}
	if last := m.ctrl.LastError(); last != nil && m.banner == nil {
		m.banner = &StreamCompletionError{
			Code:     string(last.Code),
			Message:  last.Message,
			Status:   last.Status,
			CanRetry: last.CanRetry,
		}
	}
	return m.finishCompletion()
}

func (m *model) finishCompletion() tea.Cmd {
	if m.quitReceived {
		return tea.Quit
	}
	if m.state != StateStreamCompletion {
		m.refresh(true)
		return nil
	}

	if m.banner != nil {
		m.state = StateError
		m.updateKeyBindings()
		m.recomputeSize()
		return nil
	}
	return tea.Batch(m.focusInput(), func() tea.Msg {
		return refreshMessageMsg{GoToBottom: true}
	})
}

func (m *model) setError(err error) tea.Cmd {
	m.err = err
	m.state = StateError
	m.updateKeyBindings()
	m.recomputeSize()
	return nil
}
