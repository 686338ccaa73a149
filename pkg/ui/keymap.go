package ui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	SelectPrevMessage key.Binding
	SelectNextMessage key.Binding
	UnfocusMessage    key.Binding
	FocusMessage      key.Binding
	SubmitMessage     key.Binding
	ScrollUp          key.Binding
	ScrollDown        key.Binding
	CancelCompletion  key.Binding

	EditMessage  key.Binding
	Regenerate   key.Binding
	PrevBranch   key.Binding
	NextBranch   key.Binding
	ShowBranches key.Binding
	PickBranch   key.Binding
	CloseBranch  key.Binding
	NewChat      key.Binding

	Retry        key.Binding
	DismissError key.Binding

	Help key.Binding
	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	SelectPrevMessage: key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "previous")),
	SelectNextMessage: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next")),
	UnfocusMessage:    key.NewBinding(key.WithKeys("esc", "ctrl+g"), key.WithHelp("esc", "browse messages")),
	FocusMessage:      key.NewBinding(key.WithKeys("enter", "i"), key.WithHelp("enter", "write")),
	SubmitMessage:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "send")),
	ScrollUp:          key.NewBinding(key.WithKeys("shift+pgup"), key.WithHelp("shift+pgup", "scroll up")),
	ScrollDown:        key.NewBinding(key.WithKeys("shift+pgdown"), key.WithHelp("shift+pgdown", "scroll down")),
	CancelCompletion:  key.NewBinding(key.WithKeys("esc", "ctrl+g"), key.WithHelp("esc", "stop")),

	EditMessage:  key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
	Regenerate:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "regenerate")),
	PrevBranch:   key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "previous branch")),
	NextBranch:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next branch")),
	ShowBranches: key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "branches")),
	PickBranch:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "switch")),
	CloseBranch:  key.NewBinding(key.WithKeys("esc", "b"), key.WithHelp("esc", "close")),
	NewChat:      key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new chat")),

	Retry:        key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "retry")),
	DismissError: key.NewBinding(key.WithKeys("esc", "enter"), key.WithHelp("esc", "dismiss")),

	Help: key.NewBinding(key.WithKeys("ctrl+h", "?"), key.WithHelp("?", "help")),
	Quit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.SubmitMessage, k.UnfocusMessage, k.FocusMessage, k.CancelCompletion,
		k.Retry, k.DismissError, k.PickBranch, k.CloseBranch,
		k.Help, k.Quit,
	}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SubmitMessage, k.UnfocusMessage, k.FocusMessage, k.CancelCompletion},
		{k.SelectPrevMessage, k.SelectNextMessage, k.ScrollUp, k.ScrollDown},
		{k.EditMessage, k.Regenerate, k.PrevBranch, k.NextBranch, k.ShowBranches},
		{k.Retry, k.DismissError, k.NewChat, k.Help, k.Quit},
	}
}
