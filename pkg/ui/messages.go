package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/forkchat/pkg/events"
)

type StreamStartMsg struct {
	Messages int
}

type StreamCompletionMsg struct {
	Delta      string
	Completion string
	Chars      int
}

type StreamDoneMsg struct {
	Text            string
	ThinkingSeconds float64
	CharsPerSecond  float64
}

type StreamInterruptMsg struct {
	Text string
}

type StreamCompletionError struct {
	Code     string
	Message  string
	Status   int
	CanRetry bool
}

// LoaderChangedMsg asks the model to re-read the loader visibility.
type LoaderChangedMsg struct{}

type errMsg error

type refreshMessageMsg struct {
	GoToBottom bool
}

// Sender is implemented by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// ForwardHandler turns stream events into bubbletea messages.
type ForwardHandler struct {
	p Sender
}

func NewForwardHandler(p Sender) *ForwardHandler {
	return &ForwardHandler{p: p}
}

func (f *ForwardHandler) HandleStart(_ context.Context, e *events.EventStart) error {
	f.p.Send(StreamStartMsg{Messages: e.Messages})
	return nil
}

func (f *ForwardHandler) HandlePartialCompletion(_ context.Context, e *events.EventPartialCompletion) error {
	f.p.Send(StreamCompletionMsg{Delta: e.Delta, Completion: e.Completion, Chars: e.Chars})
	return nil
}

func (f *ForwardHandler) HandleFinal(_ context.Context, e *events.EventFinal) error {
	f.p.Send(StreamDoneMsg{
		Text:            e.Text,
		ThinkingSeconds: e.ThinkingSeconds(),
		CharsPerSecond:  e.CharsPerSecond,
	})
	return nil
}

func (f *ForwardHandler) HandleError(_ context.Context, e *events.EventError) error {
	msg := e.Message
	if msg == "" {
		msg = e.ErrorString
	}
	f.p.Send(StreamCompletionError{Code: e.Code, Message: msg, Status: e.Status, CanRetry: e.CanRetry})
	return nil
}

func (f *ForwardHandler) HandleInterrupt(_ context.Context, e *events.EventInterrupt) error {
	f.p.Send(StreamInterruptMsg{Text: e.Text})
	return nil
}

var _ events.ChatEventHandler = (*ForwardHandler)(nil)
