package persistence

import (
	"context"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/loader"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAutosaveDelay = 2 * time.Second
	defaultSaveTimeout   = 10 * time.Second
)

// Autosaver mirrors a conversation to a RemoteStore once it stopped changing
// for the configured delay. Saves are fire-and-forget: failures are logged
// and never retried.
type Autosaver struct {
	remote   RemoteStore
	debounce *loader.Debounce
	timeout  time.Duration
	onSaved  func(id string, err error)
}

type AutosaveOption func(*Autosaver)

func WithSaveTimeout(d time.Duration) AutosaveOption {
	return func(a *Autosaver) {
		a.timeout = d
	}
}

// WithOnSaved is called after every save attempt.
func WithOnSaved(f func(id string, err error)) AutosaveOption {
	return func(a *Autosaver) {
		a.onSaved = f
	}
}

func NewAutosaver(remote RemoteStore, clock loader.Clock, delay time.Duration, opts ...AutosaveOption) *Autosaver {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	ret := &Autosaver{
		remote:   remote,
		debounce: loader.NewDebounce(clock, delay),
		timeout:  defaultSaveTimeout,
	}
	for _, o := range opts {
		o(ret)
	}
	return ret
}

// Schedule replaces any pending save with one for tree. A conversation
// without user or assistant messages on its active path is not saved, and
// cancels a pending save.
func (a *Autosaver) Schedule(id string, tree *conversation.Tree) {
	if a == nil || a.remote == nil {
		return
	}
	if id == "" || !hasTurns(tree) {
		a.debounce.Stop()
		return
	}
	a.debounce.Trigger(func() {
		a.save(id, tree)
	})
}

func hasTurns(tree *conversation.Tree) bool {
	for _, m := range tree.CurrentMessages() {
		if m.Role != conversation.RoleSystem {
			return true
		}
	}
	return false
}

func (a *Autosaver) save(id string, tree *conversation.Tree) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	err := a.remote.SaveConversation(ctx, id, tree)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", id).Msg("Failed to save conversation")
	} else {
		log.Debug().Str("conversation_id", id).Int("nodes", tree.Len()).Msg("Saved conversation")
	}
	if a.onSaved != nil {
		a.onSaved(id, err)
	}
}

// Flush runs a pending save now.
func (a *Autosaver) Flush() bool {
	if a == nil || a.remote == nil {
		return false
	}
	return a.debounce.Flush()
}

// Cancel drops a pending save.
func (a *Autosaver) Cancel() {
	if a == nil || a.remote == nil {
		return
	}
	a.debounce.Stop()
}

func (a *Autosaver) Pending() bool {
	if a == nil || a.remote == nil {
		return false
	}
	return a.debounce.Pending()
}
