package persistence

import (
	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	treeKeySuffix           = ":tree"
	messagesKeySuffix       = ":messages"
	conversationIDKeySuffix = ":conversation-id"
)

// Adapter stores a session's conversation in the local cache as two blobs:
// the serialized tree and the flat message list of the active path, the
// format used before conversations were trees.
type Adapter struct {
	cache   Cache
	session string
}

func NewAdapter(cache Cache, session string) *Adapter {
	if session == "" {
		session = "default"
	}
	return &Adapter{cache: cache, session: session}
}

func (a *Adapter) TreeKey() string           { return a.session + treeKeySuffix }
func (a *Adapter) MessagesKey() string       { return a.session + messagesKeySuffix }
func (a *Adapter) ConversationIDKey() string { return a.session + conversationIDKeySuffix }

// Snapshot writes both blobs for tree.
func (a *Adapter) Snapshot(tree *conversation.Tree) error {
	text, err := conversation.Serialize(tree)
	if err != nil {
		return err
	}
	msgs, err := conversation.EncodeMessages(tree.CurrentMessages())
	if err != nil {
		return err
	}
	if err := a.cache.Set(a.TreeKey(), text); err != nil {
		return err
	}
	return a.cache.Set(a.MessagesKey(), msgs)
}

// Load restores the cached tree. The tree blob wins; if only the legacy
// message list exists it is migrated into a linear tree. Corrupt blobs are
// logged and yield an empty tree. Only cache failures are returned.
func (a *Adapter) Load() (*conversation.Tree, error) {
	text, err := a.cache.Get(a.TreeKey())
	switch {
	case err == nil:
		tree, err := conversation.Deserialize(text)
		if err != nil {
			log.Warn().Err(err).Str("session", a.session).Msg("Cached conversation tree is corrupt, starting empty")
			return conversation.New(), nil
		}
		return tree, nil
	case !errors.Is(err, ErrNotFound):
		return conversation.New(), err
	}

	legacy, err := a.cache.Get(a.MessagesKey())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return conversation.New(), nil
		}
		return conversation.New(), err
	}
	msgs, err := conversation.DecodeMessages(legacy)
	if err != nil {
		log.Warn().Err(err).Str("session", a.session).Msg("Cached message list is corrupt, starting empty")
		return conversation.New(), nil
	}
	log.Info().Str("session", a.session).Int("messages", len(msgs)).Msg("Migrated flat message list into a conversation tree")
	return conversation.FromMessages(msgs), nil
}

func (a *Adapter) SaveConversationID(id string) error {
	return a.cache.Set(a.ConversationIDKey(), id)
}

// ConversationID returns the cached conversation id, or "" if none.
func (a *Adapter) ConversationID() (string, error) {
	id, err := a.cache.Get(a.ConversationIDKey())
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return id, err
}

// Clear removes every blob of the session.
func (a *Adapter) Clear() error {
	for _, k := range []string{a.TreeKey(), a.MessagesKey(), a.ConversationIDKey()} {
		if err := a.cache.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
