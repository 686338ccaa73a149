package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/pkg/errors"
)

// Conversation is a stored conversation as exchanged with a remote store.
type Conversation struct {
	ID        string             `json:"id"`
	Tree      *conversation.Tree `json:"conversation_tree"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Summary describes a stored conversation without its tree.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Nodes     int       `json:"nodes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RemoteStore mirrors conversations outside the local cache. Lookups of
// unknown ids fail with ErrNotFound.
type RemoteStore interface {
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	SaveConversation(ctx context.Context, id string, tree *conversation.Tree) error
	ListConversations(ctx context.Context) ([]Summary, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Title is the preview of the first user message of the active path.
func Title(tree *conversation.Tree) string {
	for _, m := range tree.CurrentMessages() {
		if m.Role == conversation.RoleUser {
			return conversation.Preview(m.Content, conversation.PreviewWidth)
		}
	}
	return ""
}

func Summarize(c *Conversation) Summary {
	return Summary{
		ID:        c.ID,
		Title:     Title(c.Tree),
		Nodes:     c.Tree.Len(),
		UpdatedAt: c.UpdatedAt,
	}
}

// SortSummaries orders summaries most recently updated first.
func SortSummaries(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].UpdatedAt.After(s[j].UpdatedAt)
	})
}

// MemoryStore is an in-process RemoteStore.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]Conversation
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: map[string]Conversation{}, now: time.Now}
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "conversation %s", id)
	}
	return &c, nil
}

func (m *MemoryStore) SaveConversation(_ context.Context, id string, tree *conversation.Tree) error {
	if id == "" {
		return errors.New("conversation id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[id] = Conversation{ID: id, Tree: tree, UpdatedAt: m.now().UTC()}
	return nil
}

func (m *MemoryStore) ListConversations(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]Summary, 0, len(m.convs))
	for _, c := range m.convs {
		c := c
		ret = append(ret, Summarize(&c))
	}
	SortSummaries(ret)
	return ret, nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return errors.Wrapf(ErrNotFound, "conversation %s", id)
	}
	delete(m.convs, id)
	return nil
}

var _ RemoteStore = (*MemoryStore)(nil)
